package sim

import (
	"math/rand"
)

// Intensity is a load profile a job places on the machine working it.
type Intensity struct {
	Name    string
	TempInc float64
	VibInc  float64
	PowerKW float64
}

var intensities = []Intensity{
	{Name: "light", TempInc: 3.0, VibInc: 0.8, PowerKW: 1.8},
	{Name: "moderate", TempInc: 4.5, VibInc: 1.2, PowerKW: 2.6},
	{Name: "heavy", TempInc: 5.5, VibInc: 1.5, PowerKW: 3.5},
	{Name: "stress", TempInc: 6.0, VibInc: 2.0, PowerKW: 4.3},
}

var routePatterns = [][]string{
	{"A", "B"},
	{"A", "B", "C"},
	{"C", "A"},
	{"B", "D"},
	{"A", "C"},
	{"B", "C"},
	{"A", "A", "B"},
}

const (
	minJobTicks  = 8
	maxJobTicks  = 18
	minReduction = 0.2
	maxReduction = 0.6
)

// Step is one stage of a job's route through the shop.
type Step struct {
	Class     string
	Remaining int
	PowerKW   float64
}

// Job is a unit of work routed through machine classes step by step.
// A job is done once every step of its route has been worked off.
type Job struct {
	ID        string
	Intensity string
	TempInc   float64
	VibInc    float64
	PowerKW   float64
	Reduction float64

	Steps       []Step
	CurrentStep int
	EnergyUsed  float64
}

// NewRandomJob builds a job with a random route, duration and intensity.
// The caller supplies the identifier so numbering stays with the shop.
func NewRandomJob(rng *rand.Rand, id string) *Job {
	in := intensities[rng.Intn(len(intensities))]
	pattern := routePatterns[rng.Intn(len(routePatterns))]

	total := minJobTicks + rng.Intn(maxJobTicks-minJobTicks+1)
	ticks := make([]int, len(pattern))
	for i := range ticks {
		ticks[i] = 2
	}
	for extra := total - 2*len(pattern); extra > 0; extra-- {
		ticks[rng.Intn(len(ticks))]++
	}

	steps := make([]Step, len(pattern))
	for i, class := range pattern {
		steps[i] = Step{
			Class:     class,
			Remaining: ticks[i],
			PowerKW:   in.PowerKW * (0.8 + rng.Float64()*0.4),
		}
	}

	return &Job{
		ID:        id,
		Intensity: in.Name,
		TempInc:   in.TempInc,
		VibInc:    in.VibInc,
		PowerKW:   in.PowerKW,
		Reduction: minReduction + rng.Float64()*(maxReduction-minReduction),
		Steps:     steps,
	}
}

// Done reports whether every step of the route has been worked off.
func (j *Job) Done() bool {
	return j.CurrentStep >= len(j.Steps)
}

// RequiredClass is the machine class the current step needs, or "" once done.
func (j *Job) RequiredClass() string {
	if j.Done() {
		return ""
	}
	return j.Steps[j.CurrentStep].Class
}

// RemainingTicks is the work left on the current step.
func (j *Job) RemainingTicks() int {
	if j.Done() {
		return 0
	}
	return j.Steps[j.CurrentStep].Remaining
}

// CurrentPowerKW is the draw of the current step, zero once done.
func (j *Job) CurrentPowerKW() float64 {
	if j.Done() {
		return 0
	}
	return j.Steps[j.CurrentStep].PowerKW
}

// WorkOneTick burns one tick of the current step and accrues energy.
// One tick models one minute of machine time.
func (j *Job) WorkOneTick() {
	if j.Done() {
		return
	}
	step := &j.Steps[j.CurrentStep]
	step.Remaining--
	j.EnergyUsed += step.PowerKW / 60
	if step.Remaining <= 0 {
		j.CurrentStep++
	}
}
