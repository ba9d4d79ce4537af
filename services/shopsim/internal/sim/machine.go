package sim

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
)

// Outcome is what a machine reports after working one tick.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeFailed    Outcome = "FAILED"
	OutcomeStepDone  Outcome = "STEP_DONE"
	OutcomeCompleted Outcome = "COMPLETED"
)

// MachineParams are the fixed characteristics of one machine.
type MachineParams struct {
	ID            string
	Class         string
	TempBase      float64
	TempThreshold float64
	VibBase       float64
	VibThreshold  float64
	RepairTicks   int
}

// Machine works jobs of its class. Load pushes temperature and vibration
// up each tick; crossing either threshold fails the machine, which then
// spends RepairTicks recovering before readings reset to base.
type Machine struct {
	MachineParams

	Temperature   float64
	Vibration     float64
	BusyWith      *Job
	RepairingLeft int
	TotalPowerKWh float64

	rng *rand.Rand
}

// NewMachine builds a machine at its base readings.
func NewMachine(p MachineParams, rng *rand.Rand) *Machine {
	return &Machine{
		MachineParams: p,
		Temperature:   p.TempBase,
		Vibration:     p.VibBase,
		rng:           rng,
	}
}

// Operational reports whether the machine is not under repair.
func (m *Machine) Operational() bool {
	return m.RepairingLeft == 0
}

// Idle reports whether the machine can take a job.
func (m *Machine) Idle() bool {
	return m.Operational() && m.BusyWith == nil
}

// Assign hands the machine a job for its class. The wait in the queue lets
// readings settle: the excess over base drops by the job's reduction factor.
func (m *Machine) Assign(j *Job) bool {
	if !m.Idle() || j.RequiredClass() != m.Class {
		return false
	}
	if j.Reduction > 0 {
		m.Temperature -= (m.Temperature - m.TempBase) * j.Reduction
		m.Vibration -= (m.Vibration - m.VibBase) * j.Reduction
	}
	m.BusyWith = j
	return true
}

func (m *Machine) cooldown() {
	m.Temperature = math.Max(m.TempBase, m.Temperature-1.2)
	m.Vibration = math.Max(m.VibBase, m.Vibration-0.25)
}

// maybeSpike adds the occasional jolt so readings can cross a threshold
// even under light load.
func (m *Machine) maybeSpike() {
	if m.rng.Float64() < 0.07 {
		m.Temperature += 2.0 + m.rng.Float64()*4.0
	}
	if m.rng.Float64() < 0.07 {
		m.Vibration += 0.8 + m.rng.Float64()*1.2
	}
}

// Step advances the machine by one tick and reports what happened to the
// job it was working, if anything.
func (m *Machine) Step() (Outcome, *Job) {
	if m.RepairingLeft > 0 {
		m.RepairingLeft--
		if m.RepairingLeft == 0 {
			m.Temperature = m.TempBase
			m.Vibration = m.VibBase
		}
		return OutcomeNone, nil
	}

	if m.BusyWith == nil {
		m.cooldown()
		return OutcomeNone, nil
	}

	j := m.BusyWith
	m.Temperature += j.TempInc - 1.0 + m.rng.Float64()*2.4
	m.Vibration += j.VibInc - 0.4 + m.rng.Float64()*1.0
	m.TotalPowerKWh += j.CurrentPowerKW() / 60
	m.maybeSpike()

	if m.Temperature >= m.TempThreshold || m.Vibration >= m.VibThreshold {
		m.BusyWith = nil
		m.RepairingLeft = m.RepairTicks
		return OutcomeFailed, j
	}

	lastTickOfStep := j.RemainingTicks() == 1
	j.WorkOneTick()

	if j.Done() {
		m.BusyWith = nil
		return OutcomeCompleted, j
	}
	if lastTickOfStep {
		m.BusyWith = nil
		return OutcomeStepDone, j
	}
	return OutcomeNone, nil
}

// statusDoc is the retained machine snapshot published on the status topic.
type statusDoc struct {
	Timestamp     int64   `json:"timestamp"`
	MachineID     string  `json:"machine_id"`
	ClassName     string  `json:"class_name"`
	Temperature   float64 `json:"temperature"`
	Vibration     float64 `json:"vibration"`
	Status        string  `json:"status"`
	CurrentJob    string  `json:"current_job"`
	TempThreshold float64 `json:"temp_threshold"`
	VibThreshold  float64 `json:"vib_threshold"`
	PowerKWhTotal float64 `json:"power_kwh_total"`
}

// StatusJSON renders the machine's snapshot for the given tick.
// current_job is never empty: it carries the job id, REPAIR or IDLE.
func (m *Machine) StatusJSON(timestamp int64) ([]byte, error) {
	doc := statusDoc{
		Timestamp:     timestamp,
		MachineID:     m.ID,
		ClassName:     m.Class,
		Temperature:   round2(m.Temperature),
		Vibration:     round2(m.Vibration),
		TempThreshold: m.TempThreshold,
		VibThreshold:  m.VibThreshold,
		PowerKWhTotal: round3(m.TotalPowerKWh),
	}
	switch {
	case m.RepairingLeft > 0:
		doc.Status = fmt.Sprintf("Repairing (%d/%d)", m.RepairTicks-m.RepairingLeft, m.RepairTicks)
		doc.CurrentJob = "REPAIR"
	case m.BusyWith != nil:
		doc.Status = "Operational"
		doc.CurrentJob = m.BusyWith.ID
	default:
		doc.Status = "Operational"
		doc.CurrentJob = "IDLE"
	}
	return json.Marshal(doc)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
