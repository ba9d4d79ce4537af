// Package sim drives a simulated job shop: a fleet of machines grouped by
// class works randomly routed jobs, heats up under load, fails past its
// thresholds and recovers, publishing snapshots and lifecycle events to a
// message bus every tick.
package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// Topics the shop publishes on. Snapshots are retained so a dashboard
// joining late immediately sees the whole fleet.
const (
	DefaultSnapshotTopic  = "job/status"
	DefaultEventTopic     = "jobshop/status"
	DefaultTelemetryTopic = "job/telemetry"
)

const (
	defaultIHAInterval = 10

	// A busy machine running at or past this share of either threshold is
	// predicted to fail and pulled in for preventive repair.
	riskCutoff = 0.80
)

// Publisher sends encoded frames to the bus. bus.Conn satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, retain bool) error
}

// Options configure a Shop.
type Options struct {
	Machines []MachineParams

	// SeedJobs is the number of random jobs queued before the first tick.
	SeedJobs int

	// IHAInterval is the tick period of the full queue rebalance.
	// Defaults to 10.
	IHAInterval int

	// Seed fixes the random source; 0 derives one from the clock.
	Seed int64

	SnapshotTopic  string
	EventTopic     string
	TelemetryTopic string
}

// Shop owns the whole simulation: per-class job queues feed the machines,
// and every tick each machine publishes a snapshot, a telemetry reading
// and whatever lifecycle events its work produced.
//
// Shop methods are not safe for concurrent use. Run drives the shop from
// a single goroutine.
type Shop struct {
	opts Options
	pub  Publisher
	log  zerolog.Logger
	rng  *rand.Rand

	t         int64
	machines  []*Machine
	queues    map[string][]*Job
	classes   []string // queue keys in first-seen order
	nextJob   int
	completed map[string]struct{}
}

// NewShop builds a shop and seeds its queues.
func NewShop(opts Options, pub Publisher, logger zerolog.Logger) (*Shop, error) {
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	if len(opts.Machines) == 0 {
		return nil, errors.New("at least one machine is required")
	}
	if opts.SeedJobs < 0 {
		return nil, fmt.Errorf("seed jobs must be >= 0, got %d", opts.SeedJobs)
	}
	if opts.IHAInterval <= 0 {
		opts.IHAInterval = defaultIHAInterval
	}
	if opts.SnapshotTopic == "" {
		opts.SnapshotTopic = DefaultSnapshotTopic
	}
	if opts.EventTopic == "" {
		opts.EventTopic = DefaultEventTopic
	}
	if opts.TelemetryTopic == "" {
		opts.TelemetryTopic = DefaultTelemetryTopic
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	s := &Shop{
		opts:      opts,
		pub:       pub,
		log:       logger,
		rng:       rand.New(rand.NewSource(seed)),
		queues:    make(map[string][]*Job),
		completed: make(map[string]struct{}),
	}
	for _, p := range opts.Machines {
		s.machines = append(s.machines, NewMachine(p, s.rng))
	}
	for i := 0; i < opts.SeedJobs; i++ {
		s.EnqueueNew()
	}
	return s, nil
}

// EnqueueNew creates a random job and queues it for its first class.
func (s *Shop) EnqueueNew() *Job {
	s.nextJob++
	j := NewRandomJob(s.rng, fmt.Sprintf("JOB_%d", s.nextJob))
	s.Enqueue(j)
	return j
}

// Enqueue places a job at the back of the queue for its current class.
// Finished jobs are dropped.
func (s *Shop) Enqueue(j *Job) {
	if j.Done() {
		return
	}
	s.push(j.RequiredClass(), j, false)
}

func (s *Shop) push(class string, j *Job, front bool) {
	if _, ok := s.queues[class]; !ok {
		s.queues[class] = nil
		s.classes = append(s.classes, class)
	}
	if front {
		s.queues[class] = append([]*Job{j}, s.queues[class]...)
	} else {
		s.queues[class] = append(s.queues[class], j)
	}
}

// Clock is the current tick.
func (s *Shop) Clock() int64 {
	return s.t
}

// Completed reports how many jobs have finished their full route.
func (s *Shop) Completed() int {
	return len(s.completed)
}

// QueueDepths reports the number of jobs waiting per class.
func (s *Shop) QueueDepths() map[string]int {
	depths := make(map[string]int, len(s.queues))
	for class, q := range s.queues {
		depths[class] = len(q)
	}
	return depths
}

// Queued returns the ids of jobs waiting for the given class, front first.
func (s *Shop) Queued(class string) []string {
	ids := make([]string, 0, len(s.queues[class]))
	for _, j := range s.queues[class] {
		ids = append(ids, j.ID)
	}
	return ids
}

// Tick advances the simulation one step. It reports true once every
// machine is idle and all queues are drained.
func (s *Shop) Tick() bool {
	s.t++

	if s.t%int64(s.opts.IHAInterval) == 1 {
		s.reorderAll()
	}
	s.assignWork()

	for _, m := range s.machines {
		s.maybePredictFailure(m)
		outcome, j := m.Step()
		s.publishSnapshot(m)
		s.publishTelemetry(m)

		switch outcome {
		case OutcomeFailed:
			s.push(j.RequiredClass(), j, true)
			s.publishEvent(failedEvent{
				Type:        "FAILED",
				Timestamp:   s.t,
				MachineID:   m.ID,
				Class:       m.Class,
				JobID:       j.ID,
				Reason:      "threshold_exceeded",
				Temperature: round2(m.Temperature),
				Vibration:   round2(m.Vibration),
			})
			s.log.Info().
				Str("machine_id", m.ID).
				Str("job_id", j.ID).
				Float64("temperature", m.Temperature).
				Float64("vibration", m.Vibration).
				Msg("machine failed")
			s.reorderClass(m.Class)
		case OutcomeStepDone:
			next := j.RequiredClass()
			s.publishEvent(stepDoneEvent{
				Type:              "STEP_DONE",
				Timestamp:         s.t,
				JobID:             j.ID,
				NextRequiredClass: next,
			})
			s.Enqueue(j)
			s.log.Debug().Str("job_id", j.ID).Str("next_class", next).Msg("step done")
			s.reorderClass(next)
		case OutcomeCompleted:
			s.completed[j.ID] = struct{}{}
			s.publishEvent(completedEvent{
				Type:      "COMPLETED",
				Timestamp: s.t,
				JobID:     j.ID,
				MachineID: m.ID,
			})
			s.log.Info().Str("job_id", j.ID).Str("machine_id", m.ID).Msg("job completed")
		}
	}

	return s.allIdle() && s.queuesEmpty()
}

// Run ticks the shop at the given cadence until the context ends, the
// work drains, or maxTicks elapse. maxTicks <= 0 means no limit.
func (s *Shop) Run(ctx context.Context, every time.Duration, maxTicks int) error {
	if every <= 0 {
		return errors.New("tick interval must be positive")
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for ticks := 0; ; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.Tick() {
				s.log.Info().
					Int64("tick", s.t).
					Int("completed", len(s.completed)).
					Msg("all jobs completed")
				return nil
			}
			ticks++
			if maxTicks > 0 && ticks >= maxTicks {
				s.log.Info().
					Int64("tick", s.t).
					Int("completed", len(s.completed)).
					Msg("tick limit reached")
				return nil
			}
		}
	}
}

// assignWork pops the next job off each idle machine's class queue.
func (s *Shop) assignWork() {
	for _, m := range s.machines {
		if !m.Idle() {
			continue
		}
		q := s.queues[m.Class]
		if len(q) == 0 {
			continue
		}
		j := q[0]
		s.queues[m.Class] = q[1:]
		if !m.Assign(j) {
			s.push(m.Class, j, true)
			continue
		}
		s.publishEvent(startedEvent{
			Type:          "STARTED",
			Timestamp:     s.t,
			JobID:         j.ID,
			MachineID:     m.ID,
			RequiredClass: m.Class,
			StepRemaining: j.RemainingTicks(),
			Method:        "IHA",
		})
		s.log.Debug().Str("job_id", j.ID).Str("machine_id", m.ID).Msg("job assigned")
	}
}

// maybePredictFailure preempts a busy machine running close to a
// threshold: the job goes back to the front of its queue and the machine
// takes a preventive repair.
func (s *Shop) maybePredictFailure(m *Machine) {
	if m.RepairingLeft > 0 || m.BusyWith == nil {
		return
	}
	risk := 0.0
	if m.TempThreshold > 0 {
		risk = m.Temperature / m.TempThreshold
	}
	if m.VibThreshold > 0 {
		if v := m.Vibration / m.VibThreshold; v > risk {
			risk = v
		}
	}
	if risk < riskCutoff {
		return
	}

	j := m.BusyWith
	s.publishEvent(predictionEvent{
		Type:      "PREDICTION",
		Timestamp: s.t,
		MachineID: m.ID,
		JobID:     j.ID,
		Reason:    "will_fail",
		RiskScore: round3(risk),
		Threshold: riskCutoff,
	})
	s.push(j.RequiredClass(), j, true)
	m.BusyWith = nil
	m.RepairingLeft = m.RepairTicks
	s.log.Info().
		Str("machine_id", m.ID).
		Str("job_id", j.ID).
		Float64("risk", risk).
		Msg("failure predicted, preempting")
}

// reorderAll rebalances every class queue.
func (s *Shop) reorderAll() {
	for _, class := range s.classes {
		s.reorderClass(class)
	}
}

// reorderClass reorders one class queue: jobs seated by the balancer come
// first in seating order, the rest keep their relative order behind them.
// Busy machines count too, so the order anticipates upcoming capacity.
func (s *Shop) reorderClass(class string) {
	ready := s.queues[class]
	if len(ready) == 0 {
		return
	}
	var classMachines []*Machine
	for _, m := range s.machines {
		if m.Class == class {
			classMachines = append(classMachines, m)
		}
	}
	if len(classMachines) == 0 {
		return
	}

	pairs := balanceAssignments(ready, classMachines)
	if len(pairs) == 0 {
		return
	}

	seated := make(map[*Job]struct{}, len(pairs))
	order := make([]*Job, 0, len(ready))
	for _, p := range pairs {
		order = append(order, p.job)
		seated[p.job] = struct{}{}
	}
	for _, j := range ready {
		if _, ok := seated[j]; !ok {
			order = append(order, j)
		}
	}
	s.queues[class] = order
	s.log.Debug().Str("class", class).Int("jobs", len(order)).Msg("queue rebalanced")
}

func (s *Shop) allIdle() bool {
	for _, m := range s.machines {
		if !m.Idle() {
			return false
		}
	}
	return true
}

func (s *Shop) queuesEmpty() bool {
	for _, q := range s.queues {
		if len(q) > 0 {
			return false
		}
	}
	return true
}

func (s *Shop) publishSnapshot(m *Machine) {
	payload, err := m.StatusJSON(s.t)
	if err != nil {
		s.log.Error().Err(err).Str("machine_id", m.ID).Msg("encode snapshot")
		return
	}
	if err := s.pub.Publish(s.opts.SnapshotTopic, payload, true); err != nil {
		s.log.Error().Err(err).Str("topic", s.opts.SnapshotTopic).Msg("publish snapshot")
	}
}

func (s *Shop) publishTelemetry(m *Machine) {
	payload, err := json.Marshal(telemetryDoc{
		Timestamp:    s.t,
		ClassName:    m.Class,
		MachineID:    m.ID,
		TemperatureC: m.Temperature,
		VibrationRMS: m.Vibration,
		Seq:          s.t,
	})
	if err != nil {
		s.log.Error().Err(err).Str("machine_id", m.ID).Msg("encode telemetry")
		return
	}
	if err := s.pub.Publish(s.opts.TelemetryTopic, payload, false); err != nil {
		s.log.Error().Err(err).Str("topic", s.opts.TelemetryTopic).Msg("publish telemetry")
	}
}

func (s *Shop) publishEvent(ev any) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.Error().Err(err).Msg("encode lifecycle event")
		return
	}
	if err := s.pub.Publish(s.opts.EventTopic, payload, false); err != nil {
		s.log.Error().Err(err).Str("topic", s.opts.EventTopic).Msg("publish lifecycle event")
	}
}
