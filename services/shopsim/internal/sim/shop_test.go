package sim

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type frame struct {
	topic   string
	payload []byte
	retain  bool
}

type capturePublisher struct {
	mu     sync.Mutex
	frames []frame
}

func (c *capturePublisher) Publish(topic string, payload []byte, retain bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame{topic: topic, payload: append([]byte(nil), payload...), retain: retain})
	return nil
}

func (c *capturePublisher) onTopic(topic string) []frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []frame
	for _, f := range c.frames {
		if f.topic == topic {
			out = append(out, f)
		}
	}
	return out
}

func (c *capturePublisher) events(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, f := range c.onTopic(DefaultEventTopic) {
		var doc map[string]any
		if err := json.Unmarshal(f.payload, &doc); err != nil {
			t.Fatalf("event frame is not valid JSON: %v", err)
		}
		out = append(out, doc)
	}
	return out
}

func (c *capturePublisher) eventTypes(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, ev := range c.events(t) {
		out = append(out, ev["type"].(string))
	}
	return out
}

func (c *capturePublisher) snapshots(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, f := range c.onTopic(DefaultSnapshotTopic) {
		var doc map[string]any
		if err := json.Unmarshal(f.payload, &doc); err != nil {
			t.Fatalf("snapshot frame is not valid JSON: %v", err)
		}
		out = append(out, doc)
	}
	return out
}

func coolParams(id, class string) MachineParams {
	return MachineParams{
		ID:            id,
		Class:         class,
		TempBase:      40,
		TempThreshold: 10000,
		VibBase:       2,
		VibThreshold:  1000,
		RepairTicks:   2,
	}
}

func newTestShop(t *testing.T, pub *capturePublisher, machines ...MachineParams) *Shop {
	t.Helper()
	s, err := NewShop(Options{Machines: machines, Seed: 1}, pub, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewShop() error = %v", err)
	}
	return s
}

func TestNewShopValidation(t *testing.T) {
	machines := []MachineParams{coolParams("A_1", "A")}

	if _, err := NewShop(Options{Machines: machines}, nil, zerolog.Nop()); err == nil {
		t.Fatal("NewShop() accepted a nil publisher")
	}
	if _, err := NewShop(Options{}, &capturePublisher{}, zerolog.Nop()); err == nil {
		t.Fatal("NewShop() accepted an empty fleet")
	}
	if _, err := NewShop(Options{Machines: machines, SeedJobs: -1}, &capturePublisher{}, zerolog.Nop()); err == nil {
		t.Fatal("NewShop() accepted negative seed jobs")
	}
}

func TestSeedJobsPopulateQueues(t *testing.T) {
	pub := &capturePublisher{}
	s, err := NewShop(Options{
		Machines: []MachineParams{coolParams("A_1", "A")},
		SeedJobs: 5,
		Seed:     42,
	}, pub, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewShop() error = %v", err)
	}

	total := 0
	for _, depth := range s.QueueDepths() {
		total += depth
	}
	if total != 5 {
		t.Fatalf("queued jobs = %d, want 5", total)
	}
}

func TestSingleStepJobLifecycle(t *testing.T) {
	pub := &capturePublisher{}
	s := newTestShop(t, pub, coolParams("A_1", "A"))
	s.Enqueue(&Job{
		ID:      "JOB_1",
		TempInc: 3.0,
		VibInc:  0.8,
		Steps:   []Step{{Class: "A", Remaining: 3, PowerKW: 1.8}},
	})

	if s.Tick() {
		t.Fatal("shop drained on tick 1")
	}
	if s.Tick() {
		t.Fatal("shop drained on tick 2")
	}
	if !s.Tick() {
		t.Fatal("shop not drained on tick 3")
	}

	events := pub.events(t)
	if got := pub.eventTypes(t); !reflect.DeepEqual(got, []string{"STARTED", "COMPLETED"}) {
		t.Fatalf("event sequence = %v, want [STARTED COMPLETED]", got)
	}

	started := events[0]
	if started["timestamp"].(float64) != 1 ||
		started["job_id"] != "JOB_1" ||
		started["machine_id"] != "A_1" ||
		started["required_class"] != "A" ||
		started["step_remaining"].(float64) != 3 ||
		started["method"] != "IHA" {
		t.Fatalf("STARTED payload wrong: %v", started)
	}
	completed := events[1]
	if completed["timestamp"].(float64) != 3 || completed["job_id"] != "JOB_1" || completed["machine_id"] != "A_1" {
		t.Fatalf("COMPLETED payload wrong: %v", completed)
	}

	statusFrames := pub.onTopic(DefaultSnapshotTopic)
	if len(statusFrames) != 3 {
		t.Fatalf("snapshot frames = %d, want 3", len(statusFrames))
	}
	for _, f := range statusFrames {
		if !f.retain {
			t.Fatal("snapshot frame not retained")
		}
	}

	telemetry := pub.onTopic(DefaultTelemetryTopic)
	if len(telemetry) != 3 {
		t.Fatalf("telemetry frames = %d, want 3", len(telemetry))
	}
	var reading map[string]any
	if err := json.Unmarshal(telemetry[0].payload, &reading); err != nil {
		t.Fatalf("telemetry frame is not valid JSON: %v", err)
	}
	if reading["timestamp"].(float64) != 1 || reading["seq"].(float64) != 1 {
		t.Fatalf("telemetry tick fields wrong: %v", reading)
	}
	if telemetry[0].retain {
		t.Fatal("telemetry frame retained")
	}

	if s.Completed() != 1 {
		t.Fatalf("completed = %d, want 1", s.Completed())
	}
}

func TestMultiStepJobTraversesClasses(t *testing.T) {
	pub := &capturePublisher{}
	s := newTestShop(t, pub, coolParams("A_1", "A"), coolParams("B_1", "B"))
	s.Enqueue(&Job{
		ID:      "JOB_1",
		TempInc: 3.0,
		VibInc:  0.8,
		Steps: []Step{
			{Class: "A", Remaining: 2, PowerKW: 1.8},
			{Class: "B", Remaining: 2, PowerKW: 1.8},
		},
	})

	for tick := 1; tick <= 3; tick++ {
		if s.Tick() {
			t.Fatalf("shop drained on tick %d", tick)
		}
	}
	if !s.Tick() {
		t.Fatal("shop not drained on tick 4")
	}

	events := pub.events(t)
	want := []string{"STARTED", "STEP_DONE", "STARTED", "COMPLETED"}
	if got := pub.eventTypes(t); !reflect.DeepEqual(got, want) {
		t.Fatalf("event sequence = %v, want %v", got, want)
	}

	if events[0]["machine_id"] != "A_1" {
		t.Fatalf("first start on %v, want A_1", events[0]["machine_id"])
	}
	stepDone := events[1]
	if stepDone["timestamp"].(float64) != 2 || stepDone["next_required_class"] != "B" {
		t.Fatalf("STEP_DONE payload wrong: %v", stepDone)
	}
	if events[2]["machine_id"] != "B_1" || events[2]["step_remaining"].(float64) != 2 {
		t.Fatalf("second start wrong: %v", events[2])
	}
	if events[3]["machine_id"] != "B_1" {
		t.Fatalf("completion on %v, want B_1", events[3]["machine_id"])
	}

	if frames := pub.onTopic(DefaultSnapshotTopic); len(frames) != 8 {
		t.Fatalf("snapshot frames = %d, want 8 (2 machines x 4 ticks)", len(frames))
	}
}

func TestFailureRequeuesFrontAndRepairs(t *testing.T) {
	pub := &capturePublisher{}
	s := newTestShop(t, pub, MachineParams{
		ID:            "A_1",
		Class:         "A",
		TempBase:      10,
		TempThreshold: 15,
		VibBase:       2,
		VibThreshold:  1000,
		RepairTicks:   2,
	})

	// Minimum per-tick gain is 5.0, so the machine is guaranteed to fail
	// on its first busy tick while staying under the prediction cutoff
	// when idle (10/15 = 0.67).
	s.Enqueue(&Job{ID: "JOB_1", TempInc: 6.0, VibInc: 0.5, Steps: []Step{{Class: "A", Remaining: 3, PowerKW: 4.3}}})
	s.Enqueue(&Job{ID: "JOB_2", TempInc: 6.0, VibInc: 0.5, Steps: []Step{{Class: "A", Remaining: 5, PowerKW: 4.3}}})

	for tick := 1; tick <= 4; tick++ {
		if s.Tick() {
			t.Fatalf("shop drained on tick %d", tick)
		}
	}

	want := []string{"STARTED", "FAILED", "STARTED", "FAILED"}
	if got := pub.eventTypes(t); !reflect.DeepEqual(got, want) {
		t.Fatalf("event sequence = %v, want %v", got, want)
	}

	events := pub.events(t)
	failed := events[1]
	if failed["machine_id"] != "A_1" ||
		failed["class"] != "A" ||
		failed["job_id"] != "JOB_1" ||
		failed["reason"] != "threshold_exceeded" {
		t.Fatalf("FAILED payload wrong: %v", failed)
	}
	if failed["temperature"].(float64) < 15 {
		t.Fatalf("failure temperature %v below threshold", failed["temperature"])
	}
	if events[2]["job_id"] != "JOB_1" {
		t.Fatalf("requeued job lost front position: second start was %v", events[2]["job_id"])
	}

	snaps := pub.snapshots(t)
	byTick := make(map[float64]map[string]any, len(snaps))
	for _, doc := range snaps {
		byTick[doc["timestamp"].(float64)] = doc
	}
	if got := byTick[1]["status"]; got != "Repairing (0/2)" {
		t.Fatalf("tick 1 status = %v, want Repairing (0/2)", got)
	}
	if got := byTick[1]["current_job"]; got != "REPAIR" {
		t.Fatalf("tick 1 current_job = %v, want REPAIR", got)
	}
	if got := byTick[2]["status"]; got != "Repairing (1/2)" {
		t.Fatalf("tick 2 status = %v, want Repairing (1/2)", got)
	}
	if got := byTick[3]["status"]; got != "Operational" {
		t.Fatalf("tick 3 status = %v, want Operational", got)
	}
	if got := byTick[3]["current_job"]; got != "IDLE" {
		t.Fatalf("tick 3 current_job = %v, want IDLE", got)
	}
}

func TestPredictionPreemptsNearLimit(t *testing.T) {
	pub := &capturePublisher{}
	s := newTestShop(t, pub, MachineParams{
		ID:            "A_1",
		Class:         "A",
		TempBase:      80,
		TempThreshold: 100,
		VibBase:       2,
		VibThreshold:  1000,
		RepairTicks:   1,
	})
	s.Enqueue(&Job{ID: "JOB_1", TempInc: 3.0, VibInc: 0.8, Steps: []Step{{Class: "A", Remaining: 4, PowerKW: 1.8}}})

	if s.Tick() {
		t.Fatal("shop drained on tick 1")
	}

	want := []string{"STARTED", "PREDICTION"}
	if got := pub.eventTypes(t); !reflect.DeepEqual(got, want) {
		t.Fatalf("event sequence = %v, want %v", got, want)
	}

	prediction := pub.events(t)[1]
	if prediction["machine_id"] != "A_1" ||
		prediction["job_id"] != "JOB_1" ||
		prediction["reason"] != "will_fail" {
		t.Fatalf("PREDICTION payload wrong: %v", prediction)
	}
	if prediction["risk_score"].(float64) != 0.8 {
		t.Fatalf("risk_score = %v, want 0.8", prediction["risk_score"])
	}
	if prediction["threshold"].(float64) != 0.8 {
		t.Fatalf("threshold = %v, want 0.8", prediction["threshold"])
	}

	if got := s.Queued("A"); !reflect.DeepEqual(got, []string{"JOB_1"}) {
		t.Fatalf("queue after preemption = %v, want [JOB_1]", got)
	}
	if !s.machines[0].Idle() {
		t.Fatal("machine not idle after its one-tick preventive repair")
	}
}

func TestTickDrainedImmediately(t *testing.T) {
	pub := &capturePublisher{}
	s := newTestShop(t, pub, coolParams("A_1", "A"))

	if !s.Tick() {
		t.Fatal("empty shop not drained on first tick")
	}
	if got := len(pub.events(t)); got != 0 {
		t.Fatalf("empty shop published %d events", got)
	}
	if got := len(pub.onTopic(DefaultSnapshotTopic)); got != 1 {
		t.Fatalf("snapshot frames = %d, want 1", got)
	}
}

func TestRunDrainsAndStops(t *testing.T) {
	pub := &capturePublisher{}
	s := newTestShop(t, pub, coolParams("A_1", "A"))
	s.Enqueue(&Job{ID: "JOB_1", TempInc: 3.0, VibInc: 0.8, Steps: []Step{{Class: "A", Remaining: 1, PowerKW: 1.8}}})

	if err := s.Run(context.Background(), time.Millisecond, 0); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if s.Completed() != 1 {
		t.Fatalf("completed = %d, want 1", s.Completed())
	}
	if s.Clock() != 1 {
		t.Fatalf("clock = %d, want 1", s.Clock())
	}
}

func TestRunHonorsContext(t *testing.T) {
	pub := &capturePublisher{}
	s := newTestShop(t, pub, coolParams("A_1", "A"))
	s.Enqueue(&Job{ID: "JOB_1", TempInc: 3.0, VibInc: 0.8, Steps: []Step{{Class: "A", Remaining: 17, PowerKW: 1.8}}})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx, time.Millisecond, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want deadline exceeded", err)
	}
}

func TestRunTickLimit(t *testing.T) {
	pub := &capturePublisher{}
	s := newTestShop(t, pub, coolParams("A_1", "A"))
	s.Enqueue(&Job{ID: "JOB_1", TempInc: 3.0, VibInc: 0.8, Steps: []Step{{Class: "A", Remaining: 17, PowerKW: 1.8}}})

	if err := s.Run(context.Background(), time.Millisecond, 3); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if s.Clock() != 3 {
		t.Fatalf("clock = %d, want 3", s.Clock())
	}
}

func TestRunRejectsZeroInterval(t *testing.T) {
	pub := &capturePublisher{}
	s := newTestShop(t, pub, coolParams("A_1", "A"))
	if err := s.Run(context.Background(), 0, 1); err == nil {
		t.Fatal("Run() accepted a zero tick interval")
	}
}
