package sim

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"
)

func coolMachine(rng *rand.Rand) *Machine {
	return NewMachine(MachineParams{
		ID:            "A_1",
		Class:         "A",
		TempBase:      40,
		TempThreshold: 1000,
		VibBase:       2,
		VibThreshold:  500,
		RepairTicks:   3,
	}, rng)
}

func TestAssignChecksClassAndState(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m := coolMachine(rng)

	wrongClass := &Job{ID: "JOB_1", Steps: []Step{{Class: "B", Remaining: 2, PowerKW: 1}}}
	if m.Assign(wrongClass) {
		t.Fatal("machine accepted a job for another class")
	}

	finished := &Job{ID: "JOB_2", Steps: []Step{{Class: "A", Remaining: 2, PowerKW: 1}}, CurrentStep: 1}
	if m.Assign(finished) {
		t.Fatal("machine accepted a finished job")
	}

	ok := &Job{ID: "JOB_3", Steps: []Step{{Class: "A", Remaining: 2, PowerKW: 1}}}
	if !m.Assign(ok) {
		t.Fatal("machine rejected a valid job")
	}
	if m.BusyWith != ok {
		t.Fatal("machine did not record the assigned job")
	}

	second := &Job{ID: "JOB_4", Steps: []Step{{Class: "A", Remaining: 2, PowerKW: 1}}}
	if m.Assign(second) {
		t.Fatal("busy machine accepted a second job")
	}

	repairing := coolMachine(rng)
	repairing.RepairingLeft = 1
	if repairing.Assign(second) {
		t.Fatal("repairing machine accepted a job")
	}
}

func TestAssignCoolsByReduction(t *testing.T) {
	m := coolMachine(rand.New(rand.NewSource(1)))
	m.Temperature = 60
	m.Vibration = 4

	j := &Job{ID: "JOB_1", Reduction: 0.5, Steps: []Step{{Class: "A", Remaining: 2, PowerKW: 1}}}
	if !m.Assign(j) {
		t.Fatal("assign failed")
	}
	if m.Temperature != 50 {
		t.Fatalf("temperature after reduction = %.2f, want 50", m.Temperature)
	}
	if m.Vibration != 3 {
		t.Fatalf("vibration after reduction = %.2f, want 3", m.Vibration)
	}
}

func TestIdleCooldownFloorsAtBase(t *testing.T) {
	m := coolMachine(rand.New(rand.NewSource(1)))
	m.Temperature = 60
	m.Vibration = 4

	if outcome, _ := m.Step(); outcome != OutcomeNone {
		t.Fatalf("idle step outcome = %q, want none", outcome)
	}
	if math.Abs(m.Temperature-58.8) > 1e-9 {
		t.Fatalf("temperature after cooldown = %.4f, want 58.8", m.Temperature)
	}
	if math.Abs(m.Vibration-3.75) > 1e-9 {
		t.Fatalf("vibration after cooldown = %.4f, want 3.75", m.Vibration)
	}

	m.Temperature = 40.5
	m.Vibration = 2.1
	m.Step()
	if m.Temperature != 40 {
		t.Fatalf("temperature cooled below base: %.4f", m.Temperature)
	}
	if m.Vibration != 2 {
		t.Fatalf("vibration cooled below base: %.4f", m.Vibration)
	}
}

func TestBusyStepHeatsAndConsumes(t *testing.T) {
	m := coolMachine(rand.New(rand.NewSource(5)))
	j := &Job{
		ID:      "JOB_1",
		TempInc: 4.5,
		VibInc:  1.2,
		Steps:   []Step{{Class: "A", Remaining: 5, PowerKW: 2.6}},
	}
	if !m.Assign(j) {
		t.Fatal("assign failed")
	}

	outcome, data := m.Step()
	if outcome != OutcomeNone || data != nil {
		t.Fatalf("mid-step outcome = %q, want none", outcome)
	}

	tempDelta := m.Temperature - 40
	if tempDelta < 3.5 || tempDelta > 4.5+1.4+6.0 {
		t.Fatalf("temperature delta %.3f outside load bounds", tempDelta)
	}
	vibDelta := m.Vibration - 2
	if vibDelta < 0.8 || vibDelta > 1.2+0.6+2.0 {
		t.Fatalf("vibration delta %.3f outside load bounds", vibDelta)
	}

	if got := j.RemainingTicks(); got != 4 {
		t.Fatalf("remaining ticks = %d, want 4", got)
	}
	wantEnergy := 2.6 / 60
	if math.Abs(m.TotalPowerKWh-wantEnergy) > 1e-9 {
		t.Fatalf("machine energy = %.5f, want %.5f", m.TotalPowerKWh, wantEnergy)
	}
	if math.Abs(j.EnergyUsed-wantEnergy) > 1e-9 {
		t.Fatalf("job energy = %.5f, want %.5f", j.EnergyUsed, wantEnergy)
	}
}

func TestStepFailsPastThreshold(t *testing.T) {
	m := NewMachine(MachineParams{
		ID:            "A_1",
		Class:         "A",
		TempBase:      10,
		TempThreshold: 15,
		VibBase:       2,
		VibThreshold:  500,
		RepairTicks:   2,
	}, rand.New(rand.NewSource(2)))

	// Minimum per-tick gain for this load is 5.0, so the first busy tick
	// is guaranteed to reach the threshold.
	j := &Job{ID: "JOB_1", TempInc: 6.0, VibInc: 0.5, Steps: []Step{{Class: "A", Remaining: 3, PowerKW: 4.3}}}
	if !m.Assign(j) {
		t.Fatal("assign failed")
	}

	outcome, failed := m.Step()
	if outcome != OutcomeFailed {
		t.Fatalf("outcome = %q, want FAILED", outcome)
	}
	if failed != j {
		t.Fatal("failed job not returned")
	}
	if m.BusyWith != nil {
		t.Fatal("failed machine still holds the job")
	}
	if m.RepairingLeft != 2 {
		t.Fatalf("repairing left = %d, want 2", m.RepairingLeft)
	}
	if got := j.RemainingTicks(); got != 3 {
		t.Fatalf("failed job lost progress: remaining = %d, want 3", got)
	}
}

func TestRepairCountdownResetsReadings(t *testing.T) {
	m := coolMachine(rand.New(rand.NewSource(1)))
	m.Temperature = 70
	m.Vibration = 9
	m.RepairingLeft = 2

	if outcome, data := m.Step(); outcome != OutcomeNone || data != nil {
		t.Fatalf("repairing step outcome = %q, want none", outcome)
	}
	if m.RepairingLeft != 1 {
		t.Fatalf("repairing left = %d, want 1", m.RepairingLeft)
	}
	if m.Temperature != 70 || m.Vibration != 9 {
		t.Fatal("readings reset before repair finished")
	}

	m.Step()
	if m.RepairingLeft != 0 {
		t.Fatalf("repairing left = %d, want 0", m.RepairingLeft)
	}
	if m.Temperature != 40 || m.Vibration != 2 {
		t.Fatalf("readings not reset to base: temp=%.1f vib=%.1f", m.Temperature, m.Vibration)
	}
	if !m.Idle() {
		t.Fatal("repaired machine not idle")
	}
}

func TestStepDoneThenCompleted(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	j := &Job{
		ID:      "JOB_1",
		TempInc: 3.0,
		VibInc:  0.8,
		Steps: []Step{
			{Class: "A", Remaining: 1, PowerKW: 1.8},
			{Class: "B", Remaining: 2, PowerKW: 1.8},
		},
	}

	mA := coolMachine(rng)
	if !mA.Assign(j) {
		t.Fatal("assign to A failed")
	}
	outcome, got := mA.Step()
	if outcome != OutcomeStepDone || got != j {
		t.Fatalf("outcome = %q, want STEP_DONE with the job", outcome)
	}
	if mA.BusyWith != nil {
		t.Fatal("machine kept the job after its step finished")
	}
	if got := j.RequiredClass(); got != "B" {
		t.Fatalf("next class = %q, want B", got)
	}

	mB := NewMachine(MachineParams{
		ID:            "B_1",
		Class:         "B",
		TempBase:      50,
		TempThreshold: 1000,
		VibBase:       4,
		VibThreshold:  500,
		RepairTicks:   5,
	}, rng)
	if !mB.Assign(j) {
		t.Fatal("assign to B failed")
	}
	if outcome, _ := mB.Step(); outcome != OutcomeNone {
		t.Fatalf("outcome mid step = %q, want none", outcome)
	}
	outcome, got = mB.Step()
	if outcome != OutcomeCompleted || got != j {
		t.Fatalf("outcome = %q, want COMPLETED with the job", outcome)
	}
	if !j.Done() {
		t.Fatal("completed job not done")
	}
	if mB.BusyWith != nil {
		t.Fatal("machine kept a completed job")
	}
}

func TestStatusJSON(t *testing.T) {
	m := NewMachine(MachineParams{
		ID:            "C_2",
		Class:         "C",
		TempBase:      31,
		TempThreshold: 81,
		VibBase:       3.2,
		VibThreshold:  10.0,
		RepairTicks:   4,
	}, rand.New(rand.NewSource(1)))
	m.Temperature = 45.678
	m.Vibration = 3.14159
	m.TotalPowerKWh = 1.23456

	decode := func(t *testing.T, ts int64) map[string]any {
		t.Helper()
		payload, err := m.StatusJSON(ts)
		if err != nil {
			t.Fatalf("StatusJSON() error = %v", err)
		}
		var doc map[string]any
		if err := json.Unmarshal(payload, &doc); err != nil {
			t.Fatalf("snapshot is not valid JSON: %v", err)
		}
		return doc
	}

	doc := decode(t, 12)
	if doc["timestamp"].(float64) != 12 {
		t.Fatalf("timestamp = %v, want 12", doc["timestamp"])
	}
	if doc["machine_id"] != "C_2" || doc["class_name"] != "C" {
		t.Fatalf("identity fields wrong: %v", doc)
	}
	if doc["temperature"].(float64) != 45.68 {
		t.Fatalf("temperature = %v, want 45.68", doc["temperature"])
	}
	if doc["vibration"].(float64) != 3.14 {
		t.Fatalf("vibration = %v, want 3.14", doc["vibration"])
	}
	if doc["power_kwh_total"].(float64) != 1.235 {
		t.Fatalf("power_kwh_total = %v, want 1.235", doc["power_kwh_total"])
	}
	if doc["temp_threshold"].(float64) != 81 || doc["vib_threshold"].(float64) != 10 {
		t.Fatalf("thresholds wrong: %v", doc)
	}
	if doc["status"] != "Operational" || doc["current_job"] != "IDLE" {
		t.Fatalf("idle machine reported %v / %v", doc["status"], doc["current_job"])
	}

	m.BusyWith = &Job{ID: "JOB_3", Steps: []Step{{Class: "C", Remaining: 1, PowerKW: 1}}}
	doc = decode(t, 13)
	if doc["status"] != "Operational" || doc["current_job"] != "JOB_3" {
		t.Fatalf("busy machine reported %v / %v", doc["status"], doc["current_job"])
	}

	m.BusyWith = nil
	m.RepairingLeft = 3
	doc = decode(t, 14)
	if doc["status"] != "Repairing (1/4)" || doc["current_job"] != "REPAIR" {
		t.Fatalf("repairing machine reported %v / %v", doc["status"], doc["current_job"])
	}
}
