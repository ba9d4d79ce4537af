package sim

// Lifecycle events published on the event topic. Timestamps are the tick
// counter, which downstream consumers treat as seconds.

type startedEvent struct {
	Type          string `json:"type"`
	Timestamp     int64  `json:"timestamp"`
	JobID         string `json:"job_id"`
	MachineID     string `json:"machine_id"`
	RequiredClass string `json:"required_class"`
	StepRemaining int    `json:"step_remaining"`
	Method        string `json:"method"`
}

type stepDoneEvent struct {
	Type              string `json:"type"`
	Timestamp         int64  `json:"timestamp"`
	JobID             string `json:"job_id"`
	NextRequiredClass string `json:"next_required_class"`
}

type predictionEvent struct {
	Type      string  `json:"type"`
	Timestamp int64   `json:"timestamp"`
	MachineID string  `json:"machine_id"`
	JobID     string  `json:"job_id"`
	Reason    string  `json:"reason"`
	RiskScore float64 `json:"risk_score"`
	Threshold float64 `json:"threshold"`
}

type failedEvent struct {
	Type        string  `json:"type"`
	Timestamp   int64   `json:"timestamp"`
	MachineID   string  `json:"machine_id"`
	Class       string  `json:"class"`
	JobID       string  `json:"job_id"`
	Reason      string  `json:"reason"`
	Temperature float64 `json:"temperature"`
	Vibration   float64 `json:"vibration"`
}

type completedEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	JobID     string `json:"job_id"`
	MachineID string `json:"machine_id"`
}

// telemetryDoc is the per-tick reading published on the telemetry topic.
type telemetryDoc struct {
	Timestamp    int64   `json:"timestamp"`
	ClassName    string  `json:"class_name"`
	MachineID    string  `json:"machine_id"`
	TemperatureC float64 `json:"temperature_c"`
	VibrationRMS float64 `json:"vibration_rms_mm_s"`
	Seq          int64   `json:"seq"`
}
