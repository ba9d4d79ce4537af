// Package feed validates and classifies raw bus messages into the two typed
// records the dashboard aggregates: periodic machine snapshots and discrete
// job lifecycle events. Anything else is rejected with a sentinel error so
// the ingestion loop can drop it and keep going.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var (
	// ErrUnknownTopic marks messages from topics the classifier was not
	// configured for.
	ErrUnknownTopic = errors.New("feed: unknown topic")

	// ErrMalformed marks payloads that are not valid JSON for their topic.
	ErrMalformed = errors.New("feed: malformed payload")

	// ErrMissingKey marks payloads missing a required identifying field.
	ErrMissingKey = errors.New("feed: missing key")
)

// EventType names a lifecycle occurrence. Values outside the declared
// constants pass through unchanged so unknown types still reach the
// activity log.
type EventType string

const (
	EventStarted    EventType = "STARTED"
	EventStepDone   EventType = "STEP_DONE"
	EventPrediction EventType = "PREDICTION"
	EventFailed     EventType = "FAILED"
	EventCompleted  EventType = "COMPLETED"
)

// Message is a classified bus message, either a Snapshot or an Event.
type Message interface {
	isMessage()
}

// RepairProgress reports how far a repair has advanced, decomposed from a
// snapshot status such as "Repairing (2/5)".
type RepairProgress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// Snapshot is one machine's periodic full-state report.
type Snapshot struct {
	MachineID     string          `json:"machine_id"`
	ClassName     string          `json:"class_name"`
	Temperature   float64         `json:"temperature"`
	Vibration     float64         `json:"vibration"`
	Status        string          `json:"status"`
	Repair        *RepairProgress `json:"repair,omitempty"`
	CurrentJob    string          `json:"current_job"`
	TempThreshold float64         `json:"temp_threshold"`
	VibThreshold  float64         `json:"vib_threshold"`
	PowerKWhTotal float64         `json:"power_kwh_total"`

	// ObservedAt is the ingestion time. Publisher clocks drift, so the
	// payload timestamp is not trusted for ordering.
	ObservedAt time.Time `json:"observed_at"`
}

func (Snapshot) isMessage() {}

// Event is one discrete lifecycle occurrence for a job and/or machine.
type Event struct {
	Type      EventType `json:"type"`
	TS        int64     `json:"ts"`
	MachineID string    `json:"machine_id,omitempty"`
	JobID     string    `json:"job_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

func (Event) isMessage() {}

// Classifier routes raw topic/payload pairs to the matching record type.
type Classifier struct {
	snapshotTopic string
	eventTopic    string
}

// NewClassifier creates a Classifier for the two configured topic names.
func NewClassifier(snapshotTopic, eventTopic string) (*Classifier, error) {
	if snapshotTopic == "" {
		return nil, errors.New("snapshot topic is required")
	}
	if eventTopic == "" {
		return nil, errors.New("event topic is required")
	}
	return &Classifier{snapshotTopic: snapshotTopic, eventTopic: eventTopic}, nil
}

// Classify parses payload according to the topic it arrived on. now is the
// ingestion time; it stamps snapshots and substitutes for events that carry
// no timestamp of their own.
func (c *Classifier) Classify(topic string, payload []byte, now time.Time) (Message, error) {
	switch topic {
	case c.snapshotTopic:
		return classifySnapshot(payload, now)
	case c.eventTopic:
		return classifyEvent(payload, now)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
}

type snapshotWire struct {
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

func classifySnapshot(payload []byte, now time.Time) (Message, error) {
	var w snapshotWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.MachineID == "" {
		return nil, fmt.Errorf("%w: machine_id", ErrMissingKey)
	}

	return Snapshot{
		MachineID:     w.MachineID,
		ClassName:     w.ClassName,
		Temperature:   w.Temperature,
		Vibration:     w.Vibration,
		Status:        w.Status,
		Repair:        parseRepair(w.Status),
		CurrentJob:    w.CurrentJob,
		TempThreshold: w.TempThreshold,
		VibThreshold:  w.VibThreshold,
		PowerKWhTotal: w.PowerKWhTotal,
		ObservedAt:    now,
	}, nil
}

type eventWire struct {
	Type      string   `json:"type"`
	Timestamp *float64 `json:"timestamp"`
	MachineID string   `json:"machine_id"`
	JobID     string   `json:"job_id"`
	Reason    string   `json:"reason"`
}

func classifyEvent(payload []byte, now time.Time) (Message, error) {
	var w eventWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	// Publishers stamp events in seconds; charts and dedup work in
	// milliseconds.
	ts := now.UnixMilli()
	if w.Timestamp != nil {
		ts = int64(*w.Timestamp * 1000)
	}

	return Event{
		Type:      EventType(w.Type),
		TS:        ts,
		MachineID: w.MachineID,
		JobID:     w.JobID,
		Reason:    w.Reason,
	}, nil
}

var repairRe = regexp.MustCompile(`(?i)repairing\s*\(\s*(\d+)\s*/\s*(\d+)\s*\)`)

// parseRepair decomposes a "Repairing (d/total)" status. Statuses that do
// not match yield nil, which is not an error.
func parseRepair(status string) *RepairProgress {
	m := repairRe.FindStringSubmatch(status)
	if m == nil {
		return nil
	}
	done, _ := strconv.Atoi(m[1])
	total, _ := strconv.Atoi(m[2])
	return &RepairProgress{Done: done, Total: total}
}
