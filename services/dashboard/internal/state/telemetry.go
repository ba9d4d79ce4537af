// Package state holds the dashboard's in-memory projections: per-machine
// telemetry with full sample history, prediction/failure markers, and the
// bounded activity log. Stores are plain single-owner structures; the
// aggregator serializes access to them.
package state

import (
	"sort"

	"floorsight/services/dashboard/internal/feed"
)

// HistorySample is one charted telemetry point.
type HistorySample struct {
	TS          int64   `json:"ts"`
	Temperature float64 `json:"temperature"`
	Vibration   float64 `json:"vibration"`
}

// TelemetryStore keeps the latest snapshot and the sample history for every
// machine seen on the feed.
type TelemetryStore struct {
	historyCap int
	latest     map[string]feed.Snapshot
	history    map[string][]HistorySample
}

// NewTelemetryStore creates an empty store. historyCap bounds each machine's
// history to its most recent entries; zero keeps history unbounded.
func NewTelemetryStore(historyCap int) *TelemetryStore {
	return &TelemetryStore{
		historyCap: historyCap,
		latest:     make(map[string]feed.Snapshot),
		history:    make(map[string][]HistorySample),
	}
}

// UpsertSnapshot replaces the machine's latest snapshot and folds the sample
// into its history. History stays sorted by timestamp; a sample whose
// timestamp is already present overwrites that entry in place.
func (s *TelemetryStore) UpsertSnapshot(snap feed.Snapshot) {
	s.latest[snap.MachineID] = snap

	sample := HistorySample{
		TS:          snap.ObservedAt.UnixMilli(),
		Temperature: snap.Temperature,
		Vibration:   snap.Vibration,
	}

	h := s.history[snap.MachineID]
	i := sort.Search(len(h), func(j int) bool { return h[j].TS >= sample.TS })
	switch {
	case i < len(h) && h[i].TS == sample.TS:
		h[i] = sample
	case i == len(h):
		h = append(h, sample)
	default:
		h = append(h, HistorySample{})
		copy(h[i+1:], h[i:])
		h[i] = sample
	}

	if s.historyCap > 0 && len(h) > s.historyCap {
		h = h[len(h)-s.historyCap:]
	}
	s.history[snap.MachineID] = h
}

// Latest returns the most recent snapshot for the machine, if any.
func (s *TelemetryStore) Latest(machineID string) (feed.Snapshot, bool) {
	snap, ok := s.latest[machineID]
	return snap, ok
}

// History returns a copy of the machine's samples, sorted ascending by
// timestamp. Unknown machines yield an empty slice.
func (s *TelemetryStore) History(machineID string) []HistorySample {
	h := s.history[machineID]
	out := make([]HistorySample, len(h))
	copy(out, h)
	return out
}

// Machines returns the ids of all machines with a snapshot, sorted.
func (s *TelemetryStore) Machines() []string {
	ids := make([]string, 0, len(s.latest))
	for id := range s.latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
