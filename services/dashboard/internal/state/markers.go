package state

import "sort"

// MarkerKind selects which per-machine marker list an event lands in.
type MarkerKind string

const (
	MarkerPrediction MarkerKind = "prediction"
	MarkerFailure    MarkerKind = "failure"
)

// ChartMarker is a marker aligned to a charted history sample. TS is the
// sample's timestamp, not the event's, so the point lands on the curve.
type ChartMarker struct {
	TS          int64   `json:"ts"`
	Temperature float64 `json:"temperature"`
}

// MarkerIndex records prediction and failure event timestamps per machine.
type MarkerIndex struct {
	minGap      int64
	predictions map[string][]int64
	failures    map[string][]int64
}

// NewMarkerIndex creates an empty index. minGapMS is the smallest distance
// between two displayed markers; closer ones are suppressed at read time.
func NewMarkerIndex(minGapMS int64) *MarkerIndex {
	return &MarkerIndex{
		minGap:      minGapMS,
		predictions: make(map[string][]int64),
		failures:    make(map[string][]int64),
	}
}

// Record appends one marker timestamp to the machine's list for kind.
func (m *MarkerIndex) Record(kind MarkerKind, machineID string, ts int64) {
	switch kind {
	case MarkerPrediction:
		m.predictions[machineID] = append(m.predictions[machineID], ts)
	case MarkerFailure:
		m.failures[machineID] = append(m.failures[machineID], ts)
	}
}

// Timestamps returns a copy of the raw recorded timestamps for kind.
func (m *MarkerIndex) Timestamps(kind MarkerKind, machineID string) []int64 {
	var ts []int64
	switch kind {
	case MarkerPrediction:
		ts = m.predictions[machineID]
	case MarkerFailure:
		ts = m.failures[machineID]
	}
	out := make([]int64, len(ts))
	copy(out, ts)
	return out
}

// ForChart projects the machine's markers of the given kind onto history.
// Timestamps are sorted and thinned so consecutive kept markers are at least
// the configured gap apart, then each survivor is replaced by the closest
// history sample. An empty history yields no points.
func (m *MarkerIndex) ForChart(kind MarkerKind, machineID string, history []HistorySample) []ChartMarker {
	kept := m.dedup(kind, machineID)
	if len(kept) == 0 || len(history) == 0 {
		return nil
	}

	out := make([]ChartMarker, 0, len(kept))
	for _, ts := range kept {
		s := nearestSample(history, ts)
		out = append(out, ChartMarker{TS: s.TS, Temperature: s.Temperature})
	}
	return out
}

func (m *MarkerIndex) dedup(kind MarkerKind, machineID string) []int64 {
	raw := m.Timestamps(kind, machineID)
	if len(raw) == 0 {
		return nil
	}
	sort.Slice(raw, func(i, j int) bool { return raw[i] < raw[j] })

	kept := raw[:1]
	for _, ts := range raw[1:] {
		if ts-kept[len(kept)-1] >= m.minGap {
			kept = append(kept, ts)
		}
	}
	return kept
}

// nearestSample scans history for the sample closest to ts. On equal
// distance the earlier sample wins.
func nearestSample(history []HistorySample, ts int64) HistorySample {
	best := history[0]
	bestDist := absDiff(best.TS, ts)
	for _, s := range history[1:] {
		if d := absDiff(s.TS, ts); d < bestDist {
			best, bestDist = s, d
		}
	}
	return best
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
