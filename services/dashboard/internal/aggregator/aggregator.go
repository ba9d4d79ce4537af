// Package aggregator owns the dashboard's in-memory projections and folds
// classified bus messages into them. One mutex guards every store so reads
// always see a message fully applied or not at all; queries hand out copies.
package aggregator

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"floorsight/services/dashboard/internal/feed"
	"floorsight/services/dashboard/internal/metrics"
	"floorsight/services/dashboard/internal/queue"
	"floorsight/services/dashboard/internal/state"
)

// Defaults for Config fields left unset.
const (
	DefaultSnapshotTopic = "job/status"
	DefaultEventTopic    = "jobshop/status"
	DefaultActivityCap   = 300
	DefaultMarkerGapMS   = 1200
)

// Config tunes the aggregator. Zero values fall back to the defaults above;
// HistoryCap zero keeps per-machine history unbounded.
type Config struct {
	SnapshotTopic string
	EventTopic    string
	ActivityCap   int
	MarkerGapMS   int64
	HistoryCap    int
	Queue         queue.Config
}

// Aggregator reduces the snapshot and lifecycle topics into queryable
// dashboard state.
type Aggregator struct {
	cfg        Config
	classifier *feed.Classifier
	log        zerolog.Logger
	metrics    *metrics.Set

	mu        sync.Mutex
	telemetry *state.TelemetryStore
	markers   *state.MarkerIndex
	activity  *state.ActivityLog
	queue     *queue.Projector
	closed    bool

	watchMu  sync.Mutex
	watchers map[int]chan struct{}
	watchSeq int
}

// New creates an Aggregator. logger records dropped messages; m may be nil
// to disable instrumentation.
func New(cfg Config, logger zerolog.Logger, m *metrics.Set) (*Aggregator, error) {
	if cfg.SnapshotTopic == "" {
		cfg.SnapshotTopic = DefaultSnapshotTopic
	}
	if cfg.EventTopic == "" {
		cfg.EventTopic = DefaultEventTopic
	}
	if cfg.ActivityCap <= 0 {
		cfg.ActivityCap = DefaultActivityCap
	}
	if cfg.MarkerGapMS <= 0 {
		cfg.MarkerGapMS = DefaultMarkerGapMS
	}
	if cfg.HistoryCap < 0 {
		return nil, errors.New("history cap must not be negative")
	}

	classifier, err := feed.NewClassifier(cfg.SnapshotTopic, cfg.EventTopic)
	if err != nil {
		return nil, err
	}

	a := &Aggregator{
		cfg:        cfg,
		classifier: classifier,
		log:        logger,
		metrics:    m,
		telemetry:  state.NewTelemetryStore(cfg.HistoryCap),
		markers:    state.NewMarkerIndex(cfg.MarkerGapMS),
		activity:   state.NewActivityLog(cfg.ActivityCap),
		watchers:   make(map[int]chan struct{}),
	}

	// Deferred queue transitions take the aggregator mutex before mutating
	// and ping watchers afterwards so views refresh without polling.
	a.queue, err = queue.New(cfg.Queue, &a.mu, func() {
		a.refreshGaugesLocked()
		a.notifyWatchers()
	})
	if err != nil {
		return nil, err
	}

	return a, nil
}

// Topics returns the two topic names the aggregator consumes, for the
// transport to subscribe to.
func (a *Aggregator) Topics() []string {
	return []string{a.cfg.SnapshotTopic, a.cfg.EventTopic}
}

// OnMessage is the ingestion entrypoint wired to the bus. It never panics
// and never returns an error: bad messages are counted, logged where
// useful, and dropped, leaving all stores untouched.
func (a *Aggregator) OnMessage(topic string, payload []byte) {
	start := time.Now()

	msg, err := a.classifier.Classify(topic, payload, start)
	if err != nil {
		// Unknown topics are dropped silently; the broker may carry
		// traffic that simply is not ours.
		if !errors.Is(err, feed.ErrUnknownTopic) {
			a.log.Warn().Err(err).Str("topic", topic).Msg("dropping message")
		}
		if a.metrics != nil {
			a.metrics.MessagesDropped.Inc()
		}
		return
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	switch m := msg.(type) {
	case feed.Snapshot:
		a.telemetry.UpsertSnapshot(m)
		if a.metrics != nil {
			a.metrics.SnapshotsApplied.Inc()
		}
	case feed.Event:
		a.applyEventLocked(m)
		if a.metrics != nil {
			a.metrics.EventsApplied.Inc()
		}
	}
	a.refreshGaugesLocked()
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.IngestSeconds.Observe(time.Since(start).Seconds())
	}
	a.notifyWatchers()
}

func (a *Aggregator) applyEventLocked(e feed.Event) {
	a.activity.Append(e)

	if e.MachineID != "" {
		switch e.Type {
		case feed.EventPrediction:
			a.markers.Record(state.MarkerPrediction, e.MachineID, e.TS)
		case feed.EventFailed:
			a.markers.Record(state.MarkerFailure, e.MachineID, e.TS)
		}
	}

	a.queue.Apply(e)
}

func (a *Aggregator) refreshGaugesLocked() {
	if a.metrics == nil {
		return
	}
	a.metrics.QueueLength.Set(float64(a.queue.Len()))
	a.metrics.Machines.Set(float64(len(a.telemetry.Machines())))
}

// Machines returns the ids of all known machines, sorted.
func (a *Aggregator) Machines() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.telemetry.Machines()
}

// LatestSnapshot returns the machine's most recent snapshot, if any.
func (a *Aggregator) LatestSnapshot(machineID string) (feed.Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.telemetry.Latest(machineID)
}

// History returns the machine's telemetry samples sorted by timestamp.
func (a *Aggregator) History(machineID string) []state.HistorySample {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.telemetry.History(machineID)
}

// PredictionMarkers returns the machine's prediction markers aligned to its
// charted history.
func (a *Aggregator) PredictionMarkers(machineID string) []state.ChartMarker {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.markers.ForChart(state.MarkerPrediction, machineID, a.telemetry.History(machineID))
}

// FailureMarkers returns the machine's failure markers aligned to its
// charted history.
func (a *Aggregator) FailureMarkers(machineID string) []state.ChartMarker {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.markers.ForChart(state.MarkerFailure, machineID, a.telemetry.History(machineID))
}

// ActivityLog returns recorded lifecycle events, most recent first.
func (a *Aggregator) ActivityLog() []feed.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.activity.All()
}

// ClearActivity empties the activity log.
func (a *Aggregator) ClearActivity() {
	a.mu.Lock()
	a.activity.Clear()
	a.mu.Unlock()
	a.notifyWatchers()
}

// QueueSnapshot returns the job queue as ordered read-only views.
func (a *Aggregator) QueueSnapshot() []queue.Item {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.queue.Items()
}

// Watch registers a change listener. The channel receives one coalesced
// signal after any state mutation; the returned func releases the listener.
func (a *Aggregator) Watch() (<-chan struct{}, func()) {
	a.watchMu.Lock()
	defer a.watchMu.Unlock()

	id := a.watchSeq
	a.watchSeq++
	ch := make(chan struct{}, 1)
	a.watchers[id] = ch

	return ch, func() {
		a.watchMu.Lock()
		defer a.watchMu.Unlock()
		delete(a.watchers, id)
	}
}

func (a *Aggregator) notifyWatchers() {
	a.watchMu.Lock()
	defer a.watchMu.Unlock()
	for _, ch := range a.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Close stops ingestion and cancels pending queue transitions. Accumulated
// state stays queryable.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	a.queue.Close()
}
