// Package queue projects job lifecycle events into an ordered queue with a
// transient visual tag per job. Jobs move toward the front when they start,
// drop to the back on predictions and failures, and linger briefly in a
// leaving state before removal so the transition stays visible.
package queue

import (
	"errors"
	"sync"
	"time"

	"floorsight/services/dashboard/internal/feed"
)

// Tag marks a queue item's current visual state.
type Tag string

const (
	TagIdle            Tag = "idle"
	TagStarted         Tag = "started"
	TagStepPulse       Tag = "step-pulse"
	TagPredictionPulse Tag = "prediction-pulse"
	TagFailedPulse     Tag = "failed-pulse"
	TagLeaving         Tag = "leaving"
)

// Delays sets how long each transient tag stays visible before reverting.
type Delays struct {
	Step       time.Duration
	Prediction time.Duration
	Failed     time.Duration
	Removal    time.Duration
}

// Config tunes the projector. Zero values fall back to the defaults below.
type Config struct {
	Delays Delays

	// FrontBias is the index above which a started job is pulled forward
	// to second position.
	FrontBias int
}

// Defaults applied by New for unset Config fields.
const (
	DefaultStepDelay       = 900 * time.Millisecond
	DefaultPredictionDelay = 1200 * time.Millisecond
	DefaultFailedDelay     = 900 * time.Millisecond
	DefaultRemovalDelay    = 450 * time.Millisecond
	DefaultFrontBias       = 2
)

// Item is a read-only view of one queued job.
type Item struct {
	JobID     string `json:"job_id"`
	MachineID string `json:"machine_id,omitempty"`
	Tag       Tag    `json:"tag"`
	Position  int    `json:"position"`
}

type item struct {
	jobID     string
	machineID string
	tag       Tag

	// seq identifies the most recently scheduled deferred transition for
	// this job. A timer firing with a stale seq lost the race to a later
	// event and must not apply.
	seq   uint64
	timer *time.Timer
}

// Projector owns queue membership, ordering, and tags. It is not safe for
// concurrent use on its own: callers serialize all method calls through the
// lock handed to New, and deferred transitions acquire that same lock before
// touching state.
type Projector struct {
	cfg      Config
	lk       sync.Locker
	onChange func()

	items  []*item
	index  map[string]*item
	closed bool
}

// New creates an empty Projector. lk is the shared lock deferred transitions
// take before mutating state; onChange, if non-nil, runs after every
// deferred mutation so hosts can refresh their views.
func New(cfg Config, lk sync.Locker, onChange func()) (*Projector, error) {
	if lk == nil {
		return nil, errors.New("locker is required")
	}
	if cfg.Delays.Step <= 0 {
		cfg.Delays.Step = DefaultStepDelay
	}
	if cfg.Delays.Prediction <= 0 {
		cfg.Delays.Prediction = DefaultPredictionDelay
	}
	if cfg.Delays.Failed <= 0 {
		cfg.Delays.Failed = DefaultFailedDelay
	}
	if cfg.Delays.Removal <= 0 {
		cfg.Delays.Removal = DefaultRemovalDelay
	}
	if cfg.FrontBias <= 0 {
		cfg.FrontBias = DefaultFrontBias
	}

	return &Projector{
		cfg:      cfg,
		lk:       lk,
		onChange: onChange,
		index:    make(map[string]*item),
	}, nil
}

// Apply folds one lifecycle event into the queue. Events without a job id
// carry no queue semantics and are ignored, as are unknown event types.
// Jobs first seen through a non-start event are created at the tail so the
// event still lands somewhere visible.
func (p *Projector) Apply(ev feed.Event) {
	if p.closed || ev.JobID == "" {
		return
	}

	switch ev.Type {
	case feed.EventStarted:
		it := p.ensure(ev)
		p.promote(it)
		it.tag = TagStarted
		// A started job holds its tag until the next event; any pending
		// reversion from an earlier pulse is superseded.
		p.cancelPending(it)
	case feed.EventStepDone:
		it := p.ensure(ev)
		it.tag = TagStepPulse
		p.scheduleRevert(it, TagIdle, p.cfg.Delays.Step)
	case feed.EventPrediction:
		it := p.ensure(ev)
		p.demote(it)
		it.tag = TagPredictionPulse
		p.scheduleRevert(it, TagIdle, p.cfg.Delays.Prediction)
	case feed.EventFailed:
		it := p.ensure(ev)
		p.demote(it)
		it.tag = TagFailedPulse
		p.scheduleRevert(it, TagIdle, p.cfg.Delays.Failed)
	case feed.EventCompleted:
		it := p.ensure(ev)
		it.tag = TagLeaving
		p.scheduleRemoval(it, p.cfg.Delays.Removal)
	}
}

// Items returns the queue as position-annotated views, front first.
func (p *Projector) Items() []Item {
	out := make([]Item, len(p.items))
	for i, it := range p.items {
		out[i] = Item{
			JobID:     it.jobID,
			MachineID: it.machineID,
			Tag:       it.tag,
			Position:  i,
		}
	}
	return out
}

// Len reports the number of queued jobs.
func (p *Projector) Len() int {
	return len(p.items)
}

// Close stops all pending deferred transitions and makes further Apply
// calls no-ops. Queue contents stay readable.
func (p *Projector) Close() {
	p.closed = true
	for _, it := range p.items {
		p.cancelPending(it)
	}
}

// ensure returns the job's item, creating it at the tail on first sight.
// A machine id on the event refreshes the item's association.
func (p *Projector) ensure(ev feed.Event) *item {
	it, ok := p.index[ev.JobID]
	if !ok {
		it = &item{jobID: ev.JobID, tag: TagIdle}
		p.items = append(p.items, it)
		p.index[ev.JobID] = it
	}
	if ev.MachineID != "" {
		it.machineID = ev.MachineID
	}
	return it
}

// promote pulls a deep-queued job to second position. Items at or before
// the bias threshold stay put, and the front slot is never taken so an
// already-running job keeps it.
func (p *Projector) promote(it *item) {
	idx := p.indexOf(it)
	if idx <= p.cfg.FrontBias {
		return
	}
	p.items = append(p.items[:idx], p.items[idx+1:]...)
	p.items = append(p.items, nil)
	copy(p.items[2:], p.items[1:])
	p.items[1] = it
}

// demote moves a job to the tail.
func (p *Projector) demote(it *item) {
	idx := p.indexOf(it)
	if idx == len(p.items)-1 {
		return
	}
	p.items = append(p.items[:idx], p.items[idx+1:]...)
	p.items = append(p.items, it)
}

func (p *Projector) indexOf(it *item) int {
	for i, cur := range p.items {
		if cur == it {
			return i
		}
	}
	return -1
}

// cancelPending invalidates any scheduled transition for the item.
func (p *Projector) cancelPending(it *item) {
	it.seq++
	if it.timer != nil {
		it.timer.Stop()
		it.timer = nil
	}
}

// scheduleRevert arms a timer returning the item to the given tag,
// superseding any pending transition.
func (p *Projector) scheduleRevert(it *item, to Tag, d time.Duration) {
	p.cancelPending(it)
	jobID, seq := it.jobID, it.seq
	it.timer = time.AfterFunc(d, func() {
		p.lk.Lock()
		defer p.lk.Unlock()
		p.deferredRetag(jobID, seq, to)
	})
}

// scheduleRemoval arms a timer dropping the item from the queue.
func (p *Projector) scheduleRemoval(it *item, d time.Duration) {
	p.cancelPending(it)
	jobID, seq := it.jobID, it.seq
	it.timer = time.AfterFunc(d, func() {
		p.lk.Lock()
		defer p.lk.Unlock()
		p.deferredRemove(jobID, seq)
	})
}

// deferredRetag applies a scheduled tag reversion. It silently no-ops when
// the job is gone or a later event superseded the schedule.
func (p *Projector) deferredRetag(jobID string, seq uint64, to Tag) {
	it, ok := p.index[jobID]
	if !ok || it.seq != seq {
		return
	}
	it.tag = to
	it.timer = nil
	p.notify()
}

// deferredRemove applies a scheduled removal under the same staleness rules.
func (p *Projector) deferredRemove(jobID string, seq uint64) {
	it, ok := p.index[jobID]
	if !ok || it.seq != seq {
		return
	}
	idx := p.indexOf(it)
	if idx >= 0 {
		p.items = append(p.items[:idx], p.items[idx+1:]...)
	}
	delete(p.index, jobID)
	p.notify()
}

func (p *Projector) notify() {
	if p.onChange != nil {
		p.onChange()
	}
}
