package state

import "floorsight/services/dashboard/internal/feed"

// ActivityLog keeps the most recent lifecycle events, newest first. Entries
// past the capacity fall off the tail.
type ActivityLog struct {
	capacity int
	entries  []feed.Event
}

// NewActivityLog creates an empty log holding at most capacity events.
func NewActivityLog(capacity int) *ActivityLog {
	return &ActivityLog{capacity: capacity}
}

// Append records e as the newest entry, evicting the oldest when full.
func (l *ActivityLog) Append(e feed.Event) {
	if l.capacity <= 0 {
		return
	}
	if len(l.entries) < l.capacity {
		l.entries = append(l.entries, feed.Event{})
	}
	copy(l.entries[1:], l.entries)
	l.entries[0] = e
}

// Clear empties the log.
func (l *ActivityLog) Clear() {
	l.entries = nil
}

// All returns a copy of the log, most recent first.
func (l *ActivityLog) All() []feed.Event {
	out := make([]feed.Event, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len reports the number of recorded events.
func (l *ActivityLog) Len() int {
	return len(l.entries)
}
