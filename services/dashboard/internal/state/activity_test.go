package state

import (
	"fmt"
	"testing"

	"floorsight/services/dashboard/internal/feed"
)

func TestActivityLogNewestFirst(t *testing.T) {
	l := NewActivityLog(300)

	l.Append(feed.Event{Type: feed.EventStarted, JobID: "J1"})
	l.Append(feed.Event{Type: feed.EventStepDone, JobID: "J1"})
	l.Append(feed.Event{Type: feed.EventCompleted, JobID: "J1"})

	all := l.All()
	if len(all) != 3 {
		t.Fatalf("log length = %d, want 3", len(all))
	}
	if all[0].Type != feed.EventCompleted || all[2].Type != feed.EventStarted {
		t.Fatalf("log order = [%s %s %s], want newest first", all[0].Type, all[1].Type, all[2].Type)
	}
}

func TestActivityLogCap(t *testing.T) {
	l := NewActivityLog(300)

	for i := 0; i < 301; i++ {
		l.Append(feed.Event{Type: feed.EventStepDone, JobID: fmt.Sprintf("J%d", i)})
	}

	all := l.All()
	if len(all) != 300 {
		t.Fatalf("log length = %d, want exactly 300", len(all))
	}
	if all[0].JobID != "J300" {
		t.Fatalf("newest entry = %s, want J300", all[0].JobID)
	}
	if all[299].JobID != "J1" {
		t.Fatalf("oldest entry = %s, want J1 after J0 was evicted", all[299].JobID)
	}
}

func TestActivityLogClear(t *testing.T) {
	l := NewActivityLog(300)
	l.Append(feed.Event{Type: feed.EventStarted, JobID: "J1"})

	l.Clear()

	if l.Len() != 0 {
		t.Fatalf("Len after Clear = %d, want 0", l.Len())
	}
	if got := l.All(); len(got) != 0 {
		t.Fatalf("All after Clear = %v, want empty", got)
	}
}

func TestActivityLogAllReturnsCopy(t *testing.T) {
	l := NewActivityLog(300)
	l.Append(feed.Event{Type: feed.EventStarted, JobID: "J1"})

	all := l.All()
	all[0].JobID = "tampered"

	if l.All()[0].JobID != "J1" {
		t.Fatal("mutating the returned slice leaked into the log")
	}
}
