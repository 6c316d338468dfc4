package service

import (
	"testing"
	"time"
)

func TestEventInbox_KeepsOrderWithoutDropping(t *testing.T) {
	inbox := NewEventInbox()
	q := newEventQueue(inbox.Push)

	const n = 1000
	for i := 0; i < n; i++ {
		q.push(Event{Type: EventDelta, Delta: string(rune('a' + i%26))})
	}
	q.push(Event{Type: EventStateChanged, Snapshot: Snapshot{State: StateIdle}})
	q.close()

	var got []Event
	timeout := time.After(2 * time.Second)
	for len(got) < n+1 {
		select {
		case <-inbox.Ready():
			got = append(got, inbox.Drain()...)
		case <-timeout:
			t.Fatalf("timed out with %d events", len(got))
		}
	}
	for i := 0; i < n; i++ {
		if got[i].Delta != string(rune('a'+i%26)) {
			t.Fatalf("event %d out of order: %q", i, got[i].Delta)
		}
	}
	if last := got[n]; last.Type != EventStateChanged || last.Snapshot.State != StateIdle {
		t.Fatalf("expected final state event, got %+v", last)
	}
	if extra := inbox.Drain(); len(extra) != 0 {
		t.Fatalf("expected empty inbox, got %d", len(extra))
	}
}
