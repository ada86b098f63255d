package events

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestRingBuffer_Log(t *testing.T) {
	rb := NewRingBuffer(10)

	rb.Log(Event{
		Type:      EventSessionCreated,
		UserID:    "u1",
		SessionID: "s1",
		Message:   "test message",
	})

	if rb.Count() != 1 {
		t.Errorf("Count() = %d, want 1", rb.Count())
	}

	recent := rb.Recent(1)
	if len(recent) != 1 {
		t.Fatalf("Recent(1) len = %d, want 1", len(recent))
	}

	if recent[0].UserID != "u1" {
		t.Errorf("UserID = %q, want 'u1'", recent[0].UserID)
	}
	if recent[0].ID == "" {
		t.Error("ID should be auto-generated")
	}
	if recent[0].Timestamp.IsZero() {
		t.Error("Timestamp should be auto-set")
	}
	if recent[0].Severity != SeverityInfo {
		t.Errorf("Severity = %q, want info default", recent[0].Severity)
	}
}

func TestRingBuffer_Overflow(t *testing.T) {
	rb := NewRingBuffer(5)

	// Fill beyond capacity
	for i := 0; i < 10; i++ {
		rb.Log(Event{
			Type:    EventSessionStarted,
			Message: string(rune('A' + i)),
		})
	}

	if rb.Count() != 5 {
		t.Errorf("Count() = %d, want 5 (capped)", rb.Count())
	}

	recent := rb.Recent(5)
	if len(recent) != 5 {
		t.Fatalf("Recent(5) len = %d, want 5", len(recent))
	}

	// Most recent first
	if recent[0].Message != "J" {
		t.Errorf("Most recent message = %q, want 'J'", recent[0].Message)
	}
	if recent[4].Message != "F" {
		t.Errorf("Oldest message = %q, want 'F'", recent[4].Message)
	}
}

func TestRingBuffer_RecentByUser(t *testing.T) {
	rb := NewRingBuffer(10)

	rb.Log(Event{Type: EventSessionCompleted, UserID: "alice"})
	rb.Log(Event{Type: EventSessionCompleted, UserID: "bob"})
	rb.Log(Event{Type: EventRewardCredited, UserID: "alice"})

	got := rb.RecentByUser("alice", 10)
	if len(got) != 2 {
		t.Fatalf("RecentByUser len = %d, want 2", len(got))
	}
	if got[0].Type != EventRewardCredited {
		t.Errorf("most recent type = %q, want reward.credited", got[0].Type)
	}
}

func TestRingBuffer_RecentByType(t *testing.T) {
	rb := NewRingBuffer(10)

	rb.Log(Event{Type: EventSessionCompleted, UserID: "alice"})
	rb.Log(Event{Type: EventRewardCredited, UserID: "alice"})
	rb.Log(Event{Type: EventRewardClamped, UserID: "alice"})

	got := rb.RecentByType(EventRewardCredited, 10)
	if len(got) != 1 {
		t.Fatalf("RecentByType len = %d, want 1", len(got))
	}
}

func TestRingBuffer_Subscribe(t *testing.T) {
	rb := NewRingBuffer(10)

	var calls int64
	unsubscribe := rb.Subscribe(func(Event) {
		atomic.AddInt64(&calls, 1)
	})

	rb.Log(Event{Type: EventSessionCreated})
	rb.Log(Event{Type: EventSessionStarted})

	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Errorf("handler calls = %d, want 2", got)
	}

	unsubscribe()
	rb.Log(Event{Type: EventSessionCompleted})

	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Errorf("handler calls after unsubscribe = %d, want 2", got)
	}
}

func TestRingBuffer_SubscribeFiltered(t *testing.T) {
	rb := NewRingBuffer(10)

	var credited int64
	rb.SubscribeFiltered(
		func(e Event) bool { return e.Type == EventRewardCredited },
		func(Event) { atomic.AddInt64(&credited, 1) },
	)

	rb.Log(Event{Type: EventSessionCompleted})
	rb.Log(Event{Type: EventRewardCredited})
	rb.Log(Event{Type: EventRewardClamped})

	if got := atomic.LoadInt64(&credited); got != 1 {
		t.Errorf("filtered handler calls = %d, want 1", got)
	}
}

func TestRingBuffer_ConcurrentLog(t *testing.T) {
	rb := NewRingBuffer(100)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				rb.Log(Event{Type: EventSessionStarted})
			}
		}()
	}
	wg.Wait()

	if rb.Count() != 100 {
		t.Errorf("Count() = %d, want 100 (capped)", rb.Count())
	}
}
