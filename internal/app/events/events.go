// Package events provides structured event logging for the reward engine.
// Events capture session lifecycle transitions and ledger outcomes so other
// application layers can observe them without coupling to the services.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Type classifies the kind of reward-engine event.
type Type string

const (
	// Session lifecycle events
	EventSessionCreated   Type = "session.created"
	EventSessionStarted   Type = "session.started"
	EventSessionPaused    Type = "session.paused"
	EventSessionResumed   Type = "session.resumed"
	EventSessionCompleted Type = "session.completed"
	EventSessionAbandoned Type = "session.abandoned"

	// Ledger events
	EventRewardCredited   Type = "reward.credited"
	EventRewardClamped    Type = "reward.clamped"
	EventRewardPending    Type = "reward.pending"
	EventRewardReconciled Type = "reward.reconciled"
)

// Severity indicates the importance of an event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is one structured occurrence in the reward pipeline.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`

	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Reference string `json:"reference,omitempty"`

	Message  string            `json:"message,omitempty"`
	Error    string            `json:"error,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// String returns a human-readable representation.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// Handler processes events as they occur.
type Handler func(Event)

// Filter decides whether an event should be delivered to a handler.
type Filter func(Event) bool

// Log is the interface the services emit events through.
type Log interface {
	Log(event Event)
	Subscribe(handler Handler) func()
	SubscribeFiltered(filter Filter, handler Handler) func()
	Recent(n int) []Event
	RecentByUser(userID string, n int) []Event
	RecentByType(eventType Type, n int) []Event
}

// RingBuffer is a thread-safe circular event buffer.
type RingBuffer struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	filter  Filter
	handler Handler
}

// NewRingBuffer creates an event buffer holding up to size events.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

// Log adds an event to the buffer and notifies subscribers.
func (rb *RingBuffer) Log(event Event) {
	rb.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	if event.ID == "" {
		event.ID = generateEventID()
	}

	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}

	handlers := make([]handlerEntry, len(rb.handlers))
	copy(handlers, rb.handlers)
	rb.mu.Unlock()

	// Notify handlers outside the lock
	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			h.handler(event)
		}
	}
}

// Subscribe registers a handler for all events.
func (rb *RingBuffer) Subscribe(handler Handler) func() {
	return rb.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler with a filter. The returned function
// unsubscribes it.
func (rb *RingBuffer) SubscribeFiltered(filter Filter, handler Handler) func() {
	rb.mu.Lock()
	id := rb.nextID
	rb.nextID++
	rb.handlers = append(rb.handlers, handlerEntry{
		id:      id,
		filter:  filter,
		handler: handler,
	})
	rb.mu.Unlock()

	return func() {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		for i, h := range rb.handlers {
			if h.id == id {
				rb.handlers = append(rb.handlers[:i], rb.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns the most recent N events in reverse chronological order.
func (rb *RingBuffer) Recent(n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.recentLocked(n, nil)
}

// RecentByUser returns recent events for a specific user.
func (rb *RingBuffer) RecentByUser(userID string, n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.recentLocked(n, func(e Event) bool { return e.UserID == userID })
}

// RecentByType returns recent events of a specific type.
func (rb *RingBuffer) RecentByType(eventType Type, n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.recentLocked(n, func(e Event) bool { return e.Type == eventType })
}

func (rb *RingBuffer) recentLocked(n int, match Filter) []Event {
	if n <= 0 || rb.count == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < rb.count && len(result) < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		if match == nil || match(rb.events[idx]) {
			result = append(result, rb.events[idx])
		}
	}
	return result
}

// Count returns the number of buffered events.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

func generateEventID() string {
	return time.Now().UTC().Format("20060102150405.000000000")
}

// NoOpLog discards all events. Services default to it when no buffer is
// attached.
type NoOpLog struct{}

func (NoOpLog) Log(Event) {}

func (NoOpLog) Subscribe(Handler) func() { return func() {} }

func (NoOpLog) SubscribeFiltered(Filter, Handler) func() { return func() {} }

func (NoOpLog) Recent(int) []Event { return nil }

func (NoOpLog) RecentByUser(string, int) []Event { return nil }

func (NoOpLog) RecentByType(Type, int) []Event { return nil }
