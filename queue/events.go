package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Event is anything the queue broadcasts to its observers.
type Event interface {
	event()
}

// StatusEvent carries a fresh queue snapshot after a state change.
type StatusEvent struct {
	Snapshot Snapshot
}

// ContentRequestReason explains why fresh page text is wanted.
type ContentRequestReason string

const (
	// ReasonMissing means the tab has no extracted content at all.
	ReasonMissing ContentRequestReason = "missing"
	// ReasonStale means content exists but could not produce playable text.
	ReasonStale ContentRequestReason = "stale"
)

// ContentRequestEvent asks the extraction layer to fetch a tab's page text.
type ContentRequestEvent struct {
	TabID  int64                `json:"tabId"`
	Reason ContentRequestReason `json:"reason"`
}

// ErrorEvent is the structured error surfaced alongside StatusError.
type ErrorEvent struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	TabID      int64     `json:"tabId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (StatusEvent) event()         {}
func (ContentRequestEvent) event() {}
func (ErrorEvent) event()          {}

// Listener receives queue events. Listeners are called outside the manager's
// lock; calling back into the manager is safe.
type Listener func(Event)

// Broadcaster fans events out to subscribed listeners. A failing listener is
// isolated and logged so it cannot break delivery to the others.
type Broadcaster struct {
	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
	logger    *log.Logger
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger *log.Logger) *Broadcaster {
	if logger == nil {
		logger = log.Default()
	}
	return &Broadcaster{
		listeners: make(map[int]Listener),
		logger:    logger,
	}
}

// Subscribe registers a listener and returns its unsubscribe handle.
// Unsubscribing twice is harmless.
func (b *Broadcaster) Subscribe(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.listeners[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// Len returns the number of subscribed listeners.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// Publish delivers the event to every listener in subscription order.
func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	ids := make([]int, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.listeners[id])
	}
	b.mu.Unlock()

	for _, fn := range fns {
		b.deliver(fn, e)
	}
}

func (b *Broadcaster) deliver(fn Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("queue listener panicked", "event", eventName(e), "panic", r)
		}
	}()
	fn(e)
}

func eventName(e Event) string {
	switch e.(type) {
	case StatusEvent:
		return "status"
	case ContentRequestEvent:
		return "content-request"
	case ErrorEvent:
		return "error"
	default:
		return "unknown"
	}
}
