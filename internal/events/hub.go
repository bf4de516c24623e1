// Package events fans invocation lifecycle events out to live subscribers
// such as the SSE endpoint, keeping a short backlog for late joiners.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Lifecycle event types.
const (
	InvocationStarted       = "invocation.started"
	WorkerSpawned           = "worker.spawned"
	InvocationCompleted     = "invocation.completed"
	InvocationTimedOut      = "invocation.timed_out"
	InvocationCrashed       = "invocation.crashed"
	InvocationSpawnFailed   = "invocation.spawn_failed"
	InvocationHandoffFailed = "invocation.handoff_failed"
	NotificationFailed      = "notification.failed"
)

const (
	defaultBacklog    = 100
	subscriberBacklog = 128
)

// Event is one published occurrence. IDs increase monotonically per hub.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Publisher is what producers depend on.
type Publisher interface {
	Publish(eventType string, data any)
}

// Hub is an in-memory pub/sub with a ring buffer backlog.
type Hub struct {
	nextID atomic.Int64

	mu      sync.Mutex
	backlog []Event
	head    int
	count   int

	subs      map[int]chan Event
	nextSubID int
}

// NewHub returns a hub remembering the last capacity events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = defaultBacklog
	}
	return &Hub{
		backlog: make([]Event, capacity),
		subs:    make(map[int]chan Event),
	}
}

// Publish marshals data and delivers it to every subscriber without blocking.
// Subscribers that are full miss the event. A nil hub discards it.
func (h *Hub) Publish(eventType string, data any) {
	if h == nil {
		return
	}
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}
	h.remember(ev)
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of future events and a cancel func that
// closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, subscriberBacklog)
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Since returns remembered events with ID > lastID, oldest first.
func (h *Hub) Since(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.count)
	for i := 0; i < h.count; i++ {
		ev := h.backlog[(h.head+i)%len(h.backlog)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) remember(ev Event) {
	size := len(h.backlog)
	if h.count < size {
		h.backlog[(h.head+h.count)%size] = ev
		h.count++
		return
	}
	h.backlog[h.head] = ev
	h.head = (h.head + 1) % size
}
