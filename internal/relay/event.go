package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/termrelay/termrelay/internal/logging"
)

var relayLog = logging.ForComponent(logging.CompRelay)

// EventKind distinguishes lifecycle transitions from agent notifications.
type EventKind string

const (
	KindLifecycle    EventKind = "lifecycle"
	KindNotification EventKind = "notification"
)

// Meta identifies the agent instance an event belongs to.
type Meta struct {
	Project    string
	Agent      string
	InstanceID string
}

// Key returns the per-window deduplication key.
func (m Meta) Key() string {
	return m.Project + "/" + m.Agent + "/" + m.InstanceID
}

// Event is one outbound unit: a lifecycle transition or a pushed
// notification, with its text pre-split into platform-sized chunks.
type Event struct {
	Project    string
	Agent      string
	InstanceID string

	Kind  EventKind
	State State // set for lifecycle events

	// NotificationType carries the hook's notification subtype, if any
	NotificationType string

	Text   string
	Chunks []string

	At time.Time
}

// Hub merges poll-derived and hook-pushed events into one ordered stream,
// deduplicating repeat lifecycle states per window. This is the discipline
// that keeps a poll cycle from re-emitting a stopped event the hook already
// delivered, and vice versa.
type Hub struct {
	chunkLimit int

	mu     sync.Mutex
	last   map[string]State // window key -> last emitted lifecycle state
	out    chan Event
	closed bool
}

// NewHub creates a Hub. chunkLimit bounds outbound chunk length.
func NewHub(chunkLimit int) *Hub {
	if chunkLimit <= 0 {
		chunkLimit = 1900
	}
	return &Hub{
		chunkLimit: chunkLimit,
		last:       make(map[string]State),
		out:        make(chan Event, 256),
	}
}

// Events returns the merged outbound stream.
func (h *Hub) Events() <-chan Event {
	return h.out
}

// EmitLifecycle emits a lifecycle event unless the same non-working state
// was already the last one emitted for this window. Returns whether the
// event was emitted.
func (h *Hub) EmitLifecycle(meta Meta, state State, text string) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	key := meta.Key()
	if state != StateWorking && h.last[key] == state {
		h.mu.Unlock()
		return false
	}
	h.last[key] = state
	h.mu.Unlock()

	h.send(Event{
		Project:    meta.Project,
		Agent:      meta.Agent,
		InstanceID: meta.InstanceID,
		Kind:       KindLifecycle,
		State:      state,
		Text:       text,
		Chunks:     Chunk(text, h.chunkLimit),
		At:         time.Now(),
	})
	return true
}

// EmitNotification emits a hook-pushed notification. Notifications are not
// deduplicated; each one is meaningful.
func (h *Hub) EmitNotification(meta Meta, notificationType, text string) {
	h.send(Event{
		Project:          meta.Project,
		Agent:            meta.Agent,
		InstanceID:       meta.InstanceID,
		Kind:             KindNotification,
		NotificationType: notificationType,
		Text:             text,
		Chunks:           Chunk(text, h.chunkLimit),
		At:               time.Now(),
	})
}

// Forget clears the dedup marker for a window, e.g. when it is re-tracked.
func (h *Hub) Forget(meta Meta) {
	h.mu.Lock()
	delete(h.last, meta.Key())
	h.mu.Unlock()
}

// Close closes the outbound stream. Emit calls after Close are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.out)
}

// send delivers without blocking; a full consumer drops the event rather
// than stalling a poll cycle. Held under mu so Close cannot race a send.
func (h *Hub) send(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.out <- ev:
	default:
		relayLog.Warn("event_dropped_queue_full",
			slog.String("key", ev.Project+"/"+ev.InstanceID),
			slog.String("kind", string(ev.Kind)))
	}
}
