// Package events provides the typed publish/subscribe hub that fans
// discovery, drive, transfer, and sync events out to CLI, daemon, and
// websocket consumers. Publishers never block: a subscriber that cannot
// keep up has events dropped and a counter incremented.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Topic identifies the event stream a subscriber receives.
type Topic string

const (
	TopicDevice   Topic = "device"
	TopicDrive    Topic = "drive"
	TopicTransfer Topic = "transfer"
	TopicSync     Topic = "sync"
)

// Event is one published occurrence. Data is a JSON-serializable snapshot;
// subscribers never receive a pointer into a manager's internal state.
type Event struct {
	Topic Topic     `json:"topic"`
	Kind  string    `json:"kind"`
	Time  time.Time `json:"time"`
	Data  any       `json:"data"`
}

// defaultBuffer is the per-subscriber channel depth. Deep enough to absorb
// a scan pass worth of device events without drops.
const defaultBuffer = 256

// subscriber is one registered consumer with its topic filter.
type subscriber struct {
	ch     chan Event
	topics map[Topic]bool // empty = all topics
}

// Hub is the process-wide event fan-out. Safe for concurrent use.
type Hub struct {
	mu      sync.Mutex
	subs    map[int]*subscriber
	nextID  int
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[int]*subscriber),
		logger: logger,
	}
}

// Subscribe registers a consumer for the given topics (none = all).
// The returned cancel function unregisters the consumer and closes the
// channel; it is safe to call more than once.
func (h *Hub) Subscribe(topics ...Topic) (<-chan Event, func()) {
	sub := &subscriber{
		ch:     make(chan Event, defaultBuffer),
		topics: make(map[Topic]bool, len(topics)),
	}

	for _, t := range topics {
		sub.topics[t] = true
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once

	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.ch)
		})
	}

	return sub.ch, cancel
}

// Publish delivers an event to every matching subscriber without blocking.
// Events to full subscriber channels are dropped and counted.
func (h *Hub) Publish(topic Topic, kind string, data any) {
	ev := Event{
		Topic: topic,
		Kind:  kind,
		Time:  time.Now(),
		Data:  data,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		if len(sub.topics) > 0 && !sub.topics[topic] {
			continue
		}

		select {
		case sub.ch <- ev:
		default:
			if h.dropped.Add(1)%1000 == 1 {
				h.logger.Warn("event hub dropping events for slow subscriber",
					slog.String("topic", string(topic)),
					slog.Int64("total_dropped", h.dropped.Load()),
				)
			}
		}
	}
}

// Dropped returns the total number of events dropped across all subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
