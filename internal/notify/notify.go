package notify

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// NOTIFICATIONS - Event hub and fan-out
// ═══════════════════════════════════════════════════════════════════════════════
//
// Bots publish events; sinks (Telegram, log) consume them. Delivery is
// asynchronous so a slow sink never stalls a trading tick, and best-effort:
// a dropped notification is logged, never retried.
//
// ═══════════════════════════════════════════════════════════════════════════════

// EventKind classifies a notification.
type EventKind string

const (
	EventTrade          EventKind = "trade"
	EventProfit         EventKind = "profit"
	EventError          EventKind = "error"
	EventWarning        EventKind = "warning"
	EventSummary        EventKind = "summary"
	EventCircuitBreaker EventKind = "circuitBreaker"
	EventStatusChange   EventKind = "statusChange"
	EventBotStopped     EventKind = "botStopped"
)

// Event is one notification with plain-text body and structured fields.
type Event struct {
	Kind      EventKind
	BotID     string
	BotName   string
	Title     string
	Body      string
	Timestamp time.Time
}

// Sink delivers events to one channel (Telegram, console, test capture).
type Sink interface {
	Deliver(ev Event)
}

const queueDepth = 64

// Hub fans events out to all registered sinks from a single dispatch
// goroutine.
type Hub struct {
	mu    sync.RWMutex
	sinks []Sink

	queue    chan Event
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewHub starts the dispatch loop.
func NewHub() *Hub {
	h := &Hub{
		queue:   make(chan Event, queueDepth),
		stopped: make(chan struct{}),
	}
	go h.dispatch()
	return h
}

// Register adds a sink. Safe to call while the hub is running.
func (h *Hub) Register(s Sink) {
	h.mu.Lock()
	h.sinks = append(h.sinks, s)
	h.mu.Unlock()
}

// Publish enqueues an event. Never blocks; drops when the queue is full.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case h.queue <- ev:
	default:
		log.Warn().
			Str("kind", string(ev.Kind)).
			Str("bot", ev.BotName).
			Msg("⚠️ Notification queue full, event dropped")
	}
}

// Stop ends dispatch after draining the queue.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopped) })
}

func (h *Hub) dispatch() {
	for {
		select {
		case ev := <-h.queue:
			h.deliver(ev)
		case <-h.stopped:
			for {
				select {
				case ev := <-h.queue:
					h.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (h *Hub) deliver(ev Event) {
	h.mu.RLock()
	sinks := make([]Sink, len(h.sinks))
	copy(sinks, h.sinks)
	h.mu.RUnlock()

	for _, s := range sinks {
		s.Deliver(ev)
	}
}
