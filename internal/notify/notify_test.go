package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureSink) Deliver(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *captureSink) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHubFansOutToAllSinks(t *testing.T) {
	hub := NewHub()
	defer hub.Stop()

	a, b := &captureSink{}, &captureSink{}
	hub.Register(a)
	hub.Register(b)

	hub.Publish(Event{Kind: EventTrade, BotName: "bot-1", Title: "BUY"})

	waitFor(t, func() bool { return len(a.all()) == 1 && len(b.all()) == 1 })
	assert.Equal(t, EventTrade, a.all()[0].Kind)
	assert.False(t, a.all()[0].Timestamp.IsZero())
}

func TestHubPreservesOrderPerSink(t *testing.T) {
	hub := NewHub()
	defer hub.Stop()

	sink := &captureSink{}
	hub.Register(sink)

	for i := 0; i < 10; i++ {
		hub.Publish(Event{Kind: EventSummary, Title: string(rune('a' + i))})
	}

	waitFor(t, func() bool { return len(sink.all()) == 10 })
	events := sink.all()
	for i := 1; i < len(events); i++ {
		require.LessOrEqual(t, events[i-1].Title, events[i].Title)
	}
}

func TestPublishNeverBlocksWhenFull(t *testing.T) {
	hub := &Hub{
		queue:   make(chan Event, 1),
		stopped: make(chan struct{}),
	}
	// No dispatch loop running: second publish must drop, not hang.
	hub.Publish(Event{Kind: EventError})

	done := make(chan struct{})
	go func() {
		hub.Publish(Event{Kind: EventError})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
}

func TestFormatIncludesBotAndBody(t *testing.T) {
	msg := format(Event{
		Kind:    EventProfit,
		BotName: "grid-weth",
		Title:   "POSITION SOLD",
		Body:    "Profit: +0.012 ETH (+24.5%)",
	})
	assert.Contains(t, msg, "💰")
	assert.Contains(t, msg, "grid-weth")
	assert.Contains(t, msg, "+0.012 ETH")
}
