package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gridbase/gridbase/internal/bot"
	"github.com/gridbase/gridbase/internal/model"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SUPERVISOR - Heartbeat scheduler for the bot registry
// ═══════════════════════════════════════════════════════════════════════════════
//
// One base ticker at the finest cadence any bot asks for; on each base tick,
// every bot whose heartbeat is due gets dispatched onto its own goroutine.
// A per-bot busy flag keeps ticks for the same bot from ever overlapping.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	minBaseInterval = 250 * time.Millisecond
	drainGrace      = 2 * time.Second
)

type entry struct {
	trader *bot.TradingBot

	busy      bool
	skipsLeft int
	nextDue   time.Time
}

// Status is the supervisor's health summary.
type Status struct {
	IsRunning   bool      `json:"isRunning"`
	TotalBots   int       `json:"totalBots"`
	RunningBots int       `json:"runningBots"`
	LastTickAt  time.Time `json:"lastTickAt,omitempty"`
}

// Supervisor owns the bot registry and the tick loop.
type Supervisor struct {
	mu      sync.Mutex
	entries map[string]*entry

	running    bool
	draining   bool
	lastTickAt time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup

	services bot.Services
	now      func() time.Time
}

// New builds an empty supervisor sharing one service set across bots.
func New(services bot.Services) *Supervisor {
	return &Supervisor{
		entries:  make(map[string]*entry),
		services: services,
		now:      time.Now,
	}
}

// LoadBots rehydrates the registry from persisted instances. Existing
// entries with the same id are replaced.
func (s *Supervisor) LoadBots(instances []model.BotInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range instances {
		inst := instances[i]
		s.entries[inst.ID] = &entry{
			trader:    bot.New(&inst, s.services),
			skipsLeft: inst.Config.SkipHeartbeats,
		}
	}
	log.Info().Int("bots", len(s.entries)).Msg("🤖 Bot registry loaded")
}

// AddBot registers one bot. Safe while running.
func (s *Supervisor) AddBot(instance *model.BotInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[instance.ID] = &entry{
		trader:    bot.New(instance, s.services),
		skipsLeft: instance.Config.SkipHeartbeats,
	}
}

// RemoveBot drops a bot from the registry. A tick already in flight for it
// completes normally.
func (s *Supervisor) RemoveBot(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Bot returns the trader for an id, or nil.
func (s *Supervisor) Bot(id string) *bot.TradingBot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return e.trader
	}
	return nil
}

// Bots returns the current traders, unordered.
func (s *Supervisor) Bots() []*bot.TradingBot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*bot.TradingBot, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.trader)
	}
	return out
}

// Start launches the scheduler. Idempotent.
func (s *Supervisor) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.draining = false
	s.stopCh = make(chan struct{})
	interval := s.baseIntervalLocked()
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(interval)
	log.Info().Dur("base_interval", interval).Msg("💓 Supervisor started")
}

// Stop drains and halts the scheduler. Idempotent. In-flight ticks get a
// bounded grace period; receipt waits already in flight finish on their own.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.draining = true
	close(s.stopCh)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("💤 Supervisor stopped")
	case <-time.After(drainGrace):
		log.Warn().Msg("Supervisor stop timed out, ticks still draining in background")
	}
}

// Status reports scheduler health.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		IsRunning:  s.running,
		TotalBots:  len(s.entries),
		LastTickAt: s.lastTickAt,
	}
	for _, e := range s.entries {
		if e.trader.Instance().IsRunning {
			st.RunningBots++
		}
	}
	return st
}

func (s *Supervisor) loop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.dispatchDue()
		}
	}
}

// dispatchDue schedules a tick for every due, non-busy bot.
func (s *Supervisor) dispatchDue() {
	now := s.now()

	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.lastTickAt = now

	var due []*entry
	for _, e := range s.entries {
		inst := e.trader.Instance()
		if !inst.Enabled || !inst.IsRunning {
			continue
		}
		if now.Before(e.nextDue) {
			continue
		}
		heartbeat := time.Duration(inst.Config.HeartbeatMs) * time.Millisecond
		if heartbeat <= 0 {
			heartbeat = minBaseInterval
		}
		// Advance the due time whether or not this occurrence runs, so a
		// busy or skipped bot does not fire a burst afterwards.
		e.nextDue = now.Add(heartbeat)

		if e.skipsLeft > 0 {
			e.skipsLeft--
			continue
		}
		if e.busy {
			continue
		}
		e.busy = true
		due = append(due, e)
	}
	s.mu.Unlock()

	for _, e := range due {
		e := e
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				e.busy = false
				s.mu.Unlock()
			}()
			e.trader.Tick(context.Background())
		}()
	}
}

// baseIntervalLocked is the finest cadence any registered bot requires,
// floored at 250 ms.
func (s *Supervisor) baseIntervalLocked() time.Duration {
	interval := time.Duration(0)
	for _, e := range s.entries {
		hb := time.Duration(e.trader.Instance().Config.HeartbeatMs) * time.Millisecond
		if hb <= 0 {
			continue
		}
		if interval == 0 || hb < interval {
			interval = hb
		}
	}
	if interval < minBaseInterval {
		interval = minBaseInterval
	}
	return interval
}
