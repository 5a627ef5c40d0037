// Package clock owns authoritative timeout detection. Clients may render
// their own countdowns, but only the server tick ends a match on time.
package clock

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/match"
	"github.com/park285/chess-arena/internal/obslog"
)

const defaultTick = 500 * time.Millisecond

// Manager runs one watcher goroutine per live match. The watcher recomputes
// the running side's remaining time from committed timestamps on every tick;
// client clocks are never consulted.
type Manager struct {
	matches *match.Manager
	tick    time.Duration

	mu       sync.Mutex
	watchers map[string]context.CancelFunc
	wg       sync.WaitGroup
}

func NewManager(matches *match.Manager, tick time.Duration) *Manager {
	if tick <= 0 {
		tick = defaultTick
	}
	return &Manager{
		matches:  matches,
		tick:     tick,
		watchers: make(map[string]context.CancelFunc),
	}
}

// Watch starts timeout detection for a match. Idempotent per match id; the
// watcher exits on its own once the match is terminal or gone.
func (c *Manager) Watch(ctx context.Context, matchID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.watchers[matchID]; ok {
		return
	}
	wctx, cancel := context.WithCancel(ctx)
	c.watchers[matchID] = cancel
	c.wg.Add(1)
	go c.run(wctx, matchID)
}

// Stop cancels every watcher and waits for them to drain.
func (c *Manager) Stop() {
	c.mu.Lock()
	for id, cancel := range c.watchers {
		cancel()
		delete(c.watchers, id)
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Manager) release(matchID string) {
	c.mu.Lock()
	if cancel, ok := c.watchers[matchID]; ok {
		cancel()
		delete(c.watchers, matchID)
	}
	c.mu.Unlock()
}

func (c *Manager) run(ctx context.Context, matchID string) {
	defer c.wg.Done()
	defer c.release(matchID)

	t := time.NewTicker(c.tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		m, err := c.matches.Get(ctx, matchID)
		if err != nil {
			if errors.Is(err, match.ErrNotFound) {
				return
			}
			obslog.L().Warn("clock_tick_load_error", zap.String("match_id", matchID), zap.Error(err))
			continue
		}
		if m.Status.Terminal() {
			return
		}
		side, running := m.ClockRunning()
		if !running {
			continue // paused: pending match or between attribution points
		}
		if m.RemainingMs(side, time.Now()) > 0 {
			continue
		}

		if _, err := c.matches.Timeout(ctx, matchID, side); err != nil {
			switch {
			case errors.Is(err, match.ErrClockNotExpired), errors.Is(err, match.ErrAlreadyTerminal):
				// Raced a commit or another terminal transition; the next
				// tick (or the terminal check above) sorts it out.
				continue
			default:
				obslog.L().Error("clock_timeout_error", zap.String("match_id", matchID), zap.Error(err))
				continue
			}
		}
		obslog.L().Info("clock_flag_fall", zap.String("match_id", matchID), zap.String("side", string(side)))
		return
	}
}
