// Package leaderboard throttles recomputation and emission of ranked
// leaderboards so a session never broadcasts more than once per interval,
// regardless of how fast progress events arrive.
package leaderboard

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Ewocs/typing-comp/internal/domain"
	"github.com/Ewocs/typing-comp/internal/errors"
	"github.com/Ewocs/typing-comp/internal/event"
	"github.com/Ewocs/typing-comp/internal/telemetry"
)

const defaultInterval = time.Second

// Snapshots resolves a session's current ranked live leaderboard.
type Snapshots interface {
	LiveLeaderboard(sessionID string) (domain.Leaderboard, error)
}

type Config struct {
	EventBus  *event.Bus
	Snapshots Snapshots
	Clock     clockwork.Clock
	// Interval is the minimum spacing between two broadcasts of one session.
	Interval time.Duration
}

// Broadcaster subscribes to fresh-data signals and emits at most one
// leaderboard tick per session per interval. Updates landing inside a closed
// window are dropped, not queued: the next qualifying tick supersedes them.
type Broadcaster struct {
	bus      *event.Bus
	snaps    Snapshots
	clock    clockwork.Clock
	interval time.Duration

	mu       sync.Mutex
	lastTick map[string]time.Time
}

func NewBroadcaster(c Config) *Broadcaster {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}

	b := &Broadcaster{
		bus:      c.EventBus,
		snaps:    c.Snapshots,
		clock:    c.Clock,
		interval: c.Interval,
		lastTick: make(map[string]time.Time),
	}

	b.bus.Subscribe(domain.EventNameProgressUpdated, func(ctx context.Context, e event.Event) error {
		return b.NotifyDirty(ctx, e.(domain.EventProgressUpdated).SessionID)
	})
	b.bus.Subscribe(domain.EventNameRoundStarted, func(ctx context.Context, e event.Event) error {
		return b.ForceTick(ctx, e.(domain.EventRoundStarted).SessionID)
	})
	b.bus.Subscribe(domain.EventNameRoundEnded, func(ctx context.Context, e event.Event) error {
		return b.ForceTick(ctx, e.(domain.EventRoundEnded).SessionID)
	})
	b.bus.Subscribe(domain.EventNameSessionCompleted, func(ctx context.Context, e event.Event) error {
		b.forget(e.(domain.EventSessionCompleted).SessionID)
		return nil
	})

	return b
}

// NotifyDirty signals that the session has fresh counters. If the interval
// since the last broadcast has elapsed, the leaderboard is recomputed and
// emitted now; otherwise the call is a no-op.
func (b *Broadcaster) NotifyDirty(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	now := b.clock.Now()
	if now.Sub(b.lastTick[sessionID]) < b.interval {
		b.mu.Unlock()
		return nil
	}
	b.lastTick[sessionID] = now
	b.mu.Unlock()

	return b.tick(ctx, sessionID)
}

// ForceTick emits immediately and opens a fresh window. Round start/end edges
// must always be visible, throttled or not.
func (b *Broadcaster) ForceTick(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	b.lastTick[sessionID] = b.clock.Now()
	b.mu.Unlock()

	return b.tick(ctx, sessionID)
}

func (b *Broadcaster) tick(ctx context.Context, sessionID string) error {
	lb, err := b.snaps.LiveLeaderboard(sessionID)
	if err != nil {
		if errors.IsCode(err, errors.CodeNotFound) {
			// Session evicted between signal and tick.
			return nil
		}
		return err
	}

	telemetry.LeaderboardBroadcasts.Inc()
	b.bus.Publish(ctx, domain.EventLeaderboardTick{Leaderboard: lb})
	return nil
}

func (b *Broadcaster) forget(sessionID string) {
	b.mu.Lock()
	delete(b.lastTick, sessionID)
	b.mu.Unlock()
}
