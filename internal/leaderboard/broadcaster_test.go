package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ewocs/typing-comp/internal/domain"
	"github.com/Ewocs/typing-comp/internal/errors"
	"github.com/Ewocs/typing-comp/internal/event"
	"github.com/Ewocs/typing-comp/internal/leaderboard"
)

type fakeSnapshots struct {
	mu     sync.Mutex
	boards map[string]domain.Leaderboard
}

func (f *fakeSnapshots) LiveLeaderboard(sessionID string) (domain.Leaderboard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	lb, ok := f.boards[sessionID]
	if !ok {
		return domain.Leaderboard{}, errors.New(errors.CodeNotFound)
	}
	return lb, nil
}

type capture struct {
	mu    sync.Mutex
	ticks []domain.EventLeaderboardTick
}

func (c *capture) subscribe(bus *event.Bus) {
	bus.Subscribe(domain.EventNameLeaderboardTick, func(ctx context.Context, e event.Event) error {
		c.mu.Lock()
		c.ticks = append(c.ticks, e.(domain.EventLeaderboardTick))
		c.mu.Unlock()
		return nil
	})
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ticks)
}

func TestBroadcaster_NotifyDirty(t *testing.T) {
	type (
		inputs struct {
			// notify holds offsets from the start at which NotifyDirty fires.
			notify []time.Duration
		}

		outputs struct {
			ticks int
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"first signal broadcasts immediately": {
			arrange: func() inputs {
				return inputs{notify: []time.Duration{0}}
			},
			assert: func(t *testing.T, out outputs) {
				assert.Equal(t, 1, out.ticks)
			},
		},

		"signals inside the window are dropped, not queued": {
			arrange: func() inputs {
				return inputs{notify: []time.Duration{
					0,
					100 * time.Millisecond,
					200 * time.Millisecond,
					999 * time.Millisecond,
				}}
			},
			assert: func(t *testing.T, out outputs) {
				assert.Equal(t, 1, out.ticks)
			},
		},

		"a signal after the window elapses broadcasts again": {
			arrange: func() inputs {
				return inputs{notify: []time.Duration{
					0,
					500 * time.Millisecond,
					time.Second,
				}}
			},
			assert: func(t *testing.T, out outputs) {
				assert.Equal(t, 2, out.ticks)
			},
		},

		"continuous traffic never exceeds one broadcast per second": {
			arrange: func() inputs {
				// 10ms update cadence over 5 seconds of traffic.
				var offsets []time.Duration
				for d := time.Duration(0); d < 5*time.Second; d += 10 * time.Millisecond {
					offsets = append(offsets, d)
				}
				return inputs{notify: offsets}
			},
			assert: func(t *testing.T, out outputs) {
				assert.Equal(t, 5, out.ticks)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()

			clock := clockwork.NewFakeClock()
			bus := event.NewBus()
			snaps := &fakeSnapshots{boards: map[string]domain.Leaderboard{
				"s1": {SessionID: "s1", RoundIndex: 1},
			}}

			rec := &capture{}
			rec.subscribe(bus)

			b := leaderboard.NewBroadcaster(leaderboard.Config{
				EventBus:  bus,
				Snapshots: snaps,
				Clock:     clock,
			})

			elapsed := time.Duration(0)
			for _, offset := range in.notify {
				if offset > elapsed {
					clock.Advance(offset - elapsed)
					elapsed = offset
				}
				require.NoError(t, b.NotifyDirty(context.Background(), "s1"))
			}
			bus.Stop()

			tt.assert(t, outputs{ticks: rec.count()})
		})
	}
}

func TestBroadcaster_SessionsThrottleIndependently(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	bus := event.NewBus()
	snaps := &fakeSnapshots{boards: map[string]domain.Leaderboard{
		"s1": {SessionID: "s1"},
		"s2": {SessionID: "s2"},
	}}

	rec := &capture{}
	rec.subscribe(bus)

	b := leaderboard.NewBroadcaster(leaderboard.Config{
		EventBus:  bus,
		Snapshots: snaps,
		Clock:     clock,
	})

	require.NoError(t, b.NotifyDirty(context.Background(), "s1"))
	require.NoError(t, b.NotifyDirty(context.Background(), "s2"))
	bus.Stop()

	assert.Equal(t, 2, rec.count())
}

func TestBroadcaster_ForceTickBypassesThrottle(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	bus := event.NewBus()
	snaps := &fakeSnapshots{boards: map[string]domain.Leaderboard{
		"s1": {SessionID: "s1"},
	}}

	rec := &capture{}
	rec.subscribe(bus)

	b := leaderboard.NewBroadcaster(leaderboard.Config{
		EventBus:  bus,
		Snapshots: snaps,
		Clock:     clock,
	})

	require.NoError(t, b.NotifyDirty(context.Background(), "s1"))
	require.NoError(t, b.ForceTick(context.Background(), "s1"))

	// The forced tick reopens the window: the next dirty signal is throttled.
	require.NoError(t, b.NotifyDirty(context.Background(), "s1"))
	bus.Stop()

	assert.Equal(t, 2, rec.count())
}

func TestBroadcaster_MissingSessionIsSilent(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	b := leaderboard.NewBroadcaster(leaderboard.Config{
		EventBus:  bus,
		Snapshots: &fakeSnapshots{boards: map[string]domain.Leaderboard{}},
		Clock:     clockwork.NewFakeClock(),
	})

	require.NoError(t, b.NotifyDirty(context.Background(), "gone"))
	bus.Stop()
}
