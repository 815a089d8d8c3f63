package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Ewocs/typing-comp/internal/domain"
	"github.com/Ewocs/typing-comp/internal/errors"
	"github.com/Ewocs/typing-comp/internal/event"
)

const (
	defaultGracePeriod = 5 * time.Minute
	defaultIdleTTL     = time.Hour
)

type RegistryConfig struct {
	EventBus *event.Bus
	Clock    clockwork.Clock
	// GracePeriod is how long a completed session stays resolvable before
	// eviction, so late subscribers can still fetch final results.
	GracePeriod time.Duration
	// IdleTTL evicts sessions that never left pending with nobody joined.
	IdleTTL time.Duration
}

// Registry is the process-wide map from competition id to live session.
// Sessions are independent shards: operations on different sessions never
// block each other and only the map itself is registry-locked.
type Registry struct {
	bus     *event.Bus
	clock   clockwork.Clock
	grace   time.Duration
	idleTTL time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(c RegistryConfig) *Registry {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = defaultGracePeriod
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = defaultIdleTTL
	}

	r := &Registry{
		bus:      c.EventBus,
		clock:    c.Clock,
		grace:    c.GracePeriod,
		idleTTL:  c.IdleTTL,
		sessions: make(map[string]*Session),
	}

	r.bus.Subscribe(domain.EventNameSessionCompleted, func(ctx context.Context, e event.Event) error {
		r.scheduleEviction(e.(domain.EventSessionCompleted).SessionID)
		return nil
	})

	return r
}

// GetOrCreate returns the session for id, atomically creating a pending one
// with the given settings on first activity.
func (r *Registry) GetOrCreate(id string, st Settings) (*Session, error) {
	if id == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("session id is required"))
	}
	if !st.Mode.Valid() {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid mode %q", st.Mode))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s, nil
	}

	s := newSession(id, st, r.clock, r.bus)
	r.sessions[id] = s
	slog.Info("registry: session created", "session", id, "mode", st.Mode, "rounds", len(s.rounds))

	r.clock.AfterFunc(r.idleTTL, func() {
		r.evictIfIdle(id)
	})

	return s, nil
}

// evictIfIdle drops a session that is still pending with nobody joined after
// the idle TTL.
func (r *Registry) evictIfIdle(id string) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return
	}

	s.mu.Lock()
	idle := s.status == domain.SessionPending && !s.everJoined
	s.mu.Unlock()

	if idle {
		slog.Info("registry: evicting idle session", "session", id)
		r.Remove(id)
	}
}

// Lookup returns the session for id or a not-found error. A missing session
// is a routable condition for the caller, never a crash.
func (r *Registry) Lookup(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("session %s not found", id))
	}
	return s, nil
}

// Remove evicts a session immediately.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		slog.Info("registry: session removed", "session", id)
	}
}

// LiveLeaderboard ranks the live records of the addressed session.
func (r *Registry) LiveLeaderboard(id string) (domain.Leaderboard, error) {
	s, err := r.Lookup(id)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return s.LiveLeaderboard(), nil
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// scheduleEviction removes a finalized session after the grace period, or
// immediately when nobody ever joined it.
func (r *Registry) scheduleEviction(id string) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return
	}

	s.mu.Lock()
	ever := s.everJoined
	s.mu.Unlock()

	if !ever {
		r.Remove(id)
		return
	}

	r.clock.AfterFunc(r.grace, func() {
		r.Remove(id)
	})
}
