// Package session implements the competition session engine: the per-session
// round state machine, the participant progress tracker and the registry that
// shards sessions. All scores are recomputed server-side from raw counters.
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
	"github.com/Ewocs/typing-comp/internal/scoring"
)

// EndTrigger records which path requested a round end. Duplicate triggers are
// expected and harmless; the trigger only matters for logging.
type EndTrigger string

const (
	TriggerManual    EndTrigger = "manual"
	TriggerTimer     EndTrigger = "timer"
	TriggerCompleted EndTrigger = "all-completed"
)

// Settings describe a competition at creation time. For timed and word-count
// modes Rounds holds the single synthetic round descriptor.
type Settings struct {
	Mode   domain.Mode
	Rounds []domain.RoundSpec
}

type round struct {
	index     int // 1-based
	text      string
	duration  time.Duration
	status    domain.RoundStatus
	startedAt time.Time
	endedAt   time.Time
	results   []domain.ResultRecord // append-once, written at round end
}

type participantRecord struct {
	connectionID  string
	name          string
	present       bool
	progress      domain.Progress
	testStartTime time.Time
	wpm           float64
	accuracy      float64
}

// Session owns one competition: its rounds, participants, transition latch and
// auto-end timer. All mutable state is protected by mu; sessions never share
// locks with each other.
type Session struct {
	id    string
	mode  domain.Mode
	clock clockwork.Clock
	bus   *event.Bus

	mu            sync.Mutex
	status        domain.SessionStatus
	rounds        []*round
	current       int // 0-based index of the active or last-started round, -1 before any start
	participants  map[string]*participantRecord
	joinOrder     []string
	everJoined    bool
	transitioning bool // the transition latch: true exactly while a start/end is in flight
	endTimer      clockwork.Timer
}

func newSession(id string, st Settings, clock clockwork.Clock, bus *event.Bus) *Session {
	specs := st.Rounds
	if len(specs) == 0 {
		// Synthetic round so timed/word-count sessions share the rounds machinery.
		specs = []domain.RoundSpec{{}}
	}

	s := &Session{
		id:           id,
		mode:         st.Mode,
		clock:        clock,
		bus:          bus,
		status:       domain.SessionPending,
		current:      -1,
		participants: make(map[string]*participantRecord),
	}

	for i, spec := range specs {
		s.rounds = append(s.rounds, &round{
			index:    i + 1,
			text:     spec.Text,
			duration: spec.Duration,
			status:   domain.RoundPending,
		})
	}

	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Mode() domain.Mode { return s.mode }

func (s *Session) Status() domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Join attaches a participant record for the connection and returns the new
// participant count. Re-joining with a known connection id reconnects the
// existing record instead of resetting it.
func (s *Session) Join(ctx context.Context, connectionID, name string) (int, error) {
	if connectionID == "" || name == "" {
		return 0, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("join: connection id and name are required"))
	}

	s.mu.Lock()

	if s.status == domain.SessionCompleted {
		s.mu.Unlock()
		return 0, errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("join: competition %s already completed", s.id))
	}

	if p, ok := s.participants[connectionID]; ok {
		p.present = true
		total := s.presentCount()
		s.mu.Unlock()
		return total, nil
	}

	p := &participantRecord{
		connectionID: connectionID,
		name:         name,
		present:      true,
	}
	if r := s.activeRound(); r != nil {
		// Late joiner: the clock starts for them now, not at round start.
		p.testStartTime = s.clock.Now()
	}

	s.participants[connectionID] = p
	s.joinOrder = append(s.joinOrder, connectionID)
	s.everJoined = true
	total := s.presentCount()
	s.mu.Unlock()

	s.bus.Publish(ctx, domain.EventParticipantJoined{
		SessionID:         s.id,
		ParticipantName:   name,
		TotalParticipants: total,
	})

	return total, nil
}

// Disconnect marks the participant absent. A disconnect never ends a round;
// the last-known counters stay eligible for the final snapshot. Participants
// who leave before any round started are removed entirely.
func (s *Session) Disconnect(ctx context.Context, connectionID string) {
	s.mu.Lock()

	p, ok := s.participants[connectionID]
	if !ok {
		s.mu.Unlock()
		return
	}

	name := p.name
	if s.current < 0 {
		delete(s.participants, connectionID)
		for i, id := range s.joinOrder {
			if id == connectionID {
				s.joinOrder = append(s.joinOrder[:i], s.joinOrder[i+1:]...)
				break
			}
		}
	} else {
		p.present = false
	}
	total := s.presentCount()
	shouldEnd := s.mode == domain.ModeWordCount && s.allPresentCompletedLocked()
	s.mu.Unlock()

	s.bus.Publish(ctx, domain.EventParticipantLeft{
		SessionID:         s.id,
		ParticipantName:   name,
		TotalParticipants: total,
	})

	// A disconnect can leave only finished participants behind; word-count
	// rounds end at that point.
	if shouldEnd {
		s.EndRound(ctx, 0, TriggerCompleted)
	}
}

// StartRound transitions a pending round to in-progress. index is 1-based;
// 0 means the next pending round. A duplicate start while a transition is in
// flight is a logged no-op, never an error.
func (s *Session) StartRound(ctx context.Context, index int) error {
	s.mu.Lock()

	if !s.tryAcquireTransition() {
		s.mu.Unlock()
		slog.Info("session: transition already in flight, ignoring start",
			"session", s.id, "round", index)
		return nil
	}

	started, err := func() (domain.EventRoundStarted, error) {
		defer s.releaseTransition()

		r, err := s.resolveRound(index)
		if err != nil {
			return domain.EventRoundStarted{}, err
		}

		if r.status == domain.RoundInProgress {
			// Double-click race after the first start already won.
			slog.Info("session: round already started, ignoring duplicate start",
				"session", s.id, "round", r.index)
			return domain.EventRoundStarted{}, errAlreadyTransitioned
		}
		if r.status == domain.RoundCompleted {
			return domain.EventRoundStarted{}, errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("start: round %d of %s is %s", r.index, s.id, r.status))
		}
		if prev := s.activeRound(); prev != nil {
			return domain.EventRoundStarted{}, errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("start: round %d of %s still in progress", prev.index, s.id))
		}

		now := s.clock.Now()
		r.status = domain.RoundInProgress
		r.startedAt = now
		s.current = r.index - 1
		s.status = domain.SessionOngoing

		// The server-observed start instant is the only clock the scoring
		// ever trusts. Client-supplied start or elapsed times are ignored.
		for _, p := range s.participants {
			p.progress = domain.Progress{}
			p.testStartTime = now
			p.wpm = 0
			p.accuracy = 0
		}

		if r.duration > 0 {
			idx := r.index
			s.endTimer = s.clock.AfterFunc(r.duration, func() {
				s.EndRound(context.WithoutCancel(ctx), idx, TriggerTimer)
			})
		}

		return domain.EventRoundStarted{
			SessionID:  s.id,
			RoundIndex: r.index,
			Text:       r.text,
			Duration:   r.duration,
			StartedAt:  now,
		}, nil
	}()
	s.mu.Unlock()

	if err == errAlreadyTransitioned {
		return nil
	}
	if err != nil {
		return err
	}

	slog.Info("session: round started",
		"session", s.id, "round", started.RoundIndex, "duration", started.Duration)
	s.bus.Publish(ctx, started)
	return nil
}

// EndRound finalizes an in-progress round: cancels the auto-end timer,
// snapshots every participant's counters into immutable result records,
// ranks them and marks the round completed. Exactly one of possibly many
// concurrent triggers (manual, timer, disconnect cascade) wins; the rest are
// silent no-ops.
func (s *Session) EndRound(ctx context.Context, index int, trigger EndTrigger) error {
	s.mu.Lock()

	if !s.tryAcquireTransition() {
		s.mu.Unlock()
		slog.Info("session: transition already in flight, ignoring end",
			"session", s.id, "round", index, "trigger", trigger)
		return nil
	}

	ended, completed, err := func() (domain.EventRoundEnded, *domain.EventSessionCompleted, error) {
		defer s.releaseTransition()

		r, err := s.resolveRound(index)
		if err != nil {
			return domain.EventRoundEnded{}, nil, err
		}

		if r.status == domain.RoundCompleted {
			// The losing side of the manual-vs-timer race lands here.
			slog.Info("session: round already finalized, ignoring end",
				"session", s.id, "round", r.index, "trigger", trigger)
			return domain.EventRoundEnded{}, nil, errAlreadyTransitioned
		}
		if r.status != domain.RoundInProgress {
			return domain.EventRoundEnded{}, nil, errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("end: round %d of %s is %s", r.index, s.id, r.status))
		}

		// Disarm the pending auto-end before anything else so the timer and a
		// manual end can never both finalize this round.
		if s.endTimer != nil {
			s.endTimer.Stop()
			s.endTimer = nil
		}

		now := s.clock.Now()
		r.endedAt = now
		r.results = s.snapshotResults(now)
		r.status = domain.RoundCompleted

		ended := domain.EventRoundEnded{
			SessionID:  s.id,
			RoundIndex: r.index,
			EndedAt:    now,
			Results:    r.results,
		}

		if r.index == len(s.rounds) {
			s.status = domain.SessionCompleted
			return ended, &domain.EventSessionCompleted{
				SessionID:    s.id,
				FinalResults: r.results,
			}, nil
		}

		return ended, nil, nil
	}()
	s.mu.Unlock()

	if err == errAlreadyTransitioned {
		return nil
	}
	if err != nil {
		return err
	}

	slog.Info("session: round ended",
		"session", s.id, "round", ended.RoundIndex, "trigger", trigger, "results", len(ended.Results))
	s.bus.Publish(ctx, ended)
	if completed != nil {
		slog.Info("session: competition completed", "session", s.id)
		s.bus.Publish(ctx, *completed)
	}
	return nil
}

// ApplyProgress overwrites the participant's live counters with the reported
// raw values and recomputes wpm/accuracy from the server clock. It returns
// whether the update was accepted; stale or out-of-round updates are dropped
// silently per the error-handling contract.
func (s *Session) ApplyProgress(ctx context.Context, connectionID string, p domain.Progress) (bool, error) {
	if p.CorrectChars < 0 || p.TotalChars < 0 || p.Errors < 0 || p.Backspaces < 0 || p.WordsTyped < 0 {
		return false, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("progress: negative counters"))
	}

	s.mu.Lock()

	rec, ok := s.participants[connectionID]
	if !ok {
		s.mu.Unlock()
		return false, errors.New(errors.CodeNotFound,
			errors.WithMessagef("progress: unknown participant in %s", s.id))
	}

	r := s.currentRound()
	now := s.clock.Now()
	if r == nil || r.status != domain.RoundInProgress || (!r.endedAt.IsZero() && now.After(r.endedAt)) {
		// Late packet after the round finalized, or no round running.
		s.mu.Unlock()
		return false, nil
	}

	if p.CorrectChars > p.TotalChars {
		p.CorrectChars = p.TotalChars
	}

	rec.progress = p
	rec.present = true
	elapsed := now.Sub(rec.testStartTime)
	rec.wpm = scoring.WPM(p.CorrectChars, elapsed)
	rec.accuracy = scoring.Accuracy(p.CorrectChars, p.TotalChars)

	shouldEnd := s.mode == domain.ModeWordCount && s.allPresentCompletedLocked()
	s.mu.Unlock()

	s.bus.Publish(ctx, domain.EventProgressUpdated{SessionID: s.id})

	if shouldEnd {
		s.EndRound(ctx, 0, TriggerCompleted)
	}

	return true, nil
}

// LiveLeaderboard ranks the present participants' live records. Entries are
// ephemeral; nothing here is stored.
func (s *Session) LiveLeaderboard() domain.Leaderboard {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]domain.LeaderboardEntry, 0, len(s.joinOrder))
	for _, id := range s.joinOrder {
		p := s.participants[id]
		if p == nil || !p.present {
			continue
		}
		entries = append(entries, domain.LeaderboardEntry{
			Name:     p.name,
			WPM:      p.wpm,
			Accuracy: p.accuracy,
		})
	}

	ranked := scoring.Rank(entries, func(e domain.LeaderboardEntry) float64 { return e.WPM })
	for i := range ranked {
		ranked[i].Rank = i + 1
	}

	roundIndex := 0
	if r := s.currentRound(); r != nil {
		roundIndex = r.index
	}

	return domain.Leaderboard{
		SessionID:  s.id,
		RoundIndex: roundIndex,
		Entries:    ranked,
	}
}

// Round returns the lifecycle view of the 1-based round index.
func (s *Session) Round(index int) (domain.RoundInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 1 || index > len(s.rounds) {
		return domain.RoundInfo{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("round %d of %s not found", index, s.id))
	}

	r := s.rounds[index-1]
	return domain.RoundInfo{
		Index:     r.index,
		Text:      r.text,
		Duration:  r.duration,
		Status:    r.status,
		StartedAt: r.startedAt,
		EndedAt:   r.endedAt,
	}, nil
}

// Results returns the finalized result records of a completed round.
func (s *Session) Results(index int) ([]domain.ResultRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 1 || index > len(s.rounds) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("round %d of %s not found", index, s.id))
	}

	r := s.rounds[index-1]
	if r.status != domain.RoundCompleted {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("round %d of %s not completed", index, s.id))
	}

	out := make([]domain.ResultRecord, len(r.results))
	copy(out, r.results)
	return out, nil
}

// Participants returns point-in-time views of every participant record.
func (s *Session) Participants() []domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Participant, 0, len(s.joinOrder))
	for _, id := range s.joinOrder {
		p := s.participants[id]
		if p == nil {
			continue
		}
		out = append(out, domain.Participant{
			ConnectionID: p.connectionID,
			Name:         p.name,
			Present:      p.present,
			Progress:     p.progress,
			WPM:          p.wpm,
			Accuracy:     p.accuracy,
		})
	}
	return out
}

// errAlreadyTransitioned marks the losing side of a duplicate start/end race.
// It never escapes to a caller; duplicate triggers are harmless no-ops.
var errAlreadyTransitioned = errors.New(errors.CodeFailedPrecondition,
	errors.WithMessagef("round already transitioned"))

// tryAcquireTransition is the concurrency guard. It must be called with mu
// held; it succeeds only while no other start/end is in flight.
func (s *Session) tryAcquireTransition() bool {
	if s.transitioning {
		return false
	}
	s.transitioning = true
	return true
}

func (s *Session) releaseTransition() {
	s.transitioning = false
}

// resolveRound maps an external 1-based index to a round; 0 selects the next
// actionable round (the active one, else the first pending one).
func (s *Session) resolveRound(index int) (*round, error) {
	if index == 0 {
		if r := s.activeRound(); r != nil {
			return r, nil
		}
		for _, r := range s.rounds {
			if r.status == domain.RoundPending {
				return r, nil
			}
		}
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("no actionable round in %s", s.id))
	}

	if index < 1 || index > len(s.rounds) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("round %d of %s not found", index, s.id))
	}
	return s.rounds[index-1], nil
}

func (s *Session) activeRound() *round {
	for _, r := range s.rounds {
		if r.status == domain.RoundInProgress {
			return r
		}
	}
	return nil
}

func (s *Session) currentRound() *round {
	if s.current < 0 || s.current >= len(s.rounds) {
		return nil
	}
	return s.rounds[s.current]
}

func (s *Session) presentCount() int {
	n := 0
	for _, p := range s.participants {
		if p.present {
			n++
		}
	}
	return n
}

func (s *Session) allPresentCompletedLocked() bool {
	if r := s.activeRound(); r == nil {
		return false
	}

	present := 0
	for _, p := range s.participants {
		if !p.present {
			continue
		}
		present++
		if !p.progress.Completed {
			return false
		}
	}
	return present > 0
}

// snapshotResults freezes every participant's live counters (present or not)
// into result records, in join order, and assigns dense ranks by wpm.
func (s *Session) snapshotResults(endedAt time.Time) []domain.ResultRecord {
	records := make([]domain.ResultRecord, 0, len(s.joinOrder))
	for _, id := range s.joinOrder {
		p := s.participants[id]
		if p == nil {
			continue
		}

		var typingTime time.Duration
		if !p.testStartTime.IsZero() {
			typingTime = endedAt.Sub(p.testStartTime)
		}

		records = append(records, domain.ResultRecord{
			ConnectionID: p.connectionID,
			Name:         p.name,
			WPM:          p.wpm,
			Accuracy:     p.accuracy,
			CorrectChars: p.progress.CorrectChars,
			TotalChars:   p.progress.TotalChars,
			Errors:       p.progress.Errors,
			Backspaces:   p.progress.Backspaces,
			WordsTyped:   p.progress.WordsTyped,
			TypingTime:   typingTime,
			Completed:    p.progress.Completed,
		})
	}

	ranked := scoring.Rank(records, func(r domain.ResultRecord) float64 { return r.WPM })
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}
