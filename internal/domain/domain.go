package domain

import "time"

// Mode describes how a competition is run.
type Mode string

const (
	// ModeRounds runs an ordered sequence of typing rounds.
	ModeRounds Mode = "rounds"
	// ModeTimed runs a single round that auto-ends after a fixed duration.
	ModeTimed Mode = "timed"
	// ModeWordCount runs a single round that ends once everyone finished the text.
	ModeWordCount Mode = "word-count"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeRounds, ModeTimed, ModeWordCount:
		return true
	}
	return false
}

// SessionStatus is the lifecycle state of a competition.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionOngoing   SessionStatus = "ongoing"
	SessionCompleted SessionStatus = "completed"
)

// RoundStatus is the lifecycle state of one round. Completed is terminal.
type RoundStatus string

const (
	RoundPending    RoundStatus = "pending"
	RoundInProgress RoundStatus = "in-progress"
	RoundCompleted  RoundStatus = "completed"
)

// RoundSpec is the organizer-supplied plan for one round.
type RoundSpec struct {
	Text     string
	Duration time.Duration
}

// RoundInfo is a read-only view of a round's lifecycle.
type RoundInfo struct {
	Index     int // 1-based
	Text      string
	Duration  time.Duration
	Status    RoundStatus
	StartedAt time.Time
	EndedAt   time.Time
}

// Progress carries the raw counters a client reports while typing. Everything
// derived from these (wpm, accuracy, elapsed time) is recomputed server-side.
type Progress struct {
	CorrectChars int
	TotalChars   int
	Errors       int
	Backspaces   int
	WordsTyped   int
	Completed    bool
}

// Participant is a point-in-time view of one participant's live record.
type Participant struct {
	ConnectionID string
	Name         string
	Present      bool
	Progress     Progress
	WPM          float64
	Accuracy     float64
}

// ResultRecord is the immutable snapshot taken at round end. Rank is assigned
// exactly once, at finalization.
type ResultRecord struct {
	ConnectionID string
	Name         string
	WPM          float64
	Accuracy     float64
	CorrectChars int
	TotalChars   int
	Errors       int
	Backspaces   int
	WordsTyped   int
	TypingTime   time.Duration
	Completed    bool
	Rank         int
}

// LeaderboardEntry is recomputed on every broadcast tick and never stored.
type LeaderboardEntry struct {
	Name     string
	WPM      float64
	Accuracy float64
	Rank     int
}

// Leaderboard is one throttled tick's view of a session, ranked.
type Leaderboard struct {
	SessionID  string
	RoundIndex int
	Entries    []LeaderboardEntry
}
