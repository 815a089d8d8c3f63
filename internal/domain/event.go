package domain

import "time"

const (
	EventNameParticipantJoined = "participant.joined"
	EventNameParticipantLeft   = "participant.left"
	EventNameRoundStarted      = "round.started"
	EventNameProgressUpdated   = "progress.updated"
	EventNameLeaderboardTick   = "leaderboard.tick"
	EventNameRoundEnded        = "round.ended"
	EventNameSessionCompleted  = "session.completed"
)

type EventParticipantJoined struct {
	SessionID         string
	ParticipantName   string
	TotalParticipants int
}

func (EventParticipantJoined) Name() string { return EventNameParticipantJoined }

type EventParticipantLeft struct {
	SessionID         string
	ParticipantName   string
	TotalParticipants int
}

func (EventParticipantLeft) Name() string { return EventNameParticipantLeft }

type EventRoundStarted struct {
	SessionID  string
	RoundIndex int
	Text       string
	Duration   time.Duration
	StartedAt  time.Time
}

func (EventRoundStarted) Name() string { return EventNameRoundStarted }

// EventProgressUpdated signals that a session has fresh counters. It carries no
// scores on purpose: the broadcaster recomputes the leaderboard from live
// records on its own schedule.
type EventProgressUpdated struct {
	SessionID string
}

func (EventProgressUpdated) Name() string { return EventNameProgressUpdated }

type EventLeaderboardTick struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardTick) Name() string { return EventNameLeaderboardTick }

type EventRoundEnded struct {
	SessionID  string
	RoundIndex int
	EndedAt    time.Time
	Results    []ResultRecord
}

func (EventRoundEnded) Name() string { return EventNameRoundEnded }

type EventSessionCompleted struct {
	SessionID    string
	FinalResults []ResultRecord
}

func (EventSessionCompleted) Name() string { return EventNameSessionCompleted }
