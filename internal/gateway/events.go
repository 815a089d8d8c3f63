package gateway

import "encoding/json"

// Envelope is the wire frame for both directions: a name and a payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound event names.
const (
	EventCreate     = "createCompetition"
	EventJoin       = "join"
	EventStartRound = "startRound"
	EventEndRound   = "endRound"
	EventProgress   = "progress"
)

// Outbound event names.
const (
	EventCreated           = "competitionCreated"
	EventJoinSuccess       = "joinSuccess"
	EventParticipantJoined = "participantJoined"
	EventParticipantLeft   = "participantLeft"
	EventRoundStarted      = "roundStarted"
	EventLeaderboardUpdate = "leaderboardUpdate"
	EventRoundEnded        = "roundEnded"
	EventFinalResults      = "finalResults"
	EventError             = "error"
)

type (
	CreateRequest struct {
		Code   string      `json:"code"`
		Mode   string      `json:"mode"`
		Rounds []RoundPlan `json:"rounds"`
	}

	RoundPlan struct {
		Text     string `json:"text"`
		Duration int    `json:"duration"` // seconds, 0 disables the auto-end timer
	}

	JoinRequest struct {
		Code            string `json:"code"`
		ParticipantName string `json:"participantName"`
	}

	StartRoundRequest struct {
		RoundIndex int `json:"roundIndex"`
	}

	EndRoundRequest struct {
		RoundIndex int `json:"roundIndex"`
	}

	// ProgressRequest carries raw counters. ElapsedTime is accepted on the
	// wire for backward compatibility but never used for scoring; the server
	// clock decides elapsed time.
	ProgressRequest struct {
		CorrectChars int     `json:"correctChars"`
		TotalChars   int     `json:"totalChars"`
		Errors       int     `json:"errors"`
		Backspaces   int     `json:"backspaces"`
		WordsTyped   int     `json:"wordsTyped"`
		Completed    bool    `json:"completed"`
		ElapsedTime  float64 `json:"elapsedTime"`
	}

	CreatedResponse struct {
		Code string `json:"code"`
		Mode string `json:"mode"`
	}

	JoinSuccessResponse struct {
		Name              string `json:"name"`
		Code              string `json:"code"`
		TotalParticipants int    `json:"totalParticipants"`
	}

	ErrorResponse struct {
		Message string `json:"message"`
	}
)
