// Package notify fans outbound competition events out to Redis pub/sub so
// other instances and non-websocket consumers can follow a session. One
// channel per session: <prefix>:session:<id>.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Ewocs/typing-comp/internal/domain"
	"github.com/Ewocs/typing-comp/internal/event"
	"github.com/Ewocs/typing-comp/internal/scoring"
)

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type Config struct {
	EventBus *event.Bus
	Redis    Redis
	Prefix   string
}

type Service struct {
	eb     *event.Bus
	redis  Redis
	prefix string
}

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	RoundStarted struct {
		RoundIndex int    `json:"round"`
		Text       string `json:"text"`
		Duration   int    `json:"duration"`
		StartTime  int64  `json:"startTime"`
	}

	LeaderboardEntry struct {
		Name     string `json:"name"`
		WPM      int    `json:"wpm"`
		Accuracy int    `json:"accuracy"`
		Rank     int    `json:"rank"`
	}

	Leaderboard struct {
		Round   int                `json:"round"`
		Entries []LeaderboardEntry `json:"leaderboard"`
	}

	Result struct {
		Name         string `json:"name"`
		WPM          int    `json:"wpm"`
		Accuracy     int    `json:"accuracy"`
		CorrectChars int    `json:"correctChars"`
		TotalChars   int    `json:"totalChars"`
		Errors       int    `json:"errors"`
		Backspaces   int    `json:"backspaces"`
		TypingTime   int64  `json:"typingTime"`
		WordsTyped   int    `json:"wordsTyped"`
		Completed    bool   `json:"completed"`
		Rank         int    `json:"rank"`
	}

	RoundEnded struct {
		RoundIndex int      `json:"round"`
		Results    []Result `json:"results"`
	}

	FinalResults struct {
		Rankings []Result `json:"rankings"`
	}

	ParticipantChange struct {
		Name              string `json:"name"`
		TotalParticipants int    `json:"totalParticipants"`
	}
)

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameParticipantJoined, func(ctx context.Context, e event.Event) error {
		joined := e.(domain.EventParticipantJoined)
		return s.publish(ctx, joined.SessionID, "participantJoined", ParticipantChange{
			Name:              joined.ParticipantName,
			TotalParticipants: joined.TotalParticipants,
		})
	})

	s.eb.Subscribe(domain.EventNameParticipantLeft, func(ctx context.Context, e event.Event) error {
		left := e.(domain.EventParticipantLeft)
		return s.publish(ctx, left.SessionID, "participantLeft", ParticipantChange{
			Name:              left.ParticipantName,
			TotalParticipants: left.TotalParticipants,
		})
	})

	s.eb.Subscribe(domain.EventNameRoundStarted, func(ctx context.Context, e event.Event) error {
		started := e.(domain.EventRoundStarted)
		return s.publish(ctx, started.SessionID, "roundStarted", RoundStarted{
			RoundIndex: started.RoundIndex,
			Text:       started.Text,
			Duration:   int(started.Duration / time.Second),
			StartTime:  started.StartedAt.UnixMilli(),
		})
	})

	s.eb.Subscribe(domain.EventNameLeaderboardTick, func(ctx context.Context, e event.Event) error {
		lb := e.(domain.EventLeaderboardTick).Leaderboard
		return s.publish(ctx, lb.SessionID, "leaderboardUpdate", FormatLeaderboard(lb))
	})

	s.eb.Subscribe(domain.EventNameRoundEnded, func(ctx context.Context, e event.Event) error {
		ended := e.(domain.EventRoundEnded)
		return s.publish(ctx, ended.SessionID, "roundEnded", RoundEnded{
			RoundIndex: ended.RoundIndex,
			Results:    FormatResults(ended.Results),
		})
	})

	s.eb.Subscribe(domain.EventNameSessionCompleted, func(ctx context.Context, e event.Event) error {
		completed := e.(domain.EventSessionCompleted)
		return s.publish(ctx, completed.SessionID, "finalResults", FinalResults{
			Rankings: FormatResults(completed.FinalResults),
		})
	})

	return s
}

func (s *Service) publish(ctx context.Context, sessionID, name string, data any) error {
	b, err := json.Marshal(Notification{Event: name, Data: data})
	if err != nil {
		return fmt.Errorf("notify: marshal %s: %v", name, err)
	}

	return s.redis.Publish(ctx, s.channel(sessionID), b).Err()
}

func (s *Service) channel(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, sessionID)
}

// FormatLeaderboard renders a leaderboard for the wire. Scores are rounded to
// integers here, at presentation time, never in the live records.
func FormatLeaderboard(lb domain.Leaderboard) Leaderboard {
	out := Leaderboard{
		Round:   lb.RoundIndex,
		Entries: make([]LeaderboardEntry, 0, len(lb.Entries)),
	}
	for _, e := range lb.Entries {
		out.Entries = append(out.Entries, LeaderboardEntry{
			Name:     e.Name,
			WPM:      scoring.RoundScore(e.WPM),
			Accuracy: scoring.RoundScore(e.Accuracy),
			Rank:     e.Rank,
		})
	}
	return out
}

// FormatResults renders finalized records for the wire.
func FormatResults(records []domain.ResultRecord) []Result {
	out := make([]Result, 0, len(records))
	for _, r := range records {
		out = append(out, Result{
			Name:         r.Name,
			WPM:          scoring.RoundScore(r.WPM),
			Accuracy:     scoring.RoundScore(r.Accuracy),
			CorrectChars: r.CorrectChars,
			TotalChars:   r.TotalChars,
			Errors:       r.Errors,
			Backspaces:   r.Backspaces,
			TypingTime:   r.TypingTime.Milliseconds(),
			WordsTyped:   r.WordsTyped,
			Completed:    r.Completed,
			Rank:         r.Rank,
		})
	}
	return out
}
