// Package store persists finalized result records and session status to
// Postgres. Writes are idempotent upserts: the same logical finalization can
// be replayed without duplicating rows. A failed write is logged by the bus
// and never blocks or rolls back the in-memory lifecycle.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Ewocs/typing-comp/internal/domain"
	"github.com/Ewocs/typing-comp/internal/event"
)

type Config struct {
	EventBus *event.Bus
	DB       *pgxpool.Pool
}

type Service struct {
	eb *event.Bus
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	s := &Service{
		eb: c.EventBus,
		db: c.DB,
	}

	s.eb.Subscribe(domain.EventNameRoundEnded, func(ctx context.Context, e event.Event) error {
		ended := e.(domain.EventRoundEnded)
		return s.UpsertResults(ctx, ended.SessionID, ended.RoundIndex, ended.Results)
	})
	s.eb.Subscribe(domain.EventNameSessionCompleted, func(ctx context.Context, e event.Event) error {
		return s.UpsertSessionStatus(ctx, e.(domain.EventSessionCompleted).SessionID, domain.SessionCompleted)
	})
	s.eb.Subscribe(domain.EventNameRoundStarted, func(ctx context.Context, e event.Event) error {
		return s.UpsertSessionStatus(ctx, e.(domain.EventRoundStarted).SessionID, domain.SessionOngoing)
	})

	return s
}

// UpsertResults writes one round's finalized records in a single batch.
func (s *Service) UpsertResults(ctx context.Context, sessionID string, roundIndex int, results []domain.ResultRecord) error {
	const stmt = `
INSERT INTO results (
	session_id, round_index, participant, name, wpm, accuracy,
	correct_chars, total_chars, errors, backspaces, words_typed,
	typing_time_ms, completed, rank, update_time
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (session_id, round_index, participant) DO UPDATE SET
	name = EXCLUDED.name,
	wpm = EXCLUDED.wpm,
	accuracy = EXCLUDED.accuracy,
	correct_chars = EXCLUDED.correct_chars,
	total_chars = EXCLUDED.total_chars,
	errors = EXCLUDED.errors,
	backspaces = EXCLUDED.backspaces,
	words_typed = EXCLUDED.words_typed,
	typing_time_ms = EXCLUDED.typing_time_ms,
	completed = EXCLUDED.completed,
	rank = EXCLUDED.rank,
	update_time = EXCLUDED.update_time;`

	now := time.Now()
	batch := new(pgx.Batch)
	for _, r := range results {
		batch.Queue(stmt,
			sessionID, roundIndex, r.ConnectionID, r.Name,
			decimal.NewFromFloat(r.WPM), decimal.NewFromFloat(r.Accuracy),
			r.CorrectChars, r.TotalChars, r.Errors, r.Backspaces, r.WordsTyped,
			r.TypingTime.Milliseconds(), r.Completed, r.Rank, now,
		)
	}

	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("store: upsert results: session=%s round=%d: %w", sessionID, roundIndex, err)
	}

	return nil
}

// UpsertSessionStatus records the session's lifecycle status.
func (s *Service) UpsertSessionStatus(ctx context.Context, sessionID string, status domain.SessionStatus) error {
	const stmt = `
INSERT INTO sessions (session_id, status, update_time)
VALUES ($1, $2, $3)
ON CONFLICT (session_id) DO UPDATE SET
	status = EXCLUDED.status,
	update_time = EXCLUDED.update_time;`

	if _, err := s.db.Exec(ctx, stmt, sessionID, status, time.Now()); err != nil {
		return fmt.Errorf("store: upsert session status: session=%s: %w", sessionID, err)
	}

	return nil
}

// ListResults returns a round's persisted records in rank order.
func (s *Service) ListResults(ctx context.Context, sessionID string, roundIndex int) ([]domain.ResultRecord, error) {
	const stmt = `
SELECT participant, name, wpm, accuracy, correct_chars, total_chars,
	errors, backspaces, words_typed, typing_time_ms, completed, rank
FROM results
WHERE session_id = $1 AND round_index = $2
ORDER BY rank;`

	rows, err := s.db.Query(ctx, stmt, sessionID, roundIndex)
	if err != nil {
		return nil, fmt.Errorf("store: list results: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ResultRecord, error) {
		var (
			rec           domain.ResultRecord
			wpm, accuracy decimal.Decimal
			typingMS      int64
		)
		if err := row.Scan(&rec.ConnectionID, &rec.Name, &wpm, &accuracy,
			&rec.CorrectChars, &rec.TotalChars, &rec.Errors, &rec.Backspaces,
			&rec.WordsTyped, &typingMS, &rec.Completed, &rec.Rank); err != nil {
			return domain.ResultRecord{}, err
		}
		rec.WPM = wpm.InexactFloat64()
		rec.Accuracy = accuracy.InexactFloat64()
		rec.TypingTime = time.Duration(typingMS) * time.Millisecond
		return rec, nil
	})
}
