// Package history records answered questions per user and namespace.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docsage/docsage/internal/log"
)

// Record is one answered question.
type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Namespace string    `json:"namespace"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

// Ledger persists chat history in PostgreSQL.
type Ledger struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewLedger creates a history ledger over pool. A nil logger falls
// back to slog.Default().
func NewLedger(pool *pgxpool.Pool, logger log.Logger) (*Ledger, error) {
	if pool == nil {
		return nil, errors.New("nil pool")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{pool: pool, logger: logger}, nil
}

// Append records an answered question for userID.
func (l *Ledger) Append(ctx context.Context, userID, namespace, question, answer string) error {
	if userID == "" || namespace == "" || question == "" || answer == "" {
		return errors.New("incomplete history record")
	}

	_, err := l.pool.Exec(ctx, `
		INSERT INTO chat_history (user_id, namespace, question, answer)
		VALUES ($1, $2, $3, $4)
	`, userID, namespace, question, answer)
	if err != nil {
		return fmt.Errorf("appending history: %w", err)
	}
	return nil
}

// List returns the user's records for a namespace, newest first.
// Records inserted in the same instant tie-break on id descending so
// pagination stays stable.
func (l *Ledger) List(ctx context.Context, userID, namespace string, limit int) ([]Record, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := l.pool.Query(ctx, `
		SELECT id, user_id, namespace, question, answer, created_at
		FROM chat_history
		WHERE user_id = $1 AND namespace = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, userID, namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.UserID, &r.Namespace, &r.Question, &r.Answer, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning history record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	return records, nil
}
