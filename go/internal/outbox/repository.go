package outbox

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	insertEventSQL = `
		INSERT INTO race_outbox (id, aggregate_id, event_type, payload)
		VALUES ($1, $2, $3, $4)`

	notifySQL = `SELECT pg_notify($1, $2)`

	fetchUnsentSQL = `
		SELECT id, aggregate_id, event_type, payload, created_at
		FROM race_outbox
		WHERE sent_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	markSentSQL = `UPDATE race_outbox SET sent_at = now() WHERE id = $1`
)

// Execer is satisfied by pgx.Tx, *pgx.Conn and *pgxpool.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// TxBeginner is satisfied by *pgxpool.Pool and *pgx.Conn.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Insert writes an event through db, usually the transaction that produced
// it. When channel is not empty a notification carrying the event id is
// queued for commit time.
func Insert(ctx context.Context, db Execer, channel string, e Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if _, err := db.Exec(ctx, insertEventSQL, e.ID, e.AggregateID, e.EventType, e.Payload); err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", e.EventType, err)
	}
	if channel == "" {
		return nil
	}
	if _, err := db.Exec(ctx, notifySQL, channel, e.ID.String()); err != nil {
		return fmt.Errorf("failed to notify %s: %w", channel, err)
	}
	return nil
}

// Repository claims and marks outbox rows.
type Repository struct {
	db TxBeginner
}

func NewRepository(db TxBeginner) *Repository {
	return &Repository{db: db}
}

// Process locks up to limit unsent events, hands them to fn in creation
// order and marks each one sent after fn succeeds. It stops at the first
// failure so later events are not delivered ahead of it, and reports how
// many events were marked.
func (r *Repository) Process(ctx context.Context, limit int, fn func(Event) error) (int, error) {
	var sent int
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, fetchUnsentSQL, limit)
		if err != nil {
			return fmt.Errorf("failed to fetch unsent outbox events: %w", err)
		}
		events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
			var e Event
			err := row.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt)
			return e, err
		})
		if err != nil {
			return fmt.Errorf("failed to scan outbox events: %w", err)
		}

		for _, e := range events {
			if err := fn(e); err != nil {
				return nil
			}
			if _, err := tx.Exec(ctx, markSentSQL, e.ID); err != nil {
				return fmt.Errorf("failed to mark outbox event %s as sent: %w", e.ID, err)
			}
			sent++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return sent, nil
}
