package racehistory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/outbox"
	"github.com/mcdev12/typerace/go/internal/race/events"
)

const (
	insertRaceSQL = `
		INSERT INTO races (id, race_id, text, status, players, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (race_id) DO NOTHING`

	recentRacesSQL = `
		SELECT id, race_id, text, status, players, started_at, finished_at
		FROM races
		ORDER BY finished_at DESC
		LIMIT $1`
)

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store appends completed races and queues a RaceCompleted event for each
// in the same transaction.
type Store struct {
	db            DB
	notifyChannel string
}

func NewStore(db DB, notifyChannel string) *Store {
	return &Store{db: db, notifyChannel: notifyChannel}
}

// SaveRace writes the record once. A second save of the same race id is a
// no-op and queues nothing.
func (s *Store) SaveRace(ctx context.Context, rec models.RaceRecord) error {
	players, err := json.Marshal(rec.Players)
	if err != nil {
		return fmt.Errorf("failed to encode players: %w", err)
	}
	payload, err := json.Marshal(completedPayload(rec))
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", events.EventTypeRaceCompleted, err)
	}

	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, insertRaceSQL,
			rec.ID, rec.RaceID, rec.Text, string(rec.Status), players, rec.StartedAt, rec.FinishedAt)
		if err != nil {
			return fmt.Errorf("failed to insert race %s: %w", rec.RaceID, err)
		}
		if tag.RowsAffected() == 0 {
			log.Warn().Str("race_id", rec.RaceID).Msg("race already recorded")
			return nil
		}

		return outbox.Insert(ctx, tx, s.notifyChannel, outbox.Event{
			AggregateID: rec.ID,
			EventType:   events.EventTypeRaceCompleted,
			Payload:     payload,
		})
	})
}

// Recent returns the latest completed races, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]models.RaceRecord, error) {
	rows, err := s.db.Query(ctx, recentRacesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent races: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.RaceRecord, error) {
		var (
			rec     models.RaceRecord
			status  string
			players []byte
		)
		if err := row.Scan(&rec.ID, &rec.RaceID, &rec.Text, &status, &players, &rec.StartedAt, &rec.FinishedAt); err != nil {
			return rec, err
		}
		rec.Status = models.RaceStatus(status)
		if err := json.Unmarshal(players, &rec.Players); err != nil {
			return rec, fmt.Errorf("failed to decode players of %s: %w", rec.RaceID, err)
		}
		return rec, nil
	})
}

func completedPayload(rec models.RaceRecord) events.RaceCompletedPayload {
	standings := make([]events.StandingEntry, 0, len(rec.Players))
	for _, p := range rec.Players {
		if !p.Finished {
			continue
		}
		entry := events.StandingEntry{
			Rank:     p.Rank,
			Username: p.Username,
			WPM:      p.WPM,
			IsBot:    p.IsBot,
		}
		if p.UserID != nil {
			entry.UserID = p.UserID.String()
		}
		standings = append(standings, entry)
	}
	return events.RaceCompletedPayload{
		RaceID:     rec.RaceID,
		RecordID:   rec.ID.String(),
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
		Standings:  standings,
	}
}
