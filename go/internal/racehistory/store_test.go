package racehistory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/race/events"
)

type execCall struct {
	sql  string
	args []any
}

type fakeTx struct {
	pgx.Tx
	duplicate bool
	failOn    string
	execs     []execCall
	committed bool
	rolled    bool
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if t.failOn != "" && strings.Contains(sql, t.failOn) {
		return pgconn.CommandTag{}, errors.New("exec failed")
	}
	t.execs = append(t.execs, execCall{sql: sql, args: args})
	if sql == insertRaceSQL && t.duplicate {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.committed || t.rolled {
		return pgx.ErrTxClosed
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.committed || t.rolled {
		return pgx.ErrTxClosed
	}
	t.rolled = true
	return nil
}

type fakeDB struct {
	tx   *fakeTx
	rows pgx.Rows
}

func (d *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) { return d.tx, nil }

func (d *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return d.rows, nil
}

func sampleRecord() models.RaceRecord {
	uid := uuid.New()
	start := time.Date(2026, 5, 2, 18, 0, 0, 0, time.UTC)
	return models.RaceRecord{
		ID:     uuid.New(),
		RaceID: "race_1",
		Text:   "the quick brown fox",
		Status: models.RaceStatusFinished,
		Players: []models.RaceResult{
			{UserID: &uid, Username: "ada", WPM: 90, Accuracy: 98, Time: 12.5, Finished: true, Rank: 1},
			{Username: "Bot 1", WPM: 60, Finished: true, IsBot: true, Rank: 2},
			{Username: "grace", WPM: 20, Finished: false},
		},
		StartedAt:  start,
		FinishedAt: start.Add(30 * time.Second),
	}
}

func TestSaveRaceWritesRecordAndEvent(t *testing.T) {
	tx := &fakeTx{}
	store := NewStore(&fakeDB{tx: tx}, "race_outbox_events")
	rec := sampleRecord()

	require.NoError(t, store.SaveRace(context.Background(), rec))

	require.Len(t, tx.execs, 3, "race row, outbox row, notify")
	assert.Equal(t, insertRaceSQL, tx.execs[0].sql)
	assert.Equal(t, rec.ID, tx.execs[0].args[0])
	assert.Equal(t, "finished", tx.execs[0].args[3])

	var players []models.RaceResult
	require.NoError(t, json.Unmarshal(tx.execs[0].args[4].([]byte), &players))
	assert.Equal(t, rec.Players, players)

	outboxArgs := tx.execs[1].args
	assert.Equal(t, rec.ID, outboxArgs[1])
	assert.Equal(t, events.EventTypeRaceCompleted, outboxArgs[2])

	var payload events.RaceCompletedPayload
	require.NoError(t, json.Unmarshal(outboxArgs[3].([]byte), &payload))
	assert.Equal(t, "race_1", payload.RaceID)
	assert.Equal(t, rec.ID.String(), payload.RecordID)
	require.Len(t, payload.Standings, 2, "unfinished players are not standings")
	assert.Equal(t, rec.Players[0].UserID.String(), payload.Standings[0].UserID)
	assert.True(t, payload.Standings[1].IsBot)
	assert.Empty(t, payload.Standings[1].UserID)

	assert.True(t, tx.committed)
}

func TestSaveRaceTwiceQueuesOneEvent(t *testing.T) {
	tx := &fakeTx{duplicate: true}
	store := NewStore(&fakeDB{tx: tx}, "race_outbox_events")

	require.NoError(t, store.SaveRace(context.Background(), sampleRecord()))
	assert.Len(t, tx.execs, 1)
	assert.True(t, tx.committed)
}

func TestSaveRaceRollsBackWhenOutboxFails(t *testing.T) {
	tx := &fakeTx{failOn: "race_outbox"}
	store := NewStore(&fakeDB{tx: tx}, "")

	err := store.SaveRace(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.False(t, tx.committed)
	assert.True(t, tx.rolled)
}

type fakeRows struct {
	pgx.Rows
	recs []models.RaceRecord
	pos  int
}

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos <= len(r.recs)
}

func (r *fakeRows) Scan(dest ...any) error {
	rec := r.recs[r.pos-1]
	players, err := json.Marshal(rec.Players)
	if err != nil {
		return err
	}
	*dest[0].(*uuid.UUID) = rec.ID
	*dest[1].(*string) = rec.RaceID
	*dest[2].(*string) = rec.Text
	*dest[3].(*string) = string(rec.Status)
	*dest[4].(*[]byte) = players
	*dest[5].(*time.Time) = rec.StartedAt
	*dest[6].(*time.Time) = rec.FinishedAt
	return nil
}

func (r *fakeRows) Close()                        {}
func (r *fakeRows) Err() error                    { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.NewCommandTag("SELECT 1") }

func TestRecentDecodesPlayers(t *testing.T) {
	rec := sampleRecord()
	store := NewStore(&fakeDB{rows: &fakeRows{recs: []models.RaceRecord{rec}}}, "")

	got, err := store.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec, got[0])
}

type staticLister struct {
	recs  []models.RaceRecord
	limit int
	err   error
}

func (s *staticLister) Recent(ctx context.Context, limit int) ([]models.RaceRecord, error) {
	s.limit = limit
	return s.recs, s.err
}

func TestRecentEndpoint(t *testing.T) {
	lister := &staticLister{recs: []models.RaceRecord{sampleRecord()}}
	mux := http.NewServeMux()
	NewHandler(lister).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/races?limit=500", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxRecentLimit, lister.limit)
	var body []models.RaceRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body, 1)
}

func TestRecentEndpointErrors(t *testing.T) {
	mux := http.NewServeMux()
	NewHandler(&staticLister{err: errors.New("db down")}).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/races?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/races", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRecentEndpointEmptyIsArray(t *testing.T) {
	mux := http.NewServeMux()
	NewHandler(&staticLister{}).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/races", nil))
	assert.Equal(t, "[]\n", rec.Body.String())
}
