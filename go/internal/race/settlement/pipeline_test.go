package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/race/protocol"
)

type memUsers struct {
	mu       sync.Mutex
	users    map[uuid.UUID]*models.User
	failing  map[uuid.UUID]bool
	promoted map[uuid.UUID]int
	calls    int
}

func newMemUsers() *memUsers {
	return &memUsers{
		users:    make(map[uuid.UUID]*models.User),
		failing:  make(map[uuid.UUID]bool),
		promoted: make(map[uuid.UUID]int),
	}
}

func (m *memUsers) add(exp int) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.users[id] = &models.User{ID: id, Level: 1, Exp: exp}
	return id
}

func (m *memUsers) get(id uuid.UUID) models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.users[id]
}

func (m *memUsers) ApplyFinish(_ context.Context, id uuid.UUID, s models.FinishStats) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failing[id] {
		return nil, errors.New("connection reset")
	}
	u, ok := m.users[id]
	if !ok {
		return nil, errors.New("not found")
	}
	u.Coins += s.Coins
	u.Exp += s.Exp
	u.TotalRaces++
	u.BestWPM = max(u.BestWPM, s.WPM)
	cp := *u
	return &cp, nil
}

func (m *memUsers) ApplyPlacement(_ context.Context, id uuid.UUID, s models.PlacementStats) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failing[id] {
		return nil, errors.New("connection reset")
	}
	u, ok := m.users[id]
	if !ok {
		return nil, errors.New("not found")
	}
	u.Exp += s.Exp
	u.Wins += s.Wins
	u.MMR += s.MMR
	cp := *u
	return &cp, nil
}

func (m *memUsers) PromoteLevel(_ context.Context, id uuid.UUID, level int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.Level >= level {
		return 0, nil
	}
	gained := level - u.Level
	u.Level = level
	m.promoted[id] = level
	return gained, nil
}

type memHistory struct {
	mu      sync.Mutex
	records []models.RaceRecord
	err     error
}

func (h *memHistory) SaveRace(_ context.Context, rec models.RaceRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.records = append(h.records, rec)
	return nil
}

type outbox struct {
	mu    sync.Mutex
	sent  map[string][]protocol.Message
	rooms map[string][]protocol.Message
}

func (o *outbox) Send(connID string, msg protocol.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sent == nil {
		o.sent = make(map[string][]protocol.Message)
	}
	o.sent[connID] = append(o.sent[connID], msg)
}

func (o *outbox) BroadcastRoom(room string, msg protocol.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.rooms == nil {
		o.rooms = make(map[string][]protocol.Message)
	}
	o.rooms[room] = append(o.rooms[room], msg)
}

func (o *outbox) to(connID string) []protocol.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]protocol.Message(nil), o.sent[connID]...)
}

func newPipeline(users *memUsers, history *memHistory, out *outbox) *Pipeline {
	return NewPipeline(users, history, out, Config{Timeout: time.Second, MaxConcurrency: 4})
}

func botStanding(id string, wpm float64, rank int) Standing {
	return Standing{PlayerID: id, Username: id, WPM: wpm, Finished: true, IsBot: true, Rank: rank}
}

func TestWinnerOfFourPlayerRace(t *testing.T) {
	users := newMemUsers()
	history := &memHistory{}
	out := &outbox{}
	p := newPipeline(users, history, out)

	id := users.add(0)
	p.CreditFinish(Finisher{RaceID: "race_1", PlayerID: "c1", UserID: id, WPM: 80, Accuracy: 97})
	p.Wait()

	u := users.get(id)
	assert.Equal(t, 80, u.Coins)
	assert.Equal(t, 40, u.Exp)
	assert.Equal(t, 1, u.TotalRaces)
	assert.Equal(t, 80.0, u.BestWPM)

	sent := out.to("c1")
	require.Len(t, sent, 2)
	assert.Equal(t, protocol.Message{Type: protocol.EventPlayerFinishedReward, Data: protocol.PlayerFinishedReward{Coins: 80, Exp: 40}}, sent[0])
	assert.Equal(t, protocol.EconomyUpdated(), sent[1])

	p.SettleRace(Outcome{
		RaceID: "race_1",
		Text:   "one two",
		Standings: []Standing{
			{PlayerID: "c1", UserID: &id, Username: "alice", WPM: 80, Accuracy: 97, Finished: true, Rank: 1},
			botStanding("bot_a", 70, 2),
			botStanding("bot_b", 60, 3),
			botStanding("bot_c", 50, 4),
		},
	})
	p.Wait()

	u = users.get(id)
	assert.Equal(t, 55, u.Exp)
	assert.Equal(t, 1, u.Wins)
	assert.Equal(t, 31, u.MMR)
	assert.Equal(t, 80, u.Coins)

	sent = out.to("c1")
	require.Len(t, sent, 4)
	assert.Equal(t, protocol.Message{Type: protocol.EventPlacementBonus, Data: protocol.PlacementBonus{Exp: 15}}, sent[2])
	assert.Equal(t, protocol.EconomyUpdated(), sent[3])

	require.Len(t, history.records, 1)
	rec := history.records[0]
	assert.Equal(t, "race_1", rec.RaceID)
	assert.Equal(t, models.RaceStatusFinished, rec.Status)
	require.Len(t, rec.Players, 4)
	assert.Equal(t, &id, rec.Players[0].UserID)
	assert.True(t, rec.Players[3].IsBot)
}

func TestResultsBroadcastBeforePersistence(t *testing.T) {
	users := newMemUsers()
	out := &outbox{}
	p := newPipeline(users, &memHistory{}, out)

	p.SettleRace(Outcome{RaceID: "race_1", Standings: []Standing{botStanding("bot_a", 70, 1), botStanding("bot_b", 60, 2)}})

	out.mu.Lock()
	results := out.rooms["race_1"]
	out.mu.Unlock()
	require.Len(t, results, 1)
	assert.Equal(t, protocol.EventRaceResults, results[0].Type)
	rankings := results[0].Data.(protocol.RaceResults).Rankings
	require.Len(t, rankings, 2)
	assert.Equal(t, protocol.Ranking{PlayerID: "bot_a", Username: "bot_a", WPM: 70, Finished: true, IsBot: true, Rank: 1}, rankings[0])
	p.Wait()
}

func TestBotsNeverTouchUserRecords(t *testing.T) {
	users := newMemUsers()
	p := newPipeline(users, &memHistory{}, &outbox{})

	p.SettleRace(Outcome{RaceID: "race_1", Standings: []Standing{
		botStanding("bot_a", 90, 1),
		botStanding("bot_b", 80, 2),
	}})
	p.Wait()

	assert.Equal(t, 0, users.calls)
}

func TestLevelUpIsPersistedAndReported(t *testing.T) {
	users := newMemUsers()
	out := &outbox{}
	p := newPipeline(users, &memHistory{}, out)

	id := users.add(90)
	p.CreditFinish(Finisher{RaceID: "race_1", PlayerID: "c1", UserID: id, WPM: 40, Accuracy: 90})
	p.Wait()

	assert.Equal(t, 2, users.get(id).Level)
	assert.Equal(t, 2, users.promoted[id])
	sent := out.to("c1")
	require.NotEmpty(t, sent)
	assert.Equal(t, protocol.PlayerFinishedReward{Coins: 40, Exp: 20, LevelUp: 1}, sent[0].Data)
}

func TestLevelUpReportedOnceForConcurrentSyncs(t *testing.T) {
	users := newMemUsers()
	p := newPipeline(users, &memHistory{}, &outbox{})

	id := users.add(110)
	var wg sync.WaitGroup
	reported := make([]int, 2)
	for i := range reported {
		stale := users.get(id)
		wg.Add(1)
		go func() {
			defer wg.Done()
			reported[i] = p.syncLevel(context.Background(), &stale)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, reported[0]+reported[1])
	assert.Equal(t, 2, users.get(id).Level)
}

func TestLowRankGetsRatingButNoBonusMessage(t *testing.T) {
	users := newMemUsers()
	out := &outbox{}
	p := newPipeline(users, &memHistory{}, out)

	id := users.add(0)
	p.SettleRace(Outcome{RaceID: "race_1", Standings: []Standing{
		botStanding("bot_a", 90, 1),
		botStanding("bot_b", 85, 2),
		botStanding("bot_c", 80, 3),
		{PlayerID: "c1", UserID: &id, WPM: 20, Finished: true, Rank: 4},
	}})
	p.Wait()

	u := users.get(id)
	assert.Equal(t, 0, u.Exp)
	assert.Equal(t, 0, u.Wins)
	assert.Equal(t, -2, u.MMR)
	assert.Empty(t, out.to("c1"))
}

func TestHistoryFailureDoesNotBlockPlacement(t *testing.T) {
	users := newMemUsers()
	out := &outbox{}
	p := newPipeline(users, &memHistory{err: errors.New("disk full")}, out)

	id := users.add(0)
	p.SettleRace(Outcome{RaceID: "race_1", Standings: []Standing{
		{PlayerID: "c1", UserID: &id, WPM: 60, Finished: true, Rank: 1},
		botStanding("bot_a", 50, 2),
	}})
	p.Wait()

	u := users.get(id)
	assert.Equal(t, 15, u.Exp)
	assert.Equal(t, 1, u.Wins)
	assert.Equal(t, 10, u.MMR)
	assert.Len(t, out.to("c1"), 2)
}

func TestOneFailingUserDoesNotBlockOthers(t *testing.T) {
	users := newMemUsers()
	history := &memHistory{}
	p := newPipeline(users, history, &outbox{})

	bad := users.add(0)
	good := users.add(0)
	users.failing[bad] = true

	p.SettleRace(Outcome{RaceID: "race_1", Standings: []Standing{
		{PlayerID: "c1", UserID: &bad, WPM: 90, Finished: true, Rank: 1},
		{PlayerID: "c2", UserID: &good, WPM: 70, Finished: true, Rank: 2},
	}})
	p.CreditFinish(Finisher{RaceID: "race_1", PlayerID: "c1", UserID: bad, WPM: 90})
	p.Wait()

	assert.Equal(t, 10, users.get(good).Exp)
	assert.Equal(t, 0, users.get(bad).Exp)
	assert.Len(t, history.records, 1)
}
