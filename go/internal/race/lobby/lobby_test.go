package lobby

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/typerace/go/internal/race/protocol"
	"github.com/mcdev12/typerace/go/internal/race/scheduler"
)

type recorder struct {
	mu         sync.Mutex
	sent       map[string][]protocol.Message
	broadcasts []protocol.Message
}

func (r *recorder) Send(connID string, msg protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = make(map[string][]protocol.Message)
	}
	r.sent[connID] = append(r.sent[connID], msg)
}

func (r *recorder) Broadcast(msg protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, msg)
}

func (r *recorder) ofType(t protocol.EventType) []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Message
	for _, m := range r.broadcasts {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

type promotions struct {
	mu    sync.Mutex
	races [][]Entrant
}

func (p *promotions) Promote(entrants []Entrant) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.races = append(p.races, entrants)
}

func (p *promotions) all() [][]Entrant {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]Entrant(nil), p.races...)
}

type harness struct {
	t        *testing.T
	clock    *clockwork.FakeClock
	timers   *scheduler.Scheduler
	out      *recorder
	promoted *promotions
	lobby    *Manager
}

func newHarness(t *testing.T) *harness {
	var loop sync.Mutex
	clock := clockwork.NewFakeClock()
	timers := scheduler.New(clock, func(f func()) {
		loop.Lock()
		defer loop.Unlock()
		f()
	})
	h := &harness{
		t:        t,
		clock:    clock,
		timers:   timers,
		out:      &recorder{},
		promoted: &promotions{},
	}
	h.lobby = NewManager(DefaultConfig(), clock, timers, h.out, h.promoted, rand.New(rand.NewSource(42)))
	t.Cleanup(timers.Stop)
	return h
}

// step advances the fake clock in 100ms increments, letting every due timer
// run before moving on.
func (h *harness) step(d time.Duration) {
	h.t.Helper()
	for elapsed := time.Duration(0); elapsed < d; elapsed += 100 * time.Millisecond {
		h.clock.Advance(100 * time.Millisecond)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		require.NoError(h.t, h.timers.Idle(ctx))
		cancel()
	}
}

func (h *harness) join(connID string, bestWPM float64) {
	id := uuid.New()
	h.lobby.Join(Entrant{ConnectionID: connID, UserID: &id, Username: "user-" + connID, BestWPM: bestWPM})
}

func bots(entrants []Entrant) int {
	n := 0
	for _, e := range entrants {
		if e.IsBot {
			n++
		}
	}
	return n
}

func TestJoinSendsStatusAndSnapshot(t *testing.T) {
	h := newHarness(t)
	h.join("c1", 0)

	sent := h.out.sent["c1"]
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.EventWaitingStatus, sent[0].Type)
	assert.Equal(t, protocol.WaitingStatus{Message: WaitingMessage, PlayersInQueue: 1}, sent[0].Data)

	states := h.out.ofType(protocol.EventWaitingState)
	require.Len(t, states, 1)
	state := states[0].Data.(protocol.WaitingState)
	assert.Equal(t, 1, state.Count)
	assert.Nil(t, state.CountdownEndsAt)
	assert.Equal(t, "user-c1", state.Players[0].Username)
	assert.Equal(t, "c1", state.Players[0].SocketID)
}

func TestThreeHumansStartNormalCountdown(t *testing.T) {
	h := newHarness(t)
	h.join("c1", 0)
	h.step(300 * time.Millisecond)
	h.join("c2", 0)
	h.step(300 * time.Millisecond)
	_, running := h.lobby.CountdownEndsAt()
	require.False(t, running)

	h.join("c3", 0)
	ends, running := h.lobby.CountdownEndsAt()
	require.True(t, running)
	assert.Equal(t, h.clock.Now().Add(2*time.Second), ends)
	assert.False(t, h.lobby.FastStarting())

	starting := h.out.ofType(protocol.EventRaceStarting)
	require.Len(t, starting, 1)
	assert.Equal(t, protocol.RaceStarting{StartsInMs: 2000}, starting[0].Data)

	// seed delay expires during the countdown and must not add bots
	h.step(1900 * time.Millisecond)
	assert.False(t, h.lobby.Seeding())
	assert.Len(t, h.lobby.Entrants(), 3)
	assert.Empty(t, h.promoted.all())

	h.step(100 * time.Millisecond)
	races := h.promoted.all()
	require.Len(t, races, 1)
	require.Len(t, races[0], 3)
	assert.Equal(t, 0, bots(races[0]))
	assert.Empty(t, h.lobby.Entrants())
	assert.Equal(t, 0, h.timers.Len())
}

func TestSingleHumanSeedsBotsUntilFull(t *testing.T) {
	h := newHarness(t)
	h.join("c1", 0)

	h.step(2 * time.Second)
	assert.True(t, h.lobby.Seeding())
	assert.Len(t, h.lobby.Entrants(), 1)

	h.step(700 * time.Millisecond)
	require.Len(t, h.lobby.Entrants(), 2)
	assert.Equal(t, 1, bots(h.lobby.Entrants()))

	// third entrant starts the normal countdown
	h.step(700 * time.Millisecond)
	require.Len(t, h.lobby.Entrants(), 3)
	_, running := h.lobby.CountdownEndsAt()
	require.True(t, running)
	assert.True(t, h.lobby.Seeding())

	// fifth entrant turns it into a fast start and stops seeding
	h.step(1400 * time.Millisecond)
	require.Len(t, h.lobby.Entrants(), 5)
	assert.True(t, h.lobby.FastStarting())
	assert.False(t, h.lobby.Seeding())
	ends, _ := h.lobby.CountdownEndsAt()
	assert.Equal(t, h.clock.Now().Add(time.Second), ends)

	h.step(time.Second)
	races := h.promoted.all()
	require.Len(t, races, 1)
	race := races[0]
	require.Len(t, race, 5)
	assert.Equal(t, "c1", race[0].ConnectionID)
	assert.False(t, race[0].IsBot)
	assert.Equal(t, 4, bots(race))
	for _, e := range race[1:] {
		assert.Regexp(t, `^bot_wait_`, e.ConnectionID)
		assert.Regexp(t, `^Bot_\d{3}$`, e.Username)
		assert.GreaterOrEqual(t, e.BotTargetWPM, 25.0)
		assert.LessOrEqual(t, e.BotTargetWPM, 140.0)
	}
}

func TestSeededBotsFollowHumanBaseline(t *testing.T) {
	h := newHarness(t)
	h.join("c1", 100)
	h.step(2700 * time.Millisecond)

	entrants := h.lobby.Entrants()
	require.Len(t, entrants, 2)
	target := entrants[1].BotTargetWPM
	assert.GreaterOrEqual(t, target, 85.0)
	assert.LessOrEqual(t, target, 115.0)
}

func TestHumanLeavingBeforeFirstSeedStopsEverything(t *testing.T) {
	h := newHarness(t)
	h.join("c1", 0)
	h.step(2 * time.Second)
	require.True(t, h.lobby.Seeding())

	require.True(t, h.lobby.Leave("c1"))
	assert.False(t, h.lobby.Seeding())
	assert.Equal(t, 0, h.timers.Len())

	h.step(5 * time.Second)
	assert.Empty(t, h.lobby.Entrants())
	assert.Empty(t, h.promoted.all())
}

func TestLastHumanLeavingPurgesBots(t *testing.T) {
	h := newHarness(t)
	h.join("c1", 0)
	h.step(3400 * time.Millisecond)
	require.Len(t, h.lobby.Entrants(), 3)
	_, running := h.lobby.CountdownEndsAt()
	require.True(t, running)

	h.lobby.Leave("c1")
	assert.Empty(t, h.lobby.Entrants())
	_, running = h.lobby.CountdownEndsAt()
	assert.False(t, running)
	assert.Equal(t, 0, h.timers.Len())

	h.step(3 * time.Second)
	assert.Empty(t, h.promoted.all())
}

func TestFiveJoinsOverrideCountdownWithFastStart(t *testing.T) {
	h := newHarness(t)
	for _, c := range []string{"c1", "c2", "c3"} {
		h.join(c, 0)
	}
	h.step(500 * time.Millisecond)
	h.join("c4", 0)
	h.join("c5", 0)

	assert.True(t, h.lobby.FastStarting())
	starting := h.out.ofType(protocol.EventRaceStarting)
	require.Len(t, starting, 2)
	assert.Equal(t, protocol.RaceStarting{StartsInMs: 2000}, starting[0].Data)
	assert.Equal(t, protocol.RaceStarting{StartsInMs: 1000}, starting[1].Data)

	h.step(time.Second)
	races := h.promoted.all()
	require.Len(t, races, 1)
	assert.Len(t, races[0], 5)
	assert.Equal(t, 0, bots(races[0]))
}

func TestDropBelowMinimumCancelsCountdown(t *testing.T) {
	h := newHarness(t)
	for _, c := range []string{"c1", "c2", "c3"} {
		h.join(c, 0)
	}
	_, running := h.lobby.CountdownEndsAt()
	require.True(t, running)

	h.lobby.Leave("c2")
	_, running = h.lobby.CountdownEndsAt()
	assert.False(t, running)

	h.step(1500 * time.Millisecond)
	assert.Empty(t, h.promoted.all())

	// the remaining humans get bots after the seed delay
	h.step(1200 * time.Millisecond)
	assert.Len(t, h.lobby.Entrants(), 3)
}

func TestHumanJoiningFullRoomEvictsBot(t *testing.T) {
	h := newHarness(t)
	h.join("c1", 0)
	h.step(4100 * time.Millisecond)
	require.Len(t, h.lobby.Entrants(), 4)
	h.join("c2", 0)
	require.Len(t, h.lobby.Entrants(), 5)
	require.True(t, h.lobby.FastStarting())

	h.join("c3", 0)
	entrants := h.lobby.Entrants()
	require.Len(t, entrants, 5)
	assert.Equal(t, 2, bots(entrants))
	assert.True(t, h.lobby.Contains("c3"))
}

func TestOverflowWaitsForNextRace(t *testing.T) {
	h := newHarness(t)
	for _, c := range []string{"c1", "c2", "c3", "c4", "c5", "c6"} {
		h.join(c, 0)
	}
	assert.Len(t, h.lobby.Entrants(), 5)
	assert.Equal(t, 1, h.lobby.Queued())
	assert.True(t, h.lobby.Contains("c6"))

	h.step(time.Second)
	races := h.promoted.all()
	require.Len(t, races, 1)
	for _, e := range races[0] {
		assert.NotEqual(t, "c6", e.ConnectionID)
	}

	entrants := h.lobby.Entrants()
	require.Len(t, entrants, 1)
	assert.Equal(t, "c6", entrants[0].ConnectionID)
	assert.Equal(t, 0, h.lobby.Queued())
	assert.True(t, h.timers.Active(seedKey))
}

func TestRejoinRefreshesEntrant(t *testing.T) {
	h := newHarness(t)
	h.join("c1", 0)
	h.lobby.Join(Entrant{ConnectionID: "c1", Username: "renamed"})

	entrants := h.lobby.Entrants()
	require.Len(t, entrants, 1)
	assert.Equal(t, "renamed", entrants[0].Username)
}

func TestLeaveUnknownConnection(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.lobby.Leave("ghost"))
}
