// Package session owns the races in progress: it creates them from a
// promoted lobby, drives bot typists, tracks progress and hands completed
// races to settlement.
package session

import (
	"cmp"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/race/bot"
	"github.com/mcdev12/typerace/go/internal/race/lobby"
	"github.com/mcdev12/typerace/go/internal/race/protocol"
	"github.com/mcdev12/typerace/go/internal/race/scheduler"
	"github.com/mcdev12/typerace/go/internal/race/settlement"
)

// Config holds race timings.
type Config struct {
	StartGrace    time.Duration `yaml:"start_grace"`
	BotStartDelay time.Duration `yaml:"bot_start_delay"`
	BotTick       time.Duration `yaml:"bot_tick"`
	MinRacers     int           `yaml:"min_racers"`
	BotImageURL   string        `yaml:"bot_image_url"`
}

// DefaultConfig returns the standard race timings.
func DefaultConfig() Config {
	return Config{
		StartGrace:    2 * time.Second,
		BotStartDelay: time.Second,
		BotTick:       bot.TickInterval,
		MinRacers:     4,
	}
}

// Transport delivers race events and manages race rooms.
type Transport interface {
	Send(connID string, msg protocol.Message)
	BroadcastRoom(room string, msg protocol.Message)
	JoinRoom(connID, room string)
	LeaveRoom(connID, room string)
	CloseRoom(room string)
}

// Settler credits rewards and settles finished races.
type Settler interface {
	CreditFinish(f settlement.Finisher)
	SettleRace(o settlement.Outcome)
}

// Passages picks the text for a new race.
type Passages interface {
	Random(rng *rand.Rand) string
}

type Status string

const (
	StatusActive    Status = "active"
	StatusSettled   Status = "settled"
	StatusDiscarded Status = "discarded"
)

// Race is an in-progress race.
type Race struct {
	ID         string
	Text       string
	Status     Status
	CreatedAt  time.Time
	StartTime  time.Time
	Players    []*Player
	words      int
	seededBots bool
}

// Player is one racer. PlayerID is the connection id for humans and a
// synthetic id for bots.
type Player struct {
	PlayerID   string
	UserID     *uuid.UUID
	Username   string
	ImageURL   string
	IsBot      bool
	Progress   float64
	CurrentWPM float64
	WPM        float64
	Accuracy   float64
	Time       float64
	Errors     int
	Finished   bool

	typist *bot.Typist
}

// Manager owns the active race table. It is not safe for concurrent use;
// every method must be called from the race event loop.
type Manager struct {
	cfg      Config
	clock    clockwork.Clock
	timers   *scheduler.Scheduler
	out      Transport
	settler  Settler
	passages Passages
	rng      *rand.Rand

	races  map[string]*Race
	byConn map[string]string
}

// NewManager creates a race session manager.
func NewManager(cfg Config, clock clockwork.Clock, timers *scheduler.Scheduler, out Transport, settler Settler, passages Passages, rng *rand.Rand) *Manager {
	return &Manager{
		cfg:      cfg,
		clock:    clock,
		timers:   timers,
		out:      out,
		settler:  settler,
		passages: passages,
		rng:      rng,
		races:    make(map[string]*Race),
		byConn:   make(map[string]string),
	}
}

// Promote starts a race for the given entrants. Humans are subscribed to the
// race room and told about the race individually.
func (m *Manager) Promote(entrants []lobby.Entrant) {
	now := m.clock.Now()
	text := m.passages.Random(m.rng)
	race := &Race{
		ID:        newRaceID(now),
		Text:      text,
		Status:    StatusActive,
		CreatedAt: now,
		StartTime: now,
		words:     bot.WordCount(text),
	}

	for _, e := range entrants {
		if e.IsBot {
			continue
		}
		race.Players = append(race.Players, &Player{
			PlayerID: e.ConnectionID,
			UserID:   e.UserID,
			Username: e.Username,
			ImageURL: e.ImageURL,
		})
	}
	for _, e := range entrants {
		if !e.IsBot {
			continue
		}
		target := e.BotTargetWPM
		if target <= 0 {
			target = bot.DefaultBaselineWPM
		}
		accuracy := bot.RandomAccuracy(m.rng)
		race.Players = append(race.Players, &Player{
			PlayerID: e.ConnectionID,
			Username: e.Username,
			ImageURL: e.ImageURL,
			IsBot:    true,
			Accuracy: accuracy,
			typist:   bot.NewTypist(bot.ClampTarget(target), accuracy, race.words),
		})
		race.seededBots = true
	}
	m.races[race.ID] = race

	roster := make([]protocol.RacePlayer, len(race.Players))
	for i, p := range race.Players {
		roster[i] = protocol.RacePlayer{Username: p.Username, SocketID: p.PlayerID, ImageURL: p.ImageURL}
	}
	started := protocol.Message{
		Type: protocol.EventRaceStarted,
		Data: protocol.RaceStarted{
			RaceID:     race.ID,
			Text:       race.Text,
			Players:    roster,
			StartsInMs: m.cfg.StartGrace.Milliseconds(),
		},
	}
	for _, p := range race.Players {
		if p.IsBot {
			continue
		}
		m.byConn[p.PlayerID] = race.ID
		m.out.JoinRoom(p.PlayerID, race.ID)
		m.out.Send(p.PlayerID, started)
	}

	raceID := race.ID
	m.timers.After(scheduler.Key{Group: raceID, Name: "grace"}, m.cfg.StartGrace, func() { m.onGraceElapsed(raceID) })
	if !race.seededBots && len(race.Players) < m.cfg.MinRacers {
		m.timers.After(scheduler.Key{Group: raceID, Name: "fill"}, m.cfg.StartGrace, func() { m.fillBots(raceID) })
	}

	log.Info().
		Str("race_id", race.ID).
		Int("players", len(race.Players)).
		Int("words", race.words).
		Msg("race created")
}

func (m *Manager) onGraceElapsed(raceID string) {
	race := m.active(raceID)
	if race == nil {
		return
	}
	race.StartTime = m.clock.Now()
	for _, p := range race.Players {
		if p.IsBot {
			m.scheduleBotStart(race.ID, p.PlayerID)
		}
	}
}

// fillBots tops an under-filled race up to the minimum roster size.
func (m *Manager) fillBots(raceID string) {
	race := m.active(raceID)
	if race == nil {
		return
	}
	need := m.cfg.MinRacers - len(race.Players)
	for i := 0; i < need; i++ {
		accuracy := bot.RandomAccuracy(m.rng)
		p := &Player{
			PlayerID: fmt.Sprintf("bot_%s_%d", race.ID, i),
			Username: bot.Name(m.rng),
			ImageURL: m.cfg.BotImageURL,
			IsBot:    true,
			Accuracy: accuracy,
			typist:   bot.NewTypist(bot.FillerTarget(m.rng), accuracy, race.words),
		}
		race.Players = append(race.Players, p)
		m.out.BroadcastRoom(race.ID, protocol.Message{
			Type: protocol.EventPlayerProgress,
			Data: protocol.PlayerProgress{PlayerID: p.PlayerID},
		})
		m.scheduleBotStart(race.ID, p.PlayerID)
	}
	if need > 0 {
		log.Debug().Str("race_id", race.ID).Int("bots", need).Msg("added filler bots")
	}
}

func (m *Manager) scheduleBotStart(raceID, botID string) {
	m.timers.After(scheduler.Key{Group: raceID, Name: "start:" + botID}, m.cfg.BotStartDelay, func() {
		if m.active(raceID) == nil {
			return
		}
		m.timers.Every(botTickKey(raceID, botID), m.cfg.BotTick, func() { m.tickBot(raceID, botID) })
	})
}

func botTickKey(raceID, botID string) scheduler.Key {
	return scheduler.Key{Group: raceID, Name: "tick:" + botID}
}

func (m *Manager) tickBot(raceID, botID string) {
	key := botTickKey(raceID, botID)
	race := m.active(raceID)
	if race == nil {
		m.timers.Cancel(key)
		return
	}
	p := race.player(botID)
	if p == nil || p.Finished || p.typist == nil {
		m.timers.Cancel(key)
		return
	}

	elapsed := m.clock.Since(race.StartTime)
	tick := p.typist.Advance(m.rng, elapsed)
	p.Progress = tick.Progress
	p.CurrentWPM = float64(tick.CurrentWPM)
	m.out.BroadcastRoom(race.ID, protocol.Message{
		Type: protocol.EventPlayerProgress,
		Data: protocol.PlayerProgress{PlayerID: p.PlayerID, Progress: p.Progress, WPM: p.CurrentWPM},
	})
	if !tick.Finished {
		return
	}

	m.timers.Cancel(key)
	res := p.typist.Finish(m.rng, elapsed)
	p.WPM = res.WPM
	p.Time = res.Time
	p.Errors = res.Errors
	p.Accuracy = res.Accuracy
	p.Finished = true
	m.onPlayerFinished(race, p)
}

// UpdateProgress records a human's typing progress and relays it to the
// room. Unknown races or players are ignored.
func (m *Manager) UpdateProgress(connID string, msg protocol.TypingProgress) {
	race, p := m.lookup(connID, msg.RaceID)
	if race == nil || p == nil || p.Finished {
		log.Debug().Str("connection_id", connID).Str("race_id", msg.RaceID).Msg("ignoring stale progress")
		return
	}
	p.Progress = math.Max(p.Progress, math.Min(100, math.Max(0, msg.Progress)))
	p.CurrentWPM = msg.WPM
	m.out.BroadcastRoom(race.ID, protocol.Message{
		Type: protocol.EventPlayerProgress,
		Data: protocol.PlayerProgress{PlayerID: p.PlayerID, Progress: p.Progress, WPM: p.CurrentWPM},
	})
}

// RecordFinish marks a human finished. A second finish for the same player
// is ignored.
func (m *Manager) RecordFinish(connID string, msg protocol.RaceComplete) {
	race, p := m.lookup(connID, msg.RaceID)
	if race == nil || p == nil {
		log.Debug().Str("connection_id", connID).Str("race_id", msg.RaceID).Msg("ignoring stale finish")
		return
	}
	if p.Finished {
		log.Debug().Str("connection_id", connID).Str("race_id", race.ID).Msg("ignoring duplicate finish")
		return
	}
	p.WPM = msg.WPM
	p.Accuracy = msg.Accuracy
	p.Time = msg.Time
	p.Errors = msg.Errors
	p.Progress = 100
	p.Finished = true
	m.onPlayerFinished(race, p)
}

// onPlayerFinished is the single transition taken whenever a human or bot
// finishes.
func (m *Manager) onPlayerFinished(race *Race, p *Player) {
	log.Info().
		Str("race_id", race.ID).
		Str("player_id", p.PlayerID).
		Bool("bot", p.IsBot).
		Float64("wpm", p.WPM).
		Msg("player finished")

	if !p.IsBot && p.UserID != nil {
		m.settler.CreditFinish(settlement.Finisher{
			RaceID:   race.ID,
			PlayerID: p.PlayerID,
			UserID:   *p.UserID,
			WPM:      p.WPM,
			Accuracy: p.Accuracy,
		})
	}
	m.checkCompletion(race)
}

// checkCompletion settles the race once every remaining player is finished.
// The status gate makes repeated calls harmless.
func (m *Manager) checkCompletion(race *Race) {
	if race.Status != StatusActive || len(race.Players) == 0 {
		return
	}
	for _, p := range race.Players {
		if !p.Finished {
			return
		}
	}

	race.Status = StatusSettled
	outcome := settlement.Outcome{
		RaceID:     race.ID,
		Text:       race.Text,
		StartedAt:  race.StartTime,
		FinishedAt: m.clock.Now(),
		Standings:  Rank(race.Players),
	}
	log.Info().Str("race_id", race.ID).Int("players", len(race.Players)).Msg("race complete")
	m.settler.SettleRace(outcome)
	m.remove(race)
}

// Leave detaches a connection from its race. An unfinished player is dropped
// from the roster; a finished one keeps their result. The race is discarded
// without settlement only when the roster is empty, so bots left behind still
// finish and the race is settled. It reports whether the connection was
// racing.
func (m *Manager) Leave(connID string) bool {
	raceID, ok := m.byConn[connID]
	if !ok {
		return false
	}
	delete(m.byConn, connID)
	m.out.LeaveRoom(connID, raceID)

	race := m.active(raceID)
	if race == nil {
		return true
	}
	if idx := slices.IndexFunc(race.Players, func(p *Player) bool { return p.PlayerID == connID }); idx >= 0 && !race.Players[idx].Finished {
		race.Players = slices.Delete(race.Players, idx, idx+1)
	}

	if len(race.Players) == 0 {
		race.Status = StatusDiscarded
		log.Info().Str("race_id", race.ID).Msg("roster empty, race discarded")
		m.remove(race)
		return true
	}

	m.out.BroadcastRoom(race.ID, protocol.Message{
		Type: protocol.EventPlayerLeft,
		Data: protocol.PlayerLeft{PlayerID: connID},
	})
	m.checkCompletion(race)
	return true
}

func (m *Manager) remove(race *Race) {
	n := m.timers.CancelGroup(race.ID)
	delete(m.races, race.ID)
	for conn, id := range m.byConn {
		if id == race.ID {
			delete(m.byConn, conn)
		}
	}
	m.out.CloseRoom(race.ID)
	log.Debug().Str("race_id", race.ID).Int("timers_cancelled", n).Msg("race removed")
}

// InRace reports whether the connection is attached to an active race.
func (m *Manager) InRace(connID string) bool {
	_, ok := m.byConn[connID]
	return ok
}

// RaceOf returns the race a connection is attached to.
func (m *Manager) RaceOf(connID string) (string, bool) {
	id, ok := m.byConn[connID]
	return id, ok
}

// Active returns the number of races in progress.
func (m *Manager) Active() int {
	return len(m.races)
}

// Snapshot returns a copy of a race for inspection.
func (m *Manager) Snapshot(raceID string) (Race, bool) {
	race, ok := m.races[raceID]
	if !ok {
		return Race{}, false
	}
	cp := *race
	cp.Players = make([]*Player, len(race.Players))
	for i, p := range race.Players {
		pc := *p
		pc.typist = nil
		cp.Players[i] = &pc
	}
	return cp, true
}

// RaceIDs lists the races in progress.
func (m *Manager) RaceIDs() []string {
	ids := make([]string, 0, len(m.races))
	for id := range m.races {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (m *Manager) active(raceID string) *Race {
	race, ok := m.races[raceID]
	if !ok || race.Status != StatusActive {
		return nil
	}
	return race
}

func (m *Manager) lookup(connID, raceID string) (*Race, *Player) {
	if m.byConn[connID] != raceID {
		return nil, nil
	}
	race := m.active(raceID)
	if race == nil {
		return nil, nil
	}
	return race, race.player(connID)
}

func (r *Race) player(id string) *Player {
	for _, p := range r.Players {
		if p.PlayerID == id {
			return p
		}
	}
	return nil
}

// Rank orders players by descending wpm. Equal speeds keep roster order.
func Rank(players []*Player) []settlement.Standing {
	ordered := slices.Clone(players)
	slices.SortStableFunc(ordered, func(a, b *Player) int {
		return cmp.Compare(b.WPM, a.WPM)
	})
	out := make([]settlement.Standing, len(ordered))
	for i, p := range ordered {
		out[i] = settlement.Standing{
			PlayerID: p.PlayerID,
			UserID:   p.UserID,
			Username: p.Username,
			WPM:      p.WPM,
			Accuracy: p.Accuracy,
			Time:     p.Time,
			Errors:   p.Errors,
			Finished: p.Finished,
			IsBot:    p.IsBot,
			Rank:     i + 1,
		}
	}
	return out
}

func newRaceID(now time.Time) string {
	return fmt.Sprintf("race_%d_%s", now.UnixMilli(), uuid.NewString()[:8])
}
