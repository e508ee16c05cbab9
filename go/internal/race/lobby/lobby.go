// Package lobby runs the waiting room: it admits players, seeds bots when
// humans are alone, counts down once enough racers are present and hands the
// room over to a race.
package lobby

import (
	"fmt"
	"math/rand"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/race/bot"
	"github.com/mcdev12/typerace/go/internal/race/protocol"
	"github.com/mcdev12/typerace/go/internal/race/scheduler"
)

const (
	timerGroup = "lobby"

	WaitingMessage = "Waiting for players..."
)

var (
	countdownKey = scheduler.Key{Group: timerGroup, Name: "countdown"}
	seedKey      = scheduler.Key{Group: timerGroup, Name: "seed"}
)

// Config holds the waiting room thresholds and timings.
type Config struct {
	MinPlayers   int           `yaml:"min_players"`
	MaxPlayers   int           `yaml:"max_players"`
	Countdown    time.Duration `yaml:"countdown"`
	FastStart    time.Duration `yaml:"fast_start"`
	SeedDelay    time.Duration `yaml:"bot_seed_delay"`
	SeedInterval time.Duration `yaml:"bot_seed_interval"`
	BotImageURL  string        `yaml:"bot_image_url"`
}

// DefaultConfig returns the standard room settings.
func DefaultConfig() Config {
	return Config{
		MinPlayers:   3,
		MaxPlayers:   5,
		Countdown:    2 * time.Second,
		FastStart:    time.Second,
		SeedDelay:    2 * time.Second,
		SeedInterval: 700 * time.Millisecond,
	}
}

// Entrant is a player, human or bot, waiting for the next race.
type Entrant struct {
	ConnectionID string
	UserID       *uuid.UUID
	Username     string
	JoinedAt     time.Time
	IsBot        bool
	BotTargetWPM float64
	ImageURL     string
	BestWPM      float64
}

// Notifier delivers lobby events to clients.
type Notifier interface {
	Send(connID string, msg protocol.Message)
	Broadcast(msg protocol.Message)
}

// Promoter turns a set of entrants into a running race.
type Promoter interface {
	Promote(entrants []Entrant)
}

// Manager owns the waiting pool. It is not safe for concurrent use; every
// method must be called from the race event loop.
type Manager struct {
	cfg      Config
	clock    clockwork.Clock
	timers   *scheduler.Scheduler
	out      Notifier
	promoter Promoter
	rng      *rand.Rand

	pool     []*Entrant
	overflow []*Entrant

	countdownEndsAt *time.Time
	fastStart       bool
	seeding         bool
}

// NewManager creates a lobby manager.
func NewManager(cfg Config, clock clockwork.Clock, timers *scheduler.Scheduler, out Notifier, promoter Promoter, rng *rand.Rand) *Manager {
	return &Manager{
		cfg:      cfg,
		clock:    clock,
		timers:   timers,
		out:      out,
		promoter: promoter,
		rng:      rng,
	}
}

// Join admits a resolved human. Joining again from the same connection
// refreshes the entrant in place.
func (m *Manager) Join(e Entrant) {
	e.IsBot = false
	if e.JoinedAt.IsZero() {
		e.JoinedAt = m.clock.Now()
	}

	if existing := m.find(e.ConnectionID); existing != nil {
		*existing = e
	} else if idx := m.overflowIndex(e.ConnectionID); idx >= 0 {
		*m.overflow[idx] = e
	} else if len(m.pool) < m.cfg.MaxPlayers || m.evictBot() {
		m.pool = append(m.pool, &e)
	} else {
		m.overflow = append(m.overflow, &e)
		log.Info().
			Str("connection_id", e.ConnectionID).
			Int("overflow", len(m.overflow)).
			Msg("lobby full, queued for next race")
	}

	log.Info().
		Str("connection_id", e.ConnectionID).
		Str("username", e.Username).
		Bool("authenticated", e.UserID != nil).
		Int("pool", len(m.pool)).
		Msg("player joined lobby")

	m.out.Send(e.ConnectionID, protocol.Message{
		Type: protocol.EventWaitingStatus,
		Data: protocol.WaitingStatus{Message: WaitingMessage, PlayersInQueue: len(m.pool) + len(m.overflow)},
	})
	m.broadcastState()

	if !m.seeding && m.countdownEndsAt == nil && !m.timers.Active(seedKey) {
		m.armSeeding()
	}
	m.evaluate()
}

// Leave removes a connection from the waiting room. It reports whether the
// connection was waiting.
func (m *Manager) Leave(connID string) bool {
	if idx := m.overflowIndex(connID); idx >= 0 {
		m.overflow = slices.Delete(m.overflow, idx, idx+1)
		return true
	}
	idx := slices.IndexFunc(m.pool, func(e *Entrant) bool { return e.ConnectionID == connID })
	if idx < 0 {
		return false
	}
	m.pool = slices.Delete(m.pool, idx, idx+1)
	m.refill()

	switch {
	case m.humans() == 0:
		m.reset()
		m.pool = nil
		log.Info().Msg("last human left lobby, cleared bots")
	case len(m.pool) < m.cfg.MinPlayers:
		m.cancelCountdown()
		m.cancelSeeding()
		m.armSeeding()
	}
	m.broadcastState()
	return true
}

// Contains reports whether the connection is waiting, in the pool or queued.
func (m *Manager) Contains(connID string) bool {
	return m.find(connID) != nil || m.overflowIndex(connID) >= 0
}

// Entrants returns a copy of the pool in join order.
func (m *Manager) Entrants() []Entrant {
	out := make([]Entrant, len(m.pool))
	for i, e := range m.pool {
		out[i] = *e
	}
	return out
}

// Queued returns how many humans are waiting for a slot in the pool.
func (m *Manager) Queued() int {
	return len(m.overflow)
}

// CountdownEndsAt returns the running countdown deadline, if any.
func (m *Manager) CountdownEndsAt() (time.Time, bool) {
	if m.countdownEndsAt == nil {
		return time.Time{}, false
	}
	return *m.countdownEndsAt, true
}

// Seeding reports whether bots are being added on an interval.
func (m *Manager) Seeding() bool {
	return m.seeding
}

// FastStarting reports whether the running countdown is the short full-room one.
func (m *Manager) FastStarting() bool {
	return m.fastStart
}

func (m *Manager) evaluate() {
	switch {
	case len(m.pool) >= m.cfg.MaxPlayers:
		m.startFastCountdown()
	case len(m.pool) >= m.cfg.MinPlayers:
		m.maybeStartCountdown()
	}
}

func (m *Manager) maybeStartCountdown() {
	if len(m.pool) < m.cfg.MinPlayers || m.countdownEndsAt != nil {
		return
	}
	m.startCountdown(m.cfg.Countdown, false)
}

func (m *Manager) startFastCountdown() {
	if m.fastStart {
		return
	}
	m.cancelSeeding()
	m.startCountdown(m.cfg.FastStart, true)
}

func (m *Manager) startCountdown(d time.Duration, fast bool) {
	ends := m.clock.Now().Add(d)
	m.countdownEndsAt = &ends
	m.fastStart = fast
	m.timers.After(countdownKey, d, m.onCountdownExpired)

	log.Info().
		Dur("countdown", d).
		Bool("fast_start", fast).
		Int("pool", len(m.pool)).
		Msg("lobby countdown started")

	m.out.Broadcast(protocol.Message{
		Type: protocol.EventRaceStarting,
		Data: protocol.RaceStarting{StartsInMs: d.Milliseconds()},
	})
	m.broadcastState()
}

func (m *Manager) cancelCountdown() {
	m.timers.Cancel(countdownKey)
	m.countdownEndsAt = nil
	m.fastStart = false
}

func (m *Manager) onCountdownExpired() {
	m.countdownEndsAt = nil
	m.fastStart = false
	m.cancelSeeding()

	if m.humans() == 0 {
		m.pool = nil
		m.broadcastState()
		log.Info().Msg("countdown expired with no humans, promotion aborted")
		return
	}

	entrants := m.take()
	log.Info().Int("entrants", len(entrants)).Msg("promoting lobby to race")
	m.promoter.Promote(entrants)

	m.refill()
	m.broadcastState()
	if m.humans() > 0 {
		m.armSeeding()
		m.evaluate()
	}
}

// take removes up to MaxPlayers entrants, humans first then bots.
func (m *Manager) take() []Entrant {
	ordered := make([]*Entrant, 0, len(m.pool))
	for _, e := range m.pool {
		if !e.IsBot {
			ordered = append(ordered, e)
		}
	}
	for _, e := range m.pool {
		if e.IsBot {
			ordered = append(ordered, e)
		}
	}
	n := min(len(ordered), m.cfg.MaxPlayers)

	out := make([]Entrant, n)
	for i := 0; i < n; i++ {
		out[i] = *ordered[i]
	}
	m.pool = ordered[n:]
	return out
}

func (m *Manager) armSeeding() {
	if m.humans() == 0 {
		return
	}
	m.timers.After(seedKey, m.cfg.SeedDelay, m.onSeedDelay)
}

func (m *Manager) onSeedDelay() {
	if m.countdownEndsAt != nil || m.humans() == 0 {
		return
	}
	m.seeding = true
	m.timers.Every(seedKey, m.cfg.SeedInterval, m.seedTick)
	log.Debug().Msg("lobby bot seeding started")
}

func (m *Manager) seedTick() {
	if m.humans() == 0 {
		m.cancelSeeding()
		return
	}
	if len(m.pool) >= m.cfg.MaxPlayers {
		m.cancelSeeding()
		m.evaluate()
		return
	}

	best := make([]float64, 0, len(m.pool))
	for _, e := range m.pool {
		if !e.IsBot {
			best = append(best, e.BestWPM)
		}
	}
	target := bot.TargetFromBaseline(m.rng, bot.Baseline(best))
	now := m.clock.Now()
	b := &Entrant{
		ConnectionID: fmt.Sprintf("bot_wait_%d_%d", now.UnixMilli(), m.rng.Intn(1000)),
		Username:     bot.Name(m.rng),
		JoinedAt:     now,
		IsBot:        true,
		BotTargetWPM: target,
		ImageURL:     m.cfg.BotImageURL,
	}
	m.pool = append(m.pool, b)

	log.Debug().
		Str("bot_id", b.ConnectionID).
		Float64("target_wpm", target).
		Int("pool", len(m.pool)).
		Msg("seeded lobby bot")

	m.broadcastState()
	if len(m.pool) >= m.cfg.MaxPlayers {
		m.cancelSeeding()
	}
	m.evaluate()
}

func (m *Manager) cancelSeeding() {
	m.timers.Cancel(seedKey)
	m.seeding = false
}

func (m *Manager) reset() {
	m.cancelCountdown()
	m.cancelSeeding()
}

// evictBot drops the most recently seeded bot to make room for a human.
func (m *Manager) evictBot() bool {
	for i := len(m.pool) - 1; i >= 0; i-- {
		if m.pool[i].IsBot {
			log.Debug().Str("bot_id", m.pool[i].ConnectionID).Msg("evicted lobby bot for human")
			m.pool = slices.Delete(m.pool, i, i+1)
			return true
		}
	}
	return false
}

// refill moves queued humans into free pool slots.
func (m *Manager) refill() {
	for len(m.overflow) > 0 && (len(m.pool) < m.cfg.MaxPlayers || m.evictBot()) {
		m.pool = append(m.pool, m.overflow[0])
		m.overflow = m.overflow[1:]
	}
}

func (m *Manager) humans() int {
	n := 0
	for _, e := range m.pool {
		if !e.IsBot {
			n++
		}
	}
	return n
}

func (m *Manager) find(connID string) *Entrant {
	for _, e := range m.pool {
		if e.ConnectionID == connID {
			return e
		}
	}
	return nil
}

func (m *Manager) overflowIndex(connID string) int {
	return slices.IndexFunc(m.overflow, func(e *Entrant) bool { return e.ConnectionID == connID })
}

func (m *Manager) broadcastState() {
	players := make([]protocol.WaitingPlayer, 0, len(m.pool))
	for _, e := range m.pool {
		players = append(players, protocol.WaitingPlayer{
			Username: e.Username,
			SocketID: e.ConnectionID,
			ImageURL: e.ImageURL,
		})
	}
	var ends *int64
	if m.countdownEndsAt != nil {
		ms := m.countdownEndsAt.UnixMilli()
		ends = &ms
	}
	m.out.Broadcast(protocol.Message{
		Type: protocol.EventWaitingState,
		Data: protocol.WaitingState{Players: players, Count: len(players), CountdownEndsAt: ends},
	})
}
