// Package coordinator owns the race event loop. Every lobby and race
// mutation, timer callback and resolved join runs on a single goroutine so
// the managers need no locking.
package coordinator

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/race/gateway"
	"github.com/mcdev12/typerace/go/internal/race/lobby"
	"github.com/mcdev12/typerace/go/internal/race/protocol"
	"github.com/mcdev12/typerace/go/internal/race/scheduler"
	"github.com/mcdev12/typerace/go/internal/race/session"
)

const joinFailedMessage = "Failed to join waiting room"

var ErrStopped = errors.New("coordinator stopped")

// Transport is everything the lobby and race managers send through.
type Transport interface {
	Send(connID string, msg protocol.Message)
	Broadcast(msg protocol.Message)
	BroadcastRoom(room string, msg protocol.Message)
	JoinRoom(connID, room string)
	LeaveRoom(connID, room string)
	CloseRoom(room string)
}

// Resolver loads or creates the user behind a join. A nil userID means a
// guest keyed by username.
type Resolver interface {
	ResolvePlayer(ctx context.Context, userID *uuid.UUID, username string) (*models.User, error)
}

// Images maps cosmetics to display URLs.
type Images interface {
	CarImage(sku string) string
	BotImage() string
}

type Config struct {
	Lobby          lobby.Config   `yaml:"lobby"`
	Session        session.Config `yaml:"session"`
	ResolveTimeout time.Duration  `yaml:"resolve_timeout"`
	InboxSize      int            `yaml:"inbox_size"`
}

func DefaultConfig() Config {
	return Config{
		Lobby:          lobby.DefaultConfig(),
		Session:        session.DefaultConfig(),
		ResolveTimeout: 5 * time.Second,
		InboxSize:      1024,
	}
}

// Deps are the collaborators of the coordinator. Resolver and Images may be
// nil: players then race anonymously and without car images.
type Deps struct {
	Clock     clockwork.Clock
	Transport Transport
	Settler   session.Settler
	Passages  session.Passages
	Resolver  Resolver
	Images    Images
	Rand      *rand.Rand
}

type connState struct {
	principal gateway.Principal
	joinSeq   uint64
}

// Coordinator serialises connection events, client messages and timers onto
// one goroutine.
type Coordinator struct {
	cfg      Config
	clock    clockwork.Clock
	out      Transport
	resolver Resolver
	images   Images

	inbox   chan func()
	stopped chan struct{}

	timers *scheduler.Scheduler
	lobby  *lobby.Manager
	races  *session.Manager

	// Owned by the loop.
	conns map[string]*connState
}

// New wires the lobby and race managers onto a fresh loop. Run must be
// called for anything to happen.
func New(cfg Config, deps Deps) *Coordinator {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(deps.Clock.Now().UnixNano()))
	}
	if deps.Images != nil {
		if cfg.Lobby.BotImageURL == "" {
			cfg.Lobby.BotImageURL = deps.Images.BotImage()
		}
		if cfg.Session.BotImageURL == "" {
			cfg.Session.BotImageURL = deps.Images.BotImage()
		}
	}

	c := &Coordinator{
		cfg:      cfg,
		clock:    deps.Clock,
		out:      deps.Transport,
		resolver: deps.Resolver,
		images:   deps.Images,
		inbox:    make(chan func(), max(cfg.InboxSize, 1)),
		stopped:  make(chan struct{}),
		conns:    make(map[string]*connState),
	}
	c.timers = scheduler.New(deps.Clock, func(f func()) { c.post(f) })
	c.races = session.NewManager(cfg.Session, deps.Clock, c.timers, deps.Transport, deps.Settler, deps.Passages, deps.Rand)
	c.lobby = lobby.NewManager(cfg.Lobby, deps.Clock, c.timers, deps.Transport, c.races, deps.Rand)
	return c
}

// Run processes events until ctx is cancelled. Pending timers are cancelled
// on the way out.
func (c *Coordinator) Run(ctx context.Context) error {
	log.Info().
		Int("min_players", c.cfg.Lobby.MinPlayers).
		Int("max_players", c.cfg.Lobby.MaxPlayers).
		Msg("race coordinator started")

	defer func() {
		close(c.stopped)
		c.timers.Stop()
		log.Info().Int("active_races", c.races.Active()).Msg("race coordinator stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-c.inbox:
			fn()
		}
	}
}

// post queues fn for the loop. It reports false once the loop has stopped.
func (c *Coordinator) post(fn func()) bool {
	select {
	case c.inbox <- fn:
		return true
	case <-c.stopped:
		return false
	}
}

// Inspect runs fn on the loop and waits for it to return.
func (c *Coordinator) Inspect(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !c.post(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Idle waits until every timer that is already due has been handled.
func (c *Coordinator) Idle(ctx context.Context) error {
	if err := c.timers.Idle(ctx); err != nil {
		return err
	}
	return c.Inspect(ctx, func() {})
}

// Connected registers a new socket.
func (c *Coordinator) Connected(connID string, p gateway.Principal) {
	c.post(func() {
		c.conns[connID] = &connState{principal: p}
	})
}

// Disconnected removes the socket from the lobby and from any race.
func (c *Coordinator) Disconnected(connID string) {
	c.post(func() {
		delete(c.conns, connID)
		waiting := c.lobby.Leave(connID)
		racing := c.races.Leave(connID)
		log.Debug().
			Str("connection_id", connID).
			Bool("was_waiting", waiting).
			Bool("was_racing", racing).
			Msg("connection left")
	})
}

// HandleMessage validates a client frame and routes it to the loop.
func (c *Coordinator) HandleMessage(connID string, raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		log.Debug().Err(err).Str("connection_id", connID).Msg("dropping client message")
		if errors.Is(err, protocol.ErrInvalidPayload) {
			c.out.Send(connID, protocol.NewError("Invalid message"))
		}
		return
	}

	c.post(func() {
		switch m := msg.(type) {
		case protocol.JoinWaiting:
			c.join(connID, m)
		case protocol.TypingProgress:
			c.races.UpdateProgress(connID, m)
		case protocol.RaceComplete:
			c.races.RecordFinish(connID, m)
		}
	})
}

// join resolves the player's identity off the loop. Only the latest join
// from a still-open connection is admitted.
func (c *Coordinator) join(connID string, m protocol.JoinWaiting) {
	st, ok := c.conns[connID]
	if !ok {
		return
	}
	st.joinSeq++
	seq := st.joinSeq

	if c.resolver == nil {
		c.admit(connID, seq, nil, m.Username)
		return
	}

	principal := st.principal
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ResolveTimeout)
		defer cancel()

		user, err := c.resolver.ResolvePlayer(ctx, principal.UserID, m.Username)
		c.post(func() {
			if err != nil {
				if !c.current(connID, seq) {
					return
				}
				log.Warn().Err(err).Str("connection_id", connID).Str("username", m.Username).Msg("failed to resolve player")
				c.out.Send(connID, protocol.NewError(joinFailedMessage))
				return
			}
			c.admit(connID, seq, user, m.Username)
		})
	}()
}

func (c *Coordinator) current(connID string, seq uint64) bool {
	st, ok := c.conns[connID]
	return ok && st.joinSeq == seq
}

func (c *Coordinator) admit(connID string, seq uint64, user *models.User, username string) {
	if !c.current(connID, seq) {
		log.Debug().Str("connection_id", connID).Msg("dropping stale join")
		return
	}

	// A player who starts looking for a new race leaves the one they are in.
	if c.races.InRace(connID) {
		c.races.Leave(connID)
	}

	entrant := lobby.Entrant{
		ConnectionID: connID,
		Username:     username,
		JoinedAt:     c.clock.Now(),
	}
	if user != nil {
		entrant.UserID = &user.ID
		entrant.Username = user.Username
		entrant.BestWPM = user.BestWPM
		if c.images != nil {
			entrant.ImageURL = c.images.CarImage(user.Equipped.CarOrDefault())
		}
	}
	c.lobby.Join(entrant)
}

// Stats is a point-in-time summary for operators.
type Stats struct {
	Connections     int    `json:"connections"`
	Waiting         int    `json:"waiting"`
	Queued          int    `json:"queued"`
	ActiveRaces     int    `json:"active_races"`
	CountdownEndsAt *int64 `json:"countdown_ends_at,omitempty"`
}

// Stats reads the loop state.
func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := c.Inspect(ctx, func() {
		s = Stats{
			Connections: len(c.conns),
			Waiting:     len(c.lobby.Entrants()),
			Queued:      c.lobby.Queued(),
			ActiveRaces: c.races.Active(),
		}
		if at, ok := c.lobby.CountdownEndsAt(); ok {
			ms := at.UnixMilli()
			s.CountdownEndsAt = &ms
		}
	})
	return s, err
}

// Lobby and Races expose the managers to code already running on the loop,
// such as an Inspect callback.
func (c *Coordinator) Lobby() *lobby.Manager   { return c.lobby }
func (c *Coordinator) Races() *session.Manager { return c.races }
