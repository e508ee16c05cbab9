// Package settlement credits rewards to human racers and persists finished
// races. Database work runs off the event loop; failures are logged and never
// block other players' rewards or race cleanup.
package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/progression"
	"github.com/mcdev12/typerace/go/internal/race/protocol"
)

// UserStore applies atomic counter updates to user records.
type UserStore interface {
	ApplyFinish(ctx context.Context, id uuid.UUID, stats models.FinishStats) (*models.User, error)
	ApplyPlacement(ctx context.Context, id uuid.UUID, stats models.PlacementStats) (*models.User, error)
	PromoteLevel(ctx context.Context, id uuid.UUID, level int) (int, error)
}

// HistoryStore persists completed races.
type HistoryStore interface {
	SaveRace(ctx context.Context, record models.RaceRecord) error
}

// Notifier delivers settlement events to clients.
type Notifier interface {
	Send(connID string, msg protocol.Message)
	BroadcastRoom(room string, msg protocol.Message)
}

type Config struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

func DefaultConfig() Config {
	return Config{
		Timeout:        5 * time.Second,
		MaxConcurrency: 8,
	}
}

// Pipeline runs the immediate and end-of-race settlement paths.
type Pipeline struct {
	users   UserStore
	history HistoryStore
	out     Notifier
	cfg     Config

	wg sync.WaitGroup
}

// NewPipeline creates a settlement pipeline.
func NewPipeline(users UserStore, history HistoryStore, out Notifier, cfg Config) *Pipeline {
	return &Pipeline{
		users:   users,
		history: history,
		out:     out,
		cfg:     cfg,
	}
}

// CreditFinish credits the finish reward in the background and tells the
// player once the write has landed.
func (p *Pipeline) CreditFinish(f Finisher) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
		defer cancel()
		if err := p.creditFinish(ctx, f); err != nil {
			log.Error().
				Err(err).
				Str("race_id", f.RaceID).
				Str("user_id", f.UserID.String()).
				Msg("failed to credit finish reward")
		}
	}()
}

func (p *Pipeline) creditFinish(ctx context.Context, f Finisher) error {
	reward := progression.FinishReward(f.WPM)
	user, err := p.users.ApplyFinish(ctx, f.UserID, models.FinishStats{
		WPM:      f.WPM,
		Accuracy: f.Accuracy,
		Coins:    reward.Coins,
		Exp:      reward.Exp,
	})
	if err != nil {
		return fmt.Errorf("apply finish: %w", err)
	}

	levelUp := p.syncLevel(ctx, user)
	p.out.Send(f.PlayerID, protocol.Message{
		Type: protocol.EventPlayerFinishedReward,
		Data: protocol.PlayerFinishedReward{Coins: reward.Coins, Exp: reward.Exp, LevelUp: levelUp},
	})
	p.out.Send(f.PlayerID, protocol.EconomyUpdated())

	log.Info().
		Str("race_id", f.RaceID).
		Str("user_id", f.UserID.String()).
		Int("coins", reward.Coins).
		Int("exp", reward.Exp).
		Int("level_up", levelUp).
		Msg("finish reward credited")
	return nil
}

// SettleRace broadcasts the final standings right away, then persists the
// race and applies placement bonuses and rating changes concurrently.
func (p *Pipeline) SettleRace(o Outcome) {
	rankings := make([]protocol.Ranking, len(o.Standings))
	for i, s := range o.Standings {
		rankings[i] = protocol.Ranking{
			PlayerID: s.PlayerID,
			Username: s.Username,
			WPM:      s.WPM,
			Accuracy: s.Accuracy,
			Time:     s.Time,
			Errors:   s.Errors,
			Finished: s.Finished,
			IsBot:    s.IsBot,
			Rank:     s.Rank,
		}
	}
	p.out.BroadcastRoom(o.RaceID, protocol.Message{
		Type: protocol.EventRaceResults,
		Data: protocol.RaceResults{Rankings: rankings},
	})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
		defer cancel()
		p.settle(ctx, o)
	}()
}

func (p *Pipeline) settle(ctx context.Context, o Outcome) {
	var g errgroup.Group
	if p.cfg.MaxConcurrency > 0 {
		g.SetLimit(p.cfg.MaxConcurrency)
	}

	g.Go(func() error {
		if err := p.history.SaveRace(ctx, recordFor(o)); err != nil {
			log.Error().Err(err).Str("race_id", o.RaceID).Msg("failed to save race history")
			return err
		}
		return nil
	})

	total := len(o.Standings)
	for _, s := range o.Standings {
		if s.IsBot || s.UserID == nil {
			continue
		}
		g.Go(func() error {
			if err := p.applyPlacement(ctx, o.RaceID, s, total); err != nil {
				log.Error().
					Err(err).
					Str("race_id", o.RaceID).
					Str("user_id", s.UserID.String()).
					Msg("failed to apply placement")
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Str("race_id", o.RaceID).Msg("race settled with errors")
		return
	}
	log.Info().Str("race_id", o.RaceID).Int("players", total).Msg("race settled")
}

func (p *Pipeline) applyPlacement(ctx context.Context, raceID string, s Standing, total int) error {
	stats := models.PlacementStats{
		Exp: progression.PlacementBonus(s.Rank),
		MMR: progression.RatingDelta(s.Rank, total, s.WPM),
	}
	if s.Rank == 1 {
		stats.Wins = 1
	}

	user, err := p.users.ApplyPlacement(ctx, *s.UserID, stats)
	if err != nil {
		return fmt.Errorf("apply placement: %w", err)
	}

	log.Debug().
		Str("race_id", raceID).
		Str("user_id", s.UserID.String()).
		Int("rank", s.Rank).
		Int("bonus_exp", stats.Exp).
		Int("mmr_delta", stats.MMR).
		Msg("placement applied")

	if stats.Exp <= 0 {
		return nil
	}
	levelUp := p.syncLevel(ctx, user)
	p.out.Send(s.PlayerID, protocol.Message{
		Type: protocol.EventPlacementBonus,
		Data: protocol.PlacementBonus{Exp: stats.Exp, LevelUp: levelUp},
	})
	p.out.Send(s.PlayerID, protocol.EconomyUpdated())
	return nil
}

// syncLevel persists a level recomputed from the user's experience and
// returns how many levels this write gained. The finish and placement paths
// can sync the same user at once from equally stale snapshots; only levels
// the store actually raised are reported.
func (p *Pipeline) syncLevel(ctx context.Context, user *models.User) int {
	computed := progression.LevelsGained(user.Level, user.Exp)
	if computed == 0 {
		return 0
	}
	level := max(user.Level, 1) + computed
	gained, err := p.users.PromoteLevel(ctx, user.ID, level)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID.String()).Int("level", level).Msg("failed to persist level")
		return 0
	}
	return gained
}

// Wait blocks until every background settlement task has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func recordFor(o Outcome) models.RaceRecord {
	players := make([]models.RaceResult, len(o.Standings))
	for i, s := range o.Standings {
		players[i] = models.RaceResult{
			UserID:   s.UserID,
			Username: s.Username,
			WPM:      s.WPM,
			Accuracy: s.Accuracy,
			Time:     s.Time,
			Errors:   s.Errors,
			Finished: s.Finished,
			IsBot:    s.IsBot,
			Rank:     s.Rank,
		}
	}
	return models.RaceRecord{
		ID:         uuid.New(),
		RaceID:     o.RaceID,
		Text:       o.Text,
		Status:     models.RaceStatusFinished,
		Players:    players,
		StartedAt:  o.StartedAt,
		FinishedAt: o.FinishedAt,
	}
}
