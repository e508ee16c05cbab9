package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/catalog"
	"github.com/mcdev12/typerace/go/internal/dbconfig"
	"github.com/mcdev12/typerace/go/internal/outbox"
	"github.com/mcdev12/typerace/go/internal/race/coordinator"
	"github.com/mcdev12/typerace/go/internal/race/gateway"
	"github.com/mcdev12/typerace/go/internal/race/settlement"
	"github.com/mcdev12/typerace/go/internal/racehistory"
	"github.com/mcdev12/typerace/go/internal/texts"
	"github.com/mcdev12/typerace/go/internal/users"
)

type Services struct {
	Gateway     *gateway.ConnectionManager
	WebSocket   *gateway.WebSocketHandler
	Coordinator *coordinator.Coordinator
	Settlement  *settlement.Pipeline
	Users       *users.Service
	History     *racehistory.Handler

	// Nil when the broker is unreachable at startup.
	Relay     *outbox.Relay
	Listener  *outbox.Listener
	publisher *outbox.JetStreamPublisher
}

func setupServices(ctx context.Context, cfg *Config, dbCfg dbconfig.Config, database *sql.DB, pool *pgxpool.Pool) (*Services, error) {
	// Database layer → Repository layer → App layer → transport

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	corpus, err := texts.Load(cfg.Texts.Path)
	if err != nil {
		return nil, err
	}

	// Users
	userRepo := users.NewRepository(database)
	userApp := users.NewApp(userRepo)

	// Race history writes its outbox row in the same transaction
	historyStore := racehistory.NewStore(pool, cfg.Outbox.NotifyChannel)

	// Realtime
	cm := gateway.NewConnectionManager(cfg.Gateway)
	var verifier gateway.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = gateway.NewJWTVerifier(cfg.Auth.JWTSecret)
	} else {
		log.Warn().Msg("JWT_SECRET not set, every connection joins as a guest")
	}

	pipeline := settlement.NewPipeline(userRepo, historyStore, cm, cfg.Settlement)
	coord := coordinator.New(cfg.Race, coordinator.Deps{
		Transport: cm,
		Settler:   pipeline,
		Passages:  corpus,
		Resolver:  userApp,
		Images:    cat,
	})
	cm.SetHandler(coord)

	s := &Services{
		Gateway:     cm,
		WebSocket:   gateway.NewWebSocketHandler(cm, verifier),
		Coordinator: coord,
		Settlement:  pipeline,
		Users:       users.NewService(userApp),
		History:     racehistory.NewHandler(historyStore),
	}

	if err := s.setupRelay(ctx, cfg, dbCfg, pool); err != nil {
		log.Error().Err(err).Msg("outbox relay disabled, race events will queue until restart")
	}
	return s, nil
}

func (s *Services) setupRelay(ctx context.Context, cfg *Config, dbCfg dbconfig.Config, pool *pgxpool.Pool) error {
	publisher, err := outbox.NewJetStreamPublisher(ctx, cfg.JetStream)
	if err != nil {
		return err
	}

	relay, err := outbox.NewRelay(outbox.NewRepository(pool), publisher, cfg.Outbox, nil)
	if err != nil {
		_ = publisher.Close()
		return err
	}

	listener, err := outbox.NewListener(outbox.ListenerConfig{
		DatabaseURL:   dbCfg.DSN(),
		NotifyChannel: cfg.Outbox.NotifyChannel,
	}, relay.Wake)
	if err != nil {
		// Polling alone still drains the outbox.
		log.Warn().Err(err).Msg("outbox notifications unavailable, relying on polling")
	}

	s.publisher = publisher
	s.Relay = relay
	s.Listener = listener
	return nil
}

func (s *Services) Close() error {
	if s.Relay != nil {
		if err := s.Relay.Shutdown(); err != nil {
			log.Error().Err(err).Msg("failed to stop outbox relay")
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			return fmt.Errorf("failed to close publisher: %w", err)
		}
	}
	return nil
}
