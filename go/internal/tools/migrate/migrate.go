// Command migrate applies the table definitions of every store to the
// database named by the DB_* environment.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/dbconfig"
	"github.com/mcdev12/typerace/go/internal/outbox"
	"github.com/mcdev12/typerace/go/internal/racehistory"
	usersdb "github.com/mcdev12/typerace/go/internal/users/db"
)

type schema struct {
	name string
	sql  string
}

// Users first: nothing references the other two.
var schemas = []schema{
	{"users", usersdb.Schema},
	{"races", racehistory.Schema},
	{"race_outbox", outbox.Schema},
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	_ = godotenv.Load()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg := dbconfig.NewConfigFromEnv()
	pc, err := cfg.PoolConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid database config")
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		log.Fatal().Err(err).Str("dsn", cfg.Redacted()).Msg("failed to connect")
	}
	defer pool.Close()

	if err := apply(ctx, pool, schemas); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Int("schemas", len(schemas)).Str("database", cfg.Database).Msg("migration complete")
}

// apply runs every schema in one transaction so a failure leaves nothing
// half created.
func apply(ctx context.Context, db outbox.TxBeginner, schemas []schema) error {
	return pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
		for _, s := range schemas {
			if _, err := tx.Exec(ctx, s.sql); err != nil {
				return fmt.Errorf("apply %s schema: %w", s.name, err)
			}
			log.Info().Str("schema", s.name).Msg("applied")
		}
		return nil
	})
}
