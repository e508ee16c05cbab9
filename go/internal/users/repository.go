package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/sqlutil"
	"github.com/mcdev12/typerace/go/internal/users/db"
)

const (
	transactionTypeReward = "reward"
	currencyCoins         = "coins"
)

// Querier defines what the repository needs from the database layer
type Querier interface {
	GetUser(ctx context.Context, id uuid.UUID) (db.User, error)
	GetUserByUsername(ctx context.Context, username string) (db.User, error)
	UpsertGuest(ctx context.Context, username string) (db.User, error)
	ApplyFinish(ctx context.Context, arg db.ApplyFinishParams) (db.User, error)
	ApplyPlacement(ctx context.Context, arg db.ApplyPlacementParams) (db.User, error)
	PromoteLevel(ctx context.Context, arg db.PromoteLevelParams) (int32, error)
	InsertRewardTransaction(ctx context.Context, arg db.InsertRewardTransactionParams) error
}

// Repository implements user data access operations. Counter updates are
// single statements so concurrent rewards never lose increments.
type Repository struct {
	queries Querier
	conn    *sql.DB
}

// NewRepository creates a users repository on a database handle.
func NewRepository(conn *sql.DB) *Repository {
	return &Repository{
		queries: db.New(conn),
		conn:    conn,
	}
}

// NewRepositoryWithQuerier creates a repository without transaction support;
// multi-statement operations run directly on the querier.
func NewRepositoryWithQuerier(querier Querier) *Repository {
	return &Repository{queries: querier}
}

func (r *Repository) inTx(ctx context.Context, fn func(q Querier) error) error {
	if r.conn == nil {
		return fn(r.queries)
	}
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(db.New(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Warn().Err(rbErr).Msg("failed to roll back user transaction")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := r.queries.GetUser(ctx, id)
	if err != nil {
		return nil, notFound(err, "failed to get user %s", id)
	}
	return dbUserToModel(user), nil
}

// GetUserByUsername retrieves a user by username
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user, err := r.queries.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, notFound(err, "failed to get user by username %q", username)
	}
	return dbUserToModel(user), nil
}

// UpsertGuest returns the user with this username, creating it if needed.
func (r *Repository) UpsertGuest(ctx context.Context, username string) (*models.User, error) {
	user, err := r.queries.UpsertGuest(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert guest %q: %w", username, err)
	}
	return dbUserToModel(user), nil
}

// ApplyFinish credits a finish reward and records it in the reward ledger
// in one transaction.
func (r *Repository) ApplyFinish(ctx context.Context, id uuid.UUID, stats models.FinishStats) (*models.User, error) {
	var out db.User
	err := r.inTx(ctx, func(q Querier) error {
		user, err := q.ApplyFinish(ctx, db.ApplyFinishParams{
			Coins:    clampInt32(stats.Coins),
			Exp:      clampInt32(stats.Exp),
			Accuracy: stats.Accuracy,
			Wpm:      stats.WPM,
			ID:       id,
		})
		if err != nil {
			return notFound(err, "failed to apply finish for %s", id)
		}
		if stats.Coins > 0 {
			if err := q.InsertRewardTransaction(ctx, db.InsertRewardTransactionParams{
				UserID:   id,
				Type:     transactionTypeReward,
				Amount:   clampInt32(stats.Coins),
				Currency: currencyCoins,
			}); err != nil {
				return fmt.Errorf("failed to record reward transaction: %w", err)
			}
		}
		out = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dbUserToModel(out), nil
}

// ApplyPlacement adds the placement bonus, win and rating change.
func (r *Repository) ApplyPlacement(ctx context.Context, id uuid.UUID, stats models.PlacementStats) (*models.User, error) {
	user, err := r.queries.ApplyPlacement(ctx, db.ApplyPlacementParams{
		Exp:  clampInt32(stats.Exp),
		Wins: clampInt32(stats.Wins),
		Mmr:  clampInt32(stats.MMR),
		ID:   id,
	})
	if err != nil {
		return nil, notFound(err, "failed to apply placement for %s", id)
	}
	return dbUserToModel(user), nil
}

// PromoteLevel raises the cached level and returns how many levels this
// write added. It never lowers the level; a row already at or above level
// reports zero.
func (r *Repository) PromoteLevel(ctx context.Context, id uuid.UUID, level int) (int, error) {
	previous, err := r.queries.PromoteLevel(ctx, db.PromoteLevelParams{ID: id, Level: clampInt32(level)})
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to promote %s to level %d: %w", id, level, err)
	}
	return level - int(previous), nil
}

// clampInt32 saturates n into the range of an INTEGER column.
func clampInt32(n int) int32 {
	return int32(min(max(n, math.MinInt32), math.MaxInt32))
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, ErrUserNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// dbUserToModel converts a database user to domain model
func dbUserToModel(u db.User) *models.User {
	equipped, err := sqlutil.FromNullRawMessage[models.Equipment](u.Equipped)
	if err != nil {
		log.Warn().Err(err).Str("user_id", u.ID.String()).Msg("ignoring malformed equipped column")
	}
	return &models.User{
		ID:              u.ID,
		Username:        u.Username,
		Email:           sqlutil.FromSqlStringPtr(u.Email),
		Coins:           int(u.Coins),
		Exp:             int(u.Exp),
		Level:           int(u.Level),
		MMR:             int(u.Mmr),
		BestWPM:         u.BestWpm,
		TotalRaces:      int(u.TotalRaces),
		Wins:            int(u.Wins),
		AverageAccuracy: u.AverageAccuracy,
		Equipped:        equipped,
		CreatedAt:       u.CreatedAt,
	}
}
