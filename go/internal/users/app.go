package users

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/models"
)

// UsersRepository defines what the app layer needs from the repository
type UsersRepository interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UpsertGuest(ctx context.Context, username string) (*models.User, error)
}

// App handles users business logic
type App struct {
	repo UsersRepository
}

// NewApp creates a new users App
func NewApp(repo UsersRepository) *App {
	return &App{
		repo: repo,
	}
}

// ResolvePlayer returns the account behind a race join. Authenticated
// players are loaded by id; guests are upserted by username.
func (a *App) ResolvePlayer(ctx context.Context, userID *uuid.UUID, username string) (*models.User, error) {
	if userID != nil {
		user, err := a.repo.GetUser(ctx, *userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load authenticated player: %w", err)
		}
		return user, nil
	}

	username = strings.TrimSpace(username)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	user, err := a.repo.UpsertGuest(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve guest: %w", err)
	}

	log.Debug().Str("user_id", user.ID.String()).Str("username", user.Username).Msg("resolved guest player")
	return user, nil
}

// GetProfile loads a user by username with their level progress.
func (a *App) GetProfile(ctx context.Context, username string) (*Profile, error) {
	user, err := a.repo.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return profileFor(user), nil
}

func validateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidUsername)
	}
	if utf8.RuneCountInString(username) > models.MaxUsernameLength {
		return fmt.Errorf("%w: username exceeds %d characters", ErrInvalidUsername, models.MaxUsernameLength)
	}
	return nil
}
