package users

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
)

// UsersApp defines what the service layer needs from the users application
type UsersApp interface {
	GetProfile(ctx context.Context, username string) (*Profile, error)
}

// Service serves read-only user profiles over HTTP.
type Service struct {
	app UsersApp
}

// NewService creates a new users HTTP service
func NewService(app UsersApp) *Service {
	return &Service{
		app: app,
	}
}

// HandleGetProfile returns the profile named in the path.
func (s *Service) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	if username == "" {
		http.Error(w, "username is required", http.StatusBadRequest)
		return
	}

	profile, err := s.app.GetProfile(r.Context(), username)
	switch {
	case errors.Is(err, ErrUserNotFound):
		http.Error(w, "user not found", http.StatusNotFound)
		return
	case err != nil:
		log.Error().Err(err).Str("username", username).Msg("failed to load profile")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(profile); err != nil {
		log.Error().Err(err).Msg("failed to encode profile")
	}
}

// RegisterRoutes registers the profile routes with an HTTP mux
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/users/{username}", s.HandleGetProfile)
}
