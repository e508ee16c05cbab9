package racehistory

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/models"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 100
)

type RecentLister interface {
	Recent(ctx context.Context, limit int) ([]models.RaceRecord, error)
}

// Handler serves GET /api/races?limit=N.
type Handler struct {
	races RecentLister
}

func NewHandler(races RecentLister) *Handler {
	return &Handler{races: races}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/races", h.HandleRecent)
}

func (h *Handler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxRecentLimit)
	}

	races, err := h.races.Recent(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list recent races")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if races == nil {
		races = []models.RaceRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(races); err != nil {
		log.Error().Err(err).Msg("failed to encode recent races")
	}
}
