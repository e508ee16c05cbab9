package settlement

import (
	"time"

	"github.com/google/uuid"
)

// Finisher is a human who just crossed the line.
type Finisher struct {
	RaceID   string
	PlayerID string
	UserID   uuid.UUID
	WPM      float64
	Accuracy float64
}

// Standing is one ranked row of a completed race.
type Standing struct {
	PlayerID string
	UserID   *uuid.UUID
	Username string
	WPM      float64
	Accuracy float64
	Time     float64
	Errors   int
	Finished bool
	IsBot    bool
	Rank     int
}

// Outcome is everything needed to settle a completed race.
type Outcome struct {
	RaceID     string
	Text       string
	StartedAt  time.Time
	FinishedAt time.Time
	Standings  []Standing
}
