package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultCarSKU is the car every account starts with.
const DefaultCarSKU = "car.basic"

// MaxUsernameLength caps usernames in runes.
const MaxUsernameLength = 32

// User is a racer account with its economy and progression counters.
type User struct {
	ID              uuid.UUID `json:"id"`
	Username        string    `json:"username"`
	Email           *string   `json:"email,omitempty"`
	Coins           int       `json:"coins"`
	Exp             int       `json:"exp"`
	Level           int       `json:"level"`
	MMR             int       `json:"mmr"`
	BestWPM         float64   `json:"best_wpm"`
	TotalRaces      int       `json:"total_races"`
	Wins            int       `json:"wins"`
	AverageAccuracy float64   `json:"average_accuracy"`
	Equipped        Equipment `json:"equipped"`
	CreatedAt       time.Time `json:"created_at"`
}

// Equipment holds the cosmetic SKUs a user has equipped. Stored as JSONB.
type Equipment struct {
	CarSKU string `json:"carSku,omitempty"`
}

// CarOrDefault returns the equipped car or the starter car.
func (e Equipment) CarOrDefault() string {
	if e.CarSKU == "" {
		return DefaultCarSKU
	}
	return e.CarSKU
}

// FinishStats is applied once when a human crosses the finish line.
type FinishStats struct {
	WPM      float64
	Accuracy float64
	Coins    int
	Exp      int
}

// PlacementStats is applied once per human after the whole race is done.
type PlacementStats struct {
	Exp  int
	Wins int
	MMR  int
}
