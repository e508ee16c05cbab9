package models

import (
	"time"

	"github.com/google/uuid"
)

// RaceStatus is the lifecycle state of a persisted race.
type RaceStatus string

const (
	RaceStatusFinished RaceStatus = "finished"
)

// RaceRecord is the append-only snapshot written once per completed race.
type RaceRecord struct {
	ID         uuid.UUID    `json:"id"`
	RaceID     string       `json:"race_id"`
	Text       string       `json:"text"`
	Status     RaceStatus   `json:"status"`
	Players    []RaceResult `json:"players"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// RaceResult is one player's final line in a race.
type RaceResult struct {
	UserID   *uuid.UUID `json:"user_id,omitempty"`
	Username string     `json:"username"`
	WPM      float64    `json:"wpm"`
	Accuracy float64    `json:"accuracy"`
	Time     float64    `json:"time"`
	Errors   int        `json:"errors"`
	Finished bool       `json:"finished"`
	IsBot    bool       `json:"is_bot"`
	Rank     int        `json:"rank"`
}
