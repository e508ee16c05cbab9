package events

import (
	"time"
)

// Domain events recorded in the outbox and relayed to the message broker.

const (
	EventTypeRaceCompleted = "RaceCompleted"
)

// RaceCompletedPayload is the payload for a RaceCompleted event
type RaceCompletedPayload struct {
	RaceID     string          `json:"race_id"`
	RecordID   string          `json:"record_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Standings  []StandingEntry `json:"standings"`
}

// StandingEntry is one finisher in a RaceCompleted event
type StandingEntry struct {
	Rank     int     `json:"rank"`
	UserID   string  `json:"user_id,omitempty"`
	Username string  `json:"username"`
	WPM      float64 `json:"wpm"`
	IsBot    bool    `json:"is_bot"`
}

var subjects = map[string]string{
	EventTypeRaceCompleted: "completed",
}

// Subject returns the broker subject suffix for an event type. Unknown types
// fall back to the type name itself.
func Subject(eventType string) string {
	if s, ok := subjects[eventType]; ok {
		return s
	}
	return eventType
}
