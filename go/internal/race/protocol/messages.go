// Package protocol defines the tagged JSON messages exchanged with race
// clients over the realtime channel.
package protocol

import "encoding/json"

// EventType is the name of a realtime event.
type EventType string

// Client to server events.
const (
	EventJoinWaiting    EventType = "join-waiting"
	EventTypingProgress EventType = "typing-progress"
	EventRaceComplete   EventType = "race-complete"
)

// Server to client events.
const (
	EventWaitingStatus        EventType = "waiting-status"
	EventWaitingState         EventType = "waiting-state"
	EventRaceStarting         EventType = "race-starting"
	EventRaceStarted          EventType = "race-started"
	EventPlayerProgress       EventType = "player-progress"
	EventPlayerFinishedReward EventType = "player-finished-reward"
	EventPlacementBonus       EventType = "placement-bonus"
	EventEconomyUpdated       EventType = "economy-updated"
	EventRaceResults          EventType = "race-results"
	EventPlayerLeft           EventType = "player-left"
	EventError                EventType = "error"
)

// Message is an outbound event. Data is marshalled as-is.
type Message struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

// Inbound is the raw form of a client event before validation.
type Inbound struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

type JoinWaiting struct {
	Username string `json:"username"`
}

type TypingProgress struct {
	RaceID   string  `json:"raceId"`
	Progress float64 `json:"progress"`
	WPM      float64 `json:"wpm"`
}

type RaceComplete struct {
	RaceID   string  `json:"raceId"`
	WPM      float64 `json:"wpm"`
	Accuracy float64 `json:"accuracy"`
	Time     float64 `json:"time"`
	Errors   int     `json:"errors"`
}

type WaitingStatus struct {
	Message        string `json:"message"`
	PlayersInQueue int    `json:"playersInQueue"`
}

// WaitingPlayer is one row of the waiting-room snapshot.
type WaitingPlayer struct {
	Username string `json:"username"`
	SocketID string `json:"socketId"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type WaitingState struct {
	Players []WaitingPlayer `json:"players"`
	Count   int             `json:"count"`
	// CountdownEndsAt is unix milliseconds, nil when no countdown is running.
	CountdownEndsAt *int64 `json:"countdownEndsAt"`
}

type RaceStarting struct {
	StartsInMs int64 `json:"startsInMs"`
}

type RacePlayer struct {
	Username string `json:"username"`
	SocketID string `json:"socketId"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type RaceStarted struct {
	RaceID     string       `json:"raceId"`
	Text       string       `json:"text"`
	Players    []RacePlayer `json:"players"`
	StartsInMs int64        `json:"startsInMs"`
}

type PlayerProgress struct {
	PlayerID string  `json:"playerId"`
	Progress float64 `json:"progress"`
	WPM      float64 `json:"wpm"`
}

type PlayerFinishedReward struct {
	Coins   int `json:"coins"`
	Exp     int `json:"exp"`
	LevelUp int `json:"levelUp"`
}

type PlacementBonus struct {
	Exp     int `json:"exp"`
	LevelUp int `json:"levelUp"`
}

// Ranking is a final standings row.
type Ranking struct {
	PlayerID string  `json:"playerId"`
	Username string  `json:"username"`
	WPM      float64 `json:"wpm"`
	Accuracy float64 `json:"accuracy"`
	Time     float64 `json:"time"`
	Errors   int     `json:"errors"`
	Finished bool    `json:"finished"`
	IsBot    bool    `json:"isBot"`
	Rank     int     `json:"rank"`
}

type RaceResults struct {
	Rankings []Ranking `json:"rankings"`
}

type PlayerLeft struct {
	PlayerID string `json:"playerId"`
}

type Error struct {
	Message string `json:"message"`
}

// EconomyUpdated tells a client to refresh its balance. It has no payload.
func EconomyUpdated() Message {
	return Message{Type: EventEconomyUpdated}
}

// NewError builds the generic error event shown to players.
func NewError(message string) Message {
	return Message{Type: EventError, Data: Error{Message: message}}
}
