package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/mcdev12/typerace/go/internal/models"
)

// MaxWPM is the fastest speed a client may report. Anything above it is
// rejected before it can reach rewards or ratings.
const MaxWPM = 500

var (
	ErrUnknownEvent   = errors.New("unknown event")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Decode parses a raw client frame into one of JoinWaiting, TypingProgress
// or RaceComplete, validating it on the way.
func Decode(raw []byte) (any, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	switch in.Type {
	case EventJoinWaiting:
		var msg JoinWaiting
		if err := unmarshalData(in.Data, &msg); err != nil {
			return nil, err
		}
		msg.Username = strings.TrimSpace(msg.Username)
		if msg.Username == "" || utf8.RuneCountInString(msg.Username) > models.MaxUsernameLength {
			return nil, fmt.Errorf("%w: username must be 1-%d characters", ErrInvalidPayload, models.MaxUsernameLength)
		}
		return msg, nil

	case EventTypingProgress:
		var msg TypingProgress
		if err := unmarshalData(in.Data, &msg); err != nil {
			return nil, err
		}
		if msg.RaceID == "" {
			return nil, fmt.Errorf("%w: raceId is required", ErrInvalidPayload)
		}
		if !finite(msg.Progress) || !validWPM(msg.WPM) {
			return nil, fmt.Errorf("%w: progress must be finite and wpm within 0-%d", ErrInvalidPayload, MaxWPM)
		}
		return msg, nil

	case EventRaceComplete:
		var msg RaceComplete
		if err := unmarshalData(in.Data, &msg); err != nil {
			return nil, err
		}
		if msg.RaceID == "" {
			return nil, fmt.Errorf("%w: raceId is required", ErrInvalidPayload)
		}
		if !validWPM(msg.WPM) {
			return nil, fmt.Errorf("%w: wpm must be within 0-%d", ErrInvalidPayload, MaxWPM)
		}
		if !finite(msg.Accuracy) || msg.Accuracy < 0 || msg.Accuracy > 100 {
			return nil, fmt.Errorf("%w: accuracy must be within 0-100", ErrInvalidPayload)
		}
		if !finite(msg.Time) || msg.Time < 0 || msg.Errors < 0 {
			return nil, fmt.Errorf("%w: time and errors must be non-negative", ErrInvalidPayload)
		}
		return msg, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, in.Type)
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func validWPM(wpm float64) bool {
	return finite(wpm) && wpm >= 0 && wpm <= MaxWPM
}
