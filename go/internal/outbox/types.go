package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is a domain event waiting in the outbox table.
type Event struct {
	ID          uuid.UUID
	AggregateID uuid.UUID
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

// Publisher delivers an event to the message broker. Publishing the same
// event twice must be harmless.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type Config struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	BatchSize     int           `yaml:"batch_size"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	NotifyChannel string        `yaml:"notify_channel"`
}

func DefaultConfig() Config {
	return Config{
		PollInterval:  5 * time.Second,
		BatchSize:     100,
		MaxRetries:    3,
		RetryDelay:    200 * time.Millisecond,
		NotifyChannel: "race_outbox_events",
	}
}
