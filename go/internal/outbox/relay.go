package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Processor hands unsent events to a callback and records the ones it accepts.
type Processor interface {
	Process(ctx context.Context, limit int, fn func(Event) error) (int, error)
}

// Relay drains the outbox into a Publisher on a fixed interval and whenever
// it is woken.
type Relay struct {
	processor Processor
	publisher Publisher
	cfg       Config
	clock     clockwork.Clock

	scheduler gocron.Scheduler
	job       gocron.Job
}

func NewRelay(processor Processor, publisher Publisher, cfg Config, clock clockwork.Clock) (*Relay, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}

	s, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	r := &Relay{
		processor: processor,
		publisher: publisher,
		cfg:       cfg,
		clock:     clock,
		scheduler: s,
	}

	r.job, err = s.NewJob(
		gocron.DurationJob(cfg.PollInterval),
		gocron.NewTask(func(ctx context.Context) {
			if _, err := r.RunOnce(ctx); err != nil {
				log.Error().Err(err).Msg("outbox relay run failed")
			}
		}),
		gocron.WithName("outbox-relay"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to schedule outbox relay: %w", err)
	}
	return r, nil
}

func (r *Relay) Start() {
	log.Info().
		Dur("poll_interval", r.cfg.PollInterval).
		Int("batch_size", r.cfg.BatchSize).
		Msg("outbox relay started")
	r.scheduler.Start()
}

func (r *Relay) Shutdown() error {
	return r.scheduler.Shutdown()
}

// Wake asks for a run now instead of at the next tick.
func (r *Relay) Wake() {
	if err := r.job.RunNow(); err != nil {
		log.Warn().Err(err).Msg("failed to wake outbox relay")
	}
}

// RunOnce publishes unsent events batch by batch until the outbox is empty
// or a publish fails, and returns how many were relayed.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	var total int
	for {
		var publishErr error
		sent, err := r.processor.Process(ctx, r.cfg.BatchSize, func(e Event) error {
			if err := r.publishWithRetry(ctx, e); err != nil {
				publishErr = err
				return err
			}
			return nil
		})
		total += sent
		if err != nil {
			return total, err
		}
		if publishErr != nil {
			return total, publishErr
		}
		if sent < r.cfg.BatchSize {
			if total > 0 {
				log.Info().Int("count", total).Msg("relayed outbox events")
			}
			return total, nil
		}
	}
}

func (r *Relay) publishWithRetry(ctx context.Context, event Event) error {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 && r.cfg.RetryDelay > 0 {
			delay := r.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.clock.After(delay):
			}
		}

		if err := r.publisher.Publish(ctx, event); err != nil {
			lastErr = err
			log.Error().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", event.ID.String()).
				Msg("failed to publish, retrying")
			continue
		}

		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("event_id", event.ID.String()).
				Msg("publish succeeded after retry")
		}
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", r.cfg.MaxRetries+1, lastErr)
}
