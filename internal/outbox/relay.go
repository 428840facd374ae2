package outbox

import (
	"context"
	"time"

	"github.com/diagnosis/tolet/internal/repo/mongodb"
	"github.com/diagnosis/tolet/pkg/config"
	"github.com/diagnosis/tolet/pkg/logger"
	"github.com/diagnosis/tolet/pkg/metrics"
)

// Publisher is the part of the event bus the relay needs. The id travels as
// the message id so subscribers can drop redeliveries.
type Publisher interface {
	PublishWithID(ctx context.Context, subject, id string, payload []byte) error
}

// Relay moves outbox records onto the event stream. Delivery is at least once:
// a record is marked dispatched only after the stream stored it.
type Relay struct {
	store       mongodb.OutboxRepo
	pub         Publisher
	interval    time.Duration
	batchSize   int
	maxAttempts int
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewRelay(store mongodb.OutboxRepo, pub Publisher, cfg config.OutboxConfig, m *metrics.Metrics) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &Relay{
		store:       store,
		pub:         pub,
		interval:    cfg.PollInterval,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		metrics:     m,
		now:         time.Now,
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	logger.InfoContext(ctx, "Outbox relay started", "interval", r.interval.String())
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			logger.ErrorContext(ctx, "Outbox flush failed", "error", err)
		}
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "Outbox relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Flush publishes one batch of pending records and returns how many went out.
// A record that fails to publish is retried on a later pass until it runs
// out of attempts.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	pending, err := r.store.Pending(ctx, r.batchSize, r.maxAttempts)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, ev := range pending {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		err := r.pub.PublishWithID(ctx, ev.Subject, ev.ID, ev.Payload)
		r.metrics.Published(ev.Subject, err)
		if err != nil {
			logger.WarnContext(ctx, "Outbox publish failed", "id", ev.ID, "attempts", ev.Attempts+1, "error", err)
			if ev.Attempts+1 >= r.maxAttempts {
				logger.ErrorContext(ctx, "Outbox record gave up", "id", ev.ID, "subject", ev.Subject)
			}
			if markErr := r.store.MarkFailed(ctx, ev.ID, err); markErr != nil {
				return sent, markErr
			}
			continue
		}
		if err := r.store.MarkDispatched(ctx, ev.ID, r.now().UTC()); err != nil {
			// published but not marked: the next pass sends it again
			return sent, err
		}
		sent++
	}
	if sent > 0 {
		logger.DebugContext(ctx, "Outbox flushed", "sent", sent)
	}
	return sent, nil
}
