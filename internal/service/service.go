package service

import (
	"context"
	"fmt"
	"time"

	"github.com/diagnosis/tolet/internal/domain"
	"github.com/diagnosis/tolet/internal/repo/mongodb"
)

// Cache is the slice of the Redis client the services use for the public
// listing page.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

// emit records a lifecycle event for the relay. The id is deterministic, so
// a resumed transition appends nothing new.
func emit(ctx context.Context, outbox mongodb.OutboxRepo, subject, aggregateID string, payload any, now time.Time) error {
	ev, err := domain.NewOutboxEvent(subject, aggregateID, payload, now)
	if err != nil {
		return err
	}
	if err := outbox.Append(ctx, ev); err != nil {
		return fmt.Errorf("emit %s: %w", subject, err)
	}
	return nil
}

func deleted(n int64) domain.DeleteResult {
	return domain.DeleteResult{Acknowledged: true, DeletedCount: n}
}
