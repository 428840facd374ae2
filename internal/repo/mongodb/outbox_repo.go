package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/diagnosis/tolet/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type OutboxRepo interface {
	// Append ignores an event whose id is already stored.
	Append(ctx context.Context, ev *domain.OutboxEvent) error
	Pending(ctx context.Context, limit, maxAttempts int) ([]domain.OutboxEvent, error)
	MarkDispatched(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, cause error) error
}

type OutboxRepoImpl struct{ coll *mongo.Collection }

func NewOutboxRepo(s *Store) *OutboxRepoImpl {
	return &OutboxRepoImpl{coll: s.db.Collection(OutboxCollection)}
}

func (r *OutboxRepoImpl) Append(ctx context.Context, ev *domain.OutboxEvent) error {
	if _, err := insertMoved(ctx, r.coll, ev); err != nil {
		return fmt.Errorf("append outbox %s: %w", ev.ID, err)
	}
	return nil
}

func (r *OutboxRepoImpl) Pending(ctx context.Context, limit, maxAttempts int) ([]domain.OutboxEvent, error) {
	out, err := findAll[domain.OutboxEvent](ctx, r.coll,
		bson.M{
			"dispatched_at": bson.M{"$exists": false},
			"attempts":      bson.M{"$lt": maxAttempts},
		},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("pending outbox: %w", err)
	}
	return out, nil
}

func (r *OutboxRepoImpl) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"dispatched_at": at}, "$inc": bson.M{"attempts": 1}})
	if err != nil {
		return fmt.Errorf("mark outbox %s dispatched: %w", id, err)
	}
	return nil
}

func (r *OutboxRepoImpl) MarkFailed(ctx context.Context, id string, cause error) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"last_error": cause.Error()}, "$inc": bson.M{"attempts": 1}})
	if err != nil {
		return fmt.Errorf("mark outbox %s failed: %w", id, err)
	}
	return nil
}
