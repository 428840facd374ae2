package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/diagnosis/tolet/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type OwnershipRepo interface {
	// Upsert keeps one request per email; filing again refreshes name and message.
	Upsert(ctx context.Context, req *domain.OwnershipRequest) (*domain.OwnershipRequest, error)
	List(ctx context.Context) ([]domain.OwnershipRequest, error)
	DeleteByEmail(ctx context.Context, email string) (int64, error)
}

type OwnershipRepoImpl struct{ coll *mongo.Collection }

func NewOwnershipRepo(s *Store) *OwnershipRepoImpl {
	return &OwnershipRepoImpl{coll: s.db.Collection(OwnershipCollection)}
}

func (r *OwnershipRepoImpl) Upsert(ctx context.Context, req *domain.OwnershipRequest) (*domain.OwnershipRequest, error) {
	email := domain.NormalizeEmail(req.Email)
	filter := bson.M{"email": email}
	update := bson.M{
		"$set":         bson.M{"name": req.Name, "message": req.Message},
		"$setOnInsert": bson.M{"created_at": req.CreatedAt},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var out domain.OwnershipRequest
	for attempt := 0; attempt < 2; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, opTimeout)
		err := r.coll.FindOneAndUpdate(opCtx, filter, update, opts).Decode(&out)
		cancel()
		// a concurrent upsert won the insert; the retry updates its document
		if mongo.IsDuplicateKeyError(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("upsert ownership request: %w", err)
		}
		return &out, nil
	}
	return nil, errors.New("upsert ownership request: lost insert race twice")
}

func (r *OwnershipRepoImpl) List(ctx context.Context) ([]domain.OwnershipRequest, error) {
	out, err := findAll[domain.OwnershipRequest](ctx, r.coll, bson.M{}, newestFirst)
	if err != nil {
		return nil, fmt.Errorf("list ownership requests: %w", err)
	}
	return out, nil
}

func (r *OwnershipRepoImpl) DeleteByEmail(ctx context.Context, email string) (int64, error) {
	n, err := deleteOne(ctx, r.coll, bson.M{"email": domain.NormalizeEmail(email)})
	if err != nil {
		return 0, fmt.Errorf("delete ownership request: %w", err)
	}
	return n, nil
}
