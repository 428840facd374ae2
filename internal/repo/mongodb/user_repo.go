package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/diagnosis/tolet/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type UserRepo interface {
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	// InsertIfAbsent stores u unless a user with the same email exists, and
	// returns whichever document is stored.
	InsertIfAbsent(ctx context.Context, u *domain.User) (user *domain.User, created bool, err error)
	List(ctx context.Context) ([]domain.User, error)
	DeleteByID(ctx context.Context, id primitive.ObjectID) (int64, error)
	// PromoteToOwner sets role=owner on a non-admin user.
	PromoteToOwner(ctx context.Context, email string) (*domain.User, error)
}

type UserRepoImpl struct{ coll *mongo.Collection }

func NewUserRepo(s *Store) *UserRepoImpl {
	return &UserRepoImpl{coll: s.db.Collection(UsersCollection)}
}

func (r *UserRepoImpl) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := findOne[domain.User](ctx, r.coll, bson.M{"email": domain.NormalizeEmail(email)})
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func (r *UserRepoImpl) InsertIfAbsent(ctx context.Context, u *domain.User) (*domain.User, bool, error) {
	u.Email = domain.NormalizeEmail(u.Email)

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	res, err := r.coll.UpdateOne(opCtx,
		bson.M{"email": u.Email},
		bson.M{"$setOnInsert": bson.M{
			"email":     u.Email,
			"name":      u.Name,
			"photo":     u.Photo,
			"role":      u.Role,
			"status":    u.Status,
			"timestamp": u.Timestamp,
		}},
		options.Update().SetUpsert(true),
	)
	cancel()
	// two concurrent upserts can both miss and one loses on the unique index
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return nil, false, fmt.Errorf("upsert user: %w", err)
	}
	created := err == nil && res.UpsertedCount > 0

	stored, err := r.FindByEmail(ctx, u.Email)
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (r *UserRepoImpl) List(ctx context.Context) ([]domain.User, error) {
	users, err := findAll[domain.User](ctx, r.coll, bson.M{},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (r *UserRepoImpl) DeleteByID(ctx context.Context, id primitive.ObjectID) (int64, error) {
	n, err := deleteOne(ctx, r.coll, bson.M{"_id": id})
	if err != nil {
		return 0, fmt.Errorf("delete user: %w", err)
	}
	return n, nil
}

func (r *UserRepoImpl) PromoteToOwner(ctx context.Context, email string) (*domain.User, error) {
	email = domain.NormalizeEmail(email)
	u, err := transition[domain.User](ctx, r.coll,
		bson.M{"email": email, "role": bson.M{"$ne": domain.RoleAdmin}},
		bson.M{"$set": bson.M{"role": domain.RoleOwner}},
	)
	if errors.Is(err, domain.ErrNotFound) {
		// either no such user or an admin, who keeps their role
		return r.FindByEmail(ctx, email)
	}
	if err != nil {
		return nil, fmt.Errorf("promote user: %w", err)
	}
	return u, nil
}
