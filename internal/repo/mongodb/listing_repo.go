package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/tolet/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type ToLetRepo interface {
	Insert(ctx context.Context, req *domain.ToLetRequest) error
	Get(ctx context.Context, id primitive.ObjectID) (*domain.ToLetRequest, error)
	List(ctx context.Context) ([]domain.ToLetRequest, error)
	// BeginMove flips pending to available. A request already available is
	// returned as is so an interrupted move can resume.
	BeginMove(ctx context.Context, id primitive.ObjectID) (*domain.ToLetRequest, error)
	Delete(ctx context.Context, id primitive.ObjectID) (int64, error)
	DeletePending(ctx context.Context, id primitive.ObjectID) (int64, error)
}

type ToLetRepoImpl struct{ coll *mongo.Collection }

func NewToLetRepo(s *Store) *ToLetRepoImpl {
	return &ToLetRepoImpl{coll: s.db.Collection(ToLetRequestsCollection)}
}

func (r *ToLetRepoImpl) Insert(ctx context.Context, req *domain.ToLetRequest) error {
	if req.ID.IsZero() {
		req.ID = primitive.NewObjectID()
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := r.coll.InsertOne(ctx, req); err != nil {
		return fmt.Errorf("insert to-let request: %w", err)
	}
	return nil
}

func (r *ToLetRepoImpl) Get(ctx context.Context, id primitive.ObjectID) (*domain.ToLetRequest, error) {
	req, err := findOne[domain.ToLetRequest](ctx, r.coll, bson.M{"_id": id})
	if err != nil {
		return nil, fmt.Errorf("to-let request %s: %w", id.Hex(), err)
	}
	return req, nil
}

func (r *ToLetRepoImpl) List(ctx context.Context) ([]domain.ToLetRequest, error) {
	out, err := findAll[domain.ToLetRequest](ctx, r.coll, bson.M{}, newestFirst)
	if err != nil {
		return nil, fmt.Errorf("list to-let requests: %w", err)
	}
	return out, nil
}

func (r *ToLetRepoImpl) BeginMove(ctx context.Context, id primitive.ObjectID) (*domain.ToLetRequest, error) {
	req, err := transition[domain.ToLetRequest](ctx, r.coll,
		bson.M{"_id": id, "status": bson.M{"$in": bson.A{domain.ListingPending, domain.ListingAvailable}}},
		bson.M{"$set": bson.M{"status": domain.ListingAvailable}},
	)
	if err != nil {
		return nil, fmt.Errorf("to-let request %s: %w", id.Hex(), err)
	}
	return req, nil
}

func (r *ToLetRepoImpl) Delete(ctx context.Context, id primitive.ObjectID) (int64, error) {
	n, err := deleteOne(ctx, r.coll, bson.M{"_id": id})
	if err != nil {
		return 0, fmt.Errorf("delete to-let request: %w", err)
	}
	return n, nil
}

func (r *ToLetRepoImpl) DeletePending(ctx context.Context, id primitive.ObjectID) (int64, error) {
	n, err := deleteOne(ctx, r.coll, bson.M{"_id": id, "status": domain.ListingPending})
	if err != nil {
		return 0, fmt.Errorf("reject to-let request: %w", err)
	}
	return n, nil
}

type PropertyRepo interface {
	// InsertMoved reports false when the property already exists.
	InsertMoved(ctx context.Context, p *domain.Property) (bool, error)
	Get(ctx context.Context, id primitive.ObjectID) (*domain.Property, error)
	ListAvailable(ctx context.Context) ([]domain.Property, error)
	ListAll(ctx context.Context) ([]domain.Property, error)
	ListByHost(ctx context.Context, email string) ([]domain.Property, error)
	UpdateDetails(ctx context.Context, id primitive.ObjectID, details domain.ListingDetails) (*domain.Property, error)
	// MarkBooked moves available to booked for bookingID. Repeating it for
	// the same booking is a no-op; a different booking gets ErrConflict.
	MarkBooked(ctx context.Context, id, bookingID primitive.ObjectID) (*domain.Property, error)
	Delete(ctx context.Context, id primitive.ObjectID) (int64, error)
}

type PropertyRepoImpl struct{ coll *mongo.Collection }

func NewPropertyRepo(s *Store) *PropertyRepoImpl {
	return &PropertyRepoImpl{coll: s.db.Collection(PropertiesCollection)}
}

func (r *PropertyRepoImpl) InsertMoved(ctx context.Context, p *domain.Property) (bool, error) {
	created, err := insertMoved(ctx, r.coll, p)
	if err != nil {
		return false, fmt.Errorf("insert property: %w", err)
	}
	return created, nil
}

func (r *PropertyRepoImpl) Get(ctx context.Context, id primitive.ObjectID) (*domain.Property, error) {
	p, err := findOne[domain.Property](ctx, r.coll, bson.M{"_id": id})
	if err != nil {
		return nil, fmt.Errorf("property %s: %w", id.Hex(), err)
	}
	return p, nil
}

func (r *PropertyRepoImpl) ListAvailable(ctx context.Context) ([]domain.Property, error) {
	out, err := findAll[domain.Property](ctx, r.coll, bson.M{"status": domain.ListingAvailable}, newestFirst)
	if err != nil {
		return nil, fmt.Errorf("list available properties: %w", err)
	}
	return out, nil
}

func (r *PropertyRepoImpl) ListAll(ctx context.Context) ([]domain.Property, error) {
	out, err := findAll[domain.Property](ctx, r.coll, bson.M{}, newestFirst)
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	return out, nil
}

func (r *PropertyRepoImpl) ListByHost(ctx context.Context, email string) ([]domain.Property, error) {
	out, err := findAll[domain.Property](ctx, r.coll, bson.M{"host_email": domain.NormalizeEmail(email)}, newestFirst)
	if err != nil {
		return nil, fmt.Errorf("list host properties: %w", err)
	}
	return out, nil
}

type propertyPatch struct {
	domain.ListingDetails `bson:",inline"`
	UpdatedAt             time.Time `bson:"updated_at"`
}

func (r *PropertyRepoImpl) UpdateDetails(ctx context.Context, id primitive.ObjectID, details domain.ListingDetails) (*domain.Property, error) {
	p, err := transition[domain.Property](ctx, r.coll,
		bson.M{"_id": id},
		bson.M{"$set": propertyPatch{ListingDetails: details, UpdatedAt: time.Now().UTC()}},
	)
	if err != nil {
		return nil, fmt.Errorf("update property %s: %w", id.Hex(), err)
	}
	return p, nil
}

func (r *PropertyRepoImpl) MarkBooked(ctx context.Context, id, bookingID primitive.ObjectID) (*domain.Property, error) {
	p, err := transition[domain.Property](ctx, r.coll,
		bson.M{"_id": id, "$or": bson.A{
			bson.M{"status": domain.ListingAvailable},
			bson.M{"status": domain.ListingBooked, "booking_id": bookingID},
		}},
		bson.M{"$set": bson.M{
			"status":     domain.ListingBooked,
			"booking_id": bookingID,
			"updated_at": time.Now().UTC(),
		}},
	)
	if errors.Is(err, domain.ErrNotFound) {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("property %s is already booked: %w", id.Hex(), domain.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("book property %s: %w", id.Hex(), err)
	}
	return p, nil
}

func (r *PropertyRepoImpl) Delete(ctx context.Context, id primitive.ObjectID) (int64, error) {
	n, err := deleteOne(ctx, r.coll, bson.M{"_id": id})
	if err != nil {
		return 0, fmt.Errorf("delete property: %w", err)
	}
	return n, nil
}
