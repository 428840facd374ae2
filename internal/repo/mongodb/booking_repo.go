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

type BookingRequestRepo interface {
	Insert(ctx context.Context, req *domain.BookingRequest) error
	Get(ctx context.Context, id primitive.ObjectID) (*domain.BookingRequest, error)
	List(ctx context.Context) ([]domain.BookingRequest, error)
	ListRequestedForHost(ctx context.Context, hostEmail string) ([]domain.BookingRequest, error)
	// BeginMove flips requested to accepted, resuming an earlier attempt.
	BeginMove(ctx context.Context, id primitive.ObjectID) (*domain.BookingRequest, error)
	Delete(ctx context.Context, id primitive.ObjectID) (int64, error)
	DeleteRequested(ctx context.Context, id primitive.ObjectID) (int64, error)
}

type BookingRequestRepoImpl struct{ coll *mongo.Collection }

func NewBookingRequestRepo(s *Store) *BookingRequestRepoImpl {
	return &BookingRequestRepoImpl{coll: s.db.Collection(BookingRequestsCollection)}
}

func (r *BookingRequestRepoImpl) Insert(ctx context.Context, req *domain.BookingRequest) error {
	if req.ID.IsZero() {
		req.ID = primitive.NewObjectID()
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := r.coll.InsertOne(ctx, req); err != nil {
		return fmt.Errorf("insert booking request: %w", err)
	}
	return nil
}

func (r *BookingRequestRepoImpl) Get(ctx context.Context, id primitive.ObjectID) (*domain.BookingRequest, error) {
	req, err := findOne[domain.BookingRequest](ctx, r.coll, bson.M{"_id": id})
	if err != nil {
		return nil, fmt.Errorf("booking request %s: %w", id.Hex(), err)
	}
	return req, nil
}

func (r *BookingRequestRepoImpl) List(ctx context.Context) ([]domain.BookingRequest, error) {
	out, err := findAll[domain.BookingRequest](ctx, r.coll, bson.M{}, newestFirst)
	if err != nil {
		return nil, fmt.Errorf("list booking requests: %w", err)
	}
	return out, nil
}

func (r *BookingRequestRepoImpl) ListRequestedForHost(ctx context.Context, hostEmail string) ([]domain.BookingRequest, error) {
	out, err := findAll[domain.BookingRequest](ctx, r.coll,
		bson.M{"host_email": domain.NormalizeEmail(hostEmail), "status": domain.ClaimRequested}, newestFirst)
	if err != nil {
		return nil, fmt.Errorf("list host booking requests: %w", err)
	}
	return out, nil
}

func (r *BookingRequestRepoImpl) BeginMove(ctx context.Context, id primitive.ObjectID) (*domain.BookingRequest, error) {
	req, err := transition[domain.BookingRequest](ctx, r.coll,
		bson.M{"_id": id, "status": bson.M{"$in": bson.A{domain.ClaimRequested, domain.ClaimAccepted}}},
		bson.M{"$set": bson.M{"status": domain.ClaimAccepted}},
	)
	if err != nil {
		return nil, fmt.Errorf("booking request %s: %w", id.Hex(), err)
	}
	return req, nil
}

func (r *BookingRequestRepoImpl) Delete(ctx context.Context, id primitive.ObjectID) (int64, error) {
	n, err := deleteOne(ctx, r.coll, bson.M{"_id": id})
	if err != nil {
		return 0, fmt.Errorf("delete booking request: %w", err)
	}
	return n, nil
}

func (r *BookingRequestRepoImpl) DeleteRequested(ctx context.Context, id primitive.ObjectID) (int64, error) {
	n, err := deleteOne(ctx, r.coll, bson.M{"_id": id, "status": domain.ClaimRequested})
	if err != nil {
		return 0, fmt.Errorf("reject booking request: %w", err)
	}
	return n, nil
}

type BookingRepo interface {
	InsertMoved(ctx context.Context, b *domain.Booking) (bool, error)
	Get(ctx context.Context, id primitive.ObjectID) (*domain.Booking, error)
	List(ctx context.Context) ([]domain.Booking, error)
	ListByClaimer(ctx context.Context, email string) ([]domain.Booking, error)
	// MarkBooked closes an accepted booking with transactionID. Repeating it
	// with the same transaction is a no-op.
	MarkBooked(ctx context.Context, id primitive.ObjectID, transactionID string) (*domain.Booking, error)
}

type BookingRepoImpl struct{ coll *mongo.Collection }

func NewBookingRepo(s *Store) *BookingRepoImpl {
	return &BookingRepoImpl{coll: s.db.Collection(BookingsCollection)}
}

func (r *BookingRepoImpl) InsertMoved(ctx context.Context, b *domain.Booking) (bool, error) {
	created, err := insertMoved(ctx, r.coll, b)
	if err != nil {
		return false, fmt.Errorf("insert booking: %w", err)
	}
	return created, nil
}

func (r *BookingRepoImpl) Get(ctx context.Context, id primitive.ObjectID) (*domain.Booking, error) {
	b, err := findOne[domain.Booking](ctx, r.coll, bson.M{"_id": id})
	if err != nil {
		return nil, fmt.Errorf("booking %s: %w", id.Hex(), err)
	}
	return b, nil
}

func (r *BookingRepoImpl) List(ctx context.Context) ([]domain.Booking, error) {
	out, err := findAll[domain.Booking](ctx, r.coll, bson.M{}, newestFirst)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return out, nil
}

func (r *BookingRepoImpl) ListByClaimer(ctx context.Context, email string) ([]domain.Booking, error) {
	out, err := findAll[domain.Booking](ctx, r.coll, bson.M{"claimer": domain.NormalizeEmail(email)}, newestFirst)
	if err != nil {
		return nil, fmt.Errorf("list claimer bookings: %w", err)
	}
	return out, nil
}

func (r *BookingRepoImpl) MarkBooked(ctx context.Context, id primitive.ObjectID, transactionID string) (*domain.Booking, error) {
	now := time.Now().UTC()
	b, err := transition[domain.Booking](ctx, r.coll,
		bson.M{"_id": id, "$or": bson.A{
			bson.M{"status": domain.ClaimAccepted},
			bson.M{"status": domain.ClaimBooked, "transactionId": transactionID},
		}},
		bson.M{
			"$set": bson.M{"status": domain.ClaimBooked, "transactionId": transactionID},
			"$min": bson.M{"booked_at": now},
		},
	)
	if errors.Is(err, domain.ErrNotFound) {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("booking %s was paid by another transaction: %w", id.Hex(), domain.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("book %s: %w", id.Hex(), err)
	}
	return b, nil
}
