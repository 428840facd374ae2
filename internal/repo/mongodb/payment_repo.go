package mongodb

import (
	"context"
	"fmt"

	"github.com/diagnosis/tolet/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type PaymentRepo interface {
	// Record stores p once per transaction id. A transaction already recorded
	// for another booking is ErrConflict.
	Record(ctx context.Context, p *domain.Payment) (payment *domain.Payment, created bool, err error)
	ListByEmail(ctx context.Context, email string) ([]domain.Payment, error)
	GetByBooking(ctx context.Context, bookingID string) (*domain.Payment, error)
}

type PaymentRepoImpl struct{ coll *mongo.Collection }

func NewPaymentRepo(s *Store) *PaymentRepoImpl {
	return &PaymentRepoImpl{coll: s.db.Collection(PaymentsCollection)}
}

func (r *PaymentRepoImpl) Record(ctx context.Context, p *domain.Payment) (*domain.Payment, bool, error) {
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	res, err := r.coll.UpdateOne(opCtx,
		bson.M{"transactionId": p.TransactionID},
		bson.M{"$setOnInsert": p},
		options.Update().SetUpsert(true),
	)
	cancel()
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return nil, false, fmt.Errorf("record payment: %w", err)
	}
	created := err == nil && res.UpsertedCount > 0

	stored, err := findOne[domain.Payment](ctx, r.coll, bson.M{"transactionId": p.TransactionID})
	if err != nil {
		return nil, false, fmt.Errorf("payment %s: %w", p.TransactionID, err)
	}
	if stored.BookingID != p.BookingID {
		return nil, false, fmt.Errorf("transaction %s belongs to another booking: %w", p.TransactionID, domain.ErrConflict)
	}
	return stored, created, nil
}

func (r *PaymentRepoImpl) ListByEmail(ctx context.Context, email string) ([]domain.Payment, error) {
	out, err := findAll[domain.Payment](ctx, r.coll, bson.M{"email": domain.NormalizeEmail(email)}, newestFirst)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return out, nil
}

func (r *PaymentRepoImpl) GetByBooking(ctx context.Context, bookingID string) (*domain.Payment, error) {
	p, err := findOne[domain.Payment](ctx, r.coll, bson.M{"bookingID": bookingID})
	if err != nil {
		return nil, fmt.Errorf("payment for booking %s: %w", bookingID, err)
	}
	return p, nil
}
