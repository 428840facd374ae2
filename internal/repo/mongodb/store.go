package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/tolet/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names are kept from the data the front-end already reads.
const (
	UsersCollection           = "users"
	ToLetRequestsCollection   = "ToletRequests"
	PropertiesCollection      = "properties"
	BookingRequestsCollection = "bookingRequests"
	BookingsCollection        = "bookings"
	PaymentsCollection        = "payments"
	OwnershipCollection       = "ownership"
	OutboxCollection          = "outbox"
)

const opTimeout = 3 * time.Second

// Store owns the database handle shared by every repository.
type Store struct {
	db *mongo.Database
}

func NewStore(client *mongo.Client, database string) *Store {
	return &Store{db: client.Database(database)}
}

func (s *Store) Database() *mongo.Database {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.db.Client().Ping(ctx, readpref.Primary())
}

// EnsureIndexes creates the unique indexes the lifecycle relies on. It is
// safe to run on every start.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	specs := map[string][]mongo.IndexModel{
		UsersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		PaymentsCollection: {
			{Keys: bson.D{{Key: "transactionId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "bookingID", Value: 1}}},
			{Keys: bson.D{{Key: "email", Value: 1}}},
		},
		OwnershipCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		PropertiesCollection: {
			{Keys: bson.D{{Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "host_email", Value: 1}}},
		},
		BookingRequestsCollection: {
			{Keys: bson.D{{Key: "host_email", Value: 1}, {Key: "status", Value: 1}}},
		},
		BookingsCollection: {
			{Keys: bson.D{{Key: "claimer", Value: 1}}},
		},
		OutboxCollection: {
			{Keys: bson.D{{Key: "dispatched_at", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}

	for name, models := range specs {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
	}
	return nil
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter any, opts ...*options.FindOptions) ([]T, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cur, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func findOne[T any](ctx context.Context, coll *mongo.Collection, filter any) (*T, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var out T
	err := coll.FindOne(ctx, filter).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func deleteOne(ctx context.Context, coll *mongo.Collection, filter any) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := coll.DeleteOne(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// insertMoved inserts a document whose _id was taken from its source. A
// duplicate key means an earlier attempt already inserted it.
func insertMoved(ctx context.Context, coll *mongo.Collection, doc any) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// transition applies update only while filter matches and returns the
// updated document, or domain.ErrNotFound when nothing matched.
func transition[T any](ctx context.Context, coll *mongo.Collection, filter, update any) (*T, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var out T
	err := coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

var newestFirst = options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
