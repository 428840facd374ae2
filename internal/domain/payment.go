package domain

import (
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Payment struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	TransactionID string             `bson:"transactionId" json:"transactionId"`
	BookingID     string             `bson:"bookingID" json:"bookingID"`
	PropertyID    string             `bson:"propertyID" json:"propertyID"`
	Email         string             `bson:"email" json:"email"`
	Name          string             `bson:"name,omitempty" json:"name,omitempty"`
	Price         float64            `bson:"price" json:"price"`
	Amount        int64              `bson:"amount" json:"amount"`
	Currency      string             `bson:"currency" json:"currency"`
	Date          string             `bson:"date,omitempty" json:"date,omitempty"`
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
}

// PaymentInput is posted by the client after confirming a payment intent.
// JSON decoding is case-insensitive, so "TransactionId" is accepted too. The
// payer is always the booking's claimer, whatever email the client sends.
type PaymentInput struct {
	TransactionID string  `json:"transactionId" validate:"required,max=255"`
	BookingID     string  `json:"bookingID" validate:"required,mongodb"`
	PropertyID    string  `json:"propertyID" validate:"required,mongodb"`
	Name          string  `json:"name" validate:"max=200"`
	Price         float64 `json:"price" validate:"gt=0"`
	Date          string  `json:"date" validate:"max=50"`
}

// PaymentIntentInput asks for an intent for an accepted booking. Price must
// equal the booking's rent.
type PaymentIntentInput struct {
	Price     float64 `json:"price" validate:"gt=0"`
	BookingID string  `json:"bookingID" validate:"required,mongodb"`
}

// MinorUnits converts a price to the processor's smallest currency unit.
func MinorUnits(price float64) int64 {
	return int64(math.Round(price * 100))
}
