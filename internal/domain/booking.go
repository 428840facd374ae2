package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ClaimStatus string

const (
	ClaimRequested ClaimStatus = "requested"
	ClaimAccepted  ClaimStatus = "accepted"
	ClaimBooked    ClaimStatus = "booked"
)

// ClaimDetails is copied from a booking request into the booking it becomes.
type ClaimDetails struct {
	PropertyID  primitive.ObjectID `bson:"property_id" json:"property_id"`
	Title       string             `bson:"title" json:"title"`
	Rent        float64            `bson:"rent" json:"rent"`
	City        string             `bson:"city" json:"city"`
	Claimer     string             `bson:"claimer" json:"claimer"`
	ClaimerName string             `bson:"claimer_name" json:"claimer_name"`
	HostEmail   string             `bson:"host_email" json:"host_email"`
	MoveIn      string             `bson:"move_in,omitempty" json:"move_in,omitempty"`
	Message     string             `bson:"message,omitempty" json:"message,omitempty"`
}

type BookingRequest struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	ClaimDetails `bson:",inline"`
	Status       ClaimStatus `bson:"status" json:"status"`
	CreatedAt    time.Time   `bson:"created_at" json:"created_at"`
}

type Booking struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	ClaimDetails  `bson:",inline"`
	Status        ClaimStatus `bson:"status" json:"status"`
	TransactionID string      `bson:"transactionId,omitempty" json:"transactionId,omitempty"`
	CreatedAt     time.Time   `bson:"created_at" json:"created_at"`
	AcceptedAt    time.Time   `bson:"accepted_at" json:"accepted_at"`
	BookedAt      *time.Time  `bson:"booked_at,omitempty" json:"booked_at,omitempty"`
}

// BookingRequestInput is what a claimer posts. Everything else on the request
// is derived from the property.
type BookingRequestInput struct {
	PropertyID  string `json:"property_id" validate:"required,mongodb"`
	Claimer     string `json:"claimer" validate:"omitempty,email"`
	ClaimerName string `json:"claimer_name" validate:"max=200"`
	MoveIn      string `json:"move_in" validate:"max=50"`
	Message     string `json:"message" validate:"max=2000"`
}

// ToBooking keeps the request id, see ToLetRequest.ToProperty.
func (r *BookingRequest) ToBooking(now time.Time) *Booking {
	return &Booking{
		ID:           r.ID,
		ClaimDetails: r.ClaimDetails,
		Status:       ClaimAccepted,
		CreatedAt:    r.CreatedAt,
		AcceptedAt:   now,
	}
}

func (c *ClaimDetails) IsHost(email string) bool {
	return c != nil && c.HostEmail != "" && sameEmail(c.HostEmail, email)
}

func (c *ClaimDetails) IsClaimer(email string) bool {
	return c != nil && c.Claimer != "" && sameEmail(c.Claimer, email)
}
