package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ListingStatus string

const (
	ListingPending   ListingStatus = "pending"
	ListingAvailable ListingStatus = "available"
	ListingBooked    ListingStatus = "booked"
)

// ListingDetails is the owner supplied part of a listing. It is shared by
// to-let requests and the properties they turn into.
type ListingDetails struct {
	Title           string  `bson:"title" json:"title" validate:"required,max=200"`
	Category        string  `bson:"category" json:"category" validate:"max=100"`
	Type            string  `bson:"type" json:"type" validate:"max=100"`
	City            string  `bson:"city" json:"city" validate:"required,max=100"`
	Location        string  `bson:"location" json:"location" validate:"max=300"`
	House           string  `bson:"house" json:"house" validate:"max=100"`
	Floor           string  `bson:"floor" json:"floor" validate:"max=50"`
	Bedrooms        int     `bson:"bedrooms" json:"bedrooms" validate:"gte=0,lte=100"`
	Bathrooms       int     `bson:"bathrooms" json:"bathrooms" validate:"gte=0,lte=100"`
	Balcony         int     `bson:"balcony" json:"balcony" validate:"gte=0,lte=100"`
	Rent            float64 `bson:"rent" json:"rent" validate:"gt=0"`
	Advance         float64 `bson:"advance" json:"advance" validate:"gte=0"`
	Service         float64 `bson:"service" json:"service" validate:"gte=0"`
	Image1          string  `bson:"image1" json:"image1" validate:"omitempty,url"`
	Image2          string  `bson:"image2" json:"image2" validate:"omitempty,url"`
	Image3          string  `bson:"image3" json:"image3" validate:"omitempty,url"`
	HostName        string  `bson:"host_name" json:"host_name" validate:"max=200"`
	HostPic         string  `bson:"host_pic" json:"host_pic" validate:"omitempty,url"`
	HostEmail       string  `bson:"host_email" json:"host_email" validate:"omitempty,email"`
	Date            string  `bson:"date" json:"date"`
	PropertyDetails string  `bson:"propertyDetails" json:"propertyDetails" validate:"max=5000"`
}

type ToLetRequest struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	ListingDetails `bson:",inline"`
	Status         ListingStatus `bson:"status" json:"status"`
	CreatedAt      time.Time     `bson:"created_at" json:"created_at"`
}

type Property struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	ListingDetails `bson:",inline"`
	Status         ListingStatus       `bson:"status" json:"status"`
	BookingID      *primitive.ObjectID `bson:"booking_id,omitempty" json:"booking_id,omitempty"`
	CreatedAt      time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time           `bson:"updated_at" json:"updated_at"`
}

// ToProperty builds the live property for an accepted request. The property
// keeps the request id so a repeated move can never produce a second copy.
func (r *ToLetRequest) ToProperty(now time.Time) *Property {
	return &Property{
		ID:             r.ID,
		ListingDetails: r.ListingDetails,
		Status:         ListingAvailable,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      now,
	}
}

// IsHost reports whether email is the listing's host.
func (p *Property) IsHost(email string) bool {
	return p != nil && p.HostEmail != "" && sameEmail(p.HostEmail, email)
}
