package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type OwnershipRequest struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Email     string             `bson:"email" json:"email"`
	Name      string             `bson:"name,omitempty" json:"name,omitempty"`
	Message   string             `bson:"message,omitempty" json:"message,omitempty"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}

type OwnershipRequestInput struct {
	Name    string `json:"name" validate:"max=200"`
	Message string `json:"message" validate:"max=2000"`
}
