package domain

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Role string

const (
	RoleUnset  Role = ""
	RoleMember Role = "member"
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
)

func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleMember, RoleOwner, RoleAdmin:
		return Role(s), true
	default:
		return RoleUnset, false
	}
}

type User struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Email     string             `bson:"email" json:"email"`
	Name      string             `bson:"name,omitempty" json:"name,omitempty"`
	Photo     string             `bson:"photo,omitempty" json:"photo,omitempty"`
	Role      Role               `bson:"role" json:"role"`
	Status    string             `bson:"status,omitempty" json:"status,omitempty"`
	Timestamp int64              `bson:"timestamp" json:"timestamp"`
}

type UserInput struct {
	Email  string `json:"email" validate:"omitempty,email"`
	Name   string `json:"name" validate:"max=200"`
	Photo  string `json:"photo" validate:"omitempty,url"`
	Role   string `json:"role"`
	Status string `json:"status" validate:"max=50"`
}

// Is reports an exact role match, which is what the role check endpoints use.
func (u *User) Is(role Role) bool {
	return u != nil && u.Role == role
}

// Satisfies reports whether the user passes a role gate. Admins pass every gate.
func (u *User) Satisfies(roles ...Role) bool {
	if u == nil {
		return false
	}
	if u.Role == RoleAdmin {
		return true
	}
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

// NormalizeEmail lowercases and trims an address; every email key in the
// store goes through it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func sameEmail(a, b string) bool {
	return NormalizeEmail(a) == NormalizeEmail(b)
}
