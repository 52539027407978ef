package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	RoleUser   = "user"
	RoleVendor = "vendor"
	RoleAdmin  = "admin"
)

func IsValidRole(role string) bool {
	switch role {
	case RoleUser, RoleVendor, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	bun.BaseModel `bun:"table:users"`

	ID           string    `bun:"id,pk" json:"_id"`
	Name         string    `bun:"name,notnull" json:"name"`
	Email        string    `bun:"email,notnull,unique" json:"email"`
	PasswordHash string    `bun:"password,notnull" json:"-"`
	Role         string    `bun:"role,notnull" json:"role"`
	ImageURL     string    `bun:"image_url" json:"imageUrl,omitempty"`
	IsFraud      bool      `bun:"is_fraud,notnull" json:"isFraud"`
	CreatedAt    time.Time `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt    time.Time `bun:"updated_at,notnull" json:"updatedAt"`
}

// Identity is the authenticated caller extracted from an access token.
type Identity struct {
	UserID string
	Email  string
	Role   string
	Name   string
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
