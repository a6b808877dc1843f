package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrDirectoryUnavailable = errors.New("directory_unavailable")

// User is a row of the admin-facing user directory. The directory is
// owned elsewhere; this service only reads it.
type User struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)"`
	DisplayName string    `gorm:"type:varchar(255);not null"`
	AvatarURL   string    `gorm:"type:text"`
	Role        string    `gorm:"type:varchar(32);not null;default:'user'"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (User) TableName() string { return "users" }

// UserIdentity is the read-only view used to decorate insight pages.
type UserIdentity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Role        string `json:"role"`
}

func (u User) Identity() UserIdentity {
	return UserIdentity{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Role:        u.Role,
	}
}

type Repository interface {
	ListAll(ctx context.Context, db *gorm.DB) ([]User, error)
}

// Directory resolves user identities.
type Directory interface {
	ListAll(ctx context.Context) ([]UserIdentity, error)
}

// Index keys identities by id.
func Index(identities []UserIdentity) map[string]UserIdentity {
	out := make(map[string]UserIdentity, len(identities))
	for _, identity := range identities {
		out[identity.ID] = identity
	}
	return out
}
