package session

import (
	"context"
	"time"

	"github.com/lanonasis/authgate/pkg/kernel"
)

// Repository persists session rows.
type Repository interface {
	Create(ctx context.Context, s Session) error

	// FindLive returns the live session backing a JWT issued at issuedAt for
	// the user on the platform, or nil when none exists.
	FindLive(ctx context.Context, userID kernel.UserID, platform string, issuedAt time.Time) (*Session, error)

	// RevokeForUser revokes every live session the user holds on a platform.
	RevokeForUser(ctx context.Context, userID kernel.UserID, platform string) (int64, error)

	// Touch bumps last_used_at, best-effort.
	Touch(ctx context.Context, id string) error

	// PurgeExpired deletes sessions expired longer than olderThan ago.
	PurgeExpired(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Identity is what the external identity provider asserts about a user.
type Identity struct {
	UserID   kernel.UserID
	Email    string
	Role     string
	Provider string
	Metadata map[string]any
}

// IdentityProvider verifies primary credentials. The gateway never stores
// user passwords; it brokers them to this collaborator.
type IdentityProvider interface {
	VerifyPassword(ctx context.Context, email, password string) (*Identity, error)
}
