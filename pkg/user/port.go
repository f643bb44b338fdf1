package user

import (
	"context"

	"github.com/lanonasis/authgate/pkg/kernel"
)

// Repository persists the local account registry.
type Repository interface {
	// Upsert creates or refreshes the account and bumps last_sign_in_at.
	// Called on every successful login.
	Upsert(ctx context.Context, params UpsertParams) (*Account, error)

	FindByID(ctx context.Context, userID kernel.UserID) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
}
