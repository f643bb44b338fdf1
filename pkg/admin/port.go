package admin

import "context"

// Repository persists admin accounts in the primary store only. No events
// are appended on this path so it stays usable when the outbox destination
// is offline.
type Repository interface {
	Create(ctx context.Context, a Account) error
	FindByEmail(ctx context.Context, email string) (*Account, error)
	UpdatePassword(ctx context.Context, id string, passwordHash string) error
}
