package apikey

import (
	"context"
	"time"

	"github.com/lanonasis/authgate/pkg/kernel"
)

// Repository persists first-party API keys.
type Repository interface {
	Save(ctx context.Context, key APIKey) error
	FindByID(ctx context.Context, id string) (*APIKey, error)
	FindByHash(ctx context.Context, keyHash string) (*APIKey, error)
	// FindByUser pages through the user's keys newest-first and reports the
	// total row count alongside the page.
	FindByUser(ctx context.Context, userID kernel.UserID, page kernel.PaginationOptions) ([]*APIKey, int, error)
	FindByOrganization(ctx context.Context, orgID kernel.OrgID) ([]*APIKey, error)

	// Rotate atomically deactivates the old key (setting its grace window
	// and successor pointer) and inserts the new one.
	Rotate(ctx context.Context, old APIKey, replacement APIKey, graceUntil *time.Time) error

	// Revoke deactivates immediately, clearing any grace window.
	Revoke(ctx context.Context, id string) error

	// UpdateLastUsed is best-effort; validation never waits on it.
	UpdateLastUsed(ctx context.Context, id string) error
}
