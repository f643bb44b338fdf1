package auth

import (
	"context"
	"time"

	"github.com/lanonasis/authgate/pkg/kernel"
	"github.com/lanonasis/authgate/pkg/oauth"
)

// SessionChecker answers whether a JWT's user still holds a live server-side
// session. Logout revokes the record, so a stolen cookie dies with it.
type SessionChecker interface {
	// ConfirmSession returns the session id backing a token issued at
	// issuedAt for the user on the platform, or an error when none is live.
	ConfirmSession(ctx context.Context, userID kernel.UserID, platform string, issuedAt time.Time) (string, error)
}

// TokenIntrospector resolves opaque OAuth access tokens. Implemented by the
// protocol engine; the middleware never reads the read-side store.
type TokenIntrospector interface {
	Introspect(ctx context.Context, raw string) (*oauth.Introspection, error)
}

// APIKeyValidator resolves X-API-Key credentials to a caller identity.
type APIKeyValidator interface {
	ValidateKey(ctx context.Context, raw string) (*kernel.AuthContext, error)
}
