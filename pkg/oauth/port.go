package oauth

import (
	"context"
	"time"

	"github.com/lanonasis/authgate/pkg/kernel"
)

// ClientRepository persists registered OAuth clients.
type ClientRepository interface {
	FindByID(ctx context.Context, clientID kernel.ClientID) (*Client, error)
	Save(ctx context.Context, client Client) error
}

// CodeStore persists authorization codes. Generation and hashing live next
// to persistence so a raw code never crosses a layer boundary except on
// create.
type CodeStore interface {
	// CreateCode generates an opaque code, stores its hashes, and returns
	// the raw value once.
	CreateCode(ctx context.Context, params CreateCodeParams) (string, *AuthorizationCode, error)

	// ConsumeCode performs the one-time transactional consume: row lock on
	// the hashed code, same-client and byte-for-byte redirect checks, not
	// consumed, not expired. Any mismatch is invalid_grant.
	ConsumeCode(ctx context.Context, client *Client, rawCode, redirectURI string) (*AuthorizationCode, error)
}

// TokenStore persists access and refresh tokens and their chains.
type TokenStore interface {
	// IssueTokenPair creates a refresh + access pair in one transaction.
	// The access row's parent is the refresh row.
	IssueTokenPair(ctx context.Context, client *Client, userID kernel.UserID, scopes []string, actor ActorContext) (*TokenPair, error)

	// FindRefreshToken resolves a presented refresh token for the client.
	// A revoked token is returned (the caller decides on replay handling);
	// an expired one is revoked transparently and reported as nil.
	FindRefreshToken(ctx context.Context, raw string, clientID kernel.ClientID) (*Token, error)

	// RotateRefreshToken revokes the presented refresh (reason rotated),
	// revokes all descendants (reason ancestor_rotated), and issues the
	// successor pair, all in one transaction.
	RotateRefreshToken(ctx context.Context, existing *Token, client *Client, scopes []string, actor ActorContext) (*TokenPair, error)

	// FindTokenByValue locates any token by its raw value, optionally
	// guided by a token_type_hint.
	FindTokenByValue(ctx context.Context, raw, hint string) (*Token, error)

	// RevokeToken revokes a single token row. Monotonic.
	RevokeToken(ctx context.Context, tokenID, reason string) error

	// RevokeChain revokes the token and every descendant reachable through
	// parent_token_id, in one transaction.
	RevokeChain(ctx context.Context, rootID, reason string) error

	// Introspect answers the RFC 7662 question for a raw token value.
	Introspect(ctx context.Context, raw string) (*Introspection, error)
}

// DeviceStore persists device authorizations.
type DeviceStore interface {
	CreateDevice(ctx context.Context, client *Client, scopes []string, verificationURI string, ttl time.Duration, interval int) (string, *DeviceAuthorization, error)
	FindByDeviceCode(ctx context.Context, raw string, clientID kernel.ClientID) (*DeviceAuthorization, error)
	FindByUserCode(ctx context.Context, userCode string) (*DeviceAuthorization, error)
	// RecordPoll stores the poll time and the (possibly increased) interval.
	RecordPoll(ctx context.Context, id string, interval int, polledAt time.Time) error
	Approve(ctx context.Context, id string, userID kernel.UserID) error
	Deny(ctx context.Context, id string) error
	MarkConsumed(ctx context.Context, id string) error
}

// Cache is the advisory cache over clients and in-flight authorization
// codes. Tokens are never cached: lookups must see revocations immediately.
// Misses always fall back to the store and hits are re-validated for expiry.
type Cache interface {
	GetClient(ctx context.Context, clientID kernel.ClientID) (*Client, bool)
	SetClient(ctx context.Context, client *Client)
	InvalidateClient(ctx context.Context, clientID kernel.ClientID)

	GetCode(ctx context.Context, lookupHash string) (*AuthorizationCode, bool)
	SetCode(ctx context.Context, code *AuthorizationCode)
	DropCode(ctx context.Context, lookupHash string)
}
