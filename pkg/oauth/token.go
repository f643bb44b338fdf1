package oauth

import (
	"time"

	"github.com/lanonasis/authgate/pkg/kernel"
)

// TokenType discriminates access and refresh tokens sharing one table.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Revocation reasons. Revocation is monotonic: a revoked token never
// becomes active again.
const (
	ReasonRevoked         = "revoked"
	ReasonRotated         = "rotated"
	ReasonAncestorRotated = "ancestor_rotated"
	ReasonExpired         = "expired"
	ReasonReplayDetected  = "replay_detected"
)

// Token is an access or refresh token row. ParentTokenID links an access
// token to the refresh token of its grant, and a rotated refresh to its
// predecessor, forming the chain traversed on revocation.
type Token struct {
	ID            string          `db:"id" json:"id"`
	LookupHash    string          `db:"lookup_hash" json:"-"`
	TokenHash     string          `db:"token_hash" json:"-"`
	TokenType     TokenType       `db:"token_type" json:"token_type"`
	ClientID      kernel.ClientID `db:"client_id" json:"client_id"`
	UserID        kernel.UserID   `db:"user_id" json:"user_id"`
	Scopes        []string        `db:"scopes" json:"scopes"`
	ExpiresAt     time.Time       `db:"expires_at" json:"expires_at"`
	Revoked       bool            `db:"revoked" json:"revoked"`
	RevokedAt     *time.Time      `db:"revoked_at" json:"revoked_at,omitempty"`
	RevokedReason *string         `db:"revoked_reason" json:"revoked_reason,omitempty"`
	ParentTokenID *string         `db:"parent_token_id" json:"parent_token_id,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// IsExpired checks the token's TTL.
func (t *Token) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// IsActive reports whether the token is usable: not revoked, not expired.
func (t *Token) IsActive() bool {
	return !t.Revoked && !t.IsExpired()
}

// TokenPair is the result of an issuance: raw values travel in the response
// body, the records are what persisted.
type TokenPair struct {
	AccessToken   string
	RefreshToken  string
	AccessRecord  Token
	RefreshRecord Token
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Introspection is the RFC 7662 shaped answer about one token.
type Introspection struct {
	Active    bool   `json:"active"`
	ClientID  string `json:"client_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Scope     string `json:"scope,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	Revoked   bool   `json:"revoked,omitempty"`
}

// ActorContext records who/where for audit rows written alongside
// credential mutations.
type ActorContext struct {
	UserID    kernel.UserID
	IPAddress string
	UserAgent string
}
