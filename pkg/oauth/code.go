package oauth

import (
	"time"

	"github.com/lanonasis/authgate/pkg/kernel"
)

// AuthorizationCode is a short-lived one-time credential. Only hashes are
// stored: lookup_hash (sha256, indexed) finds the row, code_hash (bcrypt)
// verifies the presented value.
type AuthorizationCode struct {
	ID              string          `db:"id" json:"id"`
	LookupHash      string          `db:"lookup_hash" json:"-"`
	CodeHash        string          `db:"code_hash" json:"-"`
	ClientID        kernel.ClientID `db:"client_id" json:"client_id"`
	UserID          kernel.UserID   `db:"user_id" json:"user_id"`
	RedirectURI     string          `db:"redirect_uri" json:"redirect_uri"`
	Scopes          []string        `db:"scopes" json:"scopes"`
	State           string          `db:"state" json:"state,omitempty"`
	CodeChallenge   string          `db:"code_challenge" json:"-"`
	ChallengeMethod string          `db:"challenge_method" json:"-"`
	ExpiresAt       time.Time       `db:"expires_at" json:"expires_at"`
	Consumed        bool            `db:"consumed" json:"consumed"`
	ConsumedAt      *time.Time      `db:"consumed_at" json:"consumed_at,omitempty"`
	IPAddress       string          `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent       string          `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// IsExpired checks the code's TTL.
func (c *AuthorizationCode) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// CreateCodeParams are the facts recorded at code issuance.
type CreateCodeParams struct {
	ClientID        kernel.ClientID
	UserID          kernel.UserID
	RedirectURI     string
	Scopes          []string
	State           string
	CodeChallenge   string
	ChallengeMethod string
	TTL             time.Duration
	IPAddress       string
	UserAgent       string
}
