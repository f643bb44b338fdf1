// Package apikey implements first-party API keys: long-lived credentials
// for server and machine callers. The raw key leaves the service exactly
// once, in the creation response.
package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/kernel"
)

// Key prefixes make the environment visible in logs and UIs without
// exposing the secret suffix.
const (
	KeyPrefixLive = "lano_live_"
	KeyPrefixTest = "lano_test_"
)

// suffixBytes is the secret entropy after the prefix: 32 bytes is 256 bits.
const suffixBytes = 32

var ErrRegistry = errx.NewRegistry("APIKEY")

var (
	CodeNotFound = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "API key not found")
	CodeInvalid  = ErrRegistry.Register("INVALID", errx.TypeAuthorization, http.StatusUnauthorized, "API key is invalid")
	CodeExpired  = ErrRegistry.Register("EXPIRED", errx.TypeAuthorization, http.StatusUnauthorized, "API key has expired")
	CodeRevoked  = ErrRegistry.Register("REVOKED", errx.TypeAuthorization, http.StatusUnauthorized, "API key has been revoked")
)

func ErrKeyNotFound() *errx.Error { return ErrRegistry.New(CodeNotFound) }
func ErrKeyInvalid() *errx.Error  { return ErrRegistry.New(CodeInvalid) }
func ErrKeyExpired() *errx.Error  { return ErrRegistry.New(CodeExpired) }
func ErrKeyRevoked() *errx.Error  { return ErrRegistry.New(CodeRevoked) }

// APIKey is the persisted record. Only the hash of the full key is stored;
// the prefix is kept in plaintext for display.
type APIKey struct {
	ID             string         `db:"id" json:"id"`
	KeyHash        string         `db:"key_hash" json:"-"`
	Prefix         string         `db:"prefix" json:"prefix"`
	UserID         kernel.UserID  `db:"user_id" json:"user_id"`
	OrganizationID kernel.OrgID   `db:"organization_id" json:"organization_id,omitempty"`
	Name           string         `db:"name" json:"name"`
	Scopes         []string       `db:"scopes" json:"scopes"`
	ExpiresAt      *time.Time     `db:"expires_at" json:"expires_at,omitempty"`
	IsActive       bool           `db:"is_active" json:"is_active"`
	GraceUntil     *time.Time     `db:"grace_until" json:"grace_until,omitempty"`
	ReplacedByID   *string        `db:"replaced_by_id" json:"replaced_by_id,omitempty"`
	LastUsedAt     *time.Time     `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// IsExpired checks the optional expiry.
func (k *APIKey) IsExpired() bool {
	return k.ExpiresAt != nil && time.Now().After(*k.ExpiresAt)
}

// Accepts reports whether the key authenticates right now. An inactive key
// is still accepted inside its rotation grace window.
func (k *APIKey) Accepts(now time.Time) bool {
	if k.IsExpired() {
		return false
	}
	if k.IsActive {
		return true
	}
	return k.GraceUntil != nil && now.Before(*k.GraceUntil)
}

// Generated carries the one-shot raw key next to its record fields.
type Generated struct {
	Key     string
	KeyHash string
	Prefix  string
}

// Generate mints a raw key under the prefix. The full value is hashed for
// storage; the raw is returned once.
func Generate(prefix string) (*Generated, error) {
	buf := make([]byte, suffixBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, errx.Wrap(err, "failed to generate API key", errx.TypeInternal)
	}
	key := prefix + base64.RawURLEncoding.EncodeToString(buf)
	return &Generated{Key: key, KeyHash: Hash(key), Prefix: prefix}, nil
}

// Hash is the deterministic storage hash. Keys carry 256 bits of entropy,
// so a fast hash with a constant-time compare is sufficient.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// VerifyHash compares a stored hash against a presented raw key in
// constant time.
func VerifyHash(storedHash, raw string) bool {
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(Hash(raw))) == 1
}

// ValidFormat rejects values that cannot be our keys before touching the
// database.
func ValidFormat(raw string) bool {
	var suffix string
	switch {
	case strings.HasPrefix(raw, KeyPrefixLive):
		suffix = raw[len(KeyPrefixLive):]
	case strings.HasPrefix(raw, KeyPrefixTest):
		suffix = raw[len(KeyPrefixTest):]
	default:
		return false
	}
	return len(suffix) == base64.RawURLEncoding.EncodedLen(suffixBytes)
}

// PrefixFor maps an environment name to a key prefix.
func PrefixFor(environment string) string {
	if environment == "live" || environment == "production" {
		return KeyPrefixLive
	}
	return KeyPrefixTest
}

// CreateParams are the facts for a new key.
type CreateParams struct {
	UserID         kernel.UserID
	OrganizationID kernel.OrgID
	Name           string
	Environment    string
	Scopes         []string
	ExpiresIn      *time.Duration
}

// CreateResponse returns the raw key exactly once.
type CreateResponse struct {
	APIKey    APIKey `json:"api_key"`
	SecretKey string `json:"secret_key"`
	Message   string `json:"message"`
}
