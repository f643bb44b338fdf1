// Package user is the local account registry. Sessions, codes, and audit
// rows need a stable foreign-key target owned by this service, independent
// of the external identity provider.
package user

import (
	"net/http"
	"strings"
	"time"

	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/kernel"
)

var ErrRegistry = errx.NewRegistry("USER")

var (
	CodeUserNotFound = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "User not found")
)

func ErrUserNotFound() *errx.Error {
	return ErrRegistry.New(CodeUserNotFound)
}

// Account is the local registry row, refreshed on every successful login.
type Account struct {
	UserID       kernel.UserID  `db:"user_id" json:"user_id"`
	Email        string         `db:"email" json:"email"`
	Role         string         `db:"role" json:"role"`
	Provider     string         `db:"provider" json:"provider"`
	Metadata     map[string]any `db:"-" json:"metadata,omitempty"`
	LastSignInAt *time.Time     `db:"last_sign_in_at" json:"last_sign_in_at,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// UpsertParams carry the facts learned from a successful login.
type UpsertParams struct {
	UserID   kernel.UserID
	Email    string
	Role     string
	Provider string
	Metadata map[string]any
}

// NormalizeEmail lowercases and trims; the registry is unique on the result.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
