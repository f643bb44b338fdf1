// Package admin is the out-of-band super-user path. Admin accounts live in
// their own table so that bypass login keeps working when the external
// identity provider or the read side is down.
package admin

import (
	"net/http"
	"time"

	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/kernel"
)

var ErrRegistry = errx.NewRegistry("ADMIN")

var (
	CodeInvalidCredentials = ErrRegistry.Register("INVALID_CREDENTIALS", errx.TypeAuthorization, http.StatusUnauthorized, "Invalid admin credentials")
	CodeAccountNotFound    = ErrRegistry.Register("ACCOUNT_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Admin account not found")
	CodeDuplicateEmail     = ErrRegistry.Register("DUPLICATE_EMAIL", errx.TypeConflict, http.StatusConflict, "An admin account with this email already exists")
	CodeWeakPassword       = ErrRegistry.Register("WEAK_PASSWORD", errx.TypeValidation, http.StatusBadRequest, "Password must be at least 12 characters")
)

func ErrInvalidCredentials() *errx.Error { return ErrRegistry.New(CodeInvalidCredentials) }
func ErrAccountNotFound() *errx.Error    { return ErrRegistry.New(CodeAccountNotFound) }
func ErrDuplicateEmail() *errx.Error     { return ErrRegistry.New(CodeDuplicateEmail) }
func ErrWeakPassword() *errx.Error       { return ErrRegistry.New(CodeWeakPassword) }

// MinPasswordLength applies to admin passwords only; user passwords are the
// identity provider's concern.
const MinPasswordLength = 12

// Account is a super-user credential row. PasswordHash is bcrypt.
type Account struct {
	ID           kernel.UserID `db:"id" json:"id"`
	Email        string        `db:"email" json:"email"`
	PasswordHash string        `db:"password_hash" json:"-"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}
