// Package auth is the single identity dependency of every protected
// endpoint: it turns an incoming request into a kernel.AuthContext, or
// rejects it. Bearer JWTs, opaque access tokens, and API keys are all
// accepted everywhere, because subsystems that accepted only one kept
// breaking clients that had migrated to the other.
package auth

import (
	"net/http"

	"github.com/lanonasis/authgate/pkg/errx"
)

var ErrRegistry = errx.NewRegistry("AUTH")

var (
	CodeTokenMissing    = ErrRegistry.Register("TOKEN_MISSING", errx.TypeAuthorization, http.StatusUnauthorized, "Authentication credentials are missing")
	CodeTokenInvalid    = ErrRegistry.Register("TOKEN_INVALID", errx.TypeAuthorization, http.StatusUnauthorized, "Authentication token is invalid or expired")
	CodeSessionRevoked  = ErrRegistry.Register("SESSION_REVOKED", errx.TypeAuthorization, http.StatusUnauthorized, "Session has been revoked")
	CodeScopeMissing    = ErrRegistry.Register("SCOPE_MISSING", errx.TypeAuthorization, http.StatusForbidden, "Caller lacks the required scope")
	CodeTokenGeneration = ErrRegistry.Register("TOKEN_GENERATION_FAILED", errx.TypeInternal, http.StatusInternalServerError, "Failed to generate token")
)

func ErrTokenMissing() *errx.Error    { return ErrRegistry.New(CodeTokenMissing) }
func ErrTokenInvalid() *errx.Error    { return ErrRegistry.New(CodeTokenInvalid) }
func ErrSessionRevoked() *errx.Error  { return ErrRegistry.New(CodeSessionRevoked) }
func ErrScopeMissing() *errx.Error    { return ErrRegistry.New(CodeScopeMissing) }
func ErrTokenGeneration() *errx.Error { return ErrRegistry.New(CodeTokenGeneration) }
