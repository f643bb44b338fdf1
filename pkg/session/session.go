// Package session holds browser sessions and the login bridge domain. A
// session is a server-side row; the cookie carries a signed JWT referencing
// the user. Deleting the row invalidates the cookie, because verification
// re-checks the record.
package session

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/kernel"
)

// Cookie names are a compatibility contract with existing clients.
const (
	// SessionCookieName is HTTP-only and carries the signed JWT.
	SessionCookieName = "lanonasis_session"

	// UserCookieName is script-readable and carries {id, email, role} for
	// UI convenience. Never trusted server-side.
	UserCookieName = "lanonasis_user"
)

// DefaultTTL is the session lifetime unless configured otherwise.
const DefaultTTL = 7 * 24 * time.Hour

var ErrRegistry = errx.NewRegistry("SESSION")

var (
	CodeInvalidCredentials = ErrRegistry.Register("INVALID_CREDENTIALS", errx.TypeAuthorization, http.StatusUnauthorized, "Invalid email or password")
	CodeSessionNotFound    = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Session not found")
	CodeProviderDown       = ErrRegistry.Register("PROVIDER_UNAVAILABLE", errx.TypeExternal, http.StatusServiceUnavailable, "Identity provider is unavailable")
)

func ErrInvalidCredentials() *errx.Error { return ErrRegistry.New(CodeInvalidCredentials) }
func ErrSessionNotFound() *errx.Error    { return ErrRegistry.New(CodeSessionNotFound) }
func ErrProviderDown() *errx.Error       { return ErrRegistry.New(CodeProviderDown) }

// Session is a server-side browser session record.
type Session struct {
	ID           string        `db:"id" json:"id"`
	UserID       kernel.UserID `db:"user_id" json:"user_id"`
	Platform     string        `db:"platform" json:"platform"`
	IPAddress    string        `db:"ip_address" json:"ip_address"`
	UserAgent    string        `db:"user_agent" json:"user_agent"`
	Revoked      bool          `db:"revoked" json:"revoked"`
	RevokedAt    *time.Time    `db:"revoked_at" json:"revoked_at,omitempty"`
	NeverExpires bool          `db:"never_expires" json:"never_expires"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	LastUsedAt   time.Time     `db:"last_used_at" json:"last_used_at"`
	ExpiresAt    time.Time     `db:"expires_at" json:"expires_at"`
}

// IsLive reports whether the session still authenticates requests.
func (s *Session) IsLive(now time.Time) bool {
	if s.Revoked {
		return false
	}
	if s.NeverExpires {
		return true
	}
	return now.Before(s.ExpiresAt)
}

// UserCookiePayload is the script-readable cookie body.
type UserCookiePayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// SanitizeReturnTo keeps post-login redirects on our own registrable
// domain. Relative paths pass through; absolute URLs must land on the
// cookie domain or a subdomain of it; anything else falls back to the
// dashboard.
func SanitizeReturnTo(returnTo, cookieDomain, dashboardURL string) string {
	if returnTo == "" {
		return dashboardURL
	}
	if strings.HasPrefix(returnTo, "/") && !strings.HasPrefix(returnTo, "//") {
		return returnTo
	}
	u, err := url.Parse(returnTo)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return dashboardURL
	}
	domain := strings.TrimPrefix(cookieDomain, ".")
	host := u.Hostname()
	if host == domain || strings.HasSuffix(host, "."+domain) {
		return returnTo
	}
	return dashboardURL
}
