package kernel

// CredentialType discriminates how a caller authenticated.
type CredentialType string

const (
	CredentialSession     CredentialType = "session"
	CredentialAccessToken CredentialType = "access_token"
	CredentialAPIKey      CredentialType = "api_key"
	CredentialAdmin       CredentialType = "admin"
)

// AuthContext is the caller identity injected into every authenticated request.
type AuthContext struct {
	UserID         UserID         `json:"user_id"`
	OrgID          OrgID          `json:"organization_id,omitempty"`
	Email          string         `json:"email"`
	Role           string         `json:"role"`
	Scopes         []string       `json:"scopes"`
	CredentialType CredentialType `json:"credential_type"`
	SessionID      string         `json:"session_id,omitempty"`
}

// IsValid reports whether the context carries a usable identity.
func (ac *AuthContext) IsValid() bool {
	return !ac.UserID.IsEmpty()
}

// HasScope reports whether the context holds a scope. "*" grants everything,
// and a trailing ":*" segment matches any action under the prefix
// (e.g. "memories:*" matches "memories:read").
func (ac *AuthContext) HasScope(scope string) bool {
	for _, s := range ac.Scopes {
		if s == scope || s == "*" {
			return true
		}
		if len(s) > 2 && s[len(s)-2:] == ":*" {
			prefix := s[:len(s)-2]
			if len(scope) > len(prefix) && scope[:len(prefix)] == prefix && scope[len(prefix)] == ':' {
				return true
			}
		}
	}
	return false
}

// HasAnyScope reports whether the context holds at least one of the scopes.
func (ac *AuthContext) HasAnyScope(scopes ...string) bool {
	for _, scope := range scopes {
		if ac.HasScope(scope) {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the context carries administrator rights.
func (ac *AuthContext) IsAdmin() bool {
	return ac.Role == "admin" || ac.CredentialType == CredentialAdmin || ac.HasScope("admin:*")
}

type ContextKey string

const (
	// AuthContextKey is the fiber Locals key holding the AuthContext.
	AuthContextKey ContextKey = "auth_context"

	// RequestIDKey is the fiber Locals key holding the request id.
	RequestIDKey ContextKey = "request_id"
)
