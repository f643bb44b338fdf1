package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/kernel"
	"github.com/lanonasis/authgate/pkg/session"
	"github.com/rs/zerolog/log"
)

// Middleware is the identity extractor chain. Extractors are tried in
// order: first-party JWT, opaque access token introspection, API key.
type Middleware struct {
	jwt      *JWTService
	sessions SessionChecker
	tokens   TokenIntrospector
	apiKeys  APIKeyValidator
}

func NewMiddleware(jwt *JWTService, sessions SessionChecker, tokens TokenIntrospector, apiKeys APIKeyValidator) *Middleware {
	return &Middleware{jwt: jwt, sessions: sessions, tokens: tokens, apiKeys: apiKeys}
}

// Authenticate rejects requests that carry no resolvable credential.
func (m *Middleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		auth, err := m.resolve(c)
		if err != nil {
			return errx.HandleFiber(c, err)
		}
		if auth == nil {
			return ErrTokenMissing().WriteFiber(c)
		}
		c.Locals(string(kernel.AuthContextKey), auth)
		return c.Next()
	}
}

// Optional resolves a caller when a credential is present but lets
// anonymous requests through. The authorize endpoint needs this: no session
// means a login redirect, not a 401.
func (m *Middleware) Optional() fiber.Handler {
	return func(c *fiber.Ctx) error {
		auth, err := m.resolve(c)
		if err == nil && auth != nil {
			c.Locals(string(kernel.AuthContextKey), auth)
		}
		return c.Next()
	}
}

// RequireScope guards an endpoint behind a scope. 403, not 401: the caller
// is known, just not allowed.
func (m *Middleware) RequireScope(scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		auth := FromCtx(c)
		if auth == nil {
			return ErrTokenMissing().WriteFiber(c)
		}
		if !auth.HasScope(scope) {
			return ErrScopeMissing().WithDetail("required_scope", scope).WriteFiber(c)
		}
		return c.Next()
	}
}

// RequireAdmin guards the admin surface.
func (m *Middleware) RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		auth := FromCtx(c)
		if auth == nil {
			return ErrTokenMissing().WriteFiber(c)
		}
		if !auth.IsAdmin() {
			return ErrScopeMissing().WithDetail("required_role", "admin").WriteFiber(c)
		}
		return c.Next()
	}
}

// FromCtx retrieves the caller identity placed by Authenticate/Optional.
func FromCtx(c *fiber.Ctx) *kernel.AuthContext {
	auth, ok := c.Locals(string(kernel.AuthContextKey)).(*kernel.AuthContext)
	if !ok {
		return nil
	}
	return auth
}

func (m *Middleware) resolve(c *fiber.Ctx) (*kernel.AuthContext, error) {
	if bearer := bearerToken(c); bearer != "" {
		if auth, err := m.fromJWT(c, bearer); err == nil {
			return auth, nil
		}
		if auth, err := m.fromAccessToken(c, bearer); err == nil && auth != nil {
			return auth, nil
		}
	} else if cookie := c.Cookies(session.SessionCookieName); cookie != "" {
		if auth, err := m.fromJWT(c, cookie); err == nil {
			return auth, nil
		}
	}

	if key := apiKeyValue(c); key != "" {
		auth, err := m.apiKeys.ValidateKey(c.Context(), key)
		if err != nil {
			return nil, err
		}
		return auth, nil
	}

	return nil, nil
}

// fromJWT verifies a first-party JWT and confirms its backing session row.
func (m *Middleware) fromJWT(c *fiber.Ctx, token string) (*kernel.AuthContext, error) {
	claims, err := m.jwt.ValidateToken(token)
	if err != nil {
		return nil, err
	}

	sessionID, err := m.sessions.ConfirmSession(c.Context(), claims.UserID, claims.Platform, claims.IssuedAt)
	if err != nil {
		log.Debug().
			Str("user_id", claims.UserID.String()).
			Str("platform", claims.Platform).
			Msg("jwt presented without live session")
		return nil, ErrSessionRevoked()
	}

	credType := kernel.CredentialSession
	if claims.Platform == "admin" {
		credType = kernel.CredentialAdmin
	}
	return &kernel.AuthContext{
		UserID:         claims.UserID,
		Email:          claims.Email,
		Role:           claims.Role,
		Scopes:         []string{"*"},
		CredentialType: credType,
		SessionID:      sessionID,
	}, nil
}

// fromAccessToken resolves an opaque OAuth access token by introspection.
func (m *Middleware) fromAccessToken(c *fiber.Ctx, raw string) (*kernel.AuthContext, error) {
	info, err := m.tokens.Introspect(c.Context(), raw)
	if err != nil || !info.Active {
		return nil, ErrTokenInvalid()
	}
	return &kernel.AuthContext{
		UserID:         kernel.NewUserID(info.UserID),
		Scopes:         strings.Fields(info.Scope),
		CredentialType: kernel.CredentialAccessToken,
	}, nil
}

func bearerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && parts[1] != "" {
		return parts[1]
	}
	return ""
}

// apiKeyValue accepts both the X-API-Key header and the
// "Authorization: ApiKey …" scheme.
func apiKeyValue(c *fiber.Ctx) string {
	if key := c.Get("X-API-Key"); key != "" {
		return key
	}
	header := c.Get(fiber.HeaderAuthorization)
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "ApiKey") && parts[1] != "" {
		return parts[1]
	}
	return ""
}
