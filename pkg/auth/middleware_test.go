package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanonasis/authgate/pkg/kernel"
	"github.com/lanonasis/authgate/pkg/oauth"
	"github.com/lanonasis/authgate/pkg/session"
)

type fakeSessionChecker struct {
	sessionID string
	err       error
}

func (f *fakeSessionChecker) ConfirmSession(_ context.Context, _ kernel.UserID, _ string, _ time.Time) (string, error) {
	return f.sessionID, f.err
}

type fakeIntrospector struct {
	byRaw map[string]*oauth.Introspection
}

func (f *fakeIntrospector) Introspect(_ context.Context, raw string) (*oauth.Introspection, error) {
	if info, ok := f.byRaw[raw]; ok {
		return info, nil
	}
	return &oauth.Introspection{Active: false}, nil
}

type fakeKeyValidator struct {
	byRaw map[string]*kernel.AuthContext
}

func (f *fakeKeyValidator) ValidateKey(_ context.Context, raw string) (*kernel.AuthContext, error) {
	if ac, ok := f.byRaw[raw]; ok {
		return ac, nil
	}
	return nil, ErrTokenInvalid()
}

const testSecret = "0123456789abcdef0123456789abcdef"

func testApp(mw *Middleware) *fiber.App {
	app := fiber.New()
	app.Get("/me", mw.Authenticate(), func(c *fiber.Ctx) error {
		ac := FromCtx(c)
		return c.JSON(fiber.Map{
			"user_id":         ac.UserID.String(),
			"credential_type": string(ac.CredentialType),
		})
	})
	app.Get("/admin", mw.Authenticate(), mw.RequireAdmin(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Get("/scoped", mw.Authenticate(), mw.RequireScope("memories:write"), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func fixture() (*Middleware, *JWTService, *fakeSessionChecker, *fakeIntrospector, *fakeKeyValidator) {
	jwt := NewJWTService(testSecret, time.Hour, "lanonasis-auth")
	sessions := &fakeSessionChecker{sessionID: "sess-1"}
	tokens := &fakeIntrospector{byRaw: make(map[string]*oauth.Introspection)}
	keys := &fakeKeyValidator{byRaw: make(map[string]*kernel.AuthContext)}
	return NewMiddleware(jwt, sessions, tokens, keys), jwt, sessions, tokens, keys
}

func TestAuthenticateBearerJWT(t *testing.T) {
	mw, jwt, _, _, _ := fixture()
	app := testApp(mw)

	token, err := jwt.GenerateSessionToken(kernel.NewUserID("u-1"), "dev@lanonasis.com", "user", "web")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `"user_id":"u-1"`)
	assert.Contains(t, string(body), `"credential_type":"session"`)
}

func TestAuthenticateSessionCookie(t *testing.T) {
	mw, jwt, _, _, _ := fixture()
	app := testApp(mw)

	token, err := jwt.GenerateSessionToken(kernel.NewUserID("u-1"), "dev@lanonasis.com", "user", "web")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/me", nil)
	req.AddCookie(&http.Cookie{Name: session.SessionCookieName, Value: token})
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAuthenticateRevokedSession(t *testing.T) {
	mw, jwt, sessions, _, _ := fixture()
	app := testApp(mw)
	sessions.err = ErrSessionRevoked()

	token, err := jwt.GenerateSessionToken(kernel.NewUserID("u-1"), "dev@lanonasis.com", "user", "web")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestAuthenticateOpaqueAccessToken(t *testing.T) {
	mw, _, _, tokens, _ := fixture()
	app := testApp(mw)
	tokens.byRaw["opaque-token"] = &oauth.Introspection{
		Active: true,
		UserID: "u-9",
		Scope:  "memories:read memories:write",
	}

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer opaque-token")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `"credential_type":"access_token"`)

	// Scope carried through to RequireScope.
	req = httptest.NewRequest("GET", "/scoped", nil)
	req.Header.Set("Authorization", "Bearer opaque-token")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAuthenticateAPIKeyHeader(t *testing.T) {
	mw, _, _, _, keys := fixture()
	app := testApp(mw)
	keys.byRaw["lano_test_k"] = &kernel.AuthContext{
		UserID:         kernel.NewUserID("u-2"),
		CredentialType: kernel.CredentialAPIKey,
		Scopes:         []string{"memories:read"},
	}

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("X-API-Key", "lano_test_k")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// ApiKey authorization scheme works too.
	req = httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "ApiKey lano_test_k")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAuthenticateMissingCredential(t *testing.T) {
	mw, _, _, _, _ := fixture()
	app := testApp(mw)

	resp, err := app.Test(httptest.NewRequest("GET", "/me", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "AUTH_TOKEN_MISSING")
}

func TestRequireAdmin(t *testing.T) {
	mw, jwt, _, _, _ := fixture()
	app := testApp(mw)

	userToken, err := jwt.GenerateSessionToken(kernel.NewUserID("u-1"), "dev@lanonasis.com", "user", "web")
	require.NoError(t, err)
	adminToken, err := jwt.GenerateAdminToken(kernel.NewUserID("a-1"), "root@lanonasis.com")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestScopeMissingIs403(t *testing.T) {
	mw, _, _, tokens, _ := fixture()
	app := testApp(mw)
	tokens.byRaw["narrow"] = &oauth.Introspection{Active: true, UserID: "u-9", Scope: "memories:read"}

	req := httptest.NewRequest("GET", "/scoped", nil)
	req.Header.Set("Authorization", "Bearer narrow")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}
