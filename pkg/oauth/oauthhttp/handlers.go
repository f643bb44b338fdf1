// Package oauthhttp adapts the OAuth protocol engine to Fiber. Routes are
// registered twice, at /oauth and /api/v1/oauth, because existing clients
// are pinned to either convention.
package oauthhttp

import (
	"fmt"
	"html"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/kernel"
	"github.com/lanonasis/authgate/pkg/oauth"
	"github.com/lanonasis/authgate/pkg/oauth/oauthsrv"
)

type Handler struct {
	svc         *oauthsrv.OAuthService
	authBaseURL string
	loginURL    string
}

func NewHandler(svc *oauthsrv.OAuthService, authBaseURL string) *Handler {
	return &Handler{
		svc:         svc,
		authBaseURL: authBaseURL,
		loginURL:    authBaseURL + "/web/login",
	}
}

// RegisterRoutes mounts the endpoint set on a router group. Call once per
// mount point; rate limiting middleware is applied by the caller.
func (h *Handler) RegisterRoutes(r fiber.Router) {
	r.Get("/authorize", h.Authorize)
	r.Post("/token", h.Token)
	r.Post("/revoke", h.Revoke)
	r.Post("/introspect", h.Introspect)
	r.Post("/device", h.DeviceAuthorization)
	r.Get("/device/verify", h.DeviceVerifyPage)
	r.Post("/device/verify", h.DeviceVerifySubmit)
}

// RegisterMetadata mounts the RFC 8414 discovery document at the app root.
func (h *Handler) RegisterMetadata(app *fiber.App) {
	app.Get("/.well-known/oauth-authorization-server", h.Metadata)
}

func (h *Handler) Authorize(c *fiber.Ctx) error {
	req := oauthsrv.AuthorizeRequest{
		ClientID:        kernel.NewClientID(c.Query("client_id")),
		ResponseType:    c.Query("response_type"),
		RedirectURI:     c.Query("redirect_uri"),
		Scope:           c.Query("scope"),
		State:           c.Query("state"),
		CodeChallenge:   c.Query("code_challenge"),
		ChallengeMethod: c.Query("code_challenge_method"),
	}

	client, err := h.svc.CheckAuthorizeClient(c.Context(), req)
	if err != nil {
		return writeOAuthError(c, err)
	}

	v, err := h.svc.ValidateAuthorizeParams(client, req)
	if err != nil {
		// The redirect URI is trusted at this point, so the client gets the
		// error on its own callback.
		return redirectError(c, req.RedirectURI, req.State, err)
	}

	auth, ok := c.Locals(string(kernel.AuthContextKey)).(*kernel.AuthContext)
	if !ok || auth == nil || !auth.IsValid() {
		// Anonymous browser: bounce through the login bridge and come back
		// with the full original authorize URL preserved.
		returnTo := c.OriginalURL()
		return c.Redirect(h.loginURL+"?return_to="+url.QueryEscape(returnTo), fiber.StatusFound)
	}

	target, err := h.svc.Authorize(c.Context(), v, auth.UserID, actorFrom(c, auth.UserID))
	if err != nil {
		return redirectError(c, req.RedirectURI, req.State, err)
	}
	return c.Redirect(target, fiber.StatusFound)
}

func (h *Handler) Token(c *fiber.Ctx) error {
	req := oauthsrv.TokenRequest{
		GrantType:    c.FormValue("grant_type"),
		ClientID:     kernel.NewClientID(c.FormValue("client_id")),
		ClientSecret: c.FormValue("client_secret"),
		Code:         c.FormValue("code"),
		RedirectURI:  c.FormValue("redirect_uri"),
		CodeVerifier: c.FormValue("code_verifier"),
		RefreshToken: c.FormValue("refresh_token"),
		DeviceCode:   c.FormValue("device_code"),
		Scope:        c.FormValue("scope"),
		Actor:        actorFrom(c, ""),
	}

	resp, err := h.svc.Exchange(c.Context(), req)
	if err != nil {
		return writeOAuthError(c, err)
	}
	c.Set("Cache-Control", "no-store")
	c.Set("Pragma", "no-cache")
	return c.JSON(resp)
}

// Revoke always answers 200 for well-formed requests (RFC 7009): revoking
// an unknown token is a success.
func (h *Handler) Revoke(c *fiber.Ctx) error {
	err := h.svc.Revoke(c.Context(), c.FormValue("token"), c.FormValue("token_type_hint"))
	if err != nil {
		return writeOAuthError(c, err)
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *Handler) Introspect(c *fiber.Ctx) error {
	if !h.introspectAuthorized(c) {
		return errx.New("Authentication required", errx.TypeAuthorization).WriteFiber(c)
	}
	info, err := h.svc.Introspect(c.Context(), c.FormValue("token"))
	if err != nil {
		return writeOAuthError(c, err)
	}
	return c.JSON(info)
}

// introspectAuthorized accepts either an authenticated caller or client
// credentials in the form body. Confidential clients must present their
// secret; a bare client_id only identifies public clients.
func (h *Handler) introspectAuthorized(c *fiber.Ctx) bool {
	if auth, ok := c.Locals(string(kernel.AuthContextKey)).(*kernel.AuthContext); ok && auth != nil && auth.IsValid() {
		return true
	}
	clientID := c.FormValue("client_id")
	if clientID == "" {
		return false
	}
	_, err := h.svc.AuthenticateClient(c.Context(), kernel.NewClientID(clientID), c.FormValue("client_secret"))
	return err == nil
}

func (h *Handler) DeviceAuthorization(c *fiber.Ctx) error {
	clientID := c.FormValue("client_id")
	if clientID == "" {
		clientID = c.Query("client_id")
	}
	scope := c.FormValue("scope")
	if scope == "" {
		scope = c.Query("scope")
	}
	resp, err := h.svc.StartDeviceAuthorization(c.Context(), kernel.NewClientID(clientID), scope)
	if err != nil {
		return writeOAuthError(c, err)
	}
	return c.JSON(resp)
}

// DeviceVerifyPage renders the user-code entry form. Anonymous visitors go
// through the login bridge first so approval always has a user behind it.
func (h *Handler) DeviceVerifyPage(c *fiber.Ctx) error {
	auth, ok := c.Locals(string(kernel.AuthContextKey)).(*kernel.AuthContext)
	if !ok || auth == nil || !auth.IsValid() {
		return c.Redirect(h.loginURL+"?return_to="+url.QueryEscape(c.OriginalURL()), fiber.StatusFound)
	}

	userCode := c.Query("user_code")
	var notice string
	if userCode != "" {
		device, err := h.svc.LookupUserCode(c.Context(), userCode)
		if err != nil {
			notice = "Code not recognized or expired. Check the code and try again."
			userCode = ""
		} else {
			notice = fmt.Sprintf("Application %q is requesting access: %s",
				device.ClientID.String(), html.EscapeString(oauth.JoinScopes(device.Scopes)))
		}
	}

	c.Set("Content-Type", fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(deviceVerifyHTML(userCode, notice))
}

func (h *Handler) DeviceVerifySubmit(c *fiber.Ctx) error {
	auth, ok := c.Locals(string(kernel.AuthContextKey)).(*kernel.AuthContext)
	if !ok || auth == nil || !auth.IsValid() {
		return errx.New("Authentication required", errx.TypeAuthorization).WriteFiber(c)
	}

	userCode := c.FormValue("user_code")
	action := c.FormValue("action")

	var err error
	switch action {
	case "approve":
		err = h.svc.ApproveDevice(c.Context(), userCode, auth.UserID)
	case "deny":
		err = h.svc.DenyDevice(c.Context(), userCode)
	default:
		err = oauth.ErrInvalidRequest("action must be 'approve' or 'deny'")
	}
	if err != nil {
		return writeOAuthError(c, err)
	}

	c.Set("Content-Type", fiber.MIMETextHTMLCharsetUTF8)
	if action == "approve" {
		return c.SendString(deviceResultHTML("Device connected", "You can return to your device now."))
	}
	return c.SendString(deviceResultHTML("Request denied", "The device was not granted access."))
}

// Metadata serves the RFC 8414 authorization server metadata document.
func (h *Handler) Metadata(c *fiber.Ctx) error {
	base := h.authBaseURL
	return c.JSON(fiber.Map{
		"issuer":                        base,
		"authorization_endpoint":        base + "/oauth/authorize",
		"token_endpoint":                base + "/oauth/token",
		"revocation_endpoint":           base + "/oauth/revoke",
		"introspection_endpoint":        base + "/oauth/introspect",
		"device_authorization_endpoint": base + "/oauth/device",
		"response_types_supported":      []string{"code"},
		"grant_types_supported": []string{
			oauth.GrantAuthorizationCode,
			oauth.GrantRefreshToken,
			oauth.GrantDeviceCode,
		},
		"code_challenge_methods_supported":  []string{oauth.PKCEMethodS256, oauth.PKCEMethodPlain},
		"token_endpoint_auth_methods_supported": []string{"client_secret_post", "none"},
		"scopes_supported":                  oauth.MCPScopes,
	})
}

// writeOAuthError renders protocol errors in the RFC 6749 wire shape and
// everything else through the standard error body.
func writeOAuthError(c *fiber.Ctx, err error) error {
	if e, ok := errx.As(err); ok && e.WireCode != "" {
		return c.Status(e.HTTPStatus).JSON(fiber.Map{
			"error":             e.WireCode,
			"error_description": e.Message,
		})
	}
	return errx.HandleFiber(c, err)
}

// redirectError reports a trusted-redirect failure on the client's callback
// per RFC 6749 §4.1.2.1.
func redirectError(c *fiber.Ctx, redirectURI, state string, err error) error {
	target, parseErr := url.Parse(redirectURI)
	if parseErr != nil {
		return writeOAuthError(c, err)
	}
	wireCode, description := "server_error", "Internal error"
	if e, ok := errx.As(err); ok && e.WireCode != "" {
		wireCode, description = e.WireCode, e.Message
	}
	q := target.Query()
	q.Set("error", wireCode)
	q.Set("error_description", description)
	if state != "" {
		q.Set("state", state)
	}
	target.RawQuery = q.Encode()
	return c.Redirect(target.String(), fiber.StatusFound)
}

func actorFrom(c *fiber.Ctx, userID kernel.UserID) oauth.ActorContext {
	return oauth.ActorContext{
		UserID:    userID,
		IPAddress: c.IP(),
		UserAgent: c.Get("User-Agent"),
	}
}

func deviceVerifyHTML(userCode, notice string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>Connect a device</title></head>
<body>
<h1>Connect a device</h1>
<p>%s</p>
<form method="POST" action="">
  <label>Code <input name="user_code" value="%s" autocomplete="off" autofocus></label>
  <button name="action" value="approve" type="submit">Approve</button>
  <button name="action" value="deny" type="submit">Deny</button>
</form>
</body>
</html>`, html.EscapeString(notice), html.EscapeString(userCode))
}

func deviceResultHTML(title, message string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>%s</title></head>
<body><h1>%s</h1><p>%s</p></body>
</html>`, html.EscapeString(title), html.EscapeString(title), html.EscapeString(message))
}
