// Package sessionhttp is the login bridge HTTP surface. It is what lets
// /oauth/authorize bounce an anonymous browser through a login form and
// back without breaking non-browser flows.
package sessionhttp

import (
	"encoding/json"
	"fmt"
	"html"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/lanonasis/authgate/pkg/auth"
	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/session"
	"github.com/lanonasis/authgate/pkg/session/sessionsrv"
)

type Handler struct {
	svc          *sessionsrv.SessionService
	cookieDomain string
	dashboardURL string
	ttl          time.Duration
	secure       bool
}

func NewHandler(svc *sessionsrv.SessionService, cookieDomain, dashboardURL string, ttl time.Duration, secure bool) *Handler {
	if ttl == 0 {
		ttl = session.DefaultTTL
	}
	return &Handler{
		svc:          svc,
		cookieDomain: cookieDomain,
		dashboardURL: dashboardURL,
		ttl:          ttl,
		secure:       secure,
	}
}

// RegisterRoutes mounts the bridge under /web.
func (h *Handler) RegisterRoutes(r fiber.Router) {
	r.Get("/login", h.LoginForm)
	r.Post("/login", h.Login)
	r.Get("/logout", h.Logout)
}

// LoginForm renders the minimal login page, threading return_to through the
// form so the post-login redirect survives.
func (h *Handler) LoginForm(c *fiber.Ctx) error {
	returnTo := c.Query("return_to")
	c.Set("Content-Type", fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(loginHTML(returnTo, ""))
}

// Login verifies credentials, sets both cookies, and redirects. Forms get a
// redirect; JSON callers get the token in the body.
func (h *Handler) Login(c *fiber.Ctx) error {
	email := c.FormValue("email")
	password := c.FormValue("password")
	returnTo := c.FormValue("return_to")
	platform := c.FormValue("platform")

	wantsJSON := c.Get(fiber.HeaderContentType) == fiber.MIMEApplicationJSON
	if wantsJSON {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			Platform string `json:"platform"`
			ReturnTo string `json:"return_to"`
		}
		if err := c.BodyParser(&body); err != nil {
			return errx.New("Malformed request body", errx.TypeValidation).WriteFiber(c)
		}
		email, password, platform, returnTo = body.Email, body.Password, body.Platform, body.ReturnTo
	}

	result, err := h.svc.Login(c.Context(), email, password, platform, sessionsrv.ActorInfo{
		IPAddress: c.IP(),
		UserAgent: c.Get("User-Agent"),
	})
	if err != nil {
		if e, ok := errx.As(err); ok && e.Type == errx.TypeAuthorization && !wantsJSON {
			c.Set("Content-Type", fiber.MIMETextHTMLCharsetUTF8)
			return c.Status(fiber.StatusUnauthorized).SendString(loginHTML(returnTo, "Invalid email or password."))
		}
		return errx.HandleFiber(c, err)
	}

	h.setCookies(c, result)

	target := session.SanitizeReturnTo(returnTo, h.cookieDomain, h.dashboardURL)
	if wantsJSON {
		return c.JSON(fiber.Map{
			"token":     result.Token,
			"return_to": target,
			"user": session.UserCookiePayload{
				ID:    result.Account.UserID.String(),
				Email: result.Account.Email,
				Role:  result.Account.Role,
			},
		})
	}
	return c.Redirect(target, fiber.StatusFound)
}

// Logout revokes the server-side sessions and clears both cookies.
func (h *Handler) Logout(c *fiber.Ctx) error {
	if caller := auth.FromCtx(c); caller != nil {
		platform := "web"
		if caller.CredentialType == "admin" {
			platform = "admin"
		}
		if err := h.svc.Logout(c.Context(), caller.UserID, platform); err != nil {
			return errx.HandleFiber(c, err)
		}
	}

	h.clearCookies(c)
	return c.Redirect(h.dashboardURL, fiber.StatusFound)
}

func (h *Handler) setCookies(c *fiber.Ctx, result *sessionsrv.LoginResult) {
	expires := time.Now().Add(h.ttl)

	c.Cookie(&fiber.Cookie{
		Name:     session.SessionCookieName,
		Value:    result.Token,
		Domain:   h.cookieDomain,
		Path:     "/",
		Expires:  expires,
		Secure:   h.secure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	payload, _ := json.Marshal(session.UserCookiePayload{
		ID:    result.Account.UserID.String(),
		Email: result.Account.Email,
		Role:  result.Account.Role,
	})
	c.Cookie(&fiber.Cookie{
		Name:     session.UserCookieName,
		Value:    string(payload),
		Domain:   h.cookieDomain,
		Path:     "/",
		Expires:  expires,
		Secure:   h.secure,
		HTTPOnly: false,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (h *Handler) clearCookies(c *fiber.Ctx) {
	for _, name := range []string{session.SessionCookieName, session.UserCookieName} {
		c.Cookie(&fiber.Cookie{
			Name:    name,
			Value:   "",
			Domain:  h.cookieDomain,
			Path:    "/",
			Expires: time.Unix(0, 0),
		})
	}
}

func loginHTML(returnTo, notice string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>Sign in</title></head>
<body>
<h1>Sign in</h1>
<p>%s</p>
<form method="POST" action="/web/login">
  <input type="hidden" name="return_to" value="%s">
  <label>Email <input name="email" type="email" autocomplete="username" autofocus></label>
  <label>Password <input name="password" type="password" autocomplete="current-password"></label>
  <button type="submit">Sign in</button>
</form>
</body>
</html>`, html.EscapeString(notice), html.EscapeString(returnTo))
}
