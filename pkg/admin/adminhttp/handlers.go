// Package adminhttp exposes the bypass endpoints under /admin. bypass-login
// is public (behind the rate limiter); the rest require the admin bearer.
package adminhttp

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lanonasis/authgate/pkg/admin/adminsrv"
	"github.com/lanonasis/authgate/pkg/auth"
	"github.com/lanonasis/authgate/pkg/errx"
)

type Handler struct {
	svc *adminsrv.AdminService
}

func NewHandler(svc *adminsrv.AdminService) *Handler {
	return &Handler{svc: svc}
}

// RegisterPublicRoutes mounts the unauthenticated bypass entry point.
func (h *Handler) RegisterPublicRoutes(r fiber.Router) {
	r.Post("/bypass-login", h.BypassLogin)
}

// RegisterProtectedRoutes mounts endpoints the caller wraps in
// Authenticate + RequireAdmin.
func (h *Handler) RegisterProtectedRoutes(r fiber.Router) {
	r.Post("/change-password", h.ChangePassword)
	r.Post("/register-app", h.RegisterApp)
}

type bypassLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) BypassLogin(c *fiber.Ctx) error {
	var req bypassLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.New("Malformed request body", errx.TypeValidation).WriteFiber(c)
	}

	result, err := h.svc.BypassLogin(c.Context(), req.Email, req.Password, c.IP(), c.Get(fiber.HeaderUserAgent))
	if err != nil {
		return errx.HandleFiber(c, err)
	}
	return c.JSON(result)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handler) ChangePassword(c *fiber.Ctx) error {
	caller := auth.FromCtx(c)
	if caller == nil {
		return auth.ErrTokenMissing().WriteFiber(c)
	}

	var req changePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.New("Malformed request body", errx.TypeValidation).WriteFiber(c)
	}
	if err := h.svc.ChangePassword(c.Context(), caller, req.CurrentPassword, req.NewPassword); err != nil {
		return errx.HandleFiber(c, err)
	}
	return c.JSON(fiber.Map{"message": "Password updated"})
}

func (h *Handler) RegisterApp(c *fiber.Ctx) error {
	var params adminsrv.RegisterAppParams
	if err := c.BodyParser(&params); err != nil {
		return errx.New("Malformed request body", errx.TypeValidation).WriteFiber(c)
	}

	app, err := h.svc.RegisterApp(c.Context(), params)
	if err != nil {
		return errx.HandleFiber(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(app)
}
