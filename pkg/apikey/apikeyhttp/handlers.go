// Package apikeyhttp is the REST surface for first-party API keys.
package apikeyhttp

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/lanonasis/authgate/pkg/apikey"
	"github.com/lanonasis/authgate/pkg/apikey/apikeysrv"
	"github.com/lanonasis/authgate/pkg/auth"
	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/kernel"
)

type Handler struct {
	svc *apikeysrv.APIKeyService
}

func NewHandler(svc *apikeysrv.APIKeyService) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the key endpoints. The caller wraps the group in
// the authentication middleware.
func (h *Handler) RegisterRoutes(r fiber.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Post("/:id/rotate", h.Rotate)
	r.Delete("/:id", h.Revoke)
}

type createRequest struct {
	Name        string   `json:"name"`
	Environment string   `json:"environment"`
	Scopes      []string `json:"scopes"`
	ExpiresIn   *int     `json:"expires_in_days"`
}

func (h *Handler) Create(c *fiber.Ctx) error {
	caller := auth.FromCtx(c)
	if caller == nil {
		return auth.ErrTokenMissing().WriteFiber(c)
	}

	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.New("Malformed request body", errx.TypeValidation).WriteFiber(c)
	}
	if req.Name == "" {
		return errx.New("name is required", errx.TypeValidation).WriteFiber(c)
	}

	params := apikey.CreateParams{
		UserID:         caller.UserID,
		OrganizationID: caller.OrgID,
		Name:           req.Name,
		Environment:    req.Environment,
		Scopes:         req.Scopes,
	}
	if req.ExpiresIn != nil && *req.ExpiresIn > 0 {
		d := time.Duration(*req.ExpiresIn) * 24 * time.Hour
		params.ExpiresIn = &d
	}

	resp, err := h.svc.Create(c.Context(), params)
	if err != nil {
		return errx.HandleFiber(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *Handler) List(c *fiber.Ctx) error {
	caller := auth.FromCtx(c)
	if caller == nil {
		return auth.ErrTokenMissing().WriteFiber(c)
	}
	page := kernel.PaginationOptions{
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("page_size", 50),
	}
	keys, err := h.svc.List(c.Context(), caller.UserID, page)
	if err != nil {
		return errx.HandleFiber(c, err)
	}
	return c.JSON(keys)
}

func (h *Handler) Rotate(c *fiber.Ctx) error {
	caller := auth.FromCtx(c)
	if caller == nil {
		return auth.ErrTokenMissing().WriteFiber(c)
	}
	resp, err := h.svc.Rotate(c.Context(), c.Params("id"), caller.UserID)
	if err != nil {
		return errx.HandleFiber(c, err)
	}
	return c.JSON(resp)
}

func (h *Handler) Revoke(c *fiber.Ctx) error {
	caller := auth.FromCtx(c)
	if caller == nil {
		return auth.ErrTokenMissing().WriteFiber(c)
	}
	if err := h.svc.Revoke(c.Context(), c.Params("id"), caller.UserID); err != nil {
		return errx.HandleFiber(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
