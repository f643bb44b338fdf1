// Package keystorehttp is the REST surface for the stored-key vault.
package keystorehttp

import (
	"github.com/gofiber/fiber/v2"
	"github.com/lanonasis/authgate/pkg/auth"
	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/kernel"
	"github.com/lanonasis/authgate/pkg/keystore/keystoresrv"
)

type Handler struct {
	svc *keystoresrv.KeystoreService
}

func NewHandler(svc *keystoresrv.KeystoreService) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the project and key endpoints. The caller wraps
// the group in the authentication middleware.
func (h *Handler) RegisterRoutes(r fiber.Router) {
	r.Post("/", h.CreateProject)
	r.Get("/", h.ListProjects)
	r.Delete("/:projectId", h.DeleteProject)

	r.Post("/:projectId/keys", h.StoreKey)
	r.Get("/:projectId/keys", h.ListKeys)
	r.Get("/:projectId/keys/:keyId", h.RevealKey)
	r.Delete("/:projectId/keys/:keyId", h.DeleteKey)
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *Handler) CreateProject(c *fiber.Ctx) error {
	caller := auth.FromCtx(c)
	if caller == nil {
		return auth.ErrTokenMissing().WriteFiber(c)
	}

	var req createProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.New("Malformed request body", errx.TypeValidation).WriteFiber(c)
	}

	project, err := h.svc.CreateProject(c.Context(), caller, req.Name, req.Description)
	if err != nil {
		return errx.HandleFiber(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(project)
}

func (h *Handler) ListProjects(c *fiber.Ctx) error {
	caller := auth.FromCtx(c)
	if caller == nil {
		return auth.ErrTokenMissing().WriteFiber(c)
	}
	projects, err := h.svc.ListProjects(c.Context(), caller)
	if err != nil {
		return errx.HandleFiber(c, err)
	}
	return c.JSON(fiber.Map{"projects": projects, "total": len(projects)})
}

func (h *Handler) DeleteProject(c *fiber.Ctx) error {
	caller := auth.FromCtx(c)
	if caller == nil {
		return auth.ErrTokenMissing().WriteFiber(c)
	}
	id := kernel.NewProjectID(c.Params("projectId"))
	if err := h.svc.DeleteProject(c.Context(), caller, id); err != nil {
		return errx.HandleFiber(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type storeKeyRequest struct {
	Name        string `json:"name"`
	Environment string `json:"environment"`
	Value       string `json:"value"`
}

func (h *Handler) StoreKey(c *fiber.Ctx) error {
	caller := auth.FromCtx(c)
	if caller == nil {
		return auth.ErrTokenMissing().WriteFiber(c)
	}

	var req storeKeyRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.New("Malformed request body", errx.TypeValidation).WriteFiber(c)
	}

	projectID := kernel.NewProjectID(c.Params("projectId"))
	key, err := h.svc.StoreKey(c.Context(), caller, projectID, req.Name, req.Environment, req.Value)
	if err != nil {
		return errx.HandleFiber(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(key)
}

func (h *Handler) ListKeys(c *fiber.Ctx) error {
	caller := auth.FromCtx(c)
	if caller == nil {
		return auth.ErrTokenMissing().WriteFiber(c)
	}
	projectID := kernel.NewProjectID(c.Params("projectId"))
	keys, err := h.svc.ListKeys(c.Context(), caller, projectID)
	if err != nil {
		return errx.HandleFiber(c, err)
	}
	return c.JSON(fiber.Map{"keys": keys, "total": len(keys)})
}

func (h *Handler) RevealKey(c *fiber.Ctx) error {
	caller := auth.FromCtx(c)
	if caller == nil {
		return auth.ErrTokenMissing().WriteFiber(c)
	}
	key, err := h.svc.RevealKey(c.Context(), caller, c.Params("keyId"))
	if err != nil {
		return errx.HandleFiber(c, err)
	}
	return c.JSON(key)
}

func (h *Handler) DeleteKey(c *fiber.Ctx) error {
	caller := auth.FromCtx(c)
	if caller == nil {
		return auth.ErrTokenMissing().WriteFiber(c)
	}
	if err := h.svc.DeleteKey(c.Context(), caller, c.Params("keyId")); err != nil {
		return errx.HandleFiber(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
