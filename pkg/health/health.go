// Package health is the liveness and readiness surface.
package health

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/lanonasis/authgate/pkg/eventlog"
)

// Status values reported per check and overall.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

type check struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type report struct {
	Status  string           `json:"status"`
	Checks  map[string]check `json:"checks"`
	Outbox  *eventlog.Depth  `json:"outbox,omitempty"`
	Version string           `json:"version,omitempty"`
}

// Handler answers GET /health. Redis being down degrades the service
// (client cache and rate limiting fall back); the primary database being
// down takes it down. Dead-lettered outbox rows degrade.
type Handler struct {
	db      *sqlx.DB
	rdb     *redis.Client
	outbox  eventlog.OutboxRepository
	version string
}

func NewHandler(db *sqlx.DB, rdb *redis.Client, outbox eventlog.OutboxRepository, version string) *Handler {
	return &Handler{db: db, rdb: rdb, outbox: outbox, version: version}
}

func (h *Handler) RegisterRoutes(r fiber.Router) {
	r.Get("/health", h.Health)
}

func (h *Handler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	rep := report{
		Status:  StatusOK,
		Checks:  make(map[string]check),
		Version: h.version,
	}

	if err := h.db.PingContext(ctx); err != nil {
		rep.Checks["database"] = check{Status: StatusDown, Error: err.Error()}
		rep.Status = StatusDown
	} else {
		rep.Checks["database"] = check{Status: StatusOK}
	}

	if h.rdb != nil {
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			rep.Checks["redis"] = check{Status: StatusDown, Error: err.Error()}
			if rep.Status == StatusOK {
				rep.Status = StatusDegraded
			}
		} else {
			rep.Checks["redis"] = check{Status: StatusOK}
		}
	}

	if h.outbox != nil {
		depth, err := h.outbox.Depth(ctx)
		if err != nil {
			rep.Checks["outbox"] = check{Status: StatusDown, Error: err.Error()}
			if rep.Status == StatusOK {
				rep.Status = StatusDegraded
			}
		} else {
			rep.Outbox = &depth
			st := StatusOK
			if depth.Failed > 0 {
				st = StatusDegraded
				if rep.Status == StatusOK {
					rep.Status = StatusDegraded
				}
			}
			rep.Checks["outbox"] = check{Status: st}
		}
	}

	status := fiber.StatusOK
	if rep.Status == StatusDown {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(rep)
}
