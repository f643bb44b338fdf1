package audit

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/kernel"
)

// Middleware records an entry for every request through a sensitive
// endpoint, after the handler has run.
func (r *Recorder) Middleware(action string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		entry := Entry{
			Action:    action,
			Resource:  c.Path(),
			IPAddress: c.IP(),
			UserAgent: c.Get(fiber.HeaderUserAgent),
			Success:   err == nil && c.Response().StatusCode() < 400,
		}
		if ac, ok := c.Locals(string(kernel.AuthContextKey)).(*kernel.AuthContext); ok && ac.IsValid() {
			entry.Actor = ac.UserID.String()
		}
		if err != nil {
			if e, ok := errx.As(err); ok {
				entry.ErrorCode = e.Code
			}
		}
		r.Record(c.Context(), entry)
		return err
	}
}
