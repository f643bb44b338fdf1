package errx

import (
	"github.com/gofiber/fiber/v2"
)

// WriteFiber writes the error as a JSON response on the fiber context.
func (e *Error) WriteFiber(c *fiber.Ctx) error {
	return c.Status(e.HTTPStatus).JSON(e)
}

// HandleFiber translates any error into a JSON response. Non-errx errors
// become opaque internal errors; their detail is for logs only.
func HandleFiber(c *fiber.Ctx, err error) error {
	if e, ok := As(err); ok {
		return e.WriteFiber(c)
	}
	if fe, ok := err.(*fiber.Error); ok {
		return New(fe.Message, TypeInternal).withStatus(fe.Code).WriteFiber(c)
	}
	return New("Internal server error", TypeInternal).WriteFiber(c)
}

func (e *Error) withStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}
