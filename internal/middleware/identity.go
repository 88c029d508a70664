package middleware

import (
	"github.com/gofiber/fiber/v2"
)

const userIDHeader = "X-User-ID"

// Identity reads the caller identity forwarded by the edge proxy and exposes
// it to handlers under the "user_id" local. Authentication itself lives at
// the edge; this service only needs the identity for audit attribution, so
// an absent header falls back to "system" rather than rejecting the request.
func Identity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid := c.Get(userIDHeader)
		if uid == "" {
			uid = "system"
		}
		c.Locals("user_id", uid)
		return c.Next()
	}
}
