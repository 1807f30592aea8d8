// middleware/auth.go
package middleware

import (
	"strconv"
	"strings"

	"heads-or-tails/services"

	"github.com/gofiber/fiber/v2"
)

const (
	HeaderUserID          = "X-User-ID"
	HeaderUserRoles       = "X-User-Roles"
	HeaderAttachedDeposit = "X-Attached-Deposit"

	localCaller = "caller"
)

// UserContextMiddleware extracts user identity, roles and the attached deposit
// set by Gateway. Requests without X-User-ID are rejected.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get(HeaderUserID))
		if userID == "" {
			log.Warn("user id missing", "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID: request must come through gateway with auth context",
			})
		}

		var roles []string
		for _, r := range strings.Split(c.Get(HeaderUserRoles), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}

		var deposit uint64
		if raw := strings.TrimSpace(c.Get(HeaderAttachedDeposit)); raw != "" {
			v, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "X-Attached-Deposit must be a non-negative integer in smallest units",
				})
			}
			deposit = v
		}

		c.Locals("user_id", userID)
		c.Locals("user_roles", roles)
		c.Locals(localCaller, services.Caller{ID: userID, Roles: roles, Deposit: deposit})

		log.Debug("user context", "user", userID, "roles", roles, "deposit", deposit, "path", c.Path())
		return c.Next()
	}
}

// CallerFrom returns the caller stored by UserContextMiddleware.
func CallerFrom(c *fiber.Ctx) (services.Caller, bool) {
	caller, ok := c.Locals(localCaller).(services.Caller)
	return caller, ok
}
