package handlers

import "github.com/gofiber/fiber/v2"

// Health handles GET /health
func Health(c *fiber.Ctx) error {
	ctx := GetContext(c)
	return c.JSON(fiber.Map{
		"status":  "ok",
		"indexes": len(ctx.Store.ListIndexes(0, 0)),
	})
}
