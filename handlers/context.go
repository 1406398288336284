package handlers

import (
	"context"

	"docgrid/config"
	"docgrid/fetcher"
	"docgrid/store"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// HandlerContext holds dependencies needed by handlers
type HandlerContext struct {
	Store *store.IndexStore
	// Executor runs single requests against the local indexes
	Executor fetcher.Executor
	Fetcher  *fetcher.Fetcher
	Config   *config.Config
	Logger   *zap.Logger
}

const contextKey = "handler_context"

// SetContext stores the HandlerContext in the Fiber context
func SetContext(c *fiber.Ctx, ctx *HandlerContext) {
	c.Locals(contextKey, ctx)
}

// GetContext retrieves the HandlerContext from the Fiber context
func GetContext(c *fiber.Ctx) *HandlerContext {
	return c.Locals(contextKey).(*HandlerContext)
}

// requestContext derives the context of a fetch from the request, bounded by
// FETCH_TIMEOUT when one is configured
func (h *HandlerContext) requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	ctx := c.UserContext()
	if h.Config != nil && h.Config.FetchTimeout > 0 {
		return context.WithTimeout(ctx, h.Config.FetchTimeout)
	}
	return context.WithCancel(ctx)
}

func (h *HandlerContext) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}
