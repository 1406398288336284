package handlers

import (
	"docgrid/ingresses/postgres"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"
)

// LoadTable handles POST /indexes/:id/loads. The body is a postgres.Config;
// the table is copied into the index before the response is sent.
func LoadTable(c *fiber.Ctx) error {
	ctx := GetContext(c)
	indexID := utils.CopyString(c.Params("id"))

	if _, _, err := ctx.Store.GetIndex(indexID); err != nil {
		return StoreError(c, ErrorCodeIndexOperationFailed, err)
	}

	var cfg postgres.Config
	if err := c.BodyParser(&cfg); err != nil {
		return BadRequestWithDetails(c, ErrorCodeInvalidRequestBody, "invalid request body", err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return StoreError(c, ErrorCodeInvalidRequestBody, err)
	}

	loadCtx, cancel := ctx.requestContext(c)
	defer cancel()

	pool, err := postgres.Connect(loadCtx, &cfg, 1, ctx.logger())
	if err != nil {
		return BadGateway(c, ErrorCodeIndexOperationFailed, "failed to connect to postgres", err.Error())
	}
	defer pool.Close()

	loader, err := postgres.NewLoader(pool, &cfg, ctx.logger())
	if err != nil {
		return StoreError(c, ErrorCodeInvalidRequestBody, err)
	}

	stats, err := loader.Load(loadCtx, indexID, ctx.Store)
	if err != nil {
		ctx.logger().Error("load failed", zap.String("index", indexID), zap.Error(err))
		return InternalErrorWithDetails(c, ErrorCodeDocumentOperationFailed, "load failed", err.Error())
	}

	return c.JSON(stats)
}
