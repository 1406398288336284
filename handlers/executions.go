package handlers

import (
	"docgrid/fetcher"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

// Execute handles POST /indexes/:id/executions. It runs exactly one request
// against the local engine; remote fetchers call it once per page.
func Execute(c *fiber.Ctx) error {
	ctx := GetContext(c)

	var req fetcher.Request
	if err := c.BodyParser(&req); err != nil {
		return BadRequestWithDetails(c, ErrorCodeInvalidRequestBody, "invalid request body", err.Error())
	}
	req.Index = utils.CopyString(c.Params("id"))

	if req.SearchSource.Size < 0 || req.SearchSource.Size > fetcher.HardCap {
		return BadRequest(c, ErrorCodeInvalidParameter, "size must be between 0 and the page cap")
	}

	execCtx, cancel := ctx.requestContext(c)
	defer cancel()

	resp, err := ctx.Executor.Execute(execCtx, req)
	if err != nil {
		return ExecutionError(c, ErrorCodeExecutionFailed, err)
	}
	if resp == nil {
		resp = &fetcher.Response{}
	}
	if resp.Hits == nil {
		resp.Hits = []fetcher.Hit{}
	}

	return c.JSON(resp)
}
