package handlers

import (
	"bytes"

	"docgrid/fetcher"
	"docgrid/formats"
	"docgrid/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"
)

// FetchTable handles POST /indexes/:id/tables, a bulk fetch of up to hitsSize
// documents across as many engine pages as needed. With ?format= the rows are
// streamed as records instead of the JSON table.
func FetchTable(c *fiber.Ctx) error {
	ctx := GetContext(c)
	indexID := utils.CopyString(c.Params("id"))

	var req models.TableRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return BadRequestWithDetails(c, ErrorCodeInvalidRequestBody, "invalid request body", err.Error())
		}
	}

	var encoder formats.RecordEncoder
	if format := c.Query("format"); format != "" {
		var err error
		if encoder, err = formats.GetEncoder(format); err != nil {
			return BadRequest(c, ErrorCodeInvalidFormat, "unsupported format")
		}
	}

	fetchCtx, cancel := ctx.requestContext(c)
	defer cancel()

	env, err := ctx.Fetcher.Fetch(fetchCtx, req.Spec(indexID))
	if err != nil {
		ctx.logger().Warn("table fetch failed", zap.String("index", indexID), zap.Error(err))
		return ExecutionError(c, ErrorCodeFetchFailed, err)
	}

	if encoder != nil {
		return sendRecords(c, encoder, env)
	}
	return c.JSON(models.NewTableResponse(env))
}

func sendRecords(c *fiber.Ctx, encoder formats.RecordEncoder, env *fetcher.Envelope) error {
	var buf bytes.Buffer
	if err := encoder.Encode(&buf, env.Records()); err != nil {
		return InternalErrorWithDetails(c, ErrorCodeSerializationFailed, "failed to encode rows", err.Error())
	}
	c.Set(fiber.HeaderContentType, encoder.ContentType())
	return c.Send(buf.Bytes())
}
