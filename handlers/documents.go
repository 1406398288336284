package handlers

import (
	"errors"

	"docgrid/formats"
	"docgrid/store"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"
)

// AddDocuments handles POST /indexes/:id/documents?format=jsoneachrow|msgpack.
// Indexes without a primary key get one detected from the first batch.
func AddDocuments(c *fiber.Ctx) error {
	ctx := GetContext(c)
	indexID := utils.CopyString(c.Params("id"))

	_, config, err := ctx.Store.GetIndex(indexID)
	if err != nil {
		return StoreError(c, ErrorCodeIndexOperationFailed, err)
	}

	parser, err := formats.GetParser(c.Query("format", formats.JSONEachRow))
	if err != nil {
		return BadRequest(c, ErrorCodeInvalidFormat, "unsupported format")
	}

	documents, err := parser.Parse(c.Body())
	if err != nil {
		return BadRequestWithDetails(c, ErrorCodeParseError, "failed to parse documents", err.Error())
	}

	if config.PrimaryKey == "" && len(documents) > 0 {
		primaryKey, err := store.DetectPrimaryKey(documents)
		if err != nil {
			return BadRequestWithDetails(c, ErrorCodeMissingParameter, "index has no primary key", err.Error())
		}
		updated := *config
		updated.PrimaryKey = primaryKey
		if err := ctx.Store.UpdateIndex(indexID, &updated); err != nil {
			return StoreError(c, ErrorCodeIndexOperationFailed, err)
		}
		ctx.logger().Info("primary key detected",
			zap.String("index", indexID),
			zap.String("primary_key", primaryKey),
		)
	}

	indexed, err := ctx.Store.AddDocuments(indexID, documents, true)
	if err != nil {
		return StoreError(c, ErrorCodeDocumentOperationFailed, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"indexed": indexed,
	})
}

// DeleteDocuments handles DELETE /indexes/:id/documents?ids[]=...|filter=...
func DeleteDocuments(c *fiber.Ctx) error {
	var params struct {
		Filter string   `query:"filter"`
		IDs    []string `query:"ids[]"`
	}
	if err := c.QueryParser(&params); err != nil {
		return BadRequestWithDetails(c, ErrorCodeInvalidParameter, "invalid query parameters", err.Error())
	}

	deleted, err := GetContext(c).Store.DeleteDocuments(c.Params("id"), params.Filter, params.IDs)
	if err != nil {
		if errors.Is(err, store.ErrNothingToDelete) {
			return BadRequest(c, ErrorCodeMissingParameter, err.Error())
		}
		return StoreError(c, ErrorCodeDocumentOperationFailed, err)
	}

	return c.JSON(fiber.Map{
		"deleted": deleted,
	})
}

// DeleteDocument handles DELETE /indexes/:id/documents/:documentid
func DeleteDocument(c *fiber.Ctx) error {
	if err := GetContext(c).Store.DeleteDocument(c.Params("id"), c.Params("documentid")); err != nil {
		return StoreError(c, ErrorCodeDocumentOperationFailed, err)
	}

	return c.Status(fiber.StatusNoContent).Send(nil)
}

// UpdateDocument handles PATCH /indexes/:id/documents/:documentid
func UpdateDocument(c *fiber.Ctx) error {
	var updates map[string]any
	if err := c.BodyParser(&updates); err != nil {
		return BadRequestWithDetails(c, ErrorCodeInvalidRequestBody, "invalid request body", err.Error())
	}

	merged, err := GetContext(c).Store.UpdateDocument(c.Params("id"), c.Params("documentid"), updates)
	if err != nil {
		return StoreError(c, ErrorCodeDocumentOperationFailed, err)
	}

	return c.JSON(merged)
}
