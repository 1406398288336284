package handlers

import (
	"strings"

	"docgrid/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"
)

// ListIndexes handles GET /indexes
func ListIndexes(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)
	page := c.QueryInt("page", 0)

	if page > 0 {
		offset = (page - 1) * limit
	}

	items := GetContext(c).Store.ListIndexes(limit, offset)

	return c.JSON(fiber.Map{
		"items": items,
	})
}

// CreateIndex handles POST /indexes. The index settings come from the query
// string, or from a JSON body for the list-valued ones.
func CreateIndex(c *fiber.Ctx) error {
	ctx := GetContext(c)

	var config models.IndexConfig
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&config); err != nil {
			return BadRequestWithDetails(c, ErrorCodeInvalidRequestBody, "invalid request body", err.Error())
		}
		ownStrings(&config)
	}

	// Copies avoid fiber buffer reuse
	if id := c.Query("id"); id != "" {
		config.ID = utils.CopyString(id)
	}
	if primaryKey := c.Query("primaryKey"); primaryKey != "" {
		config.PrimaryKey = utils.CopyString(primaryKey)
	}
	if timeField := c.Query("timeField"); timeField != "" {
		config.TimeField = utils.CopyString(timeField)
	}
	if keywords := c.Query("keywordFields"); keywords != "" {
		config.KeywordFields = splitList(utils.CopyString(keywords))
	}

	if config.ID == "" {
		return BadRequest(c, ErrorCodeMissingParameter, "id parameter is required")
	}

	if err := ctx.Store.CreateIndex(&config); err != nil {
		return StoreError(c, ErrorCodeIndexOperationFailed, err)
	}

	ctx.logger().Debug("index created via api", zap.String("index", config.ID))
	return c.Status(fiber.StatusCreated).JSON(config)
}

// DeleteIndex handles DELETE /indexes/:id
func DeleteIndex(c *fiber.Ctx) error {
	id := c.Params("id")

	if err := GetContext(c).Store.DeleteIndex(id); err != nil {
		return StoreError(c, ErrorCodeIndexOperationFailed, err)
	}

	return c.Status(fiber.StatusNoContent).Send(nil)
}

// UpdateIndex handles PATCH /indexes/:id
func UpdateIndex(c *fiber.Ctx) error {
	id := utils.CopyString(c.Params("id"))

	var config models.IndexConfig
	if err := c.BodyParser(&config); err != nil {
		return BadRequestWithDetails(c, ErrorCodeInvalidRequestBody, "invalid request body", err.Error())
	}
	ownStrings(&config)

	if err := GetContext(c).Store.UpdateIndex(id, &config); err != nil {
		return StoreError(c, ErrorCodeIndexOperationFailed, err)
	}

	return c.JSON(config)
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ownStrings detaches a decoded config from the request buffer, which fiber
// reuses once the handler returns
func ownStrings(config *models.IndexConfig) {
	config.ID = utils.CopyString(config.ID)
	config.PrimaryKey = utils.CopyString(config.PrimaryKey)
	config.TimeField = utils.CopyString(config.TimeField)
	for i := range config.KeywordFields {
		config.KeywordFields[i] = utils.CopyString(config.KeywordFields[i])
	}
	for i := range config.ExcludeAttributes {
		config.ExcludeAttributes[i] = utils.CopyString(config.ExcludeAttributes[i])
	}
}
