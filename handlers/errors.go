package handlers

import (
	"context"
	"errors"

	"docgrid/engine"
	"docgrid/ingresses/postgres"
	"docgrid/remote"
	"docgrid/scripts"
	"docgrid/store"

	"github.com/gofiber/fiber/v2"
)

// ErrorCode represents a typed error code for client libraries
type ErrorCode string

const (
	// Validation errors (400)
	ErrorCodeMissingParameter       ErrorCode = "MISSING_PARAMETER"
	ErrorCodeInvalidParameter       ErrorCode = "INVALID_PARAMETER"
	ErrorCodeInvalidRequestBody     ErrorCode = "INVALID_REQUEST_BODY"
	ErrorCodeConflictingParameters  ErrorCode = "CONFLICTING_PARAMETERS"
	ErrorCodeInvalidFormat          ErrorCode = "INVALID_FORMAT"
	ErrorCodeParseError             ErrorCode = "PARSE_ERROR"
	ErrorCodeInvalidScript          ErrorCode = "INVALID_SCRIPT"
	ErrorCodeUnsupportedAggregation ErrorCode = "UNSUPPORTED_AGGREGATION"

	// Authorization errors (401)
	ErrorCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// Not found errors (404)
	ErrorCodeIndexNotFound    ErrorCode = "INDEX_NOT_FOUND"
	ErrorCodeDocumentNotFound ErrorCode = "DOCUMENT_NOT_FOUND"

	// Resource conflict errors (409)
	ErrorCodeResourceAlreadyExists ErrorCode = "RESOURCE_ALREADY_EXISTS"

	// Internal errors (500)
	ErrorCodeSerializationFailed     ErrorCode = "SERIALIZATION_FAILED"
	ErrorCodeIndexOperationFailed    ErrorCode = "INDEX_OPERATION_FAILED"
	ErrorCodeDocumentOperationFailed ErrorCode = "DOCUMENT_OPERATION_FAILED"
	ErrorCodeSearchFailed            ErrorCode = "SEARCH_FAILED"
	ErrorCodeInternalError           ErrorCode = "INTERNAL_ERROR"

	// Executor errors (502/504)
	ErrorCodeFetchFailed     ErrorCode = "FETCH_FAILED"
	ErrorCodeExecutionFailed ErrorCode = "EXECUTION_FAILED"
	ErrorCodeFetchTimeout    ErrorCode = "FETCH_TIMEOUT"
)

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func respond(c *fiber.Ctx, status int, code ErrorCode, message, details string) error {
	return c.Status(status).JSON(ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}

func BadRequest(c *fiber.Ctx, code ErrorCode, message string) error {
	return respond(c, fiber.StatusBadRequest, code, message, "")
}

func BadRequestWithDetails(c *fiber.Ctx, code ErrorCode, message, details string) error {
	return respond(c, fiber.StatusBadRequest, code, message, details)
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return respond(c, fiber.StatusUnauthorized, ErrorCodeUnauthorized, message, "")
}

func NotFound(c *fiber.Ctx, code ErrorCode, message string) error {
	return respond(c, fiber.StatusNotFound, code, message, "")
}

func Conflict(c *fiber.Ctx, code ErrorCode, message string) error {
	return respond(c, fiber.StatusConflict, code, message, "")
}

func InternalError(c *fiber.Ctx, code ErrorCode, message string) error {
	return respond(c, fiber.StatusInternalServerError, code, message, "")
}

func InternalErrorWithDetails(c *fiber.Ctx, code ErrorCode, message, details string) error {
	return respond(c, fiber.StatusInternalServerError, code, message, details)
}

func BadGateway(c *fiber.Ctx, code ErrorCode, message, details string) error {
	return respond(c, fiber.StatusBadGateway, code, message, details)
}

// StoreError maps store sentinel errors to responses, falling back to a 500
// with the given code
func StoreError(c *fiber.Ctx, code ErrorCode, err error) error {
	switch {
	case errors.Is(err, store.ErrIndexNotFound):
		return NotFound(c, ErrorCodeIndexNotFound, err.Error())
	case errors.Is(err, store.ErrDocumentNotFound):
		return NotFound(c, ErrorCodeDocumentNotFound, err.Error())
	case errors.Is(err, store.ErrIndexExists):
		return Conflict(c, ErrorCodeResourceAlreadyExists, err.Error())
	case errors.Is(err, store.ErrMissingPrimaryKey), errors.Is(err, store.ErrNothingToDelete):
		return BadRequest(c, ErrorCodeInvalidParameter, err.Error())
	case errors.Is(err, postgres.ErrInvalidConfig):
		return BadRequest(c, ErrorCodeInvalidRequestBody, err.Error())
	default:
		return InternalError(c, code, err.Error())
	}
}

// ExecutionError maps a failed fetch or execution to a response. Caller
// mistakes are 400s; anything the executor could not do is a 502 carrying code.
func ExecutionError(c *fiber.Ctx, code ErrorCode, err error) error {
	var statusErr *remote.StatusError
	switch {
	case errors.Is(err, store.ErrIndexNotFound):
		return NotFound(c, ErrorCodeIndexNotFound, err.Error())
	case errors.Is(err, scripts.ErrCompile), errors.Is(err, engine.ErrScriptField):
		return BadRequestWithDetails(c, ErrorCodeInvalidScript, "invalid script field", err.Error())
	case errors.Is(err, engine.ErrUnsupportedAggregation):
		return BadRequest(c, ErrorCodeUnsupportedAggregation, err.Error())
	case errors.Is(err, engine.ErrNoTimeField), errors.Is(err, engine.ErrScoreCursor):
		return BadRequest(c, ErrorCodeInvalidParameter, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return respond(c, fiber.StatusGatewayTimeout, ErrorCodeFetchTimeout, "fetch timed out", err.Error())
	case errors.As(err, &statusErr) && statusErr.StatusCode >= 400 && statusErr.StatusCode < 500:
		forwarded := ErrorCode(statusErr.Code)
		if forwarded == "" {
			forwarded = code
		}
		return respond(c, statusErr.StatusCode, forwarded, statusErr.Message, "")
	default:
		return BadGateway(c, code, "executor failed", err.Error())
	}
}
