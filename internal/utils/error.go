package utils

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"phototree/internal/library"
)

// ErrorResponse represents a standardized error response format
type ErrorResponse struct {
	Error   string      `json:"error"`
	Details string      `json:"details,omitempty"`
	Code    int         `json:"code,omitempty"`
	Status  string      `json:"status,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// SendErrorResponse sends a standardized error response
func SendErrorResponse(c *fiber.Ctx, httpCode int, message string, details string) error {
	return c.Status(httpCode).JSON(ErrorResponse{
		Error:   message,
		Details: details,
		Code:    httpCode,
	})
}

// SendError sends a structured error response based on HTTP status code and error details
func SendError(c *fiber.Ctx, httpCode int, message string) error {
	return c.Status(httpCode).JSON(ErrorResponse{
		Error:  message,
		Status: http.StatusText(httpCode),
		Code:   httpCode,
	})
}

// SendValidationError sends a validation error response
func SendValidationError(c *fiber.Ctx, field string, message string) error {
	return c.Status(http.StatusBadRequest).JSON(ErrorResponse{
		Error:   "Validation failed",
		Details: field + ": " + message,
		Code:    http.StatusBadRequest,
	})
}

// SendNotFoundError sends a not found error response
func SendNotFoundError(c *fiber.Ctx, resource string) error {
	return c.Status(http.StatusNotFound).JSON(ErrorResponse{
		Error:   "Resource not found",
		Details: resource + " does not exist",
		Code:    http.StatusNotFound,
	})
}

// SendInternalServerError sends an internal server error response
func SendInternalServerError(c *fiber.Ctx, message string) error {
	return c.Status(http.StatusInternalServerError).JSON(ErrorResponse{
		Error:   "Internal server error",
		Details: message,
		Code:    http.StatusInternalServerError,
	})
}

// StatusFor maps a library error to the HTTP status a client should see
func StatusFor(err error) int {
	switch library.KindOf(err) {
	case library.KindConflict:
		return http.StatusConflict
	case library.KindNotFound:
		return http.StatusNotFound
	case library.KindBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// SendLibraryError translates an engine error into a response. Internal
// errors do not leak their message.
func SendLibraryError(c *fiber.Ctx, err error) error {
	code := StatusFor(err)
	if code == http.StatusInternalServerError {
		return SendInternalServerError(c, "library operation failed")
	}
	return c.Status(code).JSON(ErrorResponse{
		Error:   http.StatusText(code),
		Details: err.Error(),
		Code:    code,
	})
}
