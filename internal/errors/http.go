package errors

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// standard error codes
const (
	CodeValidationError  = "validation_error"
	CodeNotFound         = "not_found"
	CodeStoreUnavailable = "store_unavailable"
	CodeBadRequest       = "bad_request"
	CodeTooLarge         = "payload_too_large"
	CodeUnauthorized     = "unauthorized"
	CodeServerError      = "server_error"
)

const exposeDetailsKey = "errors.expose_details"

// ExposeDetails returns middleware that controls whether responders put
// the underlying error text in the details field. Without it, details are
// never sent.
func ExposeDetails(expose bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(exposeDetailsKey, expose)
		c.Next()
	}
}

// Respond writes the response matching err's kind. It returns the HTTP
// status so callers can decide whether to log.
func Respond(c *gin.Context, err error) int {
	switch {
	case IsValidation(err):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   CodeValidationError,
			Message: err.Error(),
		})
		return http.StatusBadRequest
	case IsNotFound(err):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   CodeNotFound,
			Message: err.Error(),
		})
		return http.StatusNotFound
	case IsStoreUnavailable(err):
		Unavailable(c, err)
		return http.StatusServiceUnavailable
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   CodeServerError,
			Message: "an error occurred",
			Details: sanitize(c, err),
		})
		return http.StatusInternalServerError
	}
}

// BadRequest answers a malformed payload. A body cut off by
// http.MaxBytesReader gets 413 instead.
func BadRequest(c *gin.Context, message string, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:   CodeTooLarge,
			Message: "request body too large",
		})
		return
	}
	if message == "" {
		message = "invalid request"
	}
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   CodeBadRequest,
		Message: message,
		Details: sanitize(c, err),
	})
}

// Unavailable answers a persistence failure. Retry-After keeps browsers and
// telephony providers from retrying immediately.
func Unavailable(c *gin.Context, err error) {
	c.Header("Retry-After", "5")
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Error:   CodeStoreUnavailable,
		Message: "storage temporarily unavailable",
		Details: sanitize(c, err),
	})
}

// Unauthorized answers a missing or wrong admin token.
func Unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
		Error:   CodeUnauthorized,
		Message: "authentication required",
	})
}

func sanitize(c *gin.Context, err error) string {
	if err == nil || !c.GetBool(exposeDetailsKey) {
		return ""
	}
	return err.Error()
}
