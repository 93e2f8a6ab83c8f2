// Package response writes the JSON envelopes every endpoint returns.
package response

import (
	"errors"
	"net/http"
	"time"

	"marketplace-settlement/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// requestIDKey matches the key the RequestID middleware stores under.
const requestIDKey = "request_id"

// SuccessResponse wraps a payload.
type SuccessResponse struct {
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id"`
	Timestamp string      `json:"timestamp"`
}

// ErrorResponse carries a stable error code. Details names the constraint
// that failed (current vs requested values) when there is one.
type ErrorResponse struct {
	ErrorCode string         `json:"error_code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
	Timestamp string         `json:"timestamp"`
}

var errInternal = apperror.New("SYS_000", "Internal server error", http.StatusInternalServerError)

func OK(c *gin.Context, data interface{})       { success(c, http.StatusOK, data) }
func Created(c *gin.Context, data interface{})  { success(c, http.StatusCreated, data) }
func Accepted(c *gin.Context, data interface{}) { success(c, http.StatusAccepted, data) }

// Error renders err. Anything that is not an *apperror.AppError is hidden
// behind SYS_000 and attached to the context for the request logger.
func Error(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		_ = c.Error(err)
		appErr = errInternal
	}
	c.JSON(appErr.HTTPStatus, ErrorResponse{
		ErrorCode: appErr.Code,
		Message:   appErr.Message,
		Details:   appErr.Details,
		RequestID: requestID(c),
		Timestamp: now(),
	})
}

func success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, SuccessResponse{Data: data, RequestID: requestID(c), Timestamp: now()})
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

// requestID falls back to a fresh UUID outside the middleware chain.
func requestID(c *gin.Context) string {
	if id := c.GetString(requestIDKey); id != "" {
		return id
	}
	return uuid.NewString()
}
