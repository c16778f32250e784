package response

import (
	"errors"
	"net/http"
	"time"

	"giftcard-ledger/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// requestIDKey matches middleware.CtxRequestID; pkg/ cannot import internal/.
const requestIDKey = "request_id"

// SuccessResponse is the standard success envelope.
type SuccessResponse struct {
	Data      any    `json:"data"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// ErrorResponse is the standard error envelope. Retryable is set for
// transient gateway failures the client may retry with the same key.
type ErrorResponse struct {
	ErrorCode string            `json:"error_code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
	RequestID string            `json:"request_id"`
	Timestamp string            `json:"timestamp"`
}

// ListPage wraps a page of items.
type ListPage struct {
	Items      any   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

func OK(c *gin.Context, data any)       { success(c, http.StatusOK, data) }
func Created(c *gin.Context, data any)  { success(c, http.StatusCreated, data) }
func Accepted(c *gin.Context, data any) { success(c, http.StatusAccepted, data) }

// List sends a 200 response with a paginated payload.
func List(c *gin.Context, items any, total int64, page, pageSize int) {
	totalPages := 0
	if pageSize > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	OK(c, ListPage{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	})
}

// Error writes err as an error envelope. Anything that is not an
// *apperror.AppError is reported as SYS_001 without its message.
func Error(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		appErr = apperror.InternalError(err)
	}
	if appErr.Code == apperror.CodeRateLimited {
		c.Header("Retry-After", "60")
	}
	c.JSON(appErr.HTTPStatus, ErrorResponse{
		ErrorCode: appErr.Code,
		Message:   appErr.Message,
		Details:   appErr.Details,
		Retryable: apperror.IsRetryable(appErr),
		RequestID: requestID(c),
		Timestamp: now(),
	})
}

func success(c *gin.Context, status int, data any) {
	c.JSON(status, SuccessResponse{
		Data:      data,
		RequestID: requestID(c),
		Timestamp: now(),
	})
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

// requestID returns the id set by the RequestID middleware, or a fresh one.
func requestID(c *gin.Context) string {
	if s := c.GetString(requestIDKey); s != "" {
		return s
	}
	return uuid.New().String()
}
