package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"giftcard-ledger/pkg/apperror"

	"github.com/gin-gonic/gin"
)

var idempotencyKeyRe = regexp.MustCompile(`^[a-zA-Z0-9_\-\.:]{1,255}$`)

// MaxBodySize returns middleware that limits the request body size.
// Reads past the limit fail and the handler answers 413 or 400.
func MaxBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// IdempotencyKey returns the trimmed Idempotency-Key header. The header is
// optional; when present it must be 1-255 URL-safe characters.
func IdempotencyKey(c *gin.Context) (string, error) {
	key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
	if key == "" {
		return "", nil
	}
	if !idempotencyKeyRe.MatchString(key) {
		return "", apperror.Validation("Idempotency-Key must be 1-255 characters of [A-Za-z0-9_-.:]")
	}
	return key, nil
}
