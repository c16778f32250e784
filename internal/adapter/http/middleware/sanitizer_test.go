package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"giftcard-ledger/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bodyEcho(limit int64) *gin.Engine {
	r := gin.New()
	r.Use(MaxBodySize(limit))
	r.POST("/test", func(c *gin.Context) {
		if c.Request.Body == nil {
			c.String(http.StatusOK, "no body")
			return
		}
		b, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too large")
			return
		}
		c.String(http.StatusOK, string(b))
	})
	return r
}

func TestMaxBodySize(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"under limit", "hello world", http.StatusOK},
		{"exact limit", strings.Repeat("A", 16), http.StatusOK},
		{"over limit", strings.Repeat("A", 100), http.StatusRequestEntityTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/test", bytes.NewReader([]byte(tc.body)))
			bodyEcho(16).ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestMaxBodySize_NilBody(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	req.Body = nil
	bodyEcho(16).ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIdempotencyKey(t *testing.T) {
	tests := []struct {
		header string
		want   string
		valid  bool
	}{
		{"", "", true},
		{"  order-42:redeem  ", "order-42:redeem", true},
		{"a b", "", false},
		{strings.Repeat("k", 256), "", false},
	}
	for _, tc := range tests {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
		c.Request.Header.Set(HeaderIdempotencyKey, tc.header)

		got, err := IdempotencyKey(c)
		if tc.valid {
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		} else {
			assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
		}
	}
}
