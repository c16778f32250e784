package handler

import (
	"strconv"

	"giftcard-ledger/internal/adapter/http/dto"
	"giftcard-ledger/internal/adapter/http/middleware"
	"giftcard-ledger/pkg/apperror"
	"giftcard-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// requireMerchant writes AUTH_003 and returns false when the route ran without JWTAuth.
func requireMerchant(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.MerchantID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
	}
	return id, ok
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Error(c, apperror.Validation(name+" must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(defaultPageSize)))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}
	return page, pageSize
}

// bindError reports binding failures as VAL_001 with per-field details.
// Decoder errors are not echoed back.
func bindError(err error) error {
	if fields := dto.FieldErrors(err); len(fields) > 0 {
		return apperror.Validation("Request validation failed").WithDetails(fields)
	}
	return apperror.Validation("Malformed request body")
}
