// Package http exposes the merchant-facing REST API.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "usdtgate/internal/shared/errors"
)

// APIResponse is the envelope every endpoint returns. Code follows the
// numeric scheme merchants branch on; zero means success.
type APIResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// SuccessResponse sends data with a zero code.
func SuccessResponse(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse{
		Code:    apperrors.CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// ErrorResponse sends a business error with its mapped HTTP status. Errors
// without a business code collapse to SYSTEM_ERROR so internals never leak.
func ErrorResponse(c *gin.Context, err error) {
	bizErr := apperrors.AsBizError(err)
	if bizErr == nil {
		bizErr = apperrors.NewBizError(apperrors.CodeSystemError, "internal server error")
	}
	c.JSON(apperrors.HTTPStatus(bizErr.Code), APIResponse{
		Code:    bizErr.Code,
		Message: bizErr.Message,
	})
}
