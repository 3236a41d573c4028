// Package errors provides the gateway's business error type. Every
// user-visible failure carries a stable numeric code so merchants can branch
// on it without parsing messages.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Business error codes. The numbering is part of the public API contract.
const (
	CodeSuccess = 0

	// Parameter errors (1001-1099)
	CodeParamError = 1001

	// Signature errors (1101-1199)
	CodeSignatureMissing = 1101
	CodeSignatureInvalid = 1102
	CodeRequestBodyEmpty = 1104

	// Order errors (2001-2099)
	CodeOrderNotFound     = 2001
	CodeOrderCannotCancel = 2004

	// Amount pool errors (2101-2199)
	CodeAmountPoolAllocateFailed = 2102

	// Chain configuration errors (2201-2299)
	CodeChainNotEnabled           = 2201
	CodeChainAddressNotConfigured = 2202
	CodeChainTypeInvalid          = 2203

	// Amount calculation errors (2301-2399)
	CodeAmountTooSmall       = 2301
	CodeAmountPrecisionError = 2302

	// Rate service errors (3001-3099)
	CodeRateCacheMissing = 3002
	CodeRateFetchFailed  = 3003

	// System errors (9001-9999)
	CodeSystemError = 9001
)

// BizError is a business failure with a stable code.
type BizError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *BizError) Error() string {
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// NewBizError creates a business error with the given code and message.
func NewBizError(code int, message string) *BizError {
	return &BizError{Code: code, Message: message}
}

// NewBizErrorf creates a business error with a formatted message.
func NewBizErrorf(code int, format string, args ...any) *BizError {
	return &BizError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsBizError extracts a BizError from err's chain, or nil.
func AsBizError(err error) *BizError {
	var be *BizError
	if errors.As(err, &be) {
		return be
	}
	return nil
}

// HTTPStatus maps a business error code to an HTTP status.
func HTTPStatus(code int) int {
	switch {
	case code == CodeSuccess:
		return http.StatusOK
	case code == CodeOrderNotFound:
		return http.StatusNotFound
	case code >= 1101 && code <= 1199:
		return http.StatusUnauthorized
	case code >= 9001:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
