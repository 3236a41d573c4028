// Package middleware holds the gin middleware for the merchant API.
package middleware

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"

	apperrors "usdtgate/internal/shared/errors"
	"usdtgate/internal/shared/logger"
	"usdtgate/internal/shared/sign"
)

const maxBodySize = 64 << 10

// SignatureVerifier authenticates merchant requests. The JSON body's fields
// minus "signature" are signed with the shared token; the body is restored
// for the handler's own binding.
type SignatureVerifier struct {
	token string
	log   logger.Interface
}

func NewSignatureVerifier(token string, log logger.Interface) *SignatureVerifier {
	return &SignatureVerifier{token: token, log: log.Named("signature")}
}

// Handler is the gin middleware entry point.
func (v *SignatureVerifier) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize))
		if err != nil || len(body) == 0 {
			abort(c, apperrors.CodeRequestBodyEmpty, "request body is required")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		params, err := flattenJSONBody(body)
		if err != nil {
			abort(c, apperrors.CodeParamError, "request body is not valid JSON")
			return
		}

		signature := params["signature"]
		if signature == "" {
			abort(c, apperrors.CodeSignatureMissing, "signature is required")
			return
		}
		delete(params, "signature")

		if !sign.Verify(params, v.token, signature) {
			v.log.Warnw("signature mismatch", "path", c.FullPath())
			abort(c, apperrors.CodeSignatureInvalid, "signature verification failed")
			return
		}
		c.Next()
	}
}

// flattenJSONBody renders top-level scalar fields as strings the way the
// signing scheme expects. json.Number preserves the lexical form so "1.50"
// signs as the merchant sent it.
func flattenJSONBody(body []byte) (map[string]string, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return nil, err
	}

	params := make(map[string]string, len(raw))
	for k, val := range raw {
		switch v := val.(type) {
		case string:
			params[k] = v
		case json.Number:
			params[k] = v.String()
		case bool:
			if v {
				params[k] = "true"
			} else {
				params[k] = "false"
			}
		}
	}
	return params, nil
}

func abort(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(apperrors.HTTPStatus(code), gin.H{
		"code":    code,
		"message": message,
	})
}
