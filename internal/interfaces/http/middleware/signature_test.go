package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usdtgate/internal/shared/logger"
	"usdtgate/internal/shared/sign"
)

const testToken = "secret-token"

func newSignedRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	verifier := NewSignatureVerifier(testToken, logger.NewLogger())
	engine.POST("/signed", verifier.Handler(), func(c *gin.Context) {
		var body map[string]any
		require.NoError(t, c.ShouldBindJSON(&body))
		c.JSON(http.StatusOK, gin.H{"code": 0})
	})
	return engine
}

func postJSON(engine *gin.Engine, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/signed", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func signedBody(t *testing.T, fields map[string]string) []byte {
	t.Helper()
	payload := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		payload[k] = v
	}
	payload["signature"] = sign.Generate(fields, testToken)
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return body
}

func TestSignatureVerifier(t *testing.T) {
	t.Run("valid signature passes", func(t *testing.T) {
		engine := newSignedRouter(t)
		w := postJSON(engine, signedBody(t, map[string]string{
			"trade_no": "abc",
			"amount":   "100.50",
		}))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("numeric fields sign by lexical form", func(t *testing.T) {
		engine := newSignedRouter(t)
		// Amount sent as a JSON number, signed as its literal text.
		fields := map[string]string{"amount": "100.50", "timeout": "600"}
		payload := map[string]any{
			"amount":    json.RawMessage("100.50"),
			"timeout":   json.RawMessage("600"),
			"signature": sign.Generate(fields, testToken),
		}
		body, err := json.Marshal(payload)
		require.NoError(t, err)

		w := postJSON(engine, body)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing signature", func(t *testing.T) {
		engine := newSignedRouter(t)
		w := postJSON(engine, []byte(`{"trade_no":"abc"}`))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "1101")
	})

	t.Run("wrong signature", func(t *testing.T) {
		engine := newSignedRouter(t)
		w := postJSON(engine, []byte(`{"trade_no":"abc","signature":"deadbeef"}`))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "1102")
	})

	t.Run("empty body", func(t *testing.T) {
		engine := newSignedRouter(t)
		w := postJSON(engine, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "1104")
	})

	t.Run("invalid json", func(t *testing.T) {
		engine := newSignedRouter(t)
		w := postJSON(engine, []byte(`not json`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("body restored for handler binding", func(t *testing.T) {
		engine := newSignedRouter(t)
		w := postJSON(engine, signedBody(t, map[string]string{"trade_no": "abc"}))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
