package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details any    `json:"details"`
	} `json:"error"`
}

func serve(t *testing.T, handler gin.HandlerFunc) (int, envelope) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler(), RecoveryWithLogger())
	r.GET("/", handler)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	var body envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func TestErrorHandlerWritesEnvelope(t *testing.T) {
	code, body := serve(t, func(c *gin.Context) {
		c.Error(NewBadRequestError(CodeUnsupportedSource, "source not supported").WithDetails("assistant/openai"))
	})

	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, CodeUnsupportedSource, body.Error.Code)
	assert.Equal(t, "source not supported", body.Error.Message)
	assert.Equal(t, "assistant/openai", body.Error.Details)
}

func TestErrorHandlerHidesPlainErrors(t *testing.T) {
	code, body := serve(t, func(c *gin.Context) {
		c.Error(stderrors.New("connection reset"))
	})

	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, CodeInternal, body.Error.Code)
	assert.NotContains(t, body.Error.Message, "connection reset")
}

func TestRecoveryWithLogger(t *testing.T) {
	code, body := serve(t, func(c *gin.Context) {
		panic("boom")
	})

	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "SERVER_ERROR", body.Error.Code)
}

func TestFromErrorAndIs(t *testing.T) {
	assert.Nil(t, FromError(nil))

	appErr := NewBadGatewayError(CodeProviderError, "provider failed")
	wrapped := fmt.Errorf("chat: %w", appErr)
	assert.Same(t, appErr, FromError(wrapped))
	assert.True(t, Is(wrapped, NewBadGatewayError(CodeProviderError, "")))
	assert.False(t, Is(wrapped, NewBadRequestError(CodeBadRequest, "")))

	cause := stderrors.New("disk full")
	internal := FromError(cause)
	assert.Equal(t, http.StatusInternalServerError, internal.StatusCode)
	assert.ErrorIs(t, internal, cause)

	limited := NewTooManyRequestsError("slow down")
	assert.Equal(t, http.StatusTooManyRequests, limited.StatusCode)
	assert.Equal(t, "[RATE_LIMIT_EXCEEDED] slow down", limited.Error())
}
