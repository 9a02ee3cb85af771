package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Chaining(t *testing.T) {
	root := errors.New("connection refused")
	err := NewError(ErrUpstreamError, "provider call failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("flux")

	assert.Equal(t, ErrUpstreamError, err.Code)
	assert.Equal(t, 502, err.HTTPStatus)
	assert.True(t, err.Retryable)
	assert.Equal(t, "flux", err.Provider)
	assert.ErrorIs(t, err, root)
	assert.Contains(t, err.Error(), "UPSTREAM_ERROR")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewError(ErrProviderOverloaded, "busy").WithRetryable(true)))
	assert.False(t, IsRetryable(NewError(ErrInvalidRequest, "bad")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, ErrQuotaExceeded, GetErrorCode(NewError(ErrQuotaExceeded, "no credits")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestUserIDContext(t *testing.T) {
	ctx := WithUserID(t.Context(), 7)
	id, ok := UserID(ctx)
	assert.True(t, ok)
	assert.Equal(t, uint(7), id)

	_, ok = UserID(t.Context())
	assert.False(t, ok)
}
