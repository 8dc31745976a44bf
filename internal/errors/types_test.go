package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewRetrievalUnavailableError(cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, IsNotFound(NewNotFoundError("document d1")))
	assert.False(t, IsNotFound(NewMissingOwnerError()))

	assert.True(t, IsValidation(NewInvalidScopeError("team")))
	assert.True(t, IsValidation(NewMissingOwnerError()))
	assert.False(t, IsValidation(NewSystemError("boom")))

	assert.True(t, IsRetrievalUnavailable(NewRetrievalUnavailableError(errors.New("down"))))

	// 包装后的AppError仍可识别
	wrapped := fmt.Errorf("ingest failed: %w", NewNotFoundError("document d2"))
	assert.True(t, IsNotFound(wrapped))
	assert.True(t, IsCode(wrapped, ErrCodeResourceNotFound))
}

func TestDisconnectErrors(t *testing.T) {
	cause := errors.New("use of closed network connection")

	up := NewUpstreamDisconnectError(cause)
	assert.True(t, IsCode(up, ErrCodeUpstreamDisconnect))
	assert.ErrorIs(t, up, cause)

	cl := NewClientDisconnectError(cause)
	assert.True(t, IsCode(cl, ErrCodeClientDisconnect))
	assert.ErrorIs(t, cl, cause)

	// 两侧断开码互不混淆
	assert.False(t, IsCode(up, ErrCodeClientDisconnect))
}

func TestGetAppError(t *testing.T) {
	appErr := NewInvalidScopeError("global")
	wrapped := fmt.Errorf("context: %w", appErr)

	got := GetAppError(wrapped)
	assert.Equal(t, ErrCodeInvalidScope, got.Code)

	// 普通错误被包装为系统错误
	plain := errors.New("plain")
	got = GetAppError(plain)
	assert.Equal(t, ErrCodeInternal, got.Code)
	assert.ErrorIs(t, got, plain)
}

func TestWithDetails(t *testing.T) {
	err := NewValidationError(ErrCodeInvalidInput, "bad input").
		WithDetails(map[string]interface{}{"field": "filename"})

	details, ok := err.Details.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "filename", details["field"])
}
