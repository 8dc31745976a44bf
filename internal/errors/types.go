package errors

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 验证错误
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidScope     ErrorCode = "INVALID_SCOPE"
	ErrCodeMissingOwner     ErrorCode = "MISSING_OWNER"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"

	// 业务逻辑错误
	ErrCodeResourceNotFound ErrorCode = "RESOURCE_NOT_FOUND"

	// 外部服务错误
	ErrCodeRetrievalUnavailable ErrorCode = "RETRIEVAL_UNAVAILABLE"
	ErrCodeExternalService      ErrorCode = "EXTERNAL_SERVICE_ERROR"

	// 协议与连接错误
	ErrCodeProtocol           ErrorCode = "PROTOCOL_ERROR"
	ErrCodeUpstreamDisconnect ErrorCode = "UPSTREAM_DISCONNECT"
	ErrCodeClientDisconnect   ErrorCode = "CLIENT_DISCONNECT"

	// 通用错误
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeSystem ErrorType = iota
	ErrorTypeBusiness
	ErrorTypeValidation
	ErrorTypeExternal
	ErrorTypeProtocol
)

// AppError 应用错误结构体
type AppError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Type    ErrorType   `json:"-"`
	Details interface{} `json:"details,omitempty"`
	Cause   error       `json:"-"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加错误详情
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause 添加错误原因
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// NewValidationError 创建验证错误
func NewValidationError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Type:    ErrorTypeValidation,
	}
}

// NewInvalidScopeError 创建非法scope错误
func NewInvalidScopeError(scope string) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidScope,
		Message: fmt.Sprintf("invalid scope: %q, must be 'core' or 'user'", scope),
		Type:    ErrorTypeValidation,
	}
}

// NewMissingOwnerError 创建缺少owner错误
func NewMissingOwnerError() *AppError {
	return &AppError{
		Code:    ErrCodeMissingOwner,
		Message: "owner is required for user scope",
		Type:    ErrorTypeValidation,
	}
}

// NewNotFoundError 创建资源未找到错误
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeResourceNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Type:    ErrorTypeBusiness,
	}
}

// NewRetrievalUnavailableError 创建检索不可用错误
func NewRetrievalUnavailableError(cause error) *AppError {
	return &AppError{
		Code:    ErrCodeRetrievalUnavailable,
		Message: "retrieval backend unavailable",
		Type:    ErrorTypeExternal,
		Cause:   cause,
	}
}

// NewExternalServiceError 创建外部服务调用失败错误
func NewExternalServiceError(message string, cause error) *AppError {
	return &AppError{
		Code:    ErrCodeExternalService,
		Message: message,
		Type:    ErrorTypeExternal,
		Cause:   cause,
	}
}

// NewProtocolError 创建协议错误
func NewProtocolError(message string, cause error) *AppError {
	return &AppError{
		Code:    ErrCodeProtocol,
		Message: message,
		Type:    ErrorTypeProtocol,
		Cause:   cause,
	}
}

// NewUpstreamDisconnectError 创建上游连接断开错误
func NewUpstreamDisconnectError(cause error) *AppError {
	return &AppError{
		Code:    ErrCodeUpstreamDisconnect,
		Message: "upstream connection closed",
		Type:    ErrorTypeProtocol,
		Cause:   cause,
	}
}

// NewClientDisconnectError 创建客户端连接断开错误
func NewClientDisconnectError(cause error) *AppError {
	return &AppError{
		Code:    ErrCodeClientDisconnect,
		Message: "client connection closed",
		Type:    ErrorTypeProtocol,
		Cause:   cause,
	}
}

// NewSystemError 创建系统错误
func NewSystemError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Type:    ErrorTypeSystem,
	}
}

// IsCode 检查错误是否携带指定错误码
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsValidation 检查是否为验证错误
func IsValidation(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == ErrorTypeValidation
	}
	return false
}

// IsNotFound 检查是否为资源未找到错误
func IsNotFound(err error) bool {
	return IsCode(err, ErrCodeResourceNotFound)
}

// IsRetrievalUnavailable 检查是否为检索不可用错误
func IsRetrievalUnavailable(err error) bool {
	return IsCode(err, ErrCodeRetrievalUnavailable)
}

// GetAppError 获取AppError，如果不是则包装为系统错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewSystemError("internal error").WithCause(err)
}
