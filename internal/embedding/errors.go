package embedding

import (
	"errors"
	"fmt"
)

// 错误码常量
const (
	ErrCodeInvalidRequest    = 1002 // 请求被服务拒绝
	ErrCodeNetworkError      = 1003 // 网络连接错误
	ErrCodeRateLimited       = 1004 // 请求频率超限
	ErrCodeServerError       = 1005 // 服务器错误
	ErrCodeTimeout           = 1006 // 请求超时
	ErrCodeEmptyInput        = 1007 // 输入为空
	ErrCodeMalformedResponse = 1008 // 响应无法解析
	ErrCodeDimensionMismatch = 1009 // 向量维度与配置不一致
)

// ErrEmptyText 输入文本为空
var ErrEmptyText = errors.New("input text cannot be empty")

// ServiceError 嵌入服务错误
// 服务不可达、拒绝请求、响应格式错误或维度不符时返回
type ServiceError struct {
	Provider string // 提供方名称
	Code     int    // 错误码
	Status   int    // HTTP状态码，未知时为0
	Message  string // 错误消息
	Err      error  // 底层错误
}

// Error 实现error接口
func (e *ServiceError) Error() string {
	msg := fmt.Sprintf("embedding service error (provider=%s, code=%d", e.Provider, e.Code)
	if e.Status != 0 {
		msg += fmt.Sprintf(", status=%d", e.Status)
	}
	msg += "): " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap 返回底层错误
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError 创建新的嵌入服务错误
func NewServiceError(provider string, code int, message string, err error) *ServiceError {
	return &ServiceError{
		Provider: provider,
		Code:     code,
		Message:  message,
		Err:      err,
	}
}

// IsServiceError 判断错误链中是否包含嵌入服务错误
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}
