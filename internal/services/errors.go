package services

import (
	"errors"
	"fmt"
)

// ErrorKind 流水线错误类别
type ErrorKind string

const (
	// KindValidation 事件字段缺失或非法
	KindValidation ErrorKind = "validation"
	// KindSourceNotFound 源文档不存在
	KindSourceNotFound ErrorKind = "source_not_found"
	// KindSourceUnavailable 源文档读取失败
	KindSourceUnavailable ErrorKind = "source_unavailable"
	// KindEmbeddingService 嵌入服务错误
	KindEmbeddingService ErrorKind = "embedding_service"
	// KindStorageWrite 记录或索引写入失败
	KindStorageWrite ErrorKind = "storage_write"
	// KindIndexRead 现有索引无法解析
	KindIndexRead ErrorKind = "index_read"
	// KindInternal 解析、分块等其他错误
	KindInternal ErrorKind = "internal"
)

// Retryable 该类别的错误重试后是否可能成功
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindEmbeddingService, KindStorageWrite, KindSourceUnavailable:
		return true
	default:
		return false
	}
}

// PipelineError 带类别与阶段的流水线错误
type PipelineError struct {
	Kind  ErrorKind
	Stage Stage
	Err   error
}

// Error 实现error接口
func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s failed during %s: %v", e.Kind, e.Stage, e.Err)
}

// Unwrap 返回底层错误
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Retryable 是否可重试
func (e *PipelineError) Retryable() bool {
	return e.Kind.Retryable()
}

// newPipelineError 创建流水线错误
func newPipelineError(kind ErrorKind, stage Stage, err error) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Err: err}
}

// AsPipelineError 从错误链中提取PipelineError
func AsPipelineError(err error) (*PipelineError, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetryable 判断错误是否可重试，非流水线错误视为不可重试
func IsRetryable(err error) bool {
	if pe, ok := AsPipelineError(err); ok {
		return pe.Retryable()
	}
	return false
}
