package services

import (
	"context"
	"net/http"
)

// SuccessMessage 处理成功时的响应消息
const SuccessMessage = "Document processed successfully"

// ResponseBody 调用响应体
type ResponseBody struct {
	Message       string    `json:"message,omitempty"`
	ChunksCreated *int      `json:"chunks_created,omitempty"`
	RunID         string    `json:"run_id,omitempty"`
	Error         string    `json:"error,omitempty"`
	Kind          ErrorKind `json:"kind,omitempty"`
	Retryable     *bool     `json:"retryable,omitempty"`
}

// Response 调用响应
type Response struct {
	StatusCode int          `json:"statusCode"`
	Body       ResponseBody `json:"body"`
}

// Invoke 处理事件并转换为调用响应
// 校验失败返回400，其他失败返回500
func (s *PipelineService) Invoke(ctx context.Context, ev Event) Response {
	result, err := s.Process(ctx, ev)
	if err != nil {
		return ErrorResponse(err)
	}
	return SuccessResponse(result)
}

// SuccessResponse 构造成功响应
func SuccessResponse(result *Result) Response {
	count := result.ChunksCreated
	return Response{
		StatusCode: http.StatusOK,
		Body: ResponseBody{
			Message:       SuccessMessage,
			ChunksCreated: &count,
			RunID:         result.RunID,
		},
	}
}

// ErrorResponse 构造失败响应
func ErrorResponse(err error) Response {
	kind := KindInternal
	if pe, ok := AsPipelineError(err); ok {
		kind = pe.Kind
	}
	retryable := kind.Retryable()

	status := http.StatusInternalServerError
	if kind == KindValidation {
		status = http.StatusBadRequest
	}

	return Response{
		StatusCode: status,
		Body: ResponseBody{
			Error:     err.Error(),
			Kind:      kind,
			Retryable: &retryable,
		},
	}
}
