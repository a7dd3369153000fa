package model

import (
	"time"

	"github.com/fyerfyer/vector-processor/internal/models"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// EnqueueResponse 异步处理响应
type EnqueueResponse struct {
	TaskID string `json:"task_id"` // 任务ID
	Status string `json:"status"`  // 任务状态
}

// RunResponse 运行记录响应
type RunResponse struct {
	ID          string     `json:"id"`                    // 运行ID
	SourceKey   string     `json:"source_key"`            // 源文档键
	LensName    string     `json:"lens_name"`             // 镜头名称
	Pillar      string     `json:"pillar"`                // 支柱名称
	TaskID      string     `json:"task_id,omitempty"`     // 队列任务ID
	Stage       string     `json:"stage"`                 // 当前阶段
	Status      string     `json:"status"`                // 运行状态
	ChunkCount  int        `json:"chunk_count"`           // 分块数量
	StoredCount int        `json:"stored_count"`          // 已写入记录数
	ErrorKind   string     `json:"error_kind,omitempty"`  // 错误类别
	Error       string     `json:"error,omitempty"`       // 错误信息
	StartedAt   time.Time  `json:"started_at"`            // 开始时间
	FinishedAt  *time.Time `json:"finished_at,omitempty"` // 结束时间
	DurationMS  int64      `json:"duration_ms"`           // 耗时毫秒
}

// NewRunResponse 将运行记录转换为响应
func NewRunResponse(run *models.ProcessingRun) RunResponse {
	return RunResponse{
		ID:          run.ID,
		SourceKey:   run.SourceKey,
		LensName:    run.LensName,
		Pillar:      run.Pillar,
		TaskID:      run.TaskID,
		Stage:       run.Stage,
		Status:      string(run.Status),
		ChunkCount:  run.ChunkCount,
		StoredCount: run.StoredCount,
		ErrorKind:   run.ErrorKind,
		Error:       run.Error,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		DurationMS:  run.Duration().Milliseconds(),
	}
}
