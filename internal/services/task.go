package services

import (
	"context"
	"fmt"
	"time"

	"github.com/fyerfyer/vector-processor/pkg/taskqueue"
	"github.com/sirupsen/logrus"
)

// DocumentTaskHandler 队列任务处理器，在worker中运行流水线
type DocumentTaskHandler struct {
	pipeline *PipelineService
	logger   *logrus.Logger
}

// NewDocumentTaskHandler 创建队列任务处理器
func NewDocumentTaskHandler(pipeline *PipelineService, logger *logrus.Logger) *DocumentTaskHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &DocumentTaskHandler{pipeline: pipeline, logger: logger}
}

// GetTaskTypes 返回支持的任务类型
func (h *DocumentTaskHandler) GetTaskTypes() []taskqueue.TaskType {
	return []taskqueue.TaskType{taskqueue.TaskDocumentProcess}
}

// ProcessTask 解析任务载荷并处理文档
// 返回的响应体保存为任务结果，错误是否重试由错误类别决定
func (h *DocumentTaskHandler) ProcessTask(ctx context.Context, task *taskqueue.Task) (interface{}, error) {
	var ev Event
	if err := taskqueue.UnmarshalPayload(task.Payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", taskqueue.ErrInvalidPayload, err)
	}

	h.logger.WithFields(logrus.Fields{
		"task_id":    task.ID,
		"source_key": ev.SourceKey,
		"attempt":    task.Attempts,
	}).Info("Processing queued document")

	result, err := h.pipeline.Process(WithTaskID(ctx, task.ID), ev)
	if err != nil {
		return ErrorResponse(err).Body, err
	}
	return SuccessResponse(result).Body, nil
}

// Enqueue 校验事件后加入队列，delay大于0时延迟执行
func Enqueue(ctx context.Context, queue taskqueue.Queue, ev Event, delay time.Duration) (string, error) {
	if err := ev.Validate(); err != nil {
		return "", newPipelineError(KindValidation, StageFetching, err)
	}
	return queue.EnqueueIn(ctx, taskqueue.TaskDocumentProcess, ev.SourceKey, ev, delay)
}
