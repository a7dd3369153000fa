package handler

import (
	"net/http"
	"time"

	"github.com/fyerfyer/vector-processor/api/middleware"
	"github.com/fyerfyer/vector-processor/api/model"
	"github.com/fyerfyer/vector-processor/internal/services"
	"github.com/fyerfyer/vector-processor/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DocumentHandler 处理文档向量化请求
type DocumentHandler struct {
	pipeline *services.PipelineService // 文档向量化流水线
	queue    taskqueue.Queue           // 任务队列，未启用时为nil
	logger   *logrus.Logger            // 日志记录器
}

// NewDocumentHandler 创建文档处理器
func NewDocumentHandler(pipeline *services.PipelineService, queue taskqueue.Queue) *DocumentHandler {
	return &DocumentHandler{
		pipeline: pipeline,
		queue:    queue,
		logger:   middleware.GetLogger(),
	}
}

// ProcessDocument 同步处理文档
// POST /api/documents/process
// 返回调用响应，HTTP状态码与响应中的statusCode一致
func (h *DocumentHandler) ProcessDocument(c *gin.Context) {
	var req model.ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid request body", err.Error()))
		return
	}

	resp := h.pipeline.Invoke(c.Request.Context(), toEvent(req))
	if resp.StatusCode != http.StatusOK {
		h.logger.WithFields(logrus.Fields{
			"source_key":            req.SourceKey,
			"kind":                  resp.Body.Kind,
			middleware.FieldTraceID: c.GetString(middleware.TraceIDKey),
		}).Warn("Document processing request failed")
	}
	c.JSON(resp.StatusCode, resp)
}

// EnqueueDocument 将文档加入任务队列
// POST /api/documents/enqueue
func (h *DocumentHandler) EnqueueDocument(c *gin.Context) {
	if h.queue == nil {
		middleware.HandleError(c, middleware.NewUnavailableError("task queue is not enabled"))
		return
	}

	var req model.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid request body", err.Error()))
		return
	}

	delay := time.Duration(req.DelaySeconds) * time.Second
	taskID, err := services.Enqueue(c.Request.Context(), h.queue, toEvent(req.ProcessRequest), delay)
	if err != nil {
		if pe, ok := services.AsPipelineError(err); ok && pe.Kind == services.KindValidation {
			middleware.HandleError(c, middleware.NewValidationError(pe.Err.Error()))
			return
		}
		middleware.HandleError(c, middleware.NewInternalError("failed to enqueue document", err.Error()))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"task_id":    taskID,
		"source_key": req.SourceKey,
		"delay":      delay.String(),
	}).Info("Document enqueued")

	c.JSON(http.StatusAccepted, model.NewSuccessResponse(model.EnqueueResponse{
		TaskID: taskID,
		Status: string(taskqueue.StatusPending),
	}))
}

func toEvent(req model.ProcessRequest) services.Event {
	return services.Event{
		SourceKey:  req.SourceKey,
		LensName:   req.LensName,
		Pillar:     req.Pillar,
		SourceFile: req.SourceFile,
	}
}
