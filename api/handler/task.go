package handler

import (
	"errors"
	"net/http"

	"github.com/fyerfyer/vector-processor/api/middleware"
	"github.com/fyerfyer/vector-processor/api/model"
	"github.com/fyerfyer/vector-processor/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TaskHandler 处理任务相关的API请求
type TaskHandler struct {
	queue  taskqueue.Queue // 任务队列，未启用时为nil
	logger *logrus.Logger  // 日志记录器
}

// NewTaskHandler 创建新的任务处理器
func NewTaskHandler(queue taskqueue.Queue) *TaskHandler {
	return &TaskHandler{
		queue:  queue,
		logger: middleware.GetLogger(),
	}
}

// GetTaskStatus 获取任务状态
// GET /api/tasks/:id
func (h *TaskHandler) GetTaskStatus(c *gin.Context) {
	if h.queue == nil {
		middleware.HandleError(c, middleware.NewUnavailableError("task queue is not enabled"))
		return
	}

	taskID := c.Param("id")
	task, err := h.queue.GetTask(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, taskqueue.ErrTaskNotFound) {
			middleware.HandleError(c, middleware.NewNotFoundError("task not found"))
			return
		}
		h.logger.WithError(err).WithField("task_id", taskID).Error("Failed to get task")
		middleware.HandleError(c, middleware.NewInternalError("failed to get task status", err.Error()))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(taskqueue.NewTaskInfo(task)))
}

// ListTasks 按源文档列出任务
// GET /api/tasks?source_key=
func (h *TaskHandler) ListTasks(c *gin.Context) {
	if h.queue == nil {
		middleware.HandleError(c, middleware.NewUnavailableError("task queue is not enabled"))
		return
	}

	sourceKey := c.Query("source_key")
	if sourceKey == "" {
		middleware.HandleError(c, middleware.NewValidationError("source_key is required"))
		return
	}

	tasks, err := h.queue.GetTasksBySource(c.Request.Context(), sourceKey)
	if err != nil {
		middleware.HandleError(c, middleware.NewInternalError("failed to list tasks", err.Error()))
		return
	}

	infos := make([]*taskqueue.TaskInfo, 0, len(tasks))
	for _, task := range tasks {
		infos = append(infos, taskqueue.NewTaskInfo(task))
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(infos))
}
