package handler

import (
	"net/http"

	"github.com/fyerfyer/vector-processor/api/middleware"
	"github.com/fyerfyer/vector-processor/api/model"
	"github.com/fyerfyer/vector-processor/internal/services"
	"github.com/gin-gonic/gin"
)

// RunHandler 查询运行记录
type RunHandler struct {
	runs *services.RunStatusManager // 运行状态管理器，未启用数据库时为nil
}

// NewRunHandler 创建运行记录处理器
func NewRunHandler(runs *services.RunStatusManager) *RunHandler {
	return &RunHandler{runs: runs}
}

// GetRun 获取单次运行记录
// GET /api/runs/:id
func (h *RunHandler) GetRun(c *gin.Context) {
	if h.runs == nil {
		middleware.HandleError(c, middleware.NewUnavailableError("run history is not enabled"))
		return
	}

	run, err := h.runs.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		if services.IsNotFound(err) {
			middleware.HandleError(c, middleware.NewNotFoundError("run not found"))
			return
		}
		middleware.HandleError(c, middleware.NewInternalError("failed to get run", err.Error()))
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewRunResponse(run)))
}

// ListRuns 按源文档列出运行记录，最新的在前
// GET /api/runs?source_key=&limit=
func (h *RunHandler) ListRuns(c *gin.Context) {
	if h.runs == nil {
		middleware.HandleError(c, middleware.NewUnavailableError("run history is not enabled"))
		return
	}

	var req model.RunListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid query parameters", err.Error()))
		return
	}

	runs, err := h.runs.ListRuns(c.Request.Context(), req.SourceKey, req.GetLimit())
	if err != nil {
		middleware.HandleError(c, middleware.NewInternalError("failed to list runs", err.Error()))
		return
	}

	resp := make([]model.RunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, model.NewRunResponse(run))
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}
