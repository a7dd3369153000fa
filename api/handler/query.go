package handler

import (
	"errors"
	"net/http"

	"github.com/fyerfyer/vector-processor/api/middleware"
	"github.com/fyerfyer/vector-processor/api/model"
	"github.com/fyerfyer/vector-processor/internal/chunkstore"
	"github.com/fyerfyer/vector-processor/internal/index"
	"github.com/gin-gonic/gin"
)

// QueryHandler 查询索引与分块记录
type QueryHandler struct {
	store *chunkstore.Store
	index index.Aggregator
}

// NewQueryHandler 创建查询处理器
func NewQueryHandler(store *chunkstore.Store, aggregator index.Aggregator) *QueryHandler {
	return &QueryHandler{store: store, index: aggregator}
}

// GetIndex 返回当前索引
// GET /api/index
func (h *QueryHandler) GetIndex(c *gin.Context) {
	idx, err := h.index.Load(c.Request.Context())
	if err != nil {
		middleware.HandleError(c, middleware.NewInternalError("failed to load index", err.Error()))
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(idx))
}

// GetChunk 读取单个分块记录
// GET /api/chunks/:lens/:pillar/:id
func (h *QueryHandler) GetChunk(c *gin.Context) {
	var req model.ChunkRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid chunk path", err.Error()))
		return
	}

	rec, err := h.store.Get(c.Request.Context(), req.Lens, req.Pillar, req.ID)
	if err != nil {
		if errors.Is(err, chunkstore.ErrNotFound) {
			middleware.HandleError(c, middleware.NewNotFoundError("chunk record not found"))
			return
		}
		middleware.HandleError(c, middleware.NewInternalError("failed to read chunk record", err.Error()))
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(rec))
}
