package api

import (
	"net/http"

	"github.com/fyerfyer/vector-processor/api/handler"
	"github.com/fyerfyer/vector-processor/api/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers 路由使用的处理器集合
type Handlers struct {
	Document *handler.DocumentHandler
	Query    *handler.QueryHandler
	Task     *handler.TaskHandler
	Run      *handler.RunHandler
}

// SetupRouter 设置API路由
// metricsPath为空时不暴露Prometheus指标
func SetupRouter(h Handlers, metricsPath string) *gin.Engine {
	router := gin.New()

	// 追踪ID需要最先设置，日志与错误处理都会读取
	router.Use(middleware.SetTraceID())
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorMiddleware())

	if gin.Mode() == gin.DebugMode {
		router.Use(middleware.RequestBodyLog())
	}

	api := router.Group("/api")
	{
		docGroup := api.Group("/documents")
		{
			// 同步处理 - POST /api/documents/process
			docGroup.POST("/process", h.Document.ProcessDocument)

			// 异步处理 - POST /api/documents/enqueue
			docGroup.POST("/enqueue", h.Document.EnqueueDocument)
		}

		api.GET("/index", h.Query.GetIndex)
		api.GET("/chunks/:lens/:pillar/:id", h.Query.GetChunk)

		api.GET("/tasks", h.Task.ListTasks)
		api.GET("/tasks/:id", h.Task.GetTaskStatus)

		api.GET("/runs", h.Run.ListRuns)
		api.GET("/runs/:id", h.Run.GetRun)

		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status": "ok",
			})
		})
	}

	if metricsPath != "" {
		router.GET(metricsPath, gin.WrapH(promhttp.Handler()))
	}

	return router
}
