package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fyerfyer/vector-processor/api/handler"
	"github.com/fyerfyer/vector-processor/internal/chunkstore"
	"github.com/fyerfyer/vector-processor/internal/database"
	"github.com/fyerfyer/vector-processor/internal/document"
	"github.com/fyerfyer/vector-processor/internal/index"
	"github.com/fyerfyer/vector-processor/internal/metrics"
	"github.com/fyerfyer/vector-processor/internal/repository"
	"github.com/fyerfyer/vector-processor/internal/services"
	"github.com/fyerfyer/vector-processor/pkg/storage"
	"github.com/fyerfyer/vector-processor/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hashEmbedder 根据文本摘要生成向量
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	return []float32{float32(sum[0]), float32(sum[1]), float32(sum[2])}, nil
}

func (hashEmbedder) Name() string    { return "hash" }
func (hashEmbedder) Dimensions() int { return 3 }

type testServer struct {
	router  *gin.Engine
	storage storage.Storage
	queue   *taskqueue.RedisQueue
}

func setupServer(t *testing.T, withQueue bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	metrics.Register()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	s, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	cfg := document.DefaultSplitterConfig()
	cfg.ChunkTokens, cfg.OverlapTokens, cfg.CharsPerToken = 6, 2, 1
	splitter, err := document.NewWindowSplitter(cfg)
	require.NoError(t, err)

	db, err := database.Open(&database.Config{
		Type:         "sqlite",
		DSN:          filepath.Join(t.TempDir(), "runs.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		MaxLifetime:  time.Minute,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	runs := services.NewRunStatusManager(repository.NewRunRepository(db), logger)

	store := chunkstore.New(s)
	aggregator := index.NewBlobAggregator(s)
	pipeline := services.NewPipelineService(s, splitter, hashEmbedder{}, store, aggregator,
		services.WithLogger(logger),
		services.WithRunRecorder(runs),
	)
	t.Cleanup(pipeline.Close)

	ts := &testServer{storage: s}
	var queue taskqueue.Queue
	if withQueue {
		mr := miniredis.RunT(t)
		ts.queue, err = taskqueue.NewRedisQueue(&taskqueue.Config{RedisAddr: mr.Addr(), Logger: logger})
		require.NoError(t, err)
		t.Cleanup(func() { ts.queue.Close() })
		queue = ts.queue
	}

	ts.router = SetupRouter(Handlers{
		Document: handler.NewDocumentHandler(pipeline, queue),
		Query:    handler.NewQueryHandler(store, aggregator),
		Task:     handler.NewTaskHandler(queue),
		Run:      handler.NewRunHandler(runs),
	}, "/metrics")
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var resp map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func (ts *testServer) put(t *testing.T, key, content string) {
	t.Helper()
	_, err := ts.storage.Put(context.Background(), key, []byte(content), "text/plain")
	require.NoError(t, err)
}

func validRequest() map[string]interface{} {
	return map[string]interface{}{
		"source_key":  "docs/guide.txt",
		"lens_name":   "Test Lens",
		"pillar":      "Pillar A",
		"source_file": "guide.txt",
	}
}

func TestHealth(t *testing.T) {
	ts := setupServer(t, false)
	w, resp := ts.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", resp["status"])
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}

func TestProcessDocument(t *testing.T) {
	ts := setupServer(t, false)
	ts.put(t, "docs/guide.txt", "abcdefghij")

	w, resp := ts.do(t, http.MethodPost, "/api/documents/process", validRequest())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(200), resp["statusCode"])

	body := resp["body"].(map[string]interface{})
	assert.Equal(t, services.SuccessMessage, body["message"])
	assert.Equal(t, float64(2), body["chunks_created"])
	runID := body["run_id"].(string)

	// 索引已更新
	w, resp = ts.do(t, http.MethodGet, "/api/index", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data, _ := json.Marshal(resp["data"])
	var idx index.Index
	require.NoError(t, json.Unmarshal(data, &idx))
	stats, ok := idx.Lookup("Test Lens", "Pillar A")
	require.True(t, ok)
	assert.Equal(t, 2, stats.ChunkCount)

	// 运行记录已完成
	w, resp = ts.do(t, http.MethodGet, "/api/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	run := resp["data"].(map[string]interface{})
	assert.Equal(t, "completed", run["status"])
	assert.Equal(t, float64(2), run["stored_count"])

	w, resp = ts.do(t, http.MethodGet, "/api/runs?source_key=docs/guide.txt", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp["data"], 1)
}

func TestProcessDocument_Failures(t *testing.T) {
	ts := setupServer(t, false)

	req := validRequest()
	delete(req, "pillar")
	w, resp := ts.do(t, http.MethodPost, "/api/documents/process", req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := resp["body"].(map[string]interface{})
	assert.Equal(t, "validation", body["kind"])
	assert.Equal(t, false, body["retryable"])
	assert.Contains(t, body["error"], "pillar")

	w, resp = ts.do(t, http.MethodPost, "/api/documents/process", validRequest())
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body = resp["body"].(map[string]interface{})
	assert.Equal(t, "source_not_found", body["kind"])

	// 请求体不是JSON
	httpReq := httptest.NewRequest(http.MethodPost, "/api/documents/process", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, httpReq)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetChunk(t *testing.T) {
	ts := setupServer(t, false)
	ts.put(t, "docs/guide.txt", "abcdefghij")
	_, resp := ts.do(t, http.MethodPost, "/api/documents/process", validRequest())
	require.Equal(t, float64(200), resp["statusCode"])

	keys, err := chunkstore.New(ts.storage).List(context.Background(), "Test Lens", "Pillar A")
	require.NoError(t, err)
	require.NotEmpty(t, keys)
	id := strings.TrimSuffix(filepath.Base(keys[0]), ".json")

	w, resp := ts.do(t, http.MethodGet, "/api/chunks/test-lens/pillar-a/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	rec := resp["data"].(map[string]interface{})
	assert.Equal(t, id, rec["id"])

	w, resp = ts.do(t, http.MethodGet, "/api/chunks/test-lens/pillar-a/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, float64(http.StatusNotFound), resp["code"])
	assert.NotEmpty(t, resp["trace_id"])
}

func TestEnqueueDocument(t *testing.T) {
	ts := setupServer(t, true)

	req := validRequest()
	req["delay_seconds"] = 5
	w, resp := ts.do(t, http.MethodPost, "/api/documents/enqueue", req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	data := resp["data"].(map[string]interface{})
	taskID := data["task_id"].(string)
	assert.Equal(t, "pending", data["status"])

	w, resp = ts.do(t, http.MethodGet, "/api/tasks/"+taskID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	task := resp["data"].(map[string]interface{})
	assert.Equal(t, "document:process", task["type"])
	assert.Equal(t, "docs/guide.txt", task["source_key"])

	w, resp = ts.do(t, http.MethodGet, "/api/tasks?source_key=docs/guide.txt", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp["data"], 1)

	w, _ = ts.do(t, http.MethodGet, "/api/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	bad := validRequest()
	bad["lens_name"] = ""
	w, _ = ts.do(t, http.MethodPost, "/api/documents/enqueue", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueueDisabled(t *testing.T) {
	ts := setupServer(t, false)

	w, resp := ts.do(t, http.MethodPost, "/api/documents/enqueue", validRequest())
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "task queue is not enabled", resp["message"])

	w, _ = ts.do(t, http.MethodGet, "/api/tasks/any", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupServer(t, false)
	ts.put(t, "docs/guide.txt", "abcdefghij")
	ts.do(t, http.MethodPost, "/api/documents/process", validRequest())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "vector_processor_pipeline_runs_total")
}

func TestPanicRecovery(t *testing.T) {
	ts := setupServer(t, false)
	ts.router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	w, resp := ts.do(t, http.MethodGet, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, float64(http.StatusInternalServerError), resp["code"])
}
