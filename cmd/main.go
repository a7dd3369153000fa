package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fyerfyer/vector-processor/api"
	"github.com/fyerfyer/vector-processor/api/handler"
	"github.com/fyerfyer/vector-processor/api/middleware"
	appconfig "github.com/fyerfyer/vector-processor/config"
	"github.com/fyerfyer/vector-processor/internal/cache"
	"github.com/fyerfyer/vector-processor/internal/chunkstore"
	"github.com/fyerfyer/vector-processor/internal/database"
	"github.com/fyerfyer/vector-processor/internal/document"
	"github.com/fyerfyer/vector-processor/internal/embedding"
	"github.com/fyerfyer/vector-processor/internal/identity"
	"github.com/fyerfyer/vector-processor/internal/index"
	"github.com/fyerfyer/vector-processor/internal/manifest"
	"github.com/fyerfyer/vector-processor/internal/metrics"
	"github.com/fyerfyer/vector-processor/internal/repository"
	"github.com/fyerfyer/vector-processor/internal/services"
	"github.com/fyerfyer/vector-processor/pkg/storage"
	"github.com/fyerfyer/vector-processor/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 命令行选项，非零值覆盖配置文件
type options struct {
	ConfigFile string // 配置文件路径
	Port       int    // 服务端口
	Mode       string // 运行模式 (debug/release)
	LogLevel   string // 日志级别
	Worker     bool   // 以队列消费者方式运行
	Manifest   string // 批量提交的清单文件
	Sync       bool   // 清单在当前进程中同步处理
}

// app 组装好的组件
type app struct {
	cfg      *appconfig.Config
	logger   *logrus.Logger
	storage  storage.Storage
	store    *chunkstore.Store
	index    index.Aggregator
	pipeline *services.PipelineService
	runs     *services.RunStatusManager
	queue    *taskqueue.RedisQueue
	closers  []func()
}

func main() {
	opts := parseFlags()

	cfg, err := appconfig.Load(opts.ConfigFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg, opts)

	logger := middleware.Configure(middleware.LogOptions{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	logger.Info("Starting vector processor...")

	a, err := setup(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}

	code := 0
	switch {
	case opts.Manifest != "":
		code = runManifest(a, opts)
	case opts.Worker:
		runWorker(a)
	default:
		runServer(a)
	}

	a.close()
	os.Exit(code)
}

// parseFlags 解析命令行参数
func parseFlags() options {
	var opts options
	flag.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to config file")
	flag.IntVar(&opts.Port, "port", 0, "Server port (overrides config)")
	flag.StringVar(&opts.Mode, "mode", "", "Run mode (debug/release)")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug/info/warn/error)")
	flag.BoolVar(&opts.Worker, "worker", false, "Consume document tasks from the queue")
	flag.StringVar(&opts.Manifest, "manifest", "", "Submit every document listed in the manifest file")
	flag.BoolVar(&opts.Sync, "sync", false, "Process manifest documents in-process instead of enqueueing")
	flag.Parse()
	return opts
}

// applyFlags 命令行参数优先于配置文件
func applyFlags(cfg *appconfig.Config, opts options) {
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}
	if opts.Mode != "" {
		cfg.Server.Mode = opts.Mode
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
}

// setup 按配置创建全部组件
func setup(cfg *appconfig.Config, logger *logrus.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	if cfg.Metrics.Enable {
		metrics.Register()
	}

	var err error
	a.storage, err = storage.New(storage.Config{
		Type:      cfg.Storage.Type,
		Path:      cfg.Storage.Path,
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.store = chunkstore.New(a.storage)

	embedder, err := setupEmbedding(cfg, logger)
	if err != nil {
		return nil, err
	}

	splitter, err := document.NewWindowSplitter(document.SplitterConfig{
		ChunkTokens:   cfg.Document.ChunkTokens,
		OverlapTokens: cfg.Document.OverlapTokens,
		CharsPerToken: cfg.Document.CharsPerToken,
		SnapRatio:     cfg.Document.SnapRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid chunking config: %w", err)
	}

	a.index, err = setupIndex(a, cfg, logger)
	if err != nil {
		return nil, err
	}

	pipelineOpts := []services.PipelineOption{
		services.WithLogger(logger),
		services.WithConcurrency(cfg.Pipeline.Concurrency),
		services.WithTimeout(cfg.Pipeline.Timeout),
		services.WithIdentity(identity.NewGenerator(cfg.Identity.Length)),
	}

	if cfg.Database.Enable {
		db, err := setupDatabase(cfg, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = database.Close(db) })
		a.runs = services.NewRunStatusManager(repository.NewRunRepository(db), logger)
		pipelineOpts = append(pipelineOpts, services.WithRunRecorder(a.runs))
	}

	a.pipeline = services.NewPipelineService(a.storage, splitter, embedder, a.store, a.index, pipelineOpts...)
	a.closers = append(a.closers, a.pipeline.Close)

	if cfg.Queue.Enable {
		a.queue, err = taskqueue.NewRedisQueue(queueConfig(cfg, logger))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize task queue: %w", err)
		}
		a.closers = append(a.closers, func() { _ = a.queue.Close() })
		logger.WithField("redis_addr", cfg.Queue.RedisAddr).Info("Task queue initialized")
	}

	ok = true
	return a, nil
}

// close 逆序释放资源
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// setupEmbedding 创建嵌入客户端，启用缓存时包装一层缓存
func setupEmbedding(cfg *appconfig.Config, logger *logrus.Logger) (embedding.Client, error) {
	opts := []embedding.Option{
		embedding.WithModel(cfg.Embed.Model),
		embedding.WithDimensions(cfg.Embed.Dimensions),
		embedding.WithNormalize(cfg.Embed.Normalize),
	}
	if cfg.Embed.APIKey != "" {
		opts = append(opts, embedding.WithAPIKey(cfg.Embed.APIKey))
	}
	if cfg.Embed.Endpoint != "" {
		opts = append(opts, embedding.WithBaseURL(cfg.Embed.Endpoint))
	}
	if cfg.Embed.Timeout > 0 {
		opts = append(opts, embedding.WithTimeout(cfg.Embed.Timeout))
	}

	client, err := embedding.NewClient(cfg.Embed.Provider, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}

	if !cfg.Cache.Enable {
		return client, nil
	}

	cacheConfig := cache.DefaultConfig()
	cacheConfig.Type = cfg.Cache.Type
	cacheConfig.RedisAddr = cfg.Cache.Address
	cacheConfig.RedisPassword = cfg.Cache.Password
	cacheConfig.RedisDB = cfg.Cache.DB
	if cfg.Cache.KeyPrefix != "" {
		cacheConfig.KeyPrefix = cfg.Cache.KeyPrefix
	}
	if cfg.Cache.TTL > 0 {
		cacheConfig.DefaultTTL = time.Duration(cfg.Cache.TTL) * time.Second
	}

	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding cache: %w", err)
	}
	logger.WithField("type", cacheConfig.Type).Info("Embedding cache enabled")
	return embedding.NewCachedClient(client, c, cacheConfig.DefaultTTL, logger), nil
}

// setupIndex 创建索引聚合器，redis后端需要单独的连接
func setupIndex(a *app, cfg *appconfig.Config, logger *logrus.Logger) (index.Aggregator, error) {
	var client redis.UniversalClient
	if cfg.Index.Backend == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Index.RedisAddr,
			Password: cfg.Index.RedisPassword,
			DB:       cfg.Index.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to connect to index redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		client = rdb
	}

	agg, err := index.NewAggregator(index.Config{
		Backend:  cfg.Index.Backend,
		RedisKey: cfg.Index.RedisKey,
	}, a.storage, client, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize index: %w", err)
	}
	return agg, nil
}

// setupDatabase 打开运行记录数据库
func setupDatabase(cfg *appconfig.Config, logger *logrus.Logger) (*gorm.DB, error) {
	dbConfig := database.DefaultConfig()
	dbConfig.Type = cfg.Database.Type
	dbConfig.DSN = cfg.Database.DSN

	db, err := database.Open(dbConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

// queueConfig 转换任务队列配置
func queueConfig(cfg *appconfig.Config, logger *logrus.Logger) *taskqueue.Config {
	qc := taskqueue.DefaultConfig()
	qc.RedisAddr = cfg.Queue.RedisAddr
	qc.RedisPassword = cfg.Queue.RedisPassword
	qc.RedisDB = cfg.Queue.RedisDB
	if cfg.Queue.Concurrency > 0 {
		qc.Concurrency = cfg.Queue.Concurrency
	}
	if cfg.Queue.RetryLimit > 0 {
		qc.RetryLimit = cfg.Queue.RetryLimit
	}
	if cfg.Queue.RetryDelay > 0 {
		qc.RetryDelay = time.Duration(cfg.Queue.RetryDelay) * time.Second
	}
	if cfg.Queue.TaskTTL > 0 {
		qc.TaskTTL = cfg.Queue.TaskTTL
	}
	qc.Logger = logger
	return qc
}

// runServer 启动HTTP服务并等待终止信号
func runServer(a *app) {
	gin.SetMode(a.cfg.Server.Mode)

	var queue taskqueue.Queue
	if a.queue != nil {
		queue = a.queue
	}

	metricsPath := ""
	if a.cfg.Metrics.Enable {
		metricsPath = a.cfg.Metrics.Path
	}

	r := api.SetupRouter(api.Handlers{
		Document: handler.NewDocumentHandler(a.pipeline, queue),
		Query:    handler.NewQueryHandler(a.store, a.index),
		Task:     handler.NewTaskHandler(queue),
		Run:      handler.NewRunHandler(a.runs),
	}, metricsPath)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	go func() {
		a.logger.Infof("Server is running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	waitForSignal()
	a.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		a.logger.Errorf("Server forced to shutdown: %v", err)
	}
	a.logger.Info("Server exited")
}

// runWorker 消费文档处理任务直到收到终止信号
func runWorker(a *app) {
	if a.queue == nil {
		a.logger.Fatal("Worker mode requires queue.enable")
	}

	worker := taskqueue.NewRedisWorker(a.queue, queueConfig(a.cfg, a.logger))
	worker.RegisterHandler(taskqueue.TaskDocumentProcess, services.NewDocumentTaskHandler(a.pipeline, a.logger))
	if err := worker.Start(); err != nil {
		a.logger.Fatalf("Failed to start worker: %v", err)
	}
	a.logger.WithField("concurrency", a.cfg.Queue.Concurrency).Info("Worker started")

	waitForSignal()
	a.logger.Info("Stopping worker...")
	worker.Stop()
}

// runManifest 提交清单中的文档，有失败时返回非零退出码
func runManifest(a *app, opts options) int {
	m, err := manifest.Load(opts.Manifest)
	if err != nil {
		a.logger.Errorf("Failed to load manifest: %v", err)
		return 1
	}

	var submitter manifest.Submitter
	switch {
	case opts.Sync:
		submitter = manifest.PipelineSubmitter{Pipeline: a.pipeline}
	case a.queue != nil:
		submitter = manifest.QueueSubmitter{Queue: a.queue}
	default:
		a.logger.Error("Manifest submission requires queue.enable, or -sync to process in-process")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary := manifest.NewRunner(submitter, a.cfg.Pipeline.SubmitDelay, a.logger).Run(ctx, m)
	fmt.Printf("Successful: %d\nFailed: %d\nTotal: %d\n", summary.Successful, summary.Failed, summary.Total)
	if summary.Failed > 0 {
		return 1
	}
	return 0
}

func waitForSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}
