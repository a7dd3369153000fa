package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyerfyer/vector-processor/internal/chunkstore"
	"github.com/fyerfyer/vector-processor/internal/document"
	"github.com/fyerfyer/vector-processor/internal/embedding"
	"github.com/fyerfyer/vector-processor/internal/identity"
	"github.com/fyerfyer/vector-processor/internal/index"
	"github.com/fyerfyer/vector-processor/internal/metrics"
	"github.com/fyerfyer/vector-processor/pkg/storage"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
)

// Stage 流水线阶段
type Stage string

const (
	StageFetching      Stage = "fetching"
	StageChunking      Stage = "chunking"
	StageEmbedding     Stage = "embedding"
	StageStoring       Stage = "storing"
	StageIndexUpdating Stage = "index_updating"
	StageDone          Stage = "done"
	StageFailed        Stage = "failed"
)

// RecordStore 分块记录写入接口
type RecordStore interface {
	Put(ctx context.Context, rec *chunkstore.Record) (string, error)
}

// Result 一次成功运行的结果
type Result struct {
	RunID         string   `json:"run_id"`
	ChunksCreated int      `json:"chunks_created"`
	Keys          []string `json:"keys"`
	Stage         Stage    `json:"stage"`
}

// PipelineService 文档向量化流水线
// 依次完成读取、分块、嵌入、写入记录和更新索引
type PipelineService struct {
	source      storage.Storage     // 源文档存储
	splitter    document.Splitter   // 文本分块器
	embedder    embedding.Client    // 嵌入模型客户端
	store       RecordStore         // 分块记录存储
	index       index.Aggregator    // 索引聚合器
	identity    *identity.Generator // 分块标识生成器
	recorder    RunRecorder         // 运行记录
	pool        *ants.Pool          // 并发嵌入的协程池
	concurrency int                 // 并发度
	timeout     time.Duration       // 单次运行超时
	clock       func() time.Time    // 时间来源
	logger      *logrus.Logger      // 日志记录器
}

// PipelineOption 流水线配置选项
type PipelineOption func(*PipelineService)

// NewPipelineService 创建文档向量化流水线
func NewPipelineService(
	source storage.Storage,
	splitter document.Splitter,
	embedder embedding.Client,
	store RecordStore,
	aggregator index.Aggregator,
	opts ...PipelineOption,
) *PipelineService {
	srv := &PipelineService{
		source:      source,
		splitter:    splitter,
		embedder:    embedder,
		store:       store,
		index:       aggregator,
		identity:    identity.NewGenerator(identity.DefaultLength),
		recorder:    noopRecorder{},
		concurrency: 1,
		clock:       func() time.Time { return time.Now().UTC() },
		logger:      logrus.New(),
	}

	for _, opt := range opts {
		opt(srv)
	}

	if srv.concurrency > 1 {
		pool, err := ants.NewPool(srv.concurrency)
		if err != nil {
			srv.logger.WithError(err).Warn("Failed to create embedding pool, embedding sequentially")
		} else {
			srv.pool = pool
		}
	}

	return srv
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) PipelineOption {
	return func(s *PipelineService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithConcurrency 设置嵌入并发度，大于1时使用协程池
func WithConcurrency(n int) PipelineOption {
	return func(s *PipelineService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithRunRecorder 设置运行记录器
func WithRunRecorder(recorder RunRecorder) PipelineOption {
	return func(s *PipelineService) {
		if recorder != nil {
			s.recorder = recorder
		}
	}
}

// WithClock 设置时间来源
func WithClock(clock func() time.Time) PipelineOption {
	return func(s *PipelineService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithIdentity 设置分块标识生成器
func WithIdentity(gen *identity.Generator) PipelineOption {
	return func(s *PipelineService) {
		if gen != nil {
			s.identity = gen
		}
	}
}

// WithTimeout 设置单次运行超时
func WithTimeout(timeout time.Duration) PipelineOption {
	return func(s *PipelineService) {
		s.timeout = timeout
	}
}

// Close 释放协程池
func (s *PipelineService) Close() {
	if s.pool != nil {
		s.pool.Release()
	}
}

// run 单次运行的状态
type run struct {
	id    string
	event Event
	stage Stage
	keys  []string
}

// Process 处理一个文档，生成新的运行ID
func (s *PipelineService) Process(ctx context.Context, ev Event) (*Result, error) {
	return s.ProcessRun(ctx, uuid.New().String(), ev)
}

// ProcessRun 使用指定运行ID处理一个文档
// 任何阶段失败都立即终止，已写入的记录不回滚
func (s *PipelineService) ProcessRun(ctx context.Context, runID string, ev Event) (*Result, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	r := &run{id: runID, event: ev, stage: StageFetching}
	log := s.logger.WithFields(logrus.Fields{
		"run_id":     runID,
		"source_key": ev.SourceKey,
		"lens_name":  ev.LensName,
		"pillar":     ev.Pillar,
	})

	if err := ev.Validate(); err != nil {
		metrics.PipelineRunsTotal.WithLabelValues("failed", string(KindValidation)).Inc()
		log.WithError(err).Warn("Rejected invalid event")
		return nil, newPipelineError(KindValidation, StageFetching, err)
	}

	log.Info("Starting document processing")
	s.recorder.Start(ctx, runID, ev)

	text, err := s.fetch(ctx, r)
	if err != nil {
		return nil, s.fail(ctx, r, log, err)
	}

	chunks, err := s.chunk(ctx, r, text)
	if err != nil {
		return nil, s.fail(ctx, r, log, err)
	}
	log.WithField("chunk_count", len(chunks)).Info("Document chunked")

	vectors, err := s.embed(ctx, r, chunks)
	if err != nil {
		return nil, s.fail(ctx, r, log, err)
	}

	if err := s.storeRecords(ctx, r, chunks, vectors); err != nil {
		return nil, s.fail(ctx, r, log, err)
	}

	if err := s.updateIndex(ctx, r); err != nil {
		return nil, s.fail(ctx, r, log, err)
	}

	r.stage = StageDone
	s.recorder.Complete(context.WithoutCancel(ctx), runID, len(r.keys), r.keys)
	metrics.PipelineRunsTotal.WithLabelValues("completed", "").Inc()
	metrics.ChunksStoredTotal.WithLabelValues(ev.LensName, ev.Pillar).Add(float64(len(r.keys)))
	log.WithField("chunks_created", len(r.keys)).Info("Document processed successfully")

	return &Result{
		RunID:         runID,
		ChunksCreated: len(r.keys),
		Keys:          r.keys,
		Stage:         StageDone,
	}, nil
}

// enter 进入新阶段并返回结束计时的函数
func (s *PipelineService) enter(ctx context.Context, r *run, stage Stage, chunkCount int) func() {
	r.stage = stage
	s.recorder.Stage(ctx, r.id, stage, chunkCount)
	start := time.Now()
	return func() {
		metrics.PipelineStageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	}
}

// fetch 读取并解析源文档
func (s *PipelineService) fetch(ctx context.Context, r *run) (string, error) {
	defer s.enter(ctx, r, StageFetching, 0)()

	rc, err := s.source.Get(ctx, r.event.SourceKey)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return "", newPipelineError(KindSourceNotFound, StageFetching, err)
		case errors.Is(err, storage.ErrInvalidKey):
			return "", newPipelineError(KindValidation, StageFetching, err)
		default:
			return "", newPipelineError(KindSourceUnavailable, StageFetching, err)
		}
	}
	defer rc.Close()

	text, err := document.ParserFactory(r.event.SourceKey).ParseReader(rc, r.event.SourceKey)
	if err != nil {
		return "", newPipelineError(KindInternal, StageFetching, fmt.Errorf("failed to parse document: %w", err))
	}
	return text, nil
}

// chunk 将文本切分为分块
func (s *PipelineService) chunk(ctx context.Context, r *run, text string) ([]document.Chunk, error) {
	defer s.enter(ctx, r, StageChunking, 0)()

	chunks, err := s.splitter.Split(text)
	if err != nil {
		return nil, newPipelineError(KindInternal, StageChunking, fmt.Errorf("failed to split content: %w", err))
	}
	return chunks, nil
}

// embed 为每个分块计算向量，结果与分块按下标一一对应
func (s *PipelineService) embed(ctx context.Context, r *run, chunks []document.Chunk) ([][]float32, error) {
	defer s.enter(ctx, r, StageEmbedding, len(chunks))()

	var (
		vectors [][]float32
		err     error
	)
	if s.pool == nil || len(chunks) < 2 {
		vectors, err = s.embedSequential(ctx, chunks)
	} else {
		vectors, err = s.embedConcurrent(ctx, chunks)
	}
	if err != nil {
		return nil, newPipelineError(KindEmbeddingService, StageEmbedding, err)
	}
	return vectors, nil
}

func (s *PipelineService) embedSequential(ctx context.Context, chunks []document.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := s.embedder.Embed(ctx, c.Text)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", c.Index, err)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (s *PipelineService) embedConcurrent(ctx context.Context, chunks []document.Chunk) ([][]float32, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	vectors := make([][]float32, len(chunks))
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	setErr := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := range chunks {
		i := i
		wg.Add(1)
		submitErr := s.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			vec, err := s.embedder.Embed(ctx, chunks[i].Text)
			if err != nil {
				setErr(fmt.Errorf("chunk %d: %w", chunks[i].Index, err))
				return
			}
			vectors[i] = vec
		})
		if submitErr != nil {
			wg.Done()
			setErr(fmt.Errorf("failed to submit embedding task: %w", submitErr))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("chunk %d: embedding not computed", chunks[i].Index)
		}
	}
	return vectors, nil
}

// storeRecords 按分块顺序组装并写入记录
func (s *PipelineService) storeRecords(ctx context.Context, r *run, chunks []document.Chunk, vectors [][]float32) error {
	defer s.enter(ctx, r, StageStoring, len(chunks))()

	processedAt := s.clock()
	r.keys = make([]string, 0, len(chunks))
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return newPipelineError(KindStorageWrite, StageStoring, err)
		}

		meta := chunkstore.Metadata{
			LensName:    r.event.LensName,
			Pillar:      r.event.Pillar,
			SourceFile:  r.event.SourceFile,
			ChunkIndex:  c.Index,
			StartChar:   c.StartChar,
			EndChar:     c.EndChar,
			ProcessedAt: processedAt,
		}
		rec := &chunkstore.Record{
			ID:        s.identity.ID(c.Text, meta.IdentityFields()),
			Text:      c.Text,
			Embedding: vectors[i],
			Metadata:  meta,
		}

		key, err := s.store.Put(ctx, rec)
		if err != nil {
			return newPipelineError(KindStorageWrite, StageStoring, err)
		}
		r.keys = append(r.keys, key)
	}
	return nil
}

// updateIndex 所有记录写入后更新索引
func (s *PipelineService) updateIndex(ctx context.Context, r *run) error {
	defer s.enter(ctx, r, StageIndexUpdating, len(r.keys))()

	if err := s.index.Update(ctx, r.event.LensName, r.event.Pillar, len(r.keys)); err != nil {
		var readErr *index.ReadError
		if errors.As(err, &readErr) {
			return newPipelineError(KindIndexRead, StageIndexUpdating, err)
		}
		return newPipelineError(KindStorageWrite, StageIndexUpdating, err)
	}
	return nil
}

// fail 记录失败并返回错误
func (s *PipelineService) fail(ctx context.Context, r *run, log *logrus.Entry, err error) error {
	pe, ok := AsPipelineError(err)
	if !ok {
		pe = newPipelineError(KindInternal, r.stage, err)
	}

	// 运行超时后仍需写入失败记录
	s.recorder.Fail(context.WithoutCancel(ctx), r.id, pe.Stage, pe.Kind, pe.Err, len(r.keys), r.keys)
	metrics.PipelineRunsTotal.WithLabelValues("failed", string(pe.Kind)).Inc()

	log.WithFields(logrus.Fields{
		"stage":         pe.Stage,
		"kind":          pe.Kind,
		"retryable":     pe.Retryable(),
		"records_saved": len(r.keys),
		"error":         pe.Err,
	}).Error("Document processing failed")

	return pe
}
