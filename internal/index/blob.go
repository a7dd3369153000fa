package index

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fyerfyer/vector-processor/internal/metrics"
	"github.com/fyerfyer/vector-processor/pkg/storage"
)

// BlobAggregator 将索引保存为对象存储中的单个JSON对象
// 读改写在进程内串行执行
type BlobAggregator struct {
	storage storage.Storage
	mu      sync.Mutex
	opts    options
}

// NewBlobAggregator 创建基于对象存储的索引聚合器
func NewBlobAggregator(s storage.Storage, opts ...Option) *BlobAggregator {
	return &BlobAggregator{
		storage: s,
		opts:    buildOptions(opts),
	}
}

// Update 更新一个分组的统计
func (a *BlobAggregator) Update(ctx context.Context, lens, pillar string, chunkCount int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx, err := a.load(ctx)
	if err != nil {
		metrics.IndexUpdatesTotal.WithLabelValues("blob", "error").Inc()
		return err
	}

	idx.Set(lens, pillar, PillarStats{
		ChunkCount:  chunkCount,
		LastUpdated: a.opts.clock(),
	})

	if err := writeSnapshot(ctx, a.storage, idx); err != nil {
		metrics.IndexUpdatesTotal.WithLabelValues("blob", "error").Inc()
		return err
	}
	metrics.IndexUpdatesTotal.WithLabelValues("blob", "success").Inc()
	return nil
}

// Load 读取索引，对象不存在时返回空索引
func (a *BlobAggregator) Load(ctx context.Context) (*Index, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.load(ctx)
}

func (a *BlobAggregator) load(ctx context.Context) (*Index, error) {
	data, err := storage.ReadAll(ctx, a.storage, ObjectKey)
	if errors.Is(err, storage.ErrNotFound) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch index: %w", err)
	}

	idx, err := decode(data)
	if err != nil {
		return nil, &ReadError{Source: ObjectKey, Err: err}
	}
	return idx, nil
}

// writeSnapshot 将索引写回对象存储
func writeSnapshot(ctx context.Context, s storage.Storage, idx *Index) error {
	data, err := encode(idx)
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	if _, err := s.Put(ctx, ObjectKey, data, "application/json"); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}
