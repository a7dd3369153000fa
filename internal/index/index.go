package index

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ObjectKey 索引快照在对象存储中的键
const ObjectKey = "metadata/index.json"

// PillarStats 单个分组的统计信息
type PillarStats struct {
	ChunkCount  int       `json:"chunk_count"`
	LastUpdated time.Time `json:"last_updated"`
}

// LensEntry 一个lens下的所有分组
type LensEntry struct {
	Pillars map[string]PillarStats `json:"pillars"`
}

// Index 聚合索引，记录每个(lens, pillar)的分块数量
type Index struct {
	Lenses map[string]*LensEntry `json:"lenses"`
}

// New 返回空索引
func New() *Index {
	return &Index{Lenses: make(map[string]*LensEntry)}
}

// Set 写入一个分组的统计，只影响该分组
func (idx *Index) Set(lens, pillar string, stats PillarStats) {
	if idx.Lenses == nil {
		idx.Lenses = make(map[string]*LensEntry)
	}
	entry, ok := idx.Lenses[lens]
	if !ok || entry == nil {
		entry = &LensEntry{}
		idx.Lenses[lens] = entry
	}
	if entry.Pillars == nil {
		entry.Pillars = make(map[string]PillarStats)
	}
	entry.Pillars[pillar] = stats
}

// Lookup 查询一个分组的统计
func (idx *Index) Lookup(lens, pillar string) (PillarStats, bool) {
	entry, ok := idx.Lenses[lens]
	if !ok || entry == nil {
		return PillarStats{}, false
	}
	stats, ok := entry.Pillars[pillar]
	return stats, ok
}

// Aggregator 索引聚合器
type Aggregator interface {
	// Update 记录某个分组的最新分块数量与更新时间
	Update(ctx context.Context, lens, pillar string, chunkCount int) error

	// Load 读取当前索引
	Load(ctx context.Context) (*Index, error)
}

// ReadError 已存在的索引无法解析
type ReadError struct {
	Source string
	Err    error
}

// Error 实现error接口
func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read index from %s: %v", e.Source, e.Err)
}

// Unwrap 返回底层错误
func (e *ReadError) Unwrap() error {
	return e.Err
}

// Option 聚合器选项
type Option func(*options)

type options struct {
	clock func() time.Time
}

// WithClock 设置时间来源
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// decode 解析索引JSON
func decode(data []byte) (*Index, error) {
	idx := New()
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, err
	}
	if idx.Lenses == nil {
		idx.Lenses = make(map[string]*LensEntry)
	}
	return idx, nil
}

// encode 以缩进格式序列化索引
func encode(idx *Index) ([]byte, error) {
	return json.MarshalIndent(idx, "", "  ")
}
