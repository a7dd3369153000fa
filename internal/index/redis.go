package index

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fyerfyer/vector-processor/internal/metrics"
	"github.com/fyerfyer/vector-processor/pkg/storage"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultRedisKey 索引哈希的默认键
const DefaultRedisKey = "vp:index"

// RedisAggregator 以Redis哈希保存索引，每个(lens, pillar)对应一个字段
// 单字段HSET保证并发更新互不覆盖；更新后把完整快照发布到对象存储
type RedisAggregator struct {
	client   redis.UniversalClient
	key      string
	snapshot storage.Storage
	logger   *logrus.Logger
	opts     options
}

// NewRedisAggregator 创建基于Redis的索引聚合器
// snapshot为nil时不发布快照
func NewRedisAggregator(client redis.UniversalClient, key string, snapshot storage.Storage, logger *logrus.Logger, opts ...Option) *RedisAggregator {
	if key == "" {
		key = DefaultRedisKey
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisAggregator{
		client:   client,
		key:      key,
		snapshot: snapshot,
		logger:   logger,
		opts:     buildOptions(opts),
	}
}

// field 返回分组对应的哈希字段名
func field(lens, pillar string) string {
	data, _ := json.Marshal([2]string{lens, pillar})
	return string(data)
}

// parseField 解析哈希字段名
func parseField(f string) (string, string, error) {
	var parts [2]string
	if err := json.Unmarshal([]byte(f), &parts); err != nil {
		return "", "", err
	}
	return parts[0], parts[1], nil
}

// Update 原子更新一个分组的统计
func (a *RedisAggregator) Update(ctx context.Context, lens, pillar string, chunkCount int) error {
	value, err := json.Marshal(PillarStats{
		ChunkCount:  chunkCount,
		LastUpdated: a.opts.clock(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode index entry: %w", err)
	}

	if err := a.client.HSet(ctx, a.key, field(lens, pillar), value).Err(); err != nil {
		metrics.IndexUpdatesTotal.WithLabelValues("redis", "error").Inc()
		return fmt.Errorf("failed to update index entry: %w", err)
	}
	metrics.IndexUpdatesTotal.WithLabelValues("redis", "success").Inc()

	a.publish(ctx)
	return nil
}

// Load 读取完整索引
func (a *RedisAggregator) Load(ctx context.Context) (*Index, error) {
	entries, err := a.client.HGetAll(ctx, a.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch index: %w", err)
	}

	idx := New()
	for f, v := range entries {
		lens, pillar, err := parseField(f)
		if err != nil {
			return nil, &ReadError{Source: a.key, Err: fmt.Errorf("bad field %q: %w", f, err)}
		}
		var stats PillarStats
		if err := json.Unmarshal([]byte(v), &stats); err != nil {
			return nil, &ReadError{Source: a.key, Err: fmt.Errorf("bad entry %q: %w", f, err)}
		}
		idx.Set(lens, pillar, stats)
	}
	return idx, nil
}

// publish 将当前索引写入对象存储，失败只记录日志
// 过期的快照会在下一次更新时被纠正
func (a *RedisAggregator) publish(ctx context.Context) {
	if a.snapshot == nil {
		return
	}

	idx, err := a.Load(ctx)
	if err == nil {
		err = writeSnapshot(ctx, a.snapshot, idx)
	}
	if err != nil {
		a.logger.WithFields(logrus.Fields{
			"key":   ObjectKey,
			"error": err,
		}).Warn("Failed to publish index snapshot")
	}
}
