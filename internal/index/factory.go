package index

import (
	"fmt"

	"github.com/fyerfyer/vector-processor/pkg/storage"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Config 索引配置
type Config struct {
	Backend  string // blob 或 redis
	RedisKey string // Redis哈希键
}

// NewAggregator 根据配置创建索引聚合器
func NewAggregator(cfg Config, s storage.Storage, client redis.UniversalClient, logger *logrus.Logger, opts ...Option) (Aggregator, error) {
	switch cfg.Backend {
	case "", "blob":
		if s == nil {
			return nil, fmt.Errorf("blob index requires a storage backend")
		}
		return NewBlobAggregator(s, opts...), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis index requires a redis client")
		}
		return NewRedisAggregator(client, cfg.RedisKey, s, logger, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported index backend: %s", cfg.Backend)
	}
}
