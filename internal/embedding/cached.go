package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/fyerfyer/vector-processor/internal/cache"
	"github.com/fyerfyer/vector-processor/internal/metrics"
	"github.com/sirupsen/logrus"
)

// CachedClient 带向量缓存的嵌入客户端
// 缓存读写失败只记录日志，不影响嵌入结果
type CachedClient struct {
	next   Client
	cache  cache.Cache
	ttl    time.Duration
	logger *logrus.Logger
}

// NewCachedClient 包装嵌入客户端，为其增加缓存
func NewCachedClient(next Client, c cache.Cache, ttl time.Duration, logger *logrus.Logger) *CachedClient {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CachedClient{
		next:   next,
		cache:  c,
		ttl:    ttl,
		logger: logger,
	}
}

// Name 返回底层模型名称
func (c *CachedClient) Name() string {
	return c.next.Name()
}

// Dimensions 返回底层向量维度
func (c *CachedClient) Dimensions() int {
	return c.next.Dimensions()
}

// Embed 优先从缓存读取向量，未命中时调用底层客户端并回写
func (c *CachedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	data, found, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.WithFields(logrus.Fields{"key": key, "error": err}).Warn("Embedding cache read failed")
	} else if found {
		if vec, ok := decodeVector(data, c.next.Dimensions()); ok {
			metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
			return vec, nil
		}
		c.logger.WithField("key", key).Warn("Discarding malformed cached embedding")
	}
	metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, key, encodeVector(vec), c.ttl); err != nil {
		c.logger.WithFields(logrus.Fields{"key": key, "error": err}).Warn("Embedding cache write failed")
	}
	return vec, nil
}

// cacheKey 缓存键由模型、维度与文本共同决定
func (c *CachedClient) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", c.next.Name(), c.next.Dimensions(), text)))
	return cache.GenerateCacheKey("embedding", hex.EncodeToString(sum[:]))
}

// encodeVector 将向量编码为小端float32序列
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector 解码向量，长度不符时返回false
func decodeVector(data []byte, dimensions int) ([]float32, bool) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, false
	}
	n := len(data) / 4
	if dimensions > 0 && n != dimensions {
		return nil, false
	}
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, true
}
