package index

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fyerfyer/vector-processor/pkg/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedTime }

func newLocalStorage(t *testing.T) storage.Storage {
	t.Helper()
	s, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)
	return s
}

func newRedisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

// aggregators 两种实现共享同一组行为测试
func aggregators(t *testing.T) map[string]func(t *testing.T) (Aggregator, storage.Storage) {
	return map[string]func(t *testing.T) (Aggregator, storage.Storage){
		"blob": func(t *testing.T) (Aggregator, storage.Storage) {
			s := newLocalStorage(t)
			return NewBlobAggregator(s, WithClock(fixedClock)), s
		},
		"redis": func(t *testing.T) (Aggregator, storage.Storage) {
			s := newLocalStorage(t)
			_, client := newRedisClient(t)
			return NewRedisAggregator(client, "", s, nil, WithClock(fixedClock)), s
		},
	}
}

func TestAggregators(t *testing.T) {
	for name, build := range aggregators(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("empty", func(t *testing.T) {
				agg, _ := build(t)
				idx, err := agg.Load(ctx)
				require.NoError(t, err)
				assert.Empty(t, idx.Lenses)
			})

			t.Run("sequential pillar updates both persist", func(t *testing.T) {
				agg, s := build(t)
				require.NoError(t, agg.Update(ctx, "L", "A", 5))
				require.NoError(t, agg.Update(ctx, "L", "B", 3))

				idx, err := agg.Load(ctx)
				require.NoError(t, err)
				a, ok := idx.Lookup("L", "A")
				require.True(t, ok)
				assert.Equal(t, 5, a.ChunkCount)
				b, ok := idx.Lookup("L", "B")
				require.True(t, ok)
				assert.Equal(t, 3, b.ChunkCount)
				assert.True(t, fixedTime.Equal(b.LastUpdated))

				// 快照对象采用同样的布局
				data, err := storage.ReadAll(ctx, s, ObjectKey)
				require.NoError(t, err)
				var doc struct {
					Lenses map[string]struct {
						Pillars map[string]struct {
							ChunkCount  int    `json:"chunk_count"`
							LastUpdated string `json:"last_updated"`
						} `json:"pillars"`
					} `json:"lenses"`
				}
				require.NoError(t, json.Unmarshal(data, &doc))
				assert.Equal(t, 5, doc.Lenses["L"].Pillars["A"].ChunkCount)
				assert.Equal(t, 3, doc.Lenses["L"].Pillars["B"].ChunkCount)
				assert.Equal(t, "2024-05-01T12:00:00Z", doc.Lenses["L"].Pillars["B"].LastUpdated)
			})

			t.Run("update replaces count", func(t *testing.T) {
				agg, _ := build(t)
				require.NoError(t, agg.Update(ctx, "L", "A", 5))
				require.NoError(t, agg.Update(ctx, "L", "A", 2))

				idx, err := agg.Load(ctx)
				require.NoError(t, err)
				a, _ := idx.Lookup("L", "A")
				assert.Equal(t, 2, a.ChunkCount)
			})

			t.Run("concurrent updates are not lost", func(t *testing.T) {
				agg, _ := build(t)
				var wg sync.WaitGroup
				for i := 0; i < 20; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						assert.NoError(t, agg.Update(ctx, fmt.Sprintf("lens-%d", i%3), fmt.Sprintf("pillar-%d", i), i))
					}(i)
				}
				wg.Wait()

				idx, err := agg.Load(ctx)
				require.NoError(t, err)
				total := 0
				for _, lens := range idx.Lenses {
					total += len(lens.Pillars)
				}
				assert.Equal(t, 20, total)
			})
		})
	}
}

func TestBlobAggregatorMalformedIndex(t *testing.T) {
	ctx := context.Background()
	s := newLocalStorage(t)
	_, err := s.Put(ctx, ObjectKey, []byte("{not json"), "application/json")
	require.NoError(t, err)

	agg := NewBlobAggregator(s)
	err = agg.Update(ctx, "L", "A", 1)
	var re *ReadError
	require.ErrorAs(t, err, &re)

	// 原对象未被覆盖
	data, err := storage.ReadAll(ctx, s, ObjectKey)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
}

func TestBlobAggregatorKeepsExistingEntries(t *testing.T) {
	ctx := context.Background()
	s := newLocalStorage(t)
	existing := `{"lenses":{"Other":{"pillars":{"P":{"chunk_count":7,"last_updated":"2023-01-01T00:00:00Z"}}}}}`
	_, err := s.Put(ctx, ObjectKey, []byte(existing), "application/json")
	require.NoError(t, err)

	agg := NewBlobAggregator(s, WithClock(fixedClock))
	require.NoError(t, agg.Update(ctx, "L", "A", 1))

	idx, err := agg.Load(ctx)
	require.NoError(t, err)
	p, ok := idx.Lookup("Other", "P")
	require.True(t, ok)
	assert.Equal(t, 7, p.ChunkCount)
}

func TestRedisAggregatorMalformedEntry(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedisClient(t)
	mr.HSet(DefaultRedisKey, field("L", "A"), "garbage")

	agg := NewRedisAggregator(client, "", nil, nil)
	_, err := agg.Load(ctx)
	var re *ReadError
	assert.ErrorAs(t, err, &re)
}

func TestRedisAggregatorFieldPerPillar(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedisClient(t)
	agg := NewRedisAggregator(client, "idx", nil, nil, WithClock(fixedClock))

	require.NoError(t, agg.Update(ctx, "Lens:One", "Pillar", 4))
	keys, err := mr.HKeys("idx")
	require.NoError(t, err)
	assert.Equal(t, []string{`["Lens:One","Pillar"]`}, keys)

	lens, pillar, err := parseField(keys[0])
	require.NoError(t, err)
	assert.Equal(t, "Lens:One", lens)
	assert.Equal(t, "Pillar", pillar)
}

func TestNewAggregator(t *testing.T) {
	s := newLocalStorage(t)
	_, client := newRedisClient(t)

	agg, err := NewAggregator(Config{}, s, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &BlobAggregator{}, agg)

	agg, err = NewAggregator(Config{Backend: "redis"}, s, client, nil)
	require.NoError(t, err)
	assert.IsType(t, &RedisAggregator{}, agg)

	_, err = NewAggregator(Config{Backend: "redis"}, s, nil, nil)
	assert.Error(t, err)
	_, err = NewAggregator(Config{Backend: "etcd"}, s, client, nil)
	assert.Error(t, err)
}
