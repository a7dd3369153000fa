package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyerfyer/vector-processor/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// newTitanServer 模拟Titan调用端点
func newTitanServer(t *testing.T, handler func(req TitanRequest) (int, interface{})) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req TitanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		status, body := handler(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		switch b := body.(type) {
		case string:
			w.Write([]byte(b))
		default:
			json.NewEncoder(w).Encode(b)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTitanClient(t *testing.T) {
	var got TitanRequest
	srv := newTitanServer(t, func(req TitanRequest) (int, interface{}) {
		got = req
		return http.StatusOK, TitanResponse{Embedding: []float32{3, 0, 4, 0}}
	})

	client, err := NewClient("titan",
		WithBaseURL(srv.URL+"/model/{model}/invoke"),
		WithDimensions(4),
		WithTimeout(5*time.Second),
	)
	require.NoError(t, err)
	assert.Equal(t, "amazon.titan-embed-text-v2:0", client.Name())
	assert.Equal(t, 4, client.Dimensions())

	vec, err := client.Embed(context.Background(), "hello titan")
	require.NoError(t, err)
	assert.Equal(t, "hello titan", got.InputText)
	assert.Equal(t, 4, got.Dimensions)
	assert.True(t, got.Normalize)

	require.Len(t, vec, 4)
	assert.InDelta(t, 1.0, vectorNorm(vec), 1e-6)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
}

func TestTitanClientEndpointExpansion(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewEncoder(w).Encode(TitanResponse{Embedding: []float32{1, 0}})
	}))
	defer srv.Close()

	client, err := NewTitanClient(WithBaseURL(srv.URL+"/model/{model}/invoke"), WithModel("custom-model"), WithDimensions(2))
	require.NoError(t, err)
	_, err = client.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "/model/custom-model/invoke", path)
}

func TestTitanClientErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("dimension mismatch", func(t *testing.T) {
		srv := newTitanServer(t, func(req TitanRequest) (int, interface{}) {
			return http.StatusOK, TitanResponse{Embedding: []float32{1, 2}}
		})
		client, err := NewTitanClient(WithBaseURL(srv.URL), WithDimensions(4))
		require.NoError(t, err)

		_, err = client.Embed(ctx, "text")
		var se *ServiceError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, ErrCodeDimensionMismatch, se.Code)
	})

	t.Run("server error", func(t *testing.T) {
		srv := newTitanServer(t, func(req TitanRequest) (int, interface{}) {
			return http.StatusServiceUnavailable, map[string]string{"message": "model overloaded"}
		})
		client, err := NewTitanClient(WithBaseURL(srv.URL), WithDimensions(4))
		require.NoError(t, err)

		_, err = client.Embed(ctx, "text")
		var se *ServiceError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusServiceUnavailable, se.Status)
		assert.Equal(t, ErrCodeServerError, se.Code)
		assert.Contains(t, se.Error(), "model overloaded")
	})

	t.Run("rejected request", func(t *testing.T) {
		srv := newTitanServer(t, func(req TitanRequest) (int, interface{}) {
			return http.StatusBadRequest, `{"message":"input too long"}`
		})
		client, err := NewTitanClient(WithBaseURL(srv.URL), WithDimensions(4))
		require.NoError(t, err)

		_, err = client.Embed(ctx, "text")
		var se *ServiceError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, ErrCodeInvalidRequest, se.Code)
	})

	t.Run("malformed response", func(t *testing.T) {
		srv := newTitanServer(t, func(req TitanRequest) (int, interface{}) {
			return http.StatusOK, `{"embedding": "nope"`
		})
		client, err := NewTitanClient(WithBaseURL(srv.URL), WithDimensions(4))
		require.NoError(t, err)

		_, err = client.Embed(ctx, "text")
		var se *ServiceError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, ErrCodeMalformedResponse, se.Code)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		client, err := NewTitanClient(WithBaseURL(url), WithDimensions(4))
		require.NoError(t, err)
		_, err = client.Embed(ctx, "text")
		assert.True(t, IsServiceError(err))
	})

	t.Run("empty input", func(t *testing.T) {
		client, err := NewTitanClient(WithBaseURL("http://localhost"), WithDimensions(4))
		require.NoError(t, err)
		_, err = client.Embed(ctx, "")
		assert.ErrorIs(t, err, ErrEmptyText)
	})

	t.Run("missing endpoint", func(t *testing.T) {
		_, err := NewTitanClient()
		assert.Error(t, err)
	})
}

// openAIResponse OpenAI兼容接口的响应结构
type openAIResponse struct {
	Object string `json:"object"`
	Data   []struct {
		Object    string    `json:"object"`
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func newOpenAIServer(t *testing.T, vec []float32, gotDims *int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		var req struct {
			Dimensions int `json:"dimensions"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if gotDims != nil {
			*gotDims = req.Dimensions
		}

		resp := openAIResponse{Object: "list", Model: "test-model"}
		resp.Data = append(resp.Data, struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}{Object: "embedding", Embedding: vec})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIClient(t *testing.T) {
	var dims int
	srv := newOpenAIServer(t, []float32{1, 1, 1, 1}, &dims)

	client, err := NewClient("openai",
		WithAPIKey("test-key"),
		WithBaseURL(srv.URL),
		WithModel("test-model"),
		WithDimensions(4),
	)
	require.NoError(t, err)
	assert.Equal(t, "test-model", client.Name())

	vec, err := client.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, 4, dims)
	require.Len(t, vec, 4)
	assert.InDelta(t, 0.5, vec[0], 1e-6)
}

func TestOpenAIClientWithoutNormalize(t *testing.T) {
	srv := newOpenAIServer(t, []float32{1, 2}, nil)

	client, err := NewOpenAIClient(WithAPIKey("test-key"), WithBaseURL(srv.URL), WithDimensions(2), WithNormalize(false))
	require.NoError(t, err)

	vec, err := client.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vec)
}

func TestOpenAIClientErrors(t *testing.T) {
	t.Run("dimension mismatch", func(t *testing.T) {
		srv := newOpenAIServer(t, []float32{1, 2, 3}, nil)
		client, err := NewOpenAIClient(WithAPIKey("test-key"), WithBaseURL(srv.URL), WithDimensions(4))
		require.NoError(t, err)

		_, err = client.Embed(context.Background(), "hello")
		var se *ServiceError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, ErrCodeDimensionMismatch, se.Code)
	})

	t.Run("api error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
		}))
		defer srv.Close()

		client, err := NewOpenAIClient(WithAPIKey("test-key"), WithBaseURL(srv.URL), WithDimensions(4))
		require.NoError(t, err)

		_, err = client.Embed(context.Background(), "hello")
		var se *ServiceError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusTooManyRequests, se.Status)
		assert.Equal(t, ErrCodeRateLimited, se.Code)
	})

	t.Run("missing api key", func(t *testing.T) {
		_, err := NewOpenAIClient()
		assert.Error(t, err)
	})
}

func TestNewClientUnknownProvider(t *testing.T) {
	_, err := NewClient("nope")
	assert.Error(t, err)
	assert.Contains(t, Providers(), "openai")
	assert.Contains(t, Providers(), "titan")
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []float32{0, 0}, Normalize([]float32{0, 0}))
	vec := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)
}

// countingClient 记录调用次数的嵌入客户端
type countingClient struct {
	calls int32
	err   error
}

func (c *countingClient) Embed(_ context.Context, text string) ([]float32, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingClient) Name() string    { return "counting" }
func (c *countingClient) Dimensions() int { return 2 }

// failingCache 读写都失败的缓存
type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache down")
}
func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}
func (failingCache) Delete(context.Context, string) error { return nil }
func (failingCache) Clear(context.Context) error          { return nil }

func TestCachedClient(t *testing.T) {
	ctx := context.Background()
	mem, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)

	inner := &countingClient{}
	client := NewCachedClient(inner, mem, time.Minute, nil)
	assert.Equal(t, "counting", client.Name())
	assert.Equal(t, 2, client.Dimensions())

	first, err := client.Embed(ctx, "abc")
	require.NoError(t, err)
	second, err := client.Embed(ctx, "abc")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.calls))

	_, err = client.Embed(ctx, "abcd")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&inner.calls))
}

func TestCachedClientBypassesBrokenCache(t *testing.T) {
	inner := &countingClient{}
	client := NewCachedClient(inner, failingCache{}, time.Minute, nil)

	vec, err := client.Embed(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1}, vec)
}

func TestCachedClientDoesNotCacheErrors(t *testing.T) {
	mem, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)

	inner := &countingClient{err: NewServiceError("counting", ErrCodeServerError, "boom", nil)}
	client := NewCachedClient(inner, mem, time.Minute, nil)

	_, err = client.Embed(context.Background(), "abc")
	assert.True(t, IsServiceError(err))
	_, err = client.Embed(context.Background(), "abc")
	assert.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&inner.calls))
}

func TestVectorCodec(t *testing.T) {
	vec := []float32{0.25, -1.5, 3}
	decoded, ok := decodeVector(encodeVector(vec), 3)
	require.True(t, ok)
	assert.Equal(t, vec, decoded)

	_, ok = decodeVector(encodeVector(vec), 4)
	assert.False(t, ok)
	_, ok = decodeVector([]byte{1, 2, 3}, 0)
	assert.False(t, ok)
}
