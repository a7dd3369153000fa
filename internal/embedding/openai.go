package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/vector-processor/internal/metrics"
	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "text-embedding-3-small"

// OpenAIClient OpenAI兼容接口的嵌入客户端
type OpenAIClient struct {
	client     *openai.Client // OpenAI API客户端
	model      string         // 使用的嵌入模型
	timeout    time.Duration  // 单次请求超时
	dimensions int            // 向量维度
	normalize  bool           // 是否归一化
}

// NewOpenAIClient 创建一个新的OpenAI嵌入客户端
func NewOpenAIClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	// 自定义端点，兼容其他OpenAI协议的服务
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		dimensions: cfg.Dimensions,
		normalize:  cfg.Normalize,
	}, nil
}

// Name 返回模型名称
func (c *OpenAIClient) Name() string {
	return c.model
}

// Dimensions 返回向量维度
func (c *OpenAIClient) Dimensions() int {
	return c.dimensions
}

// Embed 对单个文本生成嵌入向量，失败时不重试
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          openai.EmbeddingModel(c.model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if c.dimensions > 0 {
		req.Dimensions = c.dimensions
	}

	start := time.Now()
	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues("openai", c.model, "error").Inc()
		return nil, mapOpenAIError(err)
	}
	metrics.EmbeddingRequestDuration.WithLabelValues("openai", c.model).Observe(time.Since(start).Seconds())

	if len(resp.Data) == 0 {
		metrics.EmbeddingRequestsTotal.WithLabelValues("openai", c.model, "error").Inc()
		return nil, NewServiceError("openai", ErrCodeMalformedResponse, "empty embedding response", nil)
	}

	vec, err := checkVector("openai", resp.Data[0].Embedding, c.dimensions, c.normalize)
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues("openai", c.model, "error").Inc()
		return nil, err
	}
	metrics.EmbeddingRequestsTotal.WithLabelValues("openai", c.model, "success").Inc()
	return vec, nil
}

// mapOpenAIError 将SDK错误转换为ServiceError
func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		se := NewServiceError("openai", codeForStatus(apiErr.HTTPStatusCode), apiErr.Message, err)
		se.Status = apiErr.HTTPStatusCode
		return se
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		se := NewServiceError("openai", codeForStatus(reqErr.HTTPStatusCode), string(reqErr.Body), err)
		se.Status = reqErr.HTTPStatusCode
		return se
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewServiceError("openai", ErrCodeTimeout, "request timed out", err)
	}
	return NewServiceError("openai", ErrCodeNetworkError, "request failed", err)
}

// codeForStatus 根据HTTP状态码确定错误码
func codeForStatus(status int) int {
	switch {
	case status == 429:
		return ErrCodeRateLimited
	case status >= 500:
		return ErrCodeServerError
	default:
		return ErrCodeInvalidRequest
	}
}

// 在包初始化时注册OpenAI客户端
func init() {
	RegisterClient("openai", NewOpenAIClient)
}
