package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fyerfyer/vector-processor/internal/metrics"
)

const (
	// 默认模型
	defaultTitanModel = "amazon.titan-embed-text-v2:0"

	// titanMaxErrorBody 错误响应体最多保留的字节数
	titanMaxErrorBody = 512
)

// TitanRequest Titan文本嵌入请求体
type TitanRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions"`
	Normalize  bool   `json:"normalize"`
}

// TitanResponse Titan文本嵌入响应体
type TitanResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount,omitempty"`
}

// TitanClient 通过HTTP调用Titan v2嵌入模型
// BaseURL指向模型调用端点，请求体按模型要求组装
type TitanClient struct {
	apiKey     string       // 网关密钥，可为空
	endpoint   string       // 调用端点
	model      string       // 模型名称
	httpClient *http.Client // HTTP客户端
	dimensions int          // 向量维度
	normalize  bool         // 是否归一化
}

// NewTitanClient 创建新的Titan嵌入客户端
func NewTitanClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("titan endpoint is required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultTitanModel
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1024
	}

	return &TitanClient{
		apiKey:     cfg.APIKey,
		endpoint:   expandEndpoint(cfg.BaseURL, model),
		model:      model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		dimensions: dimensions,
		normalize:  cfg.Normalize,
	}, nil
}

// expandEndpoint 端点中的{model}占位符替换为模型名称
func expandEndpoint(endpoint, model string) string {
	return strings.ReplaceAll(endpoint, "{model}", model)
}

// Name 返回模型名称
func (c *TitanClient) Name() string {
	return c.model
}

// Dimensions 返回向量维度
func (c *TitanClient) Dimensions() int {
	return c.dimensions
}

// Embed 生成单条文本的向量表示，失败时不重试
func (c *TitanClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	reqData := TitanRequest{
		InputText:  text,
		Dimensions: c.dimensions,
		Normalize:  c.normalize,
	}

	start := time.Now()
	var resp TitanResponse
	if err := c.sendRequest(ctx, reqData, &resp); err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues("titan", c.model, "error").Inc()
		return nil, err
	}
	metrics.EmbeddingRequestDuration.WithLabelValues("titan", c.model).Observe(time.Since(start).Seconds())

	vec, err := checkVector("titan", resp.Embedding, c.dimensions, c.normalize)
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues("titan", c.model, "error").Inc()
		return nil, err
	}
	metrics.EmbeddingRequestsTotal.WithLabelValues("titan", c.model, "success").Inc()
	return vec, nil
}

// sendRequest 发送API请求并解析响应
func (c *TitanClient) sendRequest(ctx context.Context, reqData interface{}, respObj interface{}) error {
	jsonData, err := json.Marshal(reqData)
	if err != nil {
		return NewServiceError("titan", ErrCodeInvalidRequest, "failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return NewServiceError("titan", ErrCodeInvalidRequest, "failed to create request", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return NewServiceError("titan", ErrCodeTimeout, "request timed out", err)
		}
		return NewServiceError("titan", ErrCodeNetworkError, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewServiceError("titan", ErrCodeNetworkError, "failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		se := NewServiceError("titan", codeForStatus(resp.StatusCode), errorMessage(body), nil)
		se.Status = resp.StatusCode
		return se
	}

	if err := json.Unmarshal(body, respObj); err != nil {
		return NewServiceError("titan", ErrCodeMalformedResponse, "failed to parse response", err)
	}
	return nil
}

// errorMessage 尝试从错误响应体中提取消息
func errorMessage(body []byte) string {
	var errResp struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil {
		if errResp.Message != "" {
			return errResp.Message
		}
		if errResp.Error != "" {
			return errResp.Error
		}
	}
	if len(body) > titanMaxErrorBody {
		body = body[:titanMaxErrorBody]
	}
	return string(body)
}

// 注册Titan客户端
func init() {
	RegisterClient("titan", NewTitanClient)
}
