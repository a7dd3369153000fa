package embedding

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Client 嵌入模型客户端接口
// 负责将文本转换为固定维度的向量表示
type Client interface {
	// Embed 生成单条文本的向量表示
	Embed(ctx context.Context, text string) ([]float32, error)

	// Name 返回模型名称
	Name() string

	// Dimensions 返回向量维度
	Dimensions() int
}

// Config 嵌入客户端配置
type Config struct {
	APIKey     string        // API密钥
	BaseURL    string        // API基础URL
	Model      string        // 模型名称
	Timeout    time.Duration // 单次请求超时时间
	Dimensions int           // 向量维度
	Normalize  bool          // 是否输出单位向量
}

// Option 客户端配置选项函数类型
type Option func(*Config)

// WithAPIKey 设置API密钥
func WithAPIKey(apiKey string) Option {
	return func(c *Config) {
		c.APIKey = apiKey
	}
}

// WithBaseURL 设置API基础URL
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithModel 设置模型名称
func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

// WithTimeout 设置请求超时时间
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithDimensions 设置向量维度
func WithDimensions(dimensions int) Option {
	return func(c *Config) {
		c.Dimensions = dimensions
	}
}

// WithNormalize 设置是否归一化
func WithNormalize(normalize bool) Option {
	return func(c *Config) {
		c.Normalize = normalize
	}
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Timeout:    30 * time.Second,
		Dimensions: 1024,
		Normalize:  true,
	}
}

// NewConfig 创建一个新的配置并应用选项
func NewConfig(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Factory 嵌入客户端工厂函数类型
type Factory func(opts ...Option) (Client, error)

// 全局注册的嵌入客户端工厂函数
var clientFactories = make(map[string]Factory)

// RegisterClient 注册嵌入客户端工厂函数
func RegisterClient(name string, factory Factory) {
	clientFactories[name] = factory
}

// Providers 返回已注册的客户端名称
func Providers() []string {
	names := make([]string, 0, len(clientFactories))
	for name := range clientFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewClient 根据名称创建嵌入客户端
func NewClient(name string, opts ...Option) (Client, error) {
	factory, exists := clientFactories[name]
	if !exists {
		return nil, fmt.Errorf("embedding client type not registered: %s", name)
	}
	return factory(opts...)
}

// checkVector 校验服务返回的向量并按需归一化
func checkVector(provider string, vec []float32, dimensions int, normalize bool) ([]float32, error) {
	if len(vec) == 0 {
		return nil, NewServiceError(provider, ErrCodeMalformedResponse, "no embedding returned", nil)
	}
	if dimensions > 0 && len(vec) != dimensions {
		return nil, NewServiceError(provider, ErrCodeDimensionMismatch,
			fmt.Sprintf("expected %d dimensions, got %d", dimensions, len(vec)), nil)
	}
	if normalize {
		return Normalize(vec), nil
	}
	return vec, nil
}
