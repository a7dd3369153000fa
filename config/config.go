package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用程序配置结构体
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Embed    EmbedConfig    `mapstructure:"embed"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Database DatabaseConfig `mapstructure:"database"`
	Document DocumentConfig `mapstructure:"document"`
	Index    IndexConfig    `mapstructure:"index"`
	Identity IdentityConfig `mapstructure:"identity"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`          // 服务器主机
	Port         int           `mapstructure:"port"`          // 服务器端口
	Mode         string        `mapstructure:"mode"`          // gin运行模式
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`  // 读取超时
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // 写入超时
}

// StorageConfig 存储配置
type StorageConfig struct {
	Type      string `mapstructure:"type"`     // 存储类型：local 或 minio
	Path      string `mapstructure:"path"`     // 本地存储路径
	Bucket    string `mapstructure:"bucket"`   // MinIO桶名称
	Endpoint  string `mapstructure:"endpoint"` // MinIO端点
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"` // 是否使用SSL
}

// EmbedConfig 向量嵌入模型配置
type EmbedConfig struct {
	Provider   string        `mapstructure:"provider"`   // 提供商：titan 或 openai
	Model      string        `mapstructure:"model"`      // 模型名称
	APIKey     string        `mapstructure:"api_key"`    // API密钥（如果需要）
	Endpoint   string        `mapstructure:"endpoint"`   // API端点
	Dimensions int           `mapstructure:"dimensions"` // 向量维度
	Normalize  bool          `mapstructure:"normalize"`  // 是否输出单位向量
	Timeout    time.Duration `mapstructure:"timeout"`    // 单次请求超时
}

// CacheConfig 嵌入缓存配置
type CacheConfig struct {
	Enable    bool   `mapstructure:"enable"`     // 是否启用缓存
	Type      string `mapstructure:"type"`       // 缓存类型：memory 或 redis
	Address   string `mapstructure:"address"`    // Redis地址
	Password  string `mapstructure:"password"`   // Redis密码
	DB        int    `mapstructure:"db"`         // Redis数据库
	TTL       int    `mapstructure:"ttl"`        // 缓存TTL（秒）
	KeyPrefix string `mapstructure:"key_prefix"` // Redis键前缀
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	Enable        bool          `mapstructure:"enable"`         // 是否启用任务队列
	Type          string        `mapstructure:"type"`           // 队列类型
	RedisAddr     string        `mapstructure:"redis_addr"`     // Redis地址
	RedisPassword string        `mapstructure:"redis_password"` // Redis密码
	RedisDB       int           `mapstructure:"redis_db"`       // Redis数据库编号
	Concurrency   int           `mapstructure:"concurrency"`    // 任务处理并发数
	RetryLimit    int           `mapstructure:"retry_limit"`    // 任务最大重试次数
	RetryDelay    int           `mapstructure:"retry_delay"`    // 重试延迟(秒)
	TaskTTL       time.Duration `mapstructure:"task_ttl"`       // 任务记录保留时间
}

// DatabaseConfig 运行记录数据库配置
type DatabaseConfig struct {
	Enable bool   `mapstructure:"enable"` // 是否记录运行历史
	Type   string `mapstructure:"type"`   // 数据库类型: sqlite
	DSN    string `mapstructure:"dsn"`    // 数据源名称
}

// DocumentConfig 文档分块配置
type DocumentConfig struct {
	ChunkTokens   int     `mapstructure:"chunk_tokens"`    // 每块目标token数
	OverlapTokens int     `mapstructure:"overlap_tokens"`  // 重叠token数
	CharsPerToken int     `mapstructure:"chars_per_token"` // 每token字符数
	SnapRatio     float64 `mapstructure:"snap_ratio"`      // 边界回退的最小比例
}

// IndexConfig 索引聚合配置
type IndexConfig struct {
	Backend       string `mapstructure:"backend"`        // blob 或 redis
	RedisKey      string `mapstructure:"redis_key"`      // Redis哈希键
	RedisAddr     string `mapstructure:"redis_addr"`     // Redis地址
	RedisPassword string `mapstructure:"redis_password"` // Redis密码
	RedisDB       int    `mapstructure:"redis_db"`       // Redis数据库编号
}

// IdentityConfig 分块标识配置
type IdentityConfig struct {
	Length int `mapstructure:"length"` // 标识长度，0表示完整摘要
}

// PipelineConfig 流水线配置
type PipelineConfig struct {
	Concurrency int           `mapstructure:"concurrency"`  // 嵌入并发度
	Timeout     time.Duration `mapstructure:"timeout"`      // 单次运行超时
	SubmitDelay time.Duration `mapstructure:"submit_delay"` // 清单提交间隔
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`        // 日志级别
	File       string `mapstructure:"file"`         // 日志文件，为空时只输出到标准输出
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // 单个文件最大尺寸
	MaxBackups int    `mapstructure:"max_backups"`  // 保留的旧文件数
	MaxAgeDays int    `mapstructure:"max_age_days"` // 旧文件保留天数
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"` // 是否暴露Prometheus指标
	Path   string `mapstructure:"path"`   // 指标路径
}

// Load 从文件和环境变量加载配置
// 先加载.env，文件缺失时写出一份默认配置
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Warning: failed to load .env file: %v", err)
	}

	if configPath == "" {
		configPath = "config.yaml"
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)

	if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
		log.Printf("Warning: Config file not found at %s, using defaults", configPath)
		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err == nil {
			if err := v.WriteConfigAs(configPath); err != nil {
				log.Printf("Warning: Could not write default config to %s: %v", configPath, err)
			}
		}
	} else if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// 支持环境变量覆盖，例如 EMBED_API_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	processEnvironmentVariables(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "local", "minio":
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
	switch c.Index.Backend {
	case "blob", "redis":
	default:
		return fmt.Errorf("unsupported index backend: %s", c.Index.Backend)
	}
	if c.Identity.Length < 0 || c.Identity.Length > 64 {
		return fmt.Errorf("identity length must be in [0,64], got %d", c.Identity.Length)
	}
	if c.Pipeline.Concurrency < 1 {
		return fmt.Errorf("pipeline concurrency must be positive, got %d", c.Pipeline.Concurrency)
	}
	return nil
}

// processEnvironmentVariables 展开密钥类配置中的${VAR}
func processEnvironmentVariables(cfg *Config) {
	for _, field := range []*string{
		&cfg.Embed.APIKey,
		&cfg.Storage.AccessKey,
		&cfg.Storage.SecretKey,
		&cfg.Cache.Password,
		&cfg.Queue.RedisPassword,
		&cfg.Index.RedisPassword,
	} {
		*field = expandEnv(*field)
	}
}

// expandEnv 值形如${VAR}且环境变量存在时替换
func expandEnv(value string) string {
	if !strings.HasPrefix(value, "${") || !strings.HasSuffix(value, "}") {
		return value
	}
	if envVal := os.Getenv(value[2 : len(value)-1]); envVal != "" {
		return envVal
	}
	return value
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")

	// 存储默认配置
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.path", "./data/objects")
	v.SetDefault("storage.bucket", "vector-processor")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.use_ssl", false)

	// Embedding默认配置
	v.SetDefault("embed.provider", "titan")
	v.SetDefault("embed.model", "amazon.titan-embed-text-v2:0")
	v.SetDefault("embed.api_key", "${EMBED_API_KEY}")
	v.SetDefault("embed.endpoint", "http://localhost:8081/model/{model}/invoke")
	v.SetDefault("embed.dimensions", 1024)
	v.SetDefault("embed.normalize", true)
	v.SetDefault("embed.timeout", "30s")

	// 缓存默认配置
	v.SetDefault("cache.enable", true)
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", 86400) // 1天
	v.SetDefault("cache.key_prefix", "vp:cache:")

	// 队列默认配置
	v.SetDefault("queue.enable", false)
	v.SetDefault("queue.type", "redis")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_password", "")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.retry_limit", 3)
	v.SetDefault("queue.retry_delay", 60) // 60秒
	v.SetDefault("queue.task_ttl", "168h")

	// 数据库默认配置
	v.SetDefault("database.enable", true)
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "data/runs.db")

	// 文档分块默认配置
	v.SetDefault("document.chunk_tokens", 800)
	v.SetDefault("document.overlap_tokens", 60)
	v.SetDefault("document.chars_per_token", 4)
	v.SetDefault("document.snap_ratio", 0.7)

	// 索引默认配置
	v.SetDefault("index.backend", "blob")
	v.SetDefault("index.redis_key", "vp:index")
	v.SetDefault("index.redis_addr", "localhost:6379")
	v.SetDefault("index.redis_password", "")
	v.SetDefault("index.redis_db", 0)

	v.SetDefault("identity.length", 16)

	// 流水线默认配置
	v.SetDefault("pipeline.concurrency", 1)
	v.SetDefault("pipeline.timeout", "15m")
	v.SetDefault("pipeline.submit_delay", "2s")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
}
