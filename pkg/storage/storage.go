package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

var (
	// ErrNotFound 对象不存在
	ErrNotFound = errors.New("object not found")

	// ErrInvalidKey 对象键非法
	ErrInvalidKey = errors.New("invalid object key")
)

// ObjectInfo 对象元数据结构
type ObjectInfo struct {
	Key          string    // 对象键（以/分隔的逻辑路径）
	Size         int64     // 对象大小(字节)
	ContentType  string    // MIME类型
	ETag         string    // 内容标签（实现相关）
	LastModified time.Time // 最后修改时间
}

// Storage 对象存储接口
// 以键值方式读写对象，可以有不同实现(本地文件系统、MinIO等)
type Storage interface {
	// Get 获取对象内容，对象不存在时返回ErrNotFound
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Put 写入对象，已存在则覆盖
	Put(ctx context.Context, key string, data []byte, contentType string) (ObjectInfo, error)

	// Delete 删除对象
	Delete(ctx context.Context, key string) error

	// List 列出指定前缀下的所有对象
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Exists 检查对象是否存在
	Exists(ctx context.Context, key string) (bool, error)
}

// Config 存储配置
type Config struct {
	Type      string // 存储类型：local 或 minio
	Path      string // 本地存储根目录
	Endpoint  string // MinIO服务端点
	AccessKey string // 访问密钥ID
	SecretKey string // 秘密访问密钥
	UseSSL    bool   // 是否使用SSL
	Bucket    string // 存储桶名称
}

// New 根据配置创建存储实例
func New(cfg Config) (Storage, error) {
	switch cfg.Type {
	case "", "local":
		s, err := NewLocalStorage(LocalConfig{Path: cfg.Path})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "minio", "s3":
		s, err := NewMinioStorage(MinioConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Bucket:    cfg.Bucket,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// ReadAll 读取对象的全部内容
func ReadAll(ctx context.Context, s Storage, key string) ([]byte, error) {
	r, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

// cleanKey 规范化对象键，拒绝越界路径
func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	cleaned := path.Clean(key)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	return cleaned, nil
}

// getMimeType 简单根据文件扩展名判断MIME类型
func getMimeType(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt":
		return "text/plain"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
