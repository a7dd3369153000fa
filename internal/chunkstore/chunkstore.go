package chunkstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyerfyer/vector-processor/pkg/storage"
)

// KeyPrefix 分块记录的存储前缀
const KeyPrefix = "embeddings"

// Metadata 分块元数据
type Metadata struct {
	LensName    string    `json:"lens_name"`
	Pillar      string    `json:"pillar"`
	SourceFile  string    `json:"source_file"`
	ChunkIndex  int       `json:"chunk_index"`
	StartChar   int       `json:"start_char"`
	EndChar     int       `json:"end_char"`
	ProcessedAt time.Time `json:"processed_at"`
}

// IdentityFields 参与标识计算的元数据字段，不含处理时间
func (m Metadata) IdentityFields() map[string]interface{} {
	return map[string]interface{}{
		"lens_name":   m.LensName,
		"pillar":      m.Pillar,
		"source_file": m.SourceFile,
		"chunk_index": m.ChunkIndex,
		"start_char":  m.StartChar,
		"end_char":    m.EndChar,
	}
}

// Record 分块记录：文本、向量与元数据
type Record struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
	Metadata  Metadata  `json:"metadata"`
}

// WriteError 分块记录写入失败
type WriteError struct {
	Key string
	Err error
}

// Error 实现error接口
func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write chunk record %s: %v", e.Key, e.Err)
}

// Unwrap 返回底层错误
func (e *WriteError) Unwrap() error {
	return e.Err
}

// ErrNotFound 分块记录不存在
var ErrNotFound = errors.New("chunk record not found")

// Store 分块记录存储，布局为 embeddings/{lens}/{pillar}/{id}.json
type Store struct {
	storage storage.Storage
}

// New 创建分块存储
func New(s storage.Storage) *Store {
	return &Store{storage: s}
}

// NormalizeKey 规范化路径片段：转小写，空格替换为连字符
func NormalizeKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "-")
}

// Key 返回分块记录的存储键
func Key(lens, pillar, id string) string {
	return fmt.Sprintf("%s/%s/%s/%s.json", KeyPrefix, NormalizeKey(lens), NormalizeKey(pillar), id)
}

// Put 写入分块记录，已存在时直接覆盖
func (s *Store) Put(ctx context.Context, rec *Record) (string, error) {
	if rec == nil || rec.ID == "" {
		return "", &WriteError{Err: errors.New("record id is required")}
	}

	key := Key(rec.Metadata.LensName, rec.Metadata.Pillar, rec.ID)
	data, err := json.Marshal(rec)
	if err != nil {
		return "", &WriteError{Key: key, Err: fmt.Errorf("failed to encode record: %w", err)}
	}

	if _, err := s.storage.Put(ctx, key, data, "application/json"); err != nil {
		return "", &WriteError{Key: key, Err: err}
	}
	return key, nil
}

// Get 读取分块记录
func (s *Store) Get(ctx context.Context, lens, pillar, id string) (*Record, error) {
	key := Key(lens, pillar, id)
	data, err := storage.ReadAll(ctx, s.storage, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to read chunk record %s: %w", key, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode chunk record %s: %w", key, err)
	}
	return &rec, nil
}

// List 列出某个分组下的所有分块记录键
func (s *Store) List(ctx context.Context, lens, pillar string) ([]string, error) {
	prefix := fmt.Sprintf("%s/%s/%s/", KeyPrefix, NormalizeKey(lens), NormalizeKey(pillar))
	objects, err := s.storage.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunk records: %w", err)
	}
	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		keys = append(keys, obj.Key)
	}
	return keys, nil
}
