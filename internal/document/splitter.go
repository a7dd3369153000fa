package document

import (
	"fmt"
	"strings"
)

// Chunk 文本分块，偏移量以字符（rune）计，区间左闭右开
type Chunk struct {
	Text      string `json:"text"`
	Index     int    `json:"chunk_index"`
	StartChar int    `json:"start_char"`
	EndChar   int    `json:"end_char"`
}

// Splitter 文本分块器接口
type Splitter interface {
	Split(text string) ([]Chunk, error)
}

// SplitterConfig 分块器配置
// 窗口大小与重叠量以token计，按CharsPerToken换算为字符数
type SplitterConfig struct {
	ChunkTokens   int     // 每块token数
	OverlapTokens int     // 相邻块重叠token数
	CharsPerToken int     // 每token字符数
	SnapRatio     float64 // 断句点须超过窗口的该比例才会截断
}

// DefaultSplitterConfig 返回默认分块器配置
func DefaultSplitterConfig() SplitterConfig {
	return SplitterConfig{
		ChunkTokens:   800,
		OverlapTokens: 60,
		CharsPerToken: 4,
		SnapRatio:     0.7,
	}
}

// Validate 校验配置
func (c SplitterConfig) Validate() error {
	if c.ChunkTokens <= 0 {
		return fmt.Errorf("chunk tokens must be positive, got %d", c.ChunkTokens)
	}
	if c.CharsPerToken <= 0 {
		return fmt.Errorf("chars per token must be positive, got %d", c.CharsPerToken)
	}
	if c.OverlapTokens < 0 {
		return fmt.Errorf("overlap tokens must not be negative, got %d", c.OverlapTokens)
	}
	if c.SnapRatio < 0 || c.SnapRatio >= 1 {
		return fmt.Errorf("snap ratio must be in [0,1), got %v", c.SnapRatio)
	}
	return nil
}

// CharChunkSize 窗口字符数
func (c SplitterConfig) CharChunkSize() int {
	return c.ChunkTokens * c.CharsPerToken
}

// CharOverlap 重叠字符数
func (c SplitterConfig) CharOverlap() int {
	return c.OverlapTokens * c.CharsPerToken
}

// WindowSplitter 滑动窗口分块器
// 窗口末尾若在后段出现句点或换行，则在该处截断
type WindowSplitter struct {
	config SplitterConfig
}

// NewWindowSplitter 创建滑动窗口分块器
func NewWindowSplitter(config SplitterConfig) (*WindowSplitter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid splitter config: %w", err)
	}
	return &WindowSplitter{config: config}, nil
}

// Config 返回分块器配置
func (s *WindowSplitter) Config() SplitterConfig {
	return s.config
}

// Split 将文本切分为有序、索引连续的分块
func (s *WindowSplitter) Split(text string) ([]Chunk, error) {
	runes := []rune(text)
	n := len(runes)
	chunks := []Chunk{}
	if n == 0 {
		return chunks, nil
	}

	size := s.config.CharChunkSize()
	overlap := s.config.CharOverlap()
	threshold := float64(size) * s.config.SnapRatio

	for start := 0; start < n; {
		end := start + size
		if end > n {
			end = n
		}

		if end < n {
			if bp := lastBreak(runes[start:end]); bp >= 0 && float64(bp) > threshold {
				end = start + bp + 1
			}
		}

		// 纯空白窗口不产出分块
		if t := strings.TrimSpace(string(runes[start:end])); t != "" {
			chunks = append(chunks, Chunk{
				Text:      t,
				Index:     len(chunks),
				StartChar: start,
				EndChar:   end,
			})
		}

		if end >= n {
			break
		}

		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks, nil
}

// lastBreak 返回窗口内最后一个句点或换行的位置，没有则返回-1
func lastBreak(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == '.' || window[i] == '\n' {
			return i
		}
	}
	return -1
}
