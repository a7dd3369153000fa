package document

import (
	"io"
	"path/filepath"
	"strings"
)

// Parser 文档解析器接口
// 负责将不同格式的文档解析为纯文本
type Parser interface {
	// Parse 解析文档，返回文本内容
	Parse(filePath string) (string, error)

	// ParseReader 从Reader解析文档，返回文本内容
	// filename用于确定文档类型
	ParseReader(r io.Reader, filename string) (string, error)
}

// ContentType 表示文档的内容类型
type ContentType string

const (
	// PDF 文档类型
	PDF ContentType = "pdf"
	// Markdown 文档类型
	Markdown ContentType = "markdown"
	// PlainText 纯文本类型
	PlainText ContentType = "plaintext"
)

// ParserFactory 解析器工厂函数，根据文件类型创建对应的解析器
// 无法识别的扩展名按UTF-8纯文本处理
func ParserFactory(filePath string) Parser {
	switch DetectContentType(filePath) {
	case PDF:
		return NewPDFParser()
	case Markdown:
		return NewMarkdownParser()
	default:
		return NewPlainTextParser()
	}
}

// DetectContentType 根据文件扩展名检测内容类型
func DetectContentType(filePath string) ContentType {
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".pdf":
		return PDF
	case ".md", ".markdown":
		return Markdown
	default:
		return PlainText
	}
}
