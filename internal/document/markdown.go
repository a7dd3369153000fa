package document

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// MarkdownParser Markdown文档解析器
type MarkdownParser struct{}

// NewMarkdownParser 创建新的Markdown解析器
func NewMarkdownParser() Parser {
	return &MarkdownParser{}
}

// Parse 解析Markdown文件并提取文本内容
func (p *MarkdownParser) Parse(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open markdown file: %v", err)
	}
	defer file.Close()

	return p.ParseReader(file, filePath)
}

// ParseReader 从Reader解析Markdown内容
func (p *MarkdownParser) ParseReader(r io.Reader, filename string) (string, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read markdown content: %v", err)
	}

	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	mdParser := parser.NewWithExtensions(extensions)
	doc := mdParser.Parse(content)

	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	htmlContent := markdown.Render(doc, renderer)

	return extractTextFromHTML(string(htmlContent)), nil
}

// blockReplacer 块级标签转换为换行，保留段落边界供分块时断句
var blockReplacer = strings.NewReplacer(
	"<br>", "\n",
	"<br/>", "\n",
	"<br />", "\n",
	"<p>", "",
	"</p>", "\n\n",
	"<li>", "- ",
	"</li>", "\n",
	"<ul>", "\n",
	"</ul>", "\n",
	"<ol>", "\n",
	"</ol>", "\n",
	"</h1>", "\n\n",
	"</h2>", "\n\n",
	"</h3>", "\n\n",
	"</h4>", "\n\n",
	"</h5>", "\n\n",
	"</h6>", "\n\n",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", "\"",
	"&#39;", "'",
)

// extractTextFromHTML 从HTML中提取纯文本
func extractTextFromHTML(htmlText string) string {
	// 先去掉带属性的标签，再替换块级标签和实体
	var b strings.Builder
	inTag := false
	tag := strings.Builder{}
	for _, r := range htmlText {
		switch {
		case r == '<':
			inTag = true
			tag.Reset()
			tag.WriteRune(r)
		case r == '>' && inTag:
			inTag = false
			tag.WriteRune(r)
			name := tag.String()
			if i := strings.IndexAny(name, " \t\n"); i > 0 {
				name = name[:i] + ">"
			}
			if out := blockReplacer.Replace(name); out != name {
				b.WriteString(out)
			}
		case inTag:
			tag.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}

	return normalizeWhitespace(blockReplacer.Replace(b.String()))
}

// normalizeWhitespace 规范化文本中的空白符
// 行内空白合并为单个空格，连续空行最多保留一个
func normalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	text = strings.Join(lines, "\n")

	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(text)
}
