package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// DefaultLength 默认标识长度（十六进制字符数）
const DefaultLength = 16

// Generator 分块标识生成器
// 标识是文本与元数据的纯函数，重复处理同一输入得到同一标识
type Generator struct {
	length int
}

// NewGenerator 创建标识生成器
// length为0或不小于64时保留完整的sha256十六进制摘要
func NewGenerator(length int) *Generator {
	if length < 0 {
		length = DefaultLength
	}
	return &Generator{length: length}
}

// Length 返回标识长度
func (g *Generator) Length() int {
	if g.length == 0 || g.length >= sha256.Size*2 {
		return sha256.Size * 2
	}
	return g.length
}

// ID 计算分块标识
// 规范字节为文本拼接按键排序的元数据JSON
func (g *Generator) ID(text string, meta map[string]interface{}) string {
	sum := sha256.Sum256(canonical(text, meta))
	return hex.EncodeToString(sum[:])[:g.Length()]
}

// canonical encoding/json对map按键排序输出，保证相同元数据编码一致
func canonical(text string, meta map[string]interface{}) []byte {
	if meta == nil {
		meta = map[string]interface{}{}
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		// 无法编码的值退化为只对文本取摘要
		encoded = []byte("{}")
	}
	buf := make([]byte, 0, len(text)+len(encoded))
	buf = append(buf, text...)
	return append(buf, encoded...)
}
