package model

// ProcessRequest 文档处理请求
// 字段是否缺失由流水线统一校验
type ProcessRequest struct {
	SourceKey  string `json:"source_key"`  // 源文档键
	LensName   string `json:"lens_name"`   // 镜头名称
	Pillar     string `json:"pillar"`      // 支柱名称
	SourceFile string `json:"source_file"` // 原始文件名
}

// EnqueueRequest 异步处理请求
type EnqueueRequest struct {
	ProcessRequest
	DelaySeconds int `json:"delay_seconds" binding:"omitempty,min=0,max=86400"` // 延迟执行秒数
}

// ChunkRequest 分块记录查询参数
type ChunkRequest struct {
	Lens   string `uri:"lens" binding:"required"`   // 镜头名称或规范化键
	Pillar string `uri:"pillar" binding:"required"` // 支柱名称或规范化键
	ID     string `uri:"id" binding:"required"`     // 分块标识
}

// RunListRequest 运行记录列表参数
type RunListRequest struct {
	SourceKey string `form:"source_key" binding:"required"`           // 源文档键
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=100"` // 返回数量上限
}

// GetLimit 获取返回数量，默认为20
func (r *RunListRequest) GetLimit() int {
	if r.Limit <= 0 {
		return 20
	}
	return r.Limit
}
