package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RunStatus 处理运行状态
type RunStatus string

const (
	// RunStatusRunning 运行中
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted 运行完成
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed 运行失败
	RunStatusFailed RunStatus = "failed"
)

// ProcessingRun 一次文档处理运行的记录
// 失败时StoredCount记录已写入、未回滚的分块数量
type ProcessingRun struct {
	ID          string         `gorm:"primaryKey;size:36"`     // 运行ID
	SourceKey   string         `gorm:"not null;index"`         // 源文档键
	LensName    string         `gorm:"not null;index"`         // lens名称
	Pillar      string         `gorm:"not null"`               // pillar名称
	SourceFile  string         `gorm:"not null"`               // 源文件名
	TaskID      string         `gorm:"size:64;index"`          // 关联的队列任务ID
	Stage       string         `gorm:"size:20;not null"`       // 当前阶段
	Status      RunStatus      `gorm:"size:20;not null;index"` // 运行状态
	ChunkCount  int            `gorm:"not null;default:0"`     // 分块数量
	StoredCount int            `gorm:"not null;default:0"`     // 已写入的记录数
	ErrorKind   string         `gorm:"size:32"`                // 错误类别
	Error       string         `gorm:"type:text"`              // 错误信息
	Metadata    datatypes.JSON `gorm:"type:json"`              // 已写入的键等附加信息
	StartedAt   time.Time      `gorm:"not null;index"`         // 开始时间
	FinishedAt  *time.Time     `gorm:"index"`                  // 结束时间
	UpdatedAt   time.Time      `gorm:"not null"`               // 更新时间
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (r *ProcessingRun) BeforeCreate(tx *gorm.DB) (err error) {
	now := time.Now()
	if r.StartedAt.IsZero() {
		r.StartedAt = now
	}
	r.UpdatedAt = now
	if r.Status == "" {
		r.Status = RunStatusRunning
	}
	return nil
}

// BeforeUpdate GORM的钩子函数，更新记录前自动设置更新时间
func (r *ProcessingRun) BeforeUpdate(tx *gorm.DB) (err error) {
	r.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (ProcessingRun) TableName() string {
	return "processing_runs"
}

// Duration 返回运行耗时，未结束时为0
func (r *ProcessingRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
