package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/vector-processor/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RunRepository 处理运行记录仓储接口
type RunRepository interface {
	// Create 创建运行记录
	Create(ctx context.Context, run *models.ProcessingRun) error

	// UpdateStage 更新当前阶段
	UpdateStage(ctx context.Context, id, stage string, chunkCount int) error

	// Complete 标记运行完成
	Complete(ctx context.Context, id string, storedCount int, keys []string) error

	// Fail 标记运行失败，记录已写入的数量
	Fail(ctx context.Context, id, stage, kind, message string, storedCount int, keys []string) error

	// Get 根据ID获取运行记录
	Get(ctx context.Context, id string) (*models.ProcessingRun, error)

	// ListBySource 按源文档列出运行记录，最新的在前
	ListBySource(ctx context.Context, sourceKey string, limit int) ([]*models.ProcessingRun, error)
}

// runRepository 运行记录仓储实现
type runRepository struct {
	db *gorm.DB
}

// NewRunRepository 使用指定的数据库连接创建运行记录仓储
func NewRunRepository(db *gorm.DB) RunRepository {
	return &runRepository{db: db}
}

// Create 创建运行记录
func (r *runRepository) Create(ctx context.Context, run *models.ProcessingRun) error {
	if run.ID == "" {
		return errors.New("run ID cannot be empty")
	}
	return r.db.WithContext(ctx).Create(run).Error
}

// UpdateStage 更新当前阶段
func (r *runRepository) UpdateStage(ctx context.Context, id, stage string, chunkCount int) error {
	updates := map[string]interface{}{
		"stage":      stage,
		"updated_at": time.Now(),
	}
	if chunkCount > 0 {
		updates["chunk_count"] = chunkCount
	}
	return r.update(ctx, id, updates)
}

// Complete 标记运行完成
func (r *runRepository) Complete(ctx context.Context, id string, storedCount int, keys []string) error {
	meta, err := keysJSON(keys)
	if err != nil {
		return err
	}
	now := time.Now()
	return r.update(ctx, id, map[string]interface{}{
		"stage":        "done",
		"status":       models.RunStatusCompleted,
		"stored_count": storedCount,
		"metadata":     meta,
		"finished_at":  &now,
		"updated_at":   now,
	})
}

// Fail 标记运行失败
func (r *runRepository) Fail(ctx context.Context, id, stage, kind, message string, storedCount int, keys []string) error {
	meta, err := keysJSON(keys)
	if err != nil {
		return err
	}
	now := time.Now()
	return r.update(ctx, id, map[string]interface{}{
		"stage":        stage,
		"status":       models.RunStatusFailed,
		"error_kind":   kind,
		"error":        message,
		"stored_count": storedCount,
		"metadata":     meta,
		"finished_at":  &now,
		"updated_at":   now,
	})
}

// Get 根据ID获取运行记录
func (r *runRepository) Get(ctx context.Context, id string) (*models.ProcessingRun, error) {
	var run models.ProcessingRun
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrRunNotFound, id)
		}
		return nil, err
	}
	return &run, nil
}

// ListBySource 按源文档列出运行记录
func (r *runRepository) ListBySource(ctx context.Context, sourceKey string, limit int) ([]*models.ProcessingRun, error) {
	var runs []*models.ProcessingRun
	query := r.db.WithContext(ctx).Where("source_key = ?", sourceKey).Order("started_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// update 按ID更新字段，记录不存在时返回ErrRunNotFound
func (r *runRepository) update(ctx context.Context, id string, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.ProcessingRun{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrRunNotFound, id)
	}
	return nil
}

// keysJSON 将已写入的键编码为JSON元数据
func keysJSON(keys []string) (datatypes.JSON, error) {
	if keys == nil {
		keys = []string{}
	}
	data, err := json.Marshal(map[string][]string{"keys": keys})
	if err != nil {
		return nil, fmt.Errorf("failed to encode run metadata: %w", err)
	}
	return datatypes.JSON(data), nil
}
