package services

import (
	"context"
	"errors"
	"time"

	"github.com/fyerfyer/vector-processor/internal/models"
	"github.com/fyerfyer/vector-processor/internal/repository"
	"github.com/sirupsen/logrus"
)

// RunRecorder 记录流水线运行过程
// 实现不得影响运行结果，内部错误自行处理
type RunRecorder interface {
	Start(ctx context.Context, runID string, ev Event)
	Stage(ctx context.Context, runID string, stage Stage, chunkCount int)
	Complete(ctx context.Context, runID string, storedCount int, keys []string)
	Fail(ctx context.Context, runID string, stage Stage, kind ErrorKind, err error, storedCount int, keys []string)
}

// noopRecorder 不记录任何内容
type noopRecorder struct{}

func (noopRecorder) Start(context.Context, string, Event) {}
func (noopRecorder) Stage(context.Context, string, Stage, int) {}
func (noopRecorder) Complete(context.Context, string, int, []string) {}
func (noopRecorder) Fail(context.Context, string, Stage, ErrorKind, error, int, []string) {}

// RunStatusManager 运行状态管理器
// 将流水线的阶段变化持久化到运行记录仓储，写入失败只记录日志
type RunStatusManager struct {
	repo   repository.RunRepository // 运行记录仓储
	logger *logrus.Logger           // 日志记录器
	taskID func(ctx context.Context) string
}

// NewRunStatusManager 创建运行状态管理器
func NewRunStatusManager(repo repository.RunRepository, logger *logrus.Logger) *RunStatusManager {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}
	return &RunStatusManager{
		repo:   repo,
		logger: logger,
		taskID: TaskIDFromContext,
	}
}

// Start 创建运行记录
func (m *RunStatusManager) Start(ctx context.Context, runID string, ev Event) {
	run := &models.ProcessingRun{
		ID:         runID,
		SourceKey:  ev.SourceKey,
		LensName:   ev.LensName,
		Pillar:     ev.Pillar,
		SourceFile: ev.SourceFile,
		TaskID:     m.taskID(ctx),
		Stage:      string(StageFetching),
		Status:     models.RunStatusRunning,
		StartedAt:  time.Now(),
	}
	if err := m.repo.Create(ctx, run); err != nil {
		m.warn(runID, "create", err)
	}
}

// Stage 更新当前阶段
func (m *RunStatusManager) Stage(ctx context.Context, runID string, stage Stage, chunkCount int) {
	if err := m.repo.UpdateStage(ctx, runID, string(stage), chunkCount); err != nil {
		m.warn(runID, "update stage", err)
	}
}

// Complete 标记运行完成
func (m *RunStatusManager) Complete(ctx context.Context, runID string, storedCount int, keys []string) {
	m.logger.WithFields(logrus.Fields{
		"run_id":       runID,
		"stored_count": storedCount,
	}).Info("Marking run as completed")

	if err := m.repo.Complete(ctx, runID, storedCount, keys); err != nil {
		m.warn(runID, "complete", err)
	}
}

// Fail 标记运行失败，保留已写入记录的数量和键
func (m *RunStatusManager) Fail(ctx context.Context, runID string, stage Stage, kind ErrorKind, err error, storedCount int, keys []string) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	m.logger.WithFields(logrus.Fields{
		"run_id":       runID,
		"stage":        stage,
		"kind":         kind,
		"stored_count": storedCount,
	}).Error("Marking run as failed")

	if rerr := m.repo.Fail(ctx, runID, string(stage), string(kind), msg, storedCount, keys); rerr != nil {
		m.warn(runID, "fail", rerr)
	}
}

// GetRun 获取运行记录
func (m *RunStatusManager) GetRun(ctx context.Context, runID string) (*models.ProcessingRun, error) {
	return m.repo.Get(ctx, runID)
}

// ListRuns 按源文档列出运行记录
func (m *RunStatusManager) ListRuns(ctx context.Context, sourceKey string, limit int) ([]*models.ProcessingRun, error) {
	return m.repo.ListBySource(ctx, sourceKey, limit)
}

// IsNotFound 判断是否为记录不存在错误
func IsNotFound(err error) bool {
	return errors.Is(err, models.ErrRunNotFound)
}

func (m *RunStatusManager) warn(runID, op string, err error) {
	m.logger.WithFields(logrus.Fields{
		"run_id": runID,
		"op":     op,
		"error":  err,
	}).Warn("Failed to record run status")
}

type taskIDKey struct{}

// WithTaskID 在上下文中附加队列任务ID
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, taskID)
}

// TaskIDFromContext 读取上下文中的队列任务ID
func TaskIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(taskIDKey{}).(string)
	return id
}
