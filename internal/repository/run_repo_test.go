package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/fyerfyer/vector-processor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// 使用唯一的内存数据库标识符
	dbName := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err, "Failed to open in-memory database")

	require.NoError(t, db.AutoMigrate(&models.ProcessingRun{}), "Failed to run migrations")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newRun(id, source string) *models.ProcessingRun {
	return &models.ProcessingRun{
		ID:         id,
		SourceKey:  source,
		LensName:   "Wellness",
		Pillar:     "Sleep",
		SourceFile: "sleep.txt",
		Stage:      "fetching",
	}
}

func TestRunRepository_CreateAndGet(t *testing.T) {
	repo := NewRunRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newRun("run-1", "docs/sleep.txt")))

	run, err := repo.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, "fetching", run.Stage)
	assert.False(t, run.StartedAt.IsZero())
	assert.Nil(t, run.FinishedAt)

	assert.Error(t, repo.Create(ctx, &models.ProcessingRun{}))
}

func TestRunRepository_GetMissing(t *testing.T) {
	repo := NewRunRepository(setupTestDB(t))
	_, err := repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrRunNotFound)
}

func TestRunRepository_Lifecycle(t *testing.T) {
	repo := NewRunRepository(setupTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newRun("run-1", "docs/sleep.txt")))

	require.NoError(t, repo.UpdateStage(ctx, "run-1", "embedding", 3))
	run, err := repo.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "embedding", run.Stage)
	assert.Equal(t, 3, run.ChunkCount)

	keys := []string{"embeddings/wellness/sleep/a.json", "embeddings/wellness/sleep/b.json"}
	require.NoError(t, repo.Complete(ctx, "run-1", 2, keys))

	run, err = repo.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, "done", run.Stage)
	assert.Equal(t, 2, run.StoredCount)
	require.NotNil(t, run.FinishedAt)

	var meta map[string][]string
	require.NoError(t, json.Unmarshal(run.Metadata, &meta))
	assert.Equal(t, keys, meta["keys"])
}

func TestRunRepository_Fail(t *testing.T) {
	repo := NewRunRepository(setupTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newRun("run-1", "docs/sleep.txt")))

	require.NoError(t, repo.Fail(ctx, "run-1", "storing", "storage_write", "disk full", 1, []string{"k1"}))

	run, err := repo.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, "storing", run.Stage)
	assert.Equal(t, "storage_write", run.ErrorKind)
	assert.Equal(t, "disk full", run.Error)
	assert.Equal(t, 1, run.StoredCount)

	assert.ErrorIs(t, repo.Fail(ctx, "missing", "storing", "x", "y", 0, nil), models.ErrRunNotFound)
}

func TestRunRepository_ListBySource(t *testing.T) {
	repo := NewRunRepository(setupTestDB(t))
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		run := newRun(fmt.Sprintf("run-%d", i), "docs/a.txt")
		run.StartedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Create(ctx, run))
	}
	require.NoError(t, repo.Create(ctx, newRun("other", "docs/b.txt")))

	runs, err := repo.ListBySource(ctx, "docs/a.txt", 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, "run-0", runs[2].ID)

	runs, err = repo.ListBySource(ctx, "docs/a.txt", 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
