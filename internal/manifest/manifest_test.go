package manifest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fyerfyer/vector-processor/internal/services"
	"github.com/fyerfyer/vector-processor/pkg/taskqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlManifest = `
documents:
  - source_key: wellarchitected/security.pdf
    lens_name: Well-Architected Framework
    pillar: Security
    source_file: security.pdf
  - source_key: wellarchitected/reliability.pdf
    lens_name: Well-Architected Framework
    pillar: Reliability
    source_file: reliability.pdf
`

// stubSubmitter 记录提交的文档
type stubSubmitter struct {
	submitted []services.Event
	failKey   string
}

func (s *stubSubmitter) Submit(_ context.Context, ev services.Event) (string, error) {
	s.submitted = append(s.submitted, ev)
	if ev.SourceKey == s.failKey {
		return "", errors.New("invoke failed")
	}
	return "id-" + ev.Pillar, nil
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "docs.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlManifest), 0644))
	m, err := Load(yamlPath)
	require.NoError(t, err)
	require.Len(t, m.Documents, 2)
	assert.Equal(t, "Security", m.Documents[0].Pillar)
	assert.Equal(t, "reliability.pdf", m.Documents[1].SourceFile)

	jsonPath := filepath.Join(dir, "docs.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"documents":[{"source_key":"a.md","lens_name":"L","pillar":"P","source_file":"a.md"}]}`), 0644))
	m, err = Load(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "a.md", m.Documents[0].SourceKey)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = Parse([]byte("documents: []"), false)
	assert.Error(t, err)
}

func TestRunner_CountsFailures(t *testing.T) {
	m, err := Parse([]byte(yamlManifest), false)
	require.NoError(t, err)

	sub := &stubSubmitter{failKey: "wellarchitected/security.pdf"}
	summary := NewRunner(sub, 0, nil).Run(context.Background(), m)

	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.Total)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "wellarchitected/security.pdf", summary.Failures[0].SourceKey)
	assert.Len(t, sub.submitted, 2)
}

func TestRunner_Delay(t *testing.T) {
	m, err := Parse([]byte(yamlManifest), false)
	require.NoError(t, err)

	start := time.Now()
	summary := NewRunner(&stubSubmitter{}, 30*time.Millisecond, nil).Run(context.Background(), m)
	assert.Equal(t, 2, summary.Successful)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRunner_Cancelled(t *testing.T) {
	m, err := Parse([]byte(yamlManifest), false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sub := &stubSubmitter{}
	summary := NewRunner(sub, 0, nil).Run(ctx, m)

	assert.Equal(t, 0, summary.Successful)
	assert.Equal(t, 2, summary.Failed)
	assert.Empty(t, sub.submitted)
}

func TestQueueSubmitter(t *testing.T) {
	mr := miniredis.RunT(t)
	queue, err := taskqueue.NewRedisQueue(&taskqueue.Config{RedisAddr: mr.Addr()})
	require.NoError(t, err)
	defer queue.Close()

	m, err := Parse([]byte(yamlManifest), false)
	require.NoError(t, err)
	m.Documents = append(m.Documents, services.Event{SourceKey: "incomplete.pdf"})

	summary := NewRunner(QueueSubmitter{Queue: queue}, 0, nil).Run(context.Background(), m)
	assert.Equal(t, 2, summary.Successful)
	assert.Equal(t, 1, summary.Failed)

	tasks, err := queue.GetTasksBySource(context.Background(), "wellarchitected/security.pdf")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, taskqueue.TaskDocumentProcess, tasks[0].Type)
}
