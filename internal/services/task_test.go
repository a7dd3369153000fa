package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/fyerfyer/vector-processor/pkg/taskqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTaskQueue(t *testing.T) *taskqueue.RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	queue, err := taskqueue.NewRedisQueue(&taskqueue.Config{
		RedisAddr:  mr.Addr(),
		RetryLimit: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { queue.Close() })
	return queue
}

func TestEnqueue(t *testing.T) {
	ctx := context.Background()
	queue := setupTaskQueue(t)

	taskID, err := Enqueue(ctx, queue, testEvent(), 0)
	require.NoError(t, err)

	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.TaskDocumentProcess, task.Type)
	assert.Equal(t, "docs/sample.txt", task.SourceKey)

	var ev Event
	require.NoError(t, json.Unmarshal(task.Payload, &ev))
	assert.Equal(t, testEvent(), ev)

	_, err = Enqueue(ctx, queue, Event{SourceKey: "docs/x.txt"}, 0)
	pe, ok := AsPipelineError(err)
	require.True(t, ok)
	assert.Equal(t, KindValidation, pe.Kind)
}

func TestDocumentTaskHandler(t *testing.T) {
	ctx := context.Background()
	queue := setupTaskQueue(t)

	f := newFixture(t)
	f.put(t, "docs/sample.txt", "abcdefghij")
	rec := &recordingRecorder{}
	handler := NewDocumentTaskHandler(f.service(t, f.splitter(t, 6, 2, 1), nil, WithRunRecorder(rec)), nil)
	assert.Equal(t, []taskqueue.TaskType{taskqueue.TaskDocumentProcess}, handler.GetTaskTypes())

	taskID, err := Enqueue(ctx, queue, testEvent(), 0)
	require.NoError(t, err)
	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)

	result, err := handler.ProcessTask(ctx, task)
	require.NoError(t, err)
	body, ok := result.(ResponseBody)
	require.True(t, ok)
	require.NotNil(t, body.ChunksCreated)
	assert.Equal(t, 2, *body.ChunksCreated)
	assert.Equal(t, 1, rec.complete)
}

func TestDocumentTaskHandler_Failures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	handler := NewDocumentTaskHandler(f.service(t, f.splitter(t, 6, 2, 1), nil), nil)

	// 载荷无法解析时不重试
	_, err := handler.ProcessTask(ctx, &taskqueue.Task{ID: "t1", Payload: json.RawMessage(`[1,2]`)})
	assert.ErrorIs(t, err, taskqueue.ErrInvalidPayload)
	assert.True(t, taskqueue.IsPermanent(err))

	// 源文档不存在时不重试
	payload, _ := json.Marshal(testEvent())
	result, err := handler.ProcessTask(ctx, &taskqueue.Task{ID: "t2", Payload: payload})
	require.Error(t, err)
	assert.True(t, taskqueue.IsPermanent(err))
	body := result.(ResponseBody)
	assert.Equal(t, KindSourceNotFound, body.Kind)

	// 嵌入服务错误可以重试
	f.put(t, "docs/sample.txt", "abcdefghij")
	f.embedder.failOn = "abc"
	_, err = handler.ProcessTask(ctx, &taskqueue.Task{ID: "t3", Payload: payload})
	require.Error(t, err)
	assert.False(t, taskqueue.IsPermanent(err))
}
