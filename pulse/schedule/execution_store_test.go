package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/bfhtw/errors"
	dbtest "github.com/teranos/bfhtw/internal/testing"
	"github.com/teranos/bfhtw/pipeline"
)

func newStore(t *testing.T) *ExecutionStore {
	t.Helper()
	return NewExecutionStore(dbtest.CreateMigratedTestDB(t))
}

func finished(t *testing.T, s *ExecutionStore, name string, start time.Time, status pipeline.Status) *Execution {
	t.Helper()
	ctx := context.Background()
	exec := NewExecution(name, TriggerSchedule, start)
	require.NoError(t, s.Create(ctx, exec))
	exec.Finish(start.Add(time.Minute), &pipeline.RunResult{
		Pipeline:       name,
		Status:         status,
		ProcessedCount: 3,
		ExecutionTime:  time.Minute,
		Errors:         []string{},
	}, "")
	require.NoError(t, s.Finalize(ctx, exec))
	return exec
}

func TestCreateAndFinalize(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	start := time.Date(2026, 10, 14, 2, 0, 0, 0, time.UTC)

	exec := NewExecution("pubmed_metadata", "", start)
	require.NoError(t, s.Create(ctx, exec))

	got, err := s.Get(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusRunning, got.Status)
	assert.Equal(t, TriggerManual, got.TriggerSource)
	assert.True(t, got.Running())
	assert.True(t, start.Equal(got.StartTime))

	running, err := s.ListRunning(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)

	exec.Finish(start.Add(90*time.Second), &pipeline.RunResult{
		Status:        pipeline.StatusFailed,
		FailedCount:   2,
		ExecutionTime: 90 * time.Second,
		Errors:        []string{"item #1: bad", "item #2: bad"},
		Metadata:      map[string]interface{}{"batches": 1},
	}, "")
	require.NoError(t, s.Finalize(ctx, exec))

	got, err = s.Get(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusFailed, got.Status)
	assert.Equal(t, "item #1: bad", got.Error)
	require.NotNil(t, got.EndTime)
	assert.Equal(t, 90*time.Second, got.Duration())
	require.NotNil(t, got.Result)
	assert.Equal(t, 2, got.Result.FailedCount)

	// finalized exactly once
	err = s.Finalize(ctx, exec)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestFinishWithoutResult(t *testing.T) {
	start := time.Now()
	exec := NewExecution("p", TriggerManual, start)
	exec.Finish(start.Add(-time.Second), nil, "pipeline panicked")

	assert.Equal(t, pipeline.StatusFailed, exec.Status)
	assert.Equal(t, "pipeline panicked", exec.Error)
	assert.False(t, exec.EndTime.Before(exec.StartTime), "end never precedes start")
}

func TestGetUnknown(t *testing.T) {
	_, err := newStore(t).Get(context.Background(), "nope")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestListQueries(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	base := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)

	finished(t, s, "a", base, pipeline.StatusSuccess)
	finished(t, s, "a", base.Add(time.Hour), pipeline.StatusFailed)
	finished(t, s, "b", base.Add(2*time.Hour), pipeline.StatusSuccess)

	byA, err := s.ListByPipeline(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, byA, 2)
	assert.Equal(t, pipeline.StatusFailed, byA[0].Status, "newest first")

	recent, err := s.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].PipelineName)
}

func TestLastSuccessSince(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	base := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)

	ok := finished(t, s, "a", base, pipeline.StatusSuccess)
	finished(t, s, "a", base.Add(time.Hour), pipeline.StatusFailed)

	got, err := s.LastSuccessSince(ctx, "a", base.Add(-24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ok.ID, got.ID)

	got, err = s.LastSuccessSince(ctx, "a", base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, got, "success ended before the window")

	got, err = s.LastSuccessSince(ctx, "unknown", base)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCleanupOld(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	finished(t, s, "a", now.AddDate(0, 0, -100), pipeline.StatusSuccess)
	finished(t, s, "a", now.AddDate(0, 0, -10), pipeline.StatusSuccess)
	stale := NewExecution("a", TriggerManual, now.AddDate(0, 0, -200))
	require.NoError(t, s.Create(ctx, stale))

	n, err := s.CleanupOld(ctx, 90)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "running executions are kept")

	n, err = s.CleanupOld(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
