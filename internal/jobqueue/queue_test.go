package jobqueue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptforge/internal/jobqueue"
)

func TestEnqueue_DuplicateDeterministicIDIsNoOpWhilePending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := jobqueue.NewMemory()
	id := jobqueue.DeterministicID(jobqueue.KindSceneSummaryRefresh, "sc_1")

	ok1, err := q.Enqueue(ctx, jobqueue.Job{ID: id, Kind: jobqueue.KindSceneSummaryRefresh, Priority: jobqueue.Urgent})
	require.NoError(t, err)
	assert.True(t, ok1)

	ok2, err := q.Enqueue(ctx, jobqueue.Job{ID: id, Kind: jobqueue.KindSceneSummaryRefresh, Priority: jobqueue.Urgent})
	require.NoError(t, err)
	assert.False(t, ok2)
}

func TestEnqueue_AllowedAgainAfterComplete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := jobqueue.NewMemory()
	id := jobqueue.DeterministicID(jobqueue.KindOutlineRefresh, "scr_1")
	job := jobqueue.Job{ID: id, Kind: jobqueue.KindOutlineRefresh, Priority: jobqueue.Low}

	_, err := q.Enqueue(ctx, job)
	require.NoError(t, err)
	got, ok, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, q.Complete(ctx, got))

	ok2, err := q.Enqueue(ctx, job)
	require.NoError(t, err)
	assert.True(t, ok2)
}

func TestDequeue_DrainsUrgentBeforeNormalBeforeLow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := jobqueue.NewMemory()

	_, err := q.Enqueue(ctx, jobqueue.Job{ID: "low-1", Kind: jobqueue.KindOutlineRefresh, Priority: jobqueue.Low})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, jobqueue.Job{ID: "normal-1", Kind: jobqueue.KindCharacterSheetRefresh, Priority: jobqueue.Normal})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, jobqueue.Job{ID: "urgent-1", Kind: jobqueue.KindSceneSummaryRefresh, Priority: jobqueue.Urgent})
	require.NoError(t, err)

	first, ok, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "urgent-1", first.ID)

	second, ok, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "normal-1", second.ID)

	third, ok, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "low-1", third.ID)
}

func TestDequeue_FIFOWithinAPriority(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := jobqueue.NewMemory()

	_, _ = q.Enqueue(ctx, jobqueue.Job{ID: "a", Kind: jobqueue.KindOutlineRefresh, Priority: jobqueue.Low})
	_, _ = q.Enqueue(ctx, jobqueue.Job{ID: "b", Kind: jobqueue.KindOutlineRefresh, Priority: jobqueue.Low})

	first, _, _ := q.Dequeue(ctx, time.Second)
	second, _, _ := q.Dequeue(ctx, time.Second)
	assert.Equal(t, "a", first.ID)
	assert.Equal(t, "b", second.ID)
}

func TestDequeue_TimesOutWhenEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := jobqueue.NewMemory()

	_, ok, err := q.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFail_RequeuesUntilMaxAttemptsThenDeadLetters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := jobqueue.NewMemory()
	job := jobqueue.Job{ID: "job-1", Kind: jobqueue.KindIngestion, Priority: jobqueue.Low}
	_, err := q.Enqueue(ctx, job)
	require.NoError(t, err)

	cause := errors.New("boom")
	for i := 0; i < 2; i++ {
		got, ok, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		deadLettered, err := q.Fail(ctx, got, cause, "stack")
		require.NoError(t, err)
		assert.False(t, deadLettered)
	}

	got, ok, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, got.Attempts)
	deadLettered, err := q.Fail(ctx, got, cause, "stack")
	require.NoError(t, err)
	assert.True(t, deadLettered)

	records, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "job-1", records[0].JobID)
	assert.Equal(t, 3, records[0].Attempts)
}

func TestKind_Timeout(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 10*time.Minute, jobqueue.KindIngestion.Timeout())
	assert.Equal(t, 5*time.Minute, jobqueue.KindSceneSummaryRefresh.Timeout())
}

func TestDeterministicID_SameInputsSameID(t *testing.T) {
	t.Parallel()
	a := jobqueue.DeterministicID(jobqueue.KindSceneSummaryRefresh, "sc_1")
	b := jobqueue.DeterministicID(jobqueue.KindSceneSummaryRefresh, "sc_1")
	c := jobqueue.DeterministicID(jobqueue.KindSceneSummaryRefresh, "sc_2")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
