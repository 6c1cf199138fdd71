package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/dre-reports/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startQueue(t *testing.T, handler jobs.JobHandler) (*Queue, *Store) {
	t.Helper()
	store := NewStore()
	q := NewQueue(Options{Workers: 2, RetryDelay: time.Millisecond, MaxRetries: 2}, store)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Start(ctx, handler))
	t.Cleanup(func() {
		cancel()
		_ = q.Stop(context.Background())
	})
	return q, store
}

func waitForStatus(t *testing.T, store *Store, id string, status jobs.JobStatus) *jobs.IngestJob {
	t.Helper()
	var job *jobs.IngestJob
	require.Eventually(t, func() bool {
		j, err := store.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.Status == status
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestQueue_Completes(t *testing.T) {
	q, store := startQueue(t, func(ctx context.Context, job jobs.Job) error {
		ij := job.(*jobs.IngestJob)
		ij.ExecutionID = "exec-1"
		ij.Loaded = 10
		return nil
	})

	job := &jobs.IngestJob{URL: "https://example.com/dre.xlsx"}
	require.NoError(t, q.PublishIngest(context.Background(), job))
	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, 2, job.MaxRetries, "queue default applies")

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.Equal(t, "exec-1", done.ExecutionID)
	assert.Equal(t, 10, done.Loaded)
	assert.NotNil(t, done.CompletedAt)
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	q, store := startQueue(t, func(ctx context.Context, job jobs.Job) error {
		if calls.Add(1) == 1 {
			return errors.New("502 from upstream")
		}
		return nil
	})

	job := &jobs.IngestJob{URI: "gs://bucket/uploads/a.xlsx"}
	require.NoError(t, q.PublishIngest(context.Background(), job))

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.Equal(t, 1, done.RetryCount)
	assert.Empty(t, done.Error)
	assert.Equal(t, int32(2), calls.Load())
}

func TestQueue_PermanentErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	q, store := startQueue(t, func(ctx context.Context, job jobs.Job) error {
		calls.Add(1)
		return jobs.Permanent(errors.New("no valid rows"))
	})

	job := &jobs.IngestJob{URL: "https://example.com/dre.xlsx"}
	require.NoError(t, q.PublishIngest(context.Background(), job))

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Equal(t, 0, failed.RetryCount)
	assert.Equal(t, "no valid rows", failed.Error)
	assert.Equal(t, int32(1), calls.Load())
}

func TestQueue_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	q, store := startQueue(t, func(ctx context.Context, job jobs.Job) error {
		calls.Add(1)
		return errors.New("timeout")
	})

	job := &jobs.IngestJob{URL: "https://example.com/dre.xlsx", MaxRetries: 2}
	require.NoError(t, q.PublishIngest(context.Background(), job))

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Equal(t, 2, failed.RetryCount)
	assert.Equal(t, int32(3), calls.Load())
}

func TestQueue_PublishAfterStop(t *testing.T) {
	q := NewQueue(Options{}, nil)
	require.NoError(t, q.Stop(context.Background()))
	assert.Error(t, q.PublishIngest(context.Background(), &jobs.IngestJob{URL: "x"}))
	assert.Error(t, q.Start(context.Background(), nil))
}

func TestRetryDelay(t *testing.T) {
	q := NewQueue(Options{RetryDelay: time.Second}, nil)
	assert.Equal(t, time.Second, q.retryDelay(1))
	assert.Equal(t, 2*time.Second, q.retryDelay(2))
	assert.Equal(t, 4*time.Second, q.retryDelay(3))
	assert.Equal(t, DefaultMaxRetryDelay, q.retryDelay(35))
	assert.Equal(t, DefaultMaxRetryDelay, q.retryDelay(1000))

	capped := NewQueue(Options{RetryDelay: time.Second, MaxRetryDelay: 5 * time.Second}, nil)
	assert.Equal(t, 4*time.Second, capped.retryDelay(3))
	assert.Equal(t, 5*time.Second, capped.retryDelay(4))
	for retry := 1; retry <= 64; retry++ {
		d := capped.retryDelay(retry)
		assert.Positive(t, d, "retry %d", retry)
		assert.LessOrEqual(t, d, 5*time.Second, "retry %d", retry)
	}
}

func TestStore_ListJobs(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveJob(ctx, &jobs.IngestJob{JobID: "a", Status: jobs.JobStatusCompleted, CreatedAt: base}))
	require.NoError(t, s.SaveJob(ctx, &jobs.IngestJob{JobID: "b", Status: jobs.JobStatusFailed, CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, s.SaveJob(ctx, &jobs.IngestJob{JobID: "c", Status: jobs.JobStatusCompleted, CreatedAt: base.Add(2 * time.Minute)}))
	assert.Error(t, s.SaveJob(ctx, &jobs.IngestJob{}))

	all, err := s.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].JobID)

	completed, err := s.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusCompleted, Limit: 1})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "c", completed[0].JobID)

	page, err := s.ListJobs(ctx, jobs.JobFilter{Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, page)

	_, err = s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}
