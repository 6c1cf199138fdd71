// Package jobs defines asynchronous ingestion jobs and the queue contracts
// they run on.
package jobs

import (
	"context"
	"errors"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeIngest ingests a spreadsheet from a URL or blob storage.
	JobTypeIngest JobType = "ingest"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetrying  JobStatus = "retrying"
)

// DefaultMaxRetries applies when a job is published without MaxRetries.
const DefaultMaxRetries = 3

// IngestJob asks for one remote spreadsheet to be ingested. Exactly one of
// URL and URI is set.
type IngestJob struct {
	JobID   string `json:"job_id"`
	URL     string `json:"url,omitempty"`
	URI     string `json:"uri,omitempty"`
	BatchID string `json:"batch_id,omitempty"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`

	// Filled by the handler on success.
	ExecutionID string `json:"execution_id,omitempty"`
	Loaded      int    `json:"loaded"`
	Rejected    int    `json:"rejected"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

func (j *IngestJob) GetID() string        { return j.JobID }
func (j *IngestJob) GetType() JobType     { return JobTypeIngest }
func (j *IngestJob) GetStatus() JobStatus { return j.Status }

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	PublishIngest(ctx context.Context, job *IngestJob) error
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start launches the workers. The handler is called for each job.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. A returned error is retried unless it is
// marked Permanent.
type JobHandler func(ctx context.Context, job Job) error

// JobStore tracks job state.
type JobStore interface {
	SaveJob(ctx context.Context, job *IngestJob) error

	// GetJob returns ErrJobNotFound for unknown ids.
	GetJob(ctx context.Context, jobID string) (*IngestJob, error)

	// ListJobs returns the newest jobs first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*IngestJob, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	Status JobStatus
	Limit  int
	Offset int
}

// ErrJobNotFound is returned by JobStore.GetJob.
var ErrJobNotFound = errors.New("job not found")

// PermanentError marks a failure that retrying cannot fix, such as a sheet
// with no valid rows.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the queue does not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked Permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
