// Package bigquery is the analytics warehouse backend. Batches are loaded
// through a per-load staging table and merged in one multi-statement
// transaction.
package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/dre-reports/internal/migrations"
	"github.com/dvloznov/dre-reports/internal/store"
)

const (
	lineItemsTable     = "dre_line_items"
	batchesTable       = "upload_batches"
	activeBatchesTable = "active_batches"
	runsTable          = "ingestion_runs"
	dimProjectsTable   = "dim_projects"
	dimPeriodsTable    = "dim_periods"
)

// Store implements store.Store on BigQuery.
type Store struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	now       func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open creates a Store with a shared BigQuery client.
func Open(ctx context.Context, projectID, datasetID string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("Open: creating client: %w", err)
	}
	return &Store{client: client, projectID: projectID, datasetID: datasetID, now: time.Now}, nil
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Migrate applies the embedded BigQuery migrations.
func (s *Store) Migrate(ctx context.Context, appliedBy string) (int, error) {
	ms, err := migrations.Embedded(migrations.BigQuery, map[string]string{
		"{{PROJECT_ID}}": s.projectID,
		"{{DATASET_ID}}": s.datasetID,
	})
	if err != nil {
		return 0, err
	}
	return migrations.Run(ctx, &migrator{store: s}, ms, appliedBy)
}

// table returns the fully qualified, backquoted table name.
func (s *Store) table(name string) string {
	return qualified(s.projectID, s.datasetID, name)
}

func qualified(projectID, datasetID, name string) string {
	return "`" + projectID + "." + datasetID + "." + name + "`"
}

// exec runs a statement and waits for the job to finish.
func (s *Store) exec(ctx context.Context, sql string, params ...bigquery.QueryParameter) (*bigquery.JobStatus, error) {
	q := s.client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("run query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("wait for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return nil, fmt.Errorf("job error: %w", err)
	}
	return status, nil
}

// read runs a query and returns its row iterator.
func (s *Store) read(ctx context.Context, sql string, params ...bigquery.QueryParameter) (*bigquery.RowIterator, error) {
	q := s.client.Query(sql)
	q.Parameters = params
	return q.Read(ctx)
}

// isNotFound reports whether err is BigQuery's missing table/dataset error.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Not found")
}
