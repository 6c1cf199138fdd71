package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/dvloznov/dre-reports/internal/store"
	"google.golang.org/api/iterator"
)

// StartRun inserts a new row into ingestion_runs with status=RUNNING.
func (s *Store) StartRun(ctx context.Context, run *domain.IngestionRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now().UTC()
	}
	run.Status = domain.RunStatusRunning

	_, err := s.exec(ctx, fmt.Sprintf(`
		INSERT %s (
			run_id,
			batch_id,
			source,
			status,
			loaded,
			rejected,
			started_at
		)
		VALUES (
			@run_id,
			@batch_id,
			@source,
			@status,
			0,
			0,
			@started_at
		)
	`, s.table(runsTable)),
		bigquery.QueryParameter{Name: "run_id", Value: run.ID},
		bigquery.QueryParameter{Name: "batch_id", Value: run.BatchID},
		bigquery.QueryParameter{Name: "source", Value: run.Source},
		bigquery.QueryParameter{Name: "status", Value: string(run.Status)},
		bigquery.QueryParameter{Name: "started_at", Value: run.StartedAt},
	)
	if err != nil {
		return &domain.PersistenceError{Op: "start run", Err: err}
	}
	return nil
}

// FinishRun sets the final status, counts, finished_at and error_message.
func (s *Store) FinishRun(ctx context.Context, run *domain.IngestionRun) error {
	if run.FinishedAt == nil {
		now := s.now().UTC()
		run.FinishedAt = &now
	}
	run.Error = domain.TruncateRunError(run.Error)

	status, err := s.exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    batch_id = @batch_id,
		    loaded = @loaded,
		    rejected = @rejected,
		    error_message = @error_message,
		    finished_at = @finished_at
		WHERE run_id = @run_id
	`, s.table(runsTable)),
		bigquery.QueryParameter{Name: "status", Value: string(run.Status)},
		bigquery.QueryParameter{Name: "batch_id", Value: run.BatchID},
		bigquery.QueryParameter{Name: "loaded", Value: run.Loaded},
		bigquery.QueryParameter{Name: "rejected", Value: run.Rejected},
		bigquery.QueryParameter{Name: "error_message", Value: run.Error},
		bigquery.QueryParameter{Name: "finished_at", Value: *run.FinishedAt},
		bigquery.QueryParameter{Name: "run_id", Value: run.ID},
	)
	if err != nil {
		return &domain.PersistenceError{Op: "finish run", Err: err}
	}
	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok && qs.NumDMLAffectedRows == 0 {
			return store.ErrNotFound
		}
	}
	return nil
}

// ListRuns returns the newest runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]domain.IngestionRun, error) {
	it, err := s.read(ctx, fmt.Sprintf(`
		SELECT
			run_id,
			batch_id,
			source,
			status,
			loaded,
			rejected,
			error_message,
			started_at,
			finished_at
		FROM %s
		ORDER BY started_at DESC, run_id
		LIMIT @limit
	`, s.table(runsTable)), bigquery.QueryParameter{Name: "limit", Value: store.Limit(limit)})
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list runs", Err: err}
	}

	var runs []domain.IngestionRun
	for {
		var row RunRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, &domain.PersistenceError{Op: "list runs", Err: err}
		}
		runs = append(runs, row.ToRun())
	}
	return runs, nil
}
