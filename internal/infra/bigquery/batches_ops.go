package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/dvloznov/dre-reports/internal/store"
	"google.golang.org/api/iterator"
)

func (s *Store) batchSummaryQuery(where, tail string) string {
	return fmt.Sprintf(`
		SELECT
			b.batch_id,
			b.source_name,
			b.execution_id,
			b.content_hash,
			b.created_at,
			(SELECT COUNT(*) FROM %[2]s li WHERE li.batch_id = b.batch_id) AS items,
			(SELECT COUNT(*) FROM %[3]s ab WHERE ab.batch_id = b.batch_id) AS active_periods
		FROM %[1]s b
		%[4]s
		%[5]s
	`, s.table(batchesTable), s.table(lineItemsTable), s.table(activeBatchesTable), where, tail)
}

func (r *BatchRow) toSummary() store.BatchSummary {
	return store.BatchSummary{
		UploadBatch: domain.UploadBatch{
			ID:          r.BatchID,
			SourceName:  r.SourceName,
			ExecutionID: r.ExecutionID,
			ContentHash: r.ContentHash,
			CreatedAt:   r.CreatedAt,
		},
		Items:         int(r.Items),
		ActivePeriods: int(r.ActivePeriods),
	}
}

// GetBatch returns one batch.
func (s *Store) GetBatch(ctx context.Context, id string) (*domain.UploadBatch, error) {
	it, err := s.read(ctx, s.batchSummaryQuery("WHERE b.batch_id = @batch_id", "LIMIT 1"),
		bigquery.QueryParameter{Name: "batch_id", Value: id})
	if err != nil {
		return nil, &domain.PersistenceError{Op: "get batch", Err: err}
	}

	var row BatchRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "get batch", Err: err}
	}
	bs := row.toSummary()
	return &bs.UploadBatch, nil
}

// ListBatches returns the newest batches first.
func (s *Store) ListBatches(ctx context.Context, limit int) ([]store.BatchSummary, error) {
	it, err := s.read(ctx, s.batchSummaryQuery("", "ORDER BY b.created_at DESC, b.batch_id LIMIT @limit"),
		bigquery.QueryParameter{Name: "limit", Value: store.Limit(limit)})
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list batches", Err: err}
	}

	var out []store.BatchSummary
	for {
		var row BatchRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, &domain.PersistenceError{Op: "list batches", Err: err}
		}
		out = append(out, row.toSummary())
	}
	return out, nil
}
