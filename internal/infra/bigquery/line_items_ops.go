package bigquery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/dvloznov/dre-reports/internal/logger"
	"github.com/dvloznov/dre-reports/internal/store"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
)

var nonIdentChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// stagingTableName is unique per load so concurrent loads never share one.
func stagingTableName(batchID string) string {
	id := nonIdentChars.ReplaceAllString(batchID, "_")
	if len(id) > 40 {
		id = id[:40]
	}
	return "staging_line_items_" + id + "_" + uuid.NewString()[:8]
}

// encodeNDJSON writes one JSON object per line.
func encodeNDJSON(rows []stagingRow) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range rows {
		if err := enc.Encode(&rows[i]); err != nil {
			return nil, fmt.Errorf("encode row %d: %w", rows[i].Linha, err)
		}
	}
	return buf.Bytes(), nil
}

// LoadBatch loads items into a staging table, then inserts the batch record,
// merges the new rows and moves the active batch markers in one transaction.
func (s *Store) LoadBatch(ctx context.Context, batch domain.UploadBatch, items []domain.LineItem) (store.LoadResult, error) {
	log := logger.FromContext(ctx)

	var res store.LoadResult
	if err := store.CheckBatch(batch, items); err != nil {
		return res, &domain.PersistenceError{Op: "load batch", Err: err}
	}

	now := s.now().UTC()
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now
	}

	rows := make([]stagingRow, len(items))
	for i, li := range items {
		rows[i] = toStagingRow(li, now)
	}
	data, err := encodeNDJSON(rows)
	if err != nil {
		return res, &domain.PersistenceError{Op: "load batch", Err: err}
	}

	staging := stagingTableName(batch.ID)
	if err := s.loadStaging(ctx, staging, data); err != nil {
		return res, &domain.PersistenceError{Op: "load staging", Err: err}
	}
	defer func() {
		if err := s.client.DatasetInProject(s.projectID, s.datasetID).Table(staging).Delete(ctx); err != nil {
			log.Warn().Err(err).Str("table", staging).Msg("Failed to drop staging table")
		}
	}()

	script := fmt.Sprintf(`
		DECLARE inserted INT64 DEFAULT 0;
		BEGIN TRANSACTION;

		INSERT INTO %[1]s (batch_id, source_name, execution_id, content_hash, created_at)
		SELECT @batch_id, @source_name, @execution_id, @content_hash, @created_at
		FROM (SELECT 1)
		WHERE NOT EXISTS (SELECT 1 FROM %[1]s WHERE batch_id = @batch_id);

		MERGE %[2]s T
		USING (
			SELECT * FROM %[3]s
			WHERE TRUE
			QUALIFY ROW_NUMBER() OVER (PARTITION BY batch_id, projeto, periodo, conta_resumo, linha) = 1
		) S
		ON T.batch_id = S.batch_id
		   AND T.projeto = S.projeto
		   AND T.periodo = S.periodo
		   AND T.conta_resumo = S.conta_resumo
		   AND T.linha = S.linha
		WHEN NOT MATCHED THEN INSERT ROW;

		SET inserted = @@row_count;

		MERGE %[4]s T
		USING (SELECT DISTINCT projeto, periodo, ano, mes FROM %[3]s) S
		ON T.projeto = S.projeto AND T.periodo = S.periodo
		WHEN MATCHED THEN
		  UPDATE SET batch_id = @batch_id, loaded_at = @loaded_at
		WHEN NOT MATCHED THEN
		  INSERT (projeto, periodo, ano, mes, batch_id, loaded_at)
		  VALUES (S.projeto, S.periodo, S.ano, S.mes, @batch_id, @loaded_at);

		COMMIT TRANSACTION;

		SELECT inserted;
	`, s.table(batchesTable), s.table(lineItemsTable), s.table(staging), s.table(activeBatchesTable))

	it, err := s.read(ctx, script,
		bigquery.QueryParameter{Name: "batch_id", Value: batch.ID},
		bigquery.QueryParameter{Name: "source_name", Value: batch.SourceName},
		bigquery.QueryParameter{Name: "execution_id", Value: batch.ExecutionID},
		bigquery.QueryParameter{Name: "content_hash", Value: batch.ContentHash},
		bigquery.QueryParameter{Name: "created_at", Value: batch.CreatedAt},
		bigquery.QueryParameter{Name: "loaded_at", Value: now},
	)
	if err != nil {
		return store.LoadResult{}, &domain.PersistenceError{Op: "merge batch", Err: err}
	}

	var out struct {
		Inserted int64 `bigquery:"inserted"`
	}
	if err := it.Next(&out); err != nil && err != iterator.Done {
		return store.LoadResult{}, &domain.PersistenceError{Op: "merge batch", Err: err}
	}

	res.Inserted = int(out.Inserted)
	res.Skipped = len(items) - res.Inserted
	return res, nil
}

func (s *Store) loadStaging(ctx context.Context, table string, data []byte) error {
	source := bigquery.NewReaderSource(bytes.NewReader(data))
	source.SourceFormat = bigquery.JSON
	source.Schema = stagingSchema

	loader := s.client.DatasetInProject(s.projectID, s.datasetID).Table(table).LoaderFrom(source)
	loader.WriteDisposition = bigquery.WriteTruncate
	loader.CreateDisposition = bigquery.CreateIfNeeded

	job, err := loader.Run(ctx)
	if err != nil {
		return fmt.Errorf("run load job: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("wait for load job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("load job error: %w", err)
	}
	return nil
}

// buildFilter renders f as a WHERE clause with named parameters.
func buildFilter(alias string, f store.Filter) (string, []bigquery.QueryParameter) {
	var (
		where  []string
		params []bigquery.QueryParameter
	)
	if f.Project != "" {
		where = append(where, alias+".projeto = @projeto")
		params = append(params, bigquery.QueryParameter{Name: "projeto", Value: f.Project})
	}
	if f.Year != 0 {
		where = append(where, alias+".ano = @ano")
		params = append(params, bigquery.QueryParameter{Name: "ano", Value: f.Year})
	}
	if f.Month != 0 {
		where = append(where, alias+".mes = @mes")
		params = append(params, bigquery.QueryParameter{Name: "mes", Value: f.Month})
	}
	if len(where) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(where, " AND "), params
}

// QueryLineItems returns active items matching f.
func (s *Store) QueryLineItems(ctx context.Context, f store.Filter) ([]domain.LineItem, error) {
	where, params := buildFilter("li", f)
	query := fmt.Sprintf(`
		SELECT li.*
		FROM %s li
		JOIN %s ab
		  ON ab.batch_id = li.batch_id AND ab.projeto = li.projeto AND ab.periodo = li.periodo
		%s
		ORDER BY li.projeto, li.ano, li.mes, li.linha
	`, s.table(lineItemsTable), s.table(activeBatchesTable), where)

	it, err := s.read(ctx, query, params...)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "query line items", Err: err}
	}

	var items []domain.LineItem
	for {
		var row LineItemRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, &domain.PersistenceError{Op: "query line items", Err: err}
		}
		items = append(items, row.ToLineItem())
	}
	return items, nil
}

// ListProjects returns projects with an active batch.
func (s *Store) ListProjects(ctx context.Context) ([]string, error) {
	it, err := s.read(ctx, fmt.Sprintf(`SELECT DISTINCT projeto FROM %s ORDER BY projeto`, s.table(activeBatchesTable)))
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list projects", Err: err}
	}

	var out []string
	for {
		var row struct {
			Projeto string `bigquery:"projeto"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, &domain.PersistenceError{Op: "list projects", Err: err}
		}
		out = append(out, row.Projeto)
	}
	return out, nil
}

// ListYears returns years with an active batch.
func (s *Store) ListYears(ctx context.Context) ([]int, error) {
	it, err := s.read(ctx, fmt.Sprintf(`SELECT DISTINCT ano FROM %s ORDER BY ano`, s.table(activeBatchesTable)))
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list years", Err: err}
	}

	var out []int
	for {
		var row struct {
			Ano int64 `bigquery:"ano"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, &domain.PersistenceError{Op: "list years", Err: err}
		}
		out = append(out, int(row.Ano))
	}
	return out, nil
}
