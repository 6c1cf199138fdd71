// Package postgres is the production relational backend built on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/dvloznov/dre-reports/internal/migrations"
	"github.com/dvloznov/dre-reports/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const stagingTable = "staging_dre_line_items"

var lineItemColumns = []string{
	"batch_id", "linha", "projeto", "cliente", "periodo", "ano", "mes",
	"natureza", "conta_resumo", "valor", "descricao", "created_at",
}

// Store implements store.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("Open: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("Open: ping: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Migrate applies the embedded PostgreSQL migrations.
func (s *Store) Migrate(ctx context.Context, appliedBy string) (int, error) {
	ms, err := migrations.Embedded(migrations.Postgres, nil)
	if err != nil {
		return 0, err
	}
	return migrations.Run(ctx, &migrator{pool: s.pool}, ms, appliedBy)
}

// LockKey is the advisory lock key text for one (project, period).
func LockKey(pp store.ProjectPeriod) string {
	return pp.Project + "|" + pp.Period.String()
}

// LoadBatch copies items into a transaction-scoped staging table and merges
// them into dre_line_items. Advisory locks on every covered (project, period),
// taken in sorted order, serialize concurrent loads touching the same months.
func (s *Store) LoadBatch(ctx context.Context, batch domain.UploadBatch, items []domain.LineItem) (store.LoadResult, error) {
	var res store.LoadResult
	if err := store.CheckBatch(batch, items); err != nil {
		return res, &domain.PersistenceError{Op: "load batch", Err: err}
	}

	now := s.now().UTC()
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now
	}
	covered := store.CoveredPeriods(items)

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, pp := range covered {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, LockKey(pp)); err != nil {
				return fmt.Errorf("lock %s: %w", LockKey(pp), err)
			}
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO upload_batches (batch_id, source_name, execution_id, content_hash, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (batch_id) DO NOTHING
		`, batch.ID, batch.SourceName, batch.ExecutionID, batch.ContentHash, batch.CreatedAt); err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			CREATE TEMP TABLE `+stagingTable+` (LIKE dre_line_items INCLUDING DEFAULTS) ON COMMIT DROP
		`); err != nil {
			return fmt.Errorf("create staging table: %w", err)
		}

		copied, err := tx.CopyFrom(ctx, pgx.Identifier{stagingTable}, lineItemColumns,
			pgx.CopyFromSlice(len(items), func(i int) ([]any, error) {
				li := items[i]
				created := li.CreatedAt
				if created.IsZero() {
					created = now
				}
				return []any{
					li.BatchID, li.Row, li.Project, li.Client, li.Period.String(), li.Period.Year, li.Period.Month,
					string(li.Nature), li.Category, numeric(li.Amount), li.Description, created,
				}, nil
			}))
		if err != nil {
			return fmt.Errorf("copy to staging: %w", err)
		}
		if int(copied) != len(items) {
			return fmt.Errorf("copy to staging: copied %d of %d rows", copied, len(items))
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO dre_line_items (`+strings.Join(lineItemColumns, ", ")+`)
			SELECT `+strings.Join(lineItemColumns, ", ")+` FROM `+stagingTable+`
			ON CONFLICT (batch_id, projeto, periodo, conta_resumo, linha) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("merge staging: %w", err)
		}
		res.Inserted = int(tag.RowsAffected())

		b := &pgx.Batch{}
		for _, pp := range covered {
			b.Queue(`
				INSERT INTO active_batches (projeto, periodo, ano, mes, batch_id, loaded_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (projeto, periodo) DO UPDATE
				SET batch_id = EXCLUDED.batch_id, loaded_at = EXCLUDED.loaded_at
			`, pp.Project, pp.Period.String(), pp.Period.Year, pp.Period.Month, batch.ID, now)
		}
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("activate batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return store.LoadResult{}, &domain.PersistenceError{Op: "load batch", Err: err}
	}

	res.Skipped = len(items) - res.Inserted
	return res, nil
}

// QueryLineItems returns active items matching f.
func (s *Store) QueryLineItems(ctx context.Context, f store.Filter) ([]domain.LineItem, error) {
	var (
		where []string
		args  []any
	)
	if f.Project != "" {
		args = append(args, f.Project)
		where = append(where, fmt.Sprintf("li.projeto = $%d", len(args)))
	}
	if f.Year != 0 {
		args = append(args, f.Year)
		where = append(where, fmt.Sprintf("li.ano = $%d", len(args)))
	}
	if f.Month != 0 {
		args = append(args, f.Month)
		where = append(where, fmt.Sprintf("li.mes = $%d", len(args)))
	}

	q := `
		SELECT li.batch_id, li.linha, li.projeto, li.cliente, li.ano, li.mes,
		       li.natureza, li.conta_resumo, li.valor::text, li.descricao, li.created_at
		FROM dre_line_items li
		JOIN active_batches ab
		  ON ab.batch_id = li.batch_id AND ab.projeto = li.projeto AND ab.periodo = li.periodo`
	if len(where) > 0 {
		q += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	q += "\n\t\tORDER BY li.projeto, li.ano, li.mes, li.linha"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "query line items", Err: err}
	}
	defer rows.Close()

	var out []domain.LineItem
	for rows.Next() {
		var (
			li             domain.LineItem
			nature, amount string
		)
		if err := rows.Scan(&li.BatchID, &li.Row, &li.Project, &li.Client, &li.Period.Year, &li.Period.Month,
			&nature, &li.Category, &amount, &li.Description, &li.CreatedAt); err != nil {
			return nil, &domain.PersistenceError{Op: "scan line item", Err: err}
		}
		li.Nature = domain.Nature(nature)
		if li.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, &domain.PersistenceError{Op: "scan line item", Err: fmt.Errorf("valor %q: %w", amount, err)}
		}
		out = append(out, li)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "query line items", Err: err}
	}
	return out, nil
}

// ListProjects returns projects with an active batch.
func (s *Store) ListProjects(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT projeto FROM active_batches ORDER BY projeto`)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list projects", Err: err}
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list projects", Err: err}
	}
	return out, nil
}

// ListYears returns years with an active batch.
func (s *Store) ListYears(ctx context.Context) ([]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT ano FROM active_batches ORDER BY ano`)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list years", Err: err}
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list years", Err: err}
	}
	return out, nil
}

const batchSummarySelect = `
	SELECT b.batch_id, b.source_name, b.execution_id, b.content_hash, b.created_at,
	       (SELECT COUNT(*) FROM dre_line_items li WHERE li.batch_id = b.batch_id),
	       (SELECT COUNT(*) FROM active_batches ab WHERE ab.batch_id = b.batch_id)
	FROM upload_batches b`

func scanBatchSummary(row pgx.Row) (store.BatchSummary, error) {
	var bs store.BatchSummary
	err := row.Scan(&bs.ID, &bs.SourceName, &bs.ExecutionID, &bs.ContentHash, &bs.CreatedAt, &bs.Items, &bs.ActivePeriods)
	return bs, err
}

// GetBatch returns one batch.
func (s *Store) GetBatch(ctx context.Context, id string) (*domain.UploadBatch, error) {
	bs, err := scanBatchSummary(s.pool.QueryRow(ctx, batchSummarySelect+` WHERE b.batch_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "get batch", Err: err}
	}
	return &bs.UploadBatch, nil
}

// ListBatches returns the newest batches first.
func (s *Store) ListBatches(ctx context.Context, limit int) ([]store.BatchSummary, error) {
	rows, err := s.pool.Query(ctx, batchSummarySelect+` ORDER BY b.created_at DESC, b.batch_id LIMIT $1`, store.Limit(limit))
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list batches", Err: err}
	}
	defer rows.Close()

	var out []store.BatchSummary
	for rows.Next() {
		bs, err := scanBatchSummary(rows)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "list batches", Err: err}
		}
		out = append(out, bs)
	}
	return out, rows.Err()
}

// StartRun inserts a RUNNING run.
func (s *Store) StartRun(ctx context.Context, run *domain.IngestionRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now().UTC()
	}
	run.Status = domain.RunStatusRunning

	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingestion_runs (run_id, batch_id, source, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`, run.ID, run.BatchID, run.Source, string(run.Status), run.StartedAt)
	if err != nil {
		return &domain.PersistenceError{Op: "start run", Err: err}
	}
	return nil
}

// FinishRun records the final state of run.
func (s *Store) FinishRun(ctx context.Context, run *domain.IngestionRun) error {
	if run.FinishedAt == nil {
		now := s.now().UTC()
		run.FinishedAt = &now
	}
	run.Error = domain.TruncateRunError(run.Error)

	tag, err := s.pool.Exec(ctx, `
		UPDATE ingestion_runs
		SET status = $1, batch_id = $2, loaded = $3, rejected = $4, error_message = $5, finished_at = $6
		WHERE run_id = $7
	`, string(run.Status), run.BatchID, run.Loaded, run.Rejected, run.Error, *run.FinishedAt, run.ID)
	if err != nil {
		return &domain.PersistenceError{Op: "finish run", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListRuns returns the newest runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]domain.IngestionRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, batch_id, source, status, loaded, rejected, error_message, started_at, finished_at
		FROM ingestion_runs
		ORDER BY started_at DESC, run_id
		LIMIT $1
	`, store.Limit(limit))
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list runs", Err: err}
	}
	defer rows.Close()

	var out []domain.IngestionRun
	for rows.Next() {
		var (
			r      domain.IngestionRun
			status string
		)
		if err := rows.Scan(&r.ID, &r.BatchID, &r.Source, &status, &r.Loaded, &r.Rejected, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, &domain.PersistenceError{Op: "list runs", Err: err}
		}
		r.Status = domain.RunStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceDimensions rewrites both dimension tables.
func (s *Store) ReplaceDimensions(ctx context.Context, projects []domain.ProjectDimension, periods []domain.PeriodDimension) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM dim_projects`); err != nil {
			return fmt.Errorf("clear projects: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM dim_periods`); err != nil {
			return fmt.Errorf("clear periods: %w", err)
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"dim_projects"}, []string{"code", "name"},
			pgx.CopyFromSlice(len(projects), func(i int) ([]any, error) {
				return []any{projects[i].Code, projects[i].Name}, nil
			})); err != nil {
			return fmt.Errorf("copy projects: %w", err)
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"dim_periods"}, []string{"code", "name", "ano", "mes"},
			pgx.CopyFromSlice(len(periods), func(i int) ([]any, error) {
				p := periods[i]
				return []any{p.Code, p.Name, p.Year, p.Month}, nil
			})); err != nil {
			return fmt.Errorf("copy periods: %w", err)
		}
		return nil
	})
	if err != nil {
		return &domain.PersistenceError{Op: "replace dimensions", Err: err}
	}
	return nil
}

// ListProjectDimensions returns the project dimension ordered by code.
func (s *Store) ListProjectDimensions(ctx context.Context) ([]domain.ProjectDimension, error) {
	rows, err := s.pool.Query(ctx, `SELECT code, name FROM dim_projects ORDER BY code`)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list project dimensions", Err: err}
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ProjectDimension, error) {
		var p domain.ProjectDimension
		err := row.Scan(&p.Code, &p.Name)
		return p, err
	})
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list project dimensions", Err: err}
	}
	return out, nil
}

// ListPeriodDimensions returns the period dimension in calendar order.
func (s *Store) ListPeriodDimensions(ctx context.Context) ([]domain.PeriodDimension, error) {
	rows, err := s.pool.Query(ctx, `SELECT code, name, ano, mes FROM dim_periods ORDER BY code`)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list period dimensions", Err: err}
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PeriodDimension, error) {
		var p domain.PeriodDimension
		err := row.Scan(&p.Code, &p.Name, &p.Year, &p.Month)
		return p, err
	})
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list period dimensions", Err: err}
	}
	return out, nil
}

// numeric converts an exact decimal into its wire form for binary COPY.
func numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}
