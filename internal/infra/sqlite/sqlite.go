// Package sqlite is the embedded single-file backend used for local runs,
// the CLI and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/dvloznov/dre-reports/internal/migrations"
	"github.com/dvloznov/dre-reports/internal/store"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// timestamps are stored as fixed-width UTC text so they sort lexically
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Store implements store.Store on SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database at path. ":memory:" gives a private
// in-memory database. Writers are serialized on a single connection.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("Open: open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("Open: %s: %w", pragma, err)
		}
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded SQLite migrations.
func (s *Store) Migrate(ctx context.Context, appliedBy string) (int, error) {
	ms, err := migrations.Embedded(migrations.SQLite, nil)
	if err != nil {
		return 0, err
	}
	return migrations.Run(ctx, &migrator{db: s.db}, ms, appliedBy)
}

// LoadBatch writes the batch, its items and the active batch markers in one transaction.
func (s *Store) LoadBatch(ctx context.Context, batch domain.UploadBatch, items []domain.LineItem) (store.LoadResult, error) {
	var res store.LoadResult
	if err := store.CheckBatch(batch, items); err != nil {
		return res, &domain.PersistenceError{Op: "load batch", Err: err}
	}

	now := s.now().UTC()
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO upload_batches (batch_id, source_name, execution_id, content_hash, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (batch_id) DO NOTHING
		`, batch.ID, batch.SourceName, batch.ExecutionID, batch.ContentHash, formatTime(batch.CreatedAt)); err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO dre_line_items (
				batch_id, linha, projeto, cliente, periodo, ano, mes,
				natureza, conta_resumo, valor, descricao, created_at
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (batch_id, projeto, periodo, conta_resumo, linha) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, li := range items {
			created := li.CreatedAt
			if created.IsZero() {
				created = now
			}
			r, err := stmt.ExecContext(ctx,
				li.BatchID, li.Row, li.Project, li.Client, li.Period.String(), li.Period.Year, li.Period.Month,
				string(li.Nature), li.Category, li.Amount.String(), li.Description, formatTime(created))
			if err != nil {
				return fmt.Errorf("insert row %d: %w", li.Row, err)
			}
			n, err := r.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			res.Inserted += int(n)
		}

		for _, pp := range store.CoveredPeriods(items) {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO active_batches (projeto, periodo, ano, mes, batch_id, loaded_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (projeto, periodo) DO UPDATE
				SET batch_id = excluded.batch_id, loaded_at = excluded.loaded_at
			`, pp.Project, pp.Period.String(), pp.Period.Year, pp.Period.Month, batch.ID, formatTime(now)); err != nil {
				return fmt.Errorf("activate %s %s: %w", pp.Project, pp.Period, err)
			}
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
		where = append(where, "li.projeto = ?")
		args = append(args, f.Project)
	}
	if f.Year != 0 {
		where = append(where, "li.ano = ?")
		args = append(args, f.Year)
	}
	if f.Month != 0 {
		where = append(where, "li.mes = ?")
		args = append(args, f.Month)
	}

	q := `
		SELECT li.batch_id, li.linha, li.projeto, li.cliente, li.ano, li.mes,
		       li.natureza, li.conta_resumo, li.valor, li.descricao, li.created_at
		FROM dre_line_items li
		JOIN active_batches ab
		  ON ab.batch_id = li.batch_id AND ab.projeto = li.projeto AND ab.periodo = li.periodo`
	if len(where) > 0 {
		q += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	q += "\n\t\tORDER BY li.projeto, li.ano, li.mes, li.linha"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "query line items", Err: err}
	}
	defer rows.Close()

	var out []domain.LineItem
	for rows.Next() {
		var (
			li             domain.LineItem
			nature, amount string
			created        string
		)
		if err := rows.Scan(&li.BatchID, &li.Row, &li.Project, &li.Client, &li.Period.Year, &li.Period.Month,
			&nature, &li.Category, &amount, &li.Description, &created); err != nil {
			return nil, &domain.PersistenceError{Op: "scan line item", Err: err}
		}
		li.Nature = domain.Nature(nature)
		if li.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, &domain.PersistenceError{Op: "scan line item", Err: fmt.Errorf("valor %q: %w", amount, err)}
		}
		li.CreatedAt = parseTime(created)
		out = append(out, li)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "query line items", Err: err}
	}
	return out, nil
}

// ListProjects returns projects with an active batch.
func (s *Store) ListProjects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT projeto FROM active_batches ORDER BY projeto`)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list projects", Err: err}
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, &domain.PersistenceError{Op: "list projects", Err: err}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListYears returns years with an active batch.
func (s *Store) ListYears(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT ano FROM active_batches ORDER BY ano`)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list years", Err: err}
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, &domain.PersistenceError{Op: "list years", Err: err}
		}
		out = append(out, y)
	}
	return out, rows.Err()
}

const batchSummarySelect = `
	SELECT b.batch_id, b.source_name, b.execution_id, b.content_hash, b.created_at,
	       (SELECT COUNT(*) FROM dre_line_items li WHERE li.batch_id = b.batch_id),
	       (SELECT COUNT(*) FROM active_batches ab WHERE ab.batch_id = b.batch_id)
	FROM upload_batches b`

func scanBatchSummary(row interface{ Scan(...any) error }) (store.BatchSummary, error) {
	var (
		bs      store.BatchSummary
		created string
	)
	err := row.Scan(&bs.ID, &bs.SourceName, &bs.ExecutionID, &bs.ContentHash, &created, &bs.Items, &bs.ActivePeriods)
	bs.CreatedAt = parseTime(created)
	return bs, err
}

// GetBatch returns one batch.
func (s *Store) GetBatch(ctx context.Context, id string) (*domain.UploadBatch, error) {
	bs, err := scanBatchSummary(s.db.QueryRowContext(ctx, batchSummarySelect+` WHERE b.batch_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "get batch", Err: err}
	}
	return &bs.UploadBatch, nil
}

// ListBatches returns the newest batches first.
func (s *Store) ListBatches(ctx context.Context, limit int) ([]store.BatchSummary, error) {
	rows, err := s.db.QueryContext(ctx, batchSummarySelect+` ORDER BY b.created_at DESC, b.batch_id LIMIT ?`, store.Limit(limit))
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_runs (run_id, batch_id, source, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.BatchID, run.Source, string(run.Status), formatTime(run.StartedAt))
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

	res, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_runs
		SET status = ?, batch_id = ?, loaded = ?, rejected = ?, error_message = ?, finished_at = ?
		WHERE run_id = ?
	`, string(run.Status), run.BatchID, run.Loaded, run.Rejected, run.Error, formatTime(*run.FinishedAt), run.ID)
	if err != nil {
		return &domain.PersistenceError{Op: "finish run", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListRuns returns the newest runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]domain.IngestionRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, batch_id, source, status, loaded, rejected, error_message, started_at, finished_at
		FROM ingestion_runs
		ORDER BY started_at DESC, run_id
		LIMIT ?
	`, store.Limit(limit))
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list runs", Err: err}
	}
	defer rows.Close()

	var out []domain.IngestionRun
	for rows.Next() {
		var (
			r        domain.IngestionRun
			status   string
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.BatchID, &r.Source, &status, &r.Loaded, &r.Rejected, &r.Error, &started, &finished); err != nil {
			return nil, &domain.PersistenceError{Op: "list runs", Err: err}
		}
		r.Status = domain.RunStatus(status)
		r.StartedAt = parseTime(started)
		if finished.Valid {
			t := parseTime(finished.String)
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceDimensions rewrites both dimension tables.
func (s *Store) ReplaceDimensions(ctx context.Context, projects []domain.ProjectDimension, periods []domain.PeriodDimension) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM dim_projects`); err != nil {
			return fmt.Errorf("clear projects: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM dim_periods`); err != nil {
			return fmt.Errorf("clear periods: %w", err)
		}
		for _, p := range projects {
			if _, err := tx.ExecContext(ctx, `INSERT INTO dim_projects (code, name) VALUES (?, ?)`, p.Code, p.Name); err != nil {
				return fmt.Errorf("insert project %s: %w", p.Code, err)
			}
		}
		for _, p := range periods {
			if _, err := tx.ExecContext(ctx, `INSERT INTO dim_periods (code, name, ano, mes) VALUES (?, ?, ?, ?)`,
				p.Code, p.Name, p.Year, p.Month); err != nil {
				return fmt.Errorf("insert period %s: %w", p.Code, err)
			}
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
	rows, err := s.db.QueryContext(ctx, `SELECT code, name FROM dim_projects ORDER BY code`)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list project dimensions", Err: err}
	}
	defer rows.Close()

	var out []domain.ProjectDimension
	for rows.Next() {
		var p domain.ProjectDimension
		if err := rows.Scan(&p.Code, &p.Name); err != nil {
			return nil, &domain.PersistenceError{Op: "list project dimensions", Err: err}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListPeriodDimensions returns the period dimension in calendar order.
func (s *Store) ListPeriodDimensions(ctx context.Context) ([]domain.PeriodDimension, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, name, ano, mes FROM dim_periods ORDER BY code`)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list period dimensions", Err: err}
	}
	defer rows.Close()

	var out []domain.PeriodDimension
	for rows.Next() {
		var p domain.PeriodDimension
		if err := rows.Scan(&p.Code, &p.Name, &p.Year, &p.Month); err != nil {
			return nil, &domain.PersistenceError{Op: "list period dimensions", Err: err}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}
