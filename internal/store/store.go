// Package store defines the persistence contracts shared by the ingestion
// pipeline, the read API and the backends under internal/infra.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dvloznov/dre-reports/internal/domain"
)

// ErrNotFound is returned when a lookup by id matches nothing.
var ErrNotFound = errors.New("not found")

// Filter narrows line item queries. Zero values mean "any".
type Filter struct {
	Project string
	Year    int
	Month   int
}

// Matches reports whether an item falls inside the filter.
func (f Filter) Matches(li domain.LineItem) bool {
	if f.Project != "" && li.Project != f.Project {
		return false
	}
	if f.Year != 0 && li.Period.Year != f.Year {
		return false
	}
	if f.Month != 0 && li.Period.Month != f.Month {
		return false
	}
	return true
}

// LoadResult reports the outcome of loading one batch.
type LoadResult struct {
	Inserted int // rows written by this load
	Skipped  int // rows already present under the same natural key
}

// BatchSummary describes a stored upload batch.
type BatchSummary struct {
	domain.UploadBatch
	Items         int
	ActivePeriods int // (project, period) pairs for which this batch is current
}

// LineItemRepository loads and reads normalized line items.
type LineItemRepository interface {
	// LoadBatch writes the batch record and its items in one transaction and
	// marks the batch active for every (project, period) it covers. Rows whose
	// natural key already exists are skipped. Any failure rolls the whole
	// batch back and is reported as *domain.PersistenceError.
	LoadBatch(ctx context.Context, batch domain.UploadBatch, items []domain.LineItem) (LoadResult, error)

	// QueryLineItems returns items of the active batch of each (project, period)
	// matching f, ordered by project, year, month and row.
	QueryLineItems(ctx context.Context, f Filter) ([]domain.LineItem, error)

	// ListProjects returns the distinct projects that have active items.
	ListProjects(ctx context.Context) ([]string, error)

	// ListYears returns the distinct years that have active items, ascending.
	ListYears(ctx context.Context) ([]int, error)
}

// BatchRepository reads upload batches.
type BatchRepository interface {
	// GetBatch returns the batch with the given id or ErrNotFound.
	GetBatch(ctx context.Context, id string) (*domain.UploadBatch, error)

	// ListBatches returns the most recent batches first.
	ListBatches(ctx context.Context, limit int) ([]BatchSummary, error)
}

// RunRepository tracks ingestion runs.
type RunRepository interface {
	// StartRun inserts run with status RUNNING.
	StartRun(ctx context.Context, run *domain.IngestionRun) error

	// FinishRun stores the final status, counts and error of run.
	FinishRun(ctx context.Context, run *domain.IngestionRun) error

	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]domain.IngestionRun, error)
}

// DimensionRepository stores the project and period lookup tables.
type DimensionRepository interface {
	// ReplaceDimensions swaps both tables for the given contents in one transaction.
	ReplaceDimensions(ctx context.Context, projects []domain.ProjectDimension, periods []domain.PeriodDimension) error

	// ListProjectDimensions returns project dimensions ordered by code.
	ListProjectDimensions(ctx context.Context) ([]domain.ProjectDimension, error)

	// ListPeriodDimensions returns period dimensions in calendar order.
	ListPeriodDimensions(ctx context.Context) ([]domain.PeriodDimension, error)
}

// Store is a complete persistence backend.
type Store interface {
	LineItemRepository
	BatchRepository
	RunRepository
	DimensionRepository

	// Migrate applies pending schema migrations.
	Migrate(ctx context.Context, appliedBy string) (int, error)

	Close() error
}

// DefaultListLimit bounds list queries when the caller passes no limit.
const DefaultListLimit = 100

// Limit returns n, or DefaultListLimit when n is not positive.
func Limit(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	return n
}

// ProjectPeriod is one (project, period) pair covered by a batch.
type ProjectPeriod struct {
	Project string
	Period  domain.Period
}

// CoveredPeriods returns the distinct (project, period) pairs of items,
// sorted by project then period. Backends lock and activate in this order.
func CoveredPeriods(items []domain.LineItem) []ProjectPeriod {
	seen := make(map[ProjectPeriod]bool)
	var out []ProjectPeriod
	for _, li := range items {
		pp := ProjectPeriod{Project: li.Project, Period: li.Period}
		if seen[pp] {
			continue
		}
		seen[pp] = true
		out = append(out, pp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Project != out[j].Project {
			return out[i].Project < out[j].Project
		}
		return out[i].Period.Before(out[j].Period)
	})
	return out
}

// CheckBatch verifies that every item belongs to batch and is valid.
func CheckBatch(batch domain.UploadBatch, items []domain.LineItem) error {
	if batch.ID == "" {
		return errors.New("batch id is empty")
	}
	for _, li := range items {
		if li.BatchID != batch.ID {
			return fmt.Errorf("row %d belongs to batch %q, expected %q", li.Row, li.BatchID, batch.ID)
		}
		if err := li.Validate(); err != nil {
			return fmt.Errorf("row %d: %w", li.Row, err)
		}
	}
	return nil
}
