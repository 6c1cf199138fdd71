package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/dre-reports/internal/domain"
	"google.golang.org/api/iterator"
)

// ReplaceDimensions swaps both dimension tables in one multi-statement transaction.
func (s *Store) ReplaceDimensions(ctx context.Context, projects []domain.ProjectDimension, periods []domain.PeriodDimension) error {
	projectRows := make([]projectParam, len(projects))
	for i, p := range projects {
		projectRows[i] = projectParam{Code: p.Code, Name: p.Name}
	}
	periodRows := make([]periodParam, len(periods))
	for i, p := range periods {
		periodRows[i] = periodParam{Code: p.Code, Name: p.Name, Ano: int64(p.Year), Mes: int64(p.Month)}
	}

	_, err := s.exec(ctx, fmt.Sprintf(`
		BEGIN TRANSACTION;
		DELETE FROM %[1]s WHERE TRUE;
		DELETE FROM %[2]s WHERE TRUE;
		INSERT INTO %[1]s (code, name) SELECT code, name FROM UNNEST(@projects);
		INSERT INTO %[2]s (code, name, ano, mes) SELECT code, name, ano, mes FROM UNNEST(@periods);
		COMMIT TRANSACTION;
	`, s.table(dimProjectsTable), s.table(dimPeriodsTable)),
		bigquery.QueryParameter{Name: "projects", Value: projectRows},
		bigquery.QueryParameter{Name: "periods", Value: periodRows},
	)
	if err != nil {
		return &domain.PersistenceError{Op: "replace dimensions", Err: err}
	}
	return nil
}

// ListProjectDimensions returns the project dimension ordered by code.
func (s *Store) ListProjectDimensions(ctx context.Context) ([]domain.ProjectDimension, error) {
	it, err := s.read(ctx, fmt.Sprintf(`SELECT code, name FROM %s ORDER BY code`, s.table(dimProjectsTable)))
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list project dimensions", Err: err}
	}

	var out []domain.ProjectDimension
	for {
		var row projectParam
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, &domain.PersistenceError{Op: "list project dimensions", Err: err}
		}
		out = append(out, domain.ProjectDimension{Code: row.Code, Name: row.Name})
	}
	return out, nil
}

// ListPeriodDimensions returns the period dimension in calendar order.
func (s *Store) ListPeriodDimensions(ctx context.Context) ([]domain.PeriodDimension, error) {
	it, err := s.read(ctx, fmt.Sprintf(`SELECT code, name, ano, mes FROM %s ORDER BY code`, s.table(dimPeriodsTable)))
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list period dimensions", Err: err}
	}

	var out []domain.PeriodDimension
	for {
		var row periodParam
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, &domain.PersistenceError{Op: "list period dimensions", Err: err}
		}
		out = append(out, domain.PeriodDimension{Code: row.Code, Name: row.Name, Year: int(row.Ano), Month: int(row.Mes)})
	}
	return out, nil
}
