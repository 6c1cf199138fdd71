// Package parser turns the first worksheet of a spreadsheet into records
// keyed by canonical field name.
package parser

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/dvloznov/dre-reports/internal/logger"
)

// Record is one non-blank data row.
type Record struct {
	Row    int               // 1-based row or line number in the source file
	Fields map[string]string // canonical field -> trimmed cell text
	Raw    map[string]string // header text -> cell text
}

// Parser opens spreadsheets against a mapping table.
type Parser struct {
	table    *MappingTable
	fuzzy    bool
	resolver HeaderResolver
}

// Option configures a Parser.
type Option func(*Parser)

// WithFuzzy enables closest-match header resolution.
func WithFuzzy(enabled bool) Option {
	return func(p *Parser) { p.fuzzy = enabled }
}

// WithResolver sets a resolver consulted for unmapped required fields.
func WithResolver(r HeaderResolver) Option {
	return func(p *Parser) { p.resolver = r }
}

// New creates a Parser for the given mapping table.
func New(table *MappingTable, opts ...Option) *Parser {
	p := &Parser{table: table}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Table returns the mapping table in use.
func (p *Parser) Table() *MappingTable {
	return p.table
}

// Sheet is an opened worksheet whose header row has been mapped.
type Sheet struct {
	Name    string
	Format  Format
	Headers []string
	Mapping *Mapping

	first    []string
	firstRow int
	next     func() (sourceRow, error, bool)
	stop     func()
	consumed bool
}

// Open decodes data, maps the header row and checks that at least one data
// row exists. The data rows themselves are read lazily by Records.
//
// Errors: EmptySheetError when nothing follows the header, HeaderMappingError
// when a required field has no column, ErrUnsupportedFormat for unknown content.
func (p *Parser) Open(ctx context.Context, name string, data []byte) (*Sheet, error) {
	log := logger.FromContext(ctx)

	format, err := DetectFormat(name, data)
	if err != nil {
		return nil, err
	}

	src, err := openRows(format, data)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}

	next, stop := iter.Pull2(src.rows)
	s := &Sheet{Name: src.sheet, Format: format, next: next, stop: stop}

	header, err, ok := next()
	if err != nil {
		stop()
		return nil, fmt.Errorf("Open: read header: %w", err)
	}
	if !ok || isBlank(header.Cells) {
		stop()
		return nil, &domain.EmptySheetError{Sheet: src.sheet}
	}
	s.Headers = trimAll(header.Cells)

	mapping, err := p.table.Resolve(ctx, s.Headers, ResolveOptions{Fuzzy: p.fuzzy, Resolver: p.resolver})
	if err != nil {
		stop()
		return nil, err
	}
	s.Mapping = mapping

	first, row, err := s.nextNonBlank()
	if err != nil {
		stop()
		return nil, fmt.Errorf("Open: read first data row: %w", err)
	}
	if first == nil {
		stop()
		return nil, &domain.EmptySheetError{Sheet: src.sheet}
	}
	s.first, s.firstRow = first, row

	log.Debug().
		Str("sheet", s.Name).
		Str("format", string(format)).
		Int("columns", len(s.Headers)).
		Int("mapped_fields", len(mapping.Matches)).
		Msg("Sheet opened")

	return s, nil
}

// Records yields the data rows in sheet order, skipping blank rows.
// The sequence can be ranged over once; re-open the file to read it again.
func (s *Sheet) Records() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		if s.consumed {
			return
		}
		s.consumed = true
		defer s.stop()

		if s.first != nil {
			first := s.first
			s.first = nil
			if !yield(s.record(s.firstRow, first), nil) {
				return
			}
		}

		for {
			cells, row, err := s.nextNonBlank()
			if err != nil {
				yield(Record{}, err)
				return
			}
			if cells == nil {
				return
			}
			if !yield(s.record(row, cells), nil) {
				return
			}
		}
	}
}

// Close releases the underlying reader when Records was not fully consumed.
func (s *Sheet) Close() {
	if s.stop != nil {
		s.stop()
	}
}

func (s *Sheet) nextNonBlank() ([]string, int, error) {
	for {
		row, err, ok := s.next()
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			return nil, 0, nil
		}
		if !isBlank(row.Cells) {
			return row.Cells, row.Num, nil
		}
	}
}

func (s *Sheet) record(row int, cells []string) Record {
	rec := Record{
		Row:    row,
		Fields: make(map[string]string, len(s.Mapping.Matches)),
		Raw:    make(map[string]string, len(s.Headers)),
	}
	for i, h := range s.Headers {
		if h == "" {
			continue
		}
		rec.Raw[h] = cell(cells, i)
	}
	for _, m := range s.Mapping.Matches {
		rec.Fields[m.Field] = strings.TrimSpace(cell(cells, m.Column))
	}
	return rec
}

func cell(cells []string, i int) string {
	if i < len(cells) {
		return cells[i]
	}
	return ""
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func trimAll(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.TrimSpace(c)
	}
	return out
}
