package parser

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/dvloznov/dre-reports/internal/logger"
	"github.com/dvloznov/dre-reports/internal/normalize"
	"github.com/schollz/closestmatch"
	"gopkg.in/yaml.v3"
)

//go:embed default_mapping.yaml
var defaultMappingYAML []byte

// substring matching is skipped for patterns shorter than this
const minSubstringPattern = 4

// FieldRule lists the header patterns accepted for one canonical field.
type FieldRule struct {
	Field          string   `yaml:"field"`
	Required       bool     `yaml:"required"`
	RequiredUnless []string `yaml:"required_unless,omitempty"`
	Patterns       []string `yaml:"patterns"`
}

// MappingTable is the declarative canonicalField -> patterns table.
type MappingTable struct {
	Fields []FieldRule `yaml:"fields"`
}

// MatchMethod records how a header was matched to a field.
type MatchMethod string

const (
	MatchExact     MatchMethod = "exact"
	MatchSubstring MatchMethod = "substring"
	MatchFuzzy     MatchMethod = "fuzzy"
	MatchAI        MatchMethod = "ai"
)

// Match binds one canonical field to one header column.
type Match struct {
	Field  string      `json:"field"`
	Header string      `json:"header"`
	Column int         `json:"column"`
	Method MatchMethod `json:"method"`
}

// Mapping is the result of resolving a table against a header row.
type Mapping struct {
	Headers []string
	Matches []Match
	columns map[string]int
}

// Column returns the column index bound to field.
func (m *Mapping) Column(field string) (int, bool) {
	idx, ok := m.columns[field]
	return idx, ok
}

// HeaderResolver is consulted for required fields the table could not map.
// It returns field -> header text; unknown or already claimed headers are ignored.
type HeaderResolver interface {
	Resolve(ctx context.Context, missing []string, headers []string) (map[string]string, error)
}

// DefaultMapping returns the built-in mapping table.
func DefaultMapping() (*MappingTable, error) {
	return ParseMapping(defaultMappingYAML)
}

// LoadMapping reads a mapping table from a YAML file, or the built-in table
// when path is empty.
func LoadMapping(path string) (*MappingTable, error) {
	if path == "" {
		return DefaultMapping()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadMapping: read %s: %w", path, err)
	}
	return ParseMapping(data)
}

// ParseMapping decodes and validates a YAML mapping table.
func ParseMapping(data []byte) (*MappingTable, error) {
	var t MappingTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("ParseMapping: decode yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("ParseMapping: %w", err)
	}
	return &t, nil
}

// Validate checks the table is usable: unique field names, at least one
// pattern each, required_unless naming fields in the table, and the three
// fields every line item needs marked as required.
func (t *MappingTable) Validate() error {
	if len(t.Fields) == 0 {
		return errors.New("mapping table has no fields")
	}

	seen := make(map[string]bool, len(t.Fields))
	for _, f := range t.Fields {
		if f.Field == "" {
			return errors.New("mapping rule without field name")
		}
		if seen[f.Field] {
			return fmt.Errorf("field %q listed twice", f.Field)
		}
		seen[f.Field] = true

		if len(f.Patterns) == 0 {
			return fmt.Errorf("field %q has no patterns", f.Field)
		}
		for _, p := range f.Patterns {
			if normalize.Key(p) == "" {
				return fmt.Errorf("field %q has an empty pattern", f.Field)
			}
		}
	}

	for _, f := range t.Fields {
		for _, alt := range f.RequiredUnless {
			if !seen[alt] {
				return fmt.Errorf("field %q: required_unless names unknown field %q", f.Field, alt)
			}
		}
	}

	for _, must := range []string{domain.FieldProject, domain.FieldCategory, domain.FieldAmount} {
		rule, ok := t.rule(must)
		if !ok || !rule.Required {
			return fmt.Errorf("field %q must be present and required", must)
		}
	}
	return nil
}

func (t *MappingTable) rule(field string) (FieldRule, bool) {
	for _, f := range t.Fields {
		if f.Field == field {
			return f, true
		}
	}
	return FieldRule{}, false
}

// ResolveOptions tunes Resolve beyond exact and substring matching.
type ResolveOptions struct {
	Fuzzy    bool
	Resolver HeaderResolver
}

// Resolve binds the table's fields to columns of headers. Each column is
// claimed by at most one field. Passes run in order: exact, substring, fuzzy
// (when enabled) and the external resolver (when set, for required fields
// only). A required field left unmapped is a HeaderMappingError.
func (t *MappingTable) Resolve(ctx context.Context, headers []string, opts ResolveOptions) (*Mapping, error) {
	keys := make([]string, len(headers))
	for i, h := range headers {
		keys[i] = normalize.Key(h)
	}

	m := &Mapping{Headers: headers, columns: make(map[string]int)}
	claimed := make(map[int]bool)

	bind := func(field string, col int, method MatchMethod) {
		m.columns[field] = col
		claimed[col] = true
		m.Matches = append(m.Matches, Match{Field: field, Header: headers[col], Column: col, Method: method})
	}

	// exact
	for _, rule := range t.Fields {
		for _, p := range rule.Patterns {
			if col := findColumn(keys, claimed, func(k string) bool { return k == normalize.Key(p) }); col >= 0 {
				bind(rule.Field, col, MatchExact)
				break
			}
		}
	}

	// substring
	for _, rule := range t.Fields {
		if _, ok := m.columns[rule.Field]; ok {
			continue
		}
		for _, p := range rule.Patterns {
			pk := normalize.Key(p)
			if len(pk) < minSubstringPattern {
				continue
			}
			if col := findColumn(keys, claimed, func(k string) bool { return strings.Contains(k, pk) }); col >= 0 {
				bind(rule.Field, col, MatchSubstring)
				break
			}
		}
	}

	if opts.Fuzzy {
		t.resolveFuzzy(keys, claimed, m, bind)
	}

	missing := t.missing(m)
	if len(missing) > 0 && opts.Resolver != nil {
		log := logger.FromContext(ctx)
		suggested, err := opts.Resolver.Resolve(ctx, missing, headers)
		if err != nil {
			log.Warn().Err(err).Strs("missing", missing).Msg("Header resolver failed")
		}
		for _, field := range missing {
			header, ok := suggested[field]
			if !ok {
				continue
			}
			for col, h := range headers {
				if !claimed[col] && strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(header)) {
					log.Info().Str("field", field).Str("header", h).Msg("Header mapped by resolver")
					bind(field, col, MatchAI)
					break
				}
			}
		}
		missing = t.missing(m)
	}

	if len(missing) > 0 {
		return nil, &domain.HeaderMappingError{Missing: missing, Headers: headers}
	}
	return m, nil
}

// resolveFuzzy binds still-unmapped fields to the closest unclaimed header.
// A candidate is accepted only when it shares its first three letters with
// the pattern and the lengths are comparable, which keeps typo tolerance
// ("Perido", "Naturesa") without pairing unrelated columns.
func (t *MappingTable) resolveFuzzy(keys []string, claimed map[int]bool, m *Mapping, bind func(string, int, MatchMethod)) {
	for _, rule := range t.Fields {
		if _, ok := m.columns[rule.Field]; ok {
			continue
		}

		var candidates []string
		byKey := make(map[string]int)
		for col, k := range keys {
			if claimed[col] || k == "" {
				continue
			}
			if _, dup := byKey[k]; !dup {
				byKey[k] = col
				candidates = append(candidates, k)
			}
		}
		if len(candidates) == 0 {
			return
		}

		cm := closestmatch.New(candidates, []int{2, 3})
		for _, p := range rule.Patterns {
			pk := normalize.Key(p)
			if len(pk) < minSubstringPattern {
				continue
			}
			best := cm.Closest(pk)
			if best == "" || !similar(pk, best) {
				continue
			}
			bind(rule.Field, byKey[best], MatchFuzzy)
			break
		}
	}
}

func similar(pattern, candidate string) bool {
	if len(candidate) < 3 || pattern[:3] != candidate[:3] {
		return false
	}
	ratio := float64(len(candidate)) / float64(len(pattern))
	return ratio >= 0.7 && ratio <= 1.4
}

// missing lists required fields with no column, honouring required_unless.
func (t *MappingTable) missing(m *Mapping) []string {
	var out []string
	for _, rule := range t.Fields {
		if !rule.Required {
			continue
		}
		if _, ok := m.columns[rule.Field]; ok {
			continue
		}
		if len(rule.RequiredUnless) > 0 {
			all := true
			for _, alt := range rule.RequiredUnless {
				if _, ok := m.columns[alt]; !ok {
					all = false
					break
				}
			}
			if all {
				continue
			}
		}
		out = append(out, rule.Field)
	}
	return out
}

func findColumn(keys []string, claimed map[int]bool, match func(string) bool) int {
	for col, k := range keys {
		if claimed[col] || k == "" {
			continue
		}
		if match(k) {
			return col
		}
	}
	return -1
}
