// =============================================================================
// ICBU Broker - Schema Field Mapper
// =============================================================================
//
// This module maps one flat input row (a spreadsheet row or a raw JSON
// object) onto the parsed schema tree, producing FlatData keyed by field
// path.
//
// COLUMN RESOLUTION:
//   A column is resolved by field id first, then by dotted field path, then
//   by field name. Unknown columns are ignored so templates may carry helper
//   columns. Empty cells ("" or nil) are skipped.
//
// VALUE NORMALIZATION:
//   - singleCheck : option value, then option display name, then the
//                   "Other" sentinel when free text is allowed
//   - multiCheck  : "A|B" or a list; each token is matched against the
//                   option display names only, then the sentinel
//   - others      : passed through unchanged
//
// A value that cannot be normalized fails the whole row with an
// *UnsupportedValueError.
//
// =============================================================================

package mapper

import (
	"fmt"
	"sort"
	"strings"

	"github.com/billlvtech/icbu-broker/internal/types"
)

// MultiValueSeparator splits multiCheck cells.
const MultiValueSeparator = "|"

// UnsupportedValueError is returned when a check value matches no option and
// the field does not accept free text.
type UnsupportedValueError struct {
	FieldID string
	Value   string
	Allowed []string
}

func (e *UnsupportedValueError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("[%s] unsupported value: %s", e.FieldID, e.Value)
	}
	return fmt.Sprintf("[%s] unsupported value: %s, allowed: [%s]",
		e.FieldID, e.Value, strings.Join(e.Allowed, ", "))
}

// =============================================================================
// MAPPER
// =============================================================================

// SchemaFieldMapper resolves input columns against a parsed schema.
type SchemaFieldMapper struct {
	byID   map[string]*types.Field
	byPath map[string]*types.Field
	byName map[string]*types.Field
}

// New indexes the field tree. Ids resolve to the last field seen with that
// id; names resolve to the first.
func New(fields []*types.Field) *SchemaFieldMapper {
	m := &SchemaFieldMapper{
		byID:   make(map[string]*types.Field),
		byPath: make(map[string]*types.Field),
		byName: make(map[string]*types.Field),
	}
	types.Walk(fields, func(f *types.Field) {
		if f.ID != "" {
			m.byID[f.ID] = f
		}
		if f.Path != "" {
			m.byPath[f.Path] = f
		}
		if f.Name != "" {
			if _, exists := m.byName[f.Name]; !exists {
				m.byName[f.Name] = f
			}
		}
	})
	return m
}

// Match ranks, lower wins when two columns resolve to the same field.
const (
	matchID = iota
	matchPath
	matchName
)

// Lookup resolves a column to a field by id, then by path, then by name.
func (m *SchemaFieldMapper) Lookup(column string) (*types.Field, bool) {
	f, _, ok := m.lookup(column)
	return f, ok
}

func (m *SchemaFieldMapper) lookup(column string) (*types.Field, int, bool) {
	if f, ok := m.byID[column]; ok {
		return f, matchID, true
	}
	if f, ok := m.byPath[column]; ok {
		return f, matchPath, true
	}
	f, ok := m.byName[column]
	return f, matchName, ok
}

// MapRow normalizes a row into FlatData keyed by field path. Columns are
// visited in sorted order. When several columns resolve to one field, an id
// or path column beats a name column; among equal matches the first sorted
// column wins.
func (m *SchemaFieldMapper) MapRow(row map[string]any) (types.FlatData, error) {
	columns := make([]string, 0, len(row))
	for column := range row {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	flat := make(types.FlatData)
	ranks := make(map[string]int)

	for _, column := range columns {
		raw := row[column]
		if isEmptyCell(raw) {
			continue
		}

		field, rank, ok := m.lookup(column)
		if !ok {
			continue
		}
		if prev, seen := ranks[field.Path]; seen && prev <= rank {
			continue
		}

		value, err := mapField(field, raw)
		if err != nil {
			return nil, err
		}
		if value == nil {
			continue
		}
		flat[field.Path] = value
		ranks[field.Path] = rank
	}

	return flat, nil
}

// MapRows maps several rows, stopping at the first failing row.
func (m *SchemaFieldMapper) MapRows(rows []map[string]any) ([]types.FlatData, error) {
	result := make([]types.FlatData, 0, len(rows))
	for i, row := range rows {
		flat, err := m.MapRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		result = append(result, flat)
	}
	return result, nil
}

// =============================================================================
// FIELD MAPPING
// =============================================================================

func mapField(field *types.Field, raw any) (any, error) {
	switch field.Type {
	case types.FieldSingleCheck:
		return mapSingle(field, raw)
	case types.FieldMultiCheck:
		return mapMulti(field, split(raw))
	}
	return raw, nil
}

func mapSingle(field *types.Field, raw any) (any, error) {
	text := types.Stringify(raw)

	for _, opt := range field.Options {
		if opt.Value == text {
			return opt.Value, nil
		}
	}
	for _, opt := range field.Options {
		if opt.DisplayName == text {
			return opt.Value, nil
		}
	}
	if field.SupportsInputValue() {
		return types.NewOtherValue(text), nil
	}

	return nil, &UnsupportedValueError{
		FieldID: field.ID,
		Value:   text,
		Allowed: field.OptionValues(),
	}
}

// mapMulti matches display names only; option values are not accepted here.
func mapMulti(field *types.Field, tokens []string) (any, error) {
	result := make([]any, 0, len(tokens))

	for _, token := range tokens {
		matched := false
		for _, opt := range field.Options {
			if opt.DisplayName == token {
				result = append(result, opt.Value)
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		if !field.SupportsInputValue() {
			return nil, &UnsupportedValueError{
				FieldID: field.ID,
				Value:   token,
				Allowed: field.OptionValues(),
			}
		}
		result = append(result, types.NewOtherValue(token))
	}

	return result, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// split turns a multiCheck cell into trimmed, non-empty tokens.
func split(raw any) []string {
	if items, ok := types.AsList(raw); ok {
		tokens := make([]string, 0, len(items))
		for _, item := range items {
			tokens = append(tokens, types.Stringify(item))
		}
		return tokens
	}

	parts := strings.Split(types.Stringify(raw), MultiValueSeparator)
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

func isEmptyCell(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}
