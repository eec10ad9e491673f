// =============================================================================
// ICBU Broker - Validation Engine
// =============================================================================
//
// This module provides the read-only checks run on mapped FlatData before it
// is serialized and published:
//   - Required field checks (ValidateRequired)
//   - Option value checks for singleCheck / multiCheck (ValidateOptions)
//
// VALUE LOOKUP:
//   A field's value is looked up by its path first and then by its bare id,
//   so both the mapper output (path keys) and hand-written payloads (id
//   keys) validate the same way.
//
// ERROR HANDLING:
//   - Errors are collected, never returned as a Go error
//   - Each violation names the field id, its label and the offending value
//   - Callers decide how to surface the batch (HTTP 400, CLI report, ...)
//
// =============================================================================

package validation

import (
	"strings"

	"github.com/billlvtech/icbu-broker/internal/types"
)

// Violation reasons.
const (
	ReasonRequiredMissing        = "required field missing"
	ReasonRequiredComplexMissing = "required complex field missing"
	ReasonInvalidOption          = "invalid option value"
	ReasonNotList                = "value must be list"
)

// =============================================================================
// REQUIRED FIELDS
// =============================================================================

// ValidateRequired reports every required field without a value. A required
// complex or multiComplex field is satisfied when any of its children has a
// value. Children are always checked as well.
func ValidateRequired(fields []*types.Field, data types.FlatData) *types.ValidationResult {
	var errs []*types.ValidationError

	var walk func(fields []*types.Field)
	walk = func(fields []*types.Field) {
		for _, f := range fields {
			if f.IsComplex() {
				if f.Required && !hasComplexValue(f, data) {
					errs = append(errs, &types.ValidationError{
						FieldID:   f.ID,
						FieldName: f.Label(),
						Reason:    ReasonRequiredComplexMissing,
					})
				}
				walk(f.Children)
				continue
			}

			if f.Required {
				if v, _ := lookup(f, data); !types.HasValue(v) {
					errs = append(errs, &types.ValidationError{
						FieldID:   f.ID,
						FieldName: f.Label(),
						Reason:    ReasonRequiredMissing,
					})
				}
			}
			walk(f.Children)
		}
	}
	walk(fields)

	return types.NewValidationResult(errs)
}

// hasComplexValue reports whether any child of f carries a value, either as
// its own key or nested under the parent's key.
func hasComplexValue(f *types.Field, data types.FlatData) bool {
	for _, c := range f.Children {
		if v, _ := lookup(c, data); types.HasValue(v) {
			return true
		}
	}

	prefix := f.Path + "."
	for k, v := range data {
		if strings.HasPrefix(k, prefix) && types.HasValue(v) {
			return true
		}
	}

	switch v := data[f.Path].(type) {
	case map[string]any:
		return len(v) > 0
	case []any:
		return len(v) > 0
	}
	return false
}

// =============================================================================
// OPTION VALUES
// =============================================================================

// ValidateOptions checks that every present singleCheck / multiCheck value
// is one of the field's option values. The "Other" sentinel is accepted only
// by fields that allow free text. A multiCheck value that is not a list is
// itself a violation.
func ValidateOptions(fields []*types.Field, data types.FlatData) *types.ValidationResult {
	var errs []*types.ValidationError

	types.Walk(fields, func(f *types.Field) {
		if f.Type != types.FieldSingleCheck && f.Type != types.FieldMultiCheck {
			return
		}
		value, present := lookup(f, data)
		if !present {
			return
		}

		allowed := f.OptionValues()
		valid := optionSet(f)

		if f.Type == types.FieldSingleCheck {
			if !acceptsOption(f, valid, value) {
				errs = append(errs, invalidOption(f, value, allowed))
			}
			return
		}

		items, ok := types.AsList(value)
		if !ok {
			errs = append(errs, &types.ValidationError{
				FieldID:   f.ID,
				FieldName: f.Label(),
				Reason:    ReasonNotList,
				Value:     value,
			})
			return
		}
		for _, item := range items {
			if !acceptsOption(f, valid, item) {
				errs = append(errs, invalidOption(f, item, allowed))
			}
		}
	})

	return types.NewValidationResult(errs)
}

func optionSet(f *types.Field) map[string]struct{} {
	set := make(map[string]struct{}, len(f.Options))
	for _, opt := range f.Options {
		set[opt.Value] = struct{}{}
	}
	return set
}

func acceptsOption(f *types.Field, valid map[string]struct{}, value any) bool {
	if _, isOther := types.AsOtherValue(value); isOther {
		return f.SupportsInputValue()
	}
	_, ok := valid[types.Stringify(value)]
	return ok
}

func invalidOption(f *types.Field, value any, allowed []string) *types.ValidationError {
	return &types.ValidationError{
		FieldID:   f.ID,
		FieldName: f.Label(),
		Reason:    ReasonInvalidOption,
		Value:     value,
		Allowed:   allowed,
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// lookup returns the value stored for f by path, then by id.
func lookup(f *types.Field, data types.FlatData) (any, bool) {
	if v, ok := data[f.Path]; ok {
		return v, true
	}
	v, ok := data[f.ID]
	return v, ok
}

// Validate runs both checks and merges their reports.
func Validate(fields []*types.Field, data types.FlatData) *types.ValidationResult {
	return types.Merge(ValidateRequired(fields, data), ValidateOptions(fields, data))
}
