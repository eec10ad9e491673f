// =============================================================================
// ICBU Broker - Shared Types
// =============================================================================
//
// This package contains the types shared by the schema pipeline to avoid
// import cycles. Types defined here are used by:
//   - schema      (parser, payload writer, filler)
//   - mapper
//   - validation
//   - spreadsheet (Excel template generator and row reader)
//   - alibaba     (product flow)
//
// =============================================================================

package types

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// FIELD TYPES
// =============================================================================

// Field types as they appear in the vendor schema `type` attribute.
const (
	FieldInput        = "input"
	FieldSingleCheck  = "singleCheck"
	FieldMultiCheck   = "multiCheck"
	FieldComplex      = "complex"
	FieldMultiComplex = "multiComplex"
	FieldLabel        = "label"
)

// Rule names and values the pipeline interprets.
const (
	RuleRequired       = "requiredRule"
	RuleValueAttribute = "valueAttributeRule"
	RuleInputValue     = "inputValue"
)

// OtherOptionValue is the option value the vendor uses for "Other" input.
const OtherOptionValue = -1

// =============================================================================
// FIELD TREE
// =============================================================================

// Field is a single node of the parsed product schema.
//
// Path is always derived from the position in the tree (ancestor ids joined
// by "."), it is never set independently of the parent chain.
type Field struct {
	ID       string                         `json:"id"`
	Path     string                         `json:"path"`
	Name     string                         `json:"name,omitempty"`
	Type     string                         `json:"type"`
	Rules    map[string][]map[string]string `json:"rules"`
	Required bool                           `json:"required"`
	Default  string                         `json:"default,omitempty"`
	Options  []Option                       `json:"options"`
	Children []*Field                       `json:"children"`
}

// Option is one selectable value of a singleCheck / multiCheck field.
type Option struct {
	Value       string            `json:"value"`
	DisplayName string            `json:"displayName"`
	Attrs       map[string]string `json:"attrs,omitempty"`
}

// Label returns the display label of the field, falling back to its id.
func (f *Field) Label() string {
	if f.Name != "" {
		return f.Name
	}
	return f.ID
}

// IsComplex reports whether the field nests child fields.
func (f *Field) IsComplex() bool {
	return f.Type == FieldComplex || f.Type == FieldMultiComplex
}

// SupportsInputValue reports whether the field accepts a free-text "Other"
// value, signalled by a valueAttributeRule whose value is "inputValue".
func (f *Field) SupportsInputValue() bool {
	for _, rule := range f.Rules[RuleValueAttribute] {
		if rule["value"] == RuleInputValue {
			return true
		}
	}
	return false
}

// OptionValues returns the option values in schema order.
func (f *Field) OptionValues() []string {
	values := make([]string, 0, len(f.Options))
	for _, opt := range f.Options {
		values = append(values, opt.Value)
	}
	return values
}

// Walk visits fields depth-first in schema order.
func Walk(fields []*Field, visit func(f *Field)) {
	for _, f := range fields {
		visit(f)
		Walk(f.Children, visit)
	}
}

// =============================================================================
// FLAT DATA
// =============================================================================

// FlatData maps a dotted schema path (or a bare field id for root fields) to
// a value. A value is a primitive, a list, an OtherValue, or a small map such
// as an image descriptor {fileId, url}.
type FlatData map[string]any

// OtherValue is the free-text sentinel emitted for "Other" option input.
type OtherValue struct {
	Value      int    `json:"value"`
	InputValue string `json:"inputValue"`
}

// NewOtherValue builds the sentinel for the given free text.
func NewOtherValue(text string) OtherValue {
	return OtherValue{Value: OtherOptionValue, InputValue: text}
}

// AsOtherValue recognises the sentinel in both its typed form and the
// decoded JSON form {"value": -1, "inputValue": "..."}.
func AsOtherValue(v any) (OtherValue, bool) {
	switch t := v.(type) {
	case OtherValue:
		return t, true
	case *OtherValue:
		if t == nil {
			return OtherValue{}, false
		}
		return *t, true
	case map[string]any:
		input, ok := t["inputValue"]
		if !ok {
			return OtherValue{}, false
		}
		if Stringify(t["value"]) != strconv.Itoa(OtherOptionValue) {
			return OtherValue{}, false
		}
		return NewOtherValue(Stringify(input)), true
	}
	return OtherValue{}, false
}

// HasValue reports whether v counts as "present": nil, blank strings and
// empty lists do not.
func HasValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	}
	return true
}

// Stringify renders a scalar value the way it appears in schema XML.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case OtherValue:
		return strconv.Itoa(t.Value)
	}
	return fmt.Sprint(v)
}

// AsList returns v as a list when it is one.
func AsList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	case []OtherValue:
		out := make([]any, len(t))
		for i, o := range t {
			out[i] = o
		}
		return out, true
	}
	return nil, false
}

// =============================================================================
// VALIDATION RESULTS
// =============================================================================

// ValidationError is a single violation reported by a validator or the
// schema filler. Violations are accumulated, never raised individually.
type ValidationError struct {
	FieldID   string   `json:"field_id"`
	FieldName string   `json:"field_name"`
	Reason    string   `json:"reason"`
	Value     any      `json:"value,omitempty"`
	Allowed   []string `json:"allowed,omitempty"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("field '%s' (%s): %s", e.FieldID, e.FieldName, e.Reason)
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: '%s')", Stringify(e.Value))
	}
	if len(e.Allowed) > 0 {
		msg += fmt.Sprintf(" (allowed: %s)", strings.Join(e.Allowed, ", "))
	}
	return msg
}

// ValidationResult is the batch report returned by every validator.
type ValidationResult struct {
	OK     bool               `json:"ok"`
	Errors []*ValidationError `json:"errors"`
}

// NewValidationResult wraps a batch of violations.
func NewValidationResult(errs []*ValidationError) *ValidationResult {
	if errs == nil {
		errs = []*ValidationError{}
	}
	return &ValidationResult{OK: len(errs) == 0, Errors: errs}
}

// Merge combines several reports into one.
func Merge(results ...*ValidationResult) *ValidationResult {
	var errs []*ValidationError
	for _, r := range results {
		if r != nil {
			errs = append(errs, r.Errors...)
		}
	}
	return NewValidationResult(errs)
}
