// =============================================================================
// ICBU Broker - Schema Filler
// =============================================================================
//
// The filler is the alternate serialization path: instead of building XML
// from a payload it takes the schema XML exactly as the vendor returned it
// and injects values into the existing nodes.
//
// FILL RULES:
//   - input / singleCheck : set the text of the direct <value> child
//   - multiCheck          : clear <values> and add one <value> per item
//   - complex             : fill the direct sub-fields of <complex-value> by id
//   - multiComplex        : clone the template <complex-value> once per item
//
// Input keys may be field ids or field names; names are normalized to ids
// first. After filling, every field carrying required="true" that is absent
// from the input is reported.
//
// ERROR HANDLING:
//   Errors are collected per field and the fill carries on with the remaining
//   fields. A fill never fails as a whole once the schema has been parsed.
//
// OWNERSHIP:
//   The parsed schema is kept read-only. Every Fill works on a deep copy and
//   returns the serialized copy, so one Filler can serve any number of fills.
//
// =============================================================================

package schema

import (
	"fmt"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/billlvtech/icbu-broker/internal/types"
)

// Reasons reported by the filler.
const (
	ReasonMissingRequired = "missing required field"
	ReasonFillFailed      = "fill failed"
)

// FillResult is the outcome of a single fill.
type FillResult struct {
	XML      string                   `json:"xml"`
	Errors   []*types.ValidationError `json:"errors"`
	Warnings []string                 `json:"warnings"`
}

// OK reports whether the fill produced no errors.
func (r *FillResult) OK() bool {
	return len(r.Errors) == 0
}

// Filler injects values into a vendor schema document.
type Filler struct {
	doc     *etree.Document
	nameMap map[string]string
	logger  *zap.Logger
}

// NewFiller parses schemaXML once. A nil logger disables the fill report.
func NewFiller(schemaXML string, logger *zap.Logger) (*Filler, error) {
	doc, err := readDocument(schemaXML)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	f := &Filler{doc: doc, logger: logger}
	f.nameMap = buildNameMap(doc.Root())
	return f, nil
}

// buildNameMap maps field name to field id for every named field.
func buildNameMap(root *etree.Element) map[string]string {
	mapping := make(map[string]string)
	for _, field := range root.FindElements(".//field") {
		id := field.SelectAttrValue("id", "")
		name := field.SelectAttrValue("name", "")
		if id != "" && name != "" {
			mapping[name] = id
		}
	}
	return mapping
}

// =============================================================================
// MAIN FILL FUNCTION
// =============================================================================

// Fill injects data into a fresh copy of the schema and returns it.
func (f *Filler) Fill(data map[string]any) (*FillResult, error) {
	doc := f.doc.Copy()
	root := doc.Root()

	result := &FillResult{
		Errors:   make([]*types.ValidationError, 0),
		Warnings: make([]string, 0),
	}

	normalized := f.normalizeKeys(data)

	// Snapshot before filling: multiComplex fills add new <field> nodes that
	// must not be visited again.
	for _, field := range root.FindElements(".//field") {
		f.fillField(field, normalized, result)
	}

	// Checked against the pristine schema so cloned multiComplex rows are
	// not reported on their own.
	f.validateRequired(f.doc.Root(), normalized, result)

	xml, err := doc.WriteToString()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize filled schema: %w", err)
	}
	result.XML = xml

	f.report(result)
	return result, nil
}

// normalizeKeys replaces field names by field ids; other keys pass through.
func (f *Filler) normalizeKeys(data map[string]any) map[string]any {
	result := make(map[string]any, len(data))
	for k, v := range data {
		if id, ok := f.nameMap[k]; ok {
			result[id] = v
			continue
		}
		result[k] = v
	}
	return result
}

// =============================================================================
// FIELD DISPATCH
// =============================================================================

func (f *Filler) fillField(field *etree.Element, data map[string]any, result *FillResult) {
	id := field.SelectAttrValue("id", "")
	value, ok := data[id]
	if !ok {
		return
	}

	var err error
	switch field.SelectAttrValue("type", "") {
	case types.FieldInput, types.FieldSingleCheck:
		fillSingle(field, value)
	case types.FieldMultiCheck:
		err = fillMulti(field, value)
	case types.FieldComplex:
		err = fillComplex(field, value)
	case types.FieldMultiComplex:
		err = fillMultiComplex(field, value)
	}

	if err != nil {
		result.Errors = append(result.Errors, &types.ValidationError{
			FieldID:   id,
			FieldName: field.SelectAttrValue("name", ""),
			Reason:    fmt.Sprintf("%s: %v", ReasonFillFailed, err),
			Value:     value,
		})
	}
}

// =============================================================================
// FILL IMPLEMENTATIONS
// =============================================================================

func fillSingle(field *etree.Element, value any) {
	node := field.SelectElement("value")
	if node == nil {
		return
	}
	setValue(node, value)
}

// setValue writes a scalar or the "Other" sentinel into a <value> node.
func setValue(node *etree.Element, value any) {
	if other, ok := types.AsOtherValue(value); ok {
		node.CreateAttr("inputValue", other.InputValue)
		node.SetText(types.Stringify(other))
		return
	}
	node.SetText(types.Stringify(value))
}

func fillMulti(field *etree.Element, value any) error {
	items, ok := types.AsList(value)
	if !ok {
		return fmt.Errorf("multiCheck value must be a list, got %T", value)
	}

	node := field.SelectElement("values")
	if node == nil {
		return nil
	}

	clearElement(node)
	for _, item := range items {
		setValue(node.CreateElement("value"), item)
	}
	return nil
}

func fillComplex(field *etree.Element, value any) error {
	obj, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("complex value must be a map, got %T", value)
	}

	node := field.SelectElement("complex-value")
	if node == nil {
		return nil
	}

	for _, sub := range node.SelectElements("field") {
		if v, present := obj[sub.SelectAttrValue("id", "")]; present {
			fillSingle(sub, v)
		}
	}
	return nil
}

func fillMultiComplex(field *etree.Element, value any) error {
	items, ok := types.AsList(value)
	if !ok {
		return fmt.Errorf("multiComplex value must be a list of maps, got %T", value)
	}

	valuesNode := field.SelectElement("values")
	if valuesNode == nil {
		return nil
	}

	// The template usually lives inside <values>, so copy it before clearing.
	template := field.FindElement(".//complex-value")
	if template == nil {
		return nil
	}
	template = template.Copy()

	clearElement(valuesNode)

	for i, item := range items {
		obj, isMap := item.(map[string]any)
		if !isMap {
			return fmt.Errorf("multiComplex item %d must be a map, got %T", i, item)
		}

		cv := valuesNode.CreateElement("complex-value")
		for _, sub := range template.SelectElements("field") {
			newField := cv.CreateElement("field")
			for _, a := range sub.Attr {
				newField.CreateAttr(a.FullKey(), a.Value)
			}
			if v, present := obj[sub.SelectAttrValue("id", "")]; present {
				setValue(newField.CreateElement("value"), v)
			}
		}
	}
	return nil
}

// clearElement removes every child token and attribute.
func clearElement(el *etree.Element) {
	for len(el.Child) > 0 {
		el.RemoveChildAt(0)
	}
	el.Attr = nil
}

// =============================================================================
// REQUIRED CHECK
// =============================================================================

func (f *Filler) validateRequired(root *etree.Element, data map[string]any, result *FillResult) {
	for _, field := range root.FindElements(".//field") {
		if field.SelectAttrValue("required", "") != "true" {
			continue
		}
		id := field.SelectAttrValue("id", "")
		if _, ok := data[id]; ok {
			continue
		}
		result.Errors = append(result.Errors, &types.ValidationError{
			FieldID:   id,
			FieldName: field.SelectAttrValue("name", ""),
			Reason:    ReasonMissingRequired,
		})
	}
}

// report logs the fill outcome.
func (f *Filler) report(result *FillResult) {
	if result.OK() && len(result.Warnings) == 0 {
		f.logger.Debug("Schema fill complete")
		return
	}
	for _, e := range result.Errors {
		f.logger.Warn("Schema fill error",
			zap.String("field_id", e.FieldID),
			zap.String("field_name", e.FieldName),
			zap.String("reason", e.Reason),
		)
	}
	for _, w := range result.Warnings {
		f.logger.Warn("Schema fill warning", zap.String("warning", w))
	}
}
