// =============================================================================
// ICBU Broker - Payload XML Writer
// =============================================================================
//
// This module serializes a nested Payload into the XML dialect accepted by
// alibaba.icbu.product.schema.add.
//
// OUTPUT STRUCTURE:
//
//   <itemSchema>
//     <field id="productTitle" type="input"><value>Title</value></field>
//     <field id="scImages" type="complex">
//       <complex-value>
//         <field id="scImages_0" type="input">
//           <value fileId="123" fileFlag="NO">https://...</value>
//         </field>
//       </complex-value>
//     </field>
//     <field id="color" type="multiCheck">
//       <values><value>1</value><value inputValue="Teal">-1</value></values>
//     </field>
//   </itemSchema>
//
// VALUE ENCODING:
//   - Scalars become a single <value> text node.
//   - Image fields (id prefix "scImages_") carry a {fileId, url} map.
//   - Other maps become a <complex-value> holding nested fields.
//   - Lists become <values>; list items that are maps become <complex-value>.
//   - The "Other" sentinel is written as <value inputValue="...">-1</value>.
//
// Fields are written in schema order so the output is stable.
//
// =============================================================================

package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/beevik/etree"

	"github.com/billlvtech/icbu-broker/internal/types"
)

// ImageFieldPrefix marks image slots that need a photobank file id.
const ImageFieldPrefix = "scImages_"

// ErrMissingFileID is returned for image values without a fileId.
var ErrMissingFileID = errors.New("image value must contain fileId")

// UnknownFieldError is returned when the payload names a field the schema
// does not define.
type UnknownFieldError struct {
	FieldID string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("field '%s' does not exist in schema", e.FieldID)
}

// =============================================================================
// GENERATE OPTIONS
// =============================================================================

// WriteOptions controls the XML output.
type WriteOptions struct {
	// RootElement is the document element name.
	RootElement string

	// Indent is the number of spaces per level, negative for compact output.
	Indent int
}

// DefaultWriteOptions returns the options the publish API expects.
func DefaultWriteOptions() WriteOptions {
	return WriteOptions{
		RootElement: "itemSchema",
		Indent:      -1,
	}
}

// =============================================================================
// MAIN WRITE FUNCTIONS
// =============================================================================

// PayloadToXML serializes payload using the default options.
func PayloadToXML(payload Payload, fields []*types.Field) (string, error) {
	return PayloadToXMLWithOptions(payload, fields, DefaultWriteOptions())
}

// PayloadToXMLWithOptions serializes payload, resolving every key against
// the schema tree.
func PayloadToXMLWithOptions(payload Payload, fields []*types.Field, options WriteOptions) (string, error) {
	index := NewIndex(fields)

	doc := etree.NewDocument()
	root := doc.CreateElement(options.RootElement)

	if err := writeFields(root, payload, index); err != nil {
		return "", err
	}

	if options.Indent >= 0 {
		doc.Indent(options.Indent)
	}
	return doc.WriteToString()
}

// writeFields appends one <field> per key of data, in schema order.
func writeFields(parent *etree.Element, data map[string]any, index *Index) error {
	for _, id := range orderedKeys(data, index) {
		schemaField := index.Get(id)
		if schemaField == nil {
			return &UnknownFieldError{FieldID: id}
		}

		fieldEl := parent.CreateElement("field")
		fieldEl.CreateAttr("id", id)
		fieldEl.CreateAttr("type", schemaField.Type)

		if err := writeValue(fieldEl, id, data[id], index); err != nil {
			return fmt.Errorf("field '%s': %w", id, err)
		}
	}
	return nil
}

// writeValue encodes a single field value under fieldEl.
func writeValue(fieldEl *etree.Element, id string, value any, index *Index) error {
	if other, ok := types.AsOtherValue(value); ok {
		writeOther(fieldEl, other)
		return nil
	}

	switch v := value.(type) {
	case Payload:
		return writeValue(fieldEl, id, map[string]any(v), index)

	case map[string]any:
		if strings.HasPrefix(id, ImageFieldPrefix) {
			return writeImage(fieldEl, v)
		}
		complexEl := fieldEl.CreateElement("complex-value")
		return writeFields(complexEl, v, index)
	}

	if items, ok := types.AsList(value); ok {
		valuesEl := fieldEl.CreateElement("values")
		for _, item := range items {
			if other, isOther := types.AsOtherValue(item); isOther {
				writeOther(valuesEl, other)
				continue
			}
			if obj, isMap := item.(map[string]any); isMap {
				complexEl := valuesEl.CreateElement("complex-value")
				if err := writeFields(complexEl, obj, index); err != nil {
					return err
				}
				continue
			}
			valuesEl.CreateElement("value").SetText(types.Stringify(item))
		}
		return nil
	}

	fieldEl.CreateElement("value").SetText(types.Stringify(value))
	return nil
}

func writeImage(fieldEl *etree.Element, image map[string]any) error {
	fileID, ok := image["fileId"]
	if !ok {
		return ErrMissingFileID
	}
	valueEl := fieldEl.CreateElement("value")
	valueEl.CreateAttr("fileId", types.Stringify(fileID))
	valueEl.CreateAttr("fileFlag", "NO")
	valueEl.SetText(types.Stringify(image["url"]))
	return nil
}

func writeOther(parent *etree.Element, other types.OtherValue) {
	valueEl := parent.CreateElement("value")
	valueEl.CreateAttr("inputValue", other.InputValue)
	valueEl.SetText(types.Stringify(other.Value))
}

// orderedKeys sorts map keys by their schema position; unknown ids sort last
// so the unknown-field error names a deterministic key.
func orderedKeys(data map[string]any, index *Index) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		pi, pj := index.Position(keys[i]), index.Position(keys[j])
		if pi < 0 && pj < 0 {
			return keys[i] < keys[j]
		}
		if pi < 0 {
			return false
		}
		if pj < 0 {
			return true
		}
		if pi != pj {
			return pi < pj
		}
		return keys[i] < keys[j]
	})
	return keys
}
