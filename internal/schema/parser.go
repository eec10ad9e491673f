// =============================================================================
// ICBU Broker - Schema Parser
// =============================================================================
//
// This module turns the product schema XML returned by
// alibaba.icbu.product.schema.get into a tree of types.Field.
//
// SCHEMA STRUCTURE (as handled here):
//
//   <itemSchema>
//     <field id="productTitle" name="Product name" type="input">
//       <rules><rule name="requiredRule" value="true"/></rules>
//       <value>default</value>
//     </field>
//     <field id="ladderPrice" type="multiComplex">
//       <fields>
//         <field id="quantity" type="input"/>
//       </fields>
//     </field>
//   </itemSchema>
//
// Parsing is purely structural. Nothing is validated against the vendor's
// own schema rules; malformed XML is reported as a *ParseError.
//
// =============================================================================

package schema

import (
	"errors"
	"fmt"

	"github.com/beevik/etree"

	"github.com/billlvtech/icbu-broker/internal/types"
)

// ParseError is returned when the schema XML cannot be read.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse schema xml: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// errNoRoot is wrapped when the document has no root element at all.
var errNoRoot = errors.New("document has no root element")

// =============================================================================
// PUBLIC API
// =============================================================================

// Parse reads schema XML and returns its root fields in document order.
func Parse(schemaXML string) ([]*types.Field, error) {
	doc, err := readDocument(schemaXML)
	if err != nil {
		return nil, err
	}

	root := doc.Root()
	fields := make([]*types.Field, 0)
	for _, el := range root.SelectElements("field") {
		fields = append(fields, parseField(el, ""))
	}
	return fields, nil
}

// readDocument parses XML into an etree document with a root element.
func readDocument(schemaXML string) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(schemaXML); err != nil {
		return nil, &ParseError{Err: err}
	}
	if doc.Root() == nil {
		return nil, &ParseError{Err: errNoRoot}
	}
	return doc, nil
}

// =============================================================================
// FIELD PARSING
// =============================================================================

// parseField builds a field and its children. parentPath is empty for root
// fields.
func parseField(el *etree.Element, parentPath string) *types.Field {
	id := el.SelectAttrValue("id", "")
	path := id
	if parentPath != "" {
		path = parentPath + "." + id
	}

	rules := parseRules(el)
	_, required := rules[types.RuleRequired]

	field := &types.Field{
		ID:       id,
		Path:     path,
		Name:     el.SelectAttrValue("name", ""),
		Type:     el.SelectAttrValue("type", ""),
		Rules:    rules,
		Required: required,
		Options:  parseOptions(el),
		Children: make([]*types.Field, 0),
	}

	if value := el.SelectElement("value"); value != nil {
		field.Default = value.Text()
	}

	for _, sub := range el.FindElements("./fields/field") {
		field.Children = append(field.Children, parseField(sub, path))
	}

	return field
}

// parseRules groups <rules><rule/></rules> attribute maps by rule name.
func parseRules(el *etree.Element) map[string][]map[string]string {
	rules := make(map[string][]map[string]string)
	for _, rule := range el.FindElements("./rules/rule") {
		name := rule.SelectAttrValue("name", "")
		rules[name] = append(rules[name], attrMap(rule))
	}
	return rules
}

// parseOptions reads <options><option/></options> in order.
func parseOptions(el *etree.Element) []types.Option {
	options := make([]types.Option, 0)
	for _, opt := range el.FindElements("./options/option") {
		options = append(options, types.Option{
			Value:       opt.SelectAttrValue("value", ""),
			DisplayName: opt.SelectAttrValue("displayName", ""),
			Attrs:       attrMap(opt),
		})
	}
	return options
}

func attrMap(el *etree.Element) map[string]string {
	attrs := make(map[string]string, len(el.Attr))
	for _, a := range el.Attr {
		attrs[a.Key] = a.Value
	}
	return attrs
}
