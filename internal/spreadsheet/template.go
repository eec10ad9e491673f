// =============================================================================
// ICBU Broker - Excel Template Generator
// =============================================================================
//
// This module projects a parsed product schema into an Excel workbook that
// merchants fill in offline and upload back.
//
// WORKBOOK LAYOUT:
//   README              fill-in instructions
//   product_basic       whitelisted basic fields
//   product_attributes  fillable fields under "icbuCatProp."
//   product_images      fixed columns productTitle, imageUrl
//   product_package     fillable fields under "pkgMeasure" plus "pkgWeight"
//   product_sku         fillable fields under "saleProp." plus price, stock
//
// Every generated header is bold and carries a comment with the field path,
// the required flag, the multi-value hint and up to ten option names.
//
// FILLABLE FIELDS:
//   A field gets a column only when its type is input / singleCheck /
//   multiCheck AND it is required, has options, or is whitelisted.
//   Label fields never appear.
//
// =============================================================================

package spreadsheet

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/billlvtech/icbu-broker/internal/types"
)

// Sheet names.
const (
	SheetReadme     = "README"
	SheetBasic      = "product_basic"
	SheetAttributes = "product_attributes"
	SheetImages     = "product_images"
	SheetPackage    = "product_package"
	SheetSKU        = "product_sku"
)

// CommentAuthor is the author shown on header comments.
const CommentAuthor = "SchemaBot"

// MaxCommentOptions caps the option names listed in a header comment.
const MaxCommentOptions = 10

// BasicWhitelist lists the paths always placed on the basic sheet.
var BasicWhitelist = map[string]bool{
	"productTitle":     true,
	"saleType":         true,
	"scPrice":          true,
	"priceUnit":        true,
	"minOrderQuantity": true,
	"superText":        true,
	"catId":            true,
}

var readmeLines = []string{
	"1. One row is one product (rows are linked by Product name / productTitle)",
	"2. Separate multiCheck values with |",
	"3. Free text is accepted where the schema allows an Other value",
	"4. Do not rename the header cells",
	"5. This template is generated from the category schema",
}

// =============================================================================
// TEMPLATE PLAN
// =============================================================================

// Column is one generated header cell.
type Column struct {
	Header  string
	Comment string
	Path    string
}

// Sheet is the planned content of one worksheet.
type Sheet struct {
	Name    string
	Columns []Column
}

// Generator builds templates for a single schema.
type Generator struct {
	fields []*types.Field
}

// NewGenerator flattens the tree, dropping label fields.
func NewGenerator(tree []*types.Field) *Generator {
	g := &Generator{fields: make([]*types.Field, 0)}
	types.Walk(tree, func(f *types.Field) {
		if f.Type != types.FieldLabel {
			g.fields = append(g.fields, f)
		}
	})
	return g
}

// Fields returns the flattened fields, label fields excluded.
func (g *Generator) Fields() []*types.Field {
	return g.fields
}

// Plan returns the data sheets in workbook order. README is not included.
func (g *Generator) Plan() []Sheet {
	basic := g.collect(func(f *types.Field) bool {
		return BasicWhitelist[f.Path]
	})
	attributes := g.collect(func(f *types.Field) bool {
		return strings.HasPrefix(f.Path, "icbuCatProp.") && IsFillable(f)
	})
	images := []Column{{Header: "productTitle"}, {Header: "imageUrl"}}
	pkg := g.collect(func(f *types.Field) bool {
		return (strings.HasPrefix(f.Path, "pkgMeasure") || f.Path == "pkgWeight") && IsFillable(f)
	})
	sku := g.collect(func(f *types.Field) bool {
		return strings.HasPrefix(f.Path, "saleProp.") && IsFillable(f)
	})
	sku = append(sku, Column{Header: "price"}, Column{Header: "stock"})

	return []Sheet{
		{Name: SheetBasic, Columns: basic},
		{Name: SheetAttributes, Columns: attributes},
		{Name: SheetImages, Columns: images},
		{Name: SheetPackage, Columns: pkg},
		{Name: SheetSKU, Columns: sku},
	}
}

func (g *Generator) collect(keep func(f *types.Field) bool) []Column {
	columns := make([]Column, 0)
	for _, f := range g.fields {
		if keep(f) {
			columns = append(columns, Column{
				Header:  f.Label(),
				Comment: fieldComment(f),
				Path:    f.Path,
			})
		}
	}
	return columns
}

// IsFillable reports whether a field deserves a template column.
func IsFillable(f *types.Field) bool {
	switch f.Type {
	case types.FieldInput, types.FieldSingleCheck, types.FieldMultiCheck:
	default:
		return false
	}
	return f.Required || len(f.Options) > 0 || BasicWhitelist[f.Path]
}

func fieldComment(f *types.Field) string {
	lines := []string{"path: " + f.Path}

	if f.Required {
		lines = append(lines, "required")
	}
	if f.Type == types.FieldMultiCheck {
		lines = append(lines, "multiple values: separate with |")
	}
	if len(f.Options) > 0 {
		names := make([]string, 0, MaxCommentOptions)
		for i, opt := range f.Options {
			if i == MaxCommentOptions {
				break
			}
			names = append(names, opt.DisplayName)
		}
		lines = append(lines, "options: "+strings.Join(names, ", "))
	}

	return strings.Join(lines, "\n")
}

// =============================================================================
// WORKBOOK OUTPUT
// =============================================================================

// Generate renders the plan into a new workbook. The caller closes it.
func (g *Generator) Generate() (*excelize.File, error) {
	f := excelize.NewFile()

	f.SetSheetName(f.GetSheetName(0), SheetReadme)

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeReadme(f, bold); err != nil {
		f.Close()
		return nil, err
	}

	for _, sheet := range g.Plan() {
		if err := writeSheet(f, sheet, bold); err != nil {
			f.Close()
			return nil, fmt.Errorf("sheet %s: %w", sheet.Name, err)
		}
	}

	return f, nil
}

// Bytes renders the workbook as an .xlsx file body.
func (g *Generator) Bytes() ([]byte, error) {
	f, err := g.Generate()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// SaveAs writes the workbook to path.
func (g *Generator) SaveAs(path string) error {
	f, err := g.Generate()
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func writeReadme(f *excelize.File, bold int) error {
	if err := f.SetCellValue(SheetReadme, "A1", "Fill-in instructions (generated from schema)"); err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetReadme, "A1", "A1", bold); err != nil {
		return err
	}
	for i, line := range readmeLines {
		if err := f.SetCellValue(SheetReadme, fmt.Sprintf("A%d", i+3), line); err != nil {
			return err
		}
	}
	return nil
}

func writeSheet(f *excelize.File, sheet Sheet, bold int) error {
	if _, err := f.NewSheet(sheet.Name); err != nil {
		return err
	}

	for i, col := range sheet.Columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet.Name, cell, col.Header); err != nil {
			return err
		}
		if col.Comment == "" {
			continue
		}
		if err := f.SetCellStyle(sheet.Name, cell, cell, bold); err != nil {
			return err
		}
		err = f.AddComment(sheet.Name, excelize.Comment{
			Cell:      cell,
			Author:    CommentAuthor,
			Paragraph: []excelize.RichTextRun{{Text: col.Comment}},
		})
		if err != nil {
			return err
		}
	}
	return nil
}
