// =============================================================================
// ICBU Broker - Schema Commands
// =============================================================================
//
// Offline tools for category schema documents saved from
// alibaba.icbu.product.schema.get. None of them call the gateway.
//
// COMMAND USAGE:
//   broker schema parse    <schema.xml>
//   broker schema template <schema.xml> [-o products_template.xlsx]
//   broker schema validate <schema.xml> <rows.xlsx|rows.csv> [--sheet name]
//   broker schema payload  <schema.xml> <rows.xlsx|rows.csv> [--sheet name]
//   broker schema fill     <schema.xml> <data.json>
//
// =============================================================================

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/billlvtech/icbu-broker/internal/mapper"
	"github.com/billlvtech/icbu-broker/internal/schema"
	"github.com/billlvtech/icbu-broker/internal/spreadsheet"
	"github.com/billlvtech/icbu-broker/internal/types"
	"github.com/billlvtech/icbu-broker/internal/validation"
)

// errValidationFailed makes validate exit non-zero after printing the report.
var errValidationFailed = errors.New("validation failed")

var (
	templateOut string
	sheetName   string
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Work with product schema documents offline",
}

var schemaParseCmd = &cobra.Command{
	Use:   "parse <schema.xml>",
	Short: "Print the field tree of a schema as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, tree, err := readSchema(args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), tree)
	},
}

var schemaTemplateCmd = &cobra.Command{
	Use:   "template <schema.xml>",
	Short: "Generate the Excel upload template of a schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, tree, err := readSchema(args[0])
		if err != nil {
			return err
		}
		if err := spreadsheet.NewGenerator(tree).SaveAs(templateOut); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Template written to %s\n", templateOut)
		return nil
	},
}

var schemaValidateCmd = &cobra.Command{
	Use:   "validate <schema.xml> <rows>",
	Short: "Validate spreadsheet rows against a schema",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, flats, err := loadRows(args[0], args[1])
		if err != nil {
			return err
		}

		reports := make([]*types.ValidationResult, 0, len(flats))
		for _, flat := range flats {
			reports = append(reports, validation.Validate(tree, flat))
		}
		report := types.Merge(reports...)
		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if !report.OK {
			return errValidationFailed
		}
		return nil
	},
}

var schemaPayloadCmd = &cobra.Command{
	Use:   "payload <schema.xml> <rows>",
	Short: "Print the publish XML of every row",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, flats, err := loadRows(args[0], args[1])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for i, flat := range flats {
			xml, err := schema.PayloadToXML(schema.BuildPayload(flat), tree)
			if err != nil {
				return fmt.Errorf("row %d: %w", i+1, err)
			}
			fmt.Fprintf(out, "<!-- row %d: %s -->\n%s\n", i+1, schema.BuildSchemaXMLFields(flat), xml)
		}
		return nil
	},
}

var schemaFillCmd = &cobra.Command{
	Use:   "fill <schema.xml> <data.json>",
	Short: "Fill the schema document with JSON data",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync()
		return runFill(cmd.OutOrStdout(), logger, args[0], args[1])
	},
}

// runFill prints the filled XML. Fill errors are logged by the filler.
func runFill(out io.Writer, logger *zap.Logger, schemaPath, dataPath string) error {
	raw, _, err := readSchema(schemaPath)
	if err != nil {
		return err
	}
	body, err := os.ReadFile(dataPath)
	if err != nil {
		return fmt.Errorf("failed to read data file: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return fmt.Errorf("failed to parse data file: %w", err)
	}

	filler, err := schema.NewFiller(raw, logger)
	if err != nil {
		return err
	}
	result, err := filler.Fill(data)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, result.XML)
	if !result.OK() {
		return errValidationFailed
	}
	return nil
}

func init() {
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.AddCommand(schemaParseCmd, schemaTemplateCmd, schemaValidateCmd, schemaPayloadCmd, schemaFillCmd)

	schemaTemplateCmd.Flags().StringVarP(&templateOut, "output", "o", "products_template.xlsx", "Output workbook path")
	for _, c := range []*cobra.Command{schemaValidateCmd, schemaPayloadCmd} {
		c.Flags().StringVar(&sheetName, "sheet", "", "Worksheet to read (default: first data sheet)")
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func readSchema(path string) (string, []*types.Field, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read schema: %w", err)
	}
	tree, err := schema.Parse(string(data))
	if err != nil {
		return "", nil, err
	}
	return string(data), tree, nil
}

// loadRows reads the schema and a .xlsx or .csv file and maps every row.
func loadRows(schemaPath, rowsPath string) ([]*types.Field, []types.FlatData, error) {
	_, tree, err := readSchema(schemaPath)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(rowsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open rows: %w", err)
	}
	defer f.Close()

	var rows []map[string]any
	if strings.EqualFold(filepath.Ext(rowsPath), ".csv") {
		rows, err = spreadsheet.ReadCSVRows(f)
	} else {
		rows, err = spreadsheet.ReadRows(f, sheetName)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rows: %w", err)
	}

	flats, err := mapper.New(tree).MapRows(rows)
	if err != nil {
		return nil, nil, err
	}
	return tree, flats, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
