// =============================================================================
// ICBU Broker - Spreadsheet Row Reader
// =============================================================================
//
// This module reads filled-in templates back into rows for the field mapper.
// Both readers use row 1 as the header row and return one map per data row,
// header -> cell text. Empty cells are left out and rows without any value
// are skipped.
//
// =============================================================================

package spreadsheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrNoSheets is returned for a workbook without worksheets.
var ErrNoSheets = errors.New("workbook has no sheets")

// ReadRows reads one sheet of an .xlsx workbook. An empty sheet name selects
// the first data sheet: product_basic when present, else the first sheet.
func ReadRows(r io.Reader, sheet string) ([]map[string]any, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = defaultSheet(f.GetSheetList())
		if sheet == "" {
			return nil, ErrNoSheets
		}
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return rowsToMaps(rows), nil
}

// ReadCSVRows reads comma-separated rows with a header line. A UTF-8 byte
// order mark on the first header is dropped.
func ReadCSVRows(r io.Reader) ([]map[string]any, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return rowsToMaps(rows), nil
}

func defaultSheet(sheets []string) string {
	for _, s := range sheets {
		if s == SheetBasic {
			return s
		}
	}
	for _, s := range sheets {
		if s != SheetReadme {
			return s
		}
	}
	return ""
}

// rowsToMaps turns a header row plus data rows into maps.
func rowsToMaps(rows [][]string) []map[string]any {
	result := make([]map[string]any, 0)
	if len(rows) == 0 {
		return result
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
	}

	for _, row := range rows[1:] {
		if isRowEmpty(row) {
			continue
		}
		record := make(map[string]any)
		for i, cell := range row {
			if i >= len(headers) || headers[i] == "" {
				continue
			}
			if cell = strings.TrimSpace(cell); cell != "" {
				record[headers[i]] = cell
			}
		}
		result = append(result, record)
	}
	return result
}

// isRowEmpty checks if a row contains only empty cells.
func isRowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
