// Package sheets reads sales history from spreadsheets and writes the daily report workbook.
package sheets

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/zenithfresh/thawplan/internal/domain/days"
	"github.com/zenithfresh/thawplan/internal/domain/sales"
)

var (
	ErrEmpty             = errors.New("file has no data rows")
	ErrMissingColumn     = errors.New("missing column")
	ErrUnsupportedFormat = errors.New("unsupported file format, expected .xlsx or .csv")
)

// Accepted header names per column, matched case-insensitively.
var columns = map[string][]string{
	"date": {"date", "data", "sold_on"},
	"sku":  {"sku"},
	"kg":   {"kg", "kg_vendidos", "qty", "quantity"},
}

// ReadSales picks the reader from the file name extension.
func ReadSales(name string, data []byte) ([]sales.Record, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		return ReadSalesXLSX(bytes.NewReader(data))
	case ".csv":
		return ReadSalesCSV(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// ReadSalesXLSX reads the active sheet.
func ReadSalesXLSX(r io.Reader) ([]sales.Record, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(f.GetSheetName(f.GetActiveSheetIndex()))
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return parseRows(rows)
}

func ReadSalesCSV(r io.Reader) ([]sales.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return parseRows(rows)
}

func parseRows(rows [][]string) ([]sales.Record, error) {
	if len(rows) < 2 {
		return nil, ErrEmpty
	}
	idx, err := headerIndex(rows[0])
	if err != nil {
		return nil, err
	}

	out := make([]sales.Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		line := i + 2
		cell := func(col string) string {
			if j := idx[col]; j < len(row) {
				return strings.TrimSpace(row[j])
			}
			return ""
		}
		if cell("date") == "" && cell("sku") == "" && cell("kg") == "" {
			continue
		}

		date, err := days.Parse(cell("date"))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w: %q", line, err, cell("date"))
		}
		kg, err := strconv.ParseFloat(strings.ReplaceAll(cell("kg"), ",", "."), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid kg %q", line, cell("kg"))
		}
		out = append(out, sales.Record{SKU: cell("sku"), Date: date, Qty: kg, Requested: kg})
	}
	if len(out) == 0 {
		return nil, ErrEmpty
	}
	return out, nil
}

func headerIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(columns))
	for j, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for col, names := range columns {
			for _, n := range names {
				if h == n {
					idx[col] = j
				}
			}
		}
	}
	for _, col := range []string{"date", "sku", "kg"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}
	return idx, nil
}
