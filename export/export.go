// Package export renders query rows for people: spreadsheets and markdown
// tables.
package export

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet rows are written to.
const SheetName = "rows"

// Columns returns the sorted union of the rows' keys.
func Columns(rows []map[string]any) []string {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for k := range row {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// WriteXLSX writes rows as a single-sheet workbook with a header row.
func WriteXLSX(w io.Writer, rows []map[string]any) error {
	f, err := build(rows)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing XLSX: %w", err)
	}
	return nil
}

// SaveXLSX writes rows to a workbook at path.
func SaveXLSX(path string, rows []map[string]any) error {
	f, err := build(rows)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving XLSX %s: %w", path, err)
	}
	return nil
}

func build(rows []map[string]any) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		f.Close()
		return nil, fmt.Errorf("naming sheet: %w", err)
	}

	cols := Columns(rows)
	header := make([]any, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing header: %w", err)
	}

	for r, row := range rows {
		values := make([]any, len(cols))
		for i, c := range cols {
			values[i] = cell(row[c])
		}
		ref, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetSheetRow(SheetName, ref, &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("writing row %d: %w", r+1, err)
		}
	}
	return f, nil
}

// cell keeps scalars typed and flattens everything else to text.
func cell(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string, bool, int, int32, int64, float32, float64:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// Markdown renders rows as a markdown table. No rows renders as "".
func Markdown(rows []map[string]any) string {
	if len(rows) == 0 {
		return ""
	}
	cols := Columns(rows)

	var sb strings.Builder
	sb.WriteString("| " + strings.Join(cols, " | ") + " |\n")
	sb.WriteString("|" + strings.Repeat(" --- |", len(cols)) + "\n")
	for _, row := range rows {
		vals := make([]string, len(cols))
		for i, c := range cols {
			if v, ok := row[c]; ok && v != nil {
				vals[i] = strings.ReplaceAll(fmt.Sprint(v), "|", `\|`)
			}
		}
		sb.WriteString("| " + strings.Join(vals, " | ") + " |\n")
	}
	return sb.String()
}
