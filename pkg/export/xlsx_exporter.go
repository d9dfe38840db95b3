package export

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"
)

const defaultSheet = "Sheet1"

// XLSXExporter renders datasets into a single-sheet workbook with a frozen
// header row. Numeric columns are stored as numbers so totals can be recomputed
// in the spreadsheet.
type XLSXExporter struct{}

// NewXLSXExporter constructs an Excel exporter.
func NewXLSXExporter() *XLSXExporter {
	return &XLSXExporter{}
}

func (e *XLSXExporter) Render(data Dataset) ([]byte, error) {
	if err := data.validate(); err != nil {
		return nil, err
	}
	sheet := data.Sheet
	if sheet == "" {
		sheet = defaultSheet
	}

	f := excelize.NewFile()
	defer f.Close()

	if sheet != defaultSheet {
		if err := f.SetSheetName(defaultSheet, sheet); err != nil {
			return nil, fmt.Errorf("rename sheet: %w", err)
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D3D3D3"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}
	totalStyle, err := f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true},
		Border: []excelize.Border{{Type: "top", Color: "#000000", Style: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("create totals style: %w", err)
	}

	if err := writeXLSXRow(f, sheet, 1, data.Columns, data.record(labelRow(data.Columns))); err != nil {
		return nil, err
	}
	if err := styleRow(f, sheet, 1, len(data.Columns), headerStyle); err != nil {
		return nil, err
	}
	for i, row := range data.Rows {
		if err := writeXLSXRow(f, sheet, i+2, data.Columns, data.record(row)); err != nil {
			return nil, err
		}
	}
	if data.Totals != nil {
		line := len(data.Rows) + 2
		if err := writeXLSXRow(f, sheet, line, data.Columns, data.record(data.Totals)); err != nil {
			return nil, err
		}
		if err := styleRow(f, sheet, line, len(data.Columns), totalStyle); err != nil {
			return nil, err
		}
	}

	lastCol, err := excelize.ColumnNumberToName(len(data.Columns))
	if err != nil {
		return nil, err
	}
	if err := f.SetColWidth(sheet, "A", lastCol, 18); err != nil {
		return nil, fmt.Errorf("set column width: %w", err)
	}
	if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	buf := &bytes.Buffer{}
	if _, err := f.WriteTo(buf); err != nil {
		return nil, fmt.Errorf("render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func labelRow(cols []Column) map[string]string {
	row := make(map[string]string, len(cols))
	for _, col := range cols {
		row[col.Key] = col.label()
	}
	return row
}

func writeXLSXRow(f *excelize.File, sheet string, line int, cols []Column, values []string) error {
	for i, raw := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, line)
		if err != nil {
			return err
		}
		var value interface{} = raw
		if line > 1 && cols[i].Numeric {
			if n, err := strconv.ParseFloat(raw, 64); err == nil {
				value = n
			}
		}
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			return fmt.Errorf("write %s: %w", cell, err)
		}
	}
	return nil
}

func styleRow(f *excelize.File, sheet string, line, width, style int) error {
	first, err := excelize.CoordinatesToCellName(1, line)
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(width, line)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, first, last, style)
}
