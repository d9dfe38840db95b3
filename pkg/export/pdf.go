package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

const (
	pdfMargin     = 10.0
	pdfRowHeight  = 6.0
	landscapeFrom = 7
)

// PDFExporter lays datasets out as a paginated table. Wide datasets switch to
// landscape and the header row repeats on every page.
type PDFExporter struct {
	font string
}

// NewPDFExporter constructs a PDF exporter using the core Arial font.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{font: "Arial"}
}

func (e *PDFExporter) Render(data Dataset) ([]byte, error) {
	if err := data.validate(); err != nil {
		return nil, err
	}
	orientation := "P"
	if len(data.Columns) >= landscapeFrom {
		orientation = "L"
	}
	pdf := gofpdf.New(orientation, "mm", "A4", "")
	pdf.SetMargins(pdfMargin, 15, pdfMargin)
	pdf.SetAutoPageBreak(true, 15)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pageWidth, _ := pdf.GetPageSize()
	widths := columnWidths(data.Columns, pageWidth-2*pdfMargin)

	header := func() {
		pdf.SetFont(e.font, "B", 8)
		pdf.SetFillColor(220, 220, 220)
		for i, col := range data.Columns {
			pdf.CellFormat(widths[i], pdfRowHeight+1, tr(col.label()), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont(e.font, "", 8)
	}
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont(e.font, "I", 7)
		stamp := ""
		if !data.GeneratedAt.IsZero() {
			stamp = "Generated " + data.GeneratedAt.Format("2006-01-02 15:04 MST")
		}
		pdf.CellFormat(0, 5, stamp, "", 0, "L", false, 0, "")
		pdf.SetX(pdfMargin)
		pdf.CellFormat(0, 5, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "R", false, 0, "")
	})
	pdf.AliasNbPages("")
	pdf.AddPage()

	if data.Title != "" {
		pdf.SetFont(e.font, "B", 13)
		pdf.CellFormat(0, 9, tr(data.Title), "", 1, "C", false, 0, "")
		pdf.Ln(3)
	}
	header()

	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	writeRow := func(row map[string]string) {
		if pdf.GetY()+pdfRowHeight > pageHeight-bottom-5 {
			pdf.AddPage()
			header()
		}
		for i, col := range data.Columns {
			align := "L"
			if col.Numeric {
				align = "R"
			}
			pdf.CellFormat(widths[i], pdfRowHeight, tr(row[col.Key]), "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}
	for _, row := range data.Rows {
		writeRow(row)
	}
	if data.Totals != nil {
		pdf.SetFont(e.font, "B", 8)
		writeRow(data.Totals)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// columnWidths honours explicit widths and splits what is left evenly.
func columnWidths(cols []Column, available float64) []float64 {
	widths := make([]float64, len(cols))
	fixed, flexible := 0.0, 0
	for i, col := range cols {
		if col.Width > 0 {
			widths[i] = col.Width
			fixed += col.Width
			continue
		}
		flexible++
	}
	if flexible == 0 {
		return widths
	}
	share := (available - fixed) / float64(flexible)
	if share < 10 {
		share = 10
	}
	for i := range widths {
		if widths[i] == 0 {
			widths[i] = share
		}
	}
	return widths
}
