package export

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func ledgerSample() Dataset {
	return Dataset{
		Title: "Issued Item Ledger",
		Sheet: "Ledger",
		Columns: []Column{
			{Key: "item", Label: "Item"},
			{Key: "qty", Label: "Quantity", Numeric: true},
		},
		Rows: []map[string]string{
			{"item": "A4 Paper", "qty": "10"},
			{"item": "Stapler", "qty": "2"},
		},
		Totals:      map[string]string{"item": "Total", "qty": "12"},
		GeneratedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter(false).Render(ledgerSample())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Item,Quantity", lines[0])
	assert.Equal(t, "Stapler,2", lines[2])
	assert.Equal(t, "Total,12", lines[3])
}

func TestCSVExporterWritesBOM(t *testing.T) {
	out, err := NewCSVExporter(true).Render(ledgerSample())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, utf8BOM))
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(ledgerSample())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestPDFExporterPaginatesLongLedgers(t *testing.T) {
	data := ledgerSample()
	for i := 0; i < 200; i++ {
		data.Rows = append(data.Rows, map[string]string{"item": "Toner", "qty": "1"})
	}
	out, err := NewPDFExporter().Render(data)
	require.NoError(t, err)
	assert.Greater(t, bytes.Count(out, []byte("/Type /Page\n")), 1)
}

func TestColumnWidths(t *testing.T) {
	widths := columnWidths([]Column{{Key: "a", Width: 40}, {Key: "b"}, {Key: "c"}}, 100)
	assert.Equal(t, []float64{40, 30, 30}, widths)
}

func TestXLSXExporterRender(t *testing.T) {
	out, err := NewXLSXExporter().Render(ledgerSample())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Ledger"}, f.GetSheetList())
	value, err := f.GetCellValue("Ledger", "A3")
	require.NoError(t, err)
	assert.Equal(t, "Stapler", value)
	total, err := f.GetCellValue("Ledger", "B4")
	require.NoError(t, err)
	assert.Equal(t, "12", total)
}

func TestExportersRequireColumns(t *testing.T) {
	_, err := NewCSVExporter(false).Render(Dataset{})
	assert.True(t, errors.Is(err, ErrNoColumns))
	_, err = NewPDFExporter().Render(Dataset{})
	assert.True(t, errors.Is(err, ErrNoColumns))
	_, err = NewXLSXExporter().Render(Dataset{})
	assert.True(t, errors.Is(err, ErrNoColumns))
}
