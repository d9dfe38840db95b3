package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/stock-issuance-api/internal/models"
	appErrors "github.com/noah-isme/stock-issuance-api/pkg/errors"
	"github.com/noah-isme/stock-issuance-api/pkg/export"
)

var ledgerColumns = []export.Column{
	{Key: "entry", Label: "Entry", Width: 22},
	{Key: "request", Label: "Request", Width: 22},
	{Key: "item", Label: "Item"},
	{Key: "nomenclature", Label: "Nomenclature", Width: 40},
	{Key: "quantity", Label: "Quantity", Numeric: true, Width: 16},
	{Key: "unit_cost", Label: "Unit Cost", Numeric: true},
	{Key: "value", Label: "Value", Numeric: true},
	{Key: "issued_by", Label: "Issued By"},
	{Key: "issued_at", Label: "Issued At"},
	{Key: "return_status", Label: "Return Status"},
	{Key: "returned_at", Label: "Returned At"},
	{Key: "condition", Label: "Condition"},
}

// ExportResult is a rendered ledger export ready to stream.
type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
	Rows        int
	Truncated   bool
}

// Renderer turns a dataset into a downloadable document.
type Renderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportService renders the issued-item ledger as CSV, PDF or XLSX.
type ExportService struct {
	store     workflowStore
	renderers map[models.ExportFormat]Renderer
	maxRows   int
	logger    *zap.Logger
	now       func() time.Time
}

// NewExportService constructs an ExportService. Formats missing from renderers
// fall back to the package defaults.
func NewExportService(store workflowStore, maxRows int, logger *zap.Logger, renderers map[models.ExportFormat]Renderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRows <= 0 {
		maxRows = 5000
	}
	defaults := map[models.ExportFormat]Renderer{
		models.ExportFormatCSV:  export.NewCSVExporter(true),
		models.ExportFormatPDF:  export.NewPDFExporter(),
		models.ExportFormatXLSX: export.NewXLSXExporter(),
	}
	for format, renderer := range renderers {
		if renderer != nil {
			defaults[format] = renderer
		}
	}
	return &ExportService{
		store:     store,
		renderers: defaults,
		maxRows:   maxRows,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ExportLedger renders ledger entries matching filter. At most maxRows entries
// are included; Truncated reports whether more matched.
func (s *ExportService) ExportLedger(ctx context.Context, filter models.LedgerFilter, format models.ExportFormat) (*ExportResult, error) {
	format = models.ExportFormat(strings.ToLower(string(format)))
	if format == "" {
		format = models.ExportFormatCSV
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	filter.Limit = s.maxRows
	filter.Offset = 0
	entries, total, err := s.store.Session().ListLedgerEntries(ctx, filter)
	if err != nil {
		return nil, storeFailure(err, "failed to load ledger entries")
	}
	dataset := buildLedgerDataset(entries)
	dataset.GeneratedAt = s.now()

	payload, err := renderer.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to render export")
	}

	result := &ExportResult{
		Filename:    s.buildFilename(filter, format),
		ContentType: format.ContentType(),
		Data:        payload,
		Rows:        len(entries),
		Truncated:   total > len(entries),
	}
	if result.Truncated {
		s.logger.Warn("ledger export truncated", zap.Int("rows", result.Rows), zap.Int("total", total))
	}
	return result, nil
}

func buildLedgerDataset(entries []models.LedgerEntry) export.Dataset {
	rows := make([]map[string]string, 0, len(entries))
	totalQty := 0
	totalValue := decimal.Zero
	for _, entry := range entries {
		value := entry.UnitCost.Mul(decimal.NewFromInt(int64(entry.Quantity)))
		totalQty += entry.Quantity
		totalValue = totalValue.Add(value)
		row := map[string]string{
			"entry":         entry.ID,
			"request":       entry.RequestID,
			"item":          deref(entry.ItemID),
			"nomenclature":  entry.Nomenclature,
			"quantity":      strconv.Itoa(entry.Quantity),
			"unit_cost":     entry.UnitCost.StringFixed(2),
			"value":         value.StringFixed(2),
			"issued_by":     entry.IssuedBy,
			"issued_at":     entry.IssuedAt.Format(time.RFC3339),
			"return_status": string(entry.ReturnStatus),
		}
		if entry.ReturnedAt != nil {
			row["returned_at"] = entry.ReturnedAt.Format(time.RFC3339)
		}
		if entry.ReturnCondition != nil {
			row["condition"] = string(*entry.ReturnCondition)
		}
		rows = append(rows, row)
	}
	return export.Dataset{
		Title:   "Issued Item Ledger",
		Sheet:   "Ledger",
		Columns: ledgerColumns,
		Rows:    rows,
		Totals: map[string]string{
			"entry":    "Total",
			"quantity": strconv.Itoa(totalQty),
			"value":    totalValue.StringFixed(2),
		},
	}
}

func (s *ExportService) buildFilename(filter models.LedgerFilter, format models.ExportFormat) string {
	timestamp := s.now().Format("20060102_150405")
	scope := "all"
	if filter.RequestID != "" {
		scope = sanitizeFilename(filter.RequestID)
	}
	return fmt.Sprintf("ledger_%s_%s.%s", scope, timestamp, format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_", "\"", "")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
