package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/stock-issuance-api/internal/models"
	"github.com/noah-isme/stock-issuance-api/internal/repository"
	appErrors "github.com/noah-isme/stock-issuance-api/pkg/errors"
	"github.com/noah-isme/stock-issuance-api/pkg/export"
)

func TestExportLedgerCSV(t *testing.T) {
	f := newWorkflowFixture(t)
	req := f.seedApprovedRequest(t,
		issueLine{itemID: "item-a", quantity: 2, price: "4.10"},
		issueLine{custom: "Marker pen", quantity: 3},
	)
	_, err := f.ledger.IssueItems(context.Background(), req.ID, keeperActor())
	require.NoError(t, err)

	svc := NewExportService(f.store, 10, zap.NewNop(), nil)
	svc.now = func() time.Time { return time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC) }

	result, err := svc.ExportLedger(context.Background(), models.LedgerFilter{RequestID: req.ID}, "CSV")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.Equal(t, "ledger_"+req.ID+"_20240502_093000.csv", result.Filename)
	assert.Equal(t, 2, result.Rows)
	assert.False(t, result.Truncated)

	body := bytes.TrimPrefix(result.Data, []byte{0xEF, 0xBB, 0xBF})
	records, err := csv.NewReader(bytes.NewReader(body)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "Entry", records[0][0])
	assert.Equal(t, "Value", records[0][6])

	var values []string
	for _, record := range records[1:3] {
		values = append(values, record[6])
	}
	assert.ElementsMatch(t, []string{"8.20", "0.00"}, values)

	totals := records[3]
	assert.Equal(t, "Total", totals[0])
	assert.Equal(t, "5", totals[4])
	assert.Equal(t, "8.20", totals[6])
}

type fixedRenderer struct{ calls int }

func (r *fixedRenderer) Render(data export.Dataset) ([]byte, error) {
	r.calls++
	return []byte(data.Title), nil
}

func TestExportLedgerUsesInjectedRenderer(t *testing.T) {
	renderer := &fixedRenderer{}
	svc := NewExportService(newMemoryStore(), 0, nil, map[models.ExportFormat]Renderer{models.ExportFormatPDF: renderer})

	result, err := svc.ExportLedger(context.Background(), models.LedgerFilter{}, models.ExportFormatPDF)
	require.NoError(t, err)
	assert.Equal(t, 1, renderer.calls)
	assert.Equal(t, "Issued Item Ledger", string(result.Data))
}

func TestExportLedgerTruncatesAtMaxRows(t *testing.T) {
	f := newWorkflowFixture(t)
	req := f.seedApprovedRequest(t,
		issueLine{itemID: "item-a", quantity: 1},
		issueLine{itemID: "item-b", quantity: 1},
	)
	_, err := f.ledger.IssueItems(context.Background(), req.ID, keeperActor())
	require.NoError(t, err)

	svc := NewExportService(&limitingStore{memoryStore: f.store}, 1, nil, nil)
	result, err := svc.ExportLedger(context.Background(), models.LedgerFilter{}, models.ExportFormatXLSX)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rows)
	assert.True(t, result.Truncated)
	assert.NotEmpty(t, result.Data)
	assert.Equal(t, models.ExportFormatXLSX.ContentType(), result.ContentType)
}

func TestExportLedgerRejectsUnknownFormat(t *testing.T) {
	svc := NewExportService(newMemoryStore(), 0, nil, nil)
	_, err := svc.ExportLedger(context.Background(), models.LedgerFilter{}, "docx")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestExportLedgerPDF(t *testing.T) {
	svc := NewExportService(newMemoryStore(), 0, nil, nil)
	result, err := svc.ExportLedger(context.Background(), models.LedgerFilter{}, models.ExportFormatPDF)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(result.Data, []byte("%PDF")))
}

// limitingStore applies the filter limit that the in-memory session ignores.
type limitingStore struct {
	*memoryStore
}

func (s *limitingStore) Session() repository.Session {
	return &limitingSession{memorySession: &memorySession{store: s.memoryStore}}
}

type limitingSession struct {
	*memorySession
}

func (s *limitingSession) ListLedgerEntries(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerEntry, int, error) {
	entries, total, err := s.memorySession.ListLedgerEntries(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, total, nil
}
