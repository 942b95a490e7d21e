package ordersync

import (
	"context"
	"testing"
	"time"

	"github.com/casemirror/dataflow/common/apperr"
	"github.com/casemirror/dataflow/common/metrics"
	"github.com/casemirror/dataflow/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger implements Logger interface
type testLogger struct {
	t *testing.T
}

func (l *testLogger) Info(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[INFO] %s %v", msg, keysAndValues)
}

func (l *testLogger) Error(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[ERROR] %s %v", msg, keysAndValues)
}

func (l *testLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[WARN] %s %v", msg, keysAndValues)
}

func (l *testLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[DEBUG] %s %v", msg, keysAndValues)
}

type fakeSource struct {
	sets  map[models.OrderType]*models.LegacyOrderSet
	since []int64
	err   error
}

func (f *fakeSource) OrderSet(ctx context.Context, kind models.OrderType, sinceTxID int64) (*models.LegacyOrderSet, error) {
	f.since = append(f.since, sinceTxID)
	if f.err != nil {
		return nil, f.err
	}
	if set, ok := f.sets[kind]; ok {
		return set, nil
	}
	return &models.LegacyOrderSet{}, nil
}

type memoryOrders struct {
	rows map[string]models.Order
}

func (m *memoryOrders) Create(ctx context.Context, order *models.Order) (bool, error) {
	if _, exists := m.rows[order.ID]; exists {
		return false, nil
	}
	m.rows[order.ID] = *order
	return true, nil
}

func date(month time.Month, d int) time.Time {
	return time.Date(2024, month, d, 0, 0, 0, 0, time.UTC)
}

func transferSet() *models.LegacyOrderSet {
	return &models.LegacyOrderSet{
		Orders: []models.LegacyOrder{
			{TxID: 5002, DxtrCaseID: "DX-2", CaseID: "081-24-00002", CaseTitle: "Beta LLC", OrderDate: date(3, 20), RawRec: "plain"},
			{TxID: 5001, DxtrCaseID: "DX-1", CaseID: "081-24-00001", CaseTitle: "Alpha Inc", OrderDate: date(3, 25), RawRec: "ORDER TRANSFER WARN: 24-54321 pending"},
		},
		Entries: []models.LegacyDocketEntry{
			{TxID: 5001, DxtrCaseID: "DX-1", SequenceNumber: 12, DateFiled: date(3, 10), Summary: "Order transferring case"},
			{TxID: 5003, DxtrCaseID: "DX-1", SequenceNumber: 14, DateFiled: date(3, 12), Summary: "Notice"},
		},
		Documents: []models.LegacyDocument{
			{TxID: 5001, DxtrCaseID: "DX-1", FileName: "0208-173976-12-10-0.pdf", FileSize: 300, URI: "https://docs/3"},
			{TxID: 5001, DxtrCaseID: "DX-1", FileName: "0208-173976-12-2-0.pdf", FileSize: 100, URI: "https://docs/1"},
			{TxID: 5001, DxtrCaseID: "DX-1", FileName: "0208-173976-12-9-0.pdf", FileSize: 200, URI: "https://docs/2"},
			{TxID: 5009, DxtrCaseID: "DX-9", FileName: "0208-000001-1-0.pdf", URI: "https://docs/orphan"},
		},
	}
}

func newTestService(t *testing.T, source OrderSource, store OrderStore) *Service {
	return NewService(source, store, metrics.New(metrics.Config{Enabled: true}), &testLogger{t: t})
}

func TestGetNextPageMapsOrders(t *testing.T) {
	source := &fakeSource{sets: map[models.OrderType]*models.LegacyOrderSet{
		models.OrderTypeTransfer: transferSet(),
	}}
	svc := newTestService(t, source, nil)

	page, err := svc.GetNextPage(context.Background(), 5000)
	require.NoError(t, err)

	assert.Equal(t, []int64{5000, 5000}, source.since)
	assert.Empty(t, page.Consolidations)
	require.Len(t, page.Transfers, 2)

	// DX-1's order date is overridden by its earliest docket entry (Mar 10),
	// which sorts it ahead of DX-2 (Mar 20)
	first := page.Transfers[0]
	assert.Equal(t, "081-24-00001", first.CaseID)
	assert.Equal(t, date(3, 10), first.OrderDate)
	assert.Equal(t, "24-54321", first.DocketSuggestedCaseNumber)
	assert.Equal(t, models.OrderPending, first.Status)
	assert.Equal(t, OrderID("081-24-00001", models.OrderTypeTransfer, 5001), first.ID)

	require.Len(t, first.DocketEntries, 2)
	docs := first.DocketEntries[0].Documents
	require.Len(t, docs, 3)
	assert.Equal(t, []string{"https://docs/1", "https://docs/2", "https://docs/3"},
		[]string{docs[0].FileURI, docs[1].FileURI, docs[2].FileURI})
	assert.Equal(t, "12-2-0", docs[0].FileLabel)
	assert.Equal(t, "pdf", docs[0].FileExt)

	second := page.Transfers[1]
	assert.Equal(t, date(3, 20), second.OrderDate, "no entries keeps the legacy order date")
	assert.Empty(t, second.DocketSuggestedCaseNumber)
	assert.NotNil(t, second.DocketEntries)

	// the orphan document's transaction still counts for the watermark
	assert.Equal(t, "5009", page.MaxTxID)
}

func TestGetNextPageWatermark(t *testing.T) {
	t.Run("empty source keeps previous watermark", func(t *testing.T) {
		svc := newTestService(t, &fakeSource{}, nil)

		page, err := svc.GetNextPage(context.Background(), 4242)
		require.NoError(t, err)
		assert.Equal(t, "4242", page.MaxTxID)
	})

	t.Run("max across both order kinds", func(t *testing.T) {
		source := &fakeSource{sets: map[models.OrderType]*models.LegacyOrderSet{
			models.OrderTypeTransfer: {Orders: []models.LegacyOrder{{TxID: 11, CaseID: "a"}}},
			models.OrderTypeConsolidation: {
				Orders:  []models.LegacyOrder{{TxID: 12, CaseID: "b"}},
				Entries: []models.LegacyDocketEntry{{TxID: 9000000000, DxtrCaseID: "x"}},
			},
		}}
		svc := newTestService(t, source, nil)

		page, err := svc.GetNextPage(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, "9000000000", page.MaxTxID, "ids wider than 32 bits survive")
	})
}

func TestGetNextPageSourceFailure(t *testing.T) {
	source := &fakeSource{err: apperr.New(apperr.KindConnection, "orders-gateway", "down")}
	svc := newTestService(t, source, nil)

	_, err := svc.GetNextPage(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, apperr.IsRetryable(err))
}

func TestSortOrdersTieBreak(t *testing.T) {
	same := date(4, 1)
	got := sortOrders([]mappedOrder{
		{txID: 3, order: models.Order{CaseID: "b", OrderDate: same}},
		{txID: 2, order: models.Order{CaseID: "a", OrderDate: same}},
		{txID: 1, order: models.Order{CaseID: "b", OrderDate: same}},
		{txID: 9, order: models.Order{CaseID: "z", OrderDate: date(3, 1)}},
	})

	var keys []string
	for _, o := range got {
		keys = append(keys, o.CaseID)
	}
	assert.Equal(t, []string{"z", "a", "b", "b"}, keys)
}

func TestDocumentLabel(t *testing.T) {
	tests := []struct {
		fileName string
		label    string
		ok       bool
	}{
		{"0208-173976-12-0.pdf", "12-0", true},
		{"0208-173976-3.pdf", "3", true},
		{"/files/0208-173976-3-1-2.PDF", "3-1-2", true},
		{"0208-173976.pdf", "0208-173976", false},
		{"scan", "scan", false},
	}

	for _, tt := range tests {
		t.Run(tt.fileName, func(t *testing.T) {
			label, ok := DocumentLabel(tt.fileName)
			assert.Equal(t, tt.label, label)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestSortDocuments(t *testing.T) {
	t.Run("numeric second-to-last component", func(t *testing.T) {
		docs := []models.LegacyDocument{
			{FileName: "0208-1-12-10-0.pdf"},
			{FileName: "0208-1-12-2-0.pdf"},
			{FileName: "0208-1-12-1-0.pdf"},
		}
		got := SortDocuments(docs)
		assert.Equal(t, "0208-1-12-1-0.pdf", got[0].FileName)
		assert.Equal(t, "0208-1-12-2-0.pdf", got[1].FileName)
		assert.Equal(t, "0208-1-12-10-0.pdf", got[2].FileName)
		assert.Equal(t, "0208-1-12-10-0.pdf", docs[0].FileName, "input untouched")
	})

	t.Run("non-numeric falls back to file name", func(t *testing.T) {
		got := SortDocuments([]models.LegacyDocument{
			{FileName: "0208-1-b-x.pdf"},
			{FileName: "0208-1-a-x.pdf"},
		})
		assert.Equal(t, "0208-1-a-x.pdf", got[0].FileName)
	})

	t.Run("mixed components sort the same from any input order", func(t *testing.T) {
		names := []string{"z-1-x", "a-2-x", "m-q-x"}
		orders := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}

		for _, order := range orders {
			docs := make([]models.LegacyDocument, 0, len(order))
			for _, i := range order {
				docs = append(docs, models.LegacyDocument{FileName: names[i]})
			}

			got := make([]string, 0, len(docs))
			for _, d := range SortDocuments(docs) {
				got = append(got, d.FileName)
			}
			assert.Equal(t, []string{"z-1-x", "a-2-x", "m-q-x"}, got, "input order %v", order)
		}
	})
}

func TestSuggestedCaseNumber(t *testing.T) {
	assert.Equal(t, "23-00417", SuggestedCaseNumber("xx WARN: 23-00417 yy"))
	assert.Equal(t, "23-00417", SuggestedCaseNumber("WARN:23-00417"))
	assert.Empty(t, SuggestedCaseNumber("WARN: see clerk"))
	assert.Empty(t, SuggestedCaseNumber(""))
}

func TestParseTxID(t *testing.T) {
	id, err := ParseTxID("")
	require.NoError(t, err)
	assert.Zero(t, id)

	id, err = ParseTxID("9000000000")
	require.NoError(t, err)
	assert.Equal(t, int64(9000000000), id)

	_, err = ParseTxID("-1")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = ParseTxID("abc")
	assert.Error(t, err)
}

func TestApplyPageIsIdempotent(t *testing.T) {
	source := &fakeSource{sets: map[models.OrderType]*models.LegacyOrderSet{
		models.OrderTypeTransfer: transferSet(),
		models.OrderTypeConsolidation: {Orders: []models.LegacyOrder{
			{TxID: 7001, DxtrCaseID: "DX-7", CaseID: "081-24-00007", OrderDate: date(5, 1)},
			{TxID: 7002, DxtrCaseID: "DX-7", CaseID: "081-24-00007", OrderDate: date(5, 2)},
		}},
	}}
	store := &memoryOrders{rows: make(map[string]models.Order)}
	svc := newTestService(t, source, store)
	ctx := context.Background()

	page, err := svc.GetNextPage(ctx, 0)
	require.NoError(t, err)

	first, err := svc.ApplyPage(ctx, page)
	require.NoError(t, err)
	assert.Equal(t, 4, first.Created)
	assert.Equal(t, 0, first.Existing)
	assert.Equal(t, []string{"081-24-00007"}, first.LeadCaseIDs)

	second, err := svc.ApplyPage(ctx, page)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 4, second.Existing)
	assert.Len(t, store.rows, 4)
}

func TestApplyPageRejectsOrderWithoutID(t *testing.T) {
	svc := newTestService(t, &fakeSource{}, &memoryOrders{rows: map[string]models.Order{}})

	_, err := svc.ApplyPage(context.Background(), &models.OrderSyncResult{
		Transfers: []models.Order{{CaseID: "081-24-00001"}},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
