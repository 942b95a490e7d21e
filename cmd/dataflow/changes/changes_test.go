package changes

import (
	"context"
	"testing"
	"time"

	"github.com/casemirror/dataflow/common/apperr"
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

// fakeCases serves transactions from a slice sorted by id
type fakeCases struct {
	txns      []models.TransactionRef
	updated   []models.CaseChange
	terminal  []models.CaseChange
	blindSpot []string

	lookups        int
	blindSpotSince time.Time
	err            error
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func (f *fakeCases) TransactionBounds(ctx context.Context) (*models.TransactionBounds, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.txns) == 0 {
		return nil, apperr.NotFound("test", "no transactions")
	}
	return &models.TransactionBounds{Min: f.txns[0], Max: f.txns[len(f.txns)-1]}, nil
}

func (f *fakeCases) FirstAtOrAfter(ctx context.Context, id int64) (*models.TransactionRef, error) {
	f.lookups++
	for _, tx := range f.txns {
		if tx.ID >= id {
			ref := tx
			return &ref, nil
		}
	}
	return nil, apperr.NotFound("test", "transaction")
}

func (f *fakeCases) LastAtOrBefore(ctx context.Context, id int64) (*models.TransactionRef, error) {
	f.lookups++
	for i := len(f.txns) - 1; i >= 0; i-- {
		if f.txns[i].ID <= id {
			ref := f.txns[i]
			return &ref, nil
		}
	}
	return nil, apperr.NotFound("test", "transaction")
}

func (f *fakeCases) UpdatedCases(ctx context.Context, since time.Time) ([]models.CaseChange, error) {
	return f.updated, f.err
}

func (f *fakeCases) TerminalTransactions(ctx context.Context, since time.Time) ([]models.CaseChange, error) {
	return f.terminal, nil
}

func (f *fakeCases) BlindSpotCases(ctx context.Context, cutoff time.Time) ([]string, error) {
	f.blindSpotSince = cutoff
	return f.blindSpot, nil
}

// transactions with gaps in the id space and several ids per date
func gappyTransactions() []models.TransactionRef {
	return []models.TransactionRef{
		{ID: 100, Date: day(2)},
		{ID: 101, Date: day(2)},
		{ID: 105, Date: day(3).Add(9 * time.Hour)},
		{ID: 230, Date: day(5)},
		{ID: 231, Date: day(5)},
		{ID: 232, Date: day(5).Add(23 * time.Hour)},
		{ID: 400, Date: day(6)},
		{ID: 999, Date: day(9)},
	}
}

func TestFindTransactionRange(t *testing.T) {
	tests := []struct {
		name       string
		date       time.Time
		found      bool
		start, end int64
	}{
		{name: "before earliest", date: day(1), found: false},
		{name: "after latest", date: day(10), found: false},
		{name: "first date", date: day(2), found: true, start: 100, end: 101},
		{name: "single member band", date: day(3), found: true, start: 105, end: 105},
		{name: "band surrounded by gaps", date: day(5).Add(15 * time.Hour), found: true, start: 230, end: 232},
		{name: "last date", date: day(9), found: true, start: 999, end: 999},
		{name: "in range without transactions", date: day(4), found: false},
		{name: "in range without transactions near the end", date: day(8), found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &fakeCases{txns: gappyTransactions()}
			d := NewDetector(source, &testLogger{t: t})

			got, err := d.FindTransactionRange(context.Background(), tt.date)
			require.NoError(t, err)

			assert.Equal(t, tt.date.Format(DateLayout), got.FindDate)
			assert.Equal(t, tt.found, got.Found)
			if tt.found {
				assert.Equal(t, tt.start, got.Start)
				assert.Equal(t, tt.end, got.End)
				assert.LessOrEqual(t, got.Start, got.End)
			}
		})
	}
}

func TestFindTransactionRangeEveryIDInBandSharesDate(t *testing.T) {
	var txns []models.TransactionRef
	id := int64(1)
	for d := 1; d <= 20; d++ {
		for n := 0; n < d%4+1; n++ {
			txns = append(txns, models.TransactionRef{ID: id, Date: day(d)})
			id += int64(n%3 + 1)
		}
	}
	source := &fakeCases{txns: txns}
	d := NewDetector(source, &testLogger{t: t})

	for dd := 1; dd <= 20; dd++ {
		got, err := d.FindTransactionRange(context.Background(), day(dd))
		require.NoError(t, err)
		require.True(t, got.Found, "date %d", dd)

		for _, tx := range txns {
			inBand := tx.ID >= got.Start && tx.ID <= got.End
			assert.Equal(t, tx.Date.Equal(day(dd)), inBand, "tx %d on date %d", tx.ID, dd)
		}
	}
}

func TestFindTransactionRangeUsesLogarithmicLookups(t *testing.T) {
	var txns []models.TransactionRef
	for i := int64(0); i < 10000; i++ {
		txns = append(txns, models.TransactionRef{ID: 1000 + i*3, Date: day(1).AddDate(0, 0, int(i/100))})
	}
	source := &fakeCases{txns: txns}
	d := NewDetector(source, &testLogger{t: t})

	got, err := d.FindTransactionRange(context.Background(), day(1).AddDate(0, 0, 42))
	require.NoError(t, err)
	require.True(t, got.Found)
	assert.Equal(t, int64(1000+4200*3), got.Start)
	assert.Equal(t, int64(1000+4299*3), got.End)
	assert.Less(t, source.lookups, 80)
}

func TestFindTransactionRangePropagatesSourceFailure(t *testing.T) {
	source := &fakeCases{err: apperr.New(apperr.KindConnection, "cases-gateway", "unreachable")}
	d := NewDetector(source, &testLogger{t: t})

	_, err := d.FindTransactionRange(context.Background(), day(3))
	require.Error(t, err)
	assert.True(t, apperr.IsRetryable(err))
}

func TestFindTransactionRangeEmptySource(t *testing.T) {
	d := NewDetector(&fakeCases{}, &testLogger{t: t})

	result, err := d.FindTransactionRange(context.Background(), day(3))
	require.NoError(t, err)
	assert.False(t, result.Found)
	assert.Equal(t, "2024-01-03", result.FindDate)
}

func TestUpdatedCaseIDs(t *testing.T) {
	casesSince := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	txSince := time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)

	t.Run("deduplicates across streams and advances watermarks independently", func(t *testing.T) {
		source := &fakeCases{
			updated: []models.CaseChange{
				{CaseID: "081-24-00001", ChangedAt: casesSince.Add(time.Hour)},
				{CaseID: "081-24-00002", ChangedAt: casesSince.Add(3 * time.Hour)},
			},
			terminal: []models.CaseChange{
				{CaseID: "081-24-00002", ChangedAt: txSince.Add(2 * time.Hour)},
				{CaseID: "081-24-00003", ChangedAt: txSince.Add(time.Hour)},
			},
			blindSpot: []string{"081-24-00003", "081-23-09999"},
		}
		d := NewDetector(source, &testLogger{t: t})

		got, err := d.UpdatedCaseIDs(context.Background(), casesSince, txSince)
		require.NoError(t, err)

		assert.Equal(t, []string{"081-24-00001", "081-24-00002", "081-24-00003", "081-23-09999"}, got.CaseIDs)
		assert.Equal(t, casesSince.Add(3*time.Hour), got.LatestCasesSyncDate)
		assert.Equal(t, txSince.Add(2*time.Hour), got.LatestTransactionsSyncDate)
		assert.Equal(t, 1, got.BlindSpotCount)
		assert.Equal(t, casesSince, source.blindSpotSince, "blind spot uses the case-level cutoff")
	})

	t.Run("empty streams leave watermarks unchanged", func(t *testing.T) {
		source := &fakeCases{}
		d := NewDetector(source, &testLogger{t: t})

		got, err := d.UpdatedCaseIDs(context.Background(), casesSince, txSince)
		require.NoError(t, err)

		assert.Empty(t, got.CaseIDs)
		assert.NotNil(t, got.CaseIDs)
		assert.Equal(t, casesSince, got.LatestCasesSyncDate)
		assert.Equal(t, txSince, got.LatestTransactionsSyncDate)
	})

	t.Run("blind spot finds a case the primary streams miss", func(t *testing.T) {
		source := &fakeCases{blindSpot: []string{"081-22-12345"}}
		d := NewDetector(source, &testLogger{t: t})

		got, err := d.UpdatedCaseIDs(context.Background(), casesSince, txSince)
		require.NoError(t, err)

		assert.Equal(t, []string{"081-22-12345"}, got.CaseIDs)
		assert.Equal(t, casesSince, got.LatestCasesSyncDate)
	})

	t.Run("source failure", func(t *testing.T) {
		source := &fakeCases{err: apperr.New(apperr.KindConnection, "cases-gateway", "down")}
		d := NewDetector(source, &testLogger{t: t})

		_, err := d.UpdatedCaseIDs(context.Background(), casesSince, txSince)
		assert.Error(t, err)
	})
}
