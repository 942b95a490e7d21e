// Package changes works out which legacy records moved since a checkpoint.
// Everything here is read-only.
package changes

import (
	"context"
	"fmt"
	"time"

	"github.com/casemirror/dataflow/common/apperr"
	"github.com/casemirror/dataflow/common/models"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// CasesSource is the part of the legacy cases gateway change detection reads
type CasesSource interface {
	TransactionBounds(ctx context.Context) (*models.TransactionBounds, error)
	FirstAtOrAfter(ctx context.Context, id int64) (*models.TransactionRef, error)
	LastAtOrBefore(ctx context.Context, id int64) (*models.TransactionRef, error)
	UpdatedCases(ctx context.Context, since time.Time) ([]models.CaseChange, error)
	TerminalTransactions(ctx context.Context, since time.Time) ([]models.CaseChange, error)
	BlindSpotCases(ctx context.Context, cutoff time.Time) ([]string, error)
}

// DateLayout is the calendar-date format used on the activity boundary
const DateLayout = "2006-01-02"

// TransactionRange is the band of transaction ids recorded on one date
type TransactionRange struct {
	FindDate string `json:"find_date"`
	Found    bool   `json:"found"`
	Start    int64  `json:"start,omitempty"`
	End      int64  `json:"end,omitempty"`
}

// UpdatedCaseIDs is one change-detection cycle's output
type UpdatedCaseIDs struct {
	CaseIDs                    []string  `json:"case_ids"`
	LatestCasesSyncDate        time.Time `json:"latest_cases_sync_date"`
	LatestTransactionsSyncDate time.Time `json:"latest_transactions_sync_date"`
	BlindSpotCount             int       `json:"blind_spot_count"`
}

// Detector runs the change-detection queries
type Detector struct {
	source CasesSource
	logger Logger
}

// NewDetector creates a change detector over a cases source
func NewDetector(source CasesSource, logger Logger) *Detector {
	return &Detector{
		source: source,
		logger: logger,
	}
}

// FindTransactionRange resolves the first and last transaction ids whose
// date equals findDate. Ids are assumed to grow with date; gaps in the id
// space are fine. An empty source, a date outside the source's range, or an
// in-range date with no transactions, is reported as not found.
func (d *Detector) FindTransactionRange(ctx context.Context, findDate time.Time) (*TransactionRange, error) {
	find := calendarDate(findDate)
	result := &TransactionRange{FindDate: find.Format(DateLayout)}

	bounds, err := d.source.TransactionBounds(ctx)
	if apperr.IsNotFound(err) {
		d.logger.Debug("no transactions in source", "date", result.FindDate)
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction bounds: %w", err)
	}

	minDate := calendarDate(bounds.Min.Date)
	maxDate := calendarDate(bounds.Max.Date)
	if find.Before(minDate) || find.After(maxDate) {
		return result, nil
	}

	startRef, err := d.searchStart(ctx, bounds, find)
	if err != nil {
		return nil, err
	}
	if !calendarDate(startRef.Date).Equal(find) {
		d.logger.Debug("no transactions on date", "date", result.FindDate)
		return result, nil
	}

	endRef, err := d.searchEnd(ctx, bounds, find)
	if err != nil {
		return nil, err
	}

	result.Found = true
	result.Start = startRef.ID
	result.End = endRef.ID
	return result, nil
}

// searchStart finds the first transaction dated on or after find
func (d *Detector) searchStart(ctx context.Context, bounds *models.TransactionBounds, find time.Time) (*models.TransactionRef, error) {
	lo, hi := bounds.Min.ID, bounds.Max.ID
	for lo < hi {
		mid := lo + (hi-lo)/2
		ref, err := d.source.FirstAtOrAfter(ctx, mid)
		if err != nil {
			return nil, fmt.Errorf("failed to look up transaction at or after %d: %w", mid, err)
		}
		if calendarDate(ref.Date).Before(find) {
			// every id up to ref.ID resolves to ref
			lo = ref.ID + 1
		} else {
			hi = mid
		}
	}

	ref, err := d.source.FirstAtOrAfter(ctx, lo)
	if err != nil {
		return nil, fmt.Errorf("failed to look up transaction at or after %d: %w", lo, err)
	}
	return ref, nil
}

// searchEnd finds the last transaction dated on or before find
func (d *Detector) searchEnd(ctx context.Context, bounds *models.TransactionBounds, find time.Time) (*models.TransactionRef, error) {
	lo, hi := bounds.Min.ID, bounds.Max.ID
	for lo < hi {
		mid := hi - (hi-lo)/2
		ref, err := d.source.LastAtOrBefore(ctx, mid)
		if err != nil {
			return nil, fmt.Errorf("failed to look up transaction at or before %d: %w", mid, err)
		}
		if calendarDate(ref.Date).After(find) {
			// every id from ref.ID up to mid resolves to ref
			hi = ref.ID - 1
		} else {
			lo = mid
		}
	}

	ref, err := d.source.LastAtOrBefore(ctx, lo)
	if err != nil {
		return nil, fmt.Errorf("failed to look up transaction at or before %d: %w", lo, err)
	}
	return ref, nil
}

// UpdatedCaseIDs unions the case-level stream, the terminal-transaction
// stream and the blind-spot backstop. Each watermark advances to the
// latest timestamp of its own stream and stays put when that stream is
// empty. The blind spot always uses the case-level cutoff.
func (d *Detector) UpdatedCaseIDs(ctx context.Context, casesSince, transactionsSince time.Time) (*UpdatedCaseIDs, error) {
	updated, err := d.source.UpdatedCases(ctx, casesSince)
	if err != nil {
		return nil, fmt.Errorf("failed to get updated cases: %w", err)
	}

	terminal, err := d.source.TerminalTransactions(ctx, transactionsSince)
	if err != nil {
		return nil, fmt.Errorf("failed to get terminal transactions: %w", err)
	}

	blindSpot, err := d.source.BlindSpotCases(ctx, casesSince)
	if err != nil {
		return nil, fmt.Errorf("failed to get blind spot cases: %w", err)
	}

	ids := newOrderedSet()
	for _, c := range updated {
		ids.add(c.CaseID)
	}
	for _, c := range terminal {
		ids.add(c.CaseID)
	}
	before := ids.len()
	for _, id := range blindSpot {
		ids.add(id)
	}

	result := &UpdatedCaseIDs{
		CaseIDs:                    ids.items,
		LatestCasesSyncDate:        latest(updated, casesSince),
		LatestTransactionsSyncDate: latest(terminal, transactionsSince),
		BlindSpotCount:             ids.len() - before,
	}

	d.logger.Info("detected updated cases",
		"case_stream", len(updated),
		"transaction_stream", len(terminal),
		"blind_spot_added", result.BlindSpotCount,
		"total", len(result.CaseIDs))

	return result, nil
}

func latest(changes []models.CaseChange, since time.Time) time.Time {
	newest := since
	for _, c := range changes {
		if c.ChangedAt.After(newest) {
			newest = c.ChangedAt
		}
	}
	return newest
}

func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{}), items: []string{}}
}

func (s *orderedSet) add(id string) {
	if _, ok := s.seen[id]; ok {
		return
	}
	s.seen[id] = struct{}{}
	s.items = append(s.items, id)
}

func (s *orderedSet) len() int {
	return len(s.items)
}
