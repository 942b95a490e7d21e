// Package casesync loads changed legacy cases into the document store
package casesync

import (
	"context"
	"time"

	"github.com/casemirror/dataflow/common/apperr"
	"github.com/casemirror/dataflow/common/metrics"
	"github.com/casemirror/dataflow/common/models"
)

const module = "case-sync"

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// CaseSource loads one legacy case with its terminal dates
type CaseSource interface {
	SyncedCase(ctx context.Context, caseID string) (*models.SyncedCase, error)
}

// CaseStore upserts synced cases
type CaseStore interface {
	Upsert(ctx context.Context, c *models.SyncedCase) error
}

// CaseFailure records why one case was not loaded. It carries the
// classified kind, module and message only, never the driver text.
type CaseFailure struct {
	CaseID  string      `json:"case_id"`
	Kind    apperr.Kind `json:"kind"`
	Module  string      `json:"module"`
	Message string      `json:"message"`
}

// LoadResult summarizes one loadCases call
type LoadResult struct {
	Loaded   int           `json:"loaded"`
	Failed   int           `json:"failed"`
	Failures []CaseFailure `json:"failures,omitempty"`
}

// Loader copies legacy cases into the document store
type Loader struct {
	source  CaseSource
	store   CaseStore
	metrics *metrics.Metrics
	logger  Logger
	now     func() time.Time
}

// NewLoader creates a case loader
func NewLoader(source CaseSource, store CaseStore, m *metrics.Metrics, logger Logger) *Loader {
	return &Loader{
		source:  source,
		store:   store,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// LoadCases loads every case id in turn. A case that fails is logged and
// counted; it never stops the others and is never returned as an error.
func (l *Loader) LoadCases(ctx context.Context, caseIDs []string) *LoadResult {
	result := &LoadResult{}

	for _, caseID := range caseIDs {
		if err := l.loadCase(ctx, caseID); err != nil {
			appErr := apperr.From(module, err)
			l.logger.Error("failed to load case",
				"case_id", caseID,
				"kind", appErr.Kind,
				"error", err)
			l.metrics.RecordSkipped("case", string(appErr.Kind))

			result.Failed++
			result.Failures = append(result.Failures, CaseFailure{
				CaseID:  caseID,
				Kind:    appErr.Kind,
				Module:  appErr.Module,
				Message: appErr.Message,
			})
			continue
		}
		result.Loaded++
	}

	l.logger.Info("loaded cases", "loaded", result.Loaded, "failed", result.Failed)
	return result
}

func (l *Loader) loadCase(ctx context.Context, caseID string) error {
	synced, err := l.source.SyncedCase(ctx, caseID)
	if err != nil {
		return err
	}

	synced.SyncedOn = l.now()
	if err := l.store.Upsert(ctx, synced); err != nil {
		return err
	}

	l.metrics.RecordWritten("case", "upsert")
	return nil
}
