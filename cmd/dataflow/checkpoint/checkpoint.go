// Package checkpoint keeps per-source sync watermarks. Watermarks never
// move backward, whatever order advances arrive in.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/casemirror/dataflow/common/apperr"
	"github.com/casemirror/dataflow/common/metrics"
	"github.com/casemirror/dataflow/common/models"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Store persists checkpoints. Get returns an apperr NotFound error for an
// unknown source.
type Store interface {
	Get(ctx context.Context, sourceName string) (*models.SyncCheckpoint, error)
	Upsert(ctx context.Context, cp *models.SyncCheckpoint) (*models.SyncCheckpoint, error)
}

// Service reads and advances checkpoints
type Service struct {
	store   Store
	metrics *metrics.Metrics
	logger  Logger
	now     func() time.Time
}

// NewService creates a checkpoint service
func NewService(store Store, m *metrics.Metrics, logger Logger) *Service {
	return &Service{
		store:   store,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Get returns the checkpoint of a source. A source that has never been
// synced yields an empty IN_PROGRESS checkpoint; nothing is written.
func (s *Service) Get(ctx context.Context, sourceName string) (*models.SyncCheckpoint, error) {
	cp, err := s.store.Get(ctx, sourceName)
	if apperr.IsNotFound(err) {
		s.logger.Debug("no checkpoint yet, starting from zero", "source", sourceName)
		return &models.SyncCheckpoint{
			SourceName: sourceName,
			Status:     models.CheckpointInProgress,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint %s: %w", sourceName, err)
	}
	return cp, nil
}

// Advance merges candidate into the stored checkpoint and persists the
// result. Call it only after the data covered by candidate is durable.
func (s *Service) Advance(ctx context.Context, candidate models.SyncCheckpoint) (*models.SyncCheckpoint, error) {
	if candidate.SourceName == "" {
		return nil, apperr.New(apperr.KindValidation, "checkpoint", "source name is required")
	}

	current, err := s.Get(ctx, candidate.SourceName)
	if err != nil {
		return nil, err
	}

	if candidate.MaxTransactionID != nil && current.MaxTransactionID != nil &&
		*candidate.MaxTransactionID < *current.MaxTransactionID {
		s.logger.Warn("ignored backward transaction watermark",
			"source", candidate.SourceName,
			"stored", *current.MaxTransactionID,
			"candidate", *candidate.MaxTransactionID)
	}

	merged := Merge(*current, candidate)
	merged.UpdatedOn = s.now().UTC()

	saved, err := s.store.Upsert(ctx, &merged)
	if err != nil {
		return nil, fmt.Errorf("failed to advance checkpoint %s: %w", candidate.SourceName, err)
	}

	s.metrics.SetCheckpoint(saved.SourceName, Position(saved))
	s.logger.Info("checkpoint advanced",
		"source", saved.SourceName,
		"status", saved.Status)

	return saved, nil
}

// Merge combines a stored checkpoint with a candidate. Transaction id and
// sync date take the larger value, a candidate cursor replaces the stored
// one only when set, and an empty candidate status keeps the stored one.
func Merge(current, candidate models.SyncCheckpoint) models.SyncCheckpoint {
	merged := current
	merged.SourceName = candidate.SourceName

	if candidate.MaxTransactionID != nil &&
		(current.MaxTransactionID == nil || *candidate.MaxTransactionID > *current.MaxTransactionID) {
		id := *candidate.MaxTransactionID
		merged.MaxTransactionID = &id
	}

	if candidate.LastSyncDate != nil &&
		(current.LastSyncDate == nil || candidate.LastSyncDate.After(*current.LastSyncDate)) {
		date := *candidate.LastSyncDate
		merged.LastSyncDate = &date
	}

	if candidate.Cursor != nil && *candidate.Cursor != "" {
		cursor := *candidate.Cursor
		merged.Cursor = &cursor
	}

	if candidate.Status != "" {
		merged.Status = candidate.Status
	}
	if merged.Status == "" {
		merged.Status = models.CheckpointInProgress
	}

	return merged
}

// Position reduces a checkpoint to one number for the position gauge
func Position(cp *models.SyncCheckpoint) float64 {
	switch {
	case cp.MaxTransactionID != nil:
		return float64(*cp.MaxTransactionID)
	case cp.LastSyncDate != nil:
		return float64(cp.LastSyncDate.Unix())
	default:
		return 0
	}
}
