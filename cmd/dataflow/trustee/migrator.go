// Package trustee migrates legacy trustees and their appointments into the
// document store, one resumable page at a time.
package trustee

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/casemirror/dataflow/common/apperr"
	"github.com/casemirror/dataflow/common/metrics"
	"github.com/casemirror/dataflow/common/models"
	"github.com/casemirror/dataflow/common/validation"
	"github.com/google/uuid"
)

const module = "trustee-migration"

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Source reads the legacy trustee source
type Source interface {
	TrusteePage(ctx context.Context, afterID *int64, limit int) ([]models.LegacyTrustee, error)
	Appointments(ctx context.Context, legacyTrusteeID int64) ([]models.LegacyAppointment, error)
}

// TrusteeStore persists trustees
type TrusteeStore interface {
	FindByLegacyID(ctx context.Context, legacyID int64) (*models.Trustee, error)
	Create(ctx context.Context, trustee *models.Trustee) (*models.Trustee, error)
	Update(ctx context.Context, trustee *models.Trustee) error
}

// AppointmentStore persists appointments
type AppointmentStore interface {
	ListForTrustee(ctx context.Context, trusteeID string) ([]models.TrusteeAppointment, error)
	Create(ctx context.Context, a *models.TrusteeAppointment) (bool, error)
	Update(ctx context.Context, a *models.TrusteeAppointment) error
}

// StateStore persists migration progress
type StateStore interface {
	Get(ctx context.Context, id string) (*models.TrusteeMigrationState, error)
	Save(ctx context.Context, state *models.TrusteeMigrationState) error
}

// Rules validates and maps legacy appointment data
type Rules interface {
	Version() string
	ValidateAppointment(chapter, appointmentType string) error
	MapDivision(district, groupDesignator string) (validation.DivisionMapping, error)
	IsActiveStatus(status string) bool
}

// PageResult is the outcome of one RunPage call. Superseded is set when
// another run saved first; State is then the stored state, which does not
// count this page.
type PageResult struct {
	State                 *models.TrusteeMigrationState `json:"state"`
	Processed             int                           `json:"processed"`
	AppointmentsProcessed int                           `json:"appointments_processed"`
	Errors                int                           `json:"errors"`
	HasMore               bool                          `json:"has_more"`
	Superseded            bool                          `json:"superseded,omitempty"`
}

// Migrator runs the trustee migration state machine
type Migrator struct {
	source       Source
	trustees     TrusteeStore
	appointments AppointmentStore
	states       StateStore
	rules        Rules
	pageSize     int
	metrics      *metrics.Metrics
	logger       Logger
	now          func() time.Time
	newID        func() string
}

// Config holds migrator dependencies
type Config struct {
	Source       Source
	Trustees     TrusteeStore
	Appointments AppointmentStore
	States       StateStore
	Rules        Rules
	PageSize     int
	Metrics      *metrics.Metrics
	Logger       Logger
}

// NewMigrator creates a migrator
func NewMigrator(cfg Config) *Migrator {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Migrator{
		source:       cfg.Source,
		trustees:     cfg.Trustees,
		appointments: cfg.Appointments,
		states:       cfg.States,
		rules:        cfg.Rules,
		pageSize:     pageSize,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        func() string { return uuid.New().String() },
	}
}

// State returns the stored migration state, or a fresh IN_PROGRESS state
// when the run has not started. A fresh state is not persisted.
func (m *Migrator) State(ctx context.Context, migrationID string) (*models.TrusteeMigrationState, error) {
	state, err := m.states.Get(ctx, migrationID)
	if err == nil {
		return state, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, fmt.Errorf("failed to get migration state: %w", err)
	}

	now := m.now()
	return &models.TrusteeMigrationState{
		ID:                     migrationID,
		Status:                 models.MigrationInProgress,
		StartedAt:              now,
		LastUpdatedAt:          now,
		DivisionMappingVersion: m.rules.Version(),
	}, nil
}

// RunPage migrates the next page of trustees after the stored cursor. A
// COMPLETED run is left alone; a FAILED run resumes from its cursor. On an
// unrecoverable error the state is saved as FAILED with the cursor and
// counts of the last good page.
func (m *Migrator) RunPage(ctx context.Context, migrationID string) (*PageResult, error) {
	state, err := m.State(ctx, migrationID)
	if err != nil {
		return nil, err
	}

	switch state.Status {
	case models.MigrationCompleted:
		m.logger.Debug("trustee migration already completed", "migration_id", migrationID)
		return &PageResult{State: state}, nil
	case models.MigrationFailed:
		m.logger.Info("resuming failed trustee migration",
			"migration_id", migrationID,
			"last_trustee_id", state.LastTrusteeID,
			"previous_failure", state.FailureMessage)
		state.Status = models.MigrationInProgress
		state.FailureMessage = ""
	}
	state.DivisionMappingVersion = m.rules.Version()

	page, err := m.source.TrusteePage(ctx, state.LastTrusteeID, m.pageSize)
	if err != nil {
		return nil, m.fail(ctx, state, "failed to fetch trustee page", err)
	}
	m.metrics.RecordExtracted("trustees", "trustee", len(page))

	result := &PageResult{State: state, HasMore: len(page) >= m.pageSize}
	for i := range page {
		legacy := &page[i]
		outcome, err := m.migrateTrustee(ctx, legacy)
		if err != nil {
			return nil, m.fail(ctx, state, fmt.Sprintf("failed to migrate trustee %d", legacy.LegacyID), err)
		}
		result.Processed++
		result.AppointmentsProcessed += outcome.appointments
		result.Errors += outcome.errors
	}

	if len(page) > 0 {
		last := page[len(page)-1].LegacyID
		state.LastTrusteeID = &last
		m.metrics.SetCheckpoint(models.SourceTrusteeMigration, float64(last))
	}
	state.ProcessedCount += result.Processed
	state.AppointmentsProcessedCount += result.AppointmentsProcessed
	state.Errors += result.Errors
	state.LastUpdatedAt = m.now()
	if !result.HasMore {
		state.Status = models.MigrationCompleted
	}

	if err := m.states.Save(ctx, state); err != nil {
		if apperr.IsConflict(err) {
			return m.superseded(ctx, migrationID, result, err)
		}
		return nil, fmt.Errorf("failed to save migration state: %w", err)
	}

	m.logger.Info("migrated trustee page",
		"migration_id", migrationID,
		"trustees", result.Processed,
		"appointments", result.AppointmentsProcessed,
		"errors", result.Errors,
		"last_trustee_id", state.LastTrusteeID,
		"status", state.Status)

	return result, nil
}

// Run migrates pages until the source is exhausted or a page fails
func (m *Migrator) Run(ctx context.Context, migrationID string) (*models.TrusteeMigrationState, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := m.RunPage(ctx, migrationID)
		if err != nil {
			return nil, err
		}
		if !result.HasMore {
			return result.State, nil
		}
	}
}

// superseded reports a page whose save lost to a newer one. The stored
// state wins; the caller continues from its cursor.
func (m *Migrator) superseded(ctx context.Context, migrationID string, page *PageResult, saveErr error) (*PageResult, error) {
	current, err := m.states.Get(ctx, migrationID)
	if err != nil {
		return nil, errors.Join(
			fmt.Errorf("failed to save migration state: %w", saveErr),
			fmt.Errorf("failed to reload migration state: %w", err))
	}

	m.logger.Warn("trustee page superseded by a newer save",
		"migration_id", migrationID,
		"trustees", page.Processed,
		"stored_last_trustee_id", current.LastTrusteeID,
		"stored_status", current.Status,
		"stored_version", current.Version)

	return &PageResult{
		State:                 current,
		Processed:             page.Processed,
		AppointmentsProcessed: page.AppointmentsProcessed,
		Errors:                page.Errors,
		HasMore:               current.Status == models.MigrationInProgress,
		Superseded:            true,
	}, nil
}

// fail persists a FAILED state. state still carries the counts and cursor
// of the last good page. The recorded message names the step and the
// classified cause only; the cause chain goes to the log.
func (m *Migrator) fail(ctx context.Context, state *models.TrusteeMigrationState, step string, cause error) error {
	state.Status = models.MigrationFailed
	state.FailureMessage = step + ": " + apperr.Describe(module, cause)
	state.LastUpdatedAt = m.now()

	m.logger.Error("trustee migration failed",
		"migration_id", state.ID,
		"last_trustee_id", state.LastTrusteeID,
		"step", step,
		"error", cause)

	err := apperr.Wrap(apperr.KindMigrationFatal, module, state.FailureMessage, cause)
	if saveErr := m.states.Save(ctx, state); saveErr != nil {
		return errors.Join(err, fmt.Errorf("failed to save failed migration state: %w", saveErr))
	}
	return err
}
