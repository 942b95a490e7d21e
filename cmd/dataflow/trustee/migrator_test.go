package trustee

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/casemirror/dataflow/common/apperr"
	"github.com/casemirror/dataflow/common/gateways"
	"github.com/casemirror/dataflow/common/metrics"
	"github.com/casemirror/dataflow/common/models"
	"github.com/casemirror/dataflow/common/validation"
	"github.com/jackc/pgx/v5/pgconn"
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
	trustees     []models.LegacyTrustee
	appointments map[int64][]models.LegacyAppointment
	failFor      int64
	failErr      error
	cursors      []*int64
	beforePage   func()
}

func (f *fakeSource) TrusteePage(ctx context.Context, afterID *int64, limit int) ([]models.LegacyTrustee, error) {
	if f.beforePage != nil {
		f.beforePage()
	}
	f.cursors = append(f.cursors, afterID)
	var page []models.LegacyTrustee
	for _, t := range f.trustees {
		if afterID != nil && t.LegacyID <= *afterID {
			continue
		}
		page = append(page, t)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (f *fakeSource) Appointments(ctx context.Context, legacyTrusteeID int64) ([]models.LegacyAppointment, error) {
	if legacyTrusteeID == f.failFor {
		if f.failErr != nil {
			return nil, f.failErr
		}
		return nil, apperr.New(apperr.KindConnection, "trustees-gateway", "connection reset")
	}
	return f.appointments[legacyTrusteeID], nil
}

type memoryTrustees struct {
	byID    map[string]models.Trustee
	updates int
}

func (m *memoryTrustees) FindByLegacyID(ctx context.Context, legacyID int64) (*models.Trustee, error) {
	for _, t := range m.byID {
		if t.LegacyTrusteeID == legacyID {
			found := t
			return &found, nil
		}
	}
	return nil, apperr.NotFound("test", "trustee")
}

func (m *memoryTrustees) Create(ctx context.Context, trustee *models.Trustee) (*models.Trustee, error) {
	if existing, err := m.FindByLegacyID(ctx, trustee.LegacyTrusteeID); err == nil {
		return existing, nil
	}
	m.byID[trustee.ID] = *trustee
	created := *trustee
	return &created, nil
}

func (m *memoryTrustees) Update(ctx context.Context, trustee *models.Trustee) error {
	if _, ok := m.byID[trustee.ID]; !ok {
		return apperr.NotFound("test", "trustee "+trustee.ID)
	}
	m.updates++
	m.byID[trustee.ID] = *trustee
	return nil
}

type memoryAppointments struct {
	byKey     map[models.AppointmentKey]models.TrusteeAppointment
	updates   int
	afterList func()
}

func (m *memoryAppointments) ListForTrustee(ctx context.Context, trusteeID string) ([]models.TrusteeAppointment, error) {
	var out []models.TrusteeAppointment
	for _, a := range m.byKey {
		if a.TrusteeID == trusteeID {
			out = append(out, a)
		}
	}
	if m.afterList != nil {
		m.afterList()
	}
	return out, nil
}

func (m *memoryAppointments) Create(ctx context.Context, a *models.TrusteeAppointment) (bool, error) {
	if _, ok := m.byKey[a.NaturalKey()]; ok {
		return false, nil
	}
	m.byKey[a.NaturalKey()] = *a
	return true, nil
}

func (m *memoryAppointments) Update(ctx context.Context, a *models.TrusteeAppointment) error {
	stored, ok := m.byKey[a.NaturalKey()]
	if !ok || stored.ID != a.ID {
		return apperr.NotFound("test", "appointment "+a.ID)
	}
	m.updates++
	m.byKey[a.NaturalKey()] = *a
	return nil
}

type memoryStates struct {
	states map[string]models.TrusteeMigrationState
}

func (m *memoryStates) Get(ctx context.Context, id string) (*models.TrusteeMigrationState, error) {
	s, ok := m.states[id]
	if !ok {
		return nil, apperr.NotFound("test", "state "+id)
	}
	return &s, nil
}

func (m *memoryStates) Save(ctx context.Context, state *models.TrusteeMigrationState) error {
	if current, ok := m.states[state.ID]; ok && current.Version != state.Version {
		return apperr.New(apperr.KindConflict, "test", fmt.Sprintf("state %s is at version %d", state.ID, current.Version))
	}
	state.Version++
	m.states[state.ID] = *state
	return nil
}

type fixture struct {
	source       *fakeSource
	trustees     *memoryTrustees
	appointments *memoryAppointments
	states       *memoryStates
	migrator     *Migrator
}

func newFixture(t *testing.T, pageSize int) *fixture {
	rules, err := validation.LoadRules("")
	require.NoError(t, err)
	validator, err := validation.NewValidator(rules)
	require.NoError(t, err)

	f := &fixture{
		source:       &fakeSource{appointments: map[int64][]models.LegacyAppointment{}},
		trustees:     &memoryTrustees{byID: map[string]models.Trustee{}},
		appointments: &memoryAppointments{byKey: map[models.AppointmentKey]models.TrusteeAppointment{}},
		states:       &memoryStates{states: map[string]models.TrusteeMigrationState{}},
	}
	f.migrator = NewMigrator(Config{
		Source:       f.source,
		Trustees:     f.trustees,
		Appointments: f.appointments,
		States:       f.states,
		Rules:        validator,
		PageSize:     pageSize,
		Metrics:      metrics.New(metrics.Config{Enabled: true}),
		Logger:       &testLogger{t: t},
	})

	seq := 0
	f.migrator.newID = func() string {
		seq++
		return fmt.Sprintf("id-%03d", seq)
	}
	f.migrator.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func legacyTrustee(id int64, last string) models.LegacyTrustee {
	return models.LegacyTrustee{
		LegacyID:  id,
		FirstName: "Pat",
		LastName:  last,
		City:      "New York",
		State:     "NY",
	}
}

func appointment(trusteeID int64, chapter, kind, status string, d int) models.LegacyAppointment {
	return models.LegacyAppointment{
		LegacyTrusteeID: trusteeID,
		District:        "NY",
		GroupDesignator: "NY",
		Chapter:         chapter,
		AppointmentType: kind,
		Status:          status,
		AppointedDate:   time.Date(2020, 1, d, 0, 0, 0, 0, time.UTC),
	}
}

func TestRunPageCompletesShortPage(t *testing.T) {
	f := newFixture(t, 10)
	f.source.trustees = []models.LegacyTrustee{legacyTrustee(1, "One"), legacyTrustee(2, "Two")}
	f.source.appointments[1] = []models.LegacyAppointment{appointment(1, "7", "panel", "active", 1)}

	result, err := f.migrator.RunPage(context.Background(), "run-1")
	require.NoError(t, err)

	assert.False(t, result.HasMore)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.AppointmentsProcessed)

	state := f.states.states["run-1"]
	assert.Equal(t, models.MigrationCompleted, state.Status)
	require.NotNil(t, state.LastTrusteeID)
	assert.Equal(t, int64(2), *state.LastTrusteeID)
	assert.Equal(t, "2025.1", state.DivisionMappingVersion)

	again, err := f.migrator.RunPage(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Zero(t, again.Processed, "completed runs are not reprocessed")
	assert.Len(t, f.source.cursors, 1)
}

func TestTrusteeUpsertUpdatesInPlace(t *testing.T) {
	f := newFixture(t, 10)
	f.source.trustees = []models.LegacyTrustee{legacyTrustee(7, "Seven")}
	f.source.appointments[7] = []models.LegacyAppointment{appointment(7, "13", "standing", "active", 2)}

	_, err := f.migrator.RunPage(context.Background(), "first")
	require.NoError(t, err)
	require.Len(t, f.trustees.byID, 1)
	created := f.trustees.byID["id-001"]
	assert.Equal(t, "Pat Seven", created.Name)
	assert.Equal(t, models.TrusteeActive, created.Status)

	f.source.trustees[0].LastName = "Sevenson"
	f.source.trustees[0].City = ""

	_, err = f.migrator.RunPage(context.Background(), "second")
	require.NoError(t, err)

	require.Len(t, f.trustees.byID, 1, "same legacy id never duplicates")
	updated := f.trustees.byID["id-001"]
	assert.Equal(t, "Pat Sevenson", updated.Name)
	assert.Empty(t, updated.Public.City, "cleared legacy fields are removed")
	assert.Equal(t, "NY", updated.Public.State)
	assert.Equal(t, created.CreatedOn, updated.CreatedOn)
	assert.Equal(t, int64(7), updated.LegacyTrusteeID)

	assert.Len(t, f.appointments.byKey, 1, "appointment matched by natural key")
}

func TestTrusteeUpsertSkipsUnchanged(t *testing.T) {
	f := newFixture(t, 10)
	f.source.trustees = []models.LegacyTrustee{legacyTrustee(8, "Eight")}
	f.source.appointments[8] = []models.LegacyAppointment{appointment(8, "7", "panel", "active", 3)}

	_, err := f.migrator.RunPage(context.Background(), "a")
	require.NoError(t, err)
	_, err = f.migrator.RunPage(context.Background(), "b")
	require.NoError(t, err)

	assert.Zero(t, f.trustees.updates)
	assert.Zero(t, f.appointments.updates)
}

func TestAppointmentValidationSkipsInvalid(t *testing.T) {
	f := newFixture(t, 10)
	f.source.trustees = []models.LegacyTrustee{legacyTrustee(3, "Three")}
	f.source.appointments[3] = []models.LegacyAppointment{
		appointment(3, "7", "standing", "active", 1),
		appointment(3, "7", "panel", "resigned", 2),
		appointment(3, "7", "panel", "resigned", 2),
		{LegacyTrusteeID: 3, District: "ZZ", GroupDesignator: "QQ", Chapter: "12", AppointmentType: "standing", Status: "active"},
	}

	result, err := f.migrator.RunPage(context.Background(), "run")
	require.NoError(t, err)

	assert.Equal(t, 1, result.AppointmentsProcessed, "invalid, duplicate and unmapped records excluded")
	assert.Equal(t, 1, result.Errors, "unmapped district counted as an error")
	require.Len(t, f.appointments.byKey, 1)

	for _, a := range f.appointments.byKey {
		assert.Equal(t, "panel", a.AppointmentType)
		assert.Equal(t, "081", a.DivisionCode)
		assert.Equal(t, "0208", a.CourtID)
		assert.Equal(t, "2020-01-02", a.AppointedDate)
		assert.Equal(t, "inactive", a.Status)
	}

	trustee := f.trustees.byID["id-001"]
	assert.Equal(t, models.TrusteeNotActive, trustee.Status, "only active appointments keep a trustee active")
}

func TestResumableMigration(t *testing.T) {
	f := newFixture(t, 2)
	for id := int64(1); id <= 5; id++ {
		f.source.trustees = append(f.source.trustees, legacyTrustee(id, fmt.Sprintf("T%d", id)))
		f.source.appointments[id] = []models.LegacyAppointment{appointment(id, "7", "panel", "active", int(id))}
	}
	f.source.failFor = 4

	first, err := f.migrator.RunPage(context.Background(), "resume")
	require.NoError(t, err)
	assert.True(t, first.HasMore)

	_, err = f.migrator.RunPage(context.Background(), "resume")
	require.Error(t, err)
	assert.Equal(t, apperr.KindMigrationFatal, apperr.KindOf(err))

	failed := f.states.states["resume"]
	assert.Equal(t, models.MigrationFailed, failed.Status)
	assert.Equal(t, "failed to migrate trustee 4: trustees-gateway [CONNECTION_FAILURE]: connection reset", failed.FailureMessage)
	require.NotNil(t, failed.LastTrusteeID)
	assert.Equal(t, int64(2), *failed.LastTrusteeID, "cursor stays on the last good page")
	assert.Equal(t, 2, failed.ProcessedCount)
	assert.Equal(t, 2, failed.AppointmentsProcessedCount)

	f.source.failFor = 0
	state, err := f.migrator.Run(context.Background(), "resume")
	require.NoError(t, err)

	assert.Equal(t, models.MigrationCompleted, state.Status)
	assert.Empty(t, state.FailureMessage)
	assert.Equal(t, 5, state.ProcessedCount)
	assert.Equal(t, int64(5), *state.LastTrusteeID)
	assert.Len(t, f.trustees.byID, 5)

	require.GreaterOrEqual(t, len(f.source.cursors), 3)
	resumedFrom := f.source.cursors[2]
	require.NotNil(t, resumedFrom)
	assert.Equal(t, int64(2), *resumedFrom, "resumed from the stored cursor")
}

func TestStateIsLazy(t *testing.T) {
	f := newFixture(t, 10)

	state, err := f.migrator.State(context.Background(), "fresh")
	require.NoError(t, err)

	assert.Equal(t, models.MigrationInProgress, state.Status)
	assert.Nil(t, state.LastTrusteeID)
	assert.Empty(t, f.states.states)
}

func TestFailureMessageCarriesNoDriverText(t *testing.T) {
	f := newFixture(t, 10)
	f.source.trustees = []models.LegacyTrustee{legacyTrustee(4, "Four")}
	f.source.failFor = 4
	f.source.failErr = gateways.Classify("trustees-gateway", fmt.Errorf("failed to query appointments: %w",
		&pgconn.PgError{Code: "42P01", Message: `relation "tbl_trustee_appts" does not exist`}))

	_, err := f.migrator.RunPage(context.Background(), "driver")
	require.Error(t, err)

	failed := f.states.states["driver"]
	assert.Equal(t, models.MigrationFailed, failed.Status)
	assert.Equal(t,
		"failed to migrate trustee 4: trustees-gateway [REQUEST_FAILURE]: query rejected by server (SQLSTATE 42P01)",
		failed.FailureMessage)
	assert.NotContains(t, failed.FailureMessage, "tbl_trustee_appts")

	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperr.KindMigrationFatal, appErr.Kind)
	assert.NotContains(t, appErr.Summary(), "tbl_trustee_appts")
}

func TestStaleSaveDoesNotOverwriteNewerState(t *testing.T) {
	f := newFixture(t, 2)
	for id := int64(1); id <= 5; id++ {
		f.source.trustees = append(f.source.trustees, legacyTrustee(id, fmt.Sprintf("T%d", id)))
		f.source.appointments[id] = []models.LegacyAppointment{appointment(id, "7", "panel", "active", int(id))}
	}

	// A second run completes the migration while the first is between
	// reading its state and saving its page.
	var newer *models.TrusteeMigrationState
	f.source.beforePage = func() {
		f.source.beforePage = nil
		var err error
		newer, err = f.migrator.Run(context.Background(), "race")
		require.NoError(t, err)
	}

	result, err := f.migrator.RunPage(context.Background(), "race")
	require.NoError(t, err)
	require.NotNil(t, newer)

	assert.True(t, result.Superseded)
	assert.False(t, result.HasMore)
	assert.Equal(t, models.MigrationCompleted, result.State.Status)

	stored := f.states.states["race"]
	assert.Equal(t, models.MigrationCompleted, stored.Status)
	require.NotNil(t, stored.LastTrusteeID)
	assert.Equal(t, int64(5), *stored.LastTrusteeID)
	assert.Equal(t, 5, stored.ProcessedCount)
	assert.Equal(t, 5, stored.AppointmentsProcessedCount)
	assert.Equal(t, int64(3), stored.Version, "one save per page of the newer run")
	assert.Equal(t, newer.Version, stored.Version)
	assert.Len(t, f.trustees.byID, 5)
}

func TestStaleFailureDoesNotOverwriteNewerState(t *testing.T) {
	f := newFixture(t, 10)
	f.source.trustees = []models.LegacyTrustee{legacyTrustee(1, "One"), legacyTrustee(2, "Two")}
	f.source.failFor = 2

	f.source.beforePage = func() {
		f.source.beforePage = nil
		f.source.failFor = 0
		_, err := f.migrator.Run(context.Background(), "late-failure")
		require.NoError(t, err)
		f.source.failFor = 2
	}

	_, err := f.migrator.RunPage(context.Background(), "late-failure")
	require.Error(t, err)
	assert.Equal(t, apperr.KindMigrationFatal, apperr.KindOf(err))
	assert.ErrorIs(t, err, &apperr.Error{Kind: apperr.KindConflict}, "the failed save lost to the newer run")

	stored := f.states.states["late-failure"]
	assert.Equal(t, models.MigrationCompleted, stored.Status)
	assert.Empty(t, stored.FailureMessage)
	assert.Equal(t, 2, stored.ProcessedCount)
}

func TestAppointmentCreateConflictAdoptsStoredRow(t *testing.T) {
	f := newFixture(t, 10)
	effective := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	later := appointment(9, "7", "panel", "active", 4)
	later.EffectiveDate = &effective
	f.source.trustees = []models.LegacyTrustee{legacyTrustee(9, "Nine")}
	f.source.appointments[9] = []models.LegacyAppointment{appointment(9, "7", "panel", "active", 4), later}

	// Another writer inserts the same appointment between the list and the create.
	concurrent := models.TrusteeAppointment{
		ID:              "concurrent",
		TrusteeID:       "id-001",
		Chapter:         "7",
		AppointmentType: "panel",
		CourtID:         "0208",
		DivisionCode:    "081",
		AppointedDate:   "2020-01-04",
		Status:          "inactive",
		LegacyStatus:    "resigned",
	}
	f.appointments.afterList = func() {
		f.appointments.afterList = nil
		f.appointments.byKey[concurrent.NaturalKey()] = concurrent
	}

	result, err := f.migrator.RunPage(context.Background(), "conflict")
	require.NoError(t, err)
	assert.Equal(t, 2, result.AppointmentsProcessed)

	require.Len(t, f.appointments.byKey, 1)
	stored := f.appointments.byKey[concurrent.NaturalKey()]
	assert.Equal(t, "concurrent", stored.ID, "the stored id is kept")
	assert.Equal(t, "active", stored.Status)
	assert.Equal(t, "2020-06-01", stored.EffectiveDate)
	assert.Equal(t, 2, f.appointments.updates)
}

func TestAppointmentUpdateOfMissingRowFails(t *testing.T) {
	f := newFixture(t, 10)

	_, err := f.migrator.updateAppointment(context.Background(),
		models.TrusteeAppointment{ID: "gone", TrusteeID: "id-404", Chapter: "7", Status: "inactive"},
		models.TrusteeAppointment{ID: "gone", TrusteeID: "id-404", Chapter: "7", Status: "active"})
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
}
