package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/casemirror/dataflow/common/apperr"
	"github.com/casemirror/dataflow/common/db"
	"github.com/casemirror/dataflow/common/models"
)

// SyncedCaseRepository stores the document-store copy of legacy cases
type SyncedCaseRepository struct {
	db *db.DB
}

// NewSyncedCaseRepository creates a new synced case repository
func NewSyncedCaseRepository(database *db.DB) *SyncedCaseRepository {
	return &SyncedCaseRepository{db: database}
}

// Upsert replaces the stored copy of a case
func (r *SyncedCaseRepository) Upsert(ctx context.Context, c *models.SyncedCase) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return storeError("encode case "+c.CaseID, err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO synced_cases (case_id, doc, synced_on)
		VALUES ($1, $2, $3)
		ON CONFLICT (case_id) DO UPDATE SET doc = EXCLUDED.doc, synced_on = EXCLUDED.synced_on
	`, c.CaseID, doc, c.SyncedOn)
	if err != nil {
		return storeError("upsert case "+c.CaseID, err)
	}

	return nil
}

// OrderRepository stores synced transfer and consolidation orders
type OrderRepository struct {
	db *db.DB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(database *db.DB) *OrderRepository {
	return &OrderRepository{db: database}
}

// Create inserts an order unless one with the same id exists. Reports
// whether a row was written.
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) (bool, error) {
	doc, err := json.Marshal(order)
	if err != nil {
		return false, storeError("encode order "+order.ID, err)
	}

	tag, err := r.db.Exec(ctx, `
		INSERT INTO orders (id, case_id, order_type, order_date, doc, created_on)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, order.ID, order.CaseID, string(order.OrderType), order.OrderDate, doc, time.Now().UTC())
	if err != nil {
		return false, storeError("create order "+order.ID, err)
	}

	return tag.RowsAffected() == 1, nil
}

// MigrationStateRepository stores trustee migration progress
type MigrationStateRepository struct {
	db *db.DB
}

// NewMigrationStateRepository creates a new migration state repository
func NewMigrationStateRepository(database *db.DB) *MigrationStateRepository {
	return &MigrationStateRepository{db: database}
}

// Get returns the state of a migration run, or a NotFound error
func (r *MigrationStateRepository) Get(ctx context.Context, id string) (*models.TrusteeMigrationState, error) {
	var doc []byte
	var version int64
	if err := r.db.QueryRow(ctx, `
		SELECT doc, version FROM trustee_migration_state WHERE id = $1
	`, id).Scan(&doc, &version); err != nil {
		return nil, storeError("get migration state "+id, err)
	}

	state := &models.TrusteeMigrationState{}
	if err := json.Unmarshal(doc, state); err != nil {
		return nil, storeError("decode migration state "+id, err)
	}
	state.Version = version
	return state, nil
}

// Save writes the full migration state if the stored row is still at
// state.Version, then advances state.Version. A state read before another
// save landed gets a KindConflict error and the stored row is untouched.
func (r *MigrationStateRepository) Save(ctx context.Context, state *models.TrusteeMigrationState) error {
	expected := state.Version
	next := *state
	next.Version = expected + 1

	doc, err := json.Marshal(&next)
	if err != nil {
		return storeError("encode migration state "+state.ID, err)
	}

	tag, err := r.db.Exec(ctx, `
		INSERT INTO trustee_migration_state (id, doc, version, updated_on)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET doc = EXCLUDED.doc, version = EXCLUDED.version, updated_on = EXCLUDED.updated_on
		WHERE trustee_migration_state.version = $5
	`, state.ID, doc, next.Version, state.LastUpdatedAt, expected)
	if err != nil {
		return storeError("save migration state "+state.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindConflict, storeModule,
			fmt.Sprintf("migration state %s changed since version %d", state.ID, expected))
	}

	state.Version = next.Version
	return nil
}
