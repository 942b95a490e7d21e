package repository

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/casemirror/dataflow/common/db"
	"github.com/casemirror/dataflow/common/models"
	"github.com/jackc/pgx/v5"
)

// TrusteeRepository stores migrated trustees
type TrusteeRepository struct {
	db *db.DB
}

// NewTrusteeRepository creates a new trustee repository
func NewTrusteeRepository(database *db.DB) *TrusteeRepository {
	return &TrusteeRepository{db: database}
}

// FindByLegacyID returns the trustee migrated from a legacy id, or a
// NotFound error
func (r *TrusteeRepository) FindByLegacyID(ctx context.Context, legacyID int64) (*models.Trustee, error) {
	var doc []byte
	err := r.db.QueryRow(ctx, `SELECT doc FROM trustees WHERE legacy_trustee_id = $1`, legacyID).Scan(&doc)
	if err != nil {
		return nil, storeError("find trustee by legacy id "+strconv.FormatInt(legacyID, 10), err)
	}

	trustee := &models.Trustee{}
	if err := json.Unmarshal(doc, trustee); err != nil {
		return nil, storeError("decode trustee", err)
	}
	return trustee, nil
}

// Create inserts a trustee. If another writer already created one for the
// same legacy id, that trustee is returned instead.
func (r *TrusteeRepository) Create(ctx context.Context, trustee *models.Trustee) (*models.Trustee, error) {
	doc, err := json.Marshal(trustee)
	if err != nil {
		return nil, storeError("encode trustee", err)
	}

	var stored []byte
	err = r.db.QueryRow(ctx, `
		INSERT INTO trustees (id, legacy_trustee_id, doc, updated_on)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (legacy_trustee_id) DO UPDATE SET legacy_trustee_id = trustees.legacy_trustee_id
		RETURNING doc
	`, trustee.ID, trustee.LegacyTrusteeID, doc, trustee.UpdatedOn).Scan(&stored)
	if err != nil {
		return nil, storeError("create trustee", err)
	}

	saved := &models.Trustee{}
	if err := json.Unmarshal(stored, saved); err != nil {
		return nil, storeError("decode trustee", err)
	}
	return saved, nil
}

// Update replaces a trustee document in place
func (r *TrusteeRepository) Update(ctx context.Context, trustee *models.Trustee) error {
	doc, err := json.Marshal(trustee)
	if err != nil {
		return storeError("encode trustee "+trustee.ID, err)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE trustees SET doc = $2, updated_on = $3 WHERE id = $1
	`, trustee.ID, doc, trustee.UpdatedOn)
	if err != nil {
		return storeError("update trustee "+trustee.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return storeError("update trustee "+trustee.ID, pgx.ErrNoRows)
	}

	return nil
}

// AppointmentRepository stores migrated trustee appointments
type AppointmentRepository struct {
	db *db.DB
}

// NewAppointmentRepository creates a new appointment repository
func NewAppointmentRepository(database *db.DB) *AppointmentRepository {
	return &AppointmentRepository{db: database}
}

// ListForTrustee returns every stored appointment of a trustee
func (r *AppointmentRepository) ListForTrustee(ctx context.Context, trusteeID string) ([]models.TrusteeAppointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT doc
		FROM trustee_appointments
		WHERE trustee_id = $1
		ORDER BY appointed_date, chapter, division_code
	`, trusteeID)
	if err != nil {
		return nil, storeError("list appointments of "+trusteeID, err)
	}

	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, storeError("scan appointments of "+trusteeID, err)
	}

	appointments := make([]models.TrusteeAppointment, 0, len(docs))
	for _, doc := range docs {
		var a models.TrusteeAppointment
		if err := json.Unmarshal(doc, &a); err != nil {
			return nil, storeError("decode appointment of "+trusteeID, err)
		}
		appointments = append(appointments, a)
	}

	return appointments, nil
}

// Create inserts an appointment. A row with the same natural key is left
// as is; the boolean reports whether a row was written.
func (r *AppointmentRepository) Create(ctx context.Context, a *models.TrusteeAppointment) (bool, error) {
	doc, err := json.Marshal(a)
	if err != nil {
		return false, storeError("encode appointment", err)
	}

	tag, err := r.db.Exec(ctx, `
		INSERT INTO trustee_appointments (id, trustee_id, chapter, division_code, appointed_date, doc, updated_on)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (trustee_id, chapter, division_code, appointed_date) DO NOTHING
	`, a.ID, a.TrusteeID, a.Chapter, a.DivisionCode, a.AppointedDate, doc, a.UpdatedOn)
	if err != nil {
		return false, storeError("create appointment", err)
	}

	return tag.RowsAffected() == 1, nil
}

// Update replaces an appointment document in place, or returns a NotFound
// error when no row has a.ID
func (r *AppointmentRepository) Update(ctx context.Context, a *models.TrusteeAppointment) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return storeError("encode appointment "+a.ID, err)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE trustee_appointments SET doc = $2, updated_on = $3 WHERE id = $1
	`, a.ID, doc, a.UpdatedOn)
	if err != nil {
		return storeError("update appointment "+a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return storeError("update appointment "+a.ID, pgx.ErrNoRows)
	}

	return nil
}
