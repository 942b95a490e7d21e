package trustee

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/casemirror/dataflow/common/apperr"
	"github.com/casemirror/dataflow/common/models"
	jsonpatch "github.com/evanphx/json-patch/v5"
)

// profile is the part of a trustee owned by the legacy source
type profile struct {
	Name    string                    `json:"name"`
	Company string                    `json:"company,omitempty"`
	Public  models.ContactInformation `json:"public"`
}

func profileFromLegacy(legacy *models.LegacyTrustee) profile {
	var names []string
	for _, n := range []string{legacy.FirstName, legacy.MiddleName, legacy.LastName} {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}

	return profile{
		Name:    strings.Join(names, " "),
		Company: strings.TrimSpace(legacy.Company),
		Public: models.ContactInformation{
			Address1: legacy.Address1,
			Address2: legacy.Address2,
			City:     legacy.City,
			State:    legacy.State,
			ZipCode:  legacy.ZipCode,
			Phone:    legacy.Phone,
			Email:    legacy.Email,
		},
	}
}

func profileOf(t *models.Trustee) profile {
	return profile{Name: t.Name, Company: t.Company, Public: t.Public}
}

type trusteeOutcome struct {
	appointments int
	errors       int
}

func (m *Migrator) migrateTrustee(ctx context.Context, legacy *models.LegacyTrustee) (trusteeOutcome, error) {
	trustee, err := m.upsertTrustee(ctx, legacy)
	if err != nil {
		return trusteeOutcome{}, err
	}

	records, err := m.source.Appointments(ctx, legacy.LegacyID)
	if err != nil {
		return trusteeOutcome{}, fmt.Errorf("failed to fetch appointments: %w", err)
	}
	m.metrics.RecordExtracted("trustees", "appointment", len(records))

	outcome, active, err := m.reconcileAppointments(ctx, trustee, records)
	if err != nil {
		return trusteeOutcome{}, err
	}

	status := models.TrusteeNotActive
	if active {
		status = models.TrusteeActive
	}
	if trustee.Status != status {
		trustee.Status = status
		trustee.UpdatedOn = m.now()
		trustee.UpdatedBy = models.SystemUser
		if err := m.trustees.Update(ctx, trustee); err != nil {
			return trusteeOutcome{}, fmt.Errorf("failed to update trustee status: %w", err)
		}
		m.metrics.RecordWritten("trustee", "status")
	}

	return outcome, nil
}

// upsertTrustee creates the trustee for a legacy id or applies the legacy
// profile onto the existing document as a JSON merge patch, keeping its id
// and every field the legacy source does not own
func (m *Migrator) upsertTrustee(ctx context.Context, legacy *models.LegacyTrustee) (*models.Trustee, error) {
	desired := profileFromLegacy(legacy)

	existing, err := m.trustees.FindByLegacyID(ctx, legacy.LegacyID)
	if err != nil && !apperr.IsNotFound(err) {
		return nil, fmt.Errorf("failed to look up trustee: %w", err)
	}

	if existing == nil {
		now := m.now()
		created, err := m.trustees.Create(ctx, &models.Trustee{
			ID:              m.newID(),
			LegacyTrusteeID: legacy.LegacyID,
			Name:            desired.Name,
			Company:         desired.Company,
			Public:          desired.Public,
			Status:          models.TrusteeActive,
			CreatedOn:       now,
			CreatedBy:       models.SystemUser,
			UpdatedOn:       now,
			UpdatedBy:       models.SystemUser,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create trustee: %w", err)
		}
		m.metrics.RecordWritten("trustee", "create")
		return created, nil
	}

	patch, err := profilePatch(profileOf(existing), desired)
	if err != nil {
		return nil, err
	}
	if patch == nil {
		return existing, nil
	}

	updated, err := applyPatch(existing, patch)
	if err != nil {
		return nil, err
	}
	updated.UpdatedOn = m.now()
	updated.UpdatedBy = models.SystemUser

	if err := m.trustees.Update(ctx, updated); err != nil {
		return nil, fmt.Errorf("failed to update trustee: %w", err)
	}
	m.metrics.RecordWritten("trustee", "update")
	m.logger.Debug("updated trustee", "trustee_id", updated.ID, "patch", string(patch))

	return updated, nil
}

// profilePatch returns the merge patch turning current into desired, or nil
// when they are equal
func profilePatch(current, desired profile) ([]byte, error) {
	original, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("failed to encode trustee profile: %w", err)
	}
	modified, err := json.Marshal(desired)
	if err != nil {
		return nil, fmt.Errorf("failed to encode trustee profile: %w", err)
	}

	if jsonpatch.Equal(original, modified) {
		return nil, nil
	}

	patch, err := jsonpatch.CreateMergePatch(original, modified)
	if err != nil {
		return nil, fmt.Errorf("failed to diff trustee profile: %w", err)
	}
	return patch, nil
}

func applyPatch(t *models.Trustee, patch []byte) (*models.Trustee, error) {
	doc, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode trustee: %w", err)
	}

	merged, err := jsonpatch.MergePatch(doc, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to apply trustee patch: %w", err)
	}

	updated := &models.Trustee{}
	if err := json.Unmarshal(merged, updated); err != nil {
		return nil, fmt.Errorf("failed to decode patched trustee: %w", err)
	}
	return updated, nil
}
