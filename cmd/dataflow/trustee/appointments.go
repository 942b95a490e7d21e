package trustee

import (
	"context"
	"fmt"
	"strings"

	"github.com/casemirror/dataflow/common/apperr"
	"github.com/casemirror/dataflow/common/models"
)

const dateLayout = "2006-01-02"

// legacyKey identifies an exact duplicate legacy record
func legacyKey(a models.LegacyAppointment) string {
	effective := ""
	if a.EffectiveDate != nil {
		effective = a.EffectiveDate.Format(dateLayout)
	}
	return strings.Join([]string{
		a.District,
		a.GroupDesignator,
		a.Chapter,
		a.AppointmentType,
		a.Status,
		a.AppointedDate.Format(dateLayout),
		effective,
	}, "|")
}

// reconcileAppointments upserts the legacy appointments of one trustee. It
// reports the outcome and whether any reconciled appointment is active.
// Invalid and duplicate records are skipped; a record that cannot be mapped
// is counted as an error and the rest continue. Store failures abort.
func (m *Migrator) reconcileAppointments(ctx context.Context, trustee *models.Trustee, records []models.LegacyAppointment) (trusteeOutcome, bool, error) {
	var outcome trusteeOutcome
	active := false

	stored, err := m.appointments.ListForTrustee(ctx, trustee.ID)
	if err != nil {
		return outcome, false, fmt.Errorf("failed to list appointments: %w", err)
	}
	byKey := make(map[models.AppointmentKey]models.TrusteeAppointment, len(stored))
	for _, a := range stored {
		byKey[a.NaturalKey()] = a
	}

	seen := make(map[string]bool, len(records))
	for _, record := range records {
		if err := m.rules.ValidateAppointment(record.Chapter, record.AppointmentType); err != nil {
			m.logger.Warn("skipping invalid appointment",
				"trustee_id", trustee.ID,
				"legacy_trustee_id", record.LegacyTrusteeID,
				"chapter", record.Chapter,
				"appointment_type", record.AppointmentType,
				"reason", err)
			m.metrics.RecordSkipped("appointment", "validation")
			continue
		}

		key := legacyKey(record)
		if seen[key] {
			m.logger.Debug("skipping duplicate appointment", "legacy_trustee_id", record.LegacyTrusteeID, "key", key)
			m.metrics.RecordSkipped("appointment", "duplicate")
			continue
		}
		seen[key] = true

		appointment, err := m.toAppointment(trustee.ID, record)
		if err != nil {
			m.logger.Error("failed to transform appointment",
				"trustee_id", trustee.ID,
				"legacy_trustee_id", record.LegacyTrusteeID,
				"district", record.District,
				"group_designator", record.GroupDesignator,
				"error", err)
			m.metrics.RecordSkipped("appointment", "data_shape")
			outcome.errors++
			continue
		}

		current, exists := byKey[appointment.NaturalKey()]
		if exists {
			if appointment, err = m.updateAppointment(ctx, current, appointment); err != nil {
				return outcome, false, err
			}
		} else {
			appointment.ID = m.newID()
			appointment.CreatedOn = appointment.UpdatedOn
			created, err := m.appointments.Create(ctx, &appointment)
			if err != nil {
				return outcome, false, fmt.Errorf("failed to create appointment: %w", err)
			}
			if created {
				m.metrics.RecordWritten("appointment", "create")
			} else if appointment, err = m.adoptStoredAppointment(ctx, appointment); err != nil {
				return outcome, false, err
			}
		}
		byKey[appointment.NaturalKey()] = appointment

		outcome.appointments++
		if m.rules.IsActiveStatus(record.Status) {
			active = true
		}
	}

	return outcome, active, nil
}

// adoptStoredAppointment handles a Create that lost to another insert of the
// same natural key. The stored row is read back and next is applied to it,
// so the returned appointment always carries a stored id.
func (m *Migrator) adoptStoredAppointment(ctx context.Context, next models.TrusteeAppointment) (models.TrusteeAppointment, error) {
	stored, err := m.appointments.ListForTrustee(ctx, next.TrusteeID)
	if err != nil {
		return next, fmt.Errorf("failed to reload appointments: %w", err)
	}
	key := next.NaturalKey()
	for _, a := range stored {
		if a.NaturalKey() == key {
			m.logger.Debug("appointment created concurrently, adopting stored row",
				"trustee_id", next.TrusteeID,
				"appointment_id", a.ID,
				"chapter", key.Chapter,
				"division_code", key.DivisionCode,
				"appointed_date", key.AppointedDate)
			return m.updateAppointment(ctx, a, next)
		}
	}
	return next, apperr.NotFound(module, fmt.Sprintf("appointment of trustee %s on %s not found after create conflict",
		next.TrusteeID, key.AppointedDate))
}

// updateAppointment writes next over current only when a field the legacy
// source owns changed, and returns the stored appointment
func (m *Migrator) updateAppointment(ctx context.Context, current, next models.TrusteeAppointment) (models.TrusteeAppointment, error) {
	if current.AppointmentType == next.AppointmentType &&
		current.CourtID == next.CourtID &&
		current.Status == next.Status &&
		current.LegacyStatus == next.LegacyStatus &&
		current.EffectiveDate == next.EffectiveDate {
		return current, nil
	}

	current.AppointmentType = next.AppointmentType
	current.CourtID = next.CourtID
	current.Status = next.Status
	current.LegacyStatus = next.LegacyStatus
	current.EffectiveDate = next.EffectiveDate
	current.UpdatedOn = next.UpdatedOn

	if err := m.appointments.Update(ctx, &current); err != nil {
		return current, fmt.Errorf("failed to update appointment %s: %w", current.ID, err)
	}
	m.metrics.RecordWritten("appointment", "update")
	return current, nil
}

func (m *Migrator) toAppointment(trusteeID string, record models.LegacyAppointment) (models.TrusteeAppointment, error) {
	division, err := m.rules.MapDivision(record.District, record.GroupDesignator)
	if err != nil {
		return models.TrusteeAppointment{}, err
	}

	status := "inactive"
	if m.rules.IsActiveStatus(record.Status) {
		status = "active"
	}

	a := models.TrusteeAppointment{
		TrusteeID:       trusteeID,
		Chapter:         strings.ToLower(strings.TrimSpace(record.Chapter)),
		AppointmentType: strings.ToLower(strings.TrimSpace(record.AppointmentType)),
		CourtID:         division.CourtID,
		DivisionCode:    division.DivisionCode,
		AppointedDate:   record.AppointedDate.Format(dateLayout),
		Status:          status,
		LegacyStatus:    record.Status,
		UpdatedOn:       m.now(),
	}
	if record.EffectiveDate != nil {
		a.EffectiveDate = record.EffectiveDate.Format(dateLayout)
	}
	return a, nil
}
