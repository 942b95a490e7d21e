package gateways

import (
	"context"

	"github.com/casemirror/dataflow/common/models"
)

const trusteesModule = "trustees-gateway"

// TrusteesGateway reads the legacy trustee/appointment source
type TrusteesGateway struct {
	source *Source
}

// NewTrusteesGateway creates a trustees gateway
func NewTrusteesGateway(source *Source) *TrusteesGateway {
	return &TrusteesGateway{source: source}
}

// TrusteePage returns up to limit trustees ordered by legacy id, starting
// after afterID (nil starts from the beginning)
func (g *TrusteesGateway) TrusteePage(ctx context.Context, afterID *int64, limit int) ([]models.LegacyTrustee, error) {
	return Collect[models.LegacyTrustee](ctx, g.source, trusteesModule, `
		SELECT trustee_id, first_name, middle_name, last_name, company,
		       address1, address2, city, state, zip_code, phone, email
		FROM trustees
		WHERE $1::bigint IS NULL OR trustee_id > $1
		ORDER BY trustee_id
		LIMIT $2
	`, afterID, limit)
}

// Appointments returns every legacy appointment of one trustee
func (g *TrusteesGateway) Appointments(ctx context.Context, legacyTrusteeID int64) ([]models.LegacyAppointment, error) {
	return Collect[models.LegacyAppointment](ctx, g.source, trusteesModule, `
		SELECT trustee_id, district, group_designator, chapter, appointment_type,
		       status, appointed_date, effective_date
		FROM trustee_appointments
		WHERE trustee_id = $1
		ORDER BY appointed_date, district, chapter
	`, legacyTrusteeID)
}
