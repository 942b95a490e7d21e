package models

import "time"

// TrusteeStatus is derived from a trustee's appointments
type TrusteeStatus string

const (
	TrusteeActive    TrusteeStatus = "active"
	TrusteeNotActive TrusteeStatus = "not active"
)

// MigrationStatus is the state of a trustee migration run
type MigrationStatus string

const (
	MigrationInProgress MigrationStatus = "IN_PROGRESS"
	MigrationCompleted  MigrationStatus = "COMPLETED"
	MigrationFailed     MigrationStatus = "FAILED"
)

// ContactInformation is a trustee's public contact block
type ContactInformation struct {
	Address1 string `json:"address1,omitempty"`
	Address2 string `json:"address2,omitempty"`
	City     string `json:"city,omitempty"`
	State    string `json:"state,omitempty"`
	ZipCode  string `json:"zip_code,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Trustee is the document-store trustee. ID is generated; LegacyTrusteeID
// points back to the legacy numeric id and is unique.
type Trustee struct {
	ID              string             `json:"id"`
	LegacyTrusteeID int64              `json:"legacy_trustee_id"`
	Name            string             `json:"name"`
	Company         string             `json:"company,omitempty"`
	Public          ContactInformation `json:"public"`
	Status          TrusteeStatus      `json:"status"`
	CreatedOn       time.Time          `json:"created_on"`
	CreatedBy       UserReference      `json:"created_by"`
	UpdatedOn       time.Time          `json:"updated_on"`
	UpdatedBy       UserReference      `json:"updated_by"`
}

// TrusteeAppointment is keyed for upsert by
// (trustee_id, chapter, division_code, appointed_date)
type TrusteeAppointment struct {
	ID              string    `json:"id"`
	TrusteeID       string    `json:"trustee_id"`
	Chapter         string    `json:"chapter"`
	AppointmentType string    `json:"appointment_type"`
	CourtID         string    `json:"court_id"`
	DivisionCode    string    `json:"division_code"`
	AppointedDate   string    `json:"appointed_date"` // YYYY-MM-DD
	Status          string    `json:"status"`
	LegacyStatus    string    `json:"legacy_status"`
	EffectiveDate   string    `json:"effective_date,omitempty"`
	CreatedOn       time.Time `json:"created_on"`
	UpdatedOn       time.Time `json:"updated_on"`
}

// NaturalKey returns the upsert identity of the appointment
func (a TrusteeAppointment) NaturalKey() AppointmentKey {
	return AppointmentKey{
		TrusteeID:     a.TrusteeID,
		Chapter:       a.Chapter,
		DivisionCode:  a.DivisionCode,
		AppointedDate: a.AppointedDate,
	}
}

// AppointmentKey is the natural key of a trustee appointment
type AppointmentKey struct {
	TrusteeID     string
	Chapter       string
	DivisionCode  string
	AppointedDate string
}

// LegacyTrustee is a trustee row from the legacy trustee source
type LegacyTrustee struct {
	LegacyID   int64  `db:"trustee_id"`
	FirstName  string `db:"first_name"`
	MiddleName string `db:"middle_name"`
	LastName   string `db:"last_name"`
	Company    string `db:"company"`
	Address1   string `db:"address1"`
	Address2   string `db:"address2"`
	City       string `db:"city"`
	State      string `db:"state"`
	ZipCode    string `db:"zip_code"`
	Phone      string `db:"phone"`
	Email      string `db:"email"`
}

// LegacyAppointment is an appointment row from the legacy trustee source
type LegacyAppointment struct {
	LegacyTrusteeID int64      `db:"trustee_id"`
	District        string     `db:"district"`
	GroupDesignator string     `db:"group_designator"`
	Chapter         string     `db:"chapter"`
	AppointmentType string     `db:"appointment_type"`
	Status          string     `db:"status"`
	AppointedDate   time.Time  `db:"appointed_date"`
	EffectiveDate   *time.Time `db:"effective_date"`
}

// TrusteeMigrationState tracks a resumable migration run
type TrusteeMigrationState struct {
	ID                         string          `json:"id"`
	LastTrusteeID              *int64          `json:"last_trustee_id"`
	ProcessedCount             int             `json:"processed_count"`
	AppointmentsProcessedCount int             `json:"appointments_processed_count"`
	Errors                     int             `json:"errors"`
	Status                     MigrationStatus `json:"status"`
	FailureMessage             string          `json:"failure_message,omitempty"`
	StartedAt                  time.Time       `json:"started_at"`
	LastUpdatedAt              time.Time       `json:"last_updated_at"`
	DivisionMappingVersion     string          `json:"division_mapping_version"`
	Version                    int64           `json:"version"`
}
