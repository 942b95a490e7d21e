package models

import "time"

// CaseSummary is the slice of a legacy case the engine embeds into links,
// history snapshots and synced case documents
type CaseSummary struct {
	// Application case id: "<division code>-<yy-nnnnn>"
	CaseID string `db:"case_id" json:"case_id"`

	CaseNumber        string     `db:"case_number" json:"case_number"`
	CaseTitle         string     `db:"case_title" json:"case_title"`
	Chapter           string     `db:"chapter" json:"chapter"`
	CourtID           string     `db:"court_id" json:"court_id"`
	CourtName         string     `db:"court_name" json:"court_name"`
	CourtDivisionCode string     `db:"court_division_code" json:"court_division_code"`
	CourtDivisionName string     `db:"court_division_name" json:"court_division_name"`
	RegionID          string     `db:"region_id" json:"region_id"`
	DateFiled         *time.Time `db:"date_filed" json:"date_filed,omitempty"`
}

// SyncedCase is the document-store copy of a legacy case, including the
// terminal dates that the blind-spot query protects
type SyncedCase struct {
	CaseSummary

	ClosedDate    *time.Time `db:"closed_date" json:"closed_date,omitempty"`
	DismissedDate *time.Time `db:"dismissed_date" json:"dismissed_date,omitempty"`
	ReopenedDate  *time.Time `db:"reopened_date" json:"reopened_date,omitempty"`
	TransferDate  *time.Time `db:"transfer_date" json:"transfer_date,omitempty"`

	SyncedOn time.Time `db:"-" json:"synced_on"`
}

// CaseChange is one row of a change stream: a case id and the timestamp
// that put it in the stream
type CaseChange struct {
	CaseID    string    `db:"case_id" json:"case_id"`
	ChangedAt time.Time `db:"changed_at" json:"changed_at"`
}

// TransactionRef is a transaction id and its calendar date
type TransactionRef struct {
	ID   int64     `db:"tx_id" json:"tx_id"`
	Date time.Time `db:"tx_date" json:"tx_date"`
}

// TransactionBounds are the global min and max transactions of a source
type TransactionBounds struct {
	Min TransactionRef `json:"min"`
	Max TransactionRef `json:"max"`
}

// UserReference identifies who performed a write
type UserReference struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SystemUser is the actor recorded on every write made by the sync engine
var SystemUser = UserReference{
	ID:   "SYSTEM",
	Name: "Legacy Data Sync",
}
