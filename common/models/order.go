package models

import "time"

// OrderType distinguishes the two kinds of legacy orders
type OrderType string

const (
	OrderTypeTransfer      OrderType = "transfer"
	OrderTypeConsolidation OrderType = "consolidation"
)

// OrderStatus is the review state of a synced order
type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderApproved OrderStatus = "approved"
	OrderRejected OrderStatus = "rejected"
)

// DocketDocument is a file attached to a docket entry
type DocketDocument struct {
	FileURI   string `json:"file_uri"`
	FileSize  int64  `json:"file_size"`
	FileLabel string `json:"file_label"`
	FileExt   string `json:"file_ext,omitempty"`
}

// DocketEntry is one line of a case docket
type DocketEntry struct {
	SequenceNumber int              `json:"sequence_number"`
	DocumentNumber *int             `json:"document_number,omitempty"`
	DateFiled      time.Time        `json:"date_filed"`
	Summary        string           `json:"summary"`
	FullText       string           `json:"full_text"`
	Documents      []DocketDocument `json:"documents,omitempty"`
}

// Order is a transfer or consolidation order ready to be written to the
// document store. Legacy-only fields never appear here.
type Order struct {
	ID                        string        `json:"id"`
	CaseID                    string        `json:"case_id"`
	CaseTitle                 string        `json:"case_title"`
	Chapter                   string        `json:"chapter"`
	CourtName                 string        `json:"court_name"`
	CourtDivisionCode         string        `json:"court_division_code"`
	CourtDivisionName         string        `json:"court_division_name"`
	RegionID                  string        `json:"region_id"`
	OrderType                 OrderType     `json:"order_type"`
	OrderDate                 time.Time     `json:"order_date"`
	Status                    OrderStatus   `json:"status"`
	DocketEntries             []DocketEntry `json:"docket_entries"`
	DocketSuggestedCaseNumber string        `json:"docket_suggested_case_number,omitempty"`
}

// OrderSyncResult is one extraction cycle's output. MaxTxID is a string
// because the legacy id space is wider than 32 bits.
type OrderSyncResult struct {
	Transfers      []Order `json:"transfers"`
	Consolidations []Order `json:"consolidations"`
	MaxTxID        string  `json:"max_tx_id"`
}

// LegacyOrder is an order header row as read from the order source
type LegacyOrder struct {
	TxID              int64     `db:"tx_id"`
	DxtrCaseID        string    `db:"dxtr_case_id"`
	CaseID            string    `db:"case_id"`
	CaseTitle         string    `db:"case_title"`
	Chapter           string    `db:"chapter"`
	CourtName         string    `db:"court_name"`
	CourtDivisionCode string    `db:"court_division_code"`
	CourtDivisionName string    `db:"court_division_name"`
	RegionID          string    `db:"region_id"`
	OrderDate         time.Time `db:"order_date"`
	RawRec            string    `db:"raw_rec"`
}

// LegacyDocketEntry is a docket entry row for an order transaction window
type LegacyDocketEntry struct {
	TxID           int64     `db:"tx_id"`
	DxtrCaseID     string    `db:"dxtr_case_id"`
	SequenceNumber int       `db:"sequence_number"`
	DocumentNumber *int      `db:"document_number"`
	DateFiled      time.Time `db:"date_filed"`
	Summary        string    `db:"summary"`
	FullText       string    `db:"full_text"`
}

// LegacyDocument is a document metadata row. It belongs to exactly one
// docket entry, identified by its transaction id.
type LegacyDocument struct {
	TxID           int64  `db:"tx_id"`
	DxtrCaseID     string `db:"dxtr_case_id"`
	SequenceNumber int    `db:"sequence_number"`
	FileName       string `db:"file_name"`
	FileSize       int64  `db:"file_size"`
	URI            string `db:"uri"`
}

// LegacyOrderSet is the three aligned sets fetched for one order kind
type LegacyOrderSet struct {
	Orders    []LegacyOrder
	Entries   []LegacyDocketEntry
	Documents []LegacyDocument
}
