package models

import "time"

// CheckpointStatus is the lifecycle state of a sync checkpoint
type CheckpointStatus string

const (
	CheckpointInProgress CheckpointStatus = "IN_PROGRESS"
	CheckpointCompleted  CheckpointStatus = "COMPLETED"
	CheckpointFailed     CheckpointStatus = "FAILED"
)

// Well-known checkpoint sources
const (
	SourceOrdersSync       = "ORDERS_SYNC"
	SourceCasesSync        = "CASES_SYNC"    // case-level last update date
	SourceCasesTxSync      = "CASES_TX_SYNC" // terminal transaction date
	SourceTrusteeMigration = "TRUSTEE_MIGRATION"
)

// SyncCheckpoint is the watermark of one logical source.
// Maps to: sync_checkpoints table
type SyncCheckpoint struct {
	SourceName       string           `json:"source_name"`
	MaxTransactionID *int64           `json:"max_transaction_id,omitempty"`
	LastSyncDate     *time.Time       `json:"last_sync_date,omitempty"`
	Cursor           *string          `json:"cursor,omitempty"`
	Status           CheckpointStatus `json:"status"`
	UpdatedOn        time.Time        `json:"updated_on"`
}
