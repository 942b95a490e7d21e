// Package repository is the document store: one JSONB document per row,
// with the natural-key columns lifted out so uniqueness and monotonic
// updates are enforced by Postgres.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/casemirror/dataflow/common/apperr"
	"github.com/casemirror/dataflow/common/db"
	"github.com/casemirror/dataflow/common/gateways"
	"github.com/jackc/pgx/v5"
)

const storeModule = "document-store"

// Schema creates every document-store table. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS sync_checkpoints (
	source_name        TEXT PRIMARY KEY,
	max_transaction_id BIGINT,
	last_sync_date     TIMESTAMPTZ,
	sync_cursor        TEXT,
	status             TEXT NOT NULL,
	updated_on         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS synced_cases (
	case_id   TEXT PRIMARY KEY,
	doc       JSONB NOT NULL,
	synced_on TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	id         TEXT PRIMARY KEY,
	case_id    TEXT NOT NULL,
	order_type TEXT NOT NULL,
	order_date TIMESTAMPTZ NOT NULL,
	doc        JSONB NOT NULL,
	created_on TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_case_id_idx ON orders (case_id);

CREATE TABLE IF NOT EXISTS consolidation_links (
	id            TEXT PRIMARY KEY,
	case_id       TEXT NOT NULL,
	other_case_id TEXT NOT NULL,
	document_type TEXT NOT NULL,
	doc           JSONB NOT NULL,
	UNIQUE (case_id, other_case_id, document_type)
);

CREATE TABLE IF NOT EXISTS consolidation_history (
	id         TEXT PRIMARY KEY,
	case_id    TEXT NOT NULL,
	doc        JSONB NOT NULL,
	updated_on TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS consolidation_history_case_id_idx ON consolidation_history (case_id);

CREATE TABLE IF NOT EXISTS trustees (
	id                TEXT PRIMARY KEY,
	legacy_trustee_id BIGINT NOT NULL UNIQUE,
	doc               JSONB NOT NULL,
	updated_on        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS trustee_appointments (
	id             TEXT PRIMARY KEY,
	trustee_id     TEXT NOT NULL,
	chapter        TEXT NOT NULL,
	division_code  TEXT NOT NULL,
	appointed_date TEXT NOT NULL,
	doc            JSONB NOT NULL,
	updated_on     TIMESTAMPTZ NOT NULL,
	UNIQUE (trustee_id, chapter, division_code, appointed_date)
);

CREATE TABLE IF NOT EXISTS trustee_migration_state (
	id         TEXT PRIMARY KEY,
	doc        JSONB NOT NULL,
	version    BIGINT NOT NULL DEFAULT 0,
	updated_on TIMESTAMPTZ NOT NULL
);

ALTER TABLE trustee_migration_state ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 0;
`

// ApplySchema creates the document-store tables. Used as the bootstrap DB
// init hook.
func ApplySchema(database *db.DB) error {
	if _, err := database.Exec(context.Background(), Schema); err != nil {
		return fmt.Errorf("failed to apply document store schema: %w", err)
	}
	return nil
}

// storeError classifies a document-store failure. A missing row becomes
// KindNotFound so callers can tell "absent" from "broken".
func storeError(action string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(storeModule, action+": not found")
	}
	return gateways.Classify(storeModule, fmt.Errorf("failed to %s: %w", action, err))
}
