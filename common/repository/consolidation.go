package repository

import (
	"context"
	"encoding/json"

	"github.com/casemirror/dataflow/common/db"
	"github.com/casemirror/dataflow/common/models"
	"github.com/jackc/pgx/v5"
)

// ConsolidationRepository stores consolidation links and their audit history
type ConsolidationRepository struct {
	db *db.DB
}

// NewConsolidationRepository creates a new consolidation repository
func NewConsolidationRepository(database *db.DB) *ConsolidationRepository {
	return &ConsolidationRepository{db: database}
}

// ApplyResult counts the rows an Apply call actually wrote
type ApplyResult struct {
	LinksCreated   int `json:"links_created"`
	HistoryCreated int `json:"history_created"`
}

// Links returns the links of one case with the given document type
func (r *ConsolidationRepository) Links(ctx context.Context, caseID, documentType string) ([]models.ConsolidationLink, error) {
	rows, err := r.db.Query(ctx, `
		SELECT doc
		FROM consolidation_links
		WHERE case_id = $1 AND document_type = $2
		ORDER BY other_case_id
	`, caseID, documentType)
	if err != nil {
		return nil, storeError("list links of "+caseID, err)
	}

	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, storeError("scan links of "+caseID, err)
	}

	links := make([]models.ConsolidationLink, 0, len(docs))
	for _, doc := range docs {
		var link models.ConsolidationLink
		if err := json.Unmarshal(doc, &link); err != nil {
			return nil, storeError("decode link of "+caseID, err)
		}
		links = append(links, link)
	}

	return links, nil
}

// Apply writes links and history records in a single transaction. Rows
// that already exist are left untouched, so replaying the same input is a
// no-op.
func (r *ConsolidationRepository) Apply(ctx context.Context, links []models.ConsolidationLink, history []models.CaseConsolidationHistory) (*ApplyResult, error) {
	result := &ApplyResult{}
	if len(links) == 0 && len(history) == 0 {
		return result, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, storeError("begin consolidation transaction", err)
	}
	defer tx.Rollback(ctx)

	for i := range links {
		link := &links[i]
		doc, err := json.Marshal(link)
		if err != nil {
			return nil, storeError("encode link "+link.ID, err)
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO consolidation_links (id, case_id, other_case_id, document_type, doc)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT DO NOTHING
		`, link.ID, link.CaseID, link.OtherCase.CaseID, link.DocumentType, doc)
		if err != nil {
			return nil, storeError("create link "+link.ID, err)
		}
		result.LinksCreated += int(tag.RowsAffected())
	}

	for i := range history {
		record := &history[i]
		doc, err := json.Marshal(record)
		if err != nil {
			return nil, storeError("encode history "+record.ID, err)
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO consolidation_history (id, case_id, doc, updated_on)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING
		`, record.ID, record.CaseID, doc, record.UpdatedOn)
		if err != nil {
			return nil, storeError("create history "+record.ID, err)
		}
		result.HistoryCreated += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeError("commit consolidation transaction", err)
	}

	return result, nil
}
