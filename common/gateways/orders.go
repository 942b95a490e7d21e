package gateways

import (
	"context"
	"fmt"

	"github.com/casemirror/dataflow/common/models"
)

const ordersModule = "orders-gateway"

// Transaction codes that mark an order of each kind
var orderTxCodes = map[models.OrderType][]string{
	models.OrderTypeTransfer:      {"CTO"},
	models.OrderTypeConsolidation: {"CJA", "CSC"},
}

// OrdersGateway reads transfer and consolidation orders from the legacy order source
type OrdersGateway struct {
	source *Source
}

// NewOrdersGateway creates an orders gateway
func NewOrdersGateway(source *Source) *OrdersGateway {
	return &OrdersGateway{source: source}
}

// OrderSet fetches order headers, docket entries and documents for one
// order kind, for transactions after sinceTxID
func (g *OrdersGateway) OrderSet(ctx context.Context, kind models.OrderType, sinceTxID int64) (*models.LegacyOrderSet, error) {
	codes, ok := orderTxCodes[kind]
	if !ok {
		return nil, fmt.Errorf("unknown order type: %s", kind)
	}

	orders, err := Collect[models.LegacyOrder](ctx, g.source, ordersModule, `
		SELECT t.tx_id, c.cs_case_id AS dxtr_case_id, c.case_id, c.case_title, c.chapter,
		       c.court_name, c.court_division_code, c.court_division_name, c.region_id,
		       t.tx_date AS order_date, t.raw_rec
		FROM transactions t
		JOIN cases c ON c.cs_case_id = t.cs_case_id AND c.court_id = t.court_id
		WHERE t.tx_code = ANY($1)
		  AND t.tx_id > $2
		ORDER BY t.tx_id
	`, codes, sinceTxID)
	if err != nil {
		return nil, err
	}

	entries, err := Collect[models.LegacyDocketEntry](ctx, g.source, ordersModule, `
		SELECT t.tx_id, de.cs_case_id AS dxtr_case_id, de.de_seqno AS sequence_number,
		       de.document_number, de.date_filed, de.summary, de.full_text
		FROM transactions t
		JOIN docket_entries de
		  ON de.cs_case_id = t.cs_case_id AND de.court_id = t.court_id AND de.de_seqno = t.de_seqno
		WHERE t.tx_code = ANY($1)
		  AND t.tx_id > $2
		ORDER BY t.tx_id
	`, codes, sinceTxID)
	if err != nil {
		return nil, err
	}

	documents, err := Collect[models.LegacyDocument](ctx, g.source, ordersModule, `
		SELECT t.tx_id, d.cs_case_id AS dxtr_case_id, d.de_seqno AS sequence_number,
		       d.file_name, d.file_size, d.uri
		FROM transactions t
		JOIN docket_documents d
		  ON d.cs_case_id = t.cs_case_id AND d.court_id = t.court_id AND d.de_seqno = t.de_seqno
		WHERE t.tx_code = ANY($1)
		  AND t.tx_id > $2
		ORDER BY t.tx_id, d.file_name
	`, codes, sinceTxID)
	if err != nil {
		return nil, err
	}

	return &models.LegacyOrderSet{
		Orders:    orders,
		Entries:   entries,
		Documents: documents,
	}, nil
}

// Consolidation returns the legacy membership of a lead case. A lead case
// with no members yields an empty membership, not an error.
func (g *OrdersGateway) Consolidation(ctx context.Context, leadCaseID string) (*models.LegacyConsolidation, error) {
	members, err := Collect[models.ConsolidationMember](ctx, g.source, ordersModule, `
		SELECT member_case_id, consolidation_date, consolidation_type
		FROM consolidated_cases
		WHERE lead_case_id = $1
		ORDER BY consolidation_date, member_case_id
	`, leadCaseID)
	if err != nil {
		return nil, err
	}

	return &models.LegacyConsolidation{
		LeadCaseID:  leadCaseID,
		MemberCases: members,
	}, nil
}
