package gateways

import (
	"context"
	"encoding/json"
	"time"

	"github.com/casemirror/dataflow/common/cache"
	"github.com/casemirror/dataflow/common/models"
)

const casesModule = "cases-gateway"

// Transaction codes that move a case into or out of a terminal state:
// closed by court, dismissed by court, reopened, transferred out.
var terminalTxCodes = []string{"CBC", "CDC", "OCO", "CTO"}

// CasesGateway reads the legacy case/transaction source
type CasesGateway struct {
	source   *Source
	cache    cache.Cache
	cacheTTL time.Duration
}

// NewCasesGateway creates a cases gateway. cache may be nil.
func NewCasesGateway(source *Source, c cache.Cache, cacheTTL time.Duration) *CasesGateway {
	return &CasesGateway{
		source:   source,
		cache:    c,
		cacheTTL: cacheTTL,
	}
}

// TransactionBounds returns the first and last transactions of the source
func (g *CasesGateway) TransactionBounds(ctx context.Context) (*models.TransactionBounds, error) {
	minRef, err := CollectOne[models.TransactionRef](ctx, g.source, casesModule, `
		SELECT tx_id, tx_date::date AS tx_date
		FROM transactions
		ORDER BY tx_id ASC
		LIMIT 1
	`, "first transaction")
	if err != nil {
		return nil, err
	}

	maxRef, err := CollectOne[models.TransactionRef](ctx, g.source, casesModule, `
		SELECT tx_id, tx_date::date AS tx_date
		FROM transactions
		ORDER BY tx_id DESC
		LIMIT 1
	`, "last transaction")
	if err != nil {
		return nil, err
	}

	return &models.TransactionBounds{Min: *minRef, Max: *maxRef}, nil
}

// FirstAtOrAfter returns the first existing transaction with id >= id
func (g *CasesGateway) FirstAtOrAfter(ctx context.Context, id int64) (*models.TransactionRef, error) {
	return CollectOne[models.TransactionRef](ctx, g.source, casesModule, `
		SELECT tx_id, tx_date::date AS tx_date
		FROM transactions
		WHERE tx_id >= $1
		ORDER BY tx_id ASC
		LIMIT 1
	`, "transaction", id)
}

// LastAtOrBefore returns the last existing transaction with id <= id
func (g *CasesGateway) LastAtOrBefore(ctx context.Context, id int64) (*models.TransactionRef, error) {
	return CollectOne[models.TransactionRef](ctx, g.source, casesModule, `
		SELECT tx_id, tx_date::date AS tx_date
		FROM transactions
		WHERE tx_id <= $1
		ORDER BY tx_id DESC
		LIMIT 1
	`, "transaction", id)
}

// UpdatedCases returns cases whose own last-update timestamp is after since
func (g *CasesGateway) UpdatedCases(ctx context.Context, since time.Time) ([]models.CaseChange, error) {
	return Collect[models.CaseChange](ctx, g.source, casesModule, `
		SELECT case_id, last_update_date AS changed_at
		FROM cases
		WHERE last_update_date > $1
		ORDER BY last_update_date, case_id
	`, since)
}

// TerminalTransactions returns cases with a terminal transaction after since
func (g *CasesGateway) TerminalTransactions(ctx context.Context, since time.Time) ([]models.CaseChange, error) {
	return Collect[models.CaseChange](ctx, g.source, casesModule, `
		SELECT c.case_id, t.tx_date AS changed_at
		FROM transactions t
		JOIN cases c ON c.cs_case_id = t.cs_case_id AND c.court_id = t.court_id
		WHERE t.tx_code = ANY($1)
		  AND t.tx_date > $2
		ORDER BY t.tx_date, c.case_id
	`, terminalTxCodes, since)
}

// BlindSpotCases returns cases whose terminal transaction is later than the
// case's own last update, for transactions after cutoff. These are missed
// by UpdatedCases because the legacy source does not bump the case row.
func (g *CasesGateway) BlindSpotCases(ctx context.Context, cutoff time.Time) ([]string, error) {
	type row struct {
		CaseID string `db:"case_id"`
	}

	rows, err := Collect[row](ctx, g.source, casesModule, `
		SELECT DISTINCT c.case_id
		FROM transactions t
		JOIN cases c ON c.cs_case_id = t.cs_case_id AND c.court_id = t.court_id
		WHERE t.tx_code = ANY($1)
		  AND t.tx_date > $2
		  AND t.tx_date > c.last_update_date
		ORDER BY c.case_id
	`, terminalTxCodes, cutoff)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.CaseID)
	}
	return ids, nil
}

// CaseSummary returns the summary of one case, served from cache when possible
func (g *CasesGateway) CaseSummary(ctx context.Context, caseID string) (*models.CaseSummary, error) {
	key := "case-summary:" + caseID

	if g.cache != nil {
		if data, ok, err := g.cache.Get(ctx, key); err == nil && ok {
			var summary models.CaseSummary
			if err := json.Unmarshal(data, &summary); err == nil {
				return &summary, nil
			}
		}
	}

	summary, err := CollectOne[models.CaseSummary](ctx, g.source, casesModule, `
		SELECT case_id, case_number, case_title, chapter, court_id, court_name,
		       court_division_code, court_division_name, region_id, date_filed
		FROM cases
		WHERE case_id = $1
	`, "case "+caseID, caseID)
	if err != nil {
		return nil, err
	}

	if g.cache != nil {
		if data, err := json.Marshal(summary); err == nil {
			_ = g.cache.Set(ctx, key, data, g.cacheTTL)
		}
	}

	return summary, nil
}

// SyncedCase returns the case summary plus its latest terminal dates
func (g *CasesGateway) SyncedCase(ctx context.Context, caseID string) (*models.SyncedCase, error) {
	synced, err := CollectOne[models.SyncedCase](ctx, g.source, casesModule, `
		SELECT c.case_id, c.case_number, c.case_title, c.chapter, c.court_id, c.court_name,
		       c.court_division_code, c.court_division_name, c.region_id, c.date_filed,
		       MAX(CASE WHEN t.tx_code = 'CBC' THEN t.tx_date END) AS closed_date,
		       MAX(CASE WHEN t.tx_code = 'CDC' THEN t.tx_date END) AS dismissed_date,
		       MAX(CASE WHEN t.tx_code = 'OCO' THEN t.tx_date END) AS reopened_date,
		       MAX(CASE WHEN t.tx_code = 'CTO' THEN t.tx_date END) AS transfer_date
		FROM cases c
		LEFT JOIN transactions t ON t.cs_case_id = c.cs_case_id AND t.court_id = c.court_id
		WHERE c.case_id = $1
		GROUP BY c.case_id, c.case_number, c.case_title, c.chapter, c.court_id, c.court_name,
		         c.court_division_code, c.court_division_name, c.region_id, c.date_filed
	`, "case "+caseID, caseID)
	if err != nil {
		return nil, err
	}
	return synced, nil
}
