// Package ordersync extracts transfer and consolidation orders from the
// legacy order source and writes them to the document store.
package ordersync

import (
	"context"
	"fmt"
	"strconv"

	"github.com/casemirror/dataflow/common/apperr"
	"github.com/casemirror/dataflow/common/metrics"
	"github.com/casemirror/dataflow/common/models"
)

const module = "orders-sync"

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// OrderSource fetches the legacy rows of one order kind after a transaction id
type OrderSource interface {
	OrderSet(ctx context.Context, kind models.OrderType, sinceTxID int64) (*models.LegacyOrderSet, error)
}

// OrderStore persists orders; Create reports whether a row was written
type OrderStore interface {
	Create(ctx context.Context, order *models.Order) (bool, error)
}

// ApplyResult summarizes one applyPage call
type ApplyResult struct {
	Created     int      `json:"created"`
	Existing    int      `json:"existing"`
	LeadCaseIDs []string `json:"lead_case_ids"`
}

// Service runs order extraction and persistence
type Service struct {
	source  OrderSource
	store   OrderStore
	metrics *metrics.Metrics
	logger  Logger
}

// NewService creates an order sync service
func NewService(source OrderSource, store OrderStore, m *metrics.Metrics, logger Logger) *Service {
	return &Service{
		source:  source,
		store:   store,
		metrics: m,
		logger:  logger,
	}
}

// ParseTxID parses a transaction watermark. An empty string is zero.
func ParseTxID(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, apperr.New(apperr.KindValidation, module, fmt.Sprintf("invalid transaction id %q", s))
	}
	return id, nil
}

// GetNextPage reads every order of both kinds recorded after sinceTxID and
// maps them for the document store. It writes nothing. The returned MaxTxID
// is never lower than sinceTxID.
func (s *Service) GetNextPage(ctx context.Context, sinceTxID int64) (*models.OrderSyncResult, error) {
	transfers, transferMax, err := s.extract(ctx, models.OrderTypeTransfer, sinceTxID)
	if err != nil {
		return nil, err
	}

	consolidations, consolidationMax, err := s.extract(ctx, models.OrderTypeConsolidation, sinceTxID)
	if err != nil {
		return nil, err
	}

	result := &models.OrderSyncResult{
		Transfers:      transfers,
		Consolidations: consolidations,
		MaxTxID:        strconv.FormatInt(max(transferMax, consolidationMax), 10),
	}

	s.logger.Info("extracted orders",
		"since_tx_id", sinceTxID,
		"transfers", len(transfers),
		"consolidations", len(consolidations),
		"max_tx_id", result.MaxTxID)

	return result, nil
}

func (s *Service) extract(ctx context.Context, kind models.OrderType, sinceTxID int64) ([]models.Order, int64, error) {
	set, err := s.source.OrderSet(ctx, kind, sinceTxID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch %s orders: %w", kind, err)
	}

	s.metrics.RecordExtracted("orders", string(kind), len(set.Orders))

	badLabel := func(d models.LegacyDocument) {
		s.logger.Warn("document file name has no label components, using file name",
			"order_type", kind,
			"tx_id", d.TxID,
			"file_name", d.FileName)
		s.metrics.RecordSkipped("document_label", "data_shape")
	}
	orphan := func(d models.LegacyDocument) {
		s.logger.Debug("document without docket entry dropped",
			"order_type", kind,
			"tx_id", d.TxID,
			"file_name", d.FileName)
	}

	groups := mapEntries(set.Entries, set.Documents, badLabel, orphan)

	mapped := make([]mappedOrder, 0, len(set.Orders))
	for _, raw := range set.Orders {
		mapped = append(mapped, mapOrder(raw, kind, groups[raw.DxtrCaseID]))
	}

	return sortOrders(mapped), maxTxID(sinceTxID, set), nil
}

// ApplyPage writes every order of a page. Orders already present are left
// alone, so replaying a page is a no-op. Returns the distinct consolidation
// lead case ids for reconciliation.
func (s *Service) ApplyPage(ctx context.Context, page *models.OrderSyncResult) (*ApplyResult, error) {
	result := &ApplyResult{LeadCaseIDs: []string{}}
	seenLeads := make(map[string]bool)

	all := make([]models.Order, 0, len(page.Transfers)+len(page.Consolidations))
	all = append(all, page.Transfers...)
	all = append(all, page.Consolidations...)

	for i := range all {
		order := &all[i]
		if order.ID == "" {
			return nil, apperr.New(apperr.KindValidation, module, "order without id for case "+order.CaseID)
		}

		created, err := s.store.Create(ctx, order)
		if err != nil {
			return nil, fmt.Errorf("failed to write order %s: %w", order.ID, err)
		}
		if created {
			result.Created++
			s.metrics.RecordWritten("order", "create")
		} else {
			result.Existing++
		}

		if order.OrderType == models.OrderTypeConsolidation && !seenLeads[order.CaseID] {
			seenLeads[order.CaseID] = true
			result.LeadCaseIDs = append(result.LeadCaseIDs, order.CaseID)
		}
	}

	s.logger.Info("applied order page",
		"created", result.Created,
		"existing", result.Existing,
		"lead_cases", len(result.LeadCaseIDs))

	return result, nil
}
