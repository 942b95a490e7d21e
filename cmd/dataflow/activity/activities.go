package activity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/casemirror/dataflow/cmd/dataflow/casesync"
	"github.com/casemirror/dataflow/cmd/dataflow/changes"
	"github.com/casemirror/dataflow/cmd/dataflow/consolidation"
	"github.com/casemirror/dataflow/cmd/dataflow/ordersync"
	"github.com/casemirror/dataflow/cmd/dataflow/trustee"
	"github.com/casemirror/dataflow/common/apperr"
	"github.com/casemirror/dataflow/common/models"
)

// Activity names
const (
	OrdersGetNextPage         = "orders.getNextPage"
	OrdersApplyPage           = "orders.applyPage"
	OrdersAdvanceCheckpoint   = "orders.advanceCheckpoint"
	CasesGetUpdatedCaseIDs    = "cases.getUpdatedCaseIds"
	CasesFindTransactionRange = "cases.findTransactionRange"
	CasesLoadCases            = "cases.loadCases"
	CasesAdvanceCheckpoint    = "cases.advanceCheckpoint"
	ConsolidationsReconcile   = "consolidations.reconcile"
	ConsolidationsReconcileN  = "consolidations.reconcileMany"
	TrusteesMigratePage       = "trustees.migratePage"
	TrusteesMigrationState    = "trustees.migrationState"
)

// Checkpoints reads and advances sync watermarks
type Checkpoints interface {
	Get(ctx context.Context, sourceName string) (*models.SyncCheckpoint, error)
	Advance(ctx context.Context, candidate models.SyncCheckpoint) (*models.SyncCheckpoint, error)
}

// OrderSync extracts and writes orders
type OrderSync interface {
	GetNextPage(ctx context.Context, sinceTxID int64) (*models.OrderSyncResult, error)
	ApplyPage(ctx context.Context, page *models.OrderSyncResult) (*ordersync.ApplyResult, error)
}

// ChangeDetector finds changed cases
type ChangeDetector interface {
	FindTransactionRange(ctx context.Context, findDate time.Time) (*changes.TransactionRange, error)
	UpdatedCaseIDs(ctx context.Context, casesSince, transactionsSince time.Time) (*changes.UpdatedCaseIDs, error)
}

// CaseLoader copies changed cases into the document store
type CaseLoader interface {
	LoadCases(ctx context.Context, caseIDs []string) *casesync.LoadResult
}

// Reconciler reconciles one consolidation
type Reconciler interface {
	Reconcile(ctx context.Context, leadCaseID string) (*consolidation.Result, error)
}

// TrusteeMigrator runs the trustee migration
type TrusteeMigrator interface {
	RunPage(ctx context.Context, migrationID string) (*trustee.PageResult, error)
	State(ctx context.Context, migrationID string) (*models.TrusteeMigrationState, error)
}

// Services are the engines behind the activities
type Services struct {
	Checkpoints        Checkpoints
	Orders             OrderSync
	Changes            ChangeDetector
	Cases              CaseLoader
	Consolidations     Reconciler
	Trustees           TrusteeMigrator
	FanOutConcurrency  int
	DefaultMigrationID string
}

// Activity inputs
type (
	OrdersPageInput struct {
		MaxTxID string `json:"max_tx_id"`
	}

	UpdatedCasesInput struct {
		LastCasesSyncDate        *time.Time `json:"last_cases_sync_date"`
		LastTransactionsSyncDate *time.Time `json:"last_transactions_sync_date"`
	}

	TransactionRangeInput struct {
		FindDate string `json:"find_date"`
	}

	LoadCasesInput struct {
		CaseIDs []string `json:"case_ids"`
	}

	CasesCheckpointInput struct {
		LatestCasesSyncDate        *time.Time `json:"latest_cases_sync_date"`
		LatestTransactionsSyncDate *time.Time `json:"latest_transactions_sync_date"`
	}

	ReconcileInput struct {
		LeadCaseID string `json:"lead_case_id"`
	}

	ReconcileManyInput struct {
		LeadCaseIDs []string `json:"lead_case_ids"`
	}

	MigrationInput struct {
		MigrationID string `json:"migration_id"`
	}
)

// Register adds every sync activity to the registry
func Register(r *Registry, s Services) {
	r.Register(OrdersGetNextPage, s.ordersGetNextPage)
	r.Register(OrdersApplyPage, s.ordersApplyPage)
	r.Register(OrdersAdvanceCheckpoint, s.ordersAdvanceCheckpoint)
	r.Register(CasesGetUpdatedCaseIDs, s.casesGetUpdatedCaseIDs)
	r.Register(CasesFindTransactionRange, s.casesFindTransactionRange)
	r.Register(CasesLoadCases, s.casesLoadCases)
	r.Register(CasesAdvanceCheckpoint, s.casesAdvanceCheckpoint)
	r.Register(ConsolidationsReconcile, s.consolidationsReconcile)
	r.Register(ConsolidationsReconcileN, func(ctx context.Context, input json.RawMessage) (any, error) {
		return s.consolidationsReconcileMany(ctx, input, r)
	})
	r.Register(TrusteesMigratePage, s.trusteesMigratePage)
	r.Register(TrusteesMigrationState, s.trusteesMigrationState)
}

// ordersGetNextPage reads from the given watermark, or from the stored
// checkpoint when none is given
func (s Services) ordersGetNextPage(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decode[OrdersPageInput](input)
	if err != nil {
		return nil, err
	}

	since, err := ordersync.ParseTxID(in.MaxTxID)
	if err != nil {
		return nil, err
	}
	if in.MaxTxID == "" {
		cp, err := s.Checkpoints.Get(ctx, models.SourceOrdersSync)
		if err != nil {
			return nil, err
		}
		if cp.MaxTransactionID != nil {
			since = *cp.MaxTransactionID
		}
	}

	return s.Orders.GetNextPage(ctx, since)
}

func (s Services) ordersApplyPage(ctx context.Context, input json.RawMessage) (any, error) {
	page, err := decode[models.OrderSyncResult](input)
	if err != nil {
		return nil, err
	}
	return s.Orders.ApplyPage(ctx, &page)
}

func (s Services) ordersAdvanceCheckpoint(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decode[OrdersPageInput](input)
	if err != nil {
		return nil, err
	}
	if in.MaxTxID == "" {
		return nil, apperr.New(apperr.KindValidation, module, "max_tx_id is required")
	}

	id, err := ordersync.ParseTxID(in.MaxTxID)
	if err != nil {
		return nil, err
	}

	return s.Checkpoints.Advance(ctx, models.SyncCheckpoint{
		SourceName:       models.SourceOrdersSync,
		MaxTransactionID: &id,
	})
}

func (s Services) casesGetUpdatedCaseIDs(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decode[UpdatedCasesInput](input)
	if err != nil {
		return nil, err
	}

	casesSince, err := s.syncDate(ctx, models.SourceCasesSync, in.LastCasesSyncDate)
	if err != nil {
		return nil, err
	}
	transactionsSince, err := s.syncDate(ctx, models.SourceCasesTxSync, in.LastTransactionsSyncDate)
	if err != nil {
		return nil, err
	}

	return s.Changes.UpdatedCaseIDs(ctx, casesSince, transactionsSince)
}

// syncDate returns the explicit date, or the stored checkpoint date
func (s Services) syncDate(ctx context.Context, source string, explicit *time.Time) (time.Time, error) {
	if explicit != nil {
		return *explicit, nil
	}
	cp, err := s.Checkpoints.Get(ctx, source)
	if err != nil {
		return time.Time{}, err
	}
	if cp.LastSyncDate == nil {
		return time.Time{}, nil
	}
	return *cp.LastSyncDate, nil
}

func (s Services) casesFindTransactionRange(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decode[TransactionRangeInput](input)
	if err != nil {
		return nil, err
	}

	date, err := time.Parse(changes.DateLayout, in.FindDate)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, module, "find_date must be YYYY-MM-DD", err)
	}

	return s.Changes.FindTransactionRange(ctx, date)
}

func (s Services) casesLoadCases(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decode[LoadCasesInput](input)
	if err != nil {
		return nil, err
	}
	return s.Cases.LoadCases(ctx, in.CaseIDs), nil
}

func (s Services) casesAdvanceCheckpoint(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decode[CasesCheckpointInput](input)
	if err != nil {
		return nil, err
	}
	if in.LatestCasesSyncDate == nil && in.LatestTransactionsSyncDate == nil {
		return nil, apperr.New(apperr.KindValidation, module, "at least one sync date is required")
	}

	saved := make(map[string]*models.SyncCheckpoint, 2)
	for source, date := range map[string]*time.Time{
		models.SourceCasesSync:   in.LatestCasesSyncDate,
		models.SourceCasesTxSync: in.LatestTransactionsSyncDate,
	} {
		if date == nil {
			continue
		}
		cp, err := s.Checkpoints.Advance(ctx, models.SyncCheckpoint{
			SourceName:   source,
			LastSyncDate: date,
		})
		if err != nil {
			return nil, err
		}
		saved[source] = cp
	}

	return saved, nil
}

func (s Services) consolidationsReconcile(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decode[ReconcileInput](input)
	if err != nil {
		return nil, err
	}
	return s.Consolidations.Reconcile(ctx, in.LeadCaseID)
}

// consolidationsReconcileMany reconciles every lead case in parallel. A
// failing lead case is reported in its own result only.
func (s Services) consolidationsReconcileMany(ctx context.Context, input json.RawMessage, r *Registry) (any, error) {
	in, err := decode[ReconcileManyInput](input)
	if err != nil {
		return nil, err
	}

	results := FanOut(ctx, ConsolidationsReconcileN, s.FanOutConcurrency, dedupe(in.LeadCaseIDs), s.Consolidations.Reconcile, r)
	return Summarize(results), nil
}

func (s Services) trusteesMigratePage(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decode[MigrationInput](input)
	if err != nil {
		return nil, err
	}
	return s.Trustees.RunPage(ctx, s.migrationID(in))
}

func (s Services) trusteesMigrationState(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decode[MigrationInput](input)
	if err != nil {
		return nil, err
	}
	return s.Trustees.State(ctx, s.migrationID(in))
}

func (s Services) migrationID(in MigrationInput) string {
	if in.MigrationID != "" {
		return in.MigrationID
	}
	if s.DefaultMigrationID != "" {
		return s.DefaultMigrationID
	}
	return models.SourceTrusteeMigration
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
