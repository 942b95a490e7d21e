// Package consolidation reconciles legacy consolidation membership into
// links and audit history in the document store.
package consolidation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/casemirror/dataflow/common/apperr"
	"github.com/casemirror/dataflow/common/metrics"
	"github.com/casemirror/dataflow/common/models"
	"github.com/casemirror/dataflow/common/repository"
	"github.com/google/uuid"
)

const module = "consolidation-reconciler"

// linkNamespace scopes deterministic link and history ids
var linkNamespace = uuid.MustParse("b3e0a7c2-51d4-4e8f-a6a1-0d9c4f7e2b18")

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// MembershipSource reads consolidation membership from the legacy order source
type MembershipSource interface {
	Consolidation(ctx context.Context, leadCaseID string) (*models.LegacyConsolidation, error)
}

// CaseSummaries resolves case summaries for embedding into links
type CaseSummaries interface {
	CaseSummary(ctx context.Context, caseID string) (*models.CaseSummary, error)
}

// LinkStore reads and writes links and history
type LinkStore interface {
	Links(ctx context.Context, caseID, documentType string) ([]models.ConsolidationLink, error)
	Apply(ctx context.Context, links []models.ConsolidationLink, history []models.CaseConsolidationHistory) (*repository.ApplyResult, error)
}

// Result reports what one reconciliation did
type Result struct {
	LeadCaseID     string   `json:"lead_case_id"`
	NewMembers     []string `json:"new_members"`
	AlreadyLinked  int      `json:"already_linked"`
	LinksCreated   int      `json:"links_created"`
	HistoryCreated int      `json:"history_created"`
}

// Reconciler runs consolidation reconciliation for lead cases
type Reconciler struct {
	members   MembershipSource
	summaries CaseSummaries
	store     LinkStore
	metrics   *metrics.Metrics
	logger    Logger
	now       func() time.Time
}

// NewReconciler creates a reconciler
func NewReconciler(members MembershipSource, summaries CaseSummaries, store LinkStore, m *metrics.Metrics, logger Logger) *Reconciler {
	return &Reconciler{
		members:   members,
		summaries: summaries,
		store:     store,
		metrics:   m,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile links every legacy member of leadCaseID that is not linked yet
// and writes the audit history for them. Members already linked are
// skipped entirely, so a second run over unchanged legacy data writes
// nothing.
func (r *Reconciler) Reconcile(ctx context.Context, leadCaseID string) (*Result, error) {
	if leadCaseID == "" {
		return nil, apperr.New(apperr.KindValidation, module, "lead case id is required")
	}

	result := &Result{LeadCaseID: leadCaseID, NewMembers: []string{}}

	membership, err := r.members.Consolidation(ctx, leadCaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get membership of %s: %w", leadCaseID, err)
	}

	existing, err := r.store.Links(ctx, leadCaseID, models.DocumentConsolidationFrom)
	if err != nil {
		return nil, fmt.Errorf("failed to get links of %s: %w", leadCaseID, err)
	}

	linked := make(map[string]bool, len(existing))
	for _, link := range existing {
		linked[link.OtherCase.CaseID] = true
	}

	var fresh []models.ConsolidationMember
	for _, member := range earliestMembers(leadCaseID, membership.MemberCases) {
		if linked[member.CaseID] {
			result.AlreadyLinked++
			continue
		}
		fresh = append(fresh, member)
		result.NewMembers = append(result.NewMembers, member.CaseID)
	}

	if len(fresh) == 0 {
		r.logger.Debug("consolidation already reconciled",
			"lead_case_id", leadCaseID,
			"linked", result.AlreadyLinked)
		return result, nil
	}

	lead, err := r.summary(ctx, leadCaseID)
	if err != nil {
		return nil, err
	}

	summaries := make(map[string]models.CaseSummary, len(fresh))
	for _, member := range fresh {
		s, err := r.summary(ctx, member.CaseID)
		if err != nil {
			return nil, err
		}
		summaries[member.CaseID] = *s
	}

	now := r.now()
	links := buildLinks(*lead, fresh, summaries, now)
	history := buildHistory(*lead, existing, fresh, summaries, now)

	applied, err := r.store.Apply(ctx, links, history)
	if err != nil {
		return nil, fmt.Errorf("failed to write consolidation of %s: %w", leadCaseID, err)
	}

	result.LinksCreated = applied.LinksCreated
	result.HistoryCreated = applied.HistoryCreated
	for i := 0; i < applied.LinksCreated; i++ {
		r.metrics.RecordWritten("consolidation_link", "create")
	}
	for i := 0; i < applied.HistoryCreated; i++ {
		r.metrics.RecordWritten("consolidation_history", "create")
	}

	r.logger.Info("reconciled consolidation",
		"lead_case_id", leadCaseID,
		"new_members", len(fresh),
		"already_linked", result.AlreadyLinked,
		"links_created", result.LinksCreated,
		"history_created", result.HistoryCreated)

	return result, nil
}

// summary loads a case summary. A case the source no longer knows falls
// back to a summary carrying only its id.
func (r *Reconciler) summary(ctx context.Context, caseID string) (*models.CaseSummary, error) {
	s, err := r.summaries.CaseSummary(ctx, caseID)
	if err == nil {
		return s, nil
	}
	if apperr.IsNotFound(err) {
		r.logger.Warn("case summary not found, linking by id only", "case_id", caseID)
		r.metrics.RecordSkipped("case_summary", "not_found")
		return &models.CaseSummary{CaseID: caseID}, nil
	}
	return nil, fmt.Errorf("failed to get summary of %s: %w", caseID, err)
}

// earliestMembers keeps one record per member case, the one with the
// earliest consolidation date, and drops the lead case itself. The result
// is ordered by date, then case id.
func earliestMembers(leadCaseID string, members []models.ConsolidationMember) []models.ConsolidationMember {
	byCase := make(map[string]models.ConsolidationMember, len(members))
	for _, m := range members {
		if m.CaseID == leadCaseID || m.CaseID == "" {
			continue
		}
		if seen, ok := byCase[m.CaseID]; !ok || m.ConsolidationDate.Before(seen.ConsolidationDate) {
			byCase[m.CaseID] = m
		}
	}

	out := make([]models.ConsolidationMember, 0, len(byCase))
	for _, m := range byCase {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConsolidationDate.Equal(out[j].ConsolidationDate) {
			return out[i].ConsolidationDate.Before(out[j].ConsolidationDate)
		}
		return out[i].CaseID < out[j].CaseID
	})
	return out
}

// LinkID derives the id of one direction of a lead/member link
func LinkID(caseID, otherCaseID, documentType string) string {
	return uuid.NewSHA1(linkNamespace, []byte(caseID+"|"+otherCaseID+"|"+documentType)).String()
}

func buildLinks(lead models.CaseSummary, members []models.ConsolidationMember, summaries map[string]models.CaseSummary, now time.Time) []models.ConsolidationLink {
	links := make([]models.ConsolidationLink, 0, 2*len(members))
	for _, m := range members {
		links = append(links,
			models.ConsolidationLink{
				ID:                LinkID(lead.CaseID, m.CaseID, models.DocumentConsolidationFrom),
				DocumentType:      models.DocumentConsolidationFrom,
				CaseID:            lead.CaseID,
				OtherCase:         summaries[m.CaseID],
				ConsolidationType: m.ConsolidationType,
				OrderDate:         m.ConsolidationDate,
				UpdatedBy:         models.SystemUser,
				UpdatedOn:         now,
			},
			models.ConsolidationLink{
				ID:                LinkID(m.CaseID, lead.CaseID, models.DocumentConsolidationTo),
				DocumentType:      models.DocumentConsolidationTo,
				CaseID:            m.CaseID,
				OtherCase:         lead,
				ConsolidationType: m.ConsolidationType,
				OrderDate:         m.ConsolidationDate,
				UpdatedBy:         models.SystemUser,
				UpdatedOn:         now,
			},
		)
	}
	return links
}

// buildHistory replays the new members date by date on top of the
// membership that is already linked. Each date emits one record per case
// involved as of that date: the lead and every cumulative member.
func buildHistory(lead models.CaseSummary, existing []models.ConsolidationLink, members []models.ConsolidationMember, summaries map[string]models.CaseSummary, now time.Time) []models.CaseConsolidationHistory {
	cumulative := make([]models.CaseSummary, 0, len(existing)+len(members))
	for _, link := range existing {
		cumulative = append(cumulative, link.OtherCase)
	}

	var before *models.ConsolidationSnapshot
	if len(cumulative) > 0 {
		before = snapshot(lead, cumulative, existing[0].ConsolidationType)
	}

	var history []models.CaseConsolidationHistory
	for _, group := range groupByDate(members) {
		for _, m := range group {
			cumulative = append(cumulative, summaries[m.CaseID])
		}
		after := snapshot(lead, cumulative, group[0].ConsolidationType)
		key := historyKey(lead.CaseID, group[0].ConsolidationDate, cumulative)

		involved := append([]string{lead.CaseID}, caseIDs(cumulative)...)
		for _, caseID := range involved {
			history = append(history, models.CaseConsolidationHistory{
				ID:           uuid.NewSHA1(linkNamespace, []byte(key+"|"+caseID)).String(),
				DocumentType: models.DocumentAuditConsolidation,
				CaseID:       caseID,
				Before:       before,
				After:        *after,
				UpdatedOn:    now,
				UpdatedBy:    models.SystemUser,
			})
		}
		before = after
	}

	return history
}

// groupByDate splits members already sorted by date into calendar-day groups
func groupByDate(members []models.ConsolidationMember) [][]models.ConsolidationMember {
	var groups [][]models.ConsolidationMember
	var current string
	for _, m := range members {
		day := m.ConsolidationDate.UTC().Format("2006-01-02")
		if len(groups) == 0 || day != current {
			groups = append(groups, nil)
			current = day
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], m)
	}
	return groups
}

func snapshot(lead models.CaseSummary, members []models.CaseSummary, kind models.ConsolidationType) *models.ConsolidationSnapshot {
	copied := make([]models.CaseSummary, len(members))
	copy(copied, members)
	return &models.ConsolidationSnapshot{
		LeadCase:          lead,
		MemberCases:       copied,
		ConsolidationType: kind,
		Status:            models.OrderApproved,
	}
}

// historyKey identifies one membership state of a lead case
func historyKey(leadCaseID string, date time.Time, members []models.CaseSummary) string {
	ids := caseIDs(members)
	sort.Strings(ids)
	return leadCaseID + "|" + date.UTC().Format("2006-01-02") + "|" + strings.Join(ids, ",")
}

func caseIDs(summaries []models.CaseSummary) []string {
	ids := make([]string, 0, len(summaries))
	for _, s := range summaries {
		ids = append(ids, s.CaseID)
	}
	return ids
}
