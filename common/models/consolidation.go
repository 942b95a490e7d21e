package models

import "time"

// ConsolidationType is the legal kind of consolidation
type ConsolidationType string

const (
	ConsolidationSubstantive    ConsolidationType = "substantive"
	ConsolidationAdministrative ConsolidationType = "administrative"
)

// Consolidation document types. FROM lives on the lead case, TO on each member.
const (
	DocumentConsolidationFrom  = "CONSOLIDATION_FROM"
	DocumentConsolidationTo    = "CONSOLIDATION_TO"
	DocumentAuditConsolidation = "AUDIT_CONSOLIDATION"
)

// ConsolidationLink is one direction of a lead/member pair.
// Unique on (case_id, other_case.case_id, document_type).
type ConsolidationLink struct {
	ID                string            `json:"id"`
	DocumentType      string            `json:"document_type"`
	CaseID            string            `json:"case_id"`
	OtherCase         CaseSummary       `json:"other_case"`
	ConsolidationType ConsolidationType `json:"consolidation_type"`
	OrderDate         time.Time         `json:"order_date"`
	UpdatedBy         UserReference     `json:"updated_by"`
	UpdatedOn         time.Time         `json:"updated_on"`
}

// ConsolidationMember is a member case as recorded by the legacy source
type ConsolidationMember struct {
	CaseID            string            `db:"member_case_id" json:"case_id"`
	ConsolidationDate time.Time         `db:"consolidation_date" json:"consolidation_date"`
	ConsolidationType ConsolidationType `db:"consolidation_type" json:"consolidation_type"`
}

// LegacyConsolidation is the membership of one lead case
type LegacyConsolidation struct {
	LeadCaseID  string                `json:"lead_case_id"`
	MemberCases []ConsolidationMember `json:"member_cases"`
}

// ConsolidationSnapshot is the cumulative membership at a point in time
type ConsolidationSnapshot struct {
	LeadCase          CaseSummary       `json:"lead_case"`
	MemberCases       []CaseSummary     `json:"member_cases"`
	ConsolidationType ConsolidationType `json:"consolidation_type"`
	Status            OrderStatus       `json:"status"`
}

// CaseConsolidationHistory is an audit record for one case at one
// consolidation date. Before is nil when no membership existed.
type CaseConsolidationHistory struct {
	ID           string                 `json:"id"`
	DocumentType string                 `json:"document_type"`
	CaseID       string                 `json:"case_id"`
	Before       *ConsolidationSnapshot `json:"before"`
	After        ConsolidationSnapshot  `json:"after"`
	UpdatedOn    time.Time              `json:"updated_on"`
	UpdatedBy    UserReference          `json:"updated_by"`
}
