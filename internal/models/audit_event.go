package models

import (
	"net"
	"time"
)

// Audit event categories. The category drives the retention period.
const (
	CategorySecurity       = "security"
	CategoryCompliance     = "compliance"
	CategoryDataProcessing = "data_processing"
	CategoryOperational    = "operational"
	CategoryAdministrative = "administrative"
)

// Audit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// retentionDaysByCategory is the table behind RetentionPeriodDays.
// Security and compliance records are kept seven years.
var retentionDaysByCategory = map[string]int{
	CategorySecurity:       2555,
	CategoryCompliance:     2555,
	CategoryDataProcessing: 1095,
	CategoryAdministrative: 730,
	CategoryOperational:    365,
}

// RetentionPeriodDays returns how long records of a category must be kept
// before becoming eligible for the retention sweep. Unknown categories get
// the operational default.
func RetentionPeriodDays(category string) int {
	if days, ok := retentionDaysByCategory[category]; ok {
		return days
	}
	return retentionDaysByCategory[CategoryOperational]
}

// AuditEvent is the broad-scope compliance record: authentication,
// authorization, data modification, and configuration changes, with
// before/after state snapshots.
type AuditEvent struct {
	ID                     string            `db:"audit_id" json:"id"`
	Category               string            `db:"category" json:"category"`
	Action                 string            `db:"action" json:"action"`
	Severity               string            `db:"severity" json:"severity"`
	Outcome                string            `db:"outcome" json:"outcome"`
	UserID                 string            `db:"user_id" json:"user_id,omitempty"`
	ActorID                string            `db:"actor_id" json:"actor_id,omitempty"`
	ResourceType           string            `db:"resource_type" json:"resource_type,omitempty"`
	ResourceID             string            `db:"resource_id" json:"resource_id,omitempty"`
	IPAddress              net.IP            `db:"ip_address" json:"ip_address,omitempty"`
	Timestamp              time.Time         `db:"event_time" json:"timestamp"`
	ComplianceRequirements []string          `db:"compliance_requirements" json:"compliance_requirements,omitempty"`
	RetentionPeriodDays    int               `db:"retention_period_days" json:"retention_period_days"`
	BeforeState            map[string]string `db:"before_state" json:"before_state,omitempty"`
	AfterState             map[string]string `db:"after_state" json:"after_state,omitempty"`
}

// IsViolation reports whether the event counts as a compliance violation:
// a failed outcome on an action bound to at least one compliance requirement.
func (e *AuditEvent) IsViolation() bool {
	return e.Outcome == OutcomeFailure && len(e.ComplianceRequirements) > 0
}
