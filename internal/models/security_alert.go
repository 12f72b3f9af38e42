package models

import "time"

// Severity levels shared by events, alerts, and findings.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Alert lifecycle statuses.
const (
	AlertOpen          = "open"
	AlertAcknowledged  = "acknowledged"
	AlertInvestigating = "investigating"
	AlertResolved      = "resolved"
	AlertSuppressed    = "suppressed"
)

// SecurityAlert aggregates pattern matches from the same source.
// EventCount only ever increases.
type SecurityAlert struct {
	ID                string    `db:"alert_id" json:"id"`
	AlertType         string    `db:"alert_type" json:"alert_type"`
	PatternID         string    `db:"pattern_id" json:"pattern_id"`
	Severity          string    `db:"severity" json:"severity"`
	Title             string    `db:"title" json:"title"`
	SourceIP          string    `db:"source_ip" json:"source_ip"`
	AffectedResources []string  `db:"affected_resources" json:"affected_resources"`
	FirstOccurrence   time.Time `db:"first_occurrence" json:"first_occurrence"`
	LastOccurrence    time.Time `db:"last_occurrence" json:"last_occurrence"`
	EventCount        int       `db:"event_count" json:"event_count"`
	ConfidenceScore   float64   `db:"confidence_score" json:"confidence_score"`
	Status            string    `db:"status" json:"status"`
	RelatedEvents     []string  `db:"related_events" json:"related_events"`
}

// alertTransitions encodes the allowed lifecycle moves.
var alertTransitions = map[string][]string{
	AlertOpen:          {AlertAcknowledged, AlertSuppressed, AlertResolved},
	AlertAcknowledged:  {AlertInvestigating, AlertSuppressed, AlertResolved},
	AlertInvestigating: {AlertResolved, AlertSuppressed},
	AlertResolved:      {},
	AlertSuppressed:    {},
}

// CanTransition reports whether an alert may move from its current status
// to the target status.
func (a *SecurityAlert) CanTransition(target string) bool {
	for _, allowed := range alertTransitions[a.Status] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsActionable reports whether the alert is still being worked
// (open, acknowledged, or investigating).
func (a *SecurityAlert) IsActionable() bool {
	switch a.Status {
	case AlertOpen, AlertAcknowledged, AlertInvestigating:
		return true
	}
	return false
}
