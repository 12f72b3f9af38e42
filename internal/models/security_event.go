package models

import (
	"net"
	"time"
)

// Security event types.
const (
	EventLoginAttempt        = "login_attempt"
	EventFailedLogin         = "failed_login"
	EventSuspiciousActivity  = "suspicious_activity"
	EventDataAccess          = "data_access"
	EventPrivilegeEscalation = "privilege_escalation"
	EventAnomalyDetected     = "anomaly_detected"
)

// Investigation statuses for a security event.
const (
	InvestigationNone       = "none"
	InvestigationPending    = "pending"
	InvestigationInProgress = "in_progress"
	InvestigationClosed     = "closed"
)

// EventData carries the request-level detail attached to a security event.
// Serialized to JSON in the details column.
type EventData struct {
	Endpoint       string   `json:"endpoint,omitempty"`
	StatusCode     int      `json:"status_code,omitempty"`
	GeoLocation    string   `json:"geo_location,omitempty"`
	RiskIndicators []string `json:"risk_indicators,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// SecurityEvent is the immutable record of a security-relevant action.
// Only InvestigationStatus and ResponseActions are updated after insert.
type SecurityEvent struct {
	EventBucket         int       `db:"event_bucket" json:"-"`
	EventDate           string    `db:"event_date" json:"-"`
	ID                  string    `db:"event_id" json:"id"`
	EventType           string    `db:"event_type" json:"event_type"`
	Severity            string    `db:"severity" json:"severity"`
	UserID              string    `db:"user_id" json:"user_id,omitempty"`
	SessionID           string    `db:"session_id" json:"session_id,omitempty"`
	IPAddress           net.IP    `db:"ip_address" json:"ip_address"`
	UserAgent           string    `db:"user_agent" json:"user_agent"`
	Timestamp           time.Time `db:"event_time" json:"timestamp"`
	EventData           EventData `db:"details" json:"event_data"`
	ThreatScore         int       `db:"threat_score" json:"threat_score"`
	IsBlocked           bool      `db:"is_blocked" json:"is_blocked"`
	InvestigationStatus string    `db:"investigation_status" json:"investigation_status"`
	ResponseActions     []string  `db:"response_actions" json:"response_actions"`
}

// ValidEventType reports whether the supplied type is a known security event type.
func ValidEventType(t string) bool {
	switch t {
	case EventLoginAttempt, EventFailedLogin, EventSuspiciousActivity,
		EventDataAccess, EventPrivilegeEscalation, EventAnomalyDetected:
		return true
	}
	return false
}
