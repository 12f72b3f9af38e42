package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetentionPeriodDays(t *testing.T) {
	assert.Equal(t, 2555, RetentionPeriodDays(CategorySecurity))
	assert.Equal(t, 2555, RetentionPeriodDays(CategoryCompliance))
	assert.Equal(t, 1095, RetentionPeriodDays(CategoryDataProcessing))
	assert.Equal(t, 730, RetentionPeriodDays(CategoryAdministrative))
	assert.Equal(t, 365, RetentionPeriodDays(CategoryOperational))

	// Unknown categories fall back to the operational default
	assert.Equal(t, 365, RetentionPeriodDays("made_up"))
}

func TestAuditEventIsViolation(t *testing.T) {
	event := &AuditEvent{
		Outcome:                OutcomeFailure,
		ComplianceRequirements: []string{"GDPR-Art32"},
	}
	assert.True(t, event.IsViolation())

	// A failure with no bound requirement is not a violation
	event.ComplianceRequirements = nil
	assert.False(t, event.IsViolation())

	// A success against a requirement is not a violation
	event.ComplianceRequirements = []string{"GDPR-Art32"}
	event.Outcome = OutcomeSuccess
	assert.False(t, event.IsViolation())
}

func TestAlertTransitions(t *testing.T) {
	alert := &SecurityAlert{Status: AlertOpen}
	assert.True(t, alert.CanTransition(AlertAcknowledged))
	assert.True(t, alert.CanTransition(AlertResolved))
	assert.True(t, alert.CanTransition(AlertSuppressed))
	assert.False(t, alert.CanTransition(AlertInvestigating))

	alert.Status = AlertAcknowledged
	assert.True(t, alert.CanTransition(AlertInvestigating))
	assert.False(t, alert.CanTransition(AlertOpen))

	// Terminal statuses allow nothing
	for _, terminal := range []string{AlertResolved, AlertSuppressed} {
		alert.Status = terminal
		for _, target := range []string{AlertOpen, AlertAcknowledged, AlertInvestigating, AlertResolved, AlertSuppressed} {
			assert.False(t, alert.CanTransition(target), "from %s to %s", terminal, target)
		}
	}
}

func TestAlertIsActionable(t *testing.T) {
	alert := &SecurityAlert{}
	for _, status := range []string{AlertOpen, AlertAcknowledged, AlertInvestigating} {
		alert.Status = status
		assert.True(t, alert.IsActionable(), status)
	}
	for _, status := range []string{AlertResolved, AlertSuppressed} {
		alert.Status = status
		assert.False(t, alert.IsActionable(), status)
	}
}

func TestRequestTransitions(t *testing.T) {
	request := &DataSubjectRequest{Status: RequestPending}
	assert.True(t, request.CanTransition(RequestInProgress))
	assert.True(t, request.CanTransition(RequestRejected))
	assert.False(t, request.CanTransition(RequestCompleted))

	request.Status = RequestInProgress
	assert.True(t, request.CanTransition(RequestCompleted))
	assert.True(t, request.CanTransition(RequestPartiallyCompleted))
	assert.True(t, request.CanTransition(RequestRejected))
	assert.False(t, request.CanTransition(RequestPending))

	request.Status = RequestCompleted
	assert.False(t, request.CanTransition(RequestInProgress))
	assert.True(t, request.IsTerminal())

	request.Status = RequestPending
	assert.False(t, request.IsTerminal())
}

func TestValidRequestType(t *testing.T) {
	for _, rt := range []string{RequestAccess, RequestRectification, RequestErasure, RequestPortability, RequestRestriction, RequestObjection} {
		assert.True(t, ValidRequestType(rt), rt)
	}
	assert.False(t, ValidRequestType("deletion"))
	assert.False(t, ValidRequestType(""))
}

func TestValidEventType(t *testing.T) {
	for _, et := range []string{EventLoginAttempt, EventFailedLogin, EventSuspiciousActivity, EventDataAccess, EventPrivilegeEscalation, EventAnomalyDetected} {
		assert.True(t, ValidEventType(et), et)
	}
	assert.False(t, ValidEventType("logout"))
}

func TestPersonalDataField(t *testing.T) {
	field := &PersonalDataField{
		TableName:    "user_profiles",
		ColumnName:   "email",
		UserProvided: true,
	}
	assert.Equal(t, "user_profiles.email", field.Qualified())
	assert.True(t, field.Erasable())
	assert.True(t, field.Portable())

	field.LegallyRetained = true
	assert.False(t, field.Erasable())

	field.UserProvided = false
	assert.False(t, field.Portable())
}

func TestThreatPatternSeverityFor(t *testing.T) {
	pattern := &ThreatPattern{
		SeverityMapping: SeverityMapping{
			ScoreRanges: []ScoreRange{
				{Min: 0, Max: 59, Severity: SeverityMedium},
				{Min: 60, Max: 100, Severity: SeverityCritical},
			},
			Default: SeverityLow,
		},
	}
	assert.Equal(t, SeverityMedium, pattern.SeverityFor(0))
	assert.Equal(t, SeverityMedium, pattern.SeverityFor(59))
	assert.Equal(t, SeverityCritical, pattern.SeverityFor(60))
	assert.Equal(t, SeverityCritical, pattern.SeverityFor(100))

	// Outside every range falls back to the default
	assert.Equal(t, SeverityLow, pattern.SeverityFor(101))
}

func TestSessionExpiredAt(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	session := &SecuritySession{LastActivity: now.Add(-25 * time.Hour)}
	assert.True(t, session.ExpiredAt(now, 24*time.Hour))

	session.LastActivity = now.Add(-23 * time.Hour)
	assert.False(t, session.ExpiredAt(now, 24*time.Hour))
}
