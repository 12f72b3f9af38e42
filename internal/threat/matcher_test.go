package threat

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stronghold-security/internal/config"
	"stronghold-security/internal/models"
)

type matcherFixture struct {
	matcher  *Matcher
	events   *fakeEventStore
	alerts   *fakeAlertStore
	blocker  *fakeBlocker
	patterns *fakePatternStore
}

func newMatcherFixture(patterns ...*models.ThreatPattern) *matcherFixture {
	f := &matcherFixture{
		events:   &fakeEventStore{},
		alerts:   &fakeAlertStore{},
		blocker:  &fakeBlocker{},
		patterns: &fakePatternStore{patterns: patterns},
	}
	scorer := NewScorer(config.ThreatConfig{
		BlockThreshold:       85,
		NightWindowStartHour: 22,
		NightWindowEndHour:   6,
		BehaviorHistoryDays:  30,
	}, f.events)
	cache := NewPatternCache(f.patterns, time.Minute)
	alertManager := NewAlertManager(f.alerts, nil)
	executor := NewExecutor(nil, nil, f.blocker, nil)
	f.matcher = NewMatcher(f.events, cache, scorer, alertManager, executor, nil)
	return f
}

func failedLoginPattern() *models.ThreatPattern {
	return &models.ThreatPattern{
		ID:          "pat-1",
		Name:        "Brute force",
		PatternType: "brute_force",
		IsActive:    true,
		DetectionRules: models.DetectionRules{
			Conditions: []models.RuleCondition{
				{Field: "event_type", Operator: models.OpEquals, Value: models.EventFailedLogin, Weight: 10},
			},
			ThresholdScore:    10,
			TimeWindowMinutes: 15,
			OccurrenceLimit:   1,
		},
		ResponseActions: models.PatternResponseActions{
			Automatic: []string{ActionRateLimitIP},
		},
	}
}

func TestProcessRejectsUnknownEventType(t *testing.T) {
	f := newMatcherFixture()

	_, err := f.matcher.ProcessSecurityEvent(context.Background(), &models.SecurityEvent{
		EventType: "made_up",
		IPAddress: net.ParseIP("198.51.100.7"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event type")
	assert.Empty(t, f.events.inserted)
}

func TestProcessRejectsMissingIP(t *testing.T) {
	f := newMatcherFixture()

	_, err := f.matcher.ProcessSecurityEvent(context.Background(), &models.SecurityEvent{
		EventType: models.EventLoginAttempt,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ip address")
}

func TestProcessAssignsIdentityAndRecomputesScore(t *testing.T) {
	f := newMatcherFixture()

	event := cleanEvent(models.EventLoginAttempt, noon)
	event.ThreatScore = 99 // caller-supplied score must be discarded
	event.IsBlocked = true

	stored, err := f.matcher.ProcessSecurityEvent(context.Background(), event)
	require.NoError(t, err)

	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, noon, stored.Timestamp)
	assert.Equal(t, models.InvestigationNone, stored.InvestigationStatus)
	assert.Equal(t, 10, stored.ThreatScore)
	assert.False(t, stored.IsBlocked)
	assert.Equal(t, models.SeverityLow, stored.Severity)

	require.Len(t, f.events.inserted, 1)
	assert.Same(t, stored, f.events.inserted[0])
}

func TestProcessKeepsCallerSeverity(t *testing.T) {
	f := newMatcherFixture()

	event := cleanEvent(models.EventLoginAttempt, noon)
	event.Severity = models.SeverityHigh

	stored, err := f.matcher.ProcessSecurityEvent(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityHigh, stored.Severity)
}

func TestProcessSeverityBands(t *testing.T) {
	f := newMatcherFixture()
	ctx := context.Background()

	suspicious := cleanEvent(models.EventSuspiciousActivity, noon)
	stored, err := f.matcher.ProcessSecurityEvent(ctx, suspicious)
	require.NoError(t, err)
	assert.Equal(t, 40, stored.ThreatScore)
	assert.Equal(t, models.SeverityMedium, stored.Severity)

	privEsc := cleanEvent(models.EventPrivilegeEscalation, noon)
	stored, err = f.matcher.ProcessSecurityEvent(ctx, privEsc)
	require.NoError(t, err)
	assert.Equal(t, 70, stored.ThreatScore)
	assert.Equal(t, models.SeverityHigh, stored.Severity)
	assert.True(t, stored.IsBlocked)

	critical := cleanEvent(models.EventPrivilegeEscalation, noon)
	critical.EventData.RiskIndicators = []string{"a", "b", "c"}
	stored, err = f.matcher.ProcessSecurityEvent(ctx, critical)
	require.NoError(t, err)
	assert.Equal(t, 85, stored.ThreatScore)
	assert.Equal(t, models.SeverityCritical, stored.Severity)
}

func TestProcessMatchRunsActionsAndRaisesAlert(t *testing.T) {
	f := newMatcherFixture(failedLoginPattern())

	event := cleanEvent(models.EventFailedLogin, noon)
	event.UserID = "user-1"

	stored, err := f.matcher.ProcessSecurityEvent(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, []string{ActionRateLimitIP}, stored.ResponseActions)
	assert.Contains(t, f.blocker.keys, "ratelimit_ip:198.51.100.7")

	require.Len(t, f.alerts.inserted, 1)
	alert := f.alerts.inserted[0]
	assert.Equal(t, "pat-1", alert.PatternID)
	assert.Equal(t, "198.51.100.7", alert.SourceIP)
}

func TestProcessNoMatchBelowConditionThreshold(t *testing.T) {
	pattern := failedLoginPattern()
	pattern.DetectionRules.ThresholdScore = 20
	f := newMatcherFixture(pattern)

	stored, err := f.matcher.ProcessSecurityEvent(context.Background(), cleanEvent(models.EventFailedLogin, noon))
	require.NoError(t, err)
	assert.Empty(t, stored.ResponseActions)
	assert.Empty(t, f.alerts.inserted)
}

func TestProcessOccurrenceLimitGate(t *testing.T) {
	pattern := failedLoginPattern()
	pattern.DetectionRules.OccurrenceLimit = 3

	// Two prior events plus this one meets the limit
	f := newMatcherFixture(pattern)
	f.events.ipCount = 2
	_, err := f.matcher.ProcessSecurityEvent(context.Background(), cleanEvent(models.EventFailedLogin, noon))
	require.NoError(t, err)
	assert.Len(t, f.alerts.inserted, 1)

	// One prior event does not
	f = newMatcherFixture(pattern)
	f.events.ipCount = 1
	_, err = f.matcher.ProcessSecurityEvent(context.Background(), cleanEvent(models.EventFailedLogin, noon))
	require.NoError(t, err)
	assert.Empty(t, f.alerts.inserted)
}

func TestProcessOccurrenceCheckFailureSkipsPattern(t *testing.T) {
	pattern := failedLoginPattern()
	pattern.DetectionRules.OccurrenceLimit = 3
	f := newMatcherFixture(pattern)
	f.events.countErr = errors.New("scylla down")

	stored, err := f.matcher.ProcessSecurityEvent(context.Background(), cleanEvent(models.EventFailedLogin, noon))
	require.NoError(t, err)
	assert.Empty(t, stored.ResponseActions)
	assert.Empty(t, f.alerts.inserted)
}

func TestProcessInsertFailure(t *testing.T) {
	f := newMatcherFixture()
	f.events.insertErr = errors.New("scylla down")

	_, err := f.matcher.ProcessSecurityEvent(context.Background(), cleanEvent(models.EventLoginAttempt, noon))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to persist security event")
}

func TestConditionsSatisfied(t *testing.T) {
	event := cleanEvent(models.EventFailedLogin, noon)

	// No conditions never matches
	assert.False(t, conditionsSatisfied(event, models.DetectionRules{ThresholdScore: 0}))

	rules := models.DetectionRules{
		Conditions: []models.RuleCondition{
			{Field: "event_type", Operator: models.OpEquals, Value: models.EventFailedLogin, Weight: 5},
			{Field: "geo_location", Operator: models.OpEquals, Value: "KP", Weight: 5},
		},
		ThresholdScore: 10,
	}
	// Only one of two conditions holds
	assert.False(t, conditionsSatisfied(event, rules))

	event.EventData.GeoLocation = "KP"
	assert.True(t, conditionsSatisfied(event, rules))
}

func TestConditionMatchesOperators(t *testing.T) {
	event := cleanEvent(models.EventFailedLogin, noon)
	event.UserAgent = "Mozilla/5.0 (X11; Linux)"
	event.ThreatScore = 42
	event.EventData.Endpoint = "/api/v1/admin"
	event.EventData.StatusCode = 403
	event.EventData.Extra = map[string]string{"auth_method": "password"}

	cases := []struct {
		name string
		cond models.RuleCondition
		want bool
	}{
		{"equals", models.RuleCondition{Field: "event_type", Operator: models.OpEquals, Value: models.EventFailedLogin}, true},
		{"not equals", models.RuleCondition{Field: "event_type", Operator: models.OpNotEquals, Value: models.EventLoginAttempt}, true},
		{"contains", models.RuleCondition{Field: "user_agent", Operator: models.OpContains, Value: "Linux"}, true},
		{"contains miss", models.RuleCondition{Field: "user_agent", Operator: models.OpContains, Value: "Windows"}, false},
		{"greater than with json number", models.RuleCondition{Field: "threat_score", Operator: models.OpGreaterThan, Value: float64(40)}, true},
		{"less than", models.RuleCondition{Field: "status_code", Operator: models.OpLessThan, Value: float64(500)}, true},
		{"in", models.RuleCondition{Field: "endpoint", Operator: models.OpIn, Value: []interface{}{"/api/v1/admin", "/api/v1/billing"}}, true},
		{"in miss", models.RuleCondition{Field: "endpoint", Operator: models.OpIn, Value: []interface{}{"/api/v1/billing"}}, false},
		{"in non-list value", models.RuleCondition{Field: "endpoint", Operator: models.OpIn, Value: "/api/v1/admin"}, false},
		{"extra field", models.RuleCondition{Field: "auth_method", Operator: models.OpEquals, Value: "password"}, true},
		{"ip address", models.RuleCondition{Field: "ip_address", Operator: models.OpEquals, Value: "198.51.100.7"}, true},
		{"unknown field", models.RuleCondition{Field: "no_such_field", Operator: models.OpEquals, Value: "x"}, false},
		{"unknown operator", models.RuleCondition{Field: "event_type", Operator: "regex", Value: ".*"}, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, conditionMatches(event, tc.cond), tc.name)
	}
}

func TestValueEqualsNumericCoercion(t *testing.T) {
	// JSON-decoded condition values arrive as float64
	assert.True(t, valueEquals(42, float64(42)))
	assert.True(t, valueEquals("42", 42))
	assert.False(t, valueEquals(42, float64(43)))
	assert.True(t, valueEquals("password", "password"))
}

func TestAutomaticActionsDedup(t *testing.T) {
	patterns := []*models.ThreatPattern{
		{ResponseActions: models.PatternResponseActions{Automatic: []string{ActionRateLimitIP, ActionLogIncident}}},
		{ResponseActions: models.PatternResponseActions{Automatic: []string{ActionLogIncident, ActionRequireMFA}}},
	}
	assert.Equal(t, []string{ActionRateLimitIP, ActionLogIncident, ActionRequireMFA}, automaticActions(patterns))
	assert.Nil(t, automaticActions(nil))
}

func TestSeverityForScore(t *testing.T) {
	assert.Equal(t, models.SeverityCritical, severityForScore(100))
	assert.Equal(t, models.SeverityCritical, severityForScore(85))
	assert.Equal(t, models.SeverityHigh, severityForScore(84))
	assert.Equal(t, models.SeverityHigh, severityForScore(60))
	assert.Equal(t, models.SeverityMedium, severityForScore(59))
	assert.Equal(t, models.SeverityMedium, severityForScore(30))
	assert.Equal(t, models.SeverityLow, severityForScore(29))
	assert.Equal(t, models.SeverityLow, severityForScore(0))
}
