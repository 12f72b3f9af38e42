package threat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stronghold-security/internal/models"
	"stronghold-security/internal/util"
)

// EventStore is the event persistence surface the matcher needs.
type EventStore interface {
	EventHistory
	InsertEvent(ctx context.Context, event *models.SecurityEvent) error
	CountRecentByIP(ctx context.Context, ip string, since, until time.Time, eventType string) (int, error)
	UpdateInvestigation(ctx context.Context, eventID, status string, responseActions []string) error
}

// EventPublisher streams accepted events to downstream consumers.
type EventPublisher interface {
	PublishSecurityEvent(ctx context.Context, eventID string, event interface{}) error
}

// Matcher is the threat detection engine. It scores incoming events,
// evaluates them against the active pattern registry, raises or merges
// alerts, and triggers automatic response actions.
type Matcher struct {
	events    EventStore
	patterns  *PatternCache
	scorer    *Scorer
	alerts    *AlertManager
	executor  *Executor
	publisher EventPublisher
	now       func() time.Time
}

func NewMatcher(events EventStore, patterns *PatternCache, scorer *Scorer, alerts *AlertManager, executor *Executor, publisher EventPublisher) *Matcher {
	return &Matcher{
		events:    events,
		patterns:  patterns,
		scorer:    scorer,
		alerts:    alerts,
		executor:  executor,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ProcessSecurityEvent ingests a partial event: it assigns identity and
// timestamp, recomputes the threat score from scratch, applies blocking
// policy, evaluates every active pattern, and persists the event with the
// response actions that ran. The stored event is returned.
func (m *Matcher) ProcessSecurityEvent(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error) {
	if !models.ValidEventType(event.EventType) {
		return nil, fmt.Errorf("unknown event type: %q", event.EventType)
	}
	if event.IPAddress == nil {
		return nil, fmt.Errorf("event missing ip address")
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = m.now()
	}
	if event.InvestigationStatus == "" {
		event.InvestigationStatus = models.InvestigationNone
	}

	// Scores supplied by callers are never trusted.
	event.ThreatScore = m.scorer.Score(ctx, event)
	event.IsBlocked = m.scorer.ShouldBlock(event.EventType, event.ThreatScore)
	if event.Severity == "" {
		event.Severity = severityForScore(event.ThreatScore)
	}

	matched, err := m.matchPatterns(ctx, event)
	if err != nil {
		util.Warn("Pattern evaluation incomplete",
			zap.String("event_id", event.ID),
			zap.Error(err))
	}

	actions := automaticActions(matched)
	if len(actions) > 0 {
		results := m.executor.Execute(ctx, event, actions)
		for _, r := range results {
			event.ResponseActions = append(event.ResponseActions, r.Action)
		}
	}

	for _, match := range matched {
		severity := match.SeverityFor(event.ThreatScore)
		if _, _, err := m.alerts.RaiseOrMerge(ctx, event, match, severity); err != nil {
			util.Error("Failed to raise alert for pattern match",
				zap.String("event_id", event.ID),
				zap.String("pattern_id", match.ID),
				zap.Error(err))
		}
	}

	if err := m.events.InsertEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to persist security event: %w", err)
	}

	if m.publisher != nil {
		if err := m.publisher.PublishSecurityEvent(ctx, event.ID, event); err != nil {
			util.Warn("Failed to publish security event",
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
	}

	util.Info("Security event processed",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.EventType),
		zap.Int("threat_score", event.ThreatScore),
		zap.Bool("is_blocked", event.IsBlocked),
		zap.Int("patterns_matched", len(matched)))

	return event, nil
}

// matchPatterns returns every active pattern the event satisfies. A match
// needs both the weighted-condition threshold and the occurrence count
// inside the pattern's window; either alone is not enough.
func (m *Matcher) matchPatterns(ctx context.Context, event *models.SecurityEvent) ([]*models.ThreatPattern, error) {
	patterns, err := m.patterns.ActivePatterns(ctx)
	if err != nil {
		return nil, err
	}

	var matched []*models.ThreatPattern
	for _, pattern := range patterns {
		if !conditionsSatisfied(event, pattern.DetectionRules) {
			continue
		}

		ok, err := m.occurrenceSatisfied(ctx, event, pattern.DetectionRules)
		if err != nil {
			util.Warn("Occurrence check failed, pattern skipped",
				zap.String("pattern_id", pattern.ID),
				zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		matched = append(matched, pattern)
	}

	return matched, nil
}

func (m *Matcher) occurrenceSatisfied(ctx context.Context, event *models.SecurityEvent, rules models.DetectionRules) (bool, error) {
	if rules.OccurrenceLimit <= 1 {
		return true, nil
	}

	window := time.Duration(rules.TimeWindowMinutes) * time.Minute
	since := event.Timestamp.Add(-window)

	count, err := m.events.CountRecentByIP(ctx, event.IPAddress.String(), since, event.Timestamp, event.EventType)
	if err != nil {
		return false, err
	}

	// The current event is not yet persisted; count it in.
	return count+1 >= rules.OccurrenceLimit, nil
}

// conditionsSatisfied sums the weights of the matched conditions and
// compares against the threshold.
func conditionsSatisfied(event *models.SecurityEvent, rules models.DetectionRules) bool {
	if len(rules.Conditions) == 0 {
		return false
	}

	total := 0
	for _, cond := range rules.Conditions {
		if conditionMatches(event, cond) {
			total += cond.Weight
		}
	}

	return total >= rules.ThresholdScore
}

func conditionMatches(event *models.SecurityEvent, cond models.RuleCondition) bool {
	value, ok := eventField(event, cond.Field)
	if !ok {
		return false
	}

	switch cond.Operator {
	case models.OpEquals:
		return valueEquals(value, cond.Value)
	case models.OpNotEquals:
		return !valueEquals(value, cond.Value)
	case models.OpContains:
		s, isStr := value.(string)
		sub, subStr := cond.Value.(string)
		return isStr && subStr && strings.Contains(s, sub)
	case models.OpGreaterThan:
		a, aok := toFloat(value)
		b, bok := toFloat(cond.Value)
		return aok && bok && a > b
	case models.OpLessThan:
		a, aok := toFloat(value)
		b, bok := toFloat(cond.Value)
		return aok && bok && a < b
	case models.OpIn:
		list, isList := cond.Value.([]interface{})
		if !isList {
			return false
		}
		for _, item := range list {
			if valueEquals(value, item) {
				return true
			}
		}
		return false
	}

	util.Warn("Unknown condition operator", zap.String("operator", cond.Operator))
	return false
}

// eventField resolves a condition field name against the event.
func eventField(event *models.SecurityEvent, field string) (interface{}, bool) {
	switch field {
	case "event_type":
		return event.EventType, true
	case "severity":
		return event.Severity, true
	case "user_id":
		return event.UserID, true
	case "ip_address":
		if event.IPAddress == nil {
			return nil, false
		}
		return event.IPAddress.String(), true
	case "user_agent":
		return event.UserAgent, true
	case "threat_score":
		return event.ThreatScore, true
	case "endpoint":
		return event.EventData.Endpoint, true
	case "status_code":
		return event.EventData.StatusCode, true
	case "geo_location":
		return event.EventData.GeoLocation, true
	}
	if v, ok := event.EventData.Extra[field]; ok {
		return v, true
	}
	return nil, false
}

// valueEquals compares with numeric coercion so JSON-decoded float64
// condition values compare against int event fields.
func valueEquals(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// automaticActions unions the automatic action lists across matched
// patterns, first occurrence order preserved.
func automaticActions(patterns []*models.ThreatPattern) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range patterns {
		for _, a := range p.ResponseActions.Automatic {
			if _, dup := seen[a]; dup {
				continue
			}
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}

func severityForScore(score int) string {
	switch {
	case score >= 85:
		return models.SeverityCritical
	case score >= 60:
		return models.SeverityHigh
	case score >= 30:
		return models.SeverityMedium
	}
	return models.SeverityLow
}
