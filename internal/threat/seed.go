package threat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"stronghold-security/internal/models"
	"stronghold-security/internal/util"
)

// defaultPatterns are the detections every deployment starts with.
// Operators refine or disable them through the pattern endpoints.
func defaultPatterns() []*models.ThreatPattern {
	return []*models.ThreatPattern{
		{
			ID:          "default-brute-force",
			Name:        "Brute force login",
			PatternType: "brute_force",
			DetectionRules: models.DetectionRules{
				Conditions: []models.RuleCondition{
					{Field: "event_type", Operator: models.OpEquals, Value: models.EventFailedLogin, Weight: 50},
					{Field: "threat_score", Operator: models.OpGreaterThan, Value: 20, Weight: 20},
				},
				ThresholdScore:    50,
				TimeWindowMinutes: 15,
				OccurrenceLimit:   5,
			},
			SeverityMapping: models.SeverityMapping{
				ScoreRanges: []models.ScoreRange{
					{Min: 0, Max: 49, Severity: models.SeverityMedium},
					{Min: 50, Max: 79, Severity: models.SeverityHigh},
					{Min: 80, Max: 100, Severity: models.SeverityCritical},
				},
				Default: models.SeverityMedium,
			},
			ResponseActions: models.PatternResponseActions{
				Automatic: []string{ActionRateLimitIP, ActionLogIncident},
				Manual:    []string{"review_account", "contact_user"},
			},
			IsActive: true,
		},
		{
			ID:          "default-privilege-escalation",
			Name:        "Privilege escalation attempt",
			PatternType: "privilege_escalation",
			DetectionRules: models.DetectionRules{
				Conditions: []models.RuleCondition{
					{Field: "event_type", Operator: models.OpEquals, Value: models.EventPrivilegeEscalation, Weight: 70},
				},
				ThresholdScore:    70,
				TimeWindowMinutes: 60,
				OccurrenceLimit:   1,
			},
			SeverityMapping: models.SeverityMapping{
				ScoreRanges: []models.ScoreRange{
					{Min: 0, Max: 69, Severity: models.SeverityHigh},
					{Min: 70, Max: 100, Severity: models.SeverityCritical},
				},
				Default: models.SeverityHigh,
			},
			ResponseActions: models.PatternResponseActions{
				Automatic: []string{ActionAlertSecurityTeam, ActionRestrictUserAccess, ActionLogIncident},
				Manual:    []string{"forensic_review"},
			},
			IsActive: true,
		},
		{
			ID:          "default-anomalous-access",
			Name:        "Anomalous data access",
			PatternType: "data_exfiltration",
			DetectionRules: models.DetectionRules{
				Conditions: []models.RuleCondition{
					{Field: "event_type", Operator: models.OpEquals, Value: models.EventDataAccess, Weight: 30},
					{Field: "threat_score", Operator: models.OpGreaterThan, Value: 50, Weight: 30},
				},
				ThresholdScore:    60,
				TimeWindowMinutes: 30,
				OccurrenceLimit:   10,
			},
			SeverityMapping: models.SeverityMapping{
				ScoreRanges: []models.ScoreRange{
					{Min: 0, Max: 69, Severity: models.SeverityMedium},
					{Min: 70, Max: 100, Severity: models.SeverityHigh},
				},
				Default: models.SeverityMedium,
			},
			ResponseActions: models.PatternResponseActions{
				Automatic: []string{ActionLimitDataAccess, ActionEnhancedMonitoring, ActionSendNotification},
				Manual:    []string{"audit_data_access"},
			},
			IsActive: true,
		},
		{
			ID:          "default-suspicious-activity",
			Name:        "High-score suspicious activity",
			PatternType: "suspicious_activity",
			DetectionRules: models.DetectionRules{
				Conditions: []models.RuleCondition{
					{Field: "event_type", Operator: models.OpIn, Value: []interface{}{models.EventSuspiciousActivity, models.EventAnomalyDetected}, Weight: 40},
					{Field: "threat_score", Operator: models.OpGreaterThan, Value: 60, Weight: 30},
				},
				ThresholdScore:    70,
				TimeWindowMinutes: 30,
				OccurrenceLimit:   1,
			},
			SeverityMapping: models.SeverityMapping{
				ScoreRanges: []models.ScoreRange{
					{Min: 0, Max: 84, Severity: models.SeverityHigh},
					{Min: 85, Max: 100, Severity: models.SeverityCritical},
				},
				Default: models.SeverityHigh,
			},
			ResponseActions: models.PatternResponseActions{
				Automatic: []string{ActionRequireMFA, ActionSendNotification, ActionLogIncident},
				Manual:    []string{"investigate_source"},
			},
			IsActive: true,
		},
	}
}

// SeedDefaultPatterns installs the default patterns, skipping any ID that
// already exists so operator edits survive restarts.
func SeedDefaultPatterns(ctx context.Context, store PatternStore) error {
	for _, pattern := range defaultPatterns() {
		if existing, err := store.GetPatternByID(ctx, pattern.ID); err == nil && existing != nil {
			continue
		}
		if err := store.InsertPattern(ctx, pattern); err != nil {
			return fmt.Errorf("failed to seed pattern %s: %w", pattern.ID, err)
		}
		util.Info("Seeded threat pattern", zap.String("pattern_id", pattern.ID))
	}
	return nil
}
