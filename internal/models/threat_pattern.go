package models

import "time"

// Condition operators supported by the pattern matcher.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpIn          = "in"
)

// RuleCondition is a single weighted field test within a threat pattern.
type RuleCondition struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
	Weight   int         `json:"weight"`
}

// DetectionRules describe when a threat pattern fires: the weighted
// condition sum must meet ThresholdScore AND the count of matching events
// from the same IP within TimeWindowMinutes must meet OccurrenceLimit.
type DetectionRules struct {
	Conditions        []RuleCondition `json:"conditions"`
	ThresholdScore    int             `json:"threshold_score"`
	TimeWindowMinutes int             `json:"time_window_minutes"`
	OccurrenceLimit   int             `json:"occurrence_limit"`
}

// ScoreRange maps a threat-score band to an alert severity.
type ScoreRange struct {
	Min      int    `json:"min"`
	Max      int    `json:"max"`
	Severity string `json:"severity"`
}

// SeverityMapping places an event score into a severity band.
type SeverityMapping struct {
	ScoreRanges []ScoreRange `json:"score_ranges"`
	Default     string       `json:"default"`
}

// PatternResponseActions names the mitigations tied to a pattern.
// Automatic actions are executed by the response executor; manual ones
// are surfaced to operators on the alert.
type PatternResponseActions struct {
	Automatic []string `json:"automatic"`
	Manual    []string `json:"manual"`
}

// ThreatPattern is a declarative detection rule. Configuration entity:
// seeded at bootstrap or created by an operator, read-only during evaluation.
type ThreatPattern struct {
	ID              string                 `db:"pattern_id" json:"id"`
	Name            string                 `db:"name" json:"name"`
	PatternType     string                 `db:"pattern_type" json:"pattern_type"`
	DetectionRules  DetectionRules         `db:"detection_rules" json:"detection_rules"`
	SeverityMapping SeverityMapping        `db:"severity_mapping" json:"severity_mapping"`
	ResponseActions PatternResponseActions `db:"response_actions" json:"response_actions"`
	IsActive        bool                   `db:"is_active" json:"is_active"`
	CreatedAt       time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time              `db:"updated_at" json:"updated_at"`
}

// SeverityFor places a score into the pattern's severity bands.
func (p *ThreatPattern) SeverityFor(score int) string {
	for _, r := range p.SeverityMapping.ScoreRanges {
		if score >= r.Min && score <= r.Max {
			return r.Severity
		}
	}
	if p.SeverityMapping.Default != "" {
		return p.SeverityMapping.Default
	}
	return SeverityMedium
}
