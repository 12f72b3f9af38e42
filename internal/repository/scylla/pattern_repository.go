package scylla

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"stronghold-security/internal/models"
	"stronghold-security/internal/util"
)

// PatternRepository stores threat patterns. Rule structures are kept as JSON
// text columns; patterns are read-only during evaluation.
type PatternRepository struct {
	client *ScyllaClient
}

func NewPatternRepository(client *ScyllaClient, logger *zap.Logger) *PatternRepository {
	return &PatternRepository{client: client}
}

func (r *PatternRepository) InsertPattern(ctx context.Context, pattern *models.ThreatPattern) error {
	if pattern.ID == "" {
		pattern.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	pattern.CreatedAt = now
	pattern.UpdatedAt = now

	rules, err := json.Marshal(pattern.DetectionRules)
	if err != nil {
		return fmt.Errorf("failed to marshal detection rules: %w", err)
	}
	severity, err := json.Marshal(pattern.SeverityMapping)
	if err != nil {
		return fmt.Errorf("failed to marshal severity mapping: %w", err)
	}
	actions, err := json.Marshal(pattern.ResponseActions)
	if err != nil {
		return fmt.Errorf("failed to marshal response actions: %w", err)
	}

	query := r.client.Query(`
        INSERT INTO threat_patterns (
            pattern_id, name, pattern_type, detection_rules, severity_mapping,
            response_actions, is_active, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pattern.ID, pattern.Name, pattern.PatternType, string(rules), string(severity),
		string(actions), pattern.IsActive, pattern.CreatedAt, pattern.UpdatedAt).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to insert threat pattern",
			zap.String("pattern_id", pattern.ID),
			zap.String("name", pattern.Name),
			zap.Error(err))
		return fmt.Errorf("failed to insert threat pattern: %w", err)
	}

	util.Info("Threat pattern stored",
		zap.String("pattern_id", pattern.ID),
		zap.String("name", pattern.Name),
		zap.Bool("is_active", pattern.IsActive))

	return nil
}

func (r *PatternRepository) GetPatternByID(ctx context.Context, patternID string) (*models.ThreatPattern, error) {
	pattern := &models.ThreatPattern{}
	var rulesJSON, severityJSON, actionsJSON string

	query := r.client.Query(`
        SELECT pattern_id, name, pattern_type, detection_rules, severity_mapping,
            response_actions, is_active, created_at, updated_at
        FROM threat_patterns WHERE pattern_id = ?`,
		patternID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&pattern.ID, &pattern.Name, &pattern.PatternType, &rulesJSON, &severityJSON,
		&actionsJSON, &pattern.IsActive, &pattern.CreatedAt, &pattern.UpdatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("threat pattern %s: %w", patternID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get threat pattern: %w", err)
	}

	if err := decodePattern(pattern, rulesJSON, severityJSON, actionsJSON); err != nil {
		return nil, err
	}
	return pattern, nil
}

// ListActivePatterns returns every active pattern for the evaluation cache.
func (r *PatternRepository) ListActivePatterns(ctx context.Context) ([]*models.ThreatPattern, error) {
	iter := r.client.Query(`
        SELECT pattern_id, name, pattern_type, detection_rules, severity_mapping,
            response_actions, is_active, created_at, updated_at
        FROM threat_patterns`).WithContext(ctx).Iter()

	var out []*models.ThreatPattern
	for {
		pattern := &models.ThreatPattern{}
		var rulesJSON, severityJSON, actionsJSON string
		if !iter.Scan(&pattern.ID, &pattern.Name, &pattern.PatternType, &rulesJSON,
			&severityJSON, &actionsJSON, &pattern.IsActive, &pattern.CreatedAt, &pattern.UpdatedAt) {
			break
		}
		if !pattern.IsActive {
			continue
		}
		if err := decodePattern(pattern, rulesJSON, severityJSON, actionsJSON); err != nil {
			util.Warn("Skipping undecodable threat pattern",
				zap.String("pattern_id", pattern.ID),
				zap.Error(err))
			continue
		}
		out = append(out, pattern)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list threat patterns: %w", err)
	}
	return out, nil
}

func (r *PatternRepository) SetPatternActive(ctx context.Context, patternID string, active bool) error {
	query := r.client.Query(`
        UPDATE threat_patterns SET is_active = ?, updated_at = ? WHERE pattern_id = ?`,
		active, time.Now().UTC(), patternID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to update threat pattern: %w", err)
	}
	return nil
}

func decodePattern(pattern *models.ThreatPattern, rulesJSON, severityJSON, actionsJSON string) error {
	if err := json.Unmarshal([]byte(rulesJSON), &pattern.DetectionRules); err != nil {
		return fmt.Errorf("failed to unmarshal detection rules: %w", err)
	}
	if err := json.Unmarshal([]byte(severityJSON), &pattern.SeverityMapping); err != nil {
		return fmt.Errorf("failed to unmarshal severity mapping: %w", err)
	}
	if err := json.Unmarshal([]byte(actionsJSON), &pattern.ResponseActions); err != nil {
		return fmt.Errorf("failed to unmarshal response actions: %w", err)
	}
	return nil
}
