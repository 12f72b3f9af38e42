package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"stronghold-security/internal/models"
	"stronghold-security/internal/util"
)

// AlertRepository stores security alerts. Alerts live in a table keyed by
// alert id plus a lookup table keyed by (pattern_id, source_ip) so the
// alert manager can find merge candidates without a full scan.
type AlertRepository struct {
	client *ScyllaClient
}

func NewAlertRepository(client *ScyllaClient, logger *zap.Logger) *AlertRepository {
	return &AlertRepository{client: client}
}

func (r *AlertRepository) InsertAlert(ctx context.Context, alert *models.SecurityAlert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}

	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)

	batch.Query(`
        INSERT INTO security_alerts (
            alert_id, alert_type, pattern_id, severity, title, source_ip,
            affected_resources, first_occurrence, last_occurrence, event_count,
            confidence_score, status, related_events
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.AlertType, alert.PatternID, alert.Severity, alert.Title,
		alert.SourceIP, alert.AffectedResources, alert.FirstOccurrence,
		alert.LastOccurrence, alert.EventCount, alert.ConfidenceScore,
		alert.Status, alert.RelatedEvents)

	batch.Query(`
        INSERT INTO security_alerts_by_source (pattern_id, source_ip, last_occurrence, alert_id)
        VALUES (?, ?, ?, ?)`,
		alert.PatternID, alert.SourceIP, alert.LastOccurrence, alert.ID)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to insert security alert",
			zap.String("alert_id", alert.ID),
			zap.String("pattern_id", alert.PatternID),
			zap.Error(err))
		return fmt.Errorf("failed to insert security alert: %w", err)
	}

	util.Info("Security alert created",
		zap.String("alert_id", alert.ID),
		zap.String("severity", alert.Severity),
		zap.String("source_ip", alert.SourceIP))

	return nil
}

func (r *AlertRepository) GetAlertByID(ctx context.Context, alertID string) (*models.SecurityAlert, error) {
	alert := &models.SecurityAlert{}

	query := r.client.Query(`
        SELECT alert_id, alert_type, pattern_id, severity, title, source_ip,
            affected_resources, first_occurrence, last_occurrence, event_count,
            confidence_score, status, related_events
        FROM security_alerts WHERE alert_id = ?`,
		alertID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&alert.ID, &alert.AlertType, &alert.PatternID, &alert.Severity, &alert.Title,
		&alert.SourceIP, &alert.AffectedResources, &alert.FirstOccurrence,
		&alert.LastOccurrence, &alert.EventCount, &alert.ConfidenceScore,
		&alert.Status, &alert.RelatedEvents)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("security alert %s: %w", alertID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get security alert: %w", err)
	}

	return alert, nil
}

// FindMergeCandidate returns the newest actionable alert for the same
// pattern and source IP whose last occurrence is at or after the cutoff,
// or nil when no such alert exists.
func (r *AlertRepository) FindMergeCandidate(ctx context.Context, patternID, sourceIP string, cutoff time.Time) (*models.SecurityAlert, error) {
	iter := r.client.Query(`
        SELECT alert_id FROM security_alerts_by_source
        WHERE pattern_id = ? AND source_ip = ? AND last_occurrence >= ?`,
		patternID, sourceIP, cutoff).WithContext(ctx).Iter()

	var alertID string
	var candidates []string
	for iter.Scan(&alertID) {
		candidates = append(candidates, alertID)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to query alerts by source: %w", err)
	}

	for _, id := range candidates {
		alert, err := r.GetAlertByID(ctx, id)
		if err != nil {
			continue
		}
		if alert.IsActionable() {
			return alert, nil
		}
	}
	return nil, nil
}

// MergeAlert persists a merge: event count incremented, last occurrence
// advanced, the event id appended to related_events. The struct passed in
// is not modified; the caller applies the same change in memory once the
// write succeeds.
func (r *AlertRepository) MergeAlert(ctx context.Context, alert *models.SecurityAlert, eventID string, occurredAt time.Time) error {
	eventCount := alert.EventCount + 1
	relatedEvents := make([]string, 0, len(alert.RelatedEvents)+1)
	relatedEvents = append(relatedEvents, alert.RelatedEvents...)
	relatedEvents = append(relatedEvents, eventID)

	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)

	batch.Query(`
        UPDATE security_alerts
        SET event_count = ?, last_occurrence = ?, related_events = ?
        WHERE alert_id = ?`,
		eventCount, occurredAt, relatedEvents, alert.ID)

	batch.Query(`
        INSERT INTO security_alerts_by_source (pattern_id, source_ip, last_occurrence, alert_id)
        VALUES (?, ?, ?, ?)`,
		alert.PatternID, alert.SourceIP, occurredAt, alert.ID)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to merge security alert",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
		return fmt.Errorf("failed to merge security alert: %w", err)
	}

	util.Debug("Security alert merged",
		zap.String("alert_id", alert.ID),
		zap.Int("event_count", eventCount))

	return nil
}

func (r *AlertRepository) UpdateAlertStatus(ctx context.Context, alertID, status string) error {
	query := r.client.Query(`
        UPDATE security_alerts SET status = ? WHERE alert_id = ?`,
		status, alertID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to update alert status: %w", err)
	}

	util.Info("Alert status updated",
		zap.String("alert_id", alertID),
		zap.String("status", status))

	return nil
}
