package scylla

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"stronghold-security/internal/bucketing"
	"stronghold-security/internal/models"
	"stronghold-security/internal/util"
)

// EventRepository persists security events. The events table is partitioned
// by (event_bucket, event_date); lookup tables by id, source IP, and user are
// written in the same logged batch.
type EventRepository struct {
	client    *ScyllaClient
	bucketing *bucketing.BucketingManager
}

func NewEventRepository(client *ScyllaClient, bucketingMgr *bucketing.BucketingManager, logger *zap.Logger) *EventRepository {
	return &EventRepository{
		client:    client,
		bucketing: bucketingMgr,
	}
}

func (r *EventRepository) InsertEvent(ctx context.Context, event *models.SecurityEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.EventBucket = r.bucketing.GetEventBucket(event.ID)
	event.EventDate = event.Timestamp.Format("2006-01-02")

	details, err := json.Marshal(event.EventData)
	if err != nil {
		return fmt.Errorf("failed to marshal event details: %w", err)
	}

	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)

	batch.Query(r.client.Prepared.InsertEvent.Statement(),
		event.EventBucket, event.EventDate, event.ID, event.EventType, event.Severity,
		event.UserID, event.SessionID, event.IPAddress.String(), event.UserAgent,
		event.Timestamp, string(details), event.ThreatScore, event.IsBlocked,
		event.InvestigationStatus, event.ResponseActions)

	batch.Query(r.client.Prepared.InsertEventByID.Statement(),
		event.ID, event.EventBucket, event.EventDate)

	batch.Query(r.client.Prepared.InsertEventByIP.Statement(),
		event.IPAddress.String(), event.Timestamp, event.ID, event.EventType,
		event.UserID, event.ThreatScore)

	if event.UserID != "" {
		batch.Query(r.client.Prepared.InsertEventByUser.Statement(),
			event.UserID, event.Timestamp, event.ID, event.EventType,
			event.IPAddress.String(), event.EventData.GeoLocation, event.ThreatScore)
	}

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to insert security event",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.EventType),
			zap.Error(err))
		return fmt.Errorf("failed to insert security event: %w", err)
	}

	util.Debug("Security event inserted",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.EventType),
		zap.Int("threat_score", event.ThreatScore))

	return nil
}

func (r *EventRepository) GetEventByID(ctx context.Context, eventID string) (*models.SecurityEvent, error) {
	var bucket int
	var date string

	lookup := r.client.Query(`
        SELECT event_bucket, event_date FROM security_events_by_id WHERE event_id = ?`,
		eventID).WithContext(ctx)
	if err := r.client.ScanWithRetry(lookup, &bucket, &date); err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("security event %s: %w", eventID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to locate security event: %w", err)
	}

	event := &models.SecurityEvent{EventBucket: bucket, EventDate: date}
	var ipStr, detailsJSON string

	query := r.client.Query(`
        SELECT event_id, event_type, severity, user_id, session_id, ip_address,
            user_agent, event_time, details, threat_score, is_blocked,
            investigation_status, response_actions
        FROM security_events WHERE event_bucket = ? AND event_date = ? AND event_id = ?`,
		bucket, date, eventID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&event.ID, &event.EventType, &event.Severity, &event.UserID, &event.SessionID,
		&ipStr, &event.UserAgent, &event.Timestamp, &detailsJSON, &event.ThreatScore,
		&event.IsBlocked, &event.InvestigationStatus, &event.ResponseActions)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("security event %s: %w", eventID, models.ErrNotFound)
		}
		util.Error("Failed to get security event",
			zap.String("event_id", eventID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get security event: %w", err)
	}

	event.IPAddress = parseIP(ipStr)
	if detailsJSON != "" {
		if err := json.Unmarshal([]byte(detailsJSON), &event.EventData); err != nil {
			util.Warn("Failed to unmarshal event details",
				zap.String("event_id", eventID),
				zap.Error(err))
		}
	}

	return event, nil
}

// UpdateInvestigation sets the only two mutable fields of a persisted event.
func (r *EventRepository) UpdateInvestigation(ctx context.Context, eventID, status string, responseActions []string) error {
	var bucket int
	var date string

	lookup := r.client.Query(`
        SELECT event_bucket, event_date FROM security_events_by_id WHERE event_id = ?`,
		eventID).WithContext(ctx)
	if err := r.client.ScanWithRetry(lookup, &bucket, &date); err != nil {
		return fmt.Errorf("failed to locate security event for update: %w", err)
	}

	query := r.client.Query(`
        UPDATE security_events SET investigation_status = ?, response_actions = ?
        WHERE event_bucket = ? AND event_date = ? AND event_id = ?`,
		status, responseActions, bucket, date, eventID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to update event investigation",
			zap.String("event_id", eventID),
			zap.Error(err))
		return fmt.Errorf("failed to update event investigation: %w", err)
	}

	return nil
}

// CountRecentByIP counts events from one source IP inside a time window,
// optionally filtered by event type. Used for pattern occurrence limits.
func (r *EventRepository) CountRecentByIP(ctx context.Context, ip string, since, until time.Time, eventType string) (int, error) {
	var count int

	if eventType != "" {
		query := r.client.Query(`
            SELECT COUNT(*) FROM security_events_by_ip
            WHERE ip_address = ? AND event_time >= ? AND event_time <= ? AND event_type = ? ALLOW FILTERING`,
			ip, since, until, eventType).WithContext(ctx)
		if err := r.client.ScanWithRetry(query, &count); err != nil {
			return 0, fmt.Errorf("failed to count events by ip: %w", err)
		}
		return count, nil
	}

	query := r.client.Prepared.CountEventsByIP.Bind(ip, since, until).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &count); err != nil {
		return 0, fmt.Errorf("failed to count events by ip: %w", err)
	}
	return count, nil
}

// UserEventSummary is the slice of history the behavioral scorer needs.
type UserEventSummary struct {
	EventID     string
	EventType   string
	IPAddress   string
	GeoLocation string
	Timestamp   time.Time
	ThreatScore int
}

// ListRecentByUser returns a user's events since the given instant,
// newest first, capped at limit.
func (r *EventRepository) ListRecentByUser(ctx context.Context, userID string, since time.Time, limit int) ([]UserEventSummary, error) {
	iter := r.client.Query(`
        SELECT event_id, event_type, ip_address, geo_location, event_time, threat_score
        FROM security_events_by_user
        WHERE user_id = ? AND event_time >= ?
        LIMIT ?`,
		userID, since, limit).WithContext(ctx).Iter()

	var out []UserEventSummary
	var s UserEventSummary
	for iter.Scan(&s.EventID, &s.EventType, &s.IPAddress, &s.GeoLocation, &s.Timestamp, &s.ThreatScore) {
		out = append(out, s)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list events by user: %w", err)
	}
	return out, nil
}

// ListRecentIPsByUser returns the distinct source IPs a user appeared from
// since the given instant.
func (r *EventRepository) ListRecentIPsByUser(ctx context.Context, userID string, since time.Time) ([]string, error) {
	iter := r.client.Query(`
        SELECT ip_address FROM security_events_by_user
        WHERE user_id = ? AND event_time >= ?`,
		userID, since).WithContext(ctx).Iter()

	seen := make(map[string]struct{})
	var ip string
	for iter.Scan(&ip) {
		seen[ip] = struct{}{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list ips by user: %w", err)
	}

	out := make([]string, 0, len(seen))
	for ip := range seen {
		out = append(out, ip)
	}
	return out, nil
}
