package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"stronghold-security/internal/client"
	"stronghold-security/internal/models"
	"stronghold-security/internal/util"
)

// Store is the read and maintenance side of the audit trail. Report
// generation aggregates over it; the retention sweep deletes expired rows.
type Store struct {
	client *client.ClickHouseClient
}

func NewStore(chClient *client.ClickHouseClient) *Store {
	return &Store{client: chClient}
}

func (s *Store) CountInRange(ctx context.Context, start, end time.Time) (uint64, error) {
	var count uint64
	row := s.client.QueryRow(ctx, `
        SELECT count() FROM audit_events
        WHERE event_time >= ? AND event_time <= ?`, start, end)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	return count, nil
}

// CountViolationsInRange counts failed outcomes bound to at least one
// compliance requirement.
func (s *Store) CountViolationsInRange(ctx context.Context, start, end time.Time) (uint64, error) {
	var count uint64
	row := s.client.QueryRow(ctx, `
        SELECT count() FROM audit_events
        WHERE event_time >= ? AND event_time <= ?
          AND outcome = 'failure' AND notEmpty(compliance_requirements)`,
		start, end)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count compliance violations: %w", err)
	}
	return count, nil
}

func (s *Store) CountCriticalInRange(ctx context.Context, start, end time.Time) (uint64, error) {
	var count uint64
	row := s.client.QueryRow(ctx, `
        SELECT count() FROM audit_events
        WHERE event_time >= ? AND event_time <= ? AND severity = 'critical'`,
		start, end)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count critical audit events: %w", err)
	}
	return count, nil
}

// CountActionsInRange counts events whose action is in the given set.
func (s *Store) CountActionsInRange(ctx context.Context, start, end time.Time, actions []string) (uint64, error) {
	var count uint64
	row := s.client.QueryRow(ctx, `
        SELECT count() FROM audit_events
        WHERE event_time >= ? AND event_time <= ? AND has(?, action)`,
		start, end, actions)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit events by action: %w", err)
	}
	return count, nil
}

func (s *Store) CountByCategory(ctx context.Context, start, end time.Time) (map[string]uint64, error) {
	rows, err := s.client.QueryRows(ctx, `
        SELECT category, count() FROM audit_events
        WHERE event_time >= ? AND event_time <= ?
        GROUP BY category`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit events by category: %w", err)
	}
	defer rows.Close()

	out := make(map[string]uint64)
	for rows.Next() {
		var category string
		var count uint64
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("failed to scan category count: %w", err)
		}
		out[category] = count
	}
	return out, rows.Err()
}

// CountViolationsByCategory breaks the violation count down per category
// for the framework sections of compliance reports.
func (s *Store) CountViolationsByCategory(ctx context.Context, start, end time.Time) (map[string]uint64, error) {
	rows, err := s.client.QueryRows(ctx, `
        SELECT category, count() FROM audit_events
        WHERE event_time >= ? AND event_time <= ?
          AND outcome = 'failure' AND notEmpty(compliance_requirements)
        GROUP BY category`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to count violations by category: %w", err)
	}
	defer rows.Close()

	out := make(map[string]uint64)
	for rows.Next() {
		var category string
		var count uint64
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("failed to scan violation count: %w", err)
		}
		out[category] = count
	}
	return out, rows.Err()
}

func (s *Store) CountByOutcome(ctx context.Context, start, end time.Time) (map[string]uint64, error) {
	rows, err := s.client.QueryRows(ctx, `
        SELECT outcome, count() FROM audit_events
        WHERE event_time >= ? AND event_time <= ?
        GROUP BY outcome`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit events by outcome: %w", err)
	}
	defer rows.Close()

	out := make(map[string]uint64)
	for rows.Next() {
		var outcome string
		var count uint64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		out[outcome] = count
	}
	return out, rows.Err()
}

// ListViolations returns the violations in a period, newest first, for the
// findings section of compliance reports.
func (s *Store) ListViolations(ctx context.Context, start, end time.Time, limit int) ([]*models.AuditEvent, error) {
	rows, err := s.client.QueryRows(ctx, `
        SELECT audit_id, category, action, severity, outcome, user_id, actor_id,
            resource_type, resource_id, ip_address, event_time,
            compliance_requirements, retention_period_days, before_state, after_state
        FROM audit_events
        WHERE event_time >= ? AND event_time <= ?
          AND outcome = 'failure' AND notEmpty(compliance_requirements)
        ORDER BY event_time DESC
        LIMIT ?`, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list compliance violations: %w", err)
	}
	defer rows.Close()

	return scanAuditEvents(rows)
}

// ListByUser returns a user's audit trail for data subject access exports.
func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]*models.AuditEvent, error) {
	rows, err := s.client.QueryRows(ctx, `
        SELECT audit_id, category, action, severity, outcome, user_id, actor_id,
            resource_type, resource_id, ip_address, event_time,
            compliance_requirements, retention_period_days, before_state, after_state
        FROM audit_events
        WHERE user_id = ?
        ORDER BY event_time DESC
        LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events by user: %w", err)
	}
	defer rows.Close()

	return scanAuditEvents(rows)
}

type auditRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanAuditEvents(rows auditRows) ([]*models.AuditEvent, error) {
	var out []*models.AuditEvent
	for rows.Next() {
		var (
			e          models.AuditEvent
			ip         string
			retention  int32
			beforeJSON string
			afterJSON  string
		)
		if err := rows.Scan(&e.ID, &e.Category, &e.Action, &e.Severity, &e.Outcome,
			&e.UserID, &e.ActorID, &e.ResourceType, &e.ResourceID, &ip,
			&e.Timestamp, &e.ComplianceRequirements, &retention,
			&beforeJSON, &afterJSON); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.RetentionPeriodDays = int(retention)
		if ip != "" {
			e.IPAddress = net.ParseIP(ip)
		}
		if beforeJSON != "" {
			_ = json.Unmarshal([]byte(beforeJSON), &e.BeforeState)
		}
		if afterJSON != "" {
			_ = json.Unmarshal([]byte(afterJSON), &e.AfterState)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// RetentionSweep deletes every row past its category retention period.
// Each row carries its own retention_period_days, stamped at write time.
func (s *Store) RetentionSweep(ctx context.Context, now time.Time) error {
	err := s.client.Exec(ctx, `
        ALTER TABLE audit_events DELETE
        WHERE event_time < subtractDays(?, retention_period_days)`, now)
	if err != nil {
		util.Error("Retention sweep failed", zap.Error(err))
		return fmt.Errorf("failed to run retention sweep: %w", err)
	}

	util.Info("Retention sweep completed", zap.Time("as_of", now))
	return nil
}

// Sweeper runs the retention sweep on a fixed interval until stopped.
type Sweeper struct {
	store    *Store
	interval time.Duration
	stop     chan struct{}
	stopped  chan struct{}
}

func NewSweeper(store *Store, interval time.Duration) *Sweeper {
	s := &Sweeper{
		store:    store,
		interval: interval,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sweeper) run() {
	defer close(s.stopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if err := s.store.RetentionSweep(ctx, time.Now().UTC()); err != nil {
				util.Error("Scheduled retention sweep failed", zap.Error(err))
			}
			cancel()
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.stopped
}
