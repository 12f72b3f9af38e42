package threat

import (
	"context"
	"time"

	"stronghold-security/internal/models"
	"stronghold-security/internal/repository/scylla"
)

// In-memory doubles for the persistence and side-effect surfaces the
// threat engine depends on.

type fakeEventStore struct {
	history    []scylla.UserEventSummary
	historyErr error

	ipCount  int
	countErr error

	inserted  []*models.SecurityEvent
	insertErr error

	investigations map[string]string
}

func (f *fakeEventStore) ListRecentByUser(ctx context.Context, userID string, since time.Time, limit int) ([]scylla.UserEventSummary, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history, nil
}

func (f *fakeEventStore) InsertEvent(ctx context.Context, event *models.SecurityEvent) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, event)
	return nil
}

func (f *fakeEventStore) CountRecentByIP(ctx context.Context, ip string, since, until time.Time, eventType string) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.ipCount, nil
}

func (f *fakeEventStore) UpdateInvestigation(ctx context.Context, eventID, status string, responseActions []string) error {
	if f.investigations == nil {
		f.investigations = make(map[string]string)
	}
	f.investigations[eventID] = status
	return nil
}

type fakePatternStore struct {
	patterns  []*models.ThreatPattern
	listErr   error
	listCalls int
}

func (f *fakePatternStore) InsertPattern(ctx context.Context, pattern *models.ThreatPattern) error {
	f.patterns = append(f.patterns, pattern)
	return nil
}

func (f *fakePatternStore) GetPatternByID(ctx context.Context, patternID string) (*models.ThreatPattern, error) {
	for _, p := range f.patterns {
		if p.ID == patternID {
			return p, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakePatternStore) ListActivePatterns(ctx context.Context) ([]*models.ThreatPattern, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.patterns, nil
}

func (f *fakePatternStore) SetPatternActive(ctx context.Context, patternID string, active bool) error {
	return nil
}

type fakeAlertStore struct {
	candidate *models.SecurityAlert
	findErr   error

	byID map[string]*models.SecurityAlert

	inserted  []*models.SecurityAlert
	insertErr error

	mergedEvents  []string
	statusUpdates map[string]string
}

func (f *fakeAlertStore) InsertAlert(ctx context.Context, alert *models.SecurityAlert) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, alert)
	return nil
}

func (f *fakeAlertStore) GetAlertByID(ctx context.Context, alertID string) (*models.SecurityAlert, error) {
	if a, ok := f.byID[alertID]; ok {
		return a, nil
	}
	return nil, models.ErrNotFound
}

func (f *fakeAlertStore) FindMergeCandidate(ctx context.Context, patternID, sourceIP string, cutoff time.Time) (*models.SecurityAlert, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.candidate, nil
}

func (f *fakeAlertStore) MergeAlert(ctx context.Context, alert *models.SecurityAlert, eventID string, occurredAt time.Time) error {
	f.mergedEvents = append(f.mergedEvents, eventID)
	return nil
}

func (f *fakeAlertStore) UpdateAlertStatus(ctx context.Context, alertID, status string) error {
	if f.statusUpdates == nil {
		f.statusUpdates = make(map[string]string)
	}
	f.statusUpdates[alertID] = status
	return nil
}

type notification struct {
	kind      string
	recipient string
	payload   interface{}
}

type fakeNotifier struct {
	sent []notification
	err  error
}

func (f *fakeNotifier) PublishNotification(ctx context.Context, kind, recipient string, payload interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, notification{kind: kind, recipient: recipient, payload: payload})
	return nil
}

type fakeAuditRecorder struct {
	records []*models.AuditEvent
}

func (f *fakeAuditRecorder) Record(event *models.AuditEvent) error {
	f.records = append(f.records, event)
	return nil
}

type fakeBlocker struct {
	keys map[string]time.Duration
	err  error
}

func (f *fakeBlocker) SetLockout(key string, ttl time.Duration) error {
	if f.err != nil {
		return f.err
	}
	if f.keys == nil {
		f.keys = make(map[string]time.Duration)
	}
	f.keys[key] = ttl
	return nil
}

type fakeTerminator struct {
	calls int
	err   error
}

func (f *fakeTerminator) TerminateAllSessions(ctx context.Context, userID string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.calls++
	return 2, nil
}
