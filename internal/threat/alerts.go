package threat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stronghold-security/internal/client"
	"stronghold-security/internal/models"
	"stronghold-security/internal/util"
)

// AlertStore is the alert persistence surface the manager needs.
// MergeAlert persists the merge without modifying the passed alert; the
// manager applies the in-memory update itself.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert *models.SecurityAlert) error
	GetAlertByID(ctx context.Context, alertID string) (*models.SecurityAlert, error)
	FindMergeCandidate(ctx context.Context, patternID, sourceIP string, cutoff time.Time) (*models.SecurityAlert, error)
	MergeAlert(ctx context.Context, alert *models.SecurityAlert, eventID string, occurredAt time.Time) error
	UpdateAlertStatus(ctx context.Context, alertID, status string) error
}

// AlertIndexer pushes alerts into the search index.
type AlertIndexer interface {
	IndexAlert(ctx context.Context, alert *models.SecurityAlert) error
}

// ESAlertIndexer indexes alerts into Elasticsearch for operator search.
type ESAlertIndexer struct {
	es *client.ESClient
}

func NewESAlertIndexer(es *client.ESClient) *ESAlertIndexer {
	return &ESAlertIndexer{es: es}
}

func (i *ESAlertIndexer) IndexAlert(ctx context.Context, alert *models.SecurityAlert) error {
	res, err := i.es.IndexDocument(ctx, i.es.AlertIndex(), alert.ID, alert)
	if err != nil {
		return fmt.Errorf("failed to index alert: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("failed to index alert: %s", res.String())
	}
	return nil
}

// AlertQuery filters the alert search surface.
type AlertQuery struct {
	Text     string
	Severity string
	Status   string
	SourceIP string
	Limit    int
	Offset   int
}

// AlertSearcher answers operator queries over indexed alerts.
type AlertSearcher interface {
	SearchAlerts(ctx context.Context, q AlertQuery) ([]models.SecurityAlert, int64, error)
}

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// SearchAlerts runs a filtered search over the alert index, newest first.
func (i *ESAlertIndexer) SearchAlerts(ctx context.Context, q AlertQuery) ([]models.SecurityAlert, int64, error) {
	must := make([]map[string]interface{}, 0, 4)
	if q.Text != "" {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  q.Text,
				"fields": []string{"title", "alert_type"},
			},
		})
	}
	if q.Severity != "" {
		must = append(must, map[string]interface{}{"term": map[string]interface{}{"severity": q.Severity}})
	}
	if q.Status != "" {
		must = append(must, map[string]interface{}{"term": map[string]interface{}{"status": q.Status}})
	}
	if q.SourceIP != "" {
		must = append(must, map[string]interface{}{"term": map[string]interface{}{"source_ip": q.SourceIP}})
	}
	if len(must) == 0 {
		must = append(must, map[string]interface{}{"match_all": map[string]interface{}{}})
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"must": must},
		},
		"sort": []map[string]interface{}{
			{"last_occurrence": map[string]interface{}{"order": "desc"}},
		},
		"size": limit,
		"from": offset,
	}

	res, err := i.es.Search(ctx, i.es.AlertIndex(), query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search alerts: %w", err)
	}

	var result struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source models.SecurityAlert `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := i.es.ParseResponse(res, &result); err != nil {
		return nil, 0, fmt.Errorf("failed to search alerts: %w", err)
	}

	alerts := make([]models.SecurityAlert, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		alerts = append(alerts, hit.Source)
	}
	return alerts, result.Hits.Total.Value, nil
}

// AlertManager creates alerts for pattern matches and merges repeats from
// the same pattern and source IP inside the pattern's time window. Merge
// only considers actionable alerts; a resolved or suppressed alert never
// reopens, a fresh one is raised instead.
type AlertManager struct {
	store   AlertStore
	indexer AlertIndexer
	now     func() time.Time
}

func NewAlertManager(store AlertStore, indexer AlertIndexer) *AlertManager {
	return &AlertManager{
		store:   store,
		indexer: indexer,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RaiseOrMerge records a pattern match. Returns the alert and whether it
// was merged into an existing one.
func (m *AlertManager) RaiseOrMerge(ctx context.Context, event *models.SecurityEvent, pattern *models.ThreatPattern, severity string) (*models.SecurityAlert, bool, error) {
	sourceIP := ""
	if event.IPAddress != nil {
		sourceIP = event.IPAddress.String()
	}

	window := time.Duration(pattern.DetectionRules.TimeWindowMinutes) * time.Minute
	cutoff := m.now().Add(-window)

	existing, err := m.store.FindMergeCandidate(ctx, pattern.ID, sourceIP, cutoff)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find merge candidate: %w", err)
	}

	if existing != nil && existing.IsActionable() {
		if err := m.store.MergeAlert(ctx, existing, event.ID, event.Timestamp); err != nil {
			return nil, false, fmt.Errorf("failed to merge alert: %w", err)
		}
		existing.EventCount++
		existing.LastOccurrence = event.Timestamp
		existing.RelatedEvents = append(existing.RelatedEvents, event.ID)

		m.index(ctx, existing)

		util.Info("Alert merged",
			zap.String("alert_id", existing.ID),
			zap.String("pattern_id", pattern.ID),
			zap.Int("event_count", existing.EventCount))

		return existing, true, nil
	}

	alert := &models.SecurityAlert{
		ID:              uuid.New().String(),
		AlertType:       pattern.PatternType,
		PatternID:       pattern.ID,
		Severity:        severity,
		Title:           fmt.Sprintf("%s detected from %s", pattern.Name, sourceIP),
		SourceIP:        sourceIP,
		FirstOccurrence: event.Timestamp,
		LastOccurrence:  event.Timestamp,
		EventCount:      1,
		ConfidenceScore: confidence(event.ThreatScore),
		Status:          models.AlertOpen,
		RelatedEvents:   []string{event.ID},
	}
	if event.UserID != "" {
		alert.AffectedResources = []string{"user:" + event.UserID}
	}

	if err := m.store.InsertAlert(ctx, alert); err != nil {
		return nil, false, fmt.Errorf("failed to create alert: %w", err)
	}

	m.index(ctx, alert)

	util.Info("Alert raised",
		zap.String("alert_id", alert.ID),
		zap.String("pattern_id", pattern.ID),
		zap.String("severity", severity),
		zap.String("source_ip", sourceIP))

	return alert, false, nil
}

func (m *AlertManager) Get(ctx context.Context, alertID string) (*models.SecurityAlert, error) {
	return m.store.GetAlertByID(ctx, alertID)
}

// Transition moves an alert through its lifecycle, rejecting moves the
// state machine does not allow.
func (m *AlertManager) Transition(ctx context.Context, alertID, target string) (*models.SecurityAlert, error) {
	alert, err := m.store.GetAlertByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if !alert.CanTransition(target) {
		return nil, fmt.Errorf("invalid alert transition: %s -> %s", alert.Status, target)
	}
	if err := m.store.UpdateAlertStatus(ctx, alertID, target); err != nil {
		return nil, err
	}
	alert.Status = target

	m.index(ctx, alert)

	util.Info("Alert status changed",
		zap.String("alert_id", alertID),
		zap.String("status", target))

	return alert, nil
}

// index is best-effort: a search outage never fails alert handling.
func (m *AlertManager) index(ctx context.Context, alert *models.SecurityAlert) {
	if m.indexer == nil {
		return
	}
	if err := m.indexer.IndexAlert(ctx, alert); err != nil {
		util.Warn("Failed to index alert",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
	}
}

func confidence(threatScore int) float64 {
	c := float64(threatScore) / 100
	if c > 1 {
		return 1
	}
	return c
}
