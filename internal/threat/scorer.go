package threat

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"stronghold-security/internal/config"
	"stronghold-security/internal/models"
	"stronghold-security/internal/repository/scylla"
	"stronghold-security/internal/util"
)

// Base scores by event type. Unknown types score as suspicious activity.
var baseScores = map[string]int{
	models.EventLoginAttempt:        10,
	models.EventDataAccess:          20,
	models.EventFailedLogin:         25,
	models.EventSuspiciousActivity:  40,
	models.EventAnomalyDetected:     50,
	models.EventPrivilegeEscalation: 70,
}

const (
	badIPScore            = 30
	highRiskCountryScore  = 25
	nightAccessScore      = 15
	offPatternHourScore   = 10
	offPatternCountry     = 15
	riskIndicatorScore    = 5
	blockThresholdDefault = 85
	privEscBlockScore     = 70
	failedLoginBlockScore = 80
	behaviorHistoryLimit  = 500
)

// EventHistory is the slice of the event store the behavioral scorer reads.
type EventHistory interface {
	ListRecentByUser(ctx context.Context, userID string, since time.Time, limit int) ([]scylla.UserEventSummary, error)
}

// Scorer computes the 0-100 threat score for an event from its type,
// source reputation, geography, time of day, and the user's recent
// behavior. The score is always recomputed here; values supplied on the
// incoming event are discarded.
type Scorer struct {
	cfg     config.ThreatConfig
	history EventHistory
	now     func() time.Time

	badIPs            map[string]struct{}
	highRiskCountries map[string]struct{}
}

func NewScorer(cfg config.ThreatConfig, history EventHistory) *Scorer {
	s := &Scorer{
		cfg:               cfg,
		history:           history,
		now:               func() time.Time { return time.Now().UTC() },
		badIPs:            make(map[string]struct{}, len(cfg.KnownBadIPs)),
		highRiskCountries: make(map[string]struct{}, len(cfg.HighRiskCountries)),
	}
	for _, ip := range cfg.KnownBadIPs {
		s.badIPs[ip] = struct{}{}
	}
	for _, c := range cfg.HighRiskCountries {
		s.highRiskCountries[strings.ToUpper(c)] = struct{}{}
	}
	return s
}

// Score computes the clamped threat score for the event.
func (s *Scorer) Score(ctx context.Context, event *models.SecurityEvent) int {
	score := s.baseScore(event.EventType)
	score += s.reputationScore(event)
	score += s.geoScore(event)
	score += s.temporalScore(event.Timestamp)
	score += s.behavioralScore(ctx, event)
	score += riskIndicatorScore * len(event.EventData.RiskIndicators)

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// ShouldBlock applies the blocking policy to a scored event.
func (s *Scorer) ShouldBlock(eventType string, score int) bool {
	threshold := s.cfg.BlockThreshold
	if threshold <= 0 {
		threshold = blockThresholdDefault
	}
	if score >= threshold {
		return true
	}
	if eventType == models.EventPrivilegeEscalation && score >= privEscBlockScore {
		return true
	}
	if eventType == models.EventFailedLogin && score >= failedLoginBlockScore {
		return true
	}
	return false
}

func (s *Scorer) baseScore(eventType string) int {
	if base, ok := baseScores[eventType]; ok {
		return base
	}
	return baseScores[models.EventSuspiciousActivity]
}

func (s *Scorer) reputationScore(event *models.SecurityEvent) int {
	if event.IPAddress == nil {
		return 0
	}
	if _, bad := s.badIPs[event.IPAddress.String()]; bad {
		return badIPScore
	}
	return 0
}

func (s *Scorer) geoScore(event *models.SecurityEvent) int {
	loc := strings.ToUpper(event.EventData.GeoLocation)
	if loc == "" {
		return 0
	}
	if _, risky := s.highRiskCountries[loc]; risky {
		return highRiskCountryScore
	}
	return 0
}

// temporalScore adds the night-access penalty for events inside the
// configured window, which wraps midnight.
func (s *Scorer) temporalScore(at time.Time) int {
	hour := at.UTC().Hour()
	start, end := s.cfg.NightWindowStartHour, s.cfg.NightWindowEndHour
	if start == end {
		return 0
	}
	inWindow := false
	if start > end {
		inWindow = hour >= start || hour < end
	} else {
		inWindow = hour >= start && hour < end
	}
	if inWindow {
		return nightAccessScore
	}
	return 0
}

// behavioralScore compares the event against the user's recent history.
// An unusual hour or an unseen country each add a penalty. History
// lookups that fail degrade to zero rather than failing the event.
func (s *Scorer) behavioralScore(ctx context.Context, event *models.SecurityEvent) int {
	if event.UserID == "" || s.history == nil {
		return 0
	}

	since := s.now().AddDate(0, 0, -s.cfg.BehaviorHistoryDays)
	history, err := s.history.ListRecentByUser(ctx, event.UserID, since, behaviorHistoryLimit)
	if err != nil {
		util.Warn("Behavioral history lookup failed, scoring without it",
			zap.String("user_id", event.UserID),
			zap.Error(err))
		return 0
	}
	if len(history) == 0 {
		return 0
	}

	score := 0

	hourSeen := make(map[int]bool)
	countrySeen := make(map[string]bool)
	for _, h := range history {
		hourSeen[h.Timestamp.UTC().Hour()] = true
		if h.GeoLocation != "" {
			countrySeen[strings.ToUpper(h.GeoLocation)] = true
		}
	}

	if !hourSeen[event.Timestamp.UTC().Hour()] {
		score += offPatternHourScore
	}
	loc := strings.ToUpper(event.EventData.GeoLocation)
	if loc != "" && len(countrySeen) > 0 && !countrySeen[loc] {
		score += offPatternCountry
	}

	return score
}
