package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"stronghold-security/internal/models"
	"stronghold-security/internal/repository/scylla"
	"stronghold-security/internal/threat"
	"stronghold-security/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// SecurityHandler handles HTTP requests for security events, alerts
// and threat patterns
type SecurityHandler struct {
	matcher  *threat.Matcher
	events   *scylla.EventRepository
	alerts   *threat.AlertManager
	patterns *scylla.PatternRepository
	cache    *threat.PatternCache
	search   threat.AlertSearcher
	logger   *zap.Logger
}

// NewSecurityHandler creates a new security handler. The searcher may be
// nil when no search backend is configured; the search route then
// responds 503.
func NewSecurityHandler(matcher *threat.Matcher, events *scylla.EventRepository, alerts *threat.AlertManager, patterns *scylla.PatternRepository, cache *threat.PatternCache, search threat.AlertSearcher, logger *zap.Logger) *SecurityHandler {
	return &SecurityHandler{
		matcher:  matcher,
		events:   events,
		alerts:   alerts,
		patterns: patterns,
		cache:    cache,
		search:   search,
		logger:   logger,
	}
}

// RegisterRoutes registers all security routes
func (h *SecurityHandler) RegisterRoutes(router chi.Router) {
	router.Route("/events", func(r chi.Router) {
		r.Post("/", h.IngestEvent)
		r.Get("/{eventID}", h.GetEvent)
		r.Patch("/{eventID}/investigation", h.UpdateInvestigation)
	})

	router.Route("/alerts", func(r chi.Router) {
		r.Get("/", h.SearchAlerts)
		r.Get("/{alertID}", h.GetAlert)
		r.Post("/{alertID}/status", h.TransitionAlert)
	})

	router.Route("/patterns", func(r chi.Router) {
		r.Post("/", h.CreatePattern)
		r.Get("/", h.ListActivePatterns)
		r.Patch("/{patternID}/active", h.SetPatternActive)
	})
}

type eventIngestRequest struct {
	EventType string           `json:"event_type"`
	UserID    string           `json:"user_id"`
	SessionID string           `json:"session_id"`
	IPAddress string           `json:"ip_address"`
	UserAgent string           `json:"user_agent"`
	EventData models.EventData `json:"event_data"`
}

// IngestEvent runs a raw security event through scoring, pattern
// matching and response execution, then persists it
func (h *SecurityHandler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req eventIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	ip := net.ParseIP(req.IPAddress)
	if ip == nil {
		respondWithError(w, http.StatusBadRequest, errors.New("invalid ip address"), "A valid source IP address is required")
		return
	}

	event := &models.SecurityEvent{
		EventType: req.EventType,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		IPAddress: ip,
		UserAgent: util.TruncateUserAgent(req.UserAgent),
		EventData: req.EventData,
	}

	processed, err := h.matcher.ProcessSecurityEvent(ctx, event)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Failed to process security event")
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(processed, "Security event processed"))
	h.logger.Info("Security event ingested via HTTP",
		util.String("event_id", processed.ID),
		util.String("event_type", processed.EventType),
		util.Int("threat_score", processed.ThreatScore),
		util.Bool("blocked", processed.IsBlocked),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "IngestEvent"),
	)
}

// GetEvent handles event retrieval by ID
func (h *SecurityHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	eventID := chi.URLParam(r, "eventID")
	event, err := h.events.GetEventByID(ctx, eventID)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to get security event")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(event, "Security event retrieved"))
}

// UpdateInvestigation updates the investigation status of an event
func (h *SecurityHandler) UpdateInvestigation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	eventID := chi.URLParam(r, "eventID")

	var req struct {
		Status          string   `json:"status"`
		ResponseActions []string `json:"response_actions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	switch req.Status {
	case models.InvestigationNone, models.InvestigationPending,
		models.InvestigationInProgress, models.InvestigationClosed:
	default:
		respondWithError(w, http.StatusBadRequest, errors.New("unknown investigation status"), "Invalid investigation status")
		return
	}

	if err := h.events.UpdateInvestigation(ctx, eventID, req.Status, req.ResponseActions); err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to update investigation")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Investigation updated"))
	h.logger.Info("Investigation updated via HTTP",
		util.String("event_id", eventID),
		util.String("status", req.Status),
		util.String("method", "UpdateInvestigation"),
	)
}

// GetAlert handles alert retrieval by ID
// SearchAlerts answers filtered operator queries over the alert index
func (h *SecurityHandler) SearchAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.search == nil {
		respondWithError(w, http.StatusServiceUnavailable,
			errors.New("alert search backend not configured"), "Alert search unavailable")
		return
	}

	params := r.URL.Query()
	query := threat.AlertQuery{
		Text:     params.Get("q"),
		Severity: params.Get("severity"),
		Status:   params.Get("status"),
		SourceIP: params.Get("source_ip"),
	}
	if v := params.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err, "Invalid limit parameter")
			return
		}
		query.Limit = limit
	}
	if v := params.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err, "Invalid offset parameter")
			return
		}
		query.Offset = offset
	}

	alerts, total, err := h.search.SearchAlerts(ctx, query)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err, "Failed to search security alerts")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"alerts": alerts,
		"total":  total,
	}, "Security alerts retrieved"))
}

func (h *SecurityHandler) GetAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	alertID := chi.URLParam(r, "alertID")
	alert, err := h.alerts.Get(ctx, alertID)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to get security alert")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(alert, "Security alert retrieved"))
}

// TransitionAlert moves an alert through its lifecycle
func (h *SecurityHandler) TransitionAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	alertID := chi.URLParam(r, "alertID")

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	alert, err := h.alerts.Transition(ctx, alertID, req.Status)
	if err != nil {
		statusCode := getStatusCode(err)
		if statusCode == http.StatusInternalServerError {
			statusCode = http.StatusConflict
		}
		respondWithError(w, statusCode, err, "Failed to transition alert")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(alert, "Alert transitioned"))
	h.logger.Info("Alert transitioned via HTTP",
		util.String("alert_id", alertID),
		util.String("status", req.Status),
		util.String("method", "TransitionAlert"),
	)
}

// CreatePattern registers a new threat detection pattern
func (h *SecurityHandler) CreatePattern(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var pattern models.ThreatPattern
	if err := json.NewDecoder(r.Body).Decode(&pattern); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if pattern.Name == "" || len(pattern.DetectionRules.Conditions) == 0 {
		respondWithError(w, http.StatusBadRequest, errors.New("pattern requires a name and at least one condition"), "Invalid threat pattern")
		return
	}

	if err := h.patterns.InsertPattern(ctx, &pattern); err != nil {
		respondWithError(w, http.StatusInternalServerError, err, "Failed to create threat pattern")
		return
	}
	h.cache.Invalidate()

	respondWithJSON(w, http.StatusCreated, successResponse(pattern, "Threat pattern created"))
	h.logger.Info("Threat pattern created via HTTP",
		util.String("pattern_id", pattern.ID),
		util.String("name", pattern.Name),
		util.String("method", "CreatePattern"),
	)
}

// ListActivePatterns returns the currently active patterns
func (h *SecurityHandler) ListActivePatterns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	patterns, err := h.cache.ActivePatterns(ctx)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err, "Failed to list threat patterns")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(patterns, "Threat patterns retrieved"))
}

// SetPatternActive toggles a pattern on or off
func (h *SecurityHandler) SetPatternActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	patternID := chi.URLParam(r, "patternID")

	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.patterns.SetPatternActive(ctx, patternID, req.Active); err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to update threat pattern")
		return
	}
	h.cache.Invalidate()

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Threat pattern updated"))
	h.logger.Info("Threat pattern toggled via HTTP",
		util.String("pattern_id", patternID),
		util.Bool("active", req.Active),
		util.String("method", "SetPatternActive"),
	)
}
