package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"stronghold-security/internal/audit"
	"stronghold-security/internal/compliance"
	"stronghold-security/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ComplianceHandler handles HTTP requests for compliance reports and
// the audit trail
type ComplianceHandler struct {
	generator *compliance.Generator
	store     *audit.Store
	logger    *zap.Logger
}

// NewComplianceHandler creates a new compliance handler
func NewComplianceHandler(generator *compliance.Generator, store *audit.Store, logger *zap.Logger) *ComplianceHandler {
	return &ComplianceHandler{
		generator: generator,
		store:     store,
		logger:    logger,
	}
}

// RegisterRoutes registers all compliance routes
func (h *ComplianceHandler) RegisterRoutes(router chi.Router) {
	router.Route("/reports", func(r chi.Router) {
		r.Post("/", h.GenerateReport)
		r.Get("/{reportID}", h.GetReport)
	})

	router.Route("/audit", func(r chi.Router) {
		r.Get("/users/{userID}", h.GetUserAuditTrail)
		r.Post("/retention-sweep", h.RunRetentionSweep)
	})
}

type reportRequest struct {
	ReportType  string    `json:"report_type"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	GeneratedBy string    `json:"generated_by"`
}

// GenerateReport kicks off asynchronous report generation and returns
// the report ID for polling
func (h *ComplianceHandler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if !req.PeriodEnd.After(req.PeriodStart) {
		respondWithError(w, http.StatusBadRequest, errors.New("period end must be after period start"), "Invalid reporting period")
		return
	}

	reportID, err := h.generator.GenerateReport(ctx, req.ReportType, req.PeriodStart, req.PeriodEnd, req.GeneratedBy)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Failed to start report generation")
		return
	}

	respondWithJSON(w, http.StatusAccepted, successResponse(map[string]string{"report_id": reportID}, "Report generation started"))
	h.logger.Info("Compliance report requested via HTTP",
		util.String("report_id", reportID),
		util.String("report_type", req.ReportType),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "GenerateReport"),
	)
}

// GetReport handles report retrieval by ID; callers poll this until the
// report leaves the generating state
func (h *ComplianceHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	reportID := chi.URLParam(r, "reportID")
	report, err := h.generator.GetReport(ctx, reportID)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to get compliance report")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(report, "Compliance report retrieved"))
}

// GetUserAuditTrail returns the most recent audit events for a user
func (h *ComplianceHandler) GetUserAuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := chi.URLParam(r, "userID")

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil || parsedLimit <= 0 || parsedLimit > 1000 {
			respondWithError(w, http.StatusBadRequest, errors.New("invalid limit"), "Limit must be between 1 and 1000")
			return
		}
		limit = parsedLimit
	}

	events, err := h.store.ListByUser(ctx, userID, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err, "Failed to get audit trail")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(events, "Audit trail retrieved"))
	h.logger.Debug("Audit trail retrieved via HTTP",
		util.String("user_id", userID),
		util.Int("count", len(events)),
		util.String("method", "GetUserAuditTrail"),
	)
}

// RunRetentionSweep triggers an immediate retention sweep over the
// audit trail
func (h *ComplianceHandler) RunRetentionSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	if err := h.store.RetentionSweep(ctx, time.Now().UTC()); err != nil {
		respondWithError(w, http.StatusInternalServerError, err, "Failed to run retention sweep")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Retention sweep completed"))
	h.logger.Info("Retention sweep triggered via HTTP",
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "RunRetentionSweep"),
	)
}
