package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"stronghold-security/internal/session"
	"stronghold-security/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// SessionHandler handles HTTP requests for session lifecycle and MFA
type SessionHandler struct {
	sessions *session.Manager
	logger   *zap.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *session.Manager, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// RegisterRoutes registers all session routes
func (h *SessionHandler) RegisterRoutes(router chi.Router) {
	router.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Post("/failed-login", h.RecordFailedLogin)
		r.Get("/{userID}", h.ListSessions)
		r.Get("/{userID}/lockout", h.GetLockoutStatus)
		r.Delete("/{userID}", h.TerminateAllSessions)
		r.Post("/{userID}/{sessionID}/validate", h.ValidateSession)
		r.Delete("/{userID}/{sessionID}", h.TerminateSession)
	})

	router.Route("/mfa", func(r chi.Router) {
		r.Post("/{userID}/enroll", h.EnrollTOTP)
		r.Post("/{userID}/verify", h.VerifyTOTP)
		r.Delete("/{userID}", h.DisableTOTP)
	})
}

type sessionCreateRequest struct {
	UserID    string `json:"user_id"`
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
}

// CreateSession establishes a new session for a user
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req sessionCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	ip := net.ParseIP(req.IPAddress)
	if req.UserID == "" || ip == nil {
		respondWithError(w, http.StatusBadRequest, errors.New("user_id and a valid ip_address are required"), "Invalid session request")
		return
	}

	sess, err := h.sessions.CreateSession(ctx, req.UserID, ip, req.UserAgent)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to create session")
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(sess, "Session created"))
	h.logger.Info("Session created via HTTP",
		util.String("session_id", sess.SessionID),
		util.String("user_id", req.UserID),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "CreateSession"),
	)
}

// ValidateSession checks a session and refreshes its idle window
func (h *SessionHandler) ValidateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := chi.URLParam(r, "userID")
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := h.sessions.ValidateSession(ctx, userID, sessionID)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to validate session")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(sess, "Session is valid"))
}

// ListSessions returns a user's active sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := chi.URLParam(r, "userID")
	sessions, err := h.sessions.ListSessions(ctx, userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err, "Failed to list sessions")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(sessions, "Sessions retrieved"))
}

// TerminateSession ends a single session
func (h *SessionHandler) TerminateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := chi.URLParam(r, "userID")
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.sessions.TerminateSession(ctx, userID, sessionID); err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to terminate session")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Session terminated"))
	h.logger.Info("Session terminated via HTTP",
		util.String("session_id", sessionID),
		util.String("user_id", userID),
		util.String("method", "TerminateSession"),
	)
}

// TerminateAllSessions ends every active session for a user
func (h *SessionHandler) TerminateAllSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := chi.URLParam(r, "userID")
	terminated, err := h.sessions.TerminateAllSessions(ctx, userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err, "Failed to terminate sessions")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(map[string]int{"terminated": terminated}, "Sessions terminated"))
	h.logger.Info("All sessions terminated via HTTP",
		util.String("user_id", userID),
		util.Int("terminated", terminated),
		util.String("method", "TerminateAllSessions"),
	)
}

// RecordFailedLogin registers a failed login attempt against a user
func (h *SessionHandler) RecordFailedLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req sessionCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	ip := net.ParseIP(req.IPAddress)
	if req.UserID == "" || ip == nil {
		respondWithError(w, http.StatusBadRequest, errors.New("user_id and a valid ip_address are required"), "Invalid failed login report")
		return
	}

	if err := h.sessions.RecordFailedLogin(ctx, req.UserID, ip, req.UserAgent); err != nil {
		respondWithError(w, http.StatusInternalServerError, err, "Failed to record failed login")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Failed login recorded"))
}

// GetLockoutStatus reports whether a user is currently locked out
func (h *SessionHandler) GetLockoutStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := chi.URLParam(r, "userID")
	locked, err := h.sessions.IsUserLockedOut(ctx, userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err, "Failed to check lockout status")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(map[string]bool{"locked_out": locked}, "Lockout status retrieved"))
}

// EnrollTOTP provisions a TOTP secret for a user
func (h *SessionHandler) EnrollTOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := chi.URLParam(r, "userID")
	secret, uri, err := h.sessions.EnrollTOTP(ctx, userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err, "Failed to enroll TOTP")
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(map[string]string{
		"secret":           secret,
		"provisioning_uri": uri,
	}, "TOTP enrolled"))
	h.logger.Info("TOTP enrolled via HTTP",
		util.String("user_id", userID),
		util.String("method", "EnrollTOTP"),
	)
}

// VerifyTOTP validates a TOTP code and marks the session MFA-verified
func (h *SessionHandler) VerifyTOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := chi.URLParam(r, "userID")

	var req struct {
		SessionID string `json:"session_id"`
		Code      string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.sessions.VerifyTOTP(ctx, userID, req.SessionID, req.Code); err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to verify TOTP code")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "TOTP code verified"))
	h.logger.Info("TOTP verified via HTTP",
		util.String("user_id", userID),
		util.String("session_id", req.SessionID),
		util.String("method", "VerifyTOTP"),
	)
}

// DisableTOTP removes a user's TOTP enrollment
func (h *SessionHandler) DisableTOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := chi.URLParam(r, "userID")
	if err := h.sessions.DisableTOTP(ctx, userID); err != nil {
		respondWithError(w, http.StatusInternalServerError, err, "Failed to disable TOTP")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "TOTP disabled"))
	h.logger.Info("TOTP disabled via HTTP",
		util.String("user_id", userID),
		util.String("method", "DisableTOTP"),
	)
}
