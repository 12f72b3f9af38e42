package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"stronghold-security/internal/compliance"
	"stronghold-security/internal/models"
	"stronghold-security/internal/session"
	"stronghold-security/internal/util"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// successResponse creates a successful response
func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// errorResponse creates an error response
func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		util.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	util.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func getStatusCode(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, compliance.ErrAuditUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrUserLockedOut):
		return http.StatusLocked
	case errors.Is(err, session.ErrSessionInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrInvalidTOTPCode):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrMFANotEnrolled):
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}
