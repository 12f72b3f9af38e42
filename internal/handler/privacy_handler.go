package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"stronghold-security/internal/encryption"
	"stronghold-security/internal/gdpr"
	"stronghold-security/internal/models"
	"stronghold-security/internal/repository/scylla"
	"stronghold-security/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// PrivacyHandler handles HTTP requests for consent management, data
// subject requests and the encrypted document vault
type PrivacyHandler struct {
	consents  *gdpr.ConsentManager
	requests  *gdpr.RequestManager
	vault     *encryption.Vault
	documents *scylla.DocumentRepository
	logger    *zap.Logger
}

// NewPrivacyHandler creates a new privacy handler
func NewPrivacyHandler(consents *gdpr.ConsentManager, requests *gdpr.RequestManager, vault *encryption.Vault, documents *scylla.DocumentRepository, logger *zap.Logger) *PrivacyHandler {
	return &PrivacyHandler{
		consents:  consents,
		requests:  requests,
		vault:     vault,
		documents: documents,
		logger:    logger,
	}
}

// RegisterRoutes registers all privacy routes
func (h *PrivacyHandler) RegisterRoutes(router chi.Router) {
	router.Route("/consents", func(r chi.Router) {
		r.Post("/", h.GiveConsent)
		r.Get("/{userID}", h.ListConsents)
		r.Delete("/{userID}/{consentID}", h.WithdrawConsent)
	})

	router.Route("/requests", func(r chi.Router) {
		r.Post("/", h.CreateRequest)
		r.Get("/{requestID}", h.GetRequest)
		r.Post("/{requestID}/verify", h.VerifyRequest)
		r.Post("/{requestID}/process", h.ProcessRequest)
	})

	router.Route("/documents", func(r chi.Router) {
		r.Post("/", h.StoreDocument)
		r.Get("/{userID}", h.ListDocuments)
		r.Get("/{userID}/{documentID}", h.OpenDocument)
	})
}

// GiveConsent records a new consent grant
func (h *PrivacyHandler) GiveConsent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var consent models.ConsentRecord
	if err := json.NewDecoder(r.Body).Decode(&consent); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	recorded, err := h.consents.GiveConsent(ctx, &consent)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Failed to record consent")
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(recorded, "Consent recorded"))
	h.logger.Info("Consent given via HTTP",
		util.String("consent_id", recorded.ID),
		util.String("user_id", recorded.UserID),
		util.String("consent_type", recorded.ConsentType),
		util.String("method", "GiveConsent"),
	)
}

// ListConsents returns a user's full consent history
func (h *PrivacyHandler) ListConsents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := chi.URLParam(r, "userID")
	consents, err := h.consents.ListConsents(ctx, userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err, "Failed to list consents")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(consents, "Consents retrieved"))
}

// WithdrawConsent withdraws a single consent grant
func (h *PrivacyHandler) WithdrawConsent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := chi.URLParam(r, "userID")
	consentID := chi.URLParam(r, "consentID")

	if err := h.consents.WithdrawConsent(ctx, userID, consentID); err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to withdraw consent")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Consent withdrawn"))
	h.logger.Info("Consent withdrawn via HTTP",
		util.String("consent_id", consentID),
		util.String("user_id", userID),
		util.String("method", "WithdrawConsent"),
	)
}

type requestCreateRequest struct {
	UserID      string            `json:"user_id"`
	RequestType string            `json:"request_type"`
	Payload     map[string]string `json:"payload"`
}

// CreateRequest registers a new data subject request
func (h *PrivacyHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req requestCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	request, err := h.requests.CreateDataSubjectRequest(ctx, req.UserID, req.RequestType, req.Payload)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Failed to create data subject request")
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(sanitizeRequest(request), "Data subject request created"))
	h.logger.Info("Data subject request created via HTTP",
		util.String("request_id", request.ID),
		util.String("user_id", request.UserID),
		util.String("request_type", request.RequestType),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "CreateRequest"),
	)
}

// GetRequest handles request retrieval by ID
func (h *PrivacyHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requestID := chi.URLParam(r, "requestID")
	request, err := h.requests.GetRequest(ctx, requestID)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to get data subject request")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(sanitizeRequest(request), "Data subject request retrieved"))
}

// VerifyRequest checks the identity verification token for a request
func (h *PrivacyHandler) VerifyRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requestID := chi.URLParam(r, "requestID")

	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Token == "" {
		respondWithError(w, http.StatusBadRequest, errors.New("token is required"), "Verification token is required")
		return
	}

	request, err := h.requests.VerifyRequest(ctx, requestID, req.Token)
	if err != nil {
		statusCode := getStatusCode(err)
		if statusCode == http.StatusInternalServerError {
			statusCode = http.StatusUnauthorized
		}
		respondWithError(w, statusCode, err, "Failed to verify data subject request")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(sanitizeRequest(request), "Identity verified"))
	h.logger.Info("Data subject request verified via HTTP",
		util.String("request_id", requestID),
		util.String("method", "VerifyRequest"),
	)
}

// ProcessRequest runs the type-specific processing routine
func (h *PrivacyHandler) ProcessRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	requestID := chi.URLParam(r, "requestID")
	request, err := h.requests.ProcessRequest(ctx, requestID)
	if err != nil {
		statusCode := getStatusCode(err)
		if statusCode == http.StatusInternalServerError {
			statusCode = http.StatusConflict
		}
		respondWithError(w, statusCode, err, "Failed to process data subject request")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(sanitizeRequest(request), "Data subject request processed"))
	h.logger.Info("Data subject request processed via HTTP",
		util.String("request_id", requestID),
		util.String("status", request.Status),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "ProcessRequest"),
	)
}

type documentStoreRequest struct {
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// StoreDocument encrypts and stores a document in the vault
func (h *PrivacyHandler) StoreDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req documentStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.UserID == "" || req.Name == "" || req.Content == "" {
		respondWithError(w, http.StatusBadRequest, errors.New("user_id, name and content are required"), "Invalid document")
		return
	}

	doc, err := h.vault.StoreDocument(ctx, req.UserID, req.Name, req.Content)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err, "Failed to store document")
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(doc, "Document stored"))
	h.logger.Info("Document stored via HTTP",
		util.String("document_id", doc.ID),
		util.String("user_id", req.UserID),
		util.String("method", "StoreDocument"),
	)
}

// ListDocuments returns a user's document metadata
func (h *PrivacyHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := chi.URLParam(r, "userID")
	docs, err := h.documents.ListDocuments(ctx, userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err, "Failed to list documents")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(docs, "Documents retrieved"))
}

// OpenDocument decrypts a document, verifying its integrity first
func (h *PrivacyHandler) OpenDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := chi.URLParam(r, "userID")
	documentID := chi.URLParam(r, "documentID")

	content, err := h.vault.OpenDocument(ctx, userID, documentID)
	if err != nil {
		statusCode := getStatusCode(err)
		if errors.Is(err, encryption.ErrIntegrityViolation) {
			statusCode = http.StatusConflict
		}
		respondWithError(w, statusCode, err, "Failed to open document")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(map[string]string{"content": content}, "Document opened"))
	h.logger.Debug("Document opened via HTTP",
		util.String("document_id", documentID),
		util.String("user_id", userID),
		util.String("method", "OpenDocument"),
	)
}

// sanitizeRequest strips internal payload keys before sending a request
// in a response
func sanitizeRequest(request *models.DataSubjectRequest) *models.DataSubjectRequest {
	if request == nil || request.Payload == nil {
		return request
	}
	payload := make(map[string]string, len(request.Payload))
	for k, v := range request.Payload {
		if strings.HasPrefix(k, "_") {
			continue
		}
		payload[k] = v
	}
	copied := *request
	copied.Payload = payload
	return &copied
}
