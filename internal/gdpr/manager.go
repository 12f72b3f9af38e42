package gdpr

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stronghold-security/internal/config"
	"stronghold-security/internal/hashing"
	"stronghold-security/internal/models"
	"stronghold-security/internal/util"
)

// RequestStore is the request persistence surface.
type RequestStore interface {
	InsertRequest(ctx context.Context, request *models.DataSubjectRequest) error
	GetRequestByID(ctx context.Context, requestID string) (*models.DataSubjectRequest, error)
	UpdateRequestStatus(ctx context.Context, request *models.DataSubjectRequest) error
}

// FieldCatalog exposes the personal-data field catalog and the
// catalog-driven reads and writes against the underlying tables.
type FieldCatalog interface {
	ListFields(ctx context.Context) ([]*models.PersonalDataField, error)
	CollectFieldValue(ctx context.Context, field *models.PersonalDataField, userID string) (string, bool, error)
	EraseFieldValue(ctx context.Context, field *models.PersonalDataField, userID string) error
	RectifyFieldValue(ctx context.Context, field *models.PersonalDataField, userID, value string) error
}

// DocumentPurger removes a user's vaulted documents during erasure.
type DocumentPurger interface {
	DeleteDocuments(ctx context.Context, userID string) (int, error)
}

// Notifier delivers verification and completion messages to the subject.
type Notifier interface {
	PublishNotification(ctx context.Context, kind, recipient string, payload interface{}) error
}

// Restrictor flags a user's data processing as restricted.
type Restrictor interface {
	SetLockout(key string, ttl time.Duration) error
}

// TokenHasher hashes and verifies identity verification tokens.
type TokenHasher interface {
	HashToken(token string) (*hashing.HashResult, error)
	VerifyToken(token string, hashResult *hashing.HashResult) (bool, error)
}

// verificationHashKey is the reserved payload key holding the hashed
// verification token. Never returned to callers.
const verificationHashKey = "_verification_hash"

// RequestManager drives data subject requests through their lifecycle:
// pending, in_progress, then completed, rejected, or partially_completed.
// Processing is dispatched per request type; any processing error lands
// the request in rejected with the reason recorded, never partial credit.
type RequestManager struct {
	requests   RequestStore
	catalog    FieldCatalog
	consents   *ConsentManager
	documents  DocumentPurger
	audit      AuditRecorder
	notifier   Notifier
	restrictor Restrictor
	tokens     TokenHasher
	cfg        config.GDPRConfig
	now        func() time.Time
}

func NewRequestManager(requests RequestStore, catalog FieldCatalog, consents *ConsentManager, documents DocumentPurger, audit AuditRecorder, notifier Notifier, restrictor Restrictor, tokens TokenHasher, cfg config.GDPRConfig) *RequestManager {
	return &RequestManager{
		requests:   requests,
		catalog:    catalog,
		consents:   consents,
		documents:  documents,
		audit:      audit,
		notifier:   notifier,
		restrictor: restrictor,
		tokens:     tokens,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateDataSubjectRequest registers a new request. The deadline is fixed
// here and never recalculated. A verification message goes out best-effort;
// a delivery failure leaves the request unverified, not rejected.
func (m *RequestManager) CreateDataSubjectRequest(ctx context.Context, userID, requestType string, payload map[string]string) (*models.DataSubjectRequest, error) {
	if userID == "" {
		return nil, fmt.Errorf("data subject request missing user id")
	}
	if !models.ValidRequestType(requestType) {
		return nil, fmt.Errorf("unknown request type: %q", requestType)
	}

	requestedAt := m.now()
	request := &models.DataSubjectRequest{
		UserID:             userID,
		RequestType:        requestType,
		Status:             models.RequestPending,
		RequestedAt:        requestedAt,
		Deadline:           requestedAt.Add(m.cfg.RequestDeadline),
		VerificationStatus: models.VerificationUnverified,
		Payload:            payload,
	}

	if err := m.requests.InsertRequest(ctx, request); err != nil {
		return nil, err
	}

	m.sendVerificationRequest(ctx, request)

	return request, nil
}

func (m *RequestManager) GetRequest(ctx context.Context, requestID string) (*models.DataSubjectRequest, error) {
	return m.requests.GetRequestByID(ctx, requestID)
}

// VerifyRequest checks the token the subject received out of band and
// marks the request identity-verified on a match.
func (m *RequestManager) VerifyRequest(ctx context.Context, requestID, token string) (*models.DataSubjectRequest, error) {
	request, err := m.requests.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.IsTerminal() {
		return nil, fmt.Errorf("request %s already %s", requestID, request.Status)
	}

	hashJSON, ok := request.Payload[verificationHashKey]
	if !ok {
		return nil, fmt.Errorf("request %s has no pending verification", requestID)
	}
	var stored hashing.HashResult
	if err := json.Unmarshal([]byte(hashJSON), &stored); err != nil {
		return nil, fmt.Errorf("failed to decode verification hash: %w", err)
	}

	match, err := m.tokens.VerifyToken(token, &stored)
	if err != nil {
		return nil, err
	}
	if !match {
		return nil, fmt.Errorf("verification token does not match")
	}

	request.VerificationStatus = models.VerificationVerified
	if err := m.requests.UpdateRequestStatus(ctx, request); err != nil {
		return nil, err
	}
	return request, nil
}

// ProcessRequest runs the type-specific routine for a pending request.
// The request must be identity-verified first.
func (m *RequestManager) ProcessRequest(ctx context.Context, requestID string) (*models.DataSubjectRequest, error) {
	request, err := m.requests.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !request.CanTransition(models.RequestInProgress) {
		return nil, fmt.Errorf("request %s cannot be processed from status %s", requestID, request.Status)
	}
	if request.VerificationStatus != models.VerificationVerified {
		return nil, fmt.Errorf("request %s is not identity-verified", requestID)
	}

	request.Status = models.RequestInProgress
	if err := m.requests.UpdateRequestStatus(ctx, request); err != nil {
		return nil, err
	}

	if err := m.dispatch(ctx, request); err != nil {
		request.Status = models.RequestRejected
		request.RejectionReason = err.Error()
		completedAt := m.now()
		request.CompletedAt = &completedAt
		if updateErr := m.requests.UpdateRequestStatus(ctx, request); updateErr != nil {
			util.Error("Failed to record request rejection",
				zap.String("request_id", requestID),
				zap.Error(updateErr))
		}
		m.recordAudit(request, models.OutcomeFailure)
		return request, nil
	}

	completedAt := m.now()
	request.CompletedAt = &completedAt
	if err := m.requests.UpdateRequestStatus(ctx, request); err != nil {
		return nil, err
	}
	m.recordAudit(request, models.OutcomeSuccess)

	util.Info("Data subject request processed",
		zap.String("request_id", request.ID),
		zap.String("request_type", request.RequestType),
		zap.String("status", request.Status))

	return request, nil
}

// dispatch runs the per-type routine and sets the request's terminal
// status on success. Returning an error rejects the request.
func (m *RequestManager) dispatch(ctx context.Context, request *models.DataSubjectRequest) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProcessorTimeout)
	defer cancel()

	switch request.RequestType {
	case models.RequestAccess:
		return m.processAccess(ctx, request)
	case models.RequestErasure:
		return m.processErasure(ctx, request)
	case models.RequestPortability:
		return m.processPortability(ctx, request)
	case models.RequestRectification:
		return m.processRectification(ctx, request)
	case models.RequestRestriction:
		return m.processRestriction(ctx, request)
	case models.RequestObjection:
		return m.processObjection(ctx, request)
	}
	return fmt.Errorf("unhandled request type: %s", request.RequestType)
}

// processAccess assembles the full personal-data export: every catalogued
// field with its GDPR metadata, plus the user's consent history.
func (m *RequestManager) processAccess(ctx context.Context, request *models.DataSubjectRequest) error {
	export, err := m.collectExport(ctx, request.UserID, false)
	if err != nil {
		return err
	}

	consents, err := m.consents.ListConsents(ctx, request.UserID)
	if err != nil {
		return err
	}
	export.Consents = consents

	body, err := formatExport(export, formatJSON)
	if err != nil {
		return err
	}

	request.ResponseData = body
	request.Status = models.RequestCompleted
	m.notifyCompletion(ctx, request)
	return nil
}

// processErasure assesses what can legally be erased before touching
// anything. Fields under a retention mandate are kept and listed as
// exceptions; erasing nothing is a rejection, not an empty success.
func (m *RequestManager) processErasure(ctx context.Context, request *models.DataSubjectRequest) error {
	erasable, retained, err := m.assessErasurePossibility(ctx)
	if err != nil {
		return err
	}
	if len(erasable) == 0 {
		return fmt.Errorf("erasure not possible: all %d catalogued fields are legally retained", len(retained))
	}

	for _, field := range erasable {
		if err := m.catalog.EraseFieldValue(ctx, field, request.UserID); err != nil {
			return err
		}
	}

	if m.documents != nil {
		if _, err := m.documents.DeleteDocuments(ctx, request.UserID); err != nil {
			return err
		}
	}

	for _, field := range retained {
		request.ExceptionsApplied = append(request.ExceptionsApplied,
			fmt.Sprintf("%s retained: %s", field.Qualified(), field.LegalBasis))
	}

	if len(retained) > 0 {
		request.Status = models.RequestPartiallyCompleted
	} else {
		request.Status = models.RequestCompleted
	}
	m.notifyCompletion(ctx, request)
	return nil
}

// assessErasurePossibility splits the catalog into erasable fields and
// legally retained ones.
func (m *RequestManager) assessErasurePossibility(ctx context.Context) (erasable, retained []*models.PersonalDataField, err error) {
	fields, err := m.catalog.ListFields(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, field := range fields {
		if field.Erasable() {
			erasable = append(erasable, field)
		} else {
			retained = append(retained, field)
		}
	}
	return erasable, retained, nil
}

// processPortability exports only user-provided fields, in the format the
// subject asked for (json, csv, or xml).
func (m *RequestManager) processPortability(ctx context.Context, request *models.DataSubjectRequest) error {
	export, err := m.collectExport(ctx, request.UserID, true)
	if err != nil {
		return err
	}

	format := m.cfg.ExportFormat
	if f, ok := request.Payload["format"]; ok && f != "" {
		format = f
	}

	body, err := formatExport(export, format)
	if err != nil {
		return err
	}

	request.ResponseData = body
	request.Status = models.RequestCompleted
	m.notifyCompletion(ctx, request)
	return nil
}

// processRectification applies the corrections supplied in the request
// payload, keyed by table.column. Corrections naming fields outside the
// catalog are skipped and listed as exceptions.
func (m *RequestManager) processRectification(ctx context.Context, request *models.DataSubjectRequest) error {
	if len(request.Payload) == 0 {
		return fmt.Errorf("rectification request carries no corrections")
	}

	fields, err := m.catalog.ListFields(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]*models.PersonalDataField, len(fields))
	for _, f := range fields {
		byName[f.Qualified()] = f
	}

	applied := 0
	for name, value := range request.Payload {
		if strings.HasPrefix(name, "_") {
			continue
		}
		field, known := byName[name]
		if !known {
			request.ExceptionsApplied = append(request.ExceptionsApplied,
				fmt.Sprintf("%s not rectified: not a catalogued personal data field", name))
			continue
		}
		if err := m.catalog.RectifyFieldValue(ctx, field, request.UserID, value); err != nil {
			return err
		}
		applied++
	}

	if applied == 0 {
		return fmt.Errorf("rectification applied no corrections: no payload key matched the catalog")
	}

	if len(request.ExceptionsApplied) > 0 {
		request.Status = models.RequestPartiallyCompleted
	} else {
		request.Status = models.RequestCompleted
	}
	m.notifyCompletion(ctx, request)
	return nil
}

// processRestriction flags the user's processing as restricted. The flag
// is consulted by data-access enforcement, not by this engine.
func (m *RequestManager) processRestriction(ctx context.Context, request *models.DataSubjectRequest) error {
	if m.restrictor == nil {
		return fmt.Errorf("restriction handling is not configured")
	}
	if err := m.restrictor.SetLockout("processing_restricted:"+request.UserID, 0); err != nil {
		return err
	}
	request.ResponseData = `{"processing_restricted":true}`
	request.Status = models.RequestCompleted
	m.notifyCompletion(ctx, request)
	return nil
}

// processObjection withdraws the consents matching the objected purpose,
// or every active consent when no purpose is named.
func (m *RequestManager) processObjection(ctx context.Context, request *models.DataSubjectRequest) error {
	withdrawn, err := m.consents.WithdrawByPurpose(ctx, request.UserID, request.Payload["purpose"])
	if err != nil {
		return err
	}
	request.ResponseData = fmt.Sprintf(`{"consents_withdrawn":%d}`, len(withdrawn))
	request.Status = models.RequestCompleted
	m.notifyCompletion(ctx, request)
	return nil
}

// sendVerificationRequest issues a one-time token, stores only its hash,
// and sends the plain token to the subject out of band.
func (m *RequestManager) sendVerificationRequest(ctx context.Context, request *models.DataSubjectRequest) {
	if m.notifier == nil || m.tokens == nil {
		return
	}

	token := uuid.New().String()
	hashed, err := m.tokens.HashToken(token)
	if err != nil {
		util.Warn("Failed to hash verification token",
			zap.String("request_id", request.ID),
			zap.Error(err))
		return
	}
	hashJSON, err := json.Marshal(hashed)
	if err != nil {
		util.Warn("Failed to encode verification hash",
			zap.String("request_id", request.ID),
			zap.Error(err))
		return
	}
	if request.Payload == nil {
		request.Payload = make(map[string]string)
	}
	request.Payload[verificationHashKey] = string(hashJSON)

	err = m.notifier.PublishNotification(ctx, "dsr_verification", request.UserID, map[string]interface{}{
		"request_id":   request.ID,
		"request_type": request.RequestType,
		"deadline":     request.Deadline,
		"token":        token,
	})
	if err != nil {
		util.Warn("Failed to send verification request",
			zap.String("request_id", request.ID),
			zap.Error(err))
		return
	}

	request.VerificationStatus = models.VerificationSent
	if err := m.requests.UpdateRequestStatus(ctx, request); err != nil {
		util.Warn("Failed to record verification dispatch",
			zap.String("request_id", request.ID),
			zap.Error(err))
	}
}

func (m *RequestManager) notifyCompletion(ctx context.Context, request *models.DataSubjectRequest) {
	if m.notifier == nil {
		return
	}
	err := m.notifier.PublishNotification(ctx, "dsr_completed", request.UserID, map[string]interface{}{
		"request_id":   request.ID,
		"request_type": request.RequestType,
		"status":       request.Status,
	})
	if err != nil {
		util.Warn("Failed to send completion notice",
			zap.String("request_id", request.ID),
			zap.Error(err))
	}
}

func (m *RequestManager) recordAudit(request *models.DataSubjectRequest, outcome string) {
	if m.audit == nil {
		return
	}
	err := m.audit.Record(&models.AuditEvent{
		Category:               models.CategoryDataProcessing,
		Action:                 "dsr_" + request.RequestType,
		Severity:               models.SeverityMedium,
		Outcome:                outcome,
		UserID:                 request.UserID,
		ResourceType:           "data_subject_request",
		ResourceID:             request.ID,
		ComplianceRequirements: []string{"GDPR-Art15-21"},
	})
	if err != nil {
		util.Warn("Failed to audit data subject request",
			zap.String("request_id", request.ID),
			zap.Error(err))
	}
}
