package gdpr

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stronghold-security/internal/models"
	"stronghold-security/internal/util"
)

// ConsentStore is the consent persistence surface.
type ConsentStore interface {
	InsertConsent(ctx context.Context, consent *models.ConsentRecord) error
	WithdrawConsent(ctx context.Context, userID, consentID string, withdrawnAt time.Time) error
	ListConsentsByUser(ctx context.Context, userID string) ([]*models.ConsentRecord, error)
}

// AuditRecorder accepts compliance records for the audit trail.
type AuditRecorder interface {
	Record(event *models.AuditEvent) error
}

// ConsentManager records consent actions. Every give and withdrawal also
// lands in the audit trail, which is what compliance reports count.
type ConsentManager struct {
	store ConsentStore
	audit AuditRecorder
	now   func() time.Time
}

func NewConsentManager(store ConsentStore, audit AuditRecorder) *ConsentManager {
	return &ConsentManager{
		store: store,
		audit: audit,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *ConsentManager) GiveConsent(ctx context.Context, consent *models.ConsentRecord) (*models.ConsentRecord, error) {
	if consent.UserID == "" || consent.ConsentType == "" || consent.Purpose == "" {
		return nil, fmt.Errorf("consent missing required fields: user_id=%q consent_type=%q purpose=%q",
			consent.UserID, consent.ConsentType, consent.Purpose)
	}

	consent.GivenAt = m.now()
	if err := m.store.InsertConsent(ctx, consent); err != nil {
		return nil, err
	}

	m.recordAudit(consent.UserID, "consent_given", map[string]string{
		"consent_type": consent.ConsentType,
		"purpose":      consent.Purpose,
	})

	return consent, nil
}

func (m *ConsentManager) WithdrawConsent(ctx context.Context, userID, consentID string) error {
	if err := m.store.WithdrawConsent(ctx, userID, consentID, m.now()); err != nil {
		return err
	}

	m.recordAudit(userID, "consent_withdrawn", map[string]string{
		"consent_id": consentID,
	})

	return nil
}

// WithdrawByPurpose withdraws every active consent matching the purpose.
// An empty purpose withdraws all active consents. Used by objection
// requests. Returns the consent IDs withdrawn.
func (m *ConsentManager) WithdrawByPurpose(ctx context.Context, userID, purpose string) ([]string, error) {
	consents, err := m.store.ListConsentsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var withdrawn []string
	for _, c := range consents {
		if !c.IsActive {
			continue
		}
		if purpose != "" && c.Purpose != purpose {
			continue
		}
		if err := m.WithdrawConsent(ctx, userID, c.ID); err != nil {
			return withdrawn, err
		}
		withdrawn = append(withdrawn, c.ID)
	}

	return withdrawn, nil
}

func (m *ConsentManager) ListConsents(ctx context.Context, userID string) ([]*models.ConsentRecord, error) {
	return m.store.ListConsentsByUser(ctx, userID)
}

func (m *ConsentManager) recordAudit(userID, action string, after map[string]string) {
	if m.audit == nil {
		return
	}
	err := m.audit.Record(&models.AuditEvent{
		Category:               models.CategoryCompliance,
		Action:                 action,
		Severity:               models.SeverityLow,
		Outcome:                models.OutcomeSuccess,
		UserID:                 userID,
		ResourceType:           "consent_record",
		ComplianceRequirements: []string{"GDPR-Art7"},
		AfterState:             after,
	})
	if err != nil {
		util.Warn("Failed to audit consent action",
			zap.String("user_id", userID),
			zap.String("action", action),
			zap.Error(err))
	}
}
