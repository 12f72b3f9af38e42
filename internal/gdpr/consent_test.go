package gdpr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stronghold-security/internal/models"
)

func TestGiveConsent(t *testing.T) {
	store := &fakeConsentStore{}
	audit := &fakeAuditRecorder{}
	manager := NewConsentManager(store, audit)

	consent, err := manager.GiveConsent(context.Background(), &models.ConsentRecord{
		UserID:      "user-1",
		ConsentType: "marketing_emails",
		Purpose:     "marketing",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, consent.ID)
	assert.False(t, consent.GivenAt.IsZero())

	require.Len(t, audit.records, 1)
	record := audit.records[0]
	assert.Equal(t, "consent_given", record.Action)
	assert.Equal(t, models.CategoryCompliance, record.Category)
	assert.Equal(t, []string{"GDPR-Art7"}, record.ComplianceRequirements)
	assert.Equal(t, "marketing", record.AfterState["purpose"])
}

func TestGiveConsentValidation(t *testing.T) {
	manager := NewConsentManager(&fakeConsentStore{}, nil)

	_, err := manager.GiveConsent(context.Background(), &models.ConsentRecord{UserID: "user-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required fields")
}

func TestWithdrawConsentAudited(t *testing.T) {
	store := &fakeConsentStore{}
	audit := &fakeAuditRecorder{}
	manager := NewConsentManager(store, audit)

	require.NoError(t, manager.WithdrawConsent(context.Background(), "user-1", "consent-1"))
	assert.Equal(t, []string{"consent-1"}, store.withdrawn)

	require.Len(t, audit.records, 1)
	assert.Equal(t, "consent_withdrawn", audit.records[0].Action)
}

func TestWithdrawByPurpose(t *testing.T) {
	store := &fakeConsentStore{consents: []*models.ConsentRecord{
		{ID: "consent-1", Purpose: "marketing", IsActive: true},
		{ID: "consent-2", Purpose: "analytics", IsActive: true},
		{ID: "consent-3", Purpose: "marketing", IsActive: false},
	}}
	manager := NewConsentManager(store, nil)
	ctx := context.Background()

	withdrawn, err := manager.WithdrawByPurpose(ctx, "user-1", "marketing")
	require.NoError(t, err)
	assert.Equal(t, []string{"consent-1"}, withdrawn)

	// Empty purpose withdraws every active consent
	store.withdrawn = nil
	withdrawn, err = manager.WithdrawByPurpose(ctx, "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"consent-1", "consent-2"}, withdrawn)
}
