package gdpr

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stronghold-security/internal/hashing"
	"stronghold-security/internal/models"
)

type managerFixture struct {
	manager    *RequestManager
	requests   *fakeRequestStore
	catalog    *fakeCatalog
	consents   *fakeConsentStore
	purger     *fakePurger
	audit      *fakeAuditRecorder
	notifier   *fakeNotifier
	restrictor *fakeRestrictor
}

func newManagerFixture() *managerFixture {
	f := &managerFixture{
		requests:   &fakeRequestStore{},
		catalog:    &fakeCatalog{},
		consents:   &fakeConsentStore{},
		purger:     &fakePurger{},
		audit:      &fakeAuditRecorder{},
		notifier:   &fakeNotifier{},
		restrictor: &fakeRestrictor{},
	}
	consentManager := NewConsentManager(f.consents, f.audit)
	f.manager = NewRequestManager(
		f.requests, f.catalog, consentManager, f.purger, f.audit,
		f.notifier, f.restrictor, &fakeTokenHasher{}, testGDPRConfig(),
	)
	return f
}

func catalogFields() []*models.PersonalDataField {
	return []*models.PersonalDataField{
		{
			TableName: "user_profiles", ColumnName: "email",
			Sensitivity: models.SensitivityConfidential, LegalBasis: "consent",
			RetentionDays: 365, UserProvided: true,
		},
		{
			TableName: "user_sessions", ColumnName: "ip_address",
			Sensitivity: models.SensitivityInternal, LegalBasis: "legitimate_interest",
			RetentionDays: 90,
		},
		{
			TableName: "billing_accounts", ColumnName: "tax_id",
			Sensitivity: models.SensitivityRestricted, LegalBasis: "legal_obligation",
			RetentionDays: 2555, UserProvided: true, LegallyRetained: true,
		},
	}
}

// createVerified walks a request through creation and verification so
// processing tests can start from a verified pending request.
func (f *managerFixture) createVerified(t *testing.T, requestType string, payload map[string]string) *models.DataSubjectRequest {
	t.Helper()
	request, err := f.manager.CreateDataSubjectRequest(context.Background(), "user-1", requestType, payload)
	require.NoError(t, err)
	request.VerificationStatus = models.VerificationVerified
	return request
}

func TestCreateRequestSetsDeadline(t *testing.T) {
	f := newManagerFixture()

	request, err := f.manager.CreateDataSubjectRequest(context.Background(), "user-1", models.RequestAccess, nil)
	require.NoError(t, err)

	assert.Equal(t, models.RequestPending, request.Status)
	assert.Equal(t, request.RequestedAt.Add(30*24*time.Hour), request.Deadline)
	assert.Equal(t, models.VerificationSent, request.VerificationStatus)

	// The verification message carries the plain token; only the hash is stored
	require.Len(t, f.notifier.sent, 1)
	msg := f.notifier.sent[0]
	assert.Equal(t, "dsr_verification", msg.kind)
	assert.Equal(t, "user-1", msg.recipient)
	token, _ := msg.payload["token"].(string)
	assert.NotEmpty(t, token)

	var stored hashing.HashResult
	require.NoError(t, json.Unmarshal([]byte(request.Payload[verificationHashKey]), &stored))
	assert.NotEqual(t, token, stored.Hash)
}

func TestCreateRequestValidation(t *testing.T) {
	f := newManagerFixture()
	ctx := context.Background()

	_, err := f.manager.CreateDataSubjectRequest(ctx, "", models.RequestAccess, nil)
	require.Error(t, err)

	_, err = f.manager.CreateDataSubjectRequest(ctx, "user-1", "subpoena", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown request type")
}

func TestCreateRequestSurvivesNotifierOutage(t *testing.T) {
	f := newManagerFixture()
	f.notifier.err = assert.AnError

	request, err := f.manager.CreateDataSubjectRequest(context.Background(), "user-1", models.RequestAccess, nil)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationUnverified, request.VerificationStatus)
}

func TestVerifyRequest(t *testing.T) {
	f := newManagerFixture()
	ctx := context.Background()

	request, err := f.manager.CreateDataSubjectRequest(ctx, "user-1", models.RequestAccess, nil)
	require.NoError(t, err)
	token := f.notifier.sent[0].payload["token"].(string)

	_, err = f.manager.VerifyRequest(ctx, request.ID, "wrong-token")
	require.Error(t, err)

	verified, err := f.manager.VerifyRequest(ctx, request.ID, token)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationVerified, verified.VerificationStatus)
}

func TestProcessRequiresVerification(t *testing.T) {
	f := newManagerFixture()
	ctx := context.Background()

	request, err := f.manager.CreateDataSubjectRequest(ctx, "user-1", models.RequestAccess, nil)
	require.NoError(t, err)

	_, err = f.manager.ProcessRequest(ctx, request.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not identity-verified")
}

func TestProcessAccessRequest(t *testing.T) {
	f := newManagerFixture()
	f.catalog.fields = catalogFields()
	f.catalog.values = map[string]string{"user_profiles.email": "alice@example.com"}
	f.consents.consents = []*models.ConsentRecord{{ID: "consent-1", UserID: "user-1", IsActive: true}}

	request := f.createVerified(t, models.RequestAccess, nil)
	processed, err := f.manager.ProcessRequest(context.Background(), request.ID)
	require.NoError(t, err)

	assert.Equal(t, models.RequestCompleted, processed.Status)
	require.NotNil(t, processed.CompletedAt)

	// Access exports every catalogued field plus consent history
	assert.Contains(t, processed.ResponseData, "user_profiles.email")
	assert.Contains(t, processed.ResponseData, "alice@example.com")
	assert.Contains(t, processed.ResponseData, "user_sessions.ip_address")
	assert.Contains(t, processed.ResponseData, "consent-1")

	// Completion notice follows the verification message
	last := f.notifier.sent[len(f.notifier.sent)-1]
	assert.Equal(t, "dsr_completed", last.kind)

	// Audit trail records the processed request
	require.NotEmpty(t, f.audit.records)
	record := f.audit.records[len(f.audit.records)-1]
	assert.Equal(t, "dsr_access", record.Action)
	assert.Equal(t, models.OutcomeSuccess, record.Outcome)
}

func TestProcessErasurePartialWhenFieldsRetained(t *testing.T) {
	f := newManagerFixture()
	f.catalog.fields = catalogFields()

	request := f.createVerified(t, models.RequestErasure, nil)
	processed, err := f.manager.ProcessRequest(context.Background(), request.ID)
	require.NoError(t, err)

	assert.Equal(t, models.RequestPartiallyCompleted, processed.Status)
	assert.ElementsMatch(t, []string{"user_profiles.email", "user_sessions.ip_address"}, f.catalog.erased)
	assert.Equal(t, 1, f.purger.deleted)

	require.Len(t, processed.ExceptionsApplied, 1)
	assert.Contains(t, processed.ExceptionsApplied[0], "billing_accounts.tax_id retained")
}

func TestProcessErasureCompleteWhenNothingRetained(t *testing.T) {
	f := newManagerFixture()
	f.catalog.fields = catalogFields()[:2]

	request := f.createVerified(t, models.RequestErasure, nil)
	processed, err := f.manager.ProcessRequest(context.Background(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestCompleted, processed.Status)
	assert.Empty(t, processed.ExceptionsApplied)
}

func TestProcessErasureRejectedWhenAllRetained(t *testing.T) {
	f := newManagerFixture()
	f.catalog.fields = []*models.PersonalDataField{
		{TableName: "billing_accounts", ColumnName: "tax_id", LegalBasis: "legal_obligation", LegallyRetained: true},
	}

	request := f.createVerified(t, models.RequestErasure, nil)
	processed, err := f.manager.ProcessRequest(context.Background(), request.ID)
	require.NoError(t, err)

	// Processing failures reject the request rather than erroring the call
	assert.Equal(t, models.RequestRejected, processed.Status)
	assert.Contains(t, processed.RejectionReason, "erasure not possible")
	assert.Empty(t, f.catalog.erased)

	record := f.audit.records[len(f.audit.records)-1]
	assert.Equal(t, models.OutcomeFailure, record.Outcome)
}

func TestProcessPortabilityExportsUserProvidedOnly(t *testing.T) {
	f := newManagerFixture()
	f.catalog.fields = catalogFields()
	f.catalog.values = map[string]string{"user_profiles.email": "alice@example.com"}

	request := f.createVerified(t, models.RequestPortability, map[string]string{"format": "csv"})
	processed, err := f.manager.ProcessRequest(context.Background(), request.ID)
	require.NoError(t, err)

	assert.Equal(t, models.RequestCompleted, processed.Status)
	assert.Contains(t, processed.ResponseData, "user_profiles.email")
	assert.Contains(t, processed.ResponseData, "billing_accounts.tax_id")
	assert.NotContains(t, processed.ResponseData, "user_sessions.ip_address")

	// CSV format honoured from the payload
	lines := strings.Split(strings.TrimSpace(processed.ResponseData), "\n")
	assert.Equal(t, "field,value,present,sensitivity,legal_basis,retention_days,third_party_shared", lines[0])
}

func TestProcessRectification(t *testing.T) {
	f := newManagerFixture()
	f.catalog.fields = catalogFields()

	request := f.createVerified(t, models.RequestRectification, map[string]string{
		"user_profiles.email": "new@example.com",
		"user_profiles.shoe_size": "44",
	})
	processed, err := f.manager.ProcessRequest(context.Background(), request.ID)
	require.NoError(t, err)

	// Uncatalogued corrections are skipped and listed
	assert.Equal(t, models.RequestPartiallyCompleted, processed.Status)
	assert.Equal(t, "new@example.com", f.catalog.rectified["user_profiles.email"])
	require.Len(t, processed.ExceptionsApplied, 1)
	assert.Contains(t, processed.ExceptionsApplied[0], "user_profiles.shoe_size")

	// The reserved verification key is never treated as a correction
	for name := range f.catalog.rectified {
		assert.False(t, strings.HasPrefix(name, "_"))
	}
}

func TestProcessRectificationNoMatches(t *testing.T) {
	f := newManagerFixture()
	f.catalog.fields = catalogFields()

	request := f.createVerified(t, models.RequestRectification, map[string]string{"unknown.column": "x"})
	processed, err := f.manager.ProcessRequest(context.Background(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestRejected, processed.Status)
	assert.Contains(t, processed.RejectionReason, "no payload key matched")
}

func TestProcessRestriction(t *testing.T) {
	f := newManagerFixture()

	request := f.createVerified(t, models.RequestRestriction, nil)
	processed, err := f.manager.ProcessRequest(context.Background(), request.ID)
	require.NoError(t, err)

	assert.Equal(t, models.RequestCompleted, processed.Status)
	assert.Contains(t, f.restrictor.keys, "processing_restricted:user-1")
	assert.Equal(t, `{"processing_restricted":true}`, processed.ResponseData)
}

func TestProcessObjectionWithdrawsMatchingConsents(t *testing.T) {
	f := newManagerFixture()
	f.consents.consents = []*models.ConsentRecord{
		{ID: "consent-1", UserID: "user-1", Purpose: "marketing", IsActive: true},
		{ID: "consent-2", UserID: "user-1", Purpose: "analytics", IsActive: true},
		{ID: "consent-3", UserID: "user-1", Purpose: "marketing", IsActive: false},
	}

	request := f.createVerified(t, models.RequestObjection, map[string]string{"purpose": "marketing"})
	processed, err := f.manager.ProcessRequest(context.Background(), request.ID)
	require.NoError(t, err)

	assert.Equal(t, models.RequestCompleted, processed.Status)
	assert.Equal(t, []string{"consent-1"}, f.consents.withdrawn)
	assert.Equal(t, `{"consents_withdrawn":1}`, processed.ResponseData)
}

func TestProcessTerminalRequestRejected(t *testing.T) {
	f := newManagerFixture()
	f.catalog.fields = catalogFields()
	f.catalog.values = map[string]string{}

	request := f.createVerified(t, models.RequestAccess, nil)
	_, err := f.manager.ProcessRequest(context.Background(), request.ID)
	require.NoError(t, err)

	// A completed request cannot be processed again
	_, err = f.manager.ProcessRequest(context.Background(), request.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be processed")
}
