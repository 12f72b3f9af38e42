package gdpr

import (
	"context"
	"fmt"
	"time"

	"stronghold-security/internal/config"
	"stronghold-security/internal/hashing"
	"stronghold-security/internal/models"
)

func testGDPRConfig() config.GDPRConfig {
	return config.GDPRConfig{
		RequestDeadline:  30 * 24 * time.Hour,
		ExportFormat:     "json",
		ProcessorTimeout: time.Minute,
	}
}

type fakeRequestStore struct {
	byID      map[string]*models.DataSubjectRequest
	insertErr error
	updates   int
}

func (f *fakeRequestStore) InsertRequest(ctx context.Context, request *models.DataSubjectRequest) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	if request.ID == "" {
		request.ID = fmt.Sprintf("req-%d", len(f.byID)+1)
	}
	if f.byID == nil {
		f.byID = make(map[string]*models.DataSubjectRequest)
	}
	f.byID[request.ID] = request
	return nil
}

func (f *fakeRequestStore) GetRequestByID(ctx context.Context, requestID string) (*models.DataSubjectRequest, error) {
	if r, ok := f.byID[requestID]; ok {
		return r, nil
	}
	return nil, models.ErrNotFound
}

func (f *fakeRequestStore) UpdateRequestStatus(ctx context.Context, request *models.DataSubjectRequest) error {
	f.updates++
	f.byID[request.ID] = request
	return nil
}

type fakeCatalog struct {
	fields []*models.PersonalDataField
	values map[string]string

	erased    []string
	rectified map[string]string

	listErr    error
	eraseErr   error
	collectErr error
}

func (f *fakeCatalog) ListFields(ctx context.Context) ([]*models.PersonalDataField, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.fields, nil
}

func (f *fakeCatalog) CollectFieldValue(ctx context.Context, field *models.PersonalDataField, userID string) (string, bool, error) {
	if f.collectErr != nil {
		return "", false, f.collectErr
	}
	value, ok := f.values[field.Qualified()]
	return value, ok, nil
}

func (f *fakeCatalog) EraseFieldValue(ctx context.Context, field *models.PersonalDataField, userID string) error {
	if f.eraseErr != nil {
		return f.eraseErr
	}
	f.erased = append(f.erased, field.Qualified())
	return nil
}

func (f *fakeCatalog) RectifyFieldValue(ctx context.Context, field *models.PersonalDataField, userID, value string) error {
	if f.rectified == nil {
		f.rectified = make(map[string]string)
	}
	f.rectified[field.Qualified()] = value
	return nil
}

type fakeConsentStore struct {
	consents  []*models.ConsentRecord
	withdrawn []string
	insertErr error
}

func (f *fakeConsentStore) InsertConsent(ctx context.Context, consent *models.ConsentRecord) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	if consent.ID == "" {
		consent.ID = fmt.Sprintf("consent-%d", len(f.consents)+1)
	}
	f.consents = append(f.consents, consent)
	return nil
}

func (f *fakeConsentStore) WithdrawConsent(ctx context.Context, userID, consentID string, withdrawnAt time.Time) error {
	f.withdrawn = append(f.withdrawn, consentID)
	return nil
}

func (f *fakeConsentStore) ListConsentsByUser(ctx context.Context, userID string) ([]*models.ConsentRecord, error) {
	return f.consents, nil
}

type fakePurger struct {
	deleted int
	err     error
}

func (f *fakePurger) DeleteDocuments(ctx context.Context, userID string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.deleted++
	return 2, nil
}

type notification struct {
	kind      string
	recipient string
	payload   map[string]interface{}
}

type fakeNotifier struct {
	sent []notification
	err  error
}

func (f *fakeNotifier) PublishNotification(ctx context.Context, kind, recipient string, payload interface{}) error {
	if f.err != nil {
		return f.err
	}
	body, _ := payload.(map[string]interface{})
	f.sent = append(f.sent, notification{kind: kind, recipient: recipient, payload: body})
	return nil
}

type fakeAuditRecorder struct {
	records []*models.AuditEvent
}

func (f *fakeAuditRecorder) Record(event *models.AuditEvent) error {
	f.records = append(f.records, event)
	return nil
}

type fakeRestrictor struct {
	keys map[string]time.Duration
}

func (f *fakeRestrictor) SetLockout(key string, ttl time.Duration) error {
	if f.keys == nil {
		f.keys = make(map[string]time.Duration)
	}
	f.keys[key] = ttl
	return nil
}

// fakeTokenHasher reverses the token so matches are checkable without
// real argon2 work.
type fakeTokenHasher struct {
	hashErr error
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func (f *fakeTokenHasher) HashToken(token string) (*hashing.HashResult, error) {
	if f.hashErr != nil {
		return nil, f.hashErr
	}
	return &hashing.HashResult{Hash: reverse(token), Algorithm: "reverse"}, nil
}

func (f *fakeTokenHasher) VerifyToken(token string, hashResult *hashing.HashResult) (bool, error) {
	return reverse(token) == hashResult.Hash, nil
}
