package encryption

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stronghold-security/internal/config"
	"stronghold-security/internal/models"
)

type fakeDocumentStore struct {
	docs map[string]*models.EncryptedDocument
}

func (f *fakeDocumentStore) InsertDocument(ctx context.Context, doc *models.EncryptedDocument) error {
	if doc.ID == "" {
		doc.ID = fmt.Sprintf("doc-%d", len(f.docs)+1)
	}
	if f.docs == nil {
		f.docs = make(map[string]*models.EncryptedDocument)
	}
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeDocumentStore) GetDocument(ctx context.Context, userID, documentID string) (*models.EncryptedDocument, error) {
	if doc, ok := f.docs[documentID]; ok && doc.UserID == userID {
		return doc, nil
	}
	return nil, models.ErrNotFound
}

type fakeReporter struct {
	events []*models.SecurityEvent
}

func (f *fakeReporter) ProcessSecurityEvent(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error) {
	f.events = append(f.events, event)
	return event, nil
}

// localManager runs envelope encryption without KMS, the development path.
func localManager() *EncryptionManager {
	return NewEncryptionManager(&config.Config{}, nil)
}

func TestVaultRoundtrip(t *testing.T) {
	store := &fakeDocumentStore{}
	reporter := &fakeReporter{}
	vault := NewVault(localManager(), store, reporter)
	ctx := context.Background()

	doc, err := vault.StoreDocument(ctx, "user-1", "passport.pdf", "passport body bytes")
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, "AES-256-GCM", doc.Algorithm)
	assert.NotContains(t, doc.EncryptedContent, "passport body bytes")
	assert.Len(t, doc.IntegrityHash, 64)

	content, err := vault.OpenDocument(ctx, "user-1", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "passport body bytes", content)
	assert.Empty(t, reporter.events)
}

func TestVaultUnknownDocument(t *testing.T) {
	vault := NewVault(localManager(), &fakeDocumentStore{}, nil)

	_, err := vault.OpenDocument(context.Background(), "user-1", "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestVaultWrongUser(t *testing.T) {
	store := &fakeDocumentStore{}
	vault := NewVault(localManager(), store, nil)
	ctx := context.Background()

	doc, err := vault.StoreDocument(ctx, "user-1", "passport.pdf", "body")
	require.NoError(t, err)

	_, err = vault.OpenDocument(ctx, "user-2", doc.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestVaultIntegrityViolation(t *testing.T) {
	store := &fakeDocumentStore{}
	reporter := &fakeReporter{}
	vault := NewVault(localManager(), store, reporter)
	ctx := context.Background()

	doc, err := vault.StoreDocument(ctx, "user-1", "contract.pdf", "original body")
	require.NoError(t, err)

	// Simulate a stored hash that no longer matches the content
	store.docs[doc.ID].IntegrityHash = "0000000000000000000000000000000000000000000000000000000000000000"

	_, err = vault.OpenDocument(ctx, "user-1", doc.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIntegrityViolation)

	require.Len(t, reporter.events, 1)
	event := reporter.events[0]
	assert.Equal(t, models.EventSuspiciousActivity, event.EventType)
	assert.Equal(t, models.SeverityHigh, event.Severity)
	assert.Equal(t, "user-1", event.UserID)
	assert.Equal(t, []string{"document_integrity_violation"}, event.EventData.RiskIndicators)
	assert.Equal(t, doc.ID, event.EventData.Extra["document_id"])
}

func TestVaultTamperedCiphertext(t *testing.T) {
	store := &fakeDocumentStore{}
	reporter := &fakeReporter{}
	manager := localManager()
	vault := NewVault(manager, store, reporter)
	ctx := context.Background()

	doc, err := vault.StoreDocument(ctx, "user-1", "contract.pdf", "original body")
	require.NoError(t, err)

	// Swap in a ciphertext from a different document; GCM rejects it
	other, err := manager.EncryptField(ctx, "something else", "document")
	require.NoError(t, err)
	store.docs[doc.ID].EncryptedContent = other.EncryptedValue

	_, err = vault.OpenDocument(ctx, "user-1", doc.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	// A decryption failure is not an integrity report
	assert.Empty(t, reporter.events)
}

func TestEncryptFieldRoundtrip(t *testing.T) {
	manager := localManager()
	ctx := context.Background()

	encrypted, err := manager.EncryptField(ctx, "secret value", "mfa_secret")
	require.NoError(t, err)
	assert.NotEqual(t, "secret value", encrypted.EncryptedValue)
	assert.Equal(t, "v1", encrypted.Version)

	plaintext, err := manager.DecryptField(ctx, encrypted)
	require.NoError(t, err)
	assert.Equal(t, "secret value", plaintext)

	// Each value gets a fresh data key
	again, err := manager.EncryptField(ctx, "secret value", "mfa_secret")
	require.NoError(t, err)
	assert.NotEqual(t, encrypted.EncryptedValue, again.EncryptedValue)
	assert.NotEqual(t, encrypted.EncryptedDEK, again.EncryptedDEK)

	assert.Equal(t, 2, manager.GetCacheSize())
	manager.ClearCache()
	assert.Equal(t, 0, manager.GetCacheSize())

	// Decryption still works from the stored DEK after a cache wipe
	plaintext, err = manager.DecryptField(ctx, encrypted)
	require.NoError(t, err)
	assert.Equal(t, "secret value", plaintext)
	assert.Equal(t, 1, manager.GetCacheSize())
}

func TestKMSEnabledWithoutClientRunsLocally(t *testing.T) {
	// AWS config loading failed at startup: KMS is on in config but no
	// client exists. The manager must run in local mode, not panic.
	cfg := &config.Config{KMS: config.KMSConfig{Enabled: true, KeyID: "key-1"}}
	manager := NewEncryptionManager(cfg, nil)
	ctx := context.Background()

	encrypted, err := manager.EncryptField(ctx, "secret value", "mfa_secret")
	require.NoError(t, err)

	manager.ClearCache()
	plaintext, err := manager.DecryptField(ctx, encrypted)
	require.NoError(t, err)
	assert.Equal(t, "secret value", plaintext)
}
