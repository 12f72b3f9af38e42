package encryption

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"stronghold-security/internal/models"
	"stronghold-security/internal/util"
)

// ErrIntegrityViolation means the decrypted content did not hash back to
// the stored integrity hash. The plaintext is never released when this
// happens.
var ErrIntegrityViolation = errors.New("document integrity verification failed")

// DocumentStore persists encrypted documents.
type DocumentStore interface {
	InsertDocument(ctx context.Context, doc *models.EncryptedDocument) error
	GetDocument(ctx context.Context, userID, documentID string) (*models.EncryptedDocument, error)
}

// IntegrityReporter receives a security event when a document fails
// integrity verification.
type IntegrityReporter interface {
	ProcessSecurityEvent(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error)
}

// Vault wraps documents with envelope encryption and a SHA-256 integrity
// hash of the plaintext, verified on every read.
type Vault struct {
	manager  *EncryptionManager
	store    DocumentStore
	reporter IntegrityReporter
}

func NewVault(manager *EncryptionManager, store DocumentStore, reporter IntegrityReporter) *Vault {
	return &Vault{
		manager:  manager,
		store:    store,
		reporter: reporter,
	}
}

// StoreDocument encrypts and persists a document for a user.
func (v *Vault) StoreDocument(ctx context.Context, userID, name, content string) (*models.EncryptedDocument, error) {
	encrypted, err := v.manager.EncryptField(ctx, content, "document")
	if err != nil {
		return nil, err
	}

	hash := sha256.Sum256([]byte(content))
	doc := &models.EncryptedDocument{
		UserID:           userID,
		Name:             name,
		EncryptedContent: encrypted.EncryptedValue,
		EncryptedDEK:     encrypted.EncryptedDEK,
		KeyID:            encrypted.KeyID,
		Algorithm:        "AES-256-GCM",
		IntegrityHash:    hex.EncodeToString(hash[:]),
	}

	if err := v.store.InsertDocument(ctx, doc); err != nil {
		return nil, err
	}

	return doc, nil
}

// OpenDocument decrypts a stored document and verifies its integrity. A
// hash mismatch raises a high-severity security event and aborts the read.
func (v *Vault) OpenDocument(ctx context.Context, userID, documentID string) (string, error) {
	doc, err := v.store.GetDocument(ctx, userID, documentID)
	if err != nil {
		return "", err
	}

	plaintext, err := v.manager.DecryptField(ctx, &EncryptedData{
		EncryptedValue: doc.EncryptedContent,
		EncryptedDEK:   doc.EncryptedDEK,
		KeyID:          doc.KeyID,
	})
	if err != nil {
		return "", err
	}

	hash := sha256.Sum256([]byte(plaintext))
	computed := hex.EncodeToString(hash[:])
	if subtle.ConstantTimeCompare([]byte(computed), []byte(doc.IntegrityHash)) != 1 {
		v.reportIntegrityFailure(ctx, doc)
		return "", fmt.Errorf("%w: document %s", ErrIntegrityViolation, documentID)
	}

	return plaintext, nil
}

func (v *Vault) reportIntegrityFailure(ctx context.Context, doc *models.EncryptedDocument) {
	util.Error("Document integrity verification failed",
		zap.String("document_id", doc.ID),
		zap.String("user_id", doc.UserID))

	if v.reporter == nil {
		return
	}
	_, err := v.reporter.ProcessSecurityEvent(ctx, &models.SecurityEvent{
		EventType: models.EventSuspiciousActivity,
		Severity:  models.SeverityHigh,
		UserID:    doc.UserID,
		IPAddress: net.IPv4zero,
		Timestamp: time.Now().UTC(),
		EventData: models.EventData{
			RiskIndicators: []string{"document_integrity_violation"},
			Extra: map[string]string{
				"document_id": doc.ID,
			},
		},
	})
	if err != nil {
		util.Warn("Failed to report integrity violation",
			zap.String("document_id", doc.ID),
			zap.Error(err))
	}
}
