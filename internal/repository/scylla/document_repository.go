package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"stronghold-security/internal/models"
	"stronghold-security/internal/util"
)

// DocumentRepository stores envelope-encrypted documents. Content and DEK
// columns carry ciphertext only; the plaintext never reaches this layer.
type DocumentRepository struct {
	client *ScyllaClient
}

func NewDocumentRepository(client *ScyllaClient, logger *zap.Logger) *DocumentRepository {
	return &DocumentRepository{client: client}
}

func (r *DocumentRepository) InsertDocument(ctx context.Context, doc *models.EncryptedDocument) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	query := r.client.Query(`
        INSERT INTO encrypted_documents (
            user_id, document_id, name, encrypted_content, encrypted_dek,
            key_id, algorithm, integrity_hash, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.UserID, doc.ID, doc.Name, doc.EncryptedContent, doc.EncryptedDEK,
		doc.KeyID, doc.Algorithm, doc.IntegrityHash, doc.CreatedAt,
		doc.UpdatedAt).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to insert encrypted document",
			zap.String("user_id", doc.UserID),
			zap.String("document_id", doc.ID),
			zap.Error(err))
		return fmt.Errorf("failed to insert encrypted document: %w", err)
	}

	return nil
}

func (r *DocumentRepository) GetDocument(ctx context.Context, userID, documentID string) (*models.EncryptedDocument, error) {
	doc := &models.EncryptedDocument{}

	query := r.client.Query(`
        SELECT user_id, document_id, name, encrypted_content, encrypted_dek,
            key_id, algorithm, integrity_hash, created_at, updated_at
        FROM encrypted_documents WHERE user_id = ? AND document_id = ?`,
		userID, documentID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&doc.UserID, &doc.ID, &doc.Name, &doc.EncryptedContent,
		&doc.EncryptedDEK, &doc.KeyID, &doc.Algorithm, &doc.IntegrityHash,
		&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("document %s: %w", documentID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get encrypted document: %w", err)
	}

	return doc, nil
}

func (r *DocumentRepository) ListDocuments(ctx context.Context, userID string) ([]*models.EncryptedDocument, error) {
	iter := r.client.Query(`
        SELECT user_id, document_id, name, encrypted_content, encrypted_dek,
            key_id, algorithm, integrity_hash, created_at, updated_at
        FROM encrypted_documents WHERE user_id = ?`,
		userID).WithContext(ctx).Iter()

	var out []*models.EncryptedDocument
	for {
		doc := &models.EncryptedDocument{}
		if !iter.Scan(&doc.UserID, &doc.ID, &doc.Name, &doc.EncryptedContent,
			&doc.EncryptedDEK, &doc.KeyID, &doc.Algorithm, &doc.IntegrityHash,
			&doc.CreatedAt, &doc.UpdatedAt) {
			break
		}
		out = append(out, doc)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list encrypted documents: %w", err)
	}
	return out, nil
}

// DeleteDocuments removes every vaulted document the user holds. Used by
// the erasure pipeline.
func (r *DocumentRepository) DeleteDocuments(ctx context.Context, userID string) (int, error) {
	docs, err := r.ListDocuments(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	batch := r.client.Batch(gocql.LoggedBatch).WithContext(ctx)
	for _, d := range docs {
		batch.Query(`DELETE FROM encrypted_documents WHERE user_id = ? AND document_id = ?`,
			userID, d.ID)
	}
	if err := r.client.ExecuteBatch(batch); err != nil {
		return 0, fmt.Errorf("failed to delete encrypted documents: %w", err)
	}

	util.Info("Encrypted documents deleted",
		zap.String("user_id", userID),
		zap.Int("count", len(docs)))

	return len(docs), nil
}
