package models

import "time"

// EncryptedDocument is a vaulted document wrapped with envelope encryption.
// IntegrityHash is the SHA-256 of the plaintext, verified before every decrypt.
type EncryptedDocument struct {
	ID               string    `db:"document_id" json:"id"`
	UserID           string    `db:"user_id" json:"user_id"`
	Name             string    `db:"name" json:"name"`
	EncryptedContent string    `db:"encrypted_content" json:"-"`
	EncryptedDEK     string    `db:"encrypted_dek" json:"-"`
	KeyID            string    `db:"key_id" json:"key_id"`
	Algorithm        string    `db:"algorithm" json:"algorithm"`
	IntegrityHash    string    `db:"integrity_hash" json:"integrity_hash"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}
