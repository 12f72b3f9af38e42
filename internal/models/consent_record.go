package models

import "time"

// ConsentRecord is legal evidence of a consent action. Withdrawal sets
// WithdrawnAt and clears IsActive; rows are never hard-deleted.
type ConsentRecord struct {
	ID           string     `db:"consent_id" json:"id"`
	UserID       string     `db:"user_id" json:"user_id"`
	ConsentType  string     `db:"consent_type" json:"consent_type"`
	Purpose      string     `db:"purpose" json:"purpose"`
	GivenAt      time.Time  `db:"given_at" json:"given_at"`
	WithdrawnAt  *time.Time `db:"withdrawn_at" json:"withdrawn_at,omitempty"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	LegalBasis   string     `db:"legal_basis" json:"legal_basis"`
	EvidenceData map[string]string `db:"evidence_data" json:"evidence_data,omitempty"`
}
