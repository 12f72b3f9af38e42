package models

// Personal data sensitivity levels.
const (
	SensitivityPublic       = "public"
	SensitivityInternal     = "internal"
	SensitivityConfidential = "confidential"
	SensitivityRestricted   = "restricted"
)

// PersonalDataField is a catalog entry mapping a stored column to its GDPR
// metadata. Seeded at bootstrap, edited by operators only; the GDPR engine
// consults it to know what to collect, redact, or erase for a user.
type PersonalDataField struct {
	TableName        string   `db:"table_name" json:"table_name"`
	ColumnName       string   `db:"column_name" json:"column_name"`
	Sensitivity      string   `db:"sensitivity" json:"sensitivity"`
	LegalBasis       string   `db:"legal_basis" json:"legal_basis"`
	RetentionDays    int      `db:"retention_days" json:"retention_days"`
	UserProvided     bool     `db:"user_provided" json:"user_provided"`
	LegallyRetained  bool     `db:"legally_retained" json:"legally_retained"`
	ThirdPartyShared []string `db:"third_party_shared" json:"third_party_shared,omitempty"`
}

// Erasable reports whether the field may be erased on a GDPR erasure request.
// Fields under a legal retention mandate are excluded.
func (f *PersonalDataField) Erasable() bool {
	return !f.LegallyRetained
}

// Portable reports whether the field belongs in a portability export:
// only user-provided or user-generated data travels.
func (f *PersonalDataField) Portable() bool {
	return f.UserProvided
}

// Qualified returns the table.column identifier for the field.
func (f *PersonalDataField) Qualified() string {
	return f.TableName + "." + f.ColumnName
}
