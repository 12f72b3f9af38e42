package gdpr

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"stronghold-security/internal/models"
	"stronghold-security/internal/util"
)

// FieldSeeder installs catalog entries at bootstrap.
type FieldSeeder interface {
	ListFields(ctx context.Context) ([]*models.PersonalDataField, error)
	SeedField(ctx context.Context, field *models.PersonalDataField) error
}

func defaultFields() []*models.PersonalDataField {
	return []*models.PersonalDataField{
		{
			TableName:     "user_profiles",
			ColumnName:    "email",
			Sensitivity:   models.SensitivityConfidential,
			LegalBasis:    "consent",
			RetentionDays: 365,
			UserProvided:  true,
		},
		{
			TableName:     "user_profiles",
			ColumnName:    "full_name",
			Sensitivity:   models.SensitivityConfidential,
			LegalBasis:    "contract",
			RetentionDays: 365,
			UserProvided:  true,
		},
		{
			TableName:        "user_profiles",
			ColumnName:       "phone_number",
			Sensitivity:      models.SensitivityRestricted,
			LegalBasis:       "consent",
			RetentionDays:    365,
			UserProvided:     true,
			ThirdPartyShared: []string{"sms-gateway"},
		},
		{
			TableName:     "user_sessions",
			ColumnName:    "ip_address",
			Sensitivity:   models.SensitivityInternal,
			LegalBasis:    "legitimate_interest",
			RetentionDays: 90,
		},
		{
			TableName:     "user_sessions",
			ColumnName:    "user_agent",
			Sensitivity:   models.SensitivityInternal,
			LegalBasis:    "legitimate_interest",
			RetentionDays: 90,
		},
		{
			TableName:       "billing_accounts",
			ColumnName:      "tax_id",
			Sensitivity:     models.SensitivityRestricted,
			LegalBasis:      "legal_obligation",
			RetentionDays:   2555,
			UserProvided:    true,
			LegallyRetained: true,
		},
	}
}

// SeedDefaultFields installs the default catalog entries, skipping any
// table.column that already exists so operator edits survive restarts.
func SeedDefaultFields(ctx context.Context, seeder FieldSeeder) error {
	existing, err := seeder.ListFields(ctx)
	if err != nil {
		return fmt.Errorf("failed to list personal data fields: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, field := range existing {
		seen[field.Qualified()] = true
	}

	for _, field := range defaultFields() {
		if seen[field.Qualified()] {
			continue
		}
		if err := seeder.SeedField(ctx, field); err != nil {
			return fmt.Errorf("failed to seed field %s: %w", field.Qualified(), err)
		}
		util.Info("Seeded personal data field", zap.String("field", field.Qualified()))
	}
	return nil
}
