package gdpr

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleExport() *Export {
	return &Export{
		UserID:      "user-1",
		GeneratedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		Fields: []ExportField{
			{
				Field: "user_profiles.email", Value: "alice@example.com", Present: true,
				Sensitivity: "confidential", LegalBasis: "consent", RetentionDays: 365,
				ThirdPartyShared: []string{"crm", "mailer"},
			},
			{
				Field: "user_profiles.phone_number", Present: false,
				Sensitivity: "restricted", LegalBasis: "contract", RetentionDays: 365,
			},
		},
	}
}

func TestFormatExportJSON(t *testing.T) {
	body, err := formatExport(sampleExport(), formatJSON)
	require.NoError(t, err)

	var decoded Export
	require.NoError(t, json.Unmarshal([]byte(body), &decoded))
	assert.Equal(t, "user-1", decoded.UserID)
	require.Len(t, decoded.Fields, 2)
	assert.Equal(t, "alice@example.com", decoded.Fields[0].Value)

	// An empty format means JSON
	fallback, err := formatExport(sampleExport(), "")
	require.NoError(t, err)
	assert.Equal(t, body, fallback)
}

func TestFormatExportCSV(t *testing.T) {
	body, err := formatExport(sampleExport(), formatCSV)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(body)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"field", "value", "present", "sensitivity", "legal_basis", "retention_days", "third_party_shared"}, records[0])
	assert.Equal(t, []string{"user_profiles.email", "alice@example.com", "true", "confidential", "consent", "365", "crm;mailer"}, records[1])
	assert.Equal(t, "false", records[2][2])
}

func TestFormatExportXML(t *testing.T) {
	body, err := formatExport(sampleExport(), formatXML)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(body, xml.Header))
	assert.Contains(t, body, "<personal_data_export>")

	var decoded Export
	require.NoError(t, xml.Unmarshal([]byte(body), &decoded))
	assert.Equal(t, "user-1", decoded.UserID)
	require.Len(t, decoded.Fields, 2)
	assert.Equal(t, []string{"crm", "mailer"}, decoded.Fields[0].ThirdPartyShared)
}

func TestFormatExportUnknownFormat(t *testing.T) {
	_, err := formatExport(sampleExport(), "pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported export format")
}

func TestCollectExportParallel(t *testing.T) {
	catalog := &fakeCatalog{
		fields: catalogFields(),
		values: map[string]string{
			"user_profiles.email":      "alice@example.com",
			"user_sessions.ip_address": "198.51.100.7",
		},
	}
	manager := NewRequestManager(&fakeRequestStore{}, catalog, nil, nil, nil, nil, nil, &fakeTokenHasher{}, testGDPRConfig())

	export, err := manager.collectExport(context.Background(), "user-1", false)
	require.NoError(t, err)
	require.Len(t, export.Fields, 3)

	// Results keep catalog order regardless of goroutine completion
	assert.Equal(t, "user_profiles.email", export.Fields[0].Field)
	assert.True(t, export.Fields[0].Present)
	assert.Equal(t, "user_sessions.ip_address", export.Fields[1].Field)
	assert.Equal(t, "billing_accounts.tax_id", export.Fields[2].Field)
	assert.False(t, export.Fields[2].Present)
}

func TestCollectExportPortableOnly(t *testing.T) {
	catalog := &fakeCatalog{fields: catalogFields()}
	manager := NewRequestManager(&fakeRequestStore{}, catalog, nil, nil, nil, nil, nil, &fakeTokenHasher{}, testGDPRConfig())

	export, err := manager.collectExport(context.Background(), "user-1", true)
	require.NoError(t, err)
	require.Len(t, export.Fields, 2)
	for _, f := range export.Fields {
		assert.NotEqual(t, "user_sessions.ip_address", f.Field)
	}
}

func TestCollectExportFieldFailure(t *testing.T) {
	catalog := &fakeCatalog{fields: catalogFields(), collectErr: assert.AnError}
	manager := NewRequestManager(&fakeRequestStore{}, catalog, nil, nil, nil, nil, nil, &fakeTokenHasher{}, testGDPRConfig())

	_, err := manager.collectExport(context.Background(), "user-1", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to collect")
}
