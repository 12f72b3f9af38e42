package gdpr

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"stronghold-security/internal/models"
)

// Export formats.
const (
	formatJSON = "json"
	formatCSV  = "csv"
	formatXML  = "xml"
)

const collectParallelism = 8

// ExportField is one catalogued value with the GDPR metadata the subject
// is entitled to see alongside it.
type ExportField struct {
	Field            string   `json:"field" xml:"field"`
	Value            string   `json:"value" xml:"value"`
	Present          bool     `json:"present" xml:"present"`
	Sensitivity      string   `json:"sensitivity" xml:"sensitivity"`
	LegalBasis       string   `json:"legal_basis" xml:"legal_basis"`
	RetentionDays    int      `json:"retention_days" xml:"retention_days"`
	ThirdPartyShared []string `json:"third_party_shared,omitempty" xml:"third_party_shared>party,omitempty"`
}

// Export is the assembled data-subject package.
type Export struct {
	XMLName     xml.Name                `json:"-" xml:"personal_data_export"`
	UserID      string                  `json:"user_id" xml:"user_id"`
	GeneratedAt time.Time               `json:"generated_at" xml:"generated_at"`
	Fields      []ExportField           `json:"fields" xml:"fields>field"`
	Consents    []*models.ConsentRecord `json:"consents,omitempty" xml:"-"`
}

// collectExport reads every catalogued field for the user, in parallel.
// portableOnly narrows the set to user-provided fields for portability
// requests.
func (m *RequestManager) collectExport(ctx context.Context, userID string, portableOnly bool) (*Export, error) {
	fields, err := m.catalog.ListFields(ctx)
	if err != nil {
		return nil, err
	}

	selected := fields[:0:0]
	for _, f := range fields {
		if portableOnly && !f.Portable() {
			continue
		}
		selected = append(selected, f)
	}

	results := make([]ExportField, len(selected))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(collectParallelism)
	for i, field := range selected {
		i, field := i, field
		g.Go(func() error {
			value, present, err := m.catalog.CollectFieldValue(gctx, field, userID)
			if err != nil {
				return fmt.Errorf("failed to collect %s: %w", field.Qualified(), err)
			}
			results[i] = ExportField{
				Field:            field.Qualified(),
				Value:            value,
				Present:          present,
				Sensitivity:      field.Sensitivity,
				LegalBasis:       field.LegalBasis,
				RetentionDays:    field.RetentionDays,
				ThirdPartyShared: field.ThirdPartyShared,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Export{
		UserID:      userID,
		GeneratedAt: m.now(),
		Fields:      results,
	}, nil
}

func formatExport(export *Export, format string) (string, error) {
	switch format {
	case formatJSON, "":
		body, err := json.MarshalIndent(export, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode export as json: %w", err)
		}
		return string(body), nil

	case formatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write([]string{"field", "value", "present", "sensitivity", "legal_basis", "retention_days", "third_party_shared"}); err != nil {
			return "", fmt.Errorf("failed to encode export as csv: %w", err)
		}
		for _, f := range export.Fields {
			record := []string{
				f.Field, f.Value, strconv.FormatBool(f.Present), f.Sensitivity,
				f.LegalBasis, strconv.Itoa(f.RetentionDays),
				strings.Join(f.ThirdPartyShared, ";"),
			}
			if err := w.Write(record); err != nil {
				return "", fmt.Errorf("failed to encode export as csv: %w", err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return "", fmt.Errorf("failed to encode export as csv: %w", err)
		}
		return buf.String(), nil

	case formatXML:
		body, err := xml.MarshalIndent(export, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode export as xml: %w", err)
		}
		return xml.Header + string(body), nil
	}

	return "", fmt.Errorf("unsupported export format: %q", format)
}
