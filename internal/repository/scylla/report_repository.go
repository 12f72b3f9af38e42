package scylla

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"stronghold-security/internal/models"
	"stronghold-security/internal/util"
)

// ReportRepository stores compliance reports. The generated body (summary,
// sections, findings, recommendations, attestations) is written in one final
// update so a failed generation never leaves partial content.
type ReportRepository struct {
	client *ScyllaClient
}

func NewReportRepository(client *ScyllaClient, logger *zap.Logger) *ReportRepository {
	return &ReportRepository{client: client}
}

func (r *ReportRepository) InsertReport(ctx context.Context, report *models.ComplianceReport) error {
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = time.Now().UTC()
	}

	query := r.client.Query(`
        INSERT INTO compliance_reports (
            report_id, report_type, period_start, period_end, generated_by,
            generated_at, status
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		report.ID, report.ReportType, report.PeriodStart, report.PeriodEnd,
		report.GeneratedBy, report.GeneratedAt, report.Status).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to insert compliance report",
			zap.String("report_id", report.ID),
			zap.Error(err))
		return fmt.Errorf("failed to insert compliance report: %w", err)
	}

	util.Info("Compliance report row created",
		zap.String("report_id", report.ID),
		zap.String("report_type", report.ReportType))

	return nil
}

// CompleteReport writes the full generated body and flips the status to
// completed in a single update.
func (r *ReportRepository) CompleteReport(ctx context.Context, report *models.ComplianceReport) error {
	summary, err := json.Marshal(report.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal report summary: %w", err)
	}
	sections, err := json.Marshal(report.Sections)
	if err != nil {
		return fmt.Errorf("failed to marshal report sections: %w", err)
	}
	findings, err := json.Marshal(report.Findings)
	if err != nil {
		return fmt.Errorf("failed to marshal report findings: %w", err)
	}
	recommendations, err := json.Marshal(report.Recommendations)
	if err != nil {
		return fmt.Errorf("failed to marshal report recommendations: %w", err)
	}
	attestations, err := json.Marshal(report.Attestations)
	if err != nil {
		return fmt.Errorf("failed to marshal report attestations: %w", err)
	}

	query := r.client.Query(`
        UPDATE compliance_reports
        SET status = ?, summary = ?, sections = ?, findings = ?,
            recommendations = ?, attestations = ?
        WHERE report_id = ?`,
		models.ReportCompleted, string(summary), string(sections), string(findings),
		string(recommendations), string(attestations), report.ID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to complete compliance report",
			zap.String("report_id", report.ID),
			zap.Error(err))
		return fmt.Errorf("failed to complete compliance report: %w", err)
	}

	util.Info("Compliance report completed",
		zap.String("report_id", report.ID))

	return nil
}

// FailReport marks the report as terminally failed; computed fields up to
// the failure point are discarded.
func (r *ReportRepository) FailReport(ctx context.Context, reportID, errMessage string) error {
	query := r.client.Query(`
        UPDATE compliance_reports SET status = ?, error_message = ? WHERE report_id = ?`,
		models.ReportError, errMessage, reportID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to mark compliance report as failed: %w", err)
	}
	return nil
}

func (r *ReportRepository) GetReportByID(ctx context.Context, reportID string) (*models.ComplianceReport, error) {
	report := &models.ComplianceReport{}
	var summaryJSON, sectionsJSON, findingsJSON, recommendationsJSON, attestationsJSON string

	query := r.client.Query(`
        SELECT report_id, report_type, period_start, period_end, generated_by,
            generated_at, status, error_message, summary, sections, findings,
            recommendations, attestations
        FROM compliance_reports WHERE report_id = ?`,
		reportID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&report.ID, &report.ReportType, &report.PeriodStart, &report.PeriodEnd,
		&report.GeneratedBy, &report.GeneratedAt, &report.Status, &report.ErrorMessage,
		&summaryJSON, &sectionsJSON, &findingsJSON, &recommendationsJSON, &attestationsJSON)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("compliance report %s: %w", reportID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get compliance report: %w", err)
	}

	decode := func(raw string, target interface{}) {
		if raw == "" {
			return
		}
		if err := json.Unmarshal([]byte(raw), target); err != nil {
			util.Warn("Failed to decode report field",
				zap.String("report_id", reportID),
				zap.Error(err))
		}
	}
	decode(summaryJSON, &report.Summary)
	decode(sectionsJSON, &report.Sections)
	decode(findingsJSON, &report.Findings)
	decode(recommendationsJSON, &report.Recommendations)
	decode(attestationsJSON, &report.Attestations)

	return report, nil
}
