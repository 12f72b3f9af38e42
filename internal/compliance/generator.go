package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stronghold-security/internal/models"
	"stronghold-security/internal/util"
)

// AuditReader is the aggregate query surface report generation reads.
type AuditReader interface {
	CountInRange(ctx context.Context, start, end time.Time) (uint64, error)
	CountCriticalInRange(ctx context.Context, start, end time.Time) (uint64, error)
	CountViolationsInRange(ctx context.Context, start, end time.Time) (uint64, error)
	CountByCategory(ctx context.Context, start, end time.Time) (map[string]uint64, error)
	CountViolationsByCategory(ctx context.Context, start, end time.Time) (map[string]uint64, error)
	CountActionsInRange(ctx context.Context, start, end time.Time, actions []string) (uint64, error)
	ListViolations(ctx context.Context, start, end time.Time, limit int) ([]*models.AuditEvent, error)
}

// ReportStore persists report rows.
type ReportStore interface {
	InsertReport(ctx context.Context, report *models.ComplianceReport) error
	CompleteReport(ctx context.Context, report *models.ComplianceReport) error
	FailReport(ctx context.Context, reportID, errMessage string) error
	GetReportByID(ctx context.Context, reportID string) (*models.ComplianceReport, error)
}

// RequestCounter counts data subject requests in a period.
type RequestCounter interface {
	CountRequestsInRange(ctx context.Context, start, end time.Time) (int, error)
}

var consentActions = []string{"consent_given", "consent_withdrawn"}

// ErrAuditUnavailable is returned when the audit trail backing a report
// is not connected, such as a dev run without ClickHouse.
var ErrAuditUnavailable = errors.New("audit trail unavailable")

// Generator builds compliance reports. GenerateReport returns as soon as
// the generating row is written; the heavy aggregation runs in the
// background and finishes with a single completing write, or an error
// status if anything fails mid-generation. Callers poll GetReport.
type Generator struct {
	audit    AuditReader
	reports  ReportStore
	requests RequestCounter
	timeout  time.Duration
	now      func() time.Time
}

func NewGenerator(audit AuditReader, reports ReportStore, requests RequestCounter, timeout time.Duration) *Generator {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Generator{
		audit:    audit,
		reports:  reports,
		requests: requests,
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// GenerateReport inserts the generating row and kicks off the background
// build. The returned ID is usable for polling immediately.
func (g *Generator) GenerateReport(ctx context.Context, reportType string, periodStart, periodEnd time.Time, generatedBy string) (string, error) {
	if g.audit == nil {
		return "", ErrAuditUnavailable
	}
	if periodEnd.Before(periodStart) {
		return "", fmt.Errorf("report period end %s before start %s", periodEnd, periodStart)
	}

	report := &models.ComplianceReport{
		ID:          uuid.New().String(),
		ReportType:  reportType,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		GeneratedBy: generatedBy,
		GeneratedAt: g.now(),
		Status:      models.ReportGenerating,
	}

	if err := g.reports.InsertReport(ctx, report); err != nil {
		return "", fmt.Errorf("failed to start report generation: %w", err)
	}

	go g.generate(report)

	util.Info("Report generation started",
		zap.String("report_id", report.ID),
		zap.String("report_type", reportType))

	return report.ID, nil
}

func (g *Generator) GetReport(ctx context.Context, reportID string) (*models.ComplianceReport, error) {
	return g.reports.GetReportByID(ctx, reportID)
}

func (g *Generator) generate(report *models.ComplianceReport) {
	// This runs detached from any request; a panic here must not take
	// down the process.
	defer func() {
		if r := recover(); r != nil {
			util.Error("Report generation panicked",
				zap.String("report_id", report.ID),
				zap.Any("panic", r))
			if failErr := g.reports.FailReport(context.Background(), report.ID, fmt.Sprintf("panic: %v", r)); failErr != nil {
				util.Error("Failed to mark report as errored",
					zap.String("report_id", report.ID),
					zap.Error(failErr))
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	if err := g.build(ctx, report); err != nil {
		util.Error("Report generation failed",
			zap.String("report_id", report.ID),
			zap.Error(err))
		if failErr := g.reports.FailReport(context.Background(), report.ID, err.Error()); failErr != nil {
			util.Error("Failed to mark report as errored",
				zap.String("report_id", report.ID),
				zap.Error(failErr))
		}
		return
	}

	util.Info("Report generation completed",
		zap.String("report_id", report.ID),
		zap.Int("findings", len(report.Findings)))
}

func (g *Generator) build(ctx context.Context, report *models.ComplianceReport) error {
	summary, err := g.buildSummary(ctx, report.PeriodStart, report.PeriodEnd)
	if err != nil {
		return err
	}
	report.Summary = summary

	sections, err := g.buildSections(ctx, report)
	if err != nil {
		return err
	}
	report.Sections = sections

	findings, err := g.buildFindings(ctx, report)
	if err != nil {
		return err
	}
	report.Findings = findings
	report.Recommendations = buildRecommendations(findings)
	report.Attestations = buildAttestations(report, g.now())

	report.Status = models.ReportCompleted
	return g.reports.CompleteReport(ctx, report)
}

func (g *Generator) buildSummary(ctx context.Context, start, end time.Time) (models.ReportSummary, error) {
	var summary models.ReportSummary

	total, err := g.audit.CountInRange(ctx, start, end)
	if err != nil {
		return summary, err
	}
	critical, err := g.audit.CountCriticalInRange(ctx, start, end)
	if err != nil {
		return summary, err
	}
	violations, err := g.audit.CountViolationsInRange(ctx, start, end)
	if err != nil {
		return summary, err
	}
	byCategory, err := g.audit.CountByCategory(ctx, start, end)
	if err != nil {
		return summary, err
	}
	consentChanges, err := g.audit.CountActionsInRange(ctx, start, end, consentActions)
	if err != nil {
		return summary, err
	}
	requests, err := g.requests.CountRequestsInRange(ctx, start, end)
	if err != nil {
		return summary, err
	}

	summary.TotalEvents = int(total)
	summary.CriticalEvents = int(critical)
	summary.ComplianceViolations = int(violations)
	summary.SecurityIncidents = int(byCategory[models.CategorySecurity])
	summary.DataSubjectRequests = requests
	summary.ConsentChanges = int(consentChanges)
	return summary, nil
}

// sectionSpec maps a framework section onto the audit categories it covers.
type sectionSpec struct {
	title       string
	description string
	categories  []string
}

func frameworkSections(reportType string) []sectionSpec {
	switch reportType {
	case models.FrameworkGDPR:
		return []sectionSpec{
			{"Data Processing Activities", "Lawfulness and records of processing operations", []string{models.CategoryDataProcessing}},
			{"Consent Management", "Consent capture, withdrawal evidence, and auditability", []string{models.CategoryCompliance}},
			{"Data Subject Rights", "Handling of access, erasure, and portability requests", []string{models.CategoryCompliance, models.CategoryDataProcessing}},
			{"Data Protection Measures", "Technical and organisational security controls", []string{models.CategorySecurity}},
		}
	case models.FrameworkSOX:
		return []sectionSpec{
			{"Access Controls", "Authentication and authorization over financial systems", []string{models.CategorySecurity}},
			{"Change Management", "Controlled modification of systems and configuration", []string{models.CategoryAdministrative}},
			{"Audit Trail Integrity", "Completeness and retention of audit records", []string{models.CategoryCompliance, models.CategoryOperational}},
		}
	case models.FrameworkISO27001:
		return []sectionSpec{
			{"Access Control", "Identity, privilege, and session management controls", []string{models.CategorySecurity}},
			{"Incident Management", "Detection, response, and escalation of security incidents", []string{models.CategorySecurity, models.CategoryOperational}},
			{"Operations Security", "Operational procedures and change control", []string{models.CategoryOperational, models.CategoryAdministrative}},
		}
	}
	return []sectionSpec{
		{"General Compliance", "Overall audit activity for the period", nil},
	}
}

func (g *Generator) buildSections(ctx context.Context, report *models.ComplianceReport) ([]models.ReportSection, error) {
	byCategory, err := g.audit.CountByCategory(ctx, report.PeriodStart, report.PeriodEnd)
	if err != nil {
		return nil, err
	}
	violationsByCategory, err := g.audit.CountViolationsByCategory(ctx, report.PeriodStart, report.PeriodEnd)
	if err != nil {
		return nil, err
	}

	trend, err := g.computeTrend(ctx, report.PeriodStart, report.PeriodEnd)
	if err != nil {
		return nil, err
	}

	specs := frameworkSections(report.ReportType)
	sections := make([]models.ReportSection, 0, len(specs))
	for _, spec := range specs {
		var events, violations int
		if spec.categories == nil {
			events = report.Summary.TotalEvents
			violations = report.Summary.ComplianceViolations
		} else {
			for _, cat := range spec.categories {
				events += int(byCategory[cat])
				violations += int(violationsByCategory[cat])
			}
		}

		score := ComplianceScore(violations, events)
		sections = append(sections, models.ReportSection{
			Title:           spec.title,
			Description:     spec.description,
			ComplianceScore: score,
			RiskLevel:       riskLevel(score),
			Trend:           trend,
			EventCount:      events,
			ViolationCount:  violations,
		})
	}

	return sections, nil
}

// computeTrend compares the last seven days of the period against the
// preceding stretch, both normalised to daily volume. A swing past the
// twenty percent band moves the trend off stable.
func (g *Generator) computeTrend(ctx context.Context, start, end time.Time) (string, error) {
	recentStart := end.AddDate(0, 0, -7)
	if recentStart.Before(start) {
		return "stable", nil
	}
	priorDays := recentStart.Sub(start).Hours() / 24
	if priorDays < 1 {
		return "stable", nil
	}

	recent, err := g.audit.CountInRange(ctx, recentStart, end)
	if err != nil {
		return "", err
	}
	prior, err := g.audit.CountInRange(ctx, start, recentStart)
	if err != nil {
		return "", err
	}

	recentDaily := float64(recent) / 7
	priorDaily := float64(prior) / priorDays
	if priorDaily == 0 {
		if recentDaily > 0 {
			return "declining", nil
		}
		return "stable", nil
	}

	switch {
	case recentDaily > priorDaily*1.2:
		return "declining", nil
	case recentDaily < priorDaily*0.8:
		return "improving", nil
	}
	return "stable", nil
}

func (g *Generator) buildFindings(ctx context.Context, report *models.ComplianceReport) ([]models.Finding, error) {
	var findings []models.Finding

	if v := report.Summary.ComplianceViolations; v > 0 {
		violations, err := g.audit.ListViolations(ctx, report.PeriodStart, report.PeriodEnd, 10)
		if err != nil {
			return nil, err
		}
		detail := "Failed actions bound to compliance requirements were recorded in the period."
		if len(violations) > 0 {
			detail = fmt.Sprintf("Most recent violation: action %q on %s.",
				violations[0].Action, violations[0].Timestamp.Format(time.RFC3339))
		}
		findings = append(findings, models.Finding{
			ID:          uuid.New().String(),
			Title:       "Compliance violations detected",
			Description: detail,
			Severity:    findingSeverity(v),
			RiskRating:  riskRating(v),
			EventCount:  v,
		})
	}

	if c := report.Summary.CriticalEvents; c > 0 {
		findings = append(findings, models.Finding{
			ID:          uuid.New().String(),
			Title:       "Critical security events recorded",
			Description: fmt.Sprintf("%d critical-severity audit events occurred in the reporting period.", c),
			Severity:    findingSeverity(c),
			RiskRating:  riskRating(c),
			EventCount:  c,
		})
	}

	return findings, nil
}

func buildRecommendations(findings []models.Finding) []models.Recommendation {
	hasSevere := false
	for _, f := range findings {
		if f.Severity == models.SeverityHigh || f.Severity == models.SeverityCritical {
			hasSevere = true
			break
		}
	}
	if !hasSevere {
		return nil
	}
	return []models.Recommendation{
		{
			Title:       "Review failing compliance controls",
			Description: "Investigate the controls behind recurring violations and assign remediation owners.",
			Priority:    "high",
		},
		{
			Title:       "Tighten monitoring on critical events",
			Description: "Lower alerting thresholds for the event sources producing critical-severity records.",
			Priority:    "medium",
		},
	}
}

func buildAttestations(report *models.ComplianceReport, now time.Time) []models.Attestation {
	return []models.Attestation{
		{
			Statement: fmt.Sprintf("This %s report covers %s to %s and was generated from the complete audit record for the period.",
				report.ReportType,
				report.PeriodStart.Format("2006-01-02"),
				report.PeriodEnd.Format("2006-01-02")),
			AttestedBy: report.GeneratedBy,
			AttestedAt: now,
		},
	}
}

// ComplianceScore is max(0, 100 - violations/total*100). A period with no
// events scores 100: nothing happened, nothing violated.
func ComplianceScore(violations, total int) float64 {
	if total == 0 {
		return 100
	}
	score := 100 - float64(violations)/float64(total)*100
	if score < 0 {
		return 0
	}
	return score
}

func riskLevel(score float64) string {
	switch {
	case score >= 90:
		return models.SeverityLow
	case score >= 75:
		return models.SeverityMedium
	case score >= 50:
		return models.SeverityHigh
	}
	return models.SeverityCritical
}

func findingSeverity(count int) string {
	switch {
	case count >= 50:
		return models.SeverityCritical
	case count >= 20:
		return models.SeverityHigh
	case count >= 5:
		return models.SeverityMedium
	}
	return models.SeverityLow
}

// riskRating scales the event count onto 1..10.
func riskRating(count int) int {
	rating := 1 + count/5
	if rating > 10 {
		return 10
	}
	return rating
}
