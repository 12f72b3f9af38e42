package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stronghold-security/internal/models"
)

type fakeAuditReader struct {
	total         uint64
	critical      uint64
	violations    uint64
	byCategory    map[string]uint64
	violationsCat map[string]uint64
	actionCount   uint64
	violationList []*models.AuditEvent
	err           error

	// rangeCounts overrides total per [start, end) window when set,
	// keyed by the window start. Used by the trend tests.
	rangeCounts map[time.Time]uint64
}

func (f *fakeAuditReader) CountInRange(ctx context.Context, start, end time.Time) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.rangeCounts != nil {
		if n, ok := f.rangeCounts[start]; ok {
			return n, nil
		}
	}
	return f.total, nil
}

func (f *fakeAuditReader) CountCriticalInRange(ctx context.Context, start, end time.Time) (uint64, error) {
	return f.critical, f.err
}

func (f *fakeAuditReader) CountViolationsInRange(ctx context.Context, start, end time.Time) (uint64, error) {
	return f.violations, f.err
}

func (f *fakeAuditReader) CountByCategory(ctx context.Context, start, end time.Time) (map[string]uint64, error) {
	return f.byCategory, f.err
}

func (f *fakeAuditReader) CountViolationsByCategory(ctx context.Context, start, end time.Time) (map[string]uint64, error) {
	return f.violationsCat, f.err
}

func (f *fakeAuditReader) CountActionsInRange(ctx context.Context, start, end time.Time, actions []string) (uint64, error) {
	return f.actionCount, f.err
}

func (f *fakeAuditReader) ListViolations(ctx context.Context, start, end time.Time, limit int) ([]*models.AuditEvent, error) {
	return f.violationList, f.err
}

type fakeReportStore struct {
	inserted  []*models.ComplianceReport
	completed []*models.ComplianceReport
	failures  map[string]string
	insertErr error
}

func (f *fakeReportStore) InsertReport(ctx context.Context, report *models.ComplianceReport) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, report)
	return nil
}

func (f *fakeReportStore) CompleteReport(ctx context.Context, report *models.ComplianceReport) error {
	f.completed = append(f.completed, report)
	return nil
}

func (f *fakeReportStore) FailReport(ctx context.Context, reportID, errMessage string) error {
	if f.failures == nil {
		f.failures = make(map[string]string)
	}
	f.failures[reportID] = errMessage
	return nil
}

func (f *fakeReportStore) GetReportByID(ctx context.Context, reportID string) (*models.ComplianceReport, error) {
	for _, r := range f.inserted {
		if r.ID == reportID {
			return r, nil
		}
	}
	return nil, models.ErrNotFound
}

type fakeRequestCounter struct {
	count int
	err   error
}

func (f *fakeRequestCounter) CountRequestsInRange(ctx context.Context, start, end time.Time) (int, error) {
	return f.count, f.err
}

var (
	periodStart = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
)

func TestGenerateReportRejectsInvertedPeriod(t *testing.T) {
	gen := NewGenerator(&fakeAuditReader{}, &fakeReportStore{}, &fakeRequestCounter{}, time.Second)

	_, err := gen.GenerateReport(context.Background(), models.FrameworkGDPR, periodEnd, periodStart, "auditor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "before start")
}

func TestGenerateReportWithoutAuditTrail(t *testing.T) {
	gen := NewGenerator(nil, &fakeReportStore{}, &fakeRequestCounter{}, time.Second)

	_, err := gen.GenerateReport(context.Background(), models.FrameworkGDPR, periodStart, periodEnd, "auditor")
	require.ErrorIs(t, err, ErrAuditUnavailable)
}

func TestGeneratePanicMarksReportErrored(t *testing.T) {
	store := &fakeReportStore{}
	// A nil request counter makes the build panic partway through.
	gen := NewGenerator(&fakeAuditReader{}, store, nil, time.Second)

	report := &models.ComplianceReport{
		ID:          "rep-1",
		ReportType:  models.FrameworkGDPR,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Status:      models.ReportGenerating,
	}
	store.inserted = append(store.inserted, report)

	assert.NotPanics(t, func() { gen.generate(report) })
	assert.Contains(t, store.failures["rep-1"], "panic")
}

func TestGenerateReportWritesGeneratingRow(t *testing.T) {
	store := &fakeReportStore{}
	gen := NewGenerator(&fakeAuditReader{}, store, &fakeRequestCounter{}, time.Second)

	id, err := gen.GenerateReport(context.Background(), models.FrameworkGDPR, periodStart, periodEnd, "auditor")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Len(t, store.inserted, 1)
	row := store.inserted[0]
	assert.Equal(t, id, row.ID)
	assert.Equal(t, models.ReportGenerating, row.Status)
	assert.Equal(t, "auditor", row.GeneratedBy)
}

func TestBuildCompletesReport(t *testing.T) {
	audit := &fakeAuditReader{
		total:      1000,
		critical:   3,
		violations: 6,
		byCategory: map[string]uint64{
			models.CategorySecurity:       200,
			models.CategoryCompliance:     300,
			models.CategoryDataProcessing: 400,
		},
		violationsCat: map[string]uint64{models.CategoryCompliance: 6},
		actionCount:   25,
		violationList: []*models.AuditEvent{
			{Action: "data_export", Timestamp: periodStart.Add(48 * time.Hour)},
		},
	}
	store := &fakeReportStore{}
	gen := NewGenerator(audit, store, &fakeRequestCounter{count: 4}, time.Second)

	report := &models.ComplianceReport{
		ID:          "rep-1",
		ReportType:  models.FrameworkGDPR,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		GeneratedBy: "auditor",
	}
	require.NoError(t, gen.build(context.Background(), report))

	assert.Equal(t, models.ReportCompleted, report.Status)
	require.Len(t, store.completed, 1)

	assert.Equal(t, 1000, report.Summary.TotalEvents)
	assert.Equal(t, 3, report.Summary.CriticalEvents)
	assert.Equal(t, 6, report.Summary.ComplianceViolations)
	assert.Equal(t, 200, report.Summary.SecurityIncidents)
	assert.Equal(t, 4, report.Summary.DataSubjectRequests)
	assert.Equal(t, 25, report.Summary.ConsentChanges)

	// GDPR reports carry four framework sections
	require.Len(t, report.Sections, 4)
	assert.Equal(t, "Data Processing Activities", report.Sections[0].Title)

	// Consent Management covers only the compliance category
	consent := report.Sections[1]
	assert.Equal(t, 300, consent.EventCount)
	assert.Equal(t, 6, consent.ViolationCount)
	assert.InDelta(t, 98.0, consent.ComplianceScore, 0.0001)
	assert.Equal(t, models.SeverityLow, consent.RiskLevel)

	require.Len(t, report.Findings, 2)
	assert.Equal(t, "Compliance violations detected", report.Findings[0].Title)
	assert.Contains(t, report.Findings[0].Description, "data_export")
	assert.Equal(t, models.SeverityMedium, report.Findings[0].Severity)
	assert.Equal(t, "Critical security events recorded", report.Findings[1].Title)
	assert.Equal(t, models.SeverityLow, report.Findings[1].Severity)

	// No high or critical finding, so no recommendations
	assert.Empty(t, report.Recommendations)

	require.Len(t, report.Attestations, 1)
	assert.Equal(t, "auditor", report.Attestations[0].AttestedBy)
	assert.Contains(t, report.Attestations[0].Statement, "2026-02-01 to 2026-03-01")
}

func TestBuildCleanPeriodHasNoFindings(t *testing.T) {
	gen := NewGenerator(&fakeAuditReader{}, &fakeReportStore{}, &fakeRequestCounter{}, time.Second)

	report := &models.ComplianceReport{
		ID:          "rep-1",
		ReportType:  models.FrameworkSOX,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	}
	require.NoError(t, gen.build(context.Background(), report))

	assert.Empty(t, report.Findings)
	assert.Empty(t, report.Recommendations)
	require.Len(t, report.Sections, 3)
	for _, section := range report.Sections {
		assert.Equal(t, 100.0, section.ComplianceScore)
		assert.Equal(t, models.SeverityLow, section.RiskLevel)
	}
}

func TestBuildSevereFindingsAddRecommendations(t *testing.T) {
	audit := &fakeAuditReader{total: 100, violations: 30}
	gen := NewGenerator(audit, &fakeReportStore{}, &fakeRequestCounter{}, time.Second)

	report := &models.ComplianceReport{
		ID:          "rep-1",
		ReportType:  "custom",
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	}
	require.NoError(t, gen.build(context.Background(), report))

	require.Len(t, report.Findings, 1)
	assert.Equal(t, models.SeverityHigh, report.Findings[0].Severity)
	assert.NotEmpty(t, report.Recommendations)

	// Unknown report types fall back to the single general section
	require.Len(t, report.Sections, 1)
	assert.Equal(t, "General Compliance", report.Sections[0].Title)
	assert.InDelta(t, 70.0, report.Sections[0].ComplianceScore, 0.0001)
	assert.Equal(t, models.SeverityHigh, report.Sections[0].RiskLevel)
}

func TestBuildAggregateFailure(t *testing.T) {
	audit := &fakeAuditReader{err: errors.New("clickhouse down")}
	gen := NewGenerator(audit, &fakeReportStore{}, &fakeRequestCounter{}, time.Second)

	report := &models.ComplianceReport{ID: "rep-1", PeriodStart: periodStart, PeriodEnd: periodEnd}
	require.Error(t, gen.build(context.Background(), report))
	assert.NotEqual(t, models.ReportCompleted, report.Status)
}

func TestComputeTrend(t *testing.T) {
	recentStart := periodEnd.AddDate(0, 0, -7)
	gen := NewGenerator(&fakeAuditReader{rangeCounts: map[time.Time]uint64{
		recentStart: 700, // 100/day over the last week
		periodStart: 1050, // 50/day over the prior three weeks
	}}, &fakeReportStore{}, &fakeRequestCounter{}, time.Second)

	trend, err := gen.computeTrend(context.Background(), periodStart, periodEnd)
	require.NoError(t, err)
	assert.Equal(t, "declining", trend)

	gen = NewGenerator(&fakeAuditReader{rangeCounts: map[time.Time]uint64{
		recentStart: 70, // 10/day recently
		periodStart: 1050,
	}}, &fakeReportStore{}, &fakeRequestCounter{}, time.Second)
	trend, err = gen.computeTrend(context.Background(), periodStart, periodEnd)
	require.NoError(t, err)
	assert.Equal(t, "improving", trend)

	gen = NewGenerator(&fakeAuditReader{total: 0}, &fakeReportStore{}, &fakeRequestCounter{}, time.Second)
	trend, err = gen.computeTrend(context.Background(), periodStart, periodEnd)
	require.NoError(t, err)
	assert.Equal(t, "stable", trend)

	// Periods shorter than a week always read stable
	trend, err = gen.computeTrend(context.Background(), periodEnd.AddDate(0, 0, -3), periodEnd)
	require.NoError(t, err)
	assert.Equal(t, "stable", trend)
}

func TestComplianceScore(t *testing.T) {
	assert.Equal(t, 100.0, ComplianceScore(0, 0))
	assert.Equal(t, 100.0, ComplianceScore(0, 500))
	assert.InDelta(t, 90.0, ComplianceScore(10, 100), 0.0001)
	assert.Equal(t, 0.0, ComplianceScore(200, 100))
}

func TestRiskLevel(t *testing.T) {
	assert.Equal(t, models.SeverityLow, riskLevel(90))
	assert.Equal(t, models.SeverityMedium, riskLevel(89.9))
	assert.Equal(t, models.SeverityMedium, riskLevel(75))
	assert.Equal(t, models.SeverityHigh, riskLevel(74.9))
	assert.Equal(t, models.SeverityHigh, riskLevel(50))
	assert.Equal(t, models.SeverityCritical, riskLevel(49.9))
}

func TestFindingSeverity(t *testing.T) {
	assert.Equal(t, models.SeverityLow, findingSeverity(4))
	assert.Equal(t, models.SeverityMedium, findingSeverity(5))
	assert.Equal(t, models.SeverityHigh, findingSeverity(20))
	assert.Equal(t, models.SeverityCritical, findingSeverity(50))
}

func TestRiskRating(t *testing.T) {
	assert.Equal(t, 1, riskRating(0))
	assert.Equal(t, 2, riskRating(5))
	assert.Equal(t, 10, riskRating(500))
}
