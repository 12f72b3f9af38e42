package models

import "time"

// Report frameworks.
const (
	FrameworkGDPR     = "gdpr"
	FrameworkSOX      = "sox"
	FrameworkISO27001 = "iso27001"
)

// Report statuses.
const (
	ReportGenerating = "generating"
	ReportCompleted  = "completed"
	ReportError      = "error"
)

// ReportSummary holds the headline counts for a reporting period.
type ReportSummary struct {
	TotalEvents          int `json:"total_events"`
	CriticalEvents       int `json:"critical_events"`
	ComplianceViolations int `json:"compliance_violations"`
	SecurityIncidents    int `json:"security_incidents"`
	DataSubjectRequests  int `json:"data_subject_requests"`
	ConsentChanges       int `json:"consent_changes"`
}

// ReportSection is one framework-specific slice of a compliance report.
type ReportSection struct {
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	ComplianceScore float64 `json:"compliance_score"`
	RiskLevel       string  `json:"risk_level"`
	Trend           string  `json:"trend"`
	EventCount      int     `json:"event_count"`
	ViolationCount  int     `json:"violation_count"`
}

// Finding documents a control deficiency surfaced by the audit analysis.
type Finding struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	RiskRating  int    `json:"risk_rating"`
	EventCount  int    `json:"event_count"`
}

// Recommendation is remediation guidance attached to a report.
type Recommendation struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

// Attestation records who stands behind the report contents.
type Attestation struct {
	Statement  string    `json:"statement"`
	AttestedBy string    `json:"attested_by"`
	AttestedAt time.Time `json:"attested_at"`
}

// ComplianceReport is the generated artifact. Inserted with status
// generating, completed (or failed) asynchronously in a single final write.
type ComplianceReport struct {
	ID              string           `db:"report_id" json:"id"`
	ReportType      string           `db:"report_type" json:"report_type"`
	PeriodStart     time.Time        `db:"period_start" json:"period_start"`
	PeriodEnd       time.Time        `db:"period_end" json:"period_end"`
	GeneratedBy     string           `db:"generated_by" json:"generated_by"`
	GeneratedAt     time.Time        `db:"generated_at" json:"generated_at"`
	Status          string           `db:"status" json:"status"`
	ErrorMessage    string           `db:"error_message" json:"error_message,omitempty"`
	Summary         ReportSummary    `db:"summary" json:"summary"`
	Sections        []ReportSection  `db:"sections" json:"sections"`
	Findings        []Finding        `db:"findings" json:"findings"`
	Recommendations []Recommendation `db:"recommendations" json:"recommendations"`
	Attestations    []Attestation    `db:"attestations" json:"attestations"`
}
