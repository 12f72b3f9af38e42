package models

import "time"

// Data subject request types (GDPR articles 15-21).
const (
	RequestAccess        = "access"
	RequestRectification = "rectification"
	RequestErasure       = "erasure"
	RequestPortability   = "portability"
	RequestRestriction   = "restriction"
	RequestObjection     = "objection"
)

// Data subject request statuses.
const (
	RequestPending            = "pending"
	RequestInProgress         = "in_progress"
	RequestCompleted          = "completed"
	RequestRejected           = "rejected"
	RequestPartiallyCompleted = "partially_completed"
)

// Verification statuses for the requester's identity.
const (
	VerificationUnverified = "unverified"
	VerificationSent       = "sent"
	VerificationVerified   = "verified"
)

// DataSubjectRequest tracks one GDPR request through its lifecycle.
// Deadline is fixed at creation and never recalculated.
type DataSubjectRequest struct {
	ID                 string            `db:"request_id" json:"id"`
	UserID             string            `db:"user_id" json:"user_id"`
	RequestType        string            `db:"request_type" json:"request_type"`
	Status             string            `db:"status" json:"status"`
	RequestedAt        time.Time         `db:"requested_at" json:"requested_at"`
	Deadline           time.Time         `db:"deadline" json:"deadline"`
	CompletedAt        *time.Time        `db:"completed_at" json:"completed_at,omitempty"`
	VerificationStatus string            `db:"verification_status" json:"verification_status"`
	Payload            map[string]string `db:"payload" json:"payload,omitempty"`
	ResponseData       string            `db:"response_data" json:"response_data,omitempty"`
	RejectionReason    string            `db:"rejection_reason" json:"rejection_reason,omitempty"`
	ExceptionsApplied  []string          `db:"exceptions_applied" json:"exceptions_applied,omitempty"`
}

// ValidRequestType reports whether t is a recognised data subject request type.
func ValidRequestType(t string) bool {
	switch t {
	case RequestAccess, RequestRectification, RequestErasure,
		RequestPortability, RequestRestriction, RequestObjection:
		return true
	}
	return false
}

// requestTransitions encodes the request state machine.
var requestTransitions = map[string][]string{
	RequestPending:    {RequestInProgress, RequestRejected},
	RequestInProgress: {RequestCompleted, RequestRejected, RequestPartiallyCompleted},
}

// CanTransition reports whether the request may move to the target status.
func (r *DataSubjectRequest) CanTransition(target string) bool {
	for _, allowed := range requestTransitions[r.Status] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the request reached a final status.
func (r *DataSubjectRequest) IsTerminal() bool {
	switch r.Status {
	case RequestCompleted, RequestRejected, RequestPartiallyCompleted:
		return true
	}
	return false
}
