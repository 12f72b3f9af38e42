package threat

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stronghold-security/internal/models"
	"stronghold-security/internal/util"
)

// Response action names a pattern may bind.
const (
	ActionRateLimitIP        = "rate_limit_ip"
	ActionTemporaryBlock     = "temporary_block"
	ActionRequireMFA         = "require_mfa"
	ActionSendNotification   = "send_notification"
	ActionLimitDataAccess    = "limit_data_access"
	ActionAlertSecurityTeam  = "alert_security_team"
	ActionLogIncident        = "log_incident"
	ActionRestrictUserAccess = "restrict_user_access"
	ActionEnhancedMonitoring = "enhanced_monitoring"
)

// Notifier publishes outbound notifications. Delivery happens downstream;
// the executor only hands the message off.
type Notifier interface {
	PublishNotification(ctx context.Context, kind, recipient string, payload interface{}) error
}

// AuditRecorder accepts incident records for the audit trail.
type AuditRecorder interface {
	Record(event *models.AuditEvent) error
}

// IPBlocker applies temporary network-level blocks.
type IPBlocker interface {
	SetLockout(key string, ttl time.Duration) error
}

// SessionTerminator revokes a user's active sessions.
type SessionTerminator interface {
	TerminateAllSessions(ctx context.Context, userID string) (int, error)
}

// ActionResult records one handler invocation.
type ActionResult struct {
	Action string `json:"action"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

type actionHandler func(ctx context.Context, event *models.SecurityEvent) error

// Executor invokes the automatic response actions bound to matched
// patterns. Each handler runs in its own failure boundary: a panicking or
// erroring action is recorded and the rest still run. Unknown action names
// are logged and skipped.
type Executor struct {
	notifier   Notifier
	audit      AuditRecorder
	blocker    IPBlocker
	terminator SessionTerminator

	handlers map[string]actionHandler
}

func NewExecutor(notifier Notifier, audit AuditRecorder, blocker IPBlocker, terminator SessionTerminator) *Executor {
	e := &Executor{
		notifier:   notifier,
		audit:      audit,
		blocker:    blocker,
		terminator: terminator,
	}
	e.handlers = map[string]actionHandler{
		ActionRateLimitIP:        e.rateLimitIP,
		ActionTemporaryBlock:     e.temporaryBlock,
		ActionRequireMFA:         e.requireMFA,
		ActionSendNotification:   e.sendNotification,
		ActionLimitDataAccess:    e.limitDataAccess,
		ActionAlertSecurityTeam:  e.alertSecurityTeam,
		ActionLogIncident:        e.logIncident,
		ActionRestrictUserAccess: e.restrictUserAccess,
		ActionEnhancedMonitoring: e.enhancedMonitoring,
	}
	return e
}

// SetSessionTerminator wires the session layer in after construction.
// The session manager emits events back into the matcher, so the two
// cannot be built in a single pass.
func (e *Executor) SetSessionTerminator(terminator SessionTerminator) {
	e.terminator = terminator
}

// Execute runs every named action once, in the order given. The action
// list is expected to be deduplicated by the caller.
func (e *Executor) Execute(ctx context.Context, event *models.SecurityEvent, actions []string) []ActionResult {
	results := make([]ActionResult, 0, len(actions))

	for _, action := range actions {
		handler, known := e.handlers[action]
		if !known {
			util.Warn("Unknown response action skipped",
				zap.String("action", action),
				zap.String("event_id", event.ID))
			continue
		}
		results = append(results, e.invoke(ctx, action, handler, event))
	}

	return results
}

func (e *Executor) invoke(ctx context.Context, action string, handler actionHandler, event *models.SecurityEvent) (result ActionResult) {
	result = ActionResult{Action: action, OK: true}

	defer func() {
		if r := recover(); r != nil {
			result.OK = false
			result.Error = fmt.Sprintf("panic: %v", r)
			util.Error("Response action panicked",
				zap.String("action", action),
				zap.String("event_id", event.ID),
				zap.Any("panic", r))
		}
	}()

	if err := handler(ctx, event); err != nil {
		result.OK = false
		result.Error = err.Error()
		util.Error("Response action failed",
			zap.String("action", action),
			zap.String("event_id", event.ID),
			zap.Error(err))
		return result
	}

	util.Info("Response action executed",
		zap.String("action", action),
		zap.String("event_id", event.ID))

	return result
}

func (e *Executor) rateLimitIP(ctx context.Context, event *models.SecurityEvent) error {
	if e.blocker == nil || event.IPAddress == nil {
		return nil
	}
	return e.blocker.SetLockout("ratelimit_ip:"+event.IPAddress.String(), 15*time.Minute)
}

func (e *Executor) temporaryBlock(ctx context.Context, event *models.SecurityEvent) error {
	if e.blocker == nil || event.IPAddress == nil {
		return nil
	}
	return e.blocker.SetLockout("block_ip:"+event.IPAddress.String(), time.Hour)
}

// requireMFA flags the user for step-up authentication on next access.
// Enforcement happens in the session layer on validation.
func (e *Executor) requireMFA(ctx context.Context, event *models.SecurityEvent) error {
	if e.blocker == nil || event.UserID == "" {
		return nil
	}
	return e.blocker.SetLockout("require_mfa:"+event.UserID, 24*time.Hour)
}

func (e *Executor) sendNotification(ctx context.Context, event *models.SecurityEvent) error {
	if e.notifier == nil {
		return nil
	}
	return e.notifier.PublishNotification(ctx, "security_event", event.UserID, map[string]interface{}{
		"event_id":     event.ID,
		"event_type":   event.EventType,
		"threat_score": event.ThreatScore,
	})
}

func (e *Executor) limitDataAccess(ctx context.Context, event *models.SecurityEvent) error {
	if e.blocker == nil || event.UserID == "" {
		return nil
	}
	return e.blocker.SetLockout("limit_data_access:"+event.UserID, time.Hour)
}

func (e *Executor) alertSecurityTeam(ctx context.Context, event *models.SecurityEvent) error {
	if e.notifier == nil {
		return nil
	}
	sourceIP := ""
	if event.IPAddress != nil {
		sourceIP = event.IPAddress.String()
	}
	return e.notifier.PublishNotification(ctx, "security_team_alert", "security-team", map[string]interface{}{
		"event_id":     event.ID,
		"event_type":   event.EventType,
		"threat_score": event.ThreatScore,
		"source_ip":    sourceIP,
	})
}

func (e *Executor) logIncident(ctx context.Context, event *models.SecurityEvent) error {
	if e.audit == nil {
		return nil
	}
	return e.audit.Record(&models.AuditEvent{
		Category:     models.CategorySecurity,
		Action:       "incident_logged",
		Severity:     event.Severity,
		Outcome:      models.OutcomeSuccess,
		UserID:       event.UserID,
		ResourceType: "security_event",
		ResourceID:   event.ID,
		IPAddress:    event.IPAddress,
	})
}

func (e *Executor) restrictUserAccess(ctx context.Context, event *models.SecurityEvent) error {
	if e.terminator == nil || event.UserID == "" {
		return nil
	}
	_, err := e.terminator.TerminateAllSessions(ctx, event.UserID)
	return err
}

// enhancedMonitoring is intentionally log-only: the flag is picked up by
// external collectors, nothing changes in-process.
func (e *Executor) enhancedMonitoring(ctx context.Context, event *models.SecurityEvent) error {
	util.Info("Enhanced monitoring enabled",
		zap.String("user_id", event.UserID),
		zap.String("event_id", event.ID))
	return nil
}
