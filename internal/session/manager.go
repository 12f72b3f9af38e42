package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stronghold-security/internal/config"
	"stronghold-security/internal/encryption"
	"stronghold-security/internal/models"
	"stronghold-security/internal/util"
)

// SessionStore is the durable session and MFA surface.
type SessionStore interface {
	InsertSession(ctx context.Context, session *models.SecuritySession) error
	GetSession(ctx context.Context, userID, sessionID string) (*models.SecuritySession, error)
	ListActiveSessions(ctx context.Context, userID string) ([]*models.SecuritySession, error)
	TouchSession(ctx context.Context, userID, sessionID string, at time.Time) error
	DeactivateSession(ctx context.Context, userID, sessionID string) error
	DeactivateAllSessions(ctx context.Context, userID string) (int, error)
	UpsertMFASecret(ctx context.Context, userID string, encryptedSecret []byte, enrolledAt time.Time) error
	GetMFASecret(ctx context.Context, userID string) ([]byte, bool, error)
	DisableMFA(ctx context.Context, userID string) error
}

// Cache fronts the store for hot session reads.
type Cache interface {
	CacheSession(session *models.SecuritySession, ttl time.Duration) error
	GetSession(userID, sessionID string) (*models.SecuritySession, error)
	RemoveSession(userID, sessionID string) error
	RemoveAllSessions(userID string) (int, error)
}

// LockoutTracker tracks failed logins and source IPs in rolling windows.
type LockoutTracker interface {
	RecordFailedLogin(userID string, at time.Time, window time.Duration) (int64, error)
	CountFailedLogins(userID string, at time.Time, window time.Duration) (int64, error)
	ClearFailedLogins(userID string) error
	SetLockout(userID string, ttl time.Duration) error
	IsLockedOut(userID string) (bool, error)
	RecordSourceIP(userID, ip string, at time.Time, window time.Duration) (int64, error)
}

// ReplayGuard prevents reuse of accepted TOTP codes.
type ReplayGuard interface {
	MarkUsed(userID, code string, ttl time.Duration) (bool, error)
}

// EventSink receives the security events the session layer emits.
type EventSink interface {
	ProcessSecurityEvent(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error)
}

// SecretCipher wraps and unwraps MFA secrets.
type SecretCipher interface {
	EncryptField(ctx context.Context, plaintext, keyPurpose string) (*encryption.EncryptedData, error)
	DecryptField(ctx context.Context, data *encryption.EncryptedData) (string, error)
}

var (
	ErrUserLockedOut   = fmt.Errorf("user is locked out")
	ErrSessionInvalid  = fmt.Errorf("session is not valid")
	ErrMFANotEnrolled  = fmt.Errorf("mfa is not enrolled")
	ErrInvalidTOTPCode = fmt.Errorf("invalid totp code")
)

// Manager issues and validates sessions, enforces the per-user session
// cap and idle timeout, tracks lockouts, and handles TOTP enrollment and
// verification.
type Manager struct {
	store   SessionStore
	cache   Cache
	lockout LockoutTracker
	replay  ReplayGuard
	events  EventSink
	cipher  SecretCipher
	cfg     config.SessionConfig
	now     func() time.Time
}

func NewManager(store SessionStore, cache Cache, lockout LockoutTracker, replay ReplayGuard, events EventSink, cipher SecretCipher, cfg config.SessionConfig) *Manager {
	return &Manager{
		store:   store,
		cache:   cache,
		lockout: lockout,
		replay:  replay,
		events:  events,
		cipher:  cipher,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession issues a session for an authenticated user. When the user
// is at the concurrent-session cap, the oldest active sessions are
// deactivated until the new one fits.
func (m *Manager) CreateSession(ctx context.Context, userID string, ip net.IP, userAgent string) (*models.SecuritySession, error) {
	locked, err := m.IsUserLockedOut(ctx, userID)
	if err != nil {
		return nil, err
	}
	if locked {
		return nil, ErrUserLockedOut
	}

	active, err := m.store.ListActiveSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	for len(active) >= m.cfg.MaxActivePerUser {
		oldest := active[0]
		if err := m.terminate(ctx, userID, oldest.SessionID); err != nil {
			return nil, err
		}
		util.Info("Oldest session deactivated for cap",
			zap.String("user_id", userID),
			zap.String("session_id", oldest.SessionID))
		active = active[1:]
	}

	now := m.now()
	session := &models.SecuritySession{
		UserID:       userID,
		SessionID:    uuid.New().String(),
		IPAddress:    ip,
		UserAgent:    util.TruncateUserAgent(userAgent),
		MFAVerified:  false,
		CreatedAt:    now,
		LastActivity: now,
		IsActive:     true,
	}

	if err := m.store.InsertSession(ctx, session); err != nil {
		return nil, err
	}
	if err := m.cache.CacheSession(session, m.cfg.IdleTimeout); err != nil {
		util.Warn("Failed to cache new session",
			zap.String("session_id", session.SessionID),
			zap.Error(err))
	}

	if err := m.lockout.ClearFailedLogins(userID); err != nil {
		util.Warn("Failed to clear failed-login window",
			zap.String("user_id", userID),
			zap.Error(err))
	}

	m.emitEvent(ctx, &models.SecurityEvent{
		EventType: models.EventLoginAttempt,
		UserID:    userID,
		SessionID: session.SessionID,
		IPAddress: ip,
		UserAgent: session.UserAgent,
	})

	return session, nil
}

// ValidateSession checks a session and refreshes its idle window. An
// expired or deactivated session fails validation; expiry also deactivates
// the stored row.
func (m *Manager) ValidateSession(ctx context.Context, userID, sessionID string) (*models.SecuritySession, error) {
	session, err := m.lookup(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || !session.IsActive {
		return nil, ErrSessionInvalid
	}

	now := m.now()
	if session.ExpiredAt(now, m.cfg.IdleTimeout) {
		if err := m.terminate(ctx, userID, sessionID); err != nil {
			util.Warn("Failed to deactivate expired session",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
		return nil, ErrSessionInvalid
	}

	session.LastActivity = now
	if err := m.store.TouchSession(ctx, userID, sessionID, now); err != nil {
		return nil, err
	}
	if err := m.cache.CacheSession(session, m.cfg.IdleTimeout); err != nil {
		util.Warn("Failed to refresh cached session",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}

	return session, nil
}

func (m *Manager) lookup(ctx context.Context, userID, sessionID string) (*models.SecuritySession, error) {
	cached, err := m.cache.GetSession(userID, sessionID)
	if err == nil && cached != nil {
		return cached, nil
	}
	if err != nil {
		util.Warn("Session cache lookup failed, falling back to store",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}

	session, err := m.store.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, ErrSessionInvalid
	}
	return session, nil
}

func (m *Manager) TerminateSession(ctx context.Context, userID, sessionID string) error {
	return m.terminate(ctx, userID, sessionID)
}

// TerminateAllSessions revokes every active session the user holds.
func (m *Manager) TerminateAllSessions(ctx context.Context, userID string) (int, error) {
	count, err := m.store.DeactivateAllSessions(ctx, userID)
	if err != nil {
		return 0, err
	}
	if _, err := m.cache.RemoveAllSessions(userID); err != nil {
		util.Warn("Failed to purge cached sessions",
			zap.String("user_id", userID),
			zap.Error(err))
	}
	return count, nil
}

func (m *Manager) ListSessions(ctx context.Context, userID string) ([]*models.SecuritySession, error) {
	return m.store.ListActiveSessions(ctx, userID)
}

func (m *Manager) terminate(ctx context.Context, userID, sessionID string) error {
	if err := m.store.DeactivateSession(ctx, userID, sessionID); err != nil {
		return err
	}
	if err := m.cache.RemoveSession(userID, sessionID); err != nil {
		util.Warn("Failed to remove cached session",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
	return nil
}

// RecordFailedLogin registers an authentication failure: a security event
// is emitted, the rolling failure window advances, and crossing the
// threshold locks the account for the lockout window. A burst of distinct
// source IPs additionally flags the account as suspicious.
func (m *Manager) RecordFailedLogin(ctx context.Context, userID string, ip net.IP, userAgent string) error {
	now := m.now()

	m.emitEvent(ctx, &models.SecurityEvent{
		EventType: models.EventFailedLogin,
		UserID:    userID,
		IPAddress: ip,
		UserAgent: util.TruncateUserAgent(userAgent),
	})

	failures, err := m.lockout.RecordFailedLogin(userID, now, m.cfg.LockoutWindow)
	if err != nil {
		return err
	}
	if failures >= int64(m.cfg.LockoutThreshold) {
		if err := m.lockout.SetLockout(userID, m.cfg.LockoutWindow); err != nil {
			return err
		}
	}

	if ip != nil {
		ips, err := m.lockout.RecordSourceIP(userID, ip.String(), now, m.cfg.SuspiciousIPWindow)
		if err != nil {
			util.Warn("Failed to track source IP",
				zap.String("user_id", userID),
				zap.Error(err))
		} else if ips > int64(m.cfg.SuspiciousIPLimit) {
			m.emitEvent(ctx, &models.SecurityEvent{
				EventType: models.EventSuspiciousActivity,
				UserID:    userID,
				IPAddress: ip,
				UserAgent: util.TruncateUserAgent(userAgent),
				EventData: models.EventData{
					RiskIndicators: []string{"multiple_source_ips"},
				},
			})
		}
	}

	return nil
}

// IsUserLockedOut reports whether the user is currently locked out, either
// by an explicit lockout flag or by enough failures inside the rolling
// window. Checked on demand, nothing is enforced by a timer.
func (m *Manager) IsUserLockedOut(ctx context.Context, userID string) (bool, error) {
	locked, err := m.lockout.IsLockedOut(userID)
	if err != nil {
		return false, err
	}
	if locked {
		return true, nil
	}

	failures, err := m.lockout.CountFailedLogins(userID, m.now(), m.cfg.LockoutWindow)
	if err != nil {
		return false, err
	}
	return failures >= int64(m.cfg.LockoutThreshold), nil
}

// ==============================
// MFA
// ==============================

// EnrollTOTP generates and stores a TOTP secret for the user. The secret
// is returned once, with its otpauth provisioning URI, and is held
// envelope-encrypted at rest.
func (m *Manager) EnrollTOTP(ctx context.Context, userID string) (secret, provisioningURI string, err error) {
	secret, err = GenerateTOTPSecret()
	if err != nil {
		return "", "", err
	}

	encrypted, err := m.cipher.EncryptField(ctx, secret, "mfa_secret")
	if err != nil {
		return "", "", err
	}
	blob, err := json.Marshal(encrypted)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode mfa secret: %w", err)
	}

	if err := m.store.UpsertMFASecret(ctx, userID, blob, m.now()); err != nil {
		return "", "", err
	}

	return secret, ProvisioningURI(m.cfg.TOTPIssuer, userID, secret), nil
}

// VerifyTOTP checks a submitted code against the user's enrolled secret,
// rejecting replays of recently accepted codes. Success marks the session
// MFA-verified.
func (m *Manager) VerifyTOTP(ctx context.Context, userID, sessionID, code string) error {
	blob, enabled, err := m.store.GetMFASecret(ctx, userID)
	if err != nil {
		return err
	}
	if blob == nil || !enabled {
		return ErrMFANotEnrolled
	}

	var encrypted encryption.EncryptedData
	if err := json.Unmarshal(blob, &encrypted); err != nil {
		return fmt.Errorf("failed to decode mfa secret: %w", err)
	}
	secret, err := m.cipher.DecryptField(ctx, &encrypted)
	if err != nil {
		return err
	}

	if !ValidateTOTP(secret, code, m.now()) {
		m.emitEvent(ctx, &models.SecurityEvent{
			EventType: models.EventFailedLogin,
			UserID:    userID,
			SessionID: sessionID,
			IPAddress: net.IPv4zero,
			EventData: models.EventData{
				RiskIndicators: []string{"totp_failure"},
			},
		})
		return ErrInvalidTOTPCode
	}

	// A code stays valid for one step either side; hold the replay key a
	// little longer than that.
	fresh, err := m.replay.MarkUsed(userID, code, 3*totpStep)
	if err != nil {
		return err
	}
	if !fresh {
		return ErrInvalidTOTPCode
	}

	session, err := m.lookup(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	session.MFAVerified = true
	if err := m.store.InsertSession(ctx, session); err != nil {
		return err
	}
	if err := m.cache.CacheSession(session, m.cfg.IdleTimeout); err != nil {
		util.Warn("Failed to refresh cached session after MFA",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}

	return nil
}

func (m *Manager) DisableTOTP(ctx context.Context, userID string) error {
	return m.store.DisableMFA(ctx, userID)
}

// emitEvent is best-effort: the session operation succeeds even when the
// telemetry write fails.
func (m *Manager) emitEvent(ctx context.Context, event *models.SecurityEvent) {
	if m.events == nil {
		return
	}
	if event.IPAddress == nil {
		event.IPAddress = net.IPv4zero
	}
	if _, err := m.events.ProcessSecurityEvent(ctx, event); err != nil {
		util.Warn("Failed to emit security event",
			zap.String("event_type", event.EventType),
			zap.String("user_id", event.UserID),
			zap.Error(err))
	}
}
