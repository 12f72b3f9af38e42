package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"stronghold-security/internal/models"
	"stronghold-security/internal/util"
)

// SessionRepository persists authenticated sessions and enrolled MFA
// secrets. Redis fronts this table for hot lookups; Scylla is the durable
// copy used to rebuild caches and enforce the per-user session cap.
type SessionRepository struct {
	client *ScyllaClient
}

func NewSessionRepository(client *ScyllaClient, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{client: client}
}

func (r *SessionRepository) InsertSession(ctx context.Context, session *models.SecuritySession) error {
	if session.SessionID == "" {
		session.SessionID = uuid.New().String()
	}

	query := r.client.Query(`
        INSERT INTO user_sessions (
            user_id, session_id, ip_address, user_agent, mfa_verified,
            created_at, last_activity, is_active
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.UserID, session.SessionID, session.IPAddress.String(),
		session.UserAgent, session.MFAVerified, session.CreatedAt,
		session.LastActivity, session.IsActive).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to insert session",
			zap.String("user_id", session.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to insert session: %w", err)
	}

	return nil
}

func (r *SessionRepository) GetSession(ctx context.Context, userID, sessionID string) (*models.SecuritySession, error) {
	session := &models.SecuritySession{}
	var ipStr string

	query := r.client.Query(`
        SELECT user_id, session_id, ip_address, user_agent, mfa_verified,
            created_at, last_activity, is_active
        FROM user_sessions WHERE user_id = ? AND session_id = ?`,
		userID, sessionID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&session.UserID, &session.SessionID, &ipStr, &session.UserAgent,
		&session.MFAVerified, &session.CreatedAt, &session.LastActivity,
		&session.IsActive)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	session.IPAddress = parseIP(ipStr)
	return session, nil
}

// ListActiveSessions returns the user's active sessions ordered oldest
// first, so callers can deactivate from the front when over the cap.
func (r *SessionRepository) ListActiveSessions(ctx context.Context, userID string) ([]*models.SecuritySession, error) {
	iter := r.client.Query(`
        SELECT user_id, session_id, ip_address, user_agent, mfa_verified,
            created_at, last_activity, is_active
        FROM user_sessions WHERE user_id = ?`,
		userID).WithContext(ctx).Iter()

	var out []*models.SecuritySession
	for {
		var ipStr string
		s := &models.SecuritySession{}
		if !iter.Scan(&s.UserID, &s.SessionID, &ipStr, &s.UserAgent,
			&s.MFAVerified, &s.CreatedAt, &s.LastActivity, &s.IsActive) {
			break
		}
		if !s.IsActive {
			continue
		}
		s.IPAddress = parseIP(ipStr)
		out = append(out, s)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}

	// Clustering order is by session_id; sort by creation time here.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.Before(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}

	return out, nil
}

func (r *SessionRepository) TouchSession(ctx context.Context, userID, sessionID string, at time.Time) error {
	query := r.client.Query(`
        UPDATE user_sessions SET last_activity = ?
        WHERE user_id = ? AND session_id = ?`,
		at, userID, sessionID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func (r *SessionRepository) DeactivateSession(ctx context.Context, userID, sessionID string) error {
	query := r.client.Query(`
        UPDATE user_sessions SET is_active = ?
        WHERE user_id = ? AND session_id = ?`,
		false, userID, sessionID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to deactivate session: %w", err)
	}

	util.Info("Session deactivated",
		zap.String("user_id", userID),
		zap.String("session_id", sessionID))

	return nil
}

// DeactivateAllSessions batch-deactivates every active session the user
// holds. Used by the terminate_session response action and account lockout.
func (r *SessionRepository) DeactivateAllSessions(ctx context.Context, userID string) (int, error) {
	sessions, err := r.ListActiveSessions(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(sessions) == 0 {
		return 0, nil
	}

	batch := r.client.Batch(gocql.LoggedBatch).WithContext(ctx)
	for _, s := range sessions {
		batch.Query(`UPDATE user_sessions SET is_active = ? WHERE user_id = ? AND session_id = ?`,
			false, userID, s.SessionID)
	}
	if err := r.client.ExecuteBatch(batch); err != nil {
		return 0, fmt.Errorf("failed to deactivate sessions: %w", err)
	}

	util.Info("All sessions deactivated",
		zap.String("user_id", userID),
		zap.Int("count", len(sessions)))

	return len(sessions), nil
}

// ==============================
// MFA secrets
// ==============================

// UpsertMFASecret stores the encrypted TOTP secret for a user. The secret
// arrives already encrypted by the envelope layer.
func (r *SessionRepository) UpsertMFASecret(ctx context.Context, userID string, encryptedSecret []byte, enrolledAt time.Time) error {
	query := r.client.Query(`
        INSERT INTO mfa_secrets (user_id, encrypted_secret, enrolled_at, enabled)
        VALUES (?, ?, ?, ?)`,
		userID, encryptedSecret, enrolledAt, true).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to store MFA secret",
			zap.String("user_id", userID),
			zap.Error(err))
		return fmt.Errorf("failed to store mfa secret: %w", err)
	}

	util.Info("MFA secret enrolled", zap.String("user_id", userID))
	return nil
}

func (r *SessionRepository) GetMFASecret(ctx context.Context, userID string) ([]byte, bool, error) {
	var encrypted []byte
	var enabled bool

	query := r.client.Query(`
        SELECT encrypted_secret, enabled FROM mfa_secrets WHERE user_id = ?`,
		userID).WithContext(ctx)

	err := r.client.ScanWithRetry(query, &encrypted, &enabled)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get mfa secret: %w", err)
	}

	return encrypted, enabled, nil
}

func (r *SessionRepository) DisableMFA(ctx context.Context, userID string) error {
	query := r.client.Query(`
        UPDATE mfa_secrets SET enabled = ? WHERE user_id = ?`,
		false, userID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to disable mfa: %w", err)
	}

	util.Info("MFA disabled", zap.String("user_id", userID))
	return nil
}
