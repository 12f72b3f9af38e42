package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stronghold-security/internal/client"
	"stronghold-security/internal/models"
	"stronghold-security/internal/util"
)

const (
	sessionPrefix     = "security_session:"
	userSessionPrefix = "user_sessions:"
)

// SessionCache fronts the durable session table for hot reads. Entries
// expire after the idle timeout; every touch pushes the window forward.
type SessionCache struct {
	client *client.RedisClient
}

func NewSessionCache(client *client.RedisClient) *SessionCache {
	return &SessionCache{client: client}
}

func sessionKey(userID, sessionID string) string {
	return sessionPrefix + userID + ":" + sessionID
}

func (c *SessionCache) CacheSession(session *models.SecuritySession, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	key := sessionKey(session.UserID, session.SessionID)
	setKey := userSessionPrefix + session.UserID

	pipe := c.client.Pipeline()
	pipe.Set(ctx, key, string(payload), ttl)
	pipe.SAdd(ctx, setKey, session.SessionID)
	pipe.Expire(ctx, setKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to cache session",
			zap.String("user_id", session.UserID),
			zap.String("session_id", session.SessionID),
			zap.Error(err))
		return fmt.Errorf("failed to cache session: %w", err)
	}

	util.Debug("Session cached",
		zap.String("user_id", session.UserID),
		zap.String("session_id", session.SessionID),
		zap.Duration("ttl", ttl))

	return nil
}

func (c *SessionCache) GetSession(userID, sessionID string) (*models.SecuritySession, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := sessionKey(userID, sessionID)

	payload, err := c.client.Get(ctx, key)
	if err != nil {
		if err.Error() == fmt.Sprintf("key not found: %s", key) {
			return nil, nil
		}
		util.Error("Failed to get cached session",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get cached session: %w", err)
	}

	session := &models.SecuritySession{}
	if err := json.Unmarshal([]byte(payload), session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached session: %w", err)
	}

	return session, nil
}

// TouchSession rewrites the cached entry with a fresh last-activity stamp
// and resets the idle TTL.
func (c *SessionCache) TouchSession(session *models.SecuritySession, ttl time.Duration) error {
	return c.CacheSession(session, ttl)
}

func (c *SessionCache) RemoveSession(userID, sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pipe := c.client.Pipeline()
	pipe.Del(ctx, sessionKey(userID, sessionID))
	pipe.SRem(ctx, userSessionPrefix+userID, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to remove cached session",
			zap.String("user_id", userID),
			zap.String("session_id", sessionID),
			zap.Error(err))
		return fmt.Errorf("failed to remove cached session: %w", err)
	}

	return nil
}

func (c *SessionCache) RemoveAllSessions(userID string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	setKey := userSessionPrefix + userID
	sessionIDs, err := c.client.SMembers(ctx, setKey)
	if err != nil {
		return 0, fmt.Errorf("failed to list cached sessions: %w", err)
	}
	if len(sessionIDs) == 0 {
		return 0, nil
	}

	pipe := c.client.Pipeline()
	for _, id := range sessionIDs {
		pipe.Del(ctx, sessionKey(userID, id))
	}
	pipe.Del(ctx, setKey)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to remove all cached sessions",
			zap.String("user_id", userID),
			zap.Int("count", len(sessionIDs)),
			zap.Error(err))
		return 0, fmt.Errorf("failed to remove all cached sessions: %w", err)
	}

	util.Info("All cached sessions removed",
		zap.String("user_id", userID),
		zap.Int("count", len(sessionIDs)))

	return len(sessionIDs), nil
}
