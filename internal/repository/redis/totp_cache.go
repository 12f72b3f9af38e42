package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stronghold-security/internal/client"
	"stronghold-security/internal/util"
)

const totpReplayPrefix = "totp_used:"

// TOTPCache remembers recently accepted codes so a code cannot be replayed
// inside its validity window. Keys expire on their own after the window
// plus one skew step.
type TOTPCache struct {
	client *client.RedisClient
}

func NewTOTPCache(client *client.RedisClient) *TOTPCache {
	return &TOTPCache{client: client}
}

func totpKey(userID, code string) string {
	return totpReplayPrefix + userID + ":" + code
}

// MarkUsed reserves the code for the user. Returns false when the code was
// already consumed, which callers must treat as a failed verification.
func (c *TOTPCache) MarkUsed(userID, code string, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fresh, err := c.client.SetNX(ctx, totpKey(userID, code), "1", ttl)
	if err != nil {
		util.Error("Failed to mark TOTP code used",
			zap.String("user_id", userID),
			zap.Error(err))
		return false, fmt.Errorf("failed to mark totp code used: %w", err)
	}

	if !fresh {
		util.Warn("TOTP code replay rejected", zap.String("user_id", userID))
	}

	return fresh, nil
}

func (c *TOTPCache) IsUsed(userID, code string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := c.client.Exists(ctx, totpKey(userID, code))
	if err != nil {
		return false, fmt.Errorf("failed to check totp code: %w", err)
	}
	return exists, nil
}
