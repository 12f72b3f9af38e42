package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"stronghold-security/internal/client"
	"stronghold-security/internal/util"
)

const (
	failedLoginPrefix = "failed_logins:"
	lockoutPrefix     = "account_lockout:"
	userIPPrefix      = "user_ips:"
)

// LockoutCache tracks failed-login and source-IP activity in rolling
// windows backed by sorted sets, and holds active account lockouts.
type LockoutCache struct {
	client *client.RedisClient
}

func NewLockoutCache(client *client.RedisClient) *LockoutCache {
	return &LockoutCache{client: client}
}

// RecordFailedLogin appends a failure to the user's rolling window and
// returns how many failures remain inside it. Entries older than the
// window are pruned on every call.
func (c *LockoutCache) RecordFailedLogin(userID string, at time.Time, window time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := failedLoginPrefix + userID
	cutoff := at.Add(-window)

	member := fmt.Sprintf("%d", at.UnixNano())
	if err := c.client.ZAdd(ctx, key, float64(at.UnixNano()), member); err != nil {
		util.Error("Failed to record failed login",
			zap.String("user_id", userID),
			zap.Error(err))
		return 0, fmt.Errorf("failed to record failed login: %w", err)
	}
	if err := c.client.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff.UnixNano(), 10)); err != nil {
		return 0, fmt.Errorf("failed to prune failed login window: %w", err)
	}
	if err := c.client.Expire(ctx, key, window); err != nil {
		return 0, fmt.Errorf("failed to expire failed login window: %w", err)
	}

	count, err := c.client.ZCount(ctx, key, strconv.FormatInt(cutoff.UnixNano(), 10), "+inf")
	if err != nil {
		return 0, fmt.Errorf("failed to count failed logins: %w", err)
	}

	return count, nil
}

// CountFailedLogins counts the failures currently inside the window
// without recording a new one.
func (c *LockoutCache) CountFailedLogins(userID string, at time.Time, window time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cutoff := at.Add(-window)
	count, err := c.client.ZCount(ctx, failedLoginPrefix+userID,
		strconv.FormatInt(cutoff.UnixNano(), 10), "+inf")
	if err != nil {
		return 0, fmt.Errorf("failed to count failed logins: %w", err)
	}
	return count, nil
}

// ClearFailedLogins resets the window after a successful authentication.
func (c *LockoutCache) ClearFailedLogins(userID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, failedLoginPrefix+userID); err != nil {
		return fmt.Errorf("failed to clear failed logins: %w", err)
	}
	return nil
}

func (c *LockoutCache) SetLockout(userID string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Set(ctx, lockoutPrefix+userID, "locked", ttl); err != nil {
		util.Error("Failed to set account lockout",
			zap.String("user_id", userID),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to set account lockout: %w", err)
	}

	util.Warn("Account locked out",
		zap.String("user_id", userID),
		zap.Duration("ttl", ttl))

	return nil
}

func (c *LockoutCache) IsLockedOut(userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := c.client.Exists(ctx, lockoutPrefix+userID)
	if err != nil {
		return false, fmt.Errorf("failed to check account lockout: %w", err)
	}
	return exists, nil
}

func (c *LockoutCache) ClearLockout(userID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, lockoutPrefix+userID); err != nil {
		return fmt.Errorf("failed to clear account lockout: %w", err)
	}
	return nil
}

// RecordSourceIP adds an IP to the user's rolling window and returns how
// many distinct IPs the user has been seen from inside it. The sorted set
// keys members by IP so repeats only refresh the score.
func (c *LockoutCache) RecordSourceIP(userID, ip string, at time.Time, window time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := userIPPrefix + userID
	cutoff := at.Add(-window)

	if err := c.client.ZAdd(ctx, key, float64(at.UnixNano()), ip); err != nil {
		util.Error("Failed to record source IP",
			zap.String("user_id", userID),
			zap.String("ip", ip),
			zap.Error(err))
		return 0, fmt.Errorf("failed to record source ip: %w", err)
	}
	if err := c.client.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff.UnixNano(), 10)); err != nil {
		return 0, fmt.Errorf("failed to prune source ip window: %w", err)
	}
	if err := c.client.Expire(ctx, key, window); err != nil {
		return 0, fmt.Errorf("failed to expire source ip window: %w", err)
	}

	count, err := c.client.ZCount(ctx, key, strconv.FormatInt(cutoff.UnixNano(), 10), "+inf")
	if err != nil {
		return 0, fmt.Errorf("failed to count source ips: %w", err)
	}

	return count, nil
}

// ListSourceIPs returns the distinct IPs currently inside the window.
func (c *LockoutCache) ListSourceIPs(userID string, at time.Time, window time.Duration) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cutoff := at.Add(-window)
	ips, err := c.client.ZRangeByScore(ctx, userIPPrefix+userID,
		strconv.FormatInt(cutoff.UnixNano(), 10), "+inf")
	if err != nil {
		return nil, fmt.Errorf("failed to list source ips: %w", err)
	}
	return ips, nil
}
