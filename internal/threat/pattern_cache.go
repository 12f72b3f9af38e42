package threat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"stronghold-security/internal/models"
	"stronghold-security/internal/util"
)

// PatternStore is the pattern registry surface the matcher needs.
type PatternStore interface {
	InsertPattern(ctx context.Context, pattern *models.ThreatPattern) error
	GetPatternByID(ctx context.Context, patternID string) (*models.ThreatPattern, error)
	ListActivePatterns(ctx context.Context) ([]*models.ThreatPattern, error)
	SetPatternActive(ctx context.Context, patternID string, active bool) error
}

// PatternCache is a read-through cache over the pattern registry. The
// store stays the source of truth; cached entries are served until the
// TTL lapses or Invalidate is called after a pattern write.
type PatternCache struct {
	store PatternStore
	ttl   time.Duration
	now   func() time.Time

	mu       sync.RWMutex
	patterns []*models.ThreatPattern
	loadedAt time.Time
}

func NewPatternCache(store PatternStore, ttl time.Duration) *PatternCache {
	return &PatternCache{
		store: store,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// ActivePatterns returns the active patterns, reloading from the store
// when the cache is cold or stale. A failed reload serves stale data if
// any is held.
func (c *PatternCache) ActivePatterns(ctx context.Context) ([]*models.ThreatPattern, error) {
	c.mu.RLock()
	fresh := c.patterns != nil && c.now().Sub(c.loadedAt) < c.ttl
	patterns := c.patterns
	c.mu.RUnlock()

	if fresh {
		return patterns, nil
	}

	loaded, err := c.store.ListActivePatterns(ctx)
	if err != nil {
		if patterns != nil {
			util.Warn("Pattern reload failed, serving stale cache", zap.Error(err))
			return patterns, nil
		}
		return nil, fmt.Errorf("failed to load threat patterns: %w", err)
	}

	c.mu.Lock()
	c.patterns = loaded
	c.loadedAt = c.now()
	c.mu.Unlock()

	util.Debug("Threat patterns reloaded", zap.Int("count", len(loaded)))
	return loaded, nil
}

func (c *PatternCache) Invalidate() {
	c.mu.Lock()
	c.patterns = nil
	c.mu.Unlock()
}
