package threat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stronghold-security/internal/models"
)

func TestPatternCacheServesFreshCopy(t *testing.T) {
	store := &fakePatternStore{patterns: []*models.ThreatPattern{{ID: "pat-1"}}}
	cache := NewPatternCache(store, time.Minute)
	ctx := context.Background()

	patterns, err := cache.ActivePatterns(ctx)
	require.NoError(t, err)
	assert.Len(t, patterns, 1)
	assert.Equal(t, 1, store.listCalls)

	// Second read inside the TTL never touches the store
	_, err = cache.ActivePatterns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, store.listCalls)
}

func TestPatternCacheReloadsAfterTTL(t *testing.T) {
	store := &fakePatternStore{patterns: []*models.ThreatPattern{{ID: "pat-1"}}}
	cache := NewPatternCache(store, time.Minute)
	ctx := context.Background()

	current := noon
	cache.now = func() time.Time { return current }

	_, err := cache.ActivePatterns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, store.listCalls)

	current = noon.Add(2 * time.Minute)
	_, err = cache.ActivePatterns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, store.listCalls)
}

func TestPatternCacheServesStaleOnReloadFailure(t *testing.T) {
	store := &fakePatternStore{patterns: []*models.ThreatPattern{{ID: "pat-1"}}}
	cache := NewPatternCache(store, time.Minute)
	ctx := context.Background()

	current := noon
	cache.now = func() time.Time { return current }

	_, err := cache.ActivePatterns(ctx)
	require.NoError(t, err)

	store.listErr = errors.New("scylla down")
	current = noon.Add(2 * time.Minute)

	patterns, err := cache.ActivePatterns(ctx)
	require.NoError(t, err)
	assert.Len(t, patterns, 1)
}

func TestPatternCacheColdLoadFailure(t *testing.T) {
	store := &fakePatternStore{listErr: errors.New("scylla down")}
	cache := NewPatternCache(store, time.Minute)

	_, err := cache.ActivePatterns(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load threat patterns")
}

func TestPatternCacheInvalidate(t *testing.T) {
	store := &fakePatternStore{patterns: []*models.ThreatPattern{{ID: "pat-1"}}}
	cache := NewPatternCache(store, time.Hour)
	ctx := context.Background()

	_, err := cache.ActivePatterns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, store.listCalls)

	cache.Invalidate()

	_, err = cache.ActivePatterns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, store.listCalls)
}
