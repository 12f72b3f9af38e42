package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"stronghold-security/internal/config"
)

// BucketingManager assigns events and users to stable hash buckets so the
// wide event tables spread across partitions instead of hot-spotting on a
// single key.
type BucketingManager struct {
	userBuckets  int
	eventBuckets int
	hasherPool   sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		userBuckets:  cfg.Bucketing.UserBuckets,
		eventBuckets: cfg.Bucketing.EventBuckets,
	}

	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetEventBucket returns a stable bucket in [0, eventBuckets) for an
// event identifier.
func (bm *BucketingManager) GetEventBucket(identifier string) int {
	return bm.getBucket(identifier, bm.eventBuckets)
}

// GetUserBucket returns a stable bucket in [0, userBuckets) for a user.
func (bm *BucketingManager) GetUserBucket(userID string) int {
	return bm.getBucket(userID, bm.userBuckets)
}

// GetDateBucket returns the UTC day partition key for an instant.
func (bm *BucketingManager) GetDateBucket(at time.Time) string {
	return at.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	if numBuckets <= 0 {
		return 0
	}
	return int(bm.getHash(key) % uint64(numBuckets))
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
