package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
)

// attemptTTL bounds how long a partial attempt can be resumed.
const attemptTTL = 7 * 24 * time.Hour

// releaseScript deletes the lock only if it still holds our session id.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AttemptCache keeps partial-attempt time and the active-session lock in Redis.
type AttemptCache struct {
	rdb *redis.Client
}

// NewAttemptCache creates a new AttemptCache.
func NewAttemptCache(rdb *redis.Client) *AttemptCache {
	return &AttemptCache{rdb: rdb}
}

// TimeSpent returns the seconds already spent on testID, zero if none.
func (c *AttemptCache) TimeSpent(ctx context.Context, studentID, testID string) (int, error) {
	n, err := c.rdb.Get(ctx, config.CacheKey.LearnerTimeSpentKey(studentID, testID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// SaveTimeSpent stores the seconds spent on a closed attempt.
func (c *AttemptCache) SaveTimeSpent(ctx context.Context, studentID, testID string, seconds int) error {
	return c.rdb.Set(ctx, config.CacheKey.LearnerTimeSpentKey(studentID, testID), seconds, attemptTTL).Err()
}

// ClearTimeSpent forgets a graded attempt.
func (c *AttemptCache) ClearTimeSpent(ctx context.Context, studentID, testID string) error {
	return c.rdb.Del(ctx, config.CacheKey.LearnerTimeSpentKey(studentID, testID)).Err()
}

// Acquire takes the learner's active-test lock for sessionID.
func (c *AttemptCache) Acquire(ctx context.Context, studentID, sessionID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, config.CacheKey.LearnerActiveTestKey(studentID), sessionID, ttl).Result()
}

// Release drops the lock if sessionID still owns it.
func (c *AttemptCache) Release(ctx context.Context, studentID, sessionID string) error {
	return releaseScript.Run(ctx, c.rdb, []string{config.CacheKey.LearnerActiveTestKey(studentID)}, sessionID).Err()
}
