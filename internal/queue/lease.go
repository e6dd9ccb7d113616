package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Rapid re-uploads for the same destination prefix race at the storage
// level; last writer wins. The advisory lease narrows that window by letting
// a worker skip straight into backoff when another worker holds the prefix.
// It is advisory only: a lost lease never corrupts output, it just allows
// the documented race.

const leaseKeyPrefix = "vodworks:lease:"

// releaseScript deletes the lease only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// AcquirePrefixLease takes an advisory lease on a destination prefix.
// Returns false when another holder exists; the returned release function is
// safe to call regardless.
func (q *Queue) AcquirePrefixLease(ctx context.Context, prefix string, ttl time.Duration) (func(), bool, error) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	key := leaseKeyPrefix + prefix
	token := uuid.NewString()
	ok, err := q.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return func() {}, false, err
	}
	if !ok {
		return func() {}, false, nil
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, q.client, []string{key}, token).Err(); err != nil {
			q.logger.Warn("lease release failed", "prefix", prefix, "error", err)
		}
	}
	return release, true, nil
}
