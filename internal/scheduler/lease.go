package scheduler

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const leasePrefix = "creditd:job-lease:"

// acquireLease takes a best-effort cross-process lock for a job via SET NX.
// Redis being down or unconfigured fails open: a missed lease at worst
// duplicates an idempotent job, while a closed failure mode would silently
// stop all maintenance work.
func (s *Scheduler) acquireLease(ctx context.Context, job string, ttl time.Duration) bool {
	if s.redis == nil {
		return true
	}
	ok, err := s.redis.SetNX(ctx, leasePrefix+job, s.instanceID, ttl).Result()
	if err != nil {
		s.log.Warn("lease acquisition failed, proceeding without lease",
			zap.String("job", job), zap.Error(err))
		return true
	}
	if !ok {
		s.log.Info("job lease held elsewhere, skipping", zap.String("job", job))
	}
	return ok
}

// releaseLease drops the lease early so a retry does not wait out the TTL.
// Only the holder's value is deleted.
func (s *Scheduler) releaseLease(ctx context.Context, job string) {
	if s.redis == nil {
		return
	}
	key := leasePrefix + job
	err := releaseScript.Run(ctx, s.redis, []string{key}, s.instanceID).Err()
	if err != nil && err != redis.Nil {
		s.log.Warn("lease release failed", zap.String("job", job), zap.Error(err))
	}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
