package data

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// lockKey is the single coordination key shared by every process instance.
const lockKey = "listing_sync:run_lock"

// releaseScript deletes the lock key only when it still holds the caller's
// attempt ID. Without the compare, a holder whose TTL expired could delete a
// lock re-acquired by a later attempt.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLockRepo implements the cross-process run lock on Redis.
//
// Acquire fails open: if Redis itself is unreachable the run is allowed to
// proceed. Overlapping runs are wasteful but harmless because the listing
// upsert is idempotent, whereas blocking all syncs on a coordination outage
// is not acceptable.
type RunLockRepo struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewRunLockRepo creates a RunLockRepo with the given TTL. The TTL must
// exceed the longest plausible run so a crashed holder cannot wedge the
// schedule; it is the only recovery path for a lost lock.
func NewRunLockRepo(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RunLockRepo {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RunLockRepo{client: client, ttl: ttl, logger: logger}
}

// Acquire atomically sets the lock key to attemptID if it is absent.
// Returns true when this call took the lock, false when another attempt
// holds it. Redis errors are logged and treated as acquired (fail open).
func (r *RunLockRepo) Acquire(ctx context.Context, attemptID string) (bool, error) {
	if attemptID == "" {
		return false, errors.New("attempt id cannot be empty")
	}

	// SET with NX + TTL in a single command; SETNX followed by EXPIRE is not atomic.
	cmd := r.client.SetArgs(ctx, lockKey, attemptID, redis.SetArgs{Mode: "NX", TTL: r.ttl})
	status, err := cmd.Result()
	if err != nil {
		// Nil reply means the NX condition failed: the key exists.
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		r.logger.WarnContext(ctx, "run lock store unreachable, proceeding without lock",
			"error", err)
		return true, nil
	}

	return status == "OK", nil
}

// Release deletes the lock key only if it still equals attemptID. Releasing
// a lock held by a different attempt is a no-op.
func (r *RunLockRepo) Release(ctx context.Context, attemptID string) error {
	if attemptID == "" {
		return errors.New("attempt id cannot be empty")
	}

	if _, err := releaseScript.Run(ctx, r.client, []string{lockKey}, attemptID).Result(); err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}

// Holder returns the attempt ID currently holding the lock, or "" when free.
func (r *RunLockRepo) Holder(ctx context.Context) (string, error) {
	val, err := r.client.Get(ctx, lockKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("read run lock: %w", err)
	}
	return val, nil
}
