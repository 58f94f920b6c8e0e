package data

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joblens/listing-sync/internal/testutil"
)

func setupLockRepo(t *testing.T, ttl time.Duration) (*RunLockRepo, *redis.Client) {
	t.Helper()
	client := testutil.SetupTestRedis(t)
	t.Cleanup(func() { _ = client.Close() })
	repo := NewRunLockRepo(client, ttl, slog.Default())

	// Start from a clean key regardless of previous test runs.
	ctx := context.Background()
	require.NoError(t, client.Del(ctx, lockKey).Err())
	return repo, client
}

func TestRunLockRepo_AcquireRelease(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	repo, _ := setupLockRepo(t, time.Minute)
	ctx := context.Background()

	acquired, err := repo.Acquire(ctx, "attempt-1")
	require.NoError(t, err)
	assert.True(t, acquired)

	// A second attempt must not take the lock while it is held.
	acquired, err = repo.Acquire(ctx, "attempt-2")
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, repo.Release(ctx, "attempt-1"))

	acquired, err = repo.Acquire(ctx, "attempt-2")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRunLockRepo_ReleaseOnlyByHolder(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	repo, _ := setupLockRepo(t, time.Minute)
	ctx := context.Background()

	acquired, err := repo.Acquire(ctx, "attempt-1")
	require.NoError(t, err)
	require.True(t, acquired)

	// Releasing with a stale attempt ID must leave the lock in place.
	require.NoError(t, repo.Release(ctx, "attempt-0"))

	holder, err := repo.Holder(ctx)
	require.NoError(t, err)
	assert.Equal(t, "attempt-1", holder)
}

func TestRunLockRepo_TTLExpiryAllowsReacquire(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	repo, client := setupLockRepo(t, time.Minute)
	ctx := context.Background()

	// Simulate a crashed holder: key present with an almost-expired TTL.
	require.NoError(t, client.Set(ctx, lockKey, "crashed-attempt", 50*time.Millisecond).Err())
	time.Sleep(100 * time.Millisecond)

	acquired, err := repo.Acquire(ctx, "attempt-new")
	require.NoError(t, err)
	assert.True(t, acquired, "expired lock must be acquirable without local TTL bookkeeping")
}

func TestRunLockRepo_FailsOpenWhenRedisDown(t *testing.T) {
	// Point at a closed port; no Redis required for this test.
	client := redis.NewClient(&redis.Options{Addr: "localhost:1", DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	repo := NewRunLockRepo(client, time.Minute, slog.Default())

	acquired, err := repo.Acquire(context.Background(), "attempt-1")
	require.NoError(t, err)
	assert.True(t, acquired, "coordination store outage must not block runs")
}

func TestRunLockRepo_EmptyAttemptID(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:1"})
	t.Cleanup(func() { _ = client.Close() })
	repo := NewRunLockRepo(client, time.Minute, slog.Default())

	_, err := repo.Acquire(context.Background(), "")
	assert.Error(t, err)
	assert.Error(t, repo.Release(context.Background(), ""))
}
