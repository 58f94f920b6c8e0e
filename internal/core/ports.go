// Package core provides the business logic for the listing sync system.
package core

import (
	"context"
	"time"

	"github.com/joblens/listing-sync/internal/domain/model"
)

// This file contains the interface definitions (ports in hexagonal
// architecture) between the sync service and its adapters. Service code
// depends on these interfaces, not on concrete implementations.

// ProviderClient fetches job listings from the external provider for one
// region. Implementations translate provider failures into the app error
// taxonomy so the retry classifier can tell transient from permanent.
type ProviderClient interface {
	FetchRegion(ctx context.Context, region model.RegionConfig) ([]model.ProviderListing, error)
}

// ListingStore defines the persistence operations the sync run needs.
type ListingStore interface {
	UpsertBatch(
		ctx context.Context,
		records []model.ProviderListing,
		batchSize int,
	) (model.UpsertOutcome, error)
	DeactivateStale(ctx context.Context, cutoff time.Time) (int, error)
}

// SyncRunStore persists and reads the append-only run audit trail.
type SyncRunStore interface {
	Create(ctx context.Context, p model.RunRecord) (*model.SyncRun, error)
	Latest(ctx context.Context) (*model.SyncRun, error)
	LatestSuccessful(ctx context.Context) (*model.SyncRun, error)
	ListRecent(ctx context.Context, limit, offset int) ([]*model.SyncRun, error)
	StatsSince(ctx context.Context, window time.Duration) (*model.SyncRunStats, error)
}

// RunLock is the cross-process mutual exclusion guard around a sync run.
// Acquire is expected to fail open when the lock backend is unreachable.
type RunLock interface {
	Acquire(ctx context.Context, attemptID string) (bool, error)
	Release(ctx context.Context, attemptID string) error
}

// SyncConfig holds the tunables for one sync service instance.
type SyncConfig struct {
	// Regions is the set of regions every run fans out over.
	Regions []model.RegionConfig
	// MaxConcurrentRegions caps how many regions are fetched in parallel.
	MaxConcurrentRegions int
	// RetryAttempts is the total number of fetch attempts per region,
	// including the first one.
	RetryAttempts int
	// RetryDelay is the fixed pause between fetch attempts.
	RetryDelay time.Duration
	// UpsertBatchSize is the number of rows per upsert statement.
	UpsertBatchSize int
	// ProviderTimeout bounds each individual provider call.
	ProviderTimeout time.Duration
	// StaleAfter is how long a listing may go unseen before a run
	// deactivates it. Zero disables stale sweeping.
	StaleAfter time.Duration
}

// DefaultSyncConfig returns a SyncConfig with sensible defaults.
// Regions must still be provided by the caller.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		MaxConcurrentRegions: 2,
		RetryAttempts:        3,
		RetryDelay:           5 * time.Second,
		UpsertBatchSize:      100,
		ProviderTimeout:      30 * time.Second,
	}
}
