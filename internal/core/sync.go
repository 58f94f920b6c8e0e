package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joblens/listing-sync/internal/data"
	"github.com/joblens/listing-sync/internal/domain/model"
	apperrors "github.com/joblens/listing-sync/internal/errors"
	"github.com/joblens/listing-sync/internal/observability/metrics"
	"github.com/joblens/listing-sync/internal/observability/statsd"
)

// ErrSyncDisabled is returned by RunOnce when the service was built with
// syncing turned off.
var ErrSyncDisabled = errors.New("sync is disabled")

// SyncService orchestrates one full sync run: acquire the cross-process run
// lock, fan out over regions, merge listings into the store, and record an
// immutable audit row. Exactly one run executes at a time across all
// replicas; contenders record a skipped run and back off.
type SyncService struct {
	provider     ProviderClient
	listings     ListingStore
	runs         SyncRunStore
	lock         RunLock
	cfg          SyncConfig
	enabled      bool
	timeProvider data.TimeProvider
	logger       *slog.Logger
	sink         statsd.Sink
}

// SyncServiceOptions holds the dependencies for creating a SyncService.
type SyncServiceOptions struct {
	Provider     ProviderClient
	Listings     ListingStore
	Runs         SyncRunStore
	Lock         RunLock
	Config       SyncConfig
	Enabled      bool
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
	Sink         statsd.Sink
}

// NewSyncService creates a new SyncService.
func NewSyncService(opts SyncServiceOptions) *SyncService {
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Config.MaxConcurrentRegions <= 0 {
		opts.Config.MaxConcurrentRegions = DefaultSyncConfig().MaxConcurrentRegions
	}
	if opts.Config.RetryAttempts <= 0 {
		opts.Config.RetryAttempts = DefaultSyncConfig().RetryAttempts
	}
	if opts.Config.UpsertBatchSize <= 0 {
		opts.Config.UpsertBatchSize = DefaultSyncConfig().UpsertBatchSize
	}

	return &SyncService{
		provider:     opts.Provider,
		listings:     opts.Listings,
		runs:         opts.Runs,
		lock:         opts.Lock,
		cfg:          opts.Config,
		enabled:      opts.Enabled,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger,
		sink:         opts.Sink,
	}
}

// Enabled reports whether runs are allowed at all.
func (s *SyncService) Enabled() bool { return s.enabled }

// Regions returns the configured region set.
func (s *SyncService) Regions() []model.RegionConfig { return s.cfg.Regions }

// RunOnce executes one complete sync run and returns its audit record.
//
// The run lock is released on every path out of this function, including
// panics inside region workers (those are converted to region errors by the
// fan-out layer and never escape). A run that fails to acquire the lock is
// recorded with status skipped and is not an error.
func (s *SyncService) RunOnce(
	ctx context.Context,
	runType model.RunType,
	triggeredBy string,
) (*model.SyncRun, error) {
	if !s.enabled {
		return nil, ErrSyncDisabled
	}
	if !runType.Valid() {
		return nil, fmt.Errorf("invalid run type %q", runType)
	}

	attemptID := uuid.NewString()
	logger := s.logger.With(
		slog.String("attempt_id", attemptID),
		slog.String("run_type", string(runType)),
	)

	acquired, err := s.lock.Acquire(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !acquired {
		logger.InfoContext(ctx, "sync run skipped, lock held by another process")
		return s.recordSkipped(ctx, runType, triggeredBy)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if relErr := s.lock.Release(releaseCtx, attemptID); relErr != nil {
			logger.ErrorContext(ctx, "failed to release run lock", slog.Any("error", relErr))
		}
	}()

	startedAt := s.timeProvider.Now().UTC()
	logger.InfoContext(ctx, "sync run started",
		slog.Int("regions", len(s.cfg.Regions)),
		slog.Int("max_concurrent", s.cfg.MaxConcurrentRegions),
	)

	results := runRegions(ctx, s.cfg.Regions, s.cfg.MaxConcurrentRegions, s.timeProvider.Now, s.syncRegion)
	endedAt := s.timeProvider.Now().UTC()
	batch := model.AggregateRegions(results, startedAt, endedAt)

	if s.cfg.StaleAfter > 0 && batch.Status == model.RunStatusSuccess {
		cutoff := endedAt.Add(-s.cfg.StaleAfter)
		if n, staleErr := s.listings.DeactivateStale(ctx, cutoff); staleErr != nil {
			logger.ErrorContext(ctx, "stale listing sweep failed", slog.Any("error", staleErr))
		} else if n > 0 {
			logger.InfoContext(ctx, "deactivated stale listings", slog.Int("count", n))
		}
	}

	run, err := s.runs.Create(ctx, model.RunRecord{
		RunType:        runType,
		TriggeredBy:    triggeredBy,
		Batch:          batch,
		ConfigSnapshot: s.cfg.Regions,
	})
	if err != nil {
		// The merge already happened; losing the audit row is a real error.
		return nil, fmt.Errorf("record sync run: %w", err)
	}

	metrics.EmitRun(s.sink, metrics.RunMetric{
		RunType:  string(runType),
		Result:   string(batch.Status),
		Found:    batch.TotalFound,
		Created:  batch.TotalCreated,
		Updated:  batch.TotalUpdated,
		Errors:   batch.TotalErrors,
		Duration: batch.Duration(),
	})
	logger.InfoContext(ctx, "sync run finished",
		slog.String("status", string(batch.Status)),
		slog.Int("found", batch.TotalFound),
		slog.Int("created", batch.TotalCreated),
		slog.Int("updated", batch.TotalUpdated),
		slog.Int("errors", batch.TotalErrors),
		slog.Duration("duration", batch.Duration()),
	)
	return run, nil
}

// syncRegion processes one region: fetch with retry, then merge into the
// store. Always returns a result, classifying failures as timeout or error.
func (s *SyncService) syncRegion(
	ctx context.Context,
	region model.RegionConfig,
) model.RegionRunResult {
	startedAt := s.timeProvider.Now().UTC()
	result := model.RegionRunResult{
		Region:    region.ID,
		StartedAt: startedAt,
	}

	fetch := fetchWithRetry(ctx, s.provider, region, s.cfg)
	result.Attempts = fetch.attempts
	if fetch.err != nil {
		result.EndedAt = s.timeProvider.Now().UTC()
		result.Status = classifyRegionFailure(fetch.err)
		result.Errors = 1
		result.ErrorDetails = []model.RecordError{{Message: fetch.err.Error()}}
		s.logger.ErrorContext(ctx, "region fetch failed",
			slog.String("region", region.ID),
			slog.Int("attempts", fetch.attempts),
			slog.Any("error", fetch.err),
		)
		s.emitRegion(result)
		return result
	}

	result.Found = len(fetch.listings)
	outcome, err := s.listings.UpsertBatch(ctx, fetch.listings, s.cfg.UpsertBatchSize)
	result.EndedAt = s.timeProvider.Now().UTC()
	if err != nil {
		result.Status = model.RegionRunError
		result.Errors = 1
		result.ErrorDetails = []model.RecordError{{Message: err.Error()}}
		s.logger.ErrorContext(ctx, "region merge failed",
			slog.String("region", region.ID),
			slog.Any("error", err),
		)
		s.emitRegion(result)
		return result
	}

	result.Status = model.RegionRunSuccess
	result.Created = outcome.Created
	result.Updated = outcome.Updated
	result.Errors = len(outcome.Errors)
	result.ErrorDetails = outcome.Errors
	s.logger.InfoContext(ctx, "region synced",
		slog.String("region", region.ID),
		slog.Int("found", result.Found),
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
		slog.Int("errors", result.Errors),
		slog.Int("attempts", result.Attempts),
	)
	s.emitRegion(result)
	return result
}

func (s *SyncService) emitRegion(r model.RegionRunResult) {
	metrics.EmitRegion(s.sink, metrics.RegionMetric{
		Region:   r.Region,
		Status:   string(r.Status),
		Attempts: r.Attempts,
		Duration: r.Duration(),
	})
}

// classifyRegionFailure maps a fetch error to the region status vocabulary.
func classifyRegionFailure(err error) model.RegionRunStatus {
	if errors.Is(err, context.DeadlineExceeded) || apperrors.IsTimeout(err) {
		return model.RegionRunTimeout
	}
	return model.RegionRunError
}

// recordSkipped writes the audit row for a run that lost the lock race.
func (s *SyncService) recordSkipped(
	ctx context.Context,
	runType model.RunType,
	triggeredBy string,
) (*model.SyncRun, error) {
	notes := "run lock held by another process"
	run, err := s.runs.Create(ctx, model.RunRecord{
		RunType:        runType,
		TriggeredBy:    triggeredBy,
		Batch:          model.SkippedBatchResult(s.timeProvider.Now().UTC()),
		ConfigSnapshot: s.cfg.Regions,
		Notes:          &notes,
	})
	if err != nil {
		return nil, fmt.Errorf("record skipped run: %w", err)
	}
	metrics.EmitRun(s.sink, metrics.RunMetric{
		RunType: string(runType),
		Result:  metrics.ResultSkipped,
	})
	return run, nil
}
