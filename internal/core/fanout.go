package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/joblens/listing-sync/internal/domain/model"
)

// regionWorker processes one region and returns its result. It must not
// panic; runRegions still recovers so one bad region cannot take down the
// whole run.
type regionWorker func(ctx context.Context, region model.RegionConfig) model.RegionRunResult

// runRegions fans out over the configured regions with at most maxConcurrent
// workers in flight. Exactly one result is produced per region, in the same
// order as the input, no matter how individual regions fare.
func runRegions(
	ctx context.Context,
	regions []model.RegionConfig,
	maxConcurrent int,
	now func() time.Time,
	worker regionWorker,
) []model.RegionRunResult {
	maxConcurrent = max(maxConcurrent, 1)

	sem := semaphore.NewWeighted(int64(maxConcurrent))
	results := make([]model.RegionRunResult, len(regions))
	var wg sync.WaitGroup

	for i := range regions {
		region := regions[i]

		if err := sem.Acquire(ctx, 1); err != nil {
			// Context is gone; the remaining regions never started.
			at := now()
			results[i] = failedRegionResult(region, err, at, at)
			continue
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = runRegionSafe(ctx, region, now, worker)
		}(i)
	}

	wg.Wait()
	return results
}

// runRegionSafe invokes the worker with panic recovery.
func runRegionSafe(
	ctx context.Context,
	region model.RegionConfig,
	now func() time.Time,
	worker regionWorker,
) (result model.RegionRunResult) {
	started := now()
	defer func() {
		if r := recover(); r != nil {
			result = failedRegionResult(region, fmt.Errorf("region worker panic: %v", r), started, now())
		}
	}()
	return worker(ctx, region)
}

func failedRegionResult(region model.RegionConfig, err error, started, ended time.Time) model.RegionRunResult {
	return model.RegionRunResult{
		Region:       region.ID,
		Status:       model.RegionRunError,
		Errors:       1,
		ErrorDetails: []model.RecordError{{Message: err.Error()}},
		StartedAt:    started,
		EndedAt:      ended,
	}
}
