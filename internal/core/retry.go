package core

import (
	"context"
	"errors"
	"time"

	"github.com/joblens/listing-sync/internal/domain/model"
	apperrors "github.com/joblens/listing-sync/internal/errors"
)

// Retryable reports whether a provider fetch failure is transient. Timeouts
// and unavailable-backend errors are worth retrying; validation and other
// permanent failures are not. Cancellation is never retryable because it
// means the run itself is shutting down.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return apperrors.IsTimeout(err) || apperrors.IsUnavailable(err)
}

// fetchResult carries one region fetch outcome through the retry loop.
type fetchResult struct {
	listings []model.ProviderListing
	// attempts is how many calls were actually made.
	attempts int
	err      error
}

// fetchWithRetry calls the provider for one region, retrying transient
// failures up to cfg.RetryAttempts total attempts with a fixed delay in
// between. Each attempt gets its own timeout; the parent context still
// bounds the whole loop.
func fetchWithRetry(
	ctx context.Context,
	client ProviderClient,
	region model.RegionConfig,
	cfg SyncConfig,
) fetchResult {
	attempts := max(cfg.RetryAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if cfg.ProviderTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, cfg.ProviderTimeout)
		}
		listings, err := client.FetchRegion(callCtx, region)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return fetchResult{listings: listings, attempts: attempt}
		}
		lastErr = err

		if !Retryable(err) || attempt == attempts {
			return fetchResult{attempts: attempt, err: err}
		}
		if sleepErr := sleepCtx(ctx, cfg.RetryDelay); sleepErr != nil {
			return fetchResult{attempts: attempt, err: sleepErr}
		}
	}
	return fetchResult{attempts: attempts, err: lastErr}
}

// sleepCtx waits for d or until the context is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
