package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joblens/listing-sync/internal/data"
	"github.com/joblens/listing-sync/internal/domain/model"
)

// statsWindow is the history window the status endpoint reports over.
const statsWindow = 24 * time.Hour

// SyncStatus is the report returned by Status.
type SyncStatus struct {
	Enabled       bool                `json:"enabled"`
	Regions       int                 `json:"regions"`
	LatestRun     *model.SyncRun      `json:"latest_run,omitempty"`
	LatestSuccess *model.SyncRun      `json:"latest_success,omitempty"`
	Last24h       *model.SyncRunStats `json:"last_24h,omitempty"`
}

// Status summarizes sync health: the latest run, the latest successful run,
// and aggregate counters over the last day. An empty audit trail is not an
// error; the corresponding fields are simply absent.
func (s *SyncService) Status(ctx context.Context) (*SyncStatus, error) {
	status := &SyncStatus{
		Enabled: s.enabled,
		Regions: len(s.cfg.Regions),
	}

	latest, err := s.runs.Latest(ctx)
	switch {
	case err == nil:
		status.LatestRun = latest
	case !errors.Is(err, data.ErrNoRuns):
		return nil, fmt.Errorf("load latest run: %w", err)
	}

	success, err := s.runs.LatestSuccessful(ctx)
	switch {
	case err == nil:
		status.LatestSuccess = success
	case !errors.Is(err, data.ErrNoRuns):
		return nil, fmt.Errorf("load latest successful run: %w", err)
	}

	stats, err := s.runs.StatsSince(ctx, statsWindow)
	if err != nil {
		return nil, fmt.Errorf("load run stats: %w", err)
	}
	status.Last24h = stats

	return status, nil
}

// ListRuns exposes the audit trail, newest first.
func (s *SyncService) ListRuns(ctx context.Context, limit, offset int) ([]*model.SyncRun, error) {
	return s.runs.ListRecent(ctx, limit, offset)
}
