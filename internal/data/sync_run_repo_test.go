package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joblens/listing-sync/internal/domain/model"
	"github.com/joblens/listing-sync/internal/testutil"
)

func makeBatchResult(status model.RunStatus) model.BatchResult {
	started := testutil.TestTime()
	return model.BatchResult{
		Status:       status,
		TotalFound:   7,
		TotalCreated: 5,
		TotalUpdated: 2,
		TotalErrors:  1,
		RegionResults: []model.RegionRunResult{
			{
				Region:    "us-east",
				Status:    model.RegionRunSuccess,
				Found:     4,
				Created:   3,
				Updated:   1,
				StartedAt: started,
				EndedAt:   started.Add(2 * time.Second),
			},
			{
				Region:    "eu-west",
				Status:    model.RegionRunError,
				Errors:    1,
				Attempts:  3,
				StartedAt: started,
				EndedAt:   started.Add(5 * time.Second),
			},
			{
				Region:    "ap-south",
				Status:    model.RegionRunSuccess,
				Found:     3,
				Created:   2,
				Updated:   1,
				StartedAt: started,
				EndedAt:   started.Add(3 * time.Second),
			},
		},
		StartedAt: started,
		EndedAt:   started.Add(6 * time.Second),
	}
}

func TestSyncRunRepoCreate(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewSyncRunRepo(db)
		ctx := context.Background()

		t.Run("records a completed run", func(t *testing.T) {
			run, err := repo.Create(ctx, model.RunRecord{
				RunType:     model.RunTypeScheduled,
				TriggeredBy: "scheduler",
				Batch:       makeBatchResult(model.RunStatusPartial),
				ConfigSnapshot: []model.RegionConfig{
					{ID: "us-east", Locator: "us"},
					{ID: "eu-west", Locator: "eu"},
					{ID: "ap-south", Locator: "ap"},
				},
			})
			require.NoError(t, err)
			require.NotEmpty(t, run.ID)
			assert.Equal(t, model.RunTypeScheduled, run.RunType)
			assert.Equal(t, "scheduler", run.TriggeredBy)
			assert.Equal(t, model.RunStatusPartial, run.Status)
			assert.Equal(t, 7, run.TotalFound)
			assert.Equal(t, 5, run.TotalCreated)
			assert.Equal(t, 2, run.TotalUpdated)
			assert.Equal(t, 1, run.TotalErrors)

			var regions []model.RegionRunResult
			require.NoError(t, json.Unmarshal(run.RegionResults, &regions))
			require.Len(t, regions, 3)
			assert.Equal(t, "us-east", regions[0].Region)
			assert.Equal(t, model.RegionRunError, regions[1].Status)
			assert.Equal(t, 3, regions[1].Attempts)

			var snapshot []model.RegionConfig
			require.NoError(t, json.Unmarshal(run.ConfigSnapshot, &snapshot))
			require.Len(t, snapshot, 3)
		})

		t.Run("rejects invalid run type", func(t *testing.T) {
			_, err := repo.Create(ctx, model.RunRecord{
				RunType:     model.RunType("weekly"),
				TriggeredBy: "scheduler",
				Batch:       makeBatchResult(model.RunStatusSuccess),
			})
			require.Error(t, err)
		})

		t.Run("rejects invalid status", func(t *testing.T) {
			_, err := repo.Create(ctx, model.RunRecord{
				RunType:     model.RunTypeManual,
				TriggeredBy: "api",
				Batch:       makeBatchResult(model.RunStatus("done")),
			})
			require.Error(t, err)
		})

		t.Run("records a skipped run", func(t *testing.T) {
			notes := testutil.StringPtr("lock held by another process")
			run, err := repo.Create(ctx, model.RunRecord{
				RunType:     model.RunTypeManual,
				TriggeredBy: "api",
				Batch:       model.SkippedBatchResult(testutil.TestTime()),
				Notes:       notes,
			})
			require.NoError(t, err)
			assert.Equal(t, model.RunStatusSkipped, run.Status)
			assert.Equal(t, 0, run.TotalFound)
			require.NotNil(t, run.Notes)
			assert.Equal(t, *notes, *run.Notes)
		})
	})
}

func TestSyncRunRepoLatest(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewSyncRunRepo(db)
		ctx := context.Background()

		t.Run("empty trail returns ErrNoRuns", func(t *testing.T) {
			_, err := repo.Latest(ctx)
			require.ErrorIs(t, err, ErrNoRuns)
			_, err = repo.LatestSuccessful(ctx)
			require.ErrorIs(t, err, ErrNoRuns)
		})

		statuses := []model.RunStatus{
			model.RunStatusSuccess,
			model.RunStatusError,
			model.RunStatusPartial,
		}
		for _, status := range statuses {
			_, err := repo.Create(ctx, model.RunRecord{
				RunType:     model.RunTypeScheduled,
				TriggeredBy: "scheduler",
				Batch:       makeBatchResult(status),
			})
			require.NoError(t, err)
		}

		t.Run("latest returns the newest run", func(t *testing.T) {
			run, err := repo.Latest(ctx)
			require.NoError(t, err)
			assert.Equal(t, model.RunStatusPartial, run.Status)
		})

		t.Run("latest successful skips failed runs", func(t *testing.T) {
			run, err := repo.LatestSuccessful(ctx)
			require.NoError(t, err)
			assert.Equal(t, model.RunStatusSuccess, run.Status)
		})
	})
}

func TestSyncRunRepoListRecent(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewSyncRunRepo(db)
		ctx := context.Background()

		for range 5 {
			_, err := repo.Create(ctx, model.RunRecord{
				RunType:     model.RunTypeScheduled,
				TriggeredBy: "scheduler",
				Batch:       makeBatchResult(model.RunStatusSuccess),
			})
			require.NoError(t, err)
		}

		runs, err := repo.ListRecent(ctx, 3, 0)
		require.NoError(t, err)
		assert.Len(t, runs, 3)

		rest, err := repo.ListRecent(ctx, 3, 3)
		require.NoError(t, err)
		assert.Len(t, rest, 2)

		// Newest first, no overlap between pages.
		seen := make(map[string]bool)
		for _, r := range append(runs, rest...) {
			assert.False(t, seen[r.ID])
			seen[r.ID] = true
		}
	})
}

func TestSyncRunRepoStatsSince(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewSyncRunRepo(db)
		ctx := context.Background()

		for _, status := range []model.RunStatus{
			model.RunStatusSuccess,
			model.RunStatusSuccess,
			model.RunStatusPartial,
			model.RunStatusError,
		} {
			_, err := repo.Create(ctx, model.RunRecord{
				RunType:     model.RunTypeScheduled,
				TriggeredBy: "scheduler",
				Batch:       makeBatchResult(status),
			})
			require.NoError(t, err)
		}
		_, err := repo.Create(ctx, model.RunRecord{
			RunType:     model.RunTypeManual,
			TriggeredBy: "api",
			Batch:       model.SkippedBatchResult(time.Now().UTC()),
		})
		require.NoError(t, err)

		t.Run("aggregates the window", func(t *testing.T) {
			stats, err := repo.StatsSince(ctx, 24*time.Hour)
			require.NoError(t, err)
			assert.Equal(t, 5, stats.Runs)
			assert.Equal(t, 2, stats.Succeeded)
			assert.Equal(t, 1, stats.Partial)
			assert.Equal(t, 1, stats.Failed)
			assert.Equal(t, 1, stats.Skipped)
			assert.Equal(t, 4*7, stats.TotalFound)
			assert.Equal(t, 4*5, stats.TotalCreated)
		})

		t.Run("rejects non-positive window", func(t *testing.T) {
			_, err := repo.StatsSince(ctx, 0)
			require.Error(t, err)
		})
	})
}
