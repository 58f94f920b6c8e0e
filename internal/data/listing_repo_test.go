package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joblens/listing-sync/internal/domain/model"
	"github.com/joblens/listing-sync/internal/errors"
	"github.com/joblens/listing-sync/internal/testutil"
)

func makeProviderListing(region string, n int) model.ProviderListing {
	return model.ProviderListing{
		ExternalID:  fmt.Sprintf("%s-ext-%d", region, n),
		Region:      region,
		Title:       fmt.Sprintf("Backend Engineer %d", n),
		Company:     "Acme Corp",
		Location:    "Remote",
		Description: "Builds backends.",
		URL:         fmt.Sprintf("https://jobs.example.com/%s/%d", region, n),
		SalaryMin:   testutil.Float64Ptr(90000),
		SalaryMax:   testutil.Float64Ptr(140000),
		PostedAt:    testutil.TimePtr(testutil.TestTime()),
		Raw:         json.RawMessage(`{"source":"provider"}`),
	}
}

func TestListingRepoUpsertBatch(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewListingRepo(db)
		ctx := context.Background()

		t.Run("creates new listings", func(t *testing.T) {
			records := []model.ProviderListing{
				makeProviderListing("us-east", 1),
				makeProviderListing("us-east", 2),
				makeProviderListing("eu-west", 3),
			}

			outcome, err := repo.UpsertBatch(ctx, records, 100)
			require.NoError(t, err)
			assert.Equal(t, 3, outcome.Created)
			assert.Equal(t, 0, outcome.Updated)
			assert.Empty(t, outcome.Errors)

			stored, err := repo.GetByExternalID(ctx, "us-east-ext-1")
			require.NoError(t, err)
			assert.Equal(t, "Backend Engineer 1", stored.Title)
			assert.Equal(t, "us-east", stored.Region)
			assert.Equal(t, "Acme Corp", stored.Company)
			require.NotNil(t, stored.SalaryMin)
			assert.InDelta(t, 90000, *stored.SalaryMin, 0.01)
			assert.True(t, stored.IsActive)
			assert.False(t, stored.LastSyncedAt.IsZero())
		})

		t.Run("second pass is idempotent", func(t *testing.T) {
			records := []model.ProviderListing{
				makeProviderListing("us-east", 1),
				makeProviderListing("us-east", 2),
				makeProviderListing("eu-west", 3),
			}

			outcome, err := repo.UpsertBatch(ctx, records, 100)
			require.NoError(t, err)
			assert.Equal(t, 0, outcome.Created)
			assert.Equal(t, 3, outcome.Updated)
			assert.Empty(t, outcome.Errors)

			counts, err := repo.CountByRegion(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, counts["us-east"])
			assert.Equal(t, 1, counts["eu-west"])
		})

		t.Run("updates changed fields in place", func(t *testing.T) {
			changed := makeProviderListing("us-east", 1)
			changed.Title = "Staff Backend Engineer"
			changed.SalaryMax = testutil.Float64Ptr(180000)

			outcome, err := repo.UpsertBatch(ctx, []model.ProviderListing{changed}, 100)
			require.NoError(t, err)
			assert.Equal(t, 0, outcome.Created)
			assert.Equal(t, 1, outcome.Updated)

			stored, err := repo.GetByExternalID(ctx, "us-east-ext-1")
			require.NoError(t, err)
			assert.Equal(t, "Staff Backend Engineer", stored.Title)
			require.NotNil(t, stored.SalaryMax)
			assert.InDelta(t, 180000, *stored.SalaryMax, 0.01)
		})

		t.Run("collects invalid records without aborting the batch", func(t *testing.T) {
			noTitle := makeProviderListing("eu-west", 4)
			noTitle.Title = "  "
			noID := makeProviderListing("eu-west", 5)
			noID.ExternalID = ""

			records := []model.ProviderListing{
				noTitle,
				makeProviderListing("eu-west", 6),
				noID,
			}

			outcome, err := repo.UpsertBatch(ctx, records, 100)
			require.NoError(t, err)
			assert.Equal(t, 1, outcome.Created)
			require.Len(t, outcome.Errors, 2)
			assert.Equal(t, "eu-west-ext-4", outcome.Errors[0].ExternalID)
			assert.Contains(t, outcome.Errors[0].Message, "title")
			assert.Contains(t, outcome.Errors[1].Message, "external_id")

			_, err = repo.GetByExternalID(ctx, "eu-west-ext-6")
			assert.NoError(t, err)
		})

		t.Run("chunks batches larger than batch size", func(t *testing.T) {
			records := make([]model.ProviderListing, 0, 7)
			for i := 10; i < 17; i++ {
				records = append(records, makeProviderListing("ap-south", i))
			}

			outcome, err := repo.UpsertBatch(ctx, records, 3)
			require.NoError(t, err)
			assert.Equal(t, 7, outcome.Created)
			assert.Equal(t, 0, outcome.Updated)
			assert.Empty(t, outcome.Errors)

			counts, err := repo.CountByRegion(ctx)
			require.NoError(t, err)
			assert.Equal(t, 7, counts["ap-south"])
		})

		t.Run("repeated external id in one batch keeps the last record", func(t *testing.T) {
			first := makeProviderListing("eu-west", 40)
			first.Title = "Junior Analyst"
			second := makeProviderListing("eu-west", 40)
			second.Title = "Senior Analyst"

			records := []model.ProviderListing{
				first,
				makeProviderListing("eu-west", 41),
				second,
			}

			outcome, err := repo.UpsertBatch(ctx, records, 100)
			require.NoError(t, err)
			assert.Equal(t, 2, outcome.Created)
			assert.Equal(t, 0, outcome.Updated)
			assert.Empty(t, outcome.Errors)

			stored, err := repo.GetByExternalID(ctx, "eu-west-ext-40")
			require.NoError(t, err)
			assert.Equal(t, "Senior Analyst", stored.Title)
		})

		t.Run("empty input is a no-op", func(t *testing.T) {
			outcome, err := repo.UpsertBatch(ctx, nil, 100)
			require.NoError(t, err)
			assert.Equal(t, 0, outcome.Created)
			assert.Equal(t, 0, outcome.Updated)
			assert.Empty(t, outcome.Errors)
		})
	})
}

func TestListingRepoGetByExternalID(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewListingRepo(db)
		ctx := context.Background()

		_, err := repo.GetByExternalID(ctx, "missing-ext-id")
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestListingRepoDeactivate(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewListingRepo(db)
		ctx := context.Background()

		_, err := repo.UpsertBatch(ctx, []model.ProviderListing{makeProviderListing("us-east", 1)}, 100)
		require.NoError(t, err)

		t.Run("flips is_active for an existing listing", func(t *testing.T) {
			ok, err := repo.Deactivate(ctx, "us-east-ext-1")
			require.NoError(t, err)
			assert.True(t, ok)

			stored, err := repo.GetByExternalID(ctx, "us-east-ext-1")
			require.NoError(t, err)
			assert.False(t, stored.IsActive)
		})

		t.Run("returns false for an unknown listing", func(t *testing.T) {
			ok, err := repo.Deactivate(ctx, "never-seen")
			require.NoError(t, err)
			assert.False(t, ok)
		})

		t.Run("re-upserting reactivates the listing", func(t *testing.T) {
			outcome, err := repo.UpsertBatch(ctx, []model.ProviderListing{makeProviderListing("us-east", 1)}, 100)
			require.NoError(t, err)
			assert.Equal(t, 1, outcome.Updated)

			stored, err := repo.GetByExternalID(ctx, "us-east-ext-1")
			require.NoError(t, err)
			assert.True(t, stored.IsActive)
		})
	})
}

func TestListingRepoDeactivateStale(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		staleTime := testutil.TestTime().Add(-40 * 24 * time.Hour)

		staleRepo := NewListingRepoWithTimeProvider(db, NewFixedTimeProvider(staleTime))
		_, err := staleRepo.UpsertBatch(ctx, []model.ProviderListing{
			makeProviderListing("us-east", 1),
			makeProviderListing("us-east", 2),
		}, 100)
		require.NoError(t, err)

		freshRepo := NewListingRepoWithTimeProvider(db, NewFixedTimeProvider(testutil.TestTime()))
		_, err = freshRepo.UpsertBatch(ctx, []model.ProviderListing{
			makeProviderListing("eu-west", 3),
		}, 100)
		require.NoError(t, err)

		cutoff := testutil.TestTime().Add(-30 * 24 * time.Hour)
		n, err := freshRepo.DeactivateStale(ctx, cutoff)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		stale, err := freshRepo.GetByExternalID(ctx, "us-east-ext-1")
		require.NoError(t, err)
		assert.False(t, stale.IsActive)

		fresh, err := freshRepo.GetByExternalID(ctx, "eu-west-ext-3")
		require.NoError(t, err)
		assert.True(t, fresh.IsActive)

		// Already-inactive rows are not counted again.
		n, err = freshRepo.DeactivateStale(ctx, cutoff)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}
