package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/joblens/listing-sync/internal/data/pgxutil"
	"github.com/joblens/listing-sync/internal/domain/model"
	apperrors "github.com/joblens/listing-sync/internal/errors"
)

// listingUpsertColumns is the column list for the multi-row upsert statement.
var listingUpsertColumns = []string{
	"external_id", "region", "title", "company", "location", "description",
	"url", "salary_min", "salary_max", "posted_at", "raw", "last_synced_at",
}

const defaultUpsertBatchSize = 100

// ListingRepo provides database operations for job listings.
type ListingRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewListingRepo creates a new ListingRepo with real time provider.
func NewListingRepo(db *sql.DB) *ListingRepo {
	return &ListingRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewListingRepoWithTimeProvider creates a new ListingRepo with a custom time provider (useful for tests).
func NewListingRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *ListingRepo {
	return &ListingRepo{DB: db, timeProvider: tp}
}

// UpsertBatch merges provider listings into the store keyed by external_id,
// in chunks of batchSize rows per statement. Records that fail validation are
// reported in the outcome without aborting their chunk; a chunk that fails to
// persist is reported without aborting the remaining chunks. The operation is
// idempotent: applying the same records twice leaves the store unchanged, the
// second pass reporting zero creates.
func (r *ListingRepo) UpsertBatch(
	ctx context.Context,
	records []model.ProviderListing,
	batchSize int,
) (model.UpsertOutcome, error) {
	if batchSize <= 0 {
		batchSize = defaultUpsertBatchSize
	}

	var outcome model.UpsertOutcome
	valid := make([]model.ProviderListing, 0, len(records))
	for i := range records {
		if err := records[i].Validate(); err != nil {
			outcome.Errors = append(outcome.Errors, model.RecordError{
				ExternalID: records[i].ExternalID,
				Message:    err.Error(),
			})
			continue
		}
		valid = append(valid, records[i])
	}
	valid = dedupeByExternalID(valid)

	for start := 0; start < len(valid); start += batchSize {
		end := min(start+batchSize, len(valid))
		chunk := valid[start:end]

		created, updated, err := r.upsertChunk(ctx, chunk)
		if err != nil {
			// The chunk shares one statement; its failure taints every record
			// in it but must not prevent the remaining chunks.
			for i := range chunk {
				outcome.Errors = append(outcome.Errors, model.RecordError{
					ExternalID: chunk[i].ExternalID,
					Message:    err.Error(),
				})
			}
			continue
		}
		outcome.Created += created
		outcome.Updated += updated
	}

	return outcome, nil
}

// dedupeByExternalID collapses repeated external IDs to a single record, last
// occurrence winning. Postgres rejects a statement whose ON CONFLICT clause
// would touch the same row twice, so duplicates must never share a chunk.
func dedupeByExternalID(records []model.ProviderListing) []model.ProviderListing {
	seen := make(map[string]int, len(records))
	out := records[:0]
	for i := range records {
		if idx, ok := seen[records[i].ExternalID]; ok {
			out[idx] = records[i]
			continue
		}
		seen[records[i].ExternalID] = len(out)
		out = append(out, records[i])
	}
	return out
}

// upsertChunk issues one multi-row INSERT ... ON CONFLICT statement and
// returns exact created/updated counts using the xmax system column: a row
// with xmax = 0 after the statement was freshly inserted, anything else was
// updated by the conflict clause.
func (r *ListingRepo) upsertChunk(
	ctx context.Context,
	chunk []model.ProviderListing,
) (created, updated int, err error) {
	if len(chunk) == 0 {
		return 0, 0, nil
	}

	now := r.timeProvider.Now().UTC()
	query, args := buildListingUpsert(chunk, now)

	err = pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qErr := conn.Query(ctx, query, args...)
		if qErr != nil {
			return qErr
		}
		defer rows.Close()

		for rows.Next() {
			var inserted bool
			if scanErr := rows.Scan(&inserted); scanErr != nil {
				return scanErr
			}
			if inserted {
				created++
			} else {
				updated++
			}
		}
		return rows.Err()
	})
	if err != nil {
		return 0, 0, fmt.Errorf("upsert listings chunk: %w", err)
	}
	return created, updated, nil
}

// buildListingUpsert builds the multi-row upsert statement and its args.
func buildListingUpsert(chunk []model.ProviderListing, now time.Time) (string, []any) {
	cols := len(listingUpsertColumns)
	args := make([]any, 0, len(chunk)*cols)
	valueRows := make([]string, 0, len(chunk))

	for i := range chunk {
		l := &chunk[i]
		placeholders := make([]string, cols)
		for j := range cols {
			placeholders[j] = fmt.Sprintf("$%d", i*cols+j+1)
		}
		valueRows = append(valueRows, "("+strings.Join(placeholders, ", ")+")")
		args = append(args,
			l.ExternalID, l.Region, l.Title, l.Company, l.Location,
			l.Description, l.URL, l.SalaryMin, l.SalaryMax, l.PostedAt,
			l.Raw, now,
		)
	}

	query := `
		INSERT INTO listings (` + strings.Join(listingUpsertColumns, ", ") + `)
		VALUES ` + strings.Join(valueRows, ", ") + `
		ON CONFLICT (external_id) DO UPDATE SET
			region = EXCLUDED.region,
			title = EXCLUDED.title,
			company = EXCLUDED.company,
			location = EXCLUDED.location,
			description = EXCLUDED.description,
			url = EXCLUDED.url,
			salary_min = EXCLUDED.salary_min,
			salary_max = EXCLUDED.salary_max,
			posted_at = EXCLUDED.posted_at,
			raw = EXCLUDED.raw,
			is_active = TRUE,
			last_synced_at = EXCLUDED.last_synced_at,
			updated_at = now()
		RETURNING (xmax = 0) AS inserted`

	return query, args
}

// GetByExternalID retrieves a listing by its provider-assigned key.
func (r *ListingRepo) GetByExternalID(ctx context.Context, externalID string) (*model.Listing, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, errors.New("external id is required")
	}

	var out model.Listing
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qErr := conn.Query(ctx, `
			SELECT id, external_id, region, title, company, location, description, url,
			       salary_min, salary_max, posted_at, raw, is_active, last_synced_at,
			       created_at, updated_at
			FROM listings WHERE external_id = $1`, externalID)
		if qErr != nil {
			return qErr
		}
		defer rows.Close()
		var cErr error
		out, cErr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Listing])
		return cErr
	})
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("get listing by external id: %w", err))
	}
	return &out, nil
}

// CountByRegion returns the number of active listings per region.
func (r *ListingRepo) CountByRegion(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qErr := conn.Query(ctx,
			`SELECT region, COUNT(*) FROM listings WHERE is_active GROUP BY region`)
		if qErr != nil {
			return qErr
		}
		defer rows.Close()
		for rows.Next() {
			var region string
			var n int
			if scanErr := rows.Scan(&region, &n); scanErr != nil {
				return scanErr
			}
			counts[region] = n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("count listings by region: %w", err)
	}
	return counts, nil
}

// Deactivate flips a listing's availability without deleting history.
// Returns true if a row was deactivated.
func (r *ListingRepo) Deactivate(ctx context.Context, externalID string) (bool, error) {
	if strings.TrimSpace(externalID) == "" {
		return false, errors.New("external id is required")
	}

	res, err := r.DB.ExecContext(ctx,
		`UPDATE listings SET is_active = FALSE, updated_at = now()
		 WHERE external_id = $1 AND is_active`, externalID)
	if err != nil {
		return false, fmt.Errorf("deactivate listing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivate listing rows affected: %w", err)
	}
	return n > 0, nil
}

// DeactivateStale flips listings not seen since the cutoff. Returns the
// number of listings deactivated.
func (r *ListingRepo) DeactivateStale(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE listings SET is_active = FALSE, updated_at = now()
		 WHERE is_active AND last_synced_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("deactivate stale listings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate stale listings rows affected: %w", err)
	}
	return int(n), nil
}
