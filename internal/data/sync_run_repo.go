package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/joblens/listing-sync/internal/errors"
	"github.com/joblens/listing-sync/internal/data/pgxutil"
	"github.com/joblens/listing-sync/internal/domain/model"
)

// ErrNoRuns is returned by the read path when no run has been recorded yet.
var ErrNoRuns = errors.New("no sync runs recorded")

const syncRunColumns = `id, run_type, triggered_by, status, total_found, total_created,
	total_updated, total_errors, region_results, config_snapshot, notes,
	started_at, ended_at, created_at`

// SyncRunRepo persists the append-only audit trail of sync runs. Rows are
// written exactly once and never updated or deleted.
type SyncRunRepo struct {
	DB *sql.DB
}

// NewSyncRunRepo creates a new SyncRunRepo.
func NewSyncRunRepo(db *sql.DB) *SyncRunRepo {
	return &SyncRunRepo{DB: db}
}

// Create writes one audit record for a completed (or skipped) run and
// returns the stored row.
func (r *SyncRunRepo) Create(ctx context.Context, p model.RunRecord) (*model.SyncRun, error) {
	if !p.RunType.Valid() {
		return nil, apperrors.Validation("invalid run type")
	}
	if !p.Batch.Status.Valid() {
		return nil, apperrors.Validation("invalid run status")
	}

	regionJSON, err := json.Marshal(p.Batch.RegionResults)
	if err != nil {
		return nil, fmt.Errorf("marshal region results: %w", err)
	}
	snapshotJSON, err := json.Marshal(p.ConfigSnapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal config snapshot: %w", err)
	}

	var out model.SyncRun
	err = pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qErr := conn.Query(ctx, `
			INSERT INTO sync_runs (
				run_type, triggered_by, status, total_found, total_created,
				total_updated, total_errors, region_results, config_snapshot,
				notes, started_at, ended_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING `+syncRunColumns,
			p.RunType,
			p.TriggeredBy,
			p.Batch.Status,
			p.Batch.TotalFound,
			p.Batch.TotalCreated,
			p.Batch.TotalUpdated,
			p.Batch.TotalErrors,
			regionJSON,
			snapshotJSON,
			p.Notes,
			p.Batch.StartedAt.UTC(),
			p.Batch.EndedAt.UTC(),
		)
		if qErr != nil {
			return qErr
		}
		defer rows.Close()
		var cErr error
		out, cErr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.SyncRun])
		return cErr
	})
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("create sync run: %w", err))
	}
	return &out, nil
}

// Latest returns the most recently recorded run, ErrNoRuns when the audit
// trail is empty.
func (r *SyncRunRepo) Latest(ctx context.Context) (*model.SyncRun, error) {
	return r.latestWhere(ctx, "")
}

// LatestSuccessful returns the most recent run whose status is success, or
// ErrNoRuns.
func (r *SyncRunRepo) LatestSuccessful(ctx context.Context) (*model.SyncRun, error) {
	return r.latestWhere(ctx, "WHERE status = 'success'")
}

func (r *SyncRunRepo) latestWhere(ctx context.Context, where string) (*model.SyncRun, error) {
	var out model.SyncRun
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qErr := conn.Query(ctx,
			`SELECT `+syncRunColumns+` FROM sync_runs `+where+` ORDER BY created_at DESC LIMIT 1`)
		if qErr != nil {
			return qErr
		}
		defer rows.Close()
		var cErr error
		out, cErr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.SyncRun])
		return cErr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRuns
		}
		return nil, fmt.Errorf("load latest sync run: %w", err)
	}
	return &out, nil
}

// ListRecent returns runs ordered newest first with pagination.
func (r *SyncRunRepo) ListRecent(ctx context.Context, limit, offset int) ([]*model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	offset = max(offset, 0)

	var rowsOut []model.SyncRun
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qErr := conn.Query(ctx,
			`SELECT `+syncRunColumns+` FROM sync_runs ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`,
			limit, offset)
		if qErr != nil {
			return qErr
		}
		defer rows.Close()
		var cErr error
		rowsOut, cErr = pgx.CollectRows(rows, pgx.RowToStructByName[model.SyncRun])
		return cErr
	})
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}

	res := make([]*model.SyncRun, len(rowsOut))
	for i := range rowsOut {
		res[i] = &rowsOut[i]
	}
	return res, nil
}

// StatsSince aggregates run history over the window ending now.
func (r *SyncRunRepo) StatsSince(ctx context.Context, window time.Duration) (*model.SyncRunStats, error) {
	if window <= 0 {
		return nil, apperrors.Validation("stats window must be positive")
	}

	var out model.SyncRunStats
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qErr := conn.Query(ctx, `
			SELECT
				COUNT(*)::int AS runs,
				COUNT(*) FILTER (WHERE status = 'success')::int AS succeeded,
				COUNT(*) FILTER (WHERE status = 'partial')::int AS partial,
				COUNT(*) FILTER (WHERE status = 'error')::int AS failed,
				COUNT(*) FILTER (WHERE status = 'skipped')::int AS skipped,
				COALESCE(SUM(total_found), 0)::int AS total_found,
				COALESCE(SUM(total_created), 0)::int AS total_created,
				COALESCE(SUM(total_updated), 0)::int AS total_updated,
				COALESCE(SUM(total_errors), 0)::int AS total_errors
			FROM sync_runs
			WHERE created_at >= now() - make_interval(secs => $1)`,
			window.Seconds())
		if qErr != nil {
			return qErr
		}
		defer rows.Close()
		var cErr error
		out, cErr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.SyncRunStats])
		return cErr
	})
	if err != nil {
		return nil, fmt.Errorf("sync run stats: %w", err)
	}
	return &out, nil
}
