package model

import (
	"encoding/json"
	"time"
)

// RegionRunStatus is the outcome of processing one region within one run.
type RegionRunStatus string

const (
	// RegionRunSuccess indicates the region fetch and merge completed.
	RegionRunSuccess RegionRunStatus = "success"
	// RegionRunTimeout indicates the provider reported or hit a timeout.
	RegionRunTimeout RegionRunStatus = "timeout"
	// RegionRunError indicates the region failed for any other reason.
	RegionRunError RegionRunStatus = "error"
)

// Valid returns true if the RegionRunStatus is valid.
func (s RegionRunStatus) Valid() bool {
	return s == RegionRunSuccess || s == RegionRunTimeout || s == RegionRunError
}

// RunStatus is the aggregate outcome of one sync run across all regions.
type RunStatus string

const (
	// RunStatusSuccess indicates every region succeeded.
	RunStatusSuccess RunStatus = "success"
	// RunStatusPartial indicates some regions succeeded and some failed.
	RunStatusPartial RunStatus = "partial"
	// RunStatusError indicates no region succeeded.
	RunStatusError RunStatus = "error"
	// RunStatusSkipped indicates the run lock was held by another process.
	RunStatusSkipped RunStatus = "skipped"
)

// Valid returns true if the RunStatus is valid.
func (s RunStatus) Valid() bool {
	return s == RunStatusSuccess || s == RunStatusPartial || s == RunStatusError ||
		s == RunStatusSkipped
}

// RunType distinguishes scheduled fires from manual triggers.
type RunType string

const (
	// RunTypeScheduled marks a run fired by the cron schedule.
	RunTypeScheduled RunType = "scheduled"
	// RunTypeManual marks a run fired by an explicit trigger.
	RunTypeManual RunType = "manual"
)

// Valid returns true if the RunType is valid.
func (t RunType) Valid() bool {
	return t == RunTypeScheduled || t == RunTypeManual
}

// RegionRunResult is the outcome of processing one region within one run.
// The fan-out executor produces exactly one of these per configured region,
// regardless of how the region fared.
type RegionRunResult struct {
	Region       string          `json:"region"`
	Status       RegionRunStatus `json:"status"`
	Found        int             `json:"found"`
	Created      int             `json:"created"`
	Updated      int             `json:"updated"`
	Errors       int             `json:"errors"`
	ErrorDetails []RecordError   `json:"error_details,omitempty"`
	Attempts     int             `json:"attempts,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	EndedAt      time.Time       `json:"ended_at"`
}

// Duration returns the wall-clock time spent on the region.
func (r *RegionRunResult) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// BatchResult aggregates all RegionRunResults for one run. It is computed
// once, after every region task has completed, and is immutable afterwards.
type BatchResult struct {
	Status        RunStatus         `json:"status"`
	TotalFound    int               `json:"total_found"`
	TotalCreated  int               `json:"total_created"`
	TotalUpdated  int               `json:"total_updated"`
	TotalErrors   int               `json:"total_errors"`
	RegionResults []RegionRunResult `json:"region_results"`
	StartedAt     time.Time         `json:"started_at"`
	EndedAt       time.Time         `json:"ended_at"`
}

// Duration returns the wall-clock time spent on the whole run.
func (b *BatchResult) Duration() time.Duration {
	return b.EndedAt.Sub(b.StartedAt)
}

// AggregateRegions reduces per-region results into a BatchResult. The
// reduction is order-independent. No regions configured counts as success
// with zero counters.
func AggregateRegions(results []RegionRunResult, startedAt, endedAt time.Time) BatchResult {
	batch := BatchResult{
		Status:        RunStatusSuccess,
		RegionResults: results,
		StartedAt:     startedAt,
		EndedAt:       endedAt,
	}

	succeeded := 0
	for i := range results {
		r := &results[i]
		batch.TotalFound += r.Found
		batch.TotalCreated += r.Created
		batch.TotalUpdated += r.Updated
		batch.TotalErrors += r.Errors
		if r.Status == RegionRunSuccess {
			succeeded++
		}
	}

	switch {
	case len(results) == 0 || succeeded == len(results):
		batch.Status = RunStatusSuccess
	case succeeded == 0:
		batch.Status = RunStatusError
	default:
		batch.Status = RunStatusPartial
	}
	return batch
}

// SkippedBatchResult builds the zero-counter result returned when the run
// lock is held by another process. Not a failure.
func SkippedBatchResult(now time.Time) BatchResult {
	return BatchResult{
		Status:        RunStatusSkipped,
		RegionResults: []RegionRunResult{},
		StartedAt:     now,
		EndedAt:       now,
	}
}

// SyncRun is the durable, append-only audit record of one run attempt that
// acquired the lock (or was skipped). It is never updated or deleted.
type SyncRun struct {
	ID             string          `json:"id"              db:"id"`
	RunType        RunType         `json:"run_type"        db:"run_type"`
	TriggeredBy    string          `json:"triggered_by"    db:"triggered_by"`
	Status         RunStatus       `json:"status"          db:"status"`
	TotalFound     int             `json:"total_found"     db:"total_found"`
	TotalCreated   int             `json:"total_created"   db:"total_created"`
	TotalUpdated   int             `json:"total_updated"   db:"total_updated"`
	TotalErrors    int             `json:"total_errors"    db:"total_errors"`
	RegionResults  json.RawMessage `json:"region_results"  db:"region_results"`
	ConfigSnapshot json.RawMessage `json:"config_snapshot" db:"config_snapshot"`
	Notes          *string         `json:"notes,omitempty" db:"notes"`
	StartedAt      time.Time       `json:"started_at"      db:"started_at"`
	EndedAt        time.Time       `json:"ended_at"        db:"ended_at"`
	CreatedAt      time.Time       `json:"created_at"      db:"created_at"`
}

// Duration returns the recorded wall-clock run time.
func (r *SyncRun) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// RunRecord groups the inputs for recording one run in the audit trail.
type RunRecord struct {
	RunType        RunType
	TriggeredBy    string
	Batch          BatchResult
	ConfigSnapshot []RegionConfig
	Notes          *string
}

// SyncRunStats summarizes run history over a window, for status reporting.
type SyncRunStats struct {
	Runs         int `json:"runs"          db:"runs"`
	Succeeded    int `json:"succeeded"     db:"succeeded"`
	Partial      int `json:"partial"       db:"partial"`
	Failed       int `json:"failed"        db:"failed"`
	Skipped      int `json:"skipped"       db:"skipped"`
	TotalFound   int `json:"total_found"   db:"total_found"`
	TotalCreated int `json:"total_created" db:"total_created"`
	TotalUpdated int `json:"total_updated" db:"total_updated"`
	TotalErrors  int `json:"total_errors"  db:"total_errors"`
}
