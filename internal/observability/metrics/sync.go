// Package metrics provides standardised metric emission helpers for sync runs.
package metrics

import (
	"time"

	obserrors "github.com/joblens/listing-sync/internal/observability/errors"
	"github.com/joblens/listing-sync/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultPartial = "partial"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// RunMetric captures details about one completed sync run for metric emission.
type RunMetric struct {
	RunType  string
	Result   string
	Found    int
	Created  int
	Updated  int
	Errors   int
	Duration time.Duration
	Err      error
}

// EmitRun emits the standard per-run metric set.
func EmitRun(sink statsd.Sink, in RunMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"run_type": in.RunType,
		"result":   in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("sync.run", 1, tags)
	sink.Count("sync.listings_found", int64(in.Found), tags)
	sink.Count("sync.listings_created", int64(in.Created), tags)
	sink.Count("sync.listings_updated", int64(in.Updated), tags)
	if in.Errors > 0 {
		sink.Count("sync.errors", int64(in.Errors), tags)
	}
	if in.Duration > 0 {
		sink.Timing("sync.run_duration", in.Duration, CloneTags(tags))
	}
	if in.Result == ResultSuccess {
		sink.Gauge("sync.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

// RegionMetric captures details about one region's outcome within a run.
type RegionMetric struct {
	Region   string
	Status   string
	Attempts int
	Duration time.Duration
}

// EmitRegion emits the standard per-region metric set.
func EmitRegion(sink statsd.Sink, in RegionMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"region": in.Region,
		"status": in.Status,
	}

	sink.Count("sync.region", 1, tags)
	if in.Attempts > 1 {
		sink.Count("sync.region_retries", int64(in.Attempts-1), CloneTags(tags))
	}
	if in.Duration > 0 {
		sink.Timing("sync.region_duration", in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty maps.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
