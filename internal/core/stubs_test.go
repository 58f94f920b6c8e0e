package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joblens/listing-sync/internal/data"
	"github.com/joblens/listing-sync/internal/domain/model"
)

// stubProvider serves canned listings per region and tracks call counts and
// peak concurrency.
type stubProvider struct {
	mu          sync.Mutex
	calls       map[string]int
	inFlight    int
	maxInFlight int

	// fetch decides the outcome for one call; call is 1-based per region.
	fetch func(region model.RegionConfig, call int) ([]model.ProviderListing, error)
	// delay simulates provider latency, applied while in flight.
	delay time.Duration
}

func (p *stubProvider) FetchRegion(
	ctx context.Context,
	region model.RegionConfig,
) ([]model.ProviderListing, error) {
	p.mu.Lock()
	if p.calls == nil {
		p.calls = make(map[string]int)
	}
	p.calls[region.ID]++
	call := p.calls[region.ID]
	p.inFlight++
	if p.inFlight > p.maxInFlight {
		p.maxInFlight = p.inFlight
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.fetch(region, call)
}

func (p *stubProvider) callCount(region string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[region]
}

func (p *stubProvider) peakConcurrency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxInFlight
}

// providerListings builds n minimal valid listings for a region.
func providerListings(region string, n int) []model.ProviderListing {
	out := make([]model.ProviderListing, 0, n)
	for i := range n {
		out = append(out, model.ProviderListing{
			ExternalID: fmt.Sprintf("%s-ext-%d", region, i),
			Region:     region,
			Title:      fmt.Sprintf("Engineer %d", i),
		})
	}
	return out
}

// stubListingStore returns configurable outcomes keyed by region.
type stubListingStore struct {
	mu       sync.Mutex
	outcomes map[string]model.UpsertOutcome
	err      error

	batches     [][]model.ProviderListing
	batchSizes  []int
	staleCalls  int
	staleCutoff time.Time
	staleCount  int
}

func (s *stubListingStore) UpsertBatch(
	_ context.Context,
	records []model.ProviderListing,
	batchSize int,
) (model.UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, records)
	s.batchSizes = append(s.batchSizes, batchSize)
	if s.err != nil {
		return model.UpsertOutcome{}, s.err
	}
	if len(records) == 0 {
		return model.UpsertOutcome{}, nil
	}
	if outcome, ok := s.outcomes[records[0].Region]; ok {
		return outcome, nil
	}
	return model.UpsertOutcome{Created: len(records)}, nil
}

func (s *stubListingStore) DeactivateStale(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staleCalls++
	s.staleCutoff = cutoff
	return s.staleCount, nil
}

// stubRunStore keeps recorded runs in memory, newest last.
type stubRunStore struct {
	mu        sync.Mutex
	runs      []*model.SyncRun
	createErr error
}

func (s *stubRunStore) Create(_ context.Context, p model.RunRecord) (*model.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	regionJSON, _ := json.Marshal(p.Batch.RegionResults)
	snapshotJSON, _ := json.Marshal(p.ConfigSnapshot)
	run := &model.SyncRun{
		ID:             uuid.NewString(),
		RunType:        p.RunType,
		TriggeredBy:    p.TriggeredBy,
		Status:         p.Batch.Status,
		TotalFound:     p.Batch.TotalFound,
		TotalCreated:   p.Batch.TotalCreated,
		TotalUpdated:   p.Batch.TotalUpdated,
		TotalErrors:    p.Batch.TotalErrors,
		RegionResults:  regionJSON,
		ConfigSnapshot: snapshotJSON,
		Notes:          p.Notes,
		StartedAt:      p.Batch.StartedAt,
		EndedAt:        p.Batch.EndedAt,
		CreatedAt:      time.Now().UTC(),
	}
	s.runs = append(s.runs, run)
	return run, nil
}

func (s *stubRunStore) Latest(_ context.Context) (*model.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runs) == 0 {
		return nil, data.ErrNoRuns
	}
	return s.runs[len(s.runs)-1], nil
}

func (s *stubRunStore) LatestSuccessful(_ context.Context) (*model.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.runs) - 1; i >= 0; i-- {
		if s.runs[i].Status == model.RunStatusSuccess {
			return s.runs[i], nil
		}
	}
	return nil, data.ErrNoRuns
}

func (s *stubRunStore) ListRecent(_ context.Context, limit, _ int) ([]*model.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.SyncRun, 0, limit)
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.runs[i])
	}
	return out, nil
}

func (s *stubRunStore) StatsSince(_ context.Context, _ time.Duration) (*model.SyncRunStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &model.SyncRunStats{Runs: len(s.runs)}
	for _, r := range s.runs {
		switch r.Status {
		case model.RunStatusSuccess:
			stats.Succeeded++
		case model.RunStatusPartial:
			stats.Partial++
		case model.RunStatusError:
			stats.Failed++
		case model.RunStatusSkipped:
			stats.Skipped++
		}
		stats.TotalFound += r.TotalFound
		stats.TotalCreated += r.TotalCreated
		stats.TotalUpdated += r.TotalUpdated
		stats.TotalErrors += r.TotalErrors
	}
	return stats, nil
}

func (s *stubRunStore) recorded() []*model.SyncRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.SyncRun(nil), s.runs...)
}

// stubLock implements set-if-absent semantics in memory.
type stubLock struct {
	mu         sync.Mutex
	holder     string
	acquireErr error
	releases   int
}

func (l *stubLock) Acquire(_ context.Context, attemptID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.acquireErr != nil {
		return false, l.acquireErr
	}
	if l.holder != "" {
		return false, nil
	}
	l.holder = attemptID
	return true, nil
}

func (l *stubLock) Release(_ context.Context, attemptID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder == attemptID {
		l.holder = ""
		l.releases++
	}
	return nil
}

func (l *stubLock) held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder != ""
}
