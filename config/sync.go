package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joblens/listing-sync/internal/domain/model"
)

// SyncConfig contains sync orchestration configuration.
type SyncConfig struct {
	// Enabled turns the sync subsystem on or off entirely.
	Enabled bool `env:"SYNC_ENABLED" envDefault:"true"`

	// ScheduleHour is the hour of day (0-23) the daily sync fires.
	ScheduleHour int `env:"SYNC_SCHEDULE_HOUR" envDefault:"6"`

	// ScheduleMinute is the minute (0-59) within the hour.
	ScheduleMinute int `env:"SYNC_SCHEDULE_MINUTE" envDefault:"0"`

	// Timezone is the IANA timezone the schedule is anchored to.
	Timezone string `env:"SYNC_TIMEZONE" envDefault:"UTC"`

	// MaxConcurrentRegions caps how many regions are fetched in parallel.
	MaxConcurrentRegions int `env:"SYNC_MAX_CONCURRENT_REGIONS" envDefault:"2"`

	// RetryAttempts is the total number of fetch attempts per region.
	RetryAttempts int `env:"SYNC_RETRY_ATTEMPTS" envDefault:"3"`

	// RetryDelay is the fixed pause between fetch attempts.
	RetryDelay time.Duration `env:"SYNC_RETRY_DELAY" envDefault:"5s"`

	// LockTTL is how long the cross-process run lock lives before expiring
	// on its own. It must comfortably exceed the longest expected run.
	LockTTL time.Duration `env:"SYNC_LOCK_TTL" envDefault:"30m"`

	// UpsertBatchSize is the number of rows per upsert statement.
	UpsertBatchSize int `env:"SYNC_UPSERT_BATCH_SIZE" envDefault:"100"`

	// StaleAfter is how long a listing may go unseen before a successful run
	// deactivates it. Zero disables the sweep.
	StaleAfter time.Duration `env:"SYNC_STALE_AFTER" envDefault:"720h"`

	// Regions is a JSON array of region configurations, e.g.
	// [{"id":"us-east","locator":"us-east-1","max_results":100,"query":"golang"}]
	Regions string `env:"SYNC_REGIONS" envDefault:"[]"`
}

// Sanitize applies guardrails to sync configuration values.
func (s *SyncConfig) Sanitize() {
	if s.ScheduleHour < 0 || s.ScheduleHour > 23 {
		s.ScheduleHour = 6
	}
	if s.ScheduleMinute < 0 || s.ScheduleMinute > 59 {
		s.ScheduleMinute = 0
	}
	if strings.TrimSpace(s.Timezone) == "" {
		s.Timezone = "UTC"
	}
	if s.MaxConcurrentRegions < 1 {
		s.MaxConcurrentRegions = 1
	}
	if s.RetryAttempts < 1 {
		s.RetryAttempts = 1
	}
	if s.RetryDelay < 0 {
		s.RetryDelay = 0
	}
	if s.LockTTL < time.Minute {
		s.LockTTL = time.Minute
	}
	if s.UpsertBatchSize < 1 {
		s.UpsertBatchSize = 1
	}
	if s.StaleAfter < 0 {
		s.StaleAfter = 0
	}
}

// ParseRegions decodes and validates the configured region list.
func (s *SyncConfig) ParseRegions() ([]model.RegionConfig, error) {
	var regions []model.RegionConfig
	if err := json.Unmarshal([]byte(s.Regions), &regions); err != nil {
		return nil, fmt.Errorf("parse SYNC_REGIONS: %w", err)
	}
	if err := model.ValidateRegions(regions); err != nil {
		return nil, fmt.Errorf("validate SYNC_REGIONS: %w", err)
	}
	return regions, nil
}

// ProviderConfig contains the external listing provider client configuration.
type ProviderConfig struct {
	// BaseURL is the provider API root.
	BaseURL string `env:"PROVIDER_BASE_URL"`

	// APIKey authenticates provider requests.
	APIKey string `env:"PROVIDER_API_KEY"`

	// Timeout bounds each provider HTTP request.
	Timeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"30s"`

	// UserAgent identifies this service to the provider.
	UserAgent string `env:"PROVIDER_USER_AGENT" envDefault:"listing-sync"`
}

// Sanitize applies guardrails to provider configuration values.
func (p *ProviderConfig) Sanitize() {
	p.BaseURL = strings.TrimSpace(p.BaseURL)
	if p.Timeout <= 0 {
		p.Timeout = 30 * time.Second
	}
	if strings.TrimSpace(p.UserAgent) == "" {
		p.UserAgent = "listing-sync"
	}
}
