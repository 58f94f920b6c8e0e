package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

const maxExternalIDLen = 255

// ProviderListing is one job listing as returned by the external provider for
// a region. It only lives for the duration of a sync run; the persisted form
// is Listing.
type ProviderListing struct {
	// ExternalID is the provider-assigned identifier, unique across the whole
	// store, used as the upsert key.
	ExternalID  string          `json:"external_id"`
	Region      string          `json:"region"`
	Title       string          `json:"title"`
	Company     string          `json:"company"`
	Location    string          `json:"location"`
	Description string          `json:"description"`
	URL         string          `json:"url"`
	SalaryMin   *float64        `json:"salary_min,omitempty"`
	SalaryMax   *float64        `json:"salary_max,omitempty"`
	PostedAt    *time.Time      `json:"posted_at,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// Validate checks the fields required to upsert the listing.
func (l *ProviderListing) Validate() error {
	if strings.TrimSpace(l.ExternalID) == "" {
		return errors.New("external_id is required")
	}
	if len(l.ExternalID) > maxExternalIDLen {
		return errors.New("external_id too long")
	}
	if strings.TrimSpace(l.Title) == "" {
		return errors.New("title is required")
	}
	return nil
}

// Listing is the persisted job listing, keyed by the provider's external ID.
// Rows are never deleted by the sync subsystem; deactivation flips IsActive.
type Listing struct {
	ID           string          `json:"id"                   db:"id"`
	ExternalID   string          `json:"external_id"          db:"external_id"`
	Region       string          `json:"region"               db:"region"`
	Title        string          `json:"title"                db:"title"`
	Company      string          `json:"company"              db:"company"`
	Location     string          `json:"location"             db:"location"`
	Description  string          `json:"description"          db:"description"`
	URL          string          `json:"url"                  db:"url"`
	SalaryMin    *float64        `json:"salary_min,omitempty" db:"salary_min"`
	SalaryMax    *float64        `json:"salary_max,omitempty" db:"salary_max"`
	PostedAt     *time.Time      `json:"posted_at,omitempty"  db:"posted_at"`
	Raw          json.RawMessage `json:"raw,omitempty"        db:"raw"`
	IsActive     bool            `json:"is_active"            db:"is_active"`
	LastSyncedAt time.Time       `json:"last_synced_at"       db:"last_synced_at"`
	CreatedAt    time.Time       `json:"created_at"           db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"           db:"updated_at"`
}

// UpsertOutcome summarizes one batch upsert pass over a set of provider listings.
type UpsertOutcome struct {
	Created int           `json:"created"`
	Updated int           `json:"updated"`
	Errors  []RecordError `json:"errors,omitempty"`
}

// RecordError captures a per-record failure that did not abort its batch.
type RecordError struct {
	ExternalID string `json:"external_id"`
	Message    string `json:"message"`
}
