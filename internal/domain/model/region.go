// Package model defines the core data types and structures used throughout the listing sync system.
package model

import (
	"errors"
	"fmt"
	"strings"
)

const (
	maxRegionIDLen = 64
	// maxRegionResults caps how many listings a single region fetch may request.
	maxRegionResults     = 500
	defaultRegionResults = 50
)

// RegionConfig describes one provider fetch target. It is built once from
// configuration at startup and never mutated afterwards.
type RegionConfig struct {
	// ID is the region identifier used in results, logs, and metrics tags.
	ID string `json:"id"`
	// Locator is the provider-specific geographic identifier (e.g. a location code).
	Locator string `json:"locator"`
	// MaxResults caps the number of listings requested from the provider.
	MaxResults int `json:"max_results"`
	// Query is the provider-specific search descriptor (keywords, filters).
	Query string `json:"query"`
}

// Validate checks the region configuration fields.
func (r *RegionConfig) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("region id is required")
	}
	if len(r.ID) > maxRegionIDLen {
		return fmt.Errorf("region id exceeds %d characters", maxRegionIDLen)
	}
	if strings.TrimSpace(r.Locator) == "" {
		return fmt.Errorf("region %s: locator is required", r.ID)
	}
	if r.MaxResults < 0 || r.MaxResults > maxRegionResults {
		return fmt.Errorf("region %s: max_results must be between 0 and %d", r.ID, maxRegionResults)
	}
	return nil
}

// Normalize trims whitespace and applies defaults to optional fields.
func (r *RegionConfig) Normalize() {
	r.ID = strings.TrimSpace(r.ID)
	r.Locator = strings.TrimSpace(r.Locator)
	r.Query = strings.TrimSpace(r.Query)
	if r.MaxResults == 0 {
		r.MaxResults = defaultRegionResults
	}
}

// ValidateRegions normalizes and validates a region list, rejecting duplicate IDs.
func ValidateRegions(regions []RegionConfig) error {
	seen := make(map[string]bool, len(regions))
	for i := range regions {
		regions[i].Normalize()
		if err := regions[i].Validate(); err != nil {
			return err
		}
		if seen[regions[i].ID] {
			return fmt.Errorf("duplicate region id: %s", regions[i].ID)
		}
		seen[regions[i].ID] = true
	}
	return nil
}
