// Package provider implements the HTTP client for the external job listing provider.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joblens/listing-sync/internal/domain/model"
	apperrors "github.com/joblens/listing-sync/internal/errors"
)

// maxErrorBodyBytes caps how much of an error response body is read for
// diagnostics.
const maxErrorBodyBytes = 2048

// Config holds the provider client configuration.
type Config struct {
	// BaseURL is the provider API root, without a trailing slash.
	BaseURL string
	// APIKey authenticates requests; sent as a bearer token.
	APIKey string
	// Timeout bounds each HTTP request end to end.
	Timeout time.Duration
	// UserAgent identifies this service to the provider.
	UserAgent string
}

// Client fetches job listings from the provider's regional listing API.
// Failures are translated into the app error taxonomy: timeouts and 5xx/429
// responses become retryable errors, other HTTP failures are permanent.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// ClientOptions holds the dependencies for creating a Client.
type ClientOptions struct {
	Config Config
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient creates a new provider Client.
func NewClient(opts ClientOptions) (*Client, error) {
	if strings.TrimSpace(opts.Config.BaseURL) == "" {
		return nil, errors.New("provider base URL is required")
	}
	if opts.Config.Timeout <= 0 {
		opts.Config.Timeout = 30 * time.Second
	}
	if opts.Config.UserAgent == "" {
		opts.Config.UserAgent = "listing-sync"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Config.Timeout}
	}

	return &Client{
		cfg:    opts.Config,
		http:   httpClient,
		logger: opts.Logger,
	}, nil
}

// listingsResponse is the provider's wire format for the region listings call.
type listingsResponse struct {
	Listings []wireListing `json:"listings"`
	Total    int           `json:"total"`
}

type wireListing struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Company     string          `json:"company"`
	Location    string          `json:"location"`
	Description string          `json:"description"`
	URL         string          `json:"url"`
	SalaryMin   *float64        `json:"salary_min"`
	SalaryMax   *float64        `json:"salary_max"`
	PostedAt    *time.Time      `json:"posted_at"`
	Raw         json.RawMessage `json:"raw"`
}

// FetchRegion retrieves the current listings for one region.
func (c *Client) FetchRegion(
	ctx context.Context,
	region model.RegionConfig,
) ([]model.ProviderListing, error) {
	if err := region.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid region config")
	}

	endpoint, err := c.regionURL(region)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "build provider URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.WarnContext(ctx, "failed to close provider response body",
				slog.Any("error", cerr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPStatus(resp)
	}

	var payload listingsResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&payload); decodeErr != nil {
		return nil, apperrors.Wrap(decodeErr, apperrors.ErrCodeInternal,
			"decode provider response")
	}

	listings := make([]model.ProviderListing, 0, len(payload.Listings))
	for i := range payload.Listings {
		w := &payload.Listings[i]
		listings = append(listings, model.ProviderListing{
			ExternalID:  w.ID,
			Region:      region.ID,
			Title:       w.Title,
			Company:     w.Company,
			Location:    w.Location,
			Description: w.Description,
			URL:         w.URL,
			SalaryMin:   w.SalaryMin,
			SalaryMax:   w.SalaryMax,
			PostedAt:    w.PostedAt,
			Raw:         w.Raw,
		})
	}
	return listings, nil
}

// regionURL builds the listings endpoint for a region.
func (c *Client) regionURL(region model.RegionConfig) (string, error) {
	u, err := url.Parse(strings.TrimRight(c.cfg.BaseURL, "/"))
	if err != nil {
		return "", err
	}
	u = u.JoinPath("regions", region.Locator, "listings")

	q := u.Query()
	q.Set("limit", strconv.Itoa(region.MaxResults))
	if region.Query != "" {
		q.Set("q", region.Query)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// classifyTransportError maps network-level failures to the retry taxonomy.
func classifyTransportError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return apperrors.Wrap(err, apperrors.ErrCodeCanceled, "provider request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(err, apperrors.ErrCodeTimeout, "provider request timed out")
	default:
		// http.Client timeouts surface as url.Error with Timeout()==true.
		var uerr *url.Error
		if errors.As(err, &uerr) && uerr.Timeout() {
			return apperrors.Wrap(err, apperrors.ErrCodeTimeout, "provider request timed out")
		}
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "provider unreachable")
	}
}

// classifyHTTPStatus maps non-200 responses to the retry taxonomy. The body
// is included, truncated, for diagnostics.
func classifyHTTPStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	detail := strings.TrimSpace(string(body))
	msg := fmt.Sprintf("provider returned %s", resp.Status)
	if detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, detail)
	}

	switch {
	case resp.StatusCode == http.StatusRequestTimeout:
		return apperrors.Timeout(msg)
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= http.StatusInternalServerError:
		return apperrors.Unavailable(msg)
	default:
		// Remaining 4xx, credentials included: the request itself is
		// wrong, retrying won't help.
		return apperrors.Validation(msg)
	}
}
