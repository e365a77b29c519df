package minka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"minkadl/pkg/config"
	errs "minkadl/pkg/errors"
	"minkadl/pkg/logger"
	"minkadl/pkg/ratelimit"
	"minkadl/pkg/retry"
)

// ErrTaxonNotFound is returned by ResolveTaxon when no taxon matches the
// requested name exactly.
var ErrTaxonNotFound = errors.New("taxon not found")

// Client talks to the MINKA API. One client is constructed per program
// invocation and shared between the query and download paths.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	attachmentsURL string
	userAgent      string
	perPage        int
	retryCfg       config.RetryConfig
	limiter        ratelimit.Limiter
	logger         logger.Logger
}

// NewClient creates a new MINKA API client
func NewClient(cfg *config.Config, limiter ratelimit.Limiter, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.API.RequestTimeout,
		},
		baseURL:        cfg.API.BaseURL,
		attachmentsURL: cfg.API.AttachmentsURL,
		userAgent:      cfg.API.UserAgent,
		perPage:        cfg.API.PerPage,
		retryCfg:       cfg.Retry,
		limiter:        limiter,
		logger:         log,
	}
}

// AttachmentsURL returns the base URL photo files are served from
func (c *Client) AttachmentsURL() string {
	return c.attachmentsURL
}

// doRequest performs a GET against url, honoring the shared rate limit
func (c *Client) doRequest(ctx context.Context, url string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeUnknown,
			Message: fmt.Sprintf("failed to create request: %v", err),
		}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, image/*")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		// Cancellation is not a network failure; let callers see ctx errors
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.WarnWithFields("HTTP request failed", map[string]interface{}{
			"url":      url,
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Message: fmt.Sprintf("network error: %v", err),
		}
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"url":      url,
		"status":   resp.StatusCode,
		"duration": duration,
	})

	return resp, nil
}

// checkResponseStatus maps HTTP status codes to typed errors
func (c *Client) checkResponseStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return &errs.Error{
			Type:    errs.ErrorTypeNotFound,
			Message: "resource not found",
			Code:    resp.StatusCode,
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		c.logger.WarnWithFields("rate limit exceeded", map[string]interface{}{
			"status": resp.StatusCode,
			"url":    resp.Request.URL.String(),
		})
		return &errs.Error{
			Type:    errs.ErrorTypeRateLimit,
			Message: "rate limit exceeded",
			Code:    resp.StatusCode,
		}
	case resp.StatusCode >= 500:
		return &errs.Error{
			Type:    errs.ErrorTypeServerError,
			Message: "server error",
			Code:    resp.StatusCode,
		}
	default:
		return &errs.Error{
			Type:    errs.ErrorTypeUnknown,
			Message: fmt.Sprintf("unexpected status code: %d", resp.StatusCode),
			Code:    resp.StatusCode,
		}
	}
}

// getJSON performs a GET request and decodes the JSON response
func (c *Client) getJSON(ctx context.Context, url string, target interface{}) error {
	resp, err := c.doRequest(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Message: fmt.Sprintf("failed to read response body: %v", err),
			Code:    resp.StatusCode,
		}
	}

	if err := json.Unmarshal(body, target); err != nil {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"url":          url,
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": preview,
		})
		return &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: fmt.Sprintf("failed to parse JSON: %v", err),
			Code:    resp.StatusCode,
		}
	}

	return nil
}

// retryConfig builds a retry config bound to ctx
func (c *Client) retryConfig(ctx context.Context) *retry.Config {
	return &retry.Config{
		MaxAttempts: c.retryCfg.MaxAttempts,
		Backoff:     &retry.ConstantBackoff{Delay: c.retryCfg.Delay},
		RetryIf:     retry.DefaultRetryIf,
		Context:     ctx,
		Logger:      c.logger,
	}
}

// ResolveTaxon looks up a taxon by name and returns the record whose
// name matches exactly, ignoring case. The search endpoint is fuzzy, so
// an exact match filter keeps "Octopus" from resolving to "Octopus
// vulgaris" or vice versa. Returns ErrTaxonNotFound when nothing
// matches.
func (c *Client) ResolveTaxon(ctx context.Context, name string) (*Taxon, error) {
	url := TaxaURL(c.baseURL, name)

	response, err := retry.DoWithResult(func() (*TaxaResponse, error) {
		var resp TaxaResponse
		if err := c.getJSON(ctx, url, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	}, c.retryConfig(ctx))
	if err != nil {
		return nil, fmt.Errorf("taxa lookup for %q: %w", name, err)
	}

	for _, taxon := range response.Results {
		if strings.EqualFold(taxon.Name, name) {
			c.logger.DebugWithFields("resolved taxon", map[string]interface{}{
				"taxon":    name,
				"taxon_id": taxon.ID,
				"rank":     taxon.Rank,
			})
			t := taxon
			return &t, nil
		}
	}

	return nil, fmt.Errorf("%q: %w", name, ErrTaxonNotFound)
}

// Observations pages through all observations of a taxon, invoking
// visit for each record in API order. Pagination stops at the first
// empty page. Each page request is retried a bounded number of times;
// exhausted retries abort the walk and surface the error. Calling
// Observations again re-issues the full query, nothing is cached.
func (c *Client) Observations(ctx context.Context, taxonID int, visit func(Observation) error) (int, error) {
	total := 0
	for page := 1; ; page++ {
		url := ObservationsURL(c.baseURL, taxonID, page, c.perPage)

		response, err := retry.DoWithResult(func() (*ObservationsResponse, error) {
			var resp ObservationsResponse
			if err := c.getJSON(ctx, url, &resp); err != nil {
				return nil, err
			}
			return &resp, nil
		}, c.retryConfig(ctx))
		if err != nil {
			return total, fmt.Errorf("observations page %d for taxon %d: %w", page, taxonID, err)
		}

		if len(response.Results) == 0 {
			return total, nil
		}

		c.logger.DebugWithFields("observations page fetched", map[string]interface{}{
			"taxon_id":      taxonID,
			"page":          page,
			"results":       len(response.Results),
			"total_results": response.TotalResults,
		})

		for _, obs := range response.Results {
			if err := visit(obs); err != nil {
				return total, err
			}
			total++
		}
	}
}

// FetchImage issues a GET for an image URL and returns the body stream.
// The caller owns closing the reader. No retries here; the download
// path decides whether a failed candidate is worth another attempt.
func (c *Client) FetchImage(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := c.doRequest(ctx, url)
	if err != nil {
		return nil, err
	}

	if err := c.checkResponseStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return resp.Body, nil
}
