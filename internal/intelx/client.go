package intelx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	freeMaxResults    = 15
	premiumMaxResults = 1000
	previewLines      = 8
	fetchLimit        = 100
	requestTimeout    = 15 * time.Second
)

// Rotator supplies the egress transport for upstream calls and reacts to
// upstream rate limiting.
type Rotator interface {
	Transport() *http.Transport
	ForceRotate()
}

// Client performs the two-phase search protocol against the intelligence
// API and retrieves best-effort record previews. It holds no per-search
// state; concurrent searches only share the rotator.
type Client struct {
	config  *Config
	rotator Rotator
	limiter *rate.Limiter
	logger  *logrus.Logger
}

// NewClient initializes a new intelligence API client.
func NewClient(config *Config, rotator Rotator, logger *logrus.Logger) *Client {
	return &Client{
		config:  config,
		rotator: rotator,
		limiter: rate.NewLimiter(config.Rate, config.Burst),
		logger:  logger,
	}
}

// newHTTPClient builds a resty client bound to one proxy transport. One
// search reuses a single client so both phases leave through the same
// egress point.
func (c *Client) newHTTPClient() *resty.Client {
	return resty.New().
		SetBaseURL(c.config.BaseURL).
		SetTimeout(requestTimeout).
		SetTransport(c.rotator.Transport()).
		SetHeader("x-key", c.config.APIKey)
}

// Search submits a search and fetches its results.
//
// A 429 or 403 from upstream forces a proxy rotation and fails the whole
// attempt; there is no automatic retry within the same call, the caller
// may re-issue.
func (c *Client) Search(ctx context.Context, req SearchRequest, premium bool) (*SearchOutcome, error) {
	if c.config.DemoMode {
		return demoOutcome(req), nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &UpstreamError{Body: err.Error()}
	}

	httpClient := c.newHTTPClient()

	maxResults := freeMaxResults
	if premium {
		maxResults = premiumMaxResults
	}

	body := map[string]interface{}{
		"term":       req.Term,
		"maxresults": maxResults,
		"sort":       2,
		"media":      0,
		"terminate":  []string{},
	}
	if buckets := bucketsForType(req.Type); len(buckets) > 0 {
		body["buckets"] = buckets
	}

	var submit submitResponse
	resp, err := httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&submit).
		Post("/intelligent/search")
	if err != nil {
		return nil, &UpstreamError{Body: err.Error()}
	}
	if upErr := c.checkResponse(resp); upErr != nil {
		return nil, upErr
	}
	if submit.ID == "" {
		// Protocol violation: a 2xx submission must carry a search id.
		return nil, &UpstreamError{Status: resp.StatusCode(), Body: "response missing search id"}
	}

	var envelope resultEnvelope
	resp, err = httpClient.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"id":           submit.ID,
			"limit":        strconv.Itoa(fetchLimit),
			"statistics":   "1",
			"previewlines": strconv.Itoa(previewLines),
		}).
		SetResult(&envelope).
		Get("/intelligent/search/result")
	if err != nil {
		return nil, &UpstreamError{Body: err.Error()}
	}
	if upErr := c.checkResponse(resp); upErr != nil {
		return nil, upErr
	}

	results := make([]NormalizedResult, 0, len(envelope.Records))
	for _, rec := range envelope.Records {
		results = append(results, Normalize(rec, req))
	}

	total := envelope.Statistics.Total
	if total == 0 {
		total = len(results)
	}

	buckets := envelope.Statistics.Buckets
	if buckets == nil {
		buckets = make(map[string]int)
		for _, res := range results {
			buckets[res.Bucket]++
		}
	}

	c.logger.WithFields(logrus.Fields{
		"term":    req.Term,
		"type":    req.Type,
		"results": len(results),
		"total":   total,
	}).Info("Search completed")

	return &SearchOutcome{Results: results, Total: total, Buckets: buckets}, nil
}

// checkResponse maps a non-2xx response to an UpstreamError, rotating the
// proxy first on rate-limit and forbidden statuses.
func (c *Client) checkResponse(resp *resty.Response) *UpstreamError {
	if !resp.IsError() {
		return nil
	}
	status := resp.StatusCode()
	if status == http.StatusTooManyRequests || status == http.StatusForbidden {
		c.logger.WithField("status", status).Warn("Upstream throttled request, rotating proxy")
		c.rotator.ForceRotate()
	}
	return &UpstreamError{Status: status, Body: resp.String()}
}

// bucketsForType returns the upstream buckets worth querying for a term
// type. Empty means upstream picks its defaults.
func bucketsForType(termType string) []string {
	switch termType {
	case TypeEmail:
		return []string{"pastes", "leaks", "darknet"}
	case TypeDomain:
		return []string{"pastes", "leaks", "public", "darknet"}
	default:
		return nil
	}
}

