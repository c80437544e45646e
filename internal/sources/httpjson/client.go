package httpjson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"asinresolve/internal/lookup"
	"asinresolve/internal/resolver"
)

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("lookup endpoint returned %d", e.Code)
	}
	return fmt.Sprintf("lookup endpoint returned %d: %s", e.Code, e.Body)
}

// StatusCode exposes the HTTP status to the limiter.
func (e *StatusError) StatusCode() int { return e.Code }

// response is the accepted payload. Either identifier or asin may be set.
type response struct {
	Identifier string  `json:"identifier"`
	ASIN       string  `json:"asin"`
	Confidence float64 `json:"confidence"`
	MatchedBy  string  `json:"matched_by"`
}

// Client queries a JSON lookup endpoint with GET ?title=&author=&isbn=&language=.
type Client struct {
	name       string
	domain     string
	endpoint   *url.URL
	httpClient *http.Client
	userAgent  string
}

var _ resolver.Source = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = strings.TrimSpace(ua)
	}
}

// New creates a client for endpoint. domain defaults to the endpoint host.
func New(name, domain, endpoint string, opts ...Option) (*Client, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("source name required")
	}
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid lookup endpoint %q", endpoint)
	}
	if domain == "" {
		domain = strings.ToLower(parsed.Hostname())
	}
	c := &Client{
		name:       name,
		domain:     domain,
		endpoint:   parsed,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		userAgent:  "asinresolve",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name implements resolver.Source.
func (c *Client) Name() string { return c.name }

// Domain implements resolver.Source.
func (c *Client) Domain() string { return c.domain }

// Attempt performs one lookup. 404 and an empty identifier are no match.
func (c *Client) Attempt(ctx context.Context, req lookup.Request) (*lookup.Candidate, error) {
	endpoint := *c.endpoint
	params := endpoint.Query()
	setIf(params, "title", req.Title)
	setIf(params, "author", req.Author)
	setIf(params, "isbn", lookup.NormalizeISBN(req.ISBN))
	if req.Language != "" && req.Language != lookup.DefaultLanguage {
		params.Set("language", req.Language)
	}
	endpoint.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("execute request (latency=%v): %w", latency, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	var payload response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode %s response: %v", resolver.ErrParse, c.name, err)
	}
	id := payload.Identifier
	if id == "" {
		id = payload.ASIN
	}
	if strings.TrimSpace(id) == "" {
		return nil, nil
	}
	return &lookup.Candidate{
		Identifier: lookup.CanonicalIdentifier(id),
		Confidence: payload.Confidence,
		MatchedBy:  lookup.MatchedBy(payload.MatchedBy),
	}, nil
}

func setIf(params url.Values, key, value string) {
	if value = strings.TrimSpace(value); value != "" {
		params.Set(key, value)
	}
}
