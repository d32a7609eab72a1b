package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/goodtune/usageminder/internal/metrics"
)

const (
	usagePath  = "/api/oauth/usage"
	betaHeader = "oauth-2025-04-20"
	cacheKey   = "five_hour"

	// DefaultTimeout bounds a single HTTP attempt
	DefaultTimeout = 10 * time.Second
)

// TokenSource supplies the bearer token and forgets it after a 401.
type TokenSource interface {
	AccessToken() (string, error)
	Clear()
}

// Options configures a Client.
type Options struct {
	BaseURL        string
	Version        string
	Timeout        time.Duration
	CacheDuration  time.Duration // zero disables caching
	Retries        int           // extra attempts after the first for transient errors
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	HTTPClient     *http.Client
}

// Client fetches usage from the OAuth usage endpoint.
type Client struct {
	opts       Options
	tokens     TokenSource
	httpClient *http.Client
	cache      *expirable.LRU[string, *Response]
	logger     zerolog.Logger

	mu           sync.Mutex
	tokenExpired bool
}

// NewClient creates a usage client.
func NewClient(opts Options, tokens TokenSource, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Second
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	c := &Client{
		opts:       opts,
		tokens:     tokens,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "usage-client").Logger(),
	}
	if opts.CacheDuration > 0 {
		c.cache = expirable.NewLRU[string, *Response](1, nil, opts.CacheDuration)
	}
	return c
}

// Fetch returns the current usage, served from cache when fresh.
func (c *Client) Fetch(ctx context.Context) (*Response, error) {
	if c.cache != nil {
		if resp, ok := c.cache.Get(cacheKey); ok {
			metrics.FetchesTotal.WithLabelValues("cached").Inc()
			return resp, nil
		}
	}

	token, err := c.tokens.AccessToken()
	if err != nil {
		c.setTokenExpired(true)
		return nil, c.fail(&FetchError{Kind: KindTokenExpired, Err: err})
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.MaxInterval = c.opts.MaxBackoff

	attempt := 0
	resp, err := backoff.RetryWithData(func() (*Response, error) {
		attempt++
		return c.do(ctx, token, attempt)
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.opts.Retries)), ctx))
	if err != nil {
		var fe *FetchError
		if !errors.As(err, &fe) {
			fe = &FetchError{Kind: KindNetwork, Err: err}
		}
		c.setTokenExpired(fe.Kind == KindTokenExpired)
		return nil, c.fail(fe)
	}

	c.setTokenExpired(false)
	if c.cache != nil {
		c.cache.Add(cacheKey, resp)
	}
	metrics.FetchesTotal.WithLabelValues("ok").Inc()
	return resp, nil
}

// Refresh bypasses the cache.
func (c *Client) Refresh(ctx context.Context) (*Response, error) {
	c.ClearCache()
	return c.Fetch(ctx)
}

// ClearCache drops any cached response.
func (c *Client) ClearCache() {
	if c.cache != nil {
		c.cache.Purge()
	}
}

// TokenExpired reports whether the last fetch failed on authentication.
func (c *Client) TokenExpired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokenExpired
}

func (c *Client) setTokenExpired(v bool) {
	c.mu.Lock()
	c.tokenExpired = v
	c.mu.Unlock()
}

func (c *Client) fail(fe *FetchError) error {
	metrics.FetchesTotal.WithLabelValues("error").Inc()
	metrics.FetchErrors.WithLabelValues(string(fe.Kind)).Inc()
	c.logger.Warn().Err(fe.Err).Str("kind", string(fe.Kind)).Int("status", fe.StatusCode).Msg("Usage fetch failed")
	return fe
}

// do performs one HTTP attempt. Errors wrapped in backoff.Permanent are not retried.
func (c *Client) do(ctx context.Context, token string, attempt int) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+usagePath, nil)
	if err != nil {
		return nil, backoff.Permanent(&FetchError{Kind: KindOther, Err: err})
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("anthropic-beta", betaHeader)
	req.Header.Set("User-Agent", fmt.Sprintf("usageminder/%s", c.opts.Version))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.FetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.logger.Debug().Err(err).Int("attempt", attempt).Msg("Usage request failed")
		fe := &FetchError{Kind: KindNetwork, Err: err}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(fe)
		}
		return nil, fe
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.tokens.Clear()
		return nil, backoff.Permanent(&FetchError{
			Kind:       KindTokenExpired,
			StatusCode: resp.StatusCode,
			Err:        errors.New("token expired or invalid"),
		})
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, backoff.Permanent(&FetchError{
			Kind:       KindRateLimited,
			StatusCode: resp.StatusCode,
			Err:        errors.New("rate limit exceeded"),
		})
	case resp.StatusCode >= 500:
		c.logger.Debug().Int("status", resp.StatusCode).Int("attempt", attempt).Msg("Usage endpoint returned server error")
		return nil, &FetchError{Kind: KindOther, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, backoff.Permanent(&FetchError{
			Kind:       KindOther,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(body))),
		})
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, backoff.Permanent(&FetchError{Kind: KindOther, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode usage: %w", err)})
	}

	c.logger.Debug().Int("attempt", attempt).Msg("Fetched usage")
	return &out, nil
}
