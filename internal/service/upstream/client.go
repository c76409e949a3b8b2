package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"SE3Price/internal/domain/models"
	"SE3Price/internal/domain/repository"
	"SE3Price/internal/service/ratelimit"
	"SE3Price/pkg/cache"
	xhttp "SE3Price/pkg/http"
	applogger "SE3Price/pkg/logger"
	"SE3Price/pkg/retry"
)

// Client is the shared GET path for upstream data APIs: rate limit, cache
// lookup, bounded retry on transient failures.
type Client struct {
	name     string
	http     *xhttp.Client
	limiter  *ratelimit.Limiter
	rate     float64
	burst    int
	policy   *retry.Policy
	cache    cache.Service
	cacheTTL time.Duration
	metrics  repository.Metrics
	l        *applogger.Logger
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = xhttp.NewClient(xhttp.WithTimeout(d)) }
}

// WithRateLimit allows perSec requests per second with a burst of the same size.
func WithRateLimit(l *ratelimit.Limiter, perSec float64) Option {
	return func(c *Client) {
		c.limiter = l
		c.rate = perSec
		c.burst = int(perSec)
		if c.burst < 1 {
			c.burst = 1
		}
	}
}

func WithRetryPolicy(p *retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithCache stores successful bodies for ttl.
func WithCache(s cache.Service, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = s
		c.cacheTTL = ttl
	}
}

func WithMetrics(m repository.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l *applogger.Logger) Option {
	return func(c *Client) { c.l = l }
}

func New(name string, opts ...Option) *Client {
	c := &Client{
		name:   name,
		http:   xhttp.NewClient(),
		policy: retry.New(),
		l:      applogger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	// own copy, the hooks below are per client
	policy := *c.policy
	c.policy = &policy
	if c.policy.Retryable == nil {
		c.policy.Retryable = xhttp.IsRetryable
	}
	prev := c.policy.OnRetry
	c.policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.l.Warn("upstream request failed, retrying",
			applogger.String("source", c.name),
			applogger.Int("attempt", attempt),
			applogger.Duration("backoff_ms", delay),
			applogger.Error(err),
		)
		if c.metrics != nil {
			c.metrics.RecordRetry(c.name)
		}
		if prev != nil {
			prev(attempt, delay, err)
		}
	}
	return c
}

func (c *Client) Name() string { return c.name }

// Get fetches rawURL with query and returns the body. A retryable failure that
// outlives the policy becomes a TransientFetchError; anything else is returned
// wrapped as is.
func (c *Client) Get(ctx context.Context, op, rawURL string, query url.Values) ([]byte, error) {
	key := c.cacheKey(rawURL, query)
	if c.cache != nil {
		if body, err := c.cache.Get(ctx, key); err == nil {
			c.l.Debug("upstream cache hit", applogger.String("source", c.name), applogger.String("op", op))
			return body, nil
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			c.l.Warn("upstream cache read failed", applogger.String("source", c.name), applogger.Error(err))
		}
	}

	start := time.Now()
	var body []byte
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, c.name, c.rate, c.burst); err != nil {
				return err
			}
		}
		b, err := c.http.Fetch(ctx, &xhttp.RequestOptions{
			Method:      xhttp.MethodGet,
			URL:         rawURL,
			QueryParams: query,
		})
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if c.metrics != nil {
		c.metrics.RecordLatency(c.name+"_"+op, time.Since(start).Seconds())
	}
	if err != nil {
		var ex *retry.ExhaustedError
		if errors.As(err, &ex) {
			if c.metrics != nil {
				c.metrics.RecordError("transient_fetch")
			}
			return nil, &models.TransientFetchError{Source: c.name, Op: op, Attempts: ex.Attempts, Err: ex.Err}
		}
		return nil, fmt.Errorf("%s %s: %w", c.name, op, err)
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, body, c.cacheTTL); err != nil {
			c.l.Warn("upstream cache write failed", applogger.String("source", c.name), applogger.Error(err))
		}
	}
	return body, nil
}

// cacheKey hashes the full request so credentials in the query never reach the cache.
func (c *Client) cacheKey(rawURL string, query url.Values) string {
	return cache.GenerateKey(c.name, cache.HashKey(rawURL+"?"+query.Encode()))
}
