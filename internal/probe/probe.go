// Package probe checks URL reachability ahead of submission decisions.
package probe

import (
	"context"
	"io"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/seoworks/indexer-cli/internal/model"
)

// DefaultUserAgent mimics a desktop browser. Several CDNs answer probes
// from unknown agents with 403s that would misclassify live pages as gone.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Prober checks one URL and reports its final HTTP status. Probing is
// total: transport failures come back as StatusCode 0 with a detail, never
// as an error.
type Prober interface {
	Probe(ctx context.Context, rawURL string) model.ProbeResult
}

// Options configures the HTTP prober.
type Options struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// RatePerSec and Burst bound requests per target host.
	RatePerSec float64
	Burst      int
}

// HTTPProber implements Prober using net/http with retry and per-host
// rate limiting. Redirects are followed, so the reported status is the one
// the final hop answered with.
type HTTPProber struct {
	client *http.Client
	opts   Options

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPProber creates a prober with the given options.
func NewHTTPProber(opts Options) *HTTPProber {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.RatePerSec == 0 {
		opts.RatePerSec = 4
	}
	if opts.Burst == 0 {
		opts.Burst = 2
	}
	return &HTTPProber{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (p *HTTPProber) limiterFor(host string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	lim, ok := p.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(p.opts.RatePerSec), p.opts.Burst)
		p.limiters[host] = lim
	}
	return lim
}

// Probe issues a GET and reports the final status code. 429 and 5xx
// responses are retried with backoff; if they persist the last status is
// reported as-is since the classifier knows what to do with it. Only a URL
// that never produces an HTTP response yields StatusCode 0.
func (p *HTTPProber) Probe(ctx context.Context, rawURL string) model.ProbeResult {
	result := model.ProbeResult{URL: rawURL, CheckedAt: time.Now().UTC()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		result.Detail = "invalid url: " + err.Error()
		return result
	}
	req.Header.Set("User-Agent", p.opts.UserAgent)
	req.Header.Set("Accept", "*/*")

	start := time.Now()
	result.StatusCode, result.Detail = p.doWithRetry(ctx, req)
	result.Latency = time.Since(start)
	return result
}

func (p *HTTPProber) doWithRetry(ctx context.Context, req *http.Request) (int, string) {
	lim := p.limiterFor(req.URL.Host)

	var lastStatus int
	var lastErr error
	for attempt := 0; attempt < p.opts.MaxRetries; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return 0, "rate limiter wait: " + err.Error()
		}

		cloned := req.Clone(ctx)
		resp, err := p.client.Do(cloned)
		if err != nil {
			lastErr = err
			lastStatus = 0
			zap.L().Debug("probe request failed, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			p.backoff(ctx, attempt)
			continue
		}

		// Drain a little so the connection can be reused, then drop the body.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()

		if retryableStatus(resp.StatusCode) && attempt < p.opts.MaxRetries-1 {
			lastStatus = resp.StatusCode
			lastErr = nil
			zap.L().Debug("probe got retryable status, backing off",
				zap.String("url", req.URL.String()),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			p.backoff(ctx, attempt)
			continue
		}

		return resp.StatusCode, ""
	}

	if lastErr != nil {
		return 0, lastErr.Error()
	}
	return lastStatus, ""
}

func (p *HTTPProber) backoff(ctx context.Context, attempt int) {
	base := 500 * time.Millisecond
	maxBackoff := 10 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	d = d + jitter

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// retryableStatus returns true for statuses worth another probe attempt
// before believing them.
func retryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
