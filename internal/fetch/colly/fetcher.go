// Package collyfetch implements permit.Fetcher using gocolly.
package collyfetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"

	"github.com/permitstream/harvester/internal/metrics"
	"github.com/permitstream/harvester/internal/permit"
	"github.com/permitstream/harvester/internal/retry"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// HostRPS caps request rate per host; <= 0 disables the limiter.
	HostRPS   float64
	HostBurst int
}

// Fetcher implements permit.Fetcher using the Colly collector, one GET per
// Fetch call. Transport failures come back wrapped as transient so the
// retry primitive can act on them.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	transport     http.RoundTripper

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HostBurst <= 0 {
		cfg.HostBurst = 1
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true

	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		transport:     transport,
		limiters:      make(map[string]*rate.Limiter),
	}
}

// Fetch executes a single HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context, request permit.FetchRequest) (permit.FetchResponse, error) {
	target, err := buildURL(request)
	if err != nil {
		return permit.FetchResponse{}, err
	}
	if err := f.waitHost(ctx, target); err != nil {
		return permit.FetchResponse{}, err
	}

	var (
		result   permit.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, target.String(), &fetchErr); err != nil {
		metrics.ObserveFetch(target.String(), "error", 0, time.Since(start))
		return permit.FetchResponse{}, err
	}
	metrics.ObserveFetch(target.String(), strconv.Itoa(result.StatusCode), len(result.Body), result.Duration)
	return result, nil
}

func (f *Fetcher) buildCollector(
	request permit.FetchRequest,
	start time.Time,
	result *permit.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range request.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		*result = permit.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	collector.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})

	return collector
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return retry.Transient(fmt.Errorf("visit %s: %w", url, err))
		}
		if *fetchErr != nil {
			return retry.Transient(fmt.Errorf("fetch %s: %w", url, *fetchErr))
		}
		return nil
	}
}

func (f *Fetcher) waitHost(ctx context.Context, target *url.URL) error {
	if f.cfg.HostRPS <= 0 {
		return nil
	}
	host := target.Hostname()
	f.mu.Lock()
	limiter, ok := f.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(f.cfg.HostRPS), f.cfg.HostBurst)
		f.limiters[host] = limiter
	}
	f.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("host rate limit wait: %w", err)
	}
	return nil
}

func buildURL(request permit.FetchRequest) (*url.URL, error) {
	u, err := url.Parse(request.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", request.URL, err)
	}
	if len(request.Query) > 0 {
		q := u.Query()
		for key, values := range request.Query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
