package crawler

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"

	"github.com/user/site-crawler/internal/domain"
)

// Fetcher retrieves a single URL. Per-URL failures are reported in the
// returned Outcome, never as an error.
type Fetcher interface {
	Fetch(ctx context.Context, url string) domain.Outcome
}

// UserAgentSource supplies the User-Agent header for each request.
type UserAgentSource interface {
	UserAgent() string
}

// FetcherOptions controls HTTP fetching behaviour.
type FetcherOptions struct {
	Timeout      time.Duration
	Retries      int
	Backoff      time.Duration
	MaxBodyBytes int64
	Proxy        func(*http.Request) (*url.URL, error)
	UserAgents   UserAgentSource
	// Transport overrides the default transport; Proxy is ignored when set.
	Transport http.RoundTripper
}

// HTTPFetcher implements Fetcher with bounded retries on transport failures.
type HTTPFetcher struct {
	client       *http.Client
	timeout      time.Duration
	retries      int
	backoff      time.Duration
	maxBodyBytes int64
	userAgents   UserAgentSource
	logger       *zap.Logger
	sleep        func(context.Context, time.Duration) error
}

func NewHTTPFetcher(opts FetcherOptions, logger *zap.Logger) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 5 * 1024 * 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := opts.Transport
	if transport == nil {
		proxyFn := opts.Proxy
		if proxyFn == nil {
			proxyFn = http.ProxyFromEnvironment
		}
		transport = &http.Transport{
			Proxy:                 proxyFn,
			DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   32,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}

	return &HTTPFetcher{
		client:       &http.Client{Transport: transport},
		timeout:      opts.Timeout,
		retries:      opts.Retries,
		backoff:      opts.Backoff,
		maxBodyBytes: opts.MaxBodyBytes,
		userAgents:   opts.UserAgents,
		logger:       logger,
		sleep:        sleepContext,
	}
}

// Fetch performs a GET. Any HTTP response, whatever its status, is returned
// immediately. Transport failures are retried up to the configured number of
// attempts, sleeping backoff*attempt between them.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) domain.Outcome {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return domain.Outcome{Err: fmt.Errorf("build request: %w", err)}
	}

	var lastErr error
	for attempt := 1; attempt <= f.retries; attempt++ {
		out, err := f.fetchOnce(ctx, req)
		if err == nil {
			return out
		}
		lastErr = err
		f.logger.Debug("fetch attempt failed",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt == f.retries {
			break
		}
		if err := f.sleep(ctx, f.backoff*time.Duration(attempt)); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
	}
	return domain.Outcome{Err: lastErr}
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, base *http.Request) (domain.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req := base.Clone(ctx)
	if f.userAgents != nil {
		req.Header.Set("User-Agent", f.userAgents.UserAgent())
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("http fetch: %w", err)
	}

	body, err := f.readBody(resp)
	if err != nil {
		return domain.Outcome{}, err
	}

	return domain.Outcome{
		StatusCode: resp.StatusCode,
		Body:       body,
		Latency:    time.Since(start),
	}, nil
}

// readBody decodes the response body and truncates it at maxBodyBytes.
func (f *HTTPFetcher) readBody(resp *http.Response) ([]byte, error) {
	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	body, err := io.ReadAll(io.LimitReader(reader, f.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
