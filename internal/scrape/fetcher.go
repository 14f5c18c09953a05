// Package scrape fetches public web pages with tight timeouts and body caps,
// detects anti-bot walls and extracts same-site links.
package scrape

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mailfinder/internal/pace"
)

const (
	// DefaultTimeout bounds one page fetch end to end.
	DefaultTimeout = 8 * time.Second
	// MaxBodyBytes caps the bytes read from one page.
	MaxBodyBytes = 512 * 1024

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Page is a fetched HTML document.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
}

// Fetcher retrieves a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// HTTPFetcher fetches pages via net/http.
type HTTPFetcher struct {
	client  *http.Client
	timeout time.Duration
	limiter *pace.HostLimiter
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithTimeout sets the per-fetch timeout.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithLimiter applies a per-host rate limit.
func WithLimiter(l *pace.HostLimiter) FetcherOption {
	return func(f *HTTPFetcher) {
		f.limiter = l
	}
}

// WithClient overrides the http.Client.
func WithClient(c *http.Client) FetcherOption {
	return func(f *HTTPFetcher) {
		f.client = c
	}
}

// NewHTTPFetcher creates an HTTPFetcher with an 8s timeout.
func NewHTTPFetcher(opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		},
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch GETs targetURL. Non-2xx statuses and anti-bot pages are errors. The
// timeout covers the request and reading the body.
func (f *HTTPFetcher) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := f.limiter.Wait(ctx, targetURL); err != nil {
		return nil, eris.Wrap(err, "fetch: rate limit")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: create request")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: %s", targetURL)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: read body %s", targetURL)
	}

	if blocked, bt := DetectBlock(resp, body); blocked {
		return nil, eris.Errorf("fetch: blocked (%s) %s", bt, targetURL)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, eris.Errorf("fetch: status %d %s", resp.StatusCode, targetURL)
	}

	return &Page{
		URL:        targetURL,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}
