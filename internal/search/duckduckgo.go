// Package search queries the DuckDuckGo HTML endpoint and returns organic
// result links along with the visible text of the results page.
package search

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailfinder/internal/pace"
	"github.com/sells-group/mailfinder/internal/resilience"
	"github.com/sells-group/mailfinder/internal/scrape"
)

const (
	defaultBaseURL    = "https://html.duckduckgo.com/html/"
	defaultMaxResults = 5
	userAgent         = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxBodyBytes      = 1024 * 1024
)

// Result is one organic search hit.
type Result struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
}

// Page is a parsed results page.
type Page struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
	// Text is the visible text of the results page, snippets included.
	Text string `json:"-"`
}

// Searcher runs a web search.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) (*Page, error)
}

// Option configures the DuckDuckGo client.
type Option func(*DuckDuckGo)

// WithBaseURL overrides the default endpoint.
func WithBaseURL(u string) Option {
	return func(d *DuckDuckGo) {
		if u != "" {
			d.baseURL = u
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(d *DuckDuckGo) {
		d.http = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(t time.Duration) Option {
	return func(d *DuckDuckGo) {
		if t > 0 {
			d.http.Timeout = t
		}
	}
}

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n int) Option {
	return func(d *DuckDuckGo) {
		if n >= 0 {
			d.retry.MaxAttempts = n + 1
		}
	}
}

// WithMaxResults sets the default result cap.
func WithMaxResults(n int) Option {
	return func(d *DuckDuckGo) {
		if n > 0 {
			d.maxResults = n
		}
	}
}

// WithLimiter shares a per-host rate limiter with other clients.
func WithLimiter(l *pace.HostLimiter) Option {
	return func(d *DuckDuckGo) {
		d.limiter = l
	}
}

// DuckDuckGo scrapes html.duckduckgo.com.
type DuckDuckGo struct {
	baseURL    string
	http       *http.Client
	retry      resilience.RetryConfig
	limiter    *pace.HostLimiter
	maxResults int
}

// New creates a DuckDuckGo client with a 10s timeout.
func New(opts ...Option) *DuckDuckGo {
	d := &DuckDuckGo{
		baseURL:    defaultBaseURL,
		http:       &http.Client{Timeout: 10 * time.Second},
		retry:      resilience.DefaultRetryConfig(),
		maxResults: defaultMaxResults,
	}
	d.retry.OnRetry = resilience.RetryLogger("duckduckgo", "search")
	for _, o := range opts {
		o(d)
	}
	return d
}

// Search fetches one results page. maxResults <= 0 uses the client default.
func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) (*Page, error) {
	if maxResults <= 0 {
		maxResults = d.maxResults
	}
	body, err := resilience.DoVal(ctx, d.retry, func(ctx context.Context) ([]byte, error) {
		return d.fetch(ctx, query)
	})
	if err != nil {
		return nil, err
	}

	page, err := ParsePage(bytes.NewReader(body), maxResults)
	if err != nil {
		return nil, err
	}
	page.Query = query
	zap.L().Debug("duckduckgo: search",
		zap.String("query", query),
		zap.Int("results", len(page.Results)),
	)
	return page, nil
}

func (d *DuckDuckGo) fetch(ctx context.Context, query string) ([]byte, error) {
	if err := d.limiter.Wait(ctx, d.baseURL); err != nil {
		return nil, eris.Wrap(err, "duckduckgo: rate limit")
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("t", "h_")
	params.Set("ia", "web")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "duckduckgo: create request")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "fr-FR,fr;q=0.9,en;q=0.8")

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "duckduckgo: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "duckduckgo: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("duckduckgo: unexpected status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}
	// Result snippets may mention captchas; only a page without results is a block.
	if !bytes.Contains(body, []byte("result__a")) {
		if blocked, kind := scrape.DetectBlock(resp, body); blocked {
			return nil, eris.Errorf("duckduckgo: blocked (%s)", kind)
		}
	}
	return body, nil
}

// ParsePage extracts organic results from a DuckDuckGo HTML page.
func ParsePage(r io.Reader, maxResults int) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, eris.Wrap(err, "duckduckgo: parse html")
	}

	page := &Page{Text: strings.Join(strings.Fields(doc.Find("body").Text()), " ")}
	seen := make(map[string]bool)
	doc.Find("a.result__a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok {
			return true
		}
		target := ResolveLink(href)
		if target == "" || seen[target] {
			return true
		}
		seen[target] = true

		res := Result{URL: target, Title: strings.TrimSpace(s.Text())}
		res.Snippet = strings.TrimSpace(s.Closest(".result").Find(".result__snippet").First().Text())
		page.Results = append(page.Results, res)
		return maxResults <= 0 || len(page.Results) < maxResults
	})
	return page, nil
}

// ResolveLink returns the destination of a result link, decoding the
// /l/?uddg= redirect wrapper. Non-http(s) targets return "".
func ResolveLink(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if real := u.Query().Get("uddg"); real != "" {
		u, err = url.Parse(real)
		if err != nil {
			return ""
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	if u.Host == "" {
		return ""
	}
	return u.String()
}

// Host returns the lowercase hostname of rawURL without a leading "www.".
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
