// Package hunter is a client for the Hunter.io domain-search and
// email-verifier endpoints.
package hunter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mailfinder/internal/resilience"
)

const defaultBaseURL = "https://api.hunter.io/v2"

// Verdicts returned by the email verifier.
const (
	ResultDeliverable   = "deliverable"
	ResultUndeliverable = "undeliverable"
	ResultRisky         = "risky"
	ResultUnknown       = "unknown"
)

// Client performs Hunter.io API operations.
type Client interface {
	DomainSearch(ctx context.Context, domain string) (*DomainSearchResult, error)
	VerifyEmail(ctx context.Context, email string) (*Verification, error)
}

// DomainSearchResult is the data payload of /domain-search.
type DomainSearchResult struct {
	Domain       string  `json:"domain"`
	Organization string  `json:"organization"`
	Pattern      string  `json:"pattern"`
	Emails       []Email `json:"emails"`
}

// Email is an address Hunter has seen published for a domain.
type Email struct {
	Value      string `json:"value"`
	Type       string `json:"type"`
	Confidence int    `json:"confidence"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
}

// Addresses returns the non-empty email values.
func (r *DomainSearchResult) Addresses() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Emails))
	for _, e := range r.Emails {
		if e.Value != "" {
			out = append(out, e.Value)
		}
	}
	return out
}

// Verification is the data payload of /email-verifier.
type Verification struct {
	Email     string `json:"email"`
	Result    string `json:"result"`
	Status    string `json:"status"`
	Score     int    `json:"score"`
	SMTPCheck bool   `json:"smtp_check"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithBreaker overrides the default circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *httpClient) {
		c.breaker = b
	}
}

type httpClient struct {
	apiKey        string
	baseURL       string
	http          *http.Client
	breaker       *resilience.Breaker
	searchTimeout time.Duration
	verifyTimeout time.Duration
}

// NewClient creates a Hunter.io client. Domain searches time out after 10s
// and verifications after 15s.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:        apiKey,
		baseURL:       defaultBaseURL,
		http:          &http.Client{},
		breaker:       resilience.NewBreaker("hunter", 3, 5*time.Minute),
		searchTimeout: 10 * time.Second,
		verifyTimeout: 15 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) DomainSearch(ctx context.Context, domain string) (*DomainSearchResult, error) {
	var out struct {
		Data DomainSearchResult `json:"data"`
	}
	params := url.Values{"domain": {domain}}
	if err := c.get(ctx, "/domain-search", params, c.searchTimeout, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *httpClient) VerifyEmail(ctx context.Context, email string) (*Verification, error) {
	var out struct {
		Data Verification `json:"data"`
	}
	params := url.Values{"email": {email}}
	if err := c.get(ctx, "/email-verifier", params, c.verifyTimeout, &out); err != nil {
		return nil, err
	}
	if out.Data.Result == "" {
		out.Data.Result = ResultUnknown
	}
	return &out.Data, nil
}

func (c *httpClient) get(ctx context.Context, path string, params url.Values, timeout time.Duration, dst any) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		params.Set("api_key", c.apiKey)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
		if err != nil {
			return eris.Wrap(err, "hunter: create request")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return resilience.NewTransientError(eris.Wrap(err, "hunter: send request"), 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return eris.Wrap(err, "hunter: read response")
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return eris.New("hunter: invalid API key")
		case resp.StatusCode != http.StatusOK:
			err := eris.Errorf("hunter: unexpected status %d: %s", resp.StatusCode, string(body))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(err, resp.StatusCode)
			}
			return err
		}

		if err := json.Unmarshal(body, dst); err != nil {
			return eris.Wrap(err, "hunter: unmarshal response")
		}
		return nil
	})
}
