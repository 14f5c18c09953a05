// Package pace inserts randomized politeness delays and per-host rate limits
// between externally visible requests.
package pace

import (
	"context"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer sleeps a random duration in [Min, Max] between requests.
type Pacer struct {
	Min time.Duration
	Max time.Duration
}

// New returns a Pacer. Bounds are swapped if given in the wrong order.
func New(min, max time.Duration) *Pacer {
	if max < min {
		min, max = max, min
	}
	return &Pacer{Min: min, Max: max}
}

// Seconds builds a Pacer from float second bounds (config values).
func Seconds(min, max float64) *Pacer {
	return New(time.Duration(min*float64(time.Second)), time.Duration(max*float64(time.Second)))
}

// None is a Pacer that never sleeps.
func None() *Pacer { return &Pacer{} }

// Next returns the next delay.
func (p *Pacer) Next() time.Duration {
	if p == nil || p.Max <= 0 {
		return 0
	}
	if p.Max == p.Min {
		return p.Min
	}
	return p.Min + time.Duration(rand.Int64N(int64(p.Max-p.Min)))
}

// Wait sleeps for Next() or until ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	d := p.Next()
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

// HostLimiter rate-limits requests per host.
type HostLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHostLimiter allows perSecond requests per host with the given burst.
// perSecond <= 0 disables limiting.
func NewHostLimiter(perSecond float64, burst int) *HostLimiter {
	if burst <= 0 {
		burst = 1
	}
	l := rate.Inf
	if perSecond > 0 {
		l = rate.Limit(perSecond)
	}
	return &HostLimiter{limit: l, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

// Wait blocks until a request to rawURL's host is allowed.
func (h *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	if h == nil {
		return nil
	}
	return h.limiterFor(hostOf(rawURL)).Wait(ctx)
}

func (h *HostLimiter) limiterFor(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	lim, ok := h.limiters[host]
	if !ok {
		lim = rate.NewLimiter(h.limit, h.burst)
		h.limiters[host] = lim
	}
	return lim
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
