// Package mx looks up mail exchangers for a domain.
package mx

import (
	"context"
	"errors"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultTimeout bounds a single lookup.
const DefaultTimeout = 5 * time.Second

// Resolver reports a domain's MX hosts ordered by ascending preference.
type Resolver interface {
	LookupMX(ctx context.Context, domain string) ([]string, error)
}

// lookuper is the subset of *net.Resolver used here.
type lookuper interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// DNS resolves MX records through net.Resolver.
type DNS struct {
	r       lookuper
	timeout time.Duration
}

// NewDNS returns a DNS resolver. A zero timeout uses DefaultTimeout.
func NewDNS(timeout time.Duration) *DNS {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &DNS{r: net.DefaultResolver, timeout: timeout}
}

// LookupMX returns the MX hosts without trailing dots. A domain with no
// records returns an empty slice and no error.
func (d *DNS) LookupMX(ctx context.Context, domain string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	records, err := d.r.LookupMX(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "mx: lookup %s", domain)
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].Pref < records[j].Pref })
	hosts := make([]string, 0, len(records))
	for _, r := range records {
		h := strings.TrimSuffix(r.Host, ".")
		// A null MX (RFC 7505) means the domain accepts no mail.
		if h == "" {
			continue
		}
		hosts = append(hosts, h)
	}
	return hosts, nil
}

// HasMX reports whether domain has at least one MX record. Lookup errors
// count as no record.
func HasMX(ctx context.Context, r Resolver, domain string) bool {
	hosts, err := r.LookupMX(ctx, domain)
	return err == nil && len(hosts) > 0
}

// Primary returns the most preferred MX host, or "" when there is none.
func Primary(ctx context.Context, r Resolver, domain string) (string, error) {
	hosts, err := r.LookupMX(ctx, domain)
	if err != nil || len(hosts) == 0 {
		return "", err
	}
	return hosts[0], nil
}

// Static is a fixed table, for tests and offline runs.
type Static map[string][]string

// LookupMX implements Resolver.
func (s Static) LookupMX(_ context.Context, domain string) ([]string, error) {
	return s[strings.ToLower(domain)], nil
}
