// Package domain resolves a company name to its email domain.
package domain

import (
	"context"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"

	"github.com/sells-group/mailfinder/internal/mx"
	"github.com/sells-group/mailfinder/internal/normalize"
	"github.com/sells-group/mailfinder/internal/pace"
	"github.com/sells-group/mailfinder/internal/search"
	"github.com/sells-group/mailfinder/internal/store"
)

// IgnoredHosts are directories, social networks and search engines that never
// own a company's mail.
var IgnoredHosts = map[string]bool{
	"google.com": true, "google.fr": true, "facebook.com": true, "linkedin.com": true,
	"twitter.com": true, "youtube.com": true, "instagram.com": true, "wikipedia.org": true,
	"pinterest.com": true, "tiktok.com": true, "x.com": true, "reddit.com": true,
	"amazon.com": true, "yelp.com": true, "tripadvisor.com": true, "pagesjaunes.fr": true,
	"societe.com": true, "infogreffe.fr": true, "verif.com": true, "pappers.fr": true,
	"indeed.com": true, "glassdoor.com": true, "duckduckgo.com": true, "bing.com": true,
}

// GuessTLDs are tried in order when search finds nothing usable.
var GuessTLDs = []string{".fr", ".com", ".eu", ".io", ".net"}

var queryTemplates = []string{"%s site officiel", "%s email contact"}

const resultsPerQuery = 5

// Resolver finds and caches company domains.
type Resolver struct {
	Search search.Searcher
	MX     mx.Resolver
	Store  store.Store
	Pacer  *pace.Pacer
}

// New returns a Resolver with the default 0.5 to 1.5s delay between queries.
func New(s search.Searcher, r mx.Resolver, st store.Store) *Resolver {
	return &Resolver{Search: s, MX: r, Store: st, Pacer: pace.Seconds(0.5, 1.5)}
}

// FindDomain returns the company's domain and whether one was found. Cached
// answers, negative ones included, are returned without network I/O unless
// forceRefresh is set. Search and DNS failures count as no candidate; only
// store errors and cancellation are returned.
func (r *Resolver) FindDomain(ctx context.Context, company string, forceRefresh bool) (string, bool, error) {
	slug := normalize.CompanySlug(company)
	if slug == "" {
		return "", false, nil
	}
	log := zap.L().With(zap.String("company", company), zap.String("slug", slug))

	if !forceRefresh {
		cached, ok, err := store.GetCached[string](ctx, r.Store, store.NamespaceDomain, slug)
		if err != nil {
			return "", false, err
		}
		if ok {
			log.Debug("domain: cache hit", zap.Stringp("domain", cached))
			if cached == nil {
				return "", false, nil
			}
			return *cached, true, nil
		}
	}

	found := r.resolve(ctx, company, slug, log)
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	var value *string
	if found != "" {
		value = &found
	}
	if err := store.SetCached(ctx, r.Store, store.NamespaceDomain, slug, value); err != nil {
		return "", false, err
	}
	if found == "" {
		log.Warn("domain: not found")
		return "", false, nil
	}
	return found, true, nil
}

func (r *Resolver) resolve(ctx context.Context, company, slug string, log *zap.Logger) string {
	counts := make(map[string]int)
	var order []string
	for i, tmpl := range queryTemplates {
		if i > 0 {
			if err := r.Pacer.Wait(ctx); err != nil {
				return ""
			}
		}
		q := fmt.Sprintf(tmpl, company)
		page, err := r.Search.Search(ctx, q, resultsPerQuery)
		if err != nil {
			log.Warn("domain: search failed", zap.String("query", q), zap.Error(err))
			continue
		}
		for _, res := range page.Results {
			host := search.Host(res.URL)
			if host == "" || !strings.Contains(host, ".") || IgnoredHosts[host] {
				continue
			}
			if counts[host] == 0 {
				order = append(order, host)
			}
			counts[host]++
		}
	}

	if best := pickCandidate(counts, order, slug); best != "" {
		if mx.HasMX(ctx, r.MX, best) {
			log.Info("domain: found via search", zap.String("domain", best), zap.Int("hits", counts[best]))
			return best
		}
		log.Debug("domain: search candidate has no MX", zap.String("domain", best))
	}

	for _, tld := range GuessTLDs {
		guess := slug + tld
		if mx.HasMX(ctx, r.MX, guess) {
			log.Info("domain: found via MX guess", zap.String("domain", guess))
			return guess
		}
	}
	return ""
}

// pickCandidate returns the most frequent host. Ties go to the host whose
// first label is closest to slug, then to the first seen.
func pickCandidate(counts map[string]int, order []string, slug string) string {
	best := ""
	bestDist := 0
	for _, host := range order {
		dist := levenshtein.ComputeDistance(firstLabel(host), slug)
		switch {
		case best == "":
		case counts[host] > counts[best]:
		case counts[host] == counts[best] && dist < bestDist:
		default:
			continue
		}
		best, bestDist = host, dist
	}
	return best
}

func firstLabel(host string) string {
	label, _, _ := strings.Cut(host, ".")
	return label
}
