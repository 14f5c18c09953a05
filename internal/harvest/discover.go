// Package harvest collects real addresses published for a domain, to serve
// as evidence for pattern inference.
package harvest

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/mailfinder/internal/pace"
	"github.com/sells-group/mailfinder/internal/scrape"
	"github.com/sells-group/mailfinder/internal/search"
)

// DefaultMaxPages is the page budget of each crawling tier.
const DefaultMaxPages = 10

// enoughPersonal stops the tier cascade.
const enoughPersonal = 2

var emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// RoleAccounts are generic mailboxes that say nothing about the naming rule.
var RoleAccounts = map[string]bool{
	"contact": true, "info": true, "support": true, "admin": true, "hello": true,
	"bonjour": true, "accueil": true, "sales": true, "commercial": true, "rh": true,
	"hr": true, "jobs": true, "recrutement": true, "noreply": true, "no-reply": true,
	"webmaster": true, "marketing": true, "communication": true, "presse": true,
	"press": true, "compta": true, "comptabilite": true, "facturation": true,
	"billing": true, "service": true, "office": true, "secretariat": true,
	"direction": true, "dpo": true, "privacy": true, "abuse": true, "postmaster": true,
}

var likelyPaths = []string{"/", "/contact", "/equipe", "/team", "/about", "/mentions-legales"}

var linkKeywords = []string{
	"contact", "equipe", "team", "about", "qui-sommes", "mentions", "legal",
	"societe", "entreprise", "staff", "people", "direction",
}

var siteQueries = []string{"site:%s contact email", "site:%s @%[1]s", "site:%s equipe"}

// Discoverer runs the three discovery tiers: direct crawl, site-restricted
// search, then external mentions.
type Discoverer struct {
	Fetcher scrape.Fetcher
	Search  search.Searcher
	Exclude *scrape.PathMatcher
	// Pacer delays each fetch and each search query.
	Pacer *pace.Pacer
	// Concurrency bounds parallel fetches of the fixed tier-1 pages.
	Concurrency int
}

// New returns a Discoverer with the default 0.3 to 0.8s fetch delay.
func New(f scrape.Fetcher, s search.Searcher) *Discoverer {
	return &Discoverer{
		Fetcher:     f,
		Search:      s,
		Exclude:     scrape.NewPathMatcher(nil),
		Pacer:       pace.Seconds(0.3, 0.8),
		Concurrency: 1,
	}
}

// IsPersonal reports whether an address looks like a named person's.
func IsPersonal(email string) bool {
	local, _, ok := strings.Cut(strings.ToLower(email), "@")
	return ok && len(local) > 1 && !RoleAccounts[local]
}

// Discover returns the sorted, deduplicated addresses found for domain.
// Personal addresses are preferred; role addresses are returned only when no
// personal one was found. Fetch and search failures are logged and skipped.
func (d *Discoverer) Discover(ctx context.Context, domain string, maxPages int) []string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return nil
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	h := &harvest{d: d, domain: domain, emails: make(map[string]bool), fetched: make(map[string]bool)}
	log := zap.L().With(zap.String("domain", domain))

	tiers := []struct {
		name string
		run  func(context.Context, int)
	}{
		{"crawl", h.crawl},
		{"site_search", h.siteSearch},
		{"mentions", h.mentions},
	}
	for _, tier := range tiers {
		if h.personalCount() >= enoughPersonal || ctx.Err() != nil {
			break
		}
		tier.run(ctx, maxPages)
		log.Debug("harvest: tier done", zap.String("tier", tier.name), zap.Int("emails", len(h.emails)))
	}

	out := h.result()
	log.Info("harvest: discovered", zap.Int("count", len(out)), zap.Int("personal", h.personalCount()))
	return out
}

type harvest struct {
	d      *Discoverer
	domain string

	mu      sync.Mutex
	emails  map[string]bool
	fetched map[string]bool
}

func (h *harvest) add(text string) {
	suffix := "@" + h.domain
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range emailRe.FindAllString(text, -1) {
		m = strings.ToLower(m)
		if strings.HasSuffix(m, suffix) {
			h.emails[m] = true
		}
	}
}

func (h *harvest) personalCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for e := range h.emails {
		if IsPersonal(e) {
			n++
		}
	}
	return n
}

func (h *harvest) result() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var personal, all []string
	for e := range h.emails {
		all = append(all, e)
		if IsPersonal(e) {
			personal = append(personal, e)
		}
	}
	out := all
	if len(personal) > 0 {
		out = personal
	}
	sort.Strings(out)
	return out
}

// claim marks u as fetched, reporting false if it already was or is excluded.
func (h *harvest) claim(u string) bool {
	if h.d.Exclude.IsExcluded(u) {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fetched[u] {
		return false
	}
	h.fetched[u] = true
	return true
}

// fetch retrieves one page and harvests it. Failures are swallowed.
func (h *harvest) fetch(ctx context.Context, u string) *scrape.Page {
	if err := h.d.Pacer.Wait(ctx); err != nil {
		return nil
	}
	page, err := h.d.Fetcher.Fetch(ctx, u)
	if err != nil {
		zap.L().Debug("harvest: fetch failed", zap.String("url", u), zap.Error(err))
		return nil
	}
	h.add(string(page.Body))
	return page
}

// crawl fetches the homepage on the bare host, falling back to www, then the
// likely pages on whichever host answered. The rest of the budget goes to the
// best-scored homepage links.
func (h *harvest) crawl(ctx context.Context, budget int) {
	var home *scrape.Page
	var host string
	for _, candidate := range []string{h.domain, "www." + h.domain} {
		if budget <= 0 || ctx.Err() != nil {
			return
		}
		u := "https://" + candidate + "/"
		if !h.claim(u) {
			continue
		}
		budget--
		if home = h.fetch(ctx, u); home != nil {
			host = candidate
			break
		}
	}
	if home == nil {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, h.d.Concurrency))
	for _, p := range likelyPaths[1:] {
		u := "https://" + host + p
		if budget <= 0 {
			break
		}
		if !h.claim(u) {
			continue
		}
		budget--
		g.Go(func() error {
			h.fetch(gctx, u)
			return nil
		})
	}
	_ = g.Wait()

	for _, u := range rankLinks(scrape.SameSiteLinks(home.FinalURL, home.Body, h.domain)) {
		if budget <= 0 || ctx.Err() != nil {
			return
		}
		if !h.claim(u) {
			continue
		}
		budget--
		h.fetch(ctx, u)
	}
}

// siteSearch fetches result pages found by site-restricted queries.
func (h *harvest) siteSearch(ctx context.Context, budget int) {
	for _, tmpl := range siteQueries {
		if budget <= 0 || ctx.Err() != nil {
			return
		}
		page := h.search(ctx, fmt.Sprintf(tmpl, h.domain))
		if page == nil {
			continue
		}
		for _, res := range page.Results {
			if budget <= 0 {
				return
			}
			if !scrape.OnDomain(search.Host(res.URL), h.domain) || !h.claim(res.URL) {
				continue
			}
			budget--
			h.fetch(ctx, res.URL)
		}
	}
}

// mentions harvests addresses quoted on the results page of an exact search.
func (h *harvest) mentions(ctx context.Context, _ int) {
	page := h.search(ctx, fmt.Sprintf(`"@%s"`, h.domain))
	if page == nil {
		return
	}
	h.add(page.Text)
	for _, res := range page.Results {
		h.add(res.Title + " " + res.Snippet)
	}
}

func (h *harvest) search(ctx context.Context, q string) *search.Page {
	if err := h.d.Pacer.Wait(ctx); err != nil {
		return nil
	}
	page, err := h.d.Search.Search(ctx, q, 0)
	if err != nil {
		zap.L().Warn("harvest: search failed", zap.String("query", q), zap.Error(err))
		return nil
	}
	return page
}

// rankLinks orders links by keyword score, dropping links without any keyword.
func rankLinks(links []scrape.Link) []string {
	type scored struct {
		url   string
		score int
	}
	var ranked []scored
	for _, l := range links {
		if s := linkScore(l.URL); s > 0 {
			ranked = append(ranked, scored{l.URL, s})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.url
	}
	return out
}

func linkScore(rawURL string) int {
	p := strings.ToLower(rawURL)
	if i := strings.Index(p, "://"); i >= 0 {
		if j := strings.Index(p[i+3:], "/"); j >= 0 {
			p = p[i+3+j:]
		} else {
			p = ""
		}
	}
	score := 0
	for _, kw := range linkKeywords {
		if strings.Contains(p, kw) {
			score++
		}
	}
	return score
}
