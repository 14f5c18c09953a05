package domain

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mailfinder/internal/mx"
	"github.com/sells-group/mailfinder/internal/pace"
	"github.com/sells-group/mailfinder/internal/search"
	"github.com/sells-group/mailfinder/internal/store"
)

type fakeSearcher struct {
	mu      sync.Mutex
	results map[string][]string
	err     error
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, q string, _ int) (*search.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	page := &search.Page{Query: q}
	for _, u := range f.results[q] {
		page.Results = append(page.Results, search.Result{URL: u})
	}
	return page, nil
}

type countingMX struct {
	mx.Static
	calls int
}

func (c *countingMX) LookupMX(ctx context.Context, d string) ([]string, error) {
	c.calls++
	return c.Static.LookupMX(ctx, d)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newResolver(t *testing.T, s search.Searcher, r mx.Resolver) *Resolver {
	res := New(s, r, newTestStore(t))
	res.Pacer = pace.None()
	return res
}

func TestFindDomain_SearchWinnerWithMX(t *testing.T) {
	s := &fakeSearcher{results: map[string][]string{
		"Acme SAS site officiel": {"https://www.acme.fr/", "https://www.linkedin.com/company/acme", "https://acme.fr/contact"},
		"Acme SAS email contact": {"https://www.societe.com/acme", "https://annuaire.example/acme"},
	}}
	r := newResolver(t, s, mx.Static{"acme.fr": {"mx.acme.fr"}})

	d, ok, err := r.FindDomain(context.Background(), "Acme SAS", false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "acme.fr", d)
	assert.Equal(t, []string{"Acme SAS site officiel", "Acme SAS email contact"}, s.queries)
}

func TestFindDomain_CacheHitSkipsNetwork(t *testing.T) {
	s := &fakeSearcher{results: map[string][]string{
		"Acme site officiel": {"https://acme.fr/"},
	}}
	m := &countingMX{Static: mx.Static{"acme.fr": {"mx.acme.fr"}}}
	r := newResolver(t, s, m)
	ctx := context.Background()

	_, _, err := r.FindDomain(ctx, "Acme", false)
	require.NoError(t, err)
	queries, lookups := len(s.queries), m.calls

	d, ok, err := r.FindDomain(ctx, "ACME", false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "acme.fr", d)
	assert.Equal(t, queries, len(s.queries))
	assert.Equal(t, lookups, m.calls)
}

func TestFindDomain_NegativeIsCached(t *testing.T) {
	s := &fakeSearcher{}
	r := newResolver(t, s, mx.Static{})
	ctx := context.Background()

	_, ok, err := r.FindDomain(ctx, "Ghost Corp", false)
	require.NoError(t, err)
	assert.False(t, ok)
	n := len(s.queries)

	_, ok, err = r.FindDomain(ctx, "Ghost Corp", false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, n, len(s.queries), "cached null must not trigger a search")

	// forceRefresh bypasses the negative entry
	_, _, err = r.FindDomain(ctx, "Ghost Corp", true)
	require.NoError(t, err)
	assert.Greater(t, len(s.queries), n)
}

func TestFindDomain_FallbackGuessOrder(t *testing.T) {
	s := &fakeSearcher{err: errors.New("duckduckgo: unexpected status 403")}
	r := newResolver(t, s, mx.Static{"globex.com": {"mx.globex.com"}, "globex.io": {"mx.globex.io"}})

	d, ok, err := r.FindDomain(context.Background(), "Globex", false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "globex.com", d)
}

func TestFindDomain_CandidateWithoutMXFallsBack(t *testing.T) {
	s := &fakeSearcher{results: map[string][]string{
		"Initech site officiel": {"https://initech-blog.net/"},
	}}
	r := newResolver(t, s, mx.Static{"initech.fr": {"mx.initech.fr"}})

	d, ok, err := r.FindDomain(context.Background(), "Initech", false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "initech.fr", d)
}

func TestFindDomain_EmptySlug(t *testing.T) {
	s := &fakeSearcher{}
	r := newResolver(t, s, mx.Static{})

	_, ok, err := r.FindDomain(context.Background(), " S.A.S. ", false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, s.queries)

	_, cached, err := r.Store.GetCache(context.Background(), store.NamespaceDomain, "")
	require.NoError(t, err)
	assert.False(t, cached)
}

func TestFindDomain_CancelledDoesNotCache(t *testing.T) {
	s := &fakeSearcher{}
	r := newResolver(t, s, mx.Static{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := r.FindDomain(ctx, "Acme", false)
	require.ErrorIs(t, err, context.Canceled)

	_, cached, err := r.Store.GetCache(context.Background(), store.NamespaceDomain, "acme")
	require.NoError(t, err)
	assert.False(t, cached)
}

func TestPickCandidate(t *testing.T) {
	order := []string{"acme-group.com", "acme.fr", "other.fr"}
	counts := map[string]int{"acme-group.com": 2, "acme.fr": 2, "other.fr": 1}
	assert.Equal(t, "acme.fr", pickCandidate(counts, order, "acme"))

	counts["other.fr"] = 3
	assert.Equal(t, "other.fr", pickCandidate(counts, order, "acme"))

	assert.Equal(t, "", pickCandidate(map[string]int{}, nil, "acme"))

	// equal count and distance: first seen wins
	assert.Equal(t, "acmf.fr", pickCandidate(map[string]int{"acmf.fr": 1, "acmg.fr": 1}, []string{"acmf.fr", "acmg.fr"}, "acme"))
}
