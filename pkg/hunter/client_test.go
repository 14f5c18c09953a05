package hunter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mailfinder/internal/resilience"
)

func TestDomainSearch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/domain-search", r.URL.Path)
		assert.Equal(t, "acme.fr", r.URL.Query().Get("domain"))
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"domain":"acme.fr","organization":"Acme","pattern":"{f}.{last}",
			"emails":[{"value":"p.martin@acme.fr","type":"personal","confidence":92},{"value":""}]}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	res, err := client.DomainSearch(context.Background(), "acme.fr")

	require.NoError(t, err)
	assert.Equal(t, "{f}.{last}", res.Pattern)
	assert.Equal(t, "Acme", res.Organization)
	assert.Equal(t, []string{"p.martin@acme.fr"}, res.Addresses())
}

func TestVerifyEmail_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/email-verifier", r.URL.Path)
		assert.Equal(t, "p.martin@acme.fr", r.URL.Query().Get("email"))
		_, _ = w.Write([]byte(`{"data":{"email":"p.martin@acme.fr","result":"deliverable","score":91,"smtp_check":true}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	v, err := NewClient("k", WithBaseURL(srv.URL)).VerifyEmail(context.Background(), "p.martin@acme.fr")
	require.NoError(t, err)
	assert.Equal(t, ResultDeliverable, v.Result)
	assert.Equal(t, 91, v.Score)
	assert.True(t, v.SMTPCheck)
}

func TestVerifyEmail_MissingResultIsUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	v, err := NewClient("k", WithBaseURL(srv.URL)).VerifyEmail(context.Background(), "x@acme.fr")
	require.NoError(t, err)
	assert.Equal(t, ResultUnknown, v.Result)
}

func TestDomainSearch_InvalidKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	res, err := NewClient("bad", WithBaseURL(srv.URL)).DomainSearch(context.Background(), "acme.fr")
	assert.Nil(t, res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid API key")
	assert.False(t, resilience.IsTransient(err))
}

func TestDomainSearch_RateLimitedTripsBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL), WithBreaker(resilience.NewBreaker("hunter", 2, time.Hour)))
	for range 4 {
		_, err := client.DomainSearch(context.Background(), "acme.fr")
		require.Error(t, err)
	}
	assert.Equal(t, int32(2), calls.Load())

	_, err := client.DomainSearch(context.Background(), "acme.fr")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestDomainSearch_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL)).DomainSearch(context.Background(), "acme.fr")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestDomainSearch_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient("k", WithBaseURL(srv.URL)).DomainSearch(ctx, "acme.fr")
	assert.Error(t, err)
}

func TestAddresses_Nil(t *testing.T) {
	var r *DomainSearchResult
	assert.Nil(t, r.Addresses())
}
