package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mailfinder/internal/model"
	"github.com/sells-group/mailfinder/internal/orchestrator"
	"github.com/sells-group/mailfinder/internal/progress"
	"github.com/sells-group/mailfinder/internal/store"
)

type fakeRunner struct {
	busy  bool
	calls []orchestrator.Options
}

func (f *fakeRunner) Start(_ context.Context, opts orchestrator.Options) (bool, error) {
	f.calls = append(f.calls, opts)
	if f.busy {
		return false, nil
	}
	f.busy = true
	return true, nil
}

func newTestServer(t *testing.T) (*httptest.Server, store.Store, progress.Sink, *fakeRunner) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	sink := progress.NewMemory()
	runner := &fakeRunner{}
	srv := httptest.NewServer(newRouter(context.Background(), st, sink, runner, []string{"*"}))
	t.Cleanup(srv.Close)
	return srv, st, sink, runner
}

func TestServe_Health(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestServe_ProgressIdle(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/progress")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	var p model.Progress
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	assert.False(t, p.Running)
	assert.Equal(t, "Aucune tâche en cours.", p.Message)
}

func TestServe_ProgressReflectsSink(t *testing.T) {
	srv, _, sink, _ := newTestServer(t)
	require.NoError(t, sink.Write(context.Background(), model.Progress{Running: true, Current: 2, Total: 5}))

	resp, err := http.Get(srv.URL + "/progress")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	var p model.Progress
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	assert.True(t, p.Running)
	assert.Equal(t, 2, p.Current)
}

func TestServe_StartRun(t *testing.T) {
	srv, _, _, runner := newTestServer(t)

	resp, err := http.Post(srv.URL+"/runs", "application/json", strings.NewReader(`{"limit":5,"force_refresh":true}`))
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, orchestrator.Options{Limit: 5, ForceRefresh: true}, runner.calls[0])

	resp, err = http.Post(srv.URL+"/runs", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServe_StartRunBadBody(t *testing.T) {
	srv, _, _, runner := newTestServer(t)
	resp, err := http.Post(srv.URL+"/runs", "application/json", strings.NewReader(`{"limit":`))
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, runner.calls)
}

func TestServe_Outbox(t *testing.T) {
	srv, st, _, _ := newTestServer(t)
	require.NoError(t, st.ReplaceOutbox(context.Background(), []model.OutboxEntry{
		{Company: "Acme", CompanyKey: "acme", Email: "jean@acme.fr", Status: model.OutboxReady},
		{Company: "Beta", CompanyKey: "beta", Status: model.OutboxError, ErrorMessage: "EMAIL_NOT_FOUND"},
	}))

	resp, err := http.Get(srv.URL + "/outbox?status=READY")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	var entries []model.OutboxEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "jean@acme.fr", entries[0].Email)

	resp2, err := http.Get(srv.URL + "/outbox/stats")
	require.NoError(t, err)
	defer resp2.Body.Close() //nolint:errcheck
	var counts map[string]int
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&counts))
	assert.Equal(t, map[string]int{"READY": 1, "ERROR": 1}, counts)
}

func TestServe_EmptyOutboxIsArray(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/outbox")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.Equal(t, "[]", string(raw))
}
