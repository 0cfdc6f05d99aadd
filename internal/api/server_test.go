package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/evolab/evomon/internal/config"
	"github.com/evolab/evomon/internal/experiment"
	"github.com/evolab/evomon/internal/store"
)

func testServerConfig(base string) config.Config {
	cfg := config.Config{}
	cfg.Monitor.BaseDir = base
	cfg.Monitor.RunPrefix = "run_"
	return cfg
}

func writeRun(t *testing.T, base, name, trace string, rollbacks []string) {
	t.Helper()
	dir := filepath.Join(base, name)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	if trace != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, experiment.TraceFileName), []byte(trace), 0o600))
	}
	if len(rollbacks) > 0 {
		var buf []byte
		for _, line := range rollbacks {
			buf = append(buf, line...)
			buf = append(buf, '\n')
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, experiment.RollbackFileName), buf, 0o600))
	}
}

const sampleTrace = "max_temp,min_clearance,num_violations,penalty_score,state_id\n" +
	"85.0,3.0,2,180.0,s_0001\n" +
	"83.5,3.1,1,150.0,s_0002\n" +
	"82.0,3.2,0,120.0,s_0003\n"

func doRequest(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := NewServer(testServerConfig(t.TempDir()), nil, nil)
	rec, body := doRequest(t, srv.Handler(), http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", body["status"])
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyzToleratesMissingBaseDir(t *testing.T) {
	t.Parallel()

	cfg := testServerConfig(filepath.Join(t.TempDir(), "absent"))
	srv := NewServer(cfg, nil, nil)
	rec, body := doRequest(t, srv.Handler(), http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ready", body["status"])
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testServerConfig(t.TempDir())
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	srv := NewServer(cfg, nil, nil)

	rec, _ := doRequest(t, srv.Handler(), http.MethodGet, "/healthz")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestListRunsNewestFirst(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	writeRun(t, base, "run_20250130_080000", sampleTrace, nil)
	writeRun(t, base, "run_20250131_090000", sampleTrace, nil)

	srv := NewServer(testServerConfig(base), nil, nil)
	rec, body := doRequest(t, srv.Handler(), http.MethodGet, "/v1/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 2, body["total"])

	runs, ok := body["runs"].([]any)
	require.True(t, ok)
	first, ok := runs[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "run_20250131_090000", first["name"])
	require.Greater(t, first["size_bytes"], float64(0))
}

func TestLatestRunSummary(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	writeRun(t, base, "run_20250131_090000", sampleTrace, []string{
		`{"iteration":2,"reason":"regression"}`,
	})

	srv := NewServer(testServerConfig(base), nil, nil)
	rec, body := doRequest(t, srv.Handler(), http.MethodGet, "/v1/runs/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "run_20250131_090000", body["name"])
	require.EqualValues(t, 3, body["iterations"])
	require.EqualValues(t, 82.0, body["final_max_temp"])
	require.EqualValues(t, 120.0, body["best_penalty"])
	require.Equal(t, string(experiment.TrendDescending), body["trend"])
	require.EqualValues(t, 1, body["rollbacks"])
}

func TestLatestRunNotFound(t *testing.T) {
	t.Parallel()

	srv := NewServer(testServerConfig(t.TempDir()), nil, nil)
	rec, _ := doRequest(t, srv.Handler(), http.MethodGet, "/v1/runs/latest")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTracePaginates(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	writeRun(t, base, "run_20250131_090000", sampleTrace, nil)

	srv := NewServer(testServerConfig(base), nil, nil)
	rec, body := doRequest(t, srv.Handler(), http.MethodGet, "/v1/runs/run_20250131_090000/trace?limit=1&offset=1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 3, body["total"])

	records, ok := body["records"].([]any)
	require.True(t, ok)
	require.Len(t, records, 1)
	rec0, ok := records[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "s_0002", rec0["state_id"])
	require.EqualValues(t, 2, rec0["iteration"])
}

func TestGetTraceCarriesExtraColumns(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	trace := "iteration,max_temp,min_clearance,num_violations,penalty_score,state_id,effectiveness_score\n" +
		"1,85.0,3.0,2,180.0,s_0001,0.42\n"
	writeRun(t, base, "run_20250131_090000", trace, nil)

	srv := NewServer(testServerConfig(base), nil, nil)
	rec, body := doRequest(t, srv.Handler(), http.MethodGet, "/v1/runs/run_20250131_090000/trace")
	require.Equal(t, http.StatusOK, rec.Code)

	records, ok := body["records"].([]any)
	require.True(t, ok)
	require.Len(t, records, 1)
	rec0, ok := records[0].(map[string]any)
	require.True(t, ok)
	extra, ok := rec0["extra"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "0.42", extra["effectiveness_score"])
	require.Equal(t, "1", extra["iteration"])
}

func TestGetTraceUnknownRun(t *testing.T) {
	t.Parallel()

	srv := NewServer(testServerConfig(t.TempDir()), nil, nil)
	rec, _ := doRequest(t, srv.Handler(), http.MethodGet, "/v1/runs/run_nope/trace")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTraceRejectsTraversal(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	writeRun(t, base, "run_20250131_090000", sampleTrace, nil)

	srv := NewServer(testServerConfig(base), nil, nil)
	rec, _ := doRequest(t, srv.Handler(), http.MethodGet, "/v1/runs/run_..backup/trace")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doRequest(t, srv.Handler(), http.MethodGet, "/v1/runs/other_name/trace")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRollbacks(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	writeRun(t, base, "run_20250131_090000", sampleTrace, []string{
		`{"iteration":2,"timestamp":"2025-01-31T09:02:11","reason":"constraint regression","from_state":"s_0002","to_state":"s_0001","penalty_before":150.0,"penalty_after":180.0}`,
		`not json`,
		`{"iteration":3,"reason":"penalty spike"}`,
	})

	srv := NewServer(testServerConfig(base), nil, nil)
	rec, body := doRequest(t, srv.Handler(), http.MethodGet, "/v1/runs/run_20250131_090000/rollbacks")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 2, body["total"])

	events, ok := body["events"].([]any)
	require.True(t, ok)
	evt, ok := events[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "constraint regression", evt["reason"])
	require.Equal(t, "s_0001", evt["to_state"])
}

func TestObservedUnavailableWithoutRepo(t *testing.T) {
	t.Parallel()

	srv := NewServer(testServerConfig(t.TempDir()), nil, nil)
	rec, _ := doRequest(t, srv.Handler(), http.MethodGet, "/v1/observed")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestObservedEndpoints(t *testing.T) {
	t.Parallel()

	seen := time.Unix(1738310400, 0).UTC()
	repo := &fakeRepo{
		runs: map[string]store.RunRecord{
			"run_20250131_090000": {
				SessionID:   uuid.New(),
				Name:        "run_20250131_090000",
				FirstSeenAt: seen,
				Status:      store.RunWatching,
				Iterations:  4,
				Rollbacks:   1,
			},
		},
	}

	srv := NewServer(testServerConfig(t.TempDir()), repo, nil)

	rec, body := doRequest(t, srv.Handler(), http.MethodGet, "/v1/observed")
	require.Equal(t, http.StatusOK, rec.Code)
	runs, ok := body["runs"].([]any)
	require.True(t, ok)
	require.Len(t, runs, 1)

	rec, body = doRequest(t, srv.Handler(), http.MethodGet, "/v1/observed/run_20250131_090000")
	require.Equal(t, http.StatusOK, rec.Code)
	run, ok := body["run"].(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 4, run["iterations"])
	require.Equal(t, string(store.RunWatching), run["status"])

	rec, _ = doRequest(t, srv.Handler(), http.MethodGet, "/v1/observed/run_unknown")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doRequest(t, srv.Handler(), http.MethodGet, "/v1/observed?limit=bogus")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeRepo struct {
	runs map[string]store.RunRecord
}

func (f *fakeRepo) UpsertRunStart(context.Context, uuid.UUID, string, time.Time) error {
	return nil
}

func (f *fakeRepo) RecordIteration(context.Context, store.IterationRecord) error {
	return nil
}

func (f *fakeRepo) UpdateRollbacks(context.Context, string, int, time.Time) error {
	return nil
}

func (f *fakeRepo) CompleteRun(context.Context, string, time.Time, int) error {
	return nil
}

func (f *fakeRepo) GetRun(_ context.Context, runName string) (store.RunRecord, error) {
	rec, ok := f.runs[runName]
	if !ok {
		return store.RunRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (f *fakeRepo) ListRuns(context.Context, int, int) ([]store.RunRecord, error) {
	recs := make([]store.RunRecord, 0, len(f.runs))
	for _, rec := range f.runs {
		recs = append(recs, rec)
	}
	return recs, nil
}
