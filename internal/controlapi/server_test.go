package controlapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/causalprof/profilomatic/internal/repository"
	apperrors "github.com/causalprof/profilomatic/pkg/errors"
	"github.com/causalprof/profilomatic/pkg/profiler"
)

type fakeStatsSource struct {
	stats profiler.Stats
}

func (f *fakeStatsSource) Stats() profiler.Stats { return f.stats }

type fakeRunRepository struct {
	runs map[int64]*repository.RunRecord
}

func (f *fakeRunRepository) CreateRun(ctx context.Context, sourceName string) (int64, error) {
	return 0, nil
}
func (f *fakeRunRepository) UpdateCounters(ctx context.Context, id int64, counters repository.RunCounters) error {
	return nil
}
func (f *fakeRunRepository) FinishRun(ctx context.Context, id int64) error { return nil }
func (f *fakeRunRepository) GetRun(ctx context.Context, id int64) (*repository.RunRecord, error) {
	run, ok := f.runs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return run, nil
}
func (f *fakeRunRepository) RecentRuns(ctx context.Context, limit int) ([]*repository.RunRecord, error) {
	out := make([]*repository.RunRecord, 0, len(f.runs))
	for _, r := range f.runs {
		out = append(out, r)
	}
	return out, nil
}

func newTestServer() *Server {
	return New("127.0.0.1:0",
		&fakeStatsSource{stats: profiler.Stats{Dropped: 2, Malformed: 1, CapExceeded: 0, Queued: 5}},
		&fakeRunRepository{runs: map[int64]*repository.RunRecord{1: {ID: 1, SourceName: "worker-a"}}},
		nil,
	)
}

func TestServer_HealthEndpoint(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestServer_StatsEndpoint(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var stats profiler.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, int64(2), stats.Dropped)
}

func TestServer_StatsEndpoint_Unconfigured(t *testing.T) {
	s := New("127.0.0.1:0", nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_RunEndpoint(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/runs/1", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var run repository.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	require.Equal(t, "worker-a", run.SourceName)
}

func TestServer_RunEndpoint_InvalidID(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/runs/not-a-number", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RecentRunsEndpoint(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var runs []repository.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
}
