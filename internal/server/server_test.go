package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/EmpoweredVote/discovery-summary/internal/refresh"
	"github.com/EmpoweredVote/discovery-summary/internal/store"
	"github.com/EmpoweredVote/discovery-summary/internal/summary"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const adminToken = "let-me-in"

type fakeStore struct {
	rows []summary.SummaryRow
	err  error
}

func (f *fakeStore) ListSummary(ctx context.Context, geoType summary.GeoType) ([]summary.SummaryRow, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []summary.SummaryRow
	for _, r := range f.rows {
		if geoType == "" || r.GeoType == geoType {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) FindBoundariesByPoint(ctx context.Context, lat, lng float64) (store.PointMatch, error) {
	if lat > 0 {
		return store.PointMatch{Chapter: &summary.ChapterAttrs{Chapter: "North", Region: "R", Division: "D"}}, nil
	}
	return store.PointMatch{}, nil
}

func (f *fakeStore) ListRuns(ctx context.Context, limit int) ([]store.RefreshRun, error) {
	return []store.RefreshRun{{Status: "success"}}, f.err
}

type emptyLoader struct{}

func (emptyLoader) Name() string { return "empty" }
func (emptyLoader) Load(ctx context.Context) (summary.Input, error) {
	return summary.Input{}, nil
}

type nopPublisher struct{}

func (nopPublisher) Name() string { return "nop" }
func (nopPublisher) Publish(ctx context.Context, rows []summary.SummaryRow) (refresh.PublishReport, error) {
	return refresh.PublishReport{Added: len(rows)}, nil
}

func newTestServer(t *testing.T, st SummaryStore) *httptest.Server {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(adminToken), bcrypt.MinCost)
	require.NoError(t, err)

	jobs := refresh.NewJobs(&refresh.Runner{Loader: emptyLoader{}, Publisher: nopPublisher{}})
	reg := prometheus.NewRegistry()
	refresh.RegisterMetrics(reg)

	srv := httptest.NewServer(New(jobs, st, string(hash), reg).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp, readAll(t, resp)
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func adminRequest(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestGetSummary(t *testing.T) {
	st := &fakeStore{rows: []summary.SummaryRow{
		{GeoType: summary.GeoTotal, GeoName: summary.TotalName, ActivityCount: 3, IndividualCount: 2},
		{GeoType: summary.GeoCounty, GeoName: "Adams", ParentName: "WA | North", ActivityCount: 1},
	}}
	srv := newTestServer(t, st)

	resp, body := get(t, srv.URL+"/summary?geo_type=County")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rows []summary.SummaryRow
	require.NoError(t, json.Unmarshal([]byte(body), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "WA | North", rows[0].ParentName)

	resp, _ = get(t, srv.URL+"/summary")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = get(t, srv.URL+"/summary?geo_type=Planet")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetSummary_NotInitialized(t *testing.T) {
	srv := newTestServer(t, &fakeStore{err: fmt.Errorf("list summary: %w", store.ErrNotInitialized)})

	resp, _ := get(t, srv.URL+"/summary")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGetSummary_NoStore(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, _ := get(t, srv.URL+"/summary")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestLocate(t *testing.T) {
	srv := newTestServer(t, &fakeStore{})

	resp, body := get(t, srv.URL+"/locate?lat=47.6&lng=-122.3")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var m store.PointMatch
	require.NoError(t, json.Unmarshal([]byte(body), &m))
	require.NotNil(t, m.Chapter)
	assert.Equal(t, "North", m.Chapter.Chapter)
	assert.Nil(t, m.County)

	for _, q := range []string{"lat=abc&lng=1", "lat=91&lng=0", "lng=1"} {
		resp, _ := get(t, srv.URL+"/locate?"+q)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestAdminRefresh(t *testing.T) {
	srv := newTestServer(t, &fakeStore{})

	resp, _ := get(t, srv.URL+"/admin/refresh")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = adminRequest(t, http.MethodPost, srv.URL+"/admin/refresh", `{"dry_run": true}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var started map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	resp.Body.Close()
	require.NotEmpty(t, started["job_id"])

	require.Eventually(t, func() bool {
		resp := adminRequest(t, http.MethodGet, srv.URL+"/admin/refresh/"+started["job_id"], "")
		defer resp.Body.Close()
		var job refresh.Job
		if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
			return false
		}
		return job.Status == refresh.JobCompleted && job.DryRun
	}, 2*time.Second, 10*time.Millisecond)

	resp = adminRequest(t, http.MethodGet, srv.URL+"/admin/refresh", "")
	var jobs []refresh.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&jobs))
	resp.Body.Close()
	assert.Len(t, jobs, 1)

	resp = adminRequest(t, http.MethodGet, srv.URL+"/admin/refresh/not-a-uuid", "")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = adminRequest(t, http.MethodPost, srv.URL+"/admin/refresh", `{bad`)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminRuns(t *testing.T) {
	srv := newTestServer(t, &fakeStore{})

	resp := adminRequest(t, http.MethodGet, srv.URL+"/admin/runs?limit=5", "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var runs []store.RefreshRun
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	assert.Len(t, runs, 1)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, body := get(t, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "discovery_summary_run_duration_seconds")
}
