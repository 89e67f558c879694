package arcgis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EmpoweredVote/discovery-summary/internal/config"
	"github.com/EmpoweredVote/discovery-summary/internal/summary"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pointFeature(id int, x, y float64, props map[string]any) map[string]any {
	return map[string]any{
		"type":       "Feature",
		"id":         id,
		"geometry":   map[string]any{"type": "Point", "coordinates": []float64{x, y}},
		"properties": props,
	}
}

func squareFeature(x0, y0, x1, y1 float64, props map[string]any) map[string]any {
	ring := [][]float64{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}
	return map[string]any{
		"type":       "Feature",
		"geometry":   map[string]any{"type": "Polygon", "coordinates": [][][]float64{ring}},
		"properties": props,
	}
}

// fakeService serves a handful of layers the way a hosted feature server does.
type fakeService struct {
	t        *testing.T
	layers   map[string][]map[string]any // geojson features per layer
	fields   map[string][]string
	mu       sync.Mutex
	summary  []int64 // object ids in the summary layer
	nextID   int64
	adds     int
	deletes  []int64
	failAdd  int // 1-based add call that fails with HTTP 500
	addCalls int
	tokens   []string
}

func newFakeService(t *testing.T) *fakeService {
	return &fakeService{
		t: t,
		layers: map[string][]map[string]any{
			"activities": {
				pointFeature(1, 0.5, 0.5, map[string]any{"OBJECTID": 1, "Creator": "ann", "Describe_Activity": "Shelter drill"}),
				pointFeature(2, 1.5, 0.5, map[string]any{"OBJECTID": 2, "Creator": "bob", "Describe_Activity": nil}),
				pointFeature(3, 9, 9, map[string]any{"OBJECTID": 3, "Creator": "ann", "Describe_Activity": "nan"}),
			},
			"chapters": {
				squareFeature(0, 0, 1, 1, map[string]any{"Chapter": "North", "Region": "R1", "Division": "D1"}),
				squareFeature(1, 0, 2, 1, map[string]any{"Chapter": "South", "Region": "R1", "Division": "D1"}),
			},
			"counties": {
				squareFeature(0, 0, 2, 1, map[string]any{"County": "Adams", "State": "WA"}),
			},
		},
		fields: map[string][]string{
			"activities": {"OBJECTID", "Creator", "Describe_Activity", "GlobalID"},
			"summary":    {"ObjectId", "geo_type", "geo_name"},
		},
		summary: []int64{101, 102, 103},
		nextID:  200,
	}
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.tokens = append(f.tokens, r.Form.Get("token"))
	f.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	layer := parts[0]
	switch {
	case len(parts) == 1:
		f.describe(w, layer)
	case parts[1] == "query" && r.Form.Get("f") == "geojson":
		f.queryGeoJSON(w, r, layer)
	case parts[1] == "query":
		f.queryIDs(w, r)
	case parts[1] == "applyEdits":
		f.applyEdits(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeService) describe(w http.ResponseWriter, layer string) {
	names, ok := f.fields[layer]
	if !ok {
		writeJSON(w, map[string]any{"error": map[string]any{"code": 400, "message": "Invalid URL"}})
		return
	}
	fields := make([]map[string]any, len(names))
	for i, n := range names {
		fields[i] = map[string]any{"name": n, "type": "esriFieldTypeString"}
	}
	writeJSON(w, map[string]any{"name": layer, "objectIdField": names[0], "fields": fields})
}

func page(r *http.Request, total int) (int, int, bool) {
	offset, _ := strconv.Atoi(r.Form.Get("resultOffset"))
	count, _ := strconv.Atoi(r.Form.Get("resultRecordCount"))
	end := min(offset+count, total)
	if offset > total {
		offset = total
	}
	return offset, end, end < total
}

func (f *fakeService) queryGeoJSON(w http.ResponseWriter, r *http.Request, layer string) {
	all := f.layers[layer]
	start, end, more := page(r, len(all))
	body := map[string]any{"type": "FeatureCollection", "features": all[start:end]}
	if more {
		body["properties"] = map[string]any{"exceededTransferLimit": true}
	}
	writeJSON(w, body)
}

func (f *fakeService) queryIDs(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	field := r.Form.Get("outFields")
	start, end, more := page(r, len(f.summary))
	features := make([]map[string]any, 0, end-start)
	for _, id := range f.summary[start:end] {
		features = append(features, map[string]any{"attributes": map[string]any{field: id}})
	}
	writeJSON(w, map[string]any{"features": features, "exceededTransferLimit": more})
}

func (f *fakeService) applyEdits(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var resp EditResponse

	if raw := r.Form.Get("deletes"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(s, 10, 64)
			assert.NoError(f.t, err)
			f.deletes = append(f.deletes, id)
			resp.DeleteResults = append(resp.DeleteResults, EditResult{ObjectID: id, Success: true})
		}
	}
	if raw := r.Form.Get("adds"); raw != "" {
		f.addCalls++
		if f.addCalls == f.failAdd {
			http.Error(w, "busy", http.StatusInternalServerError)
			return
		}
		var adds []Feature
		assert.NoError(f.t, json.Unmarshal([]byte(raw), &adds))
		for range adds {
			f.nextID++
			f.adds++
			resp.AddResults = append(resp.AddResults, EditResult{ObjectID: f.nextID, Success: true})
		}
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testConfig(base string) config.ArcGISConfig {
	return config.ArcGISConfig{
		ActivitiesURL: base + "/activities",
		ChaptersURL:   base + "/chapters",
		CountiesURL:   base + "/counties",
		SummaryURL:    base + "/summary",
	}
}

func TestSource_Load(t *testing.T) {
	svc := newFakeService(t)
	srv := httptest.NewServer(svc)
	defer srv.Close()

	client := NewClient("tok", 0, 2, srv.Client())
	in, err := NewSource(client, testConfig(srv.URL)).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"OBJECTID", "Creator", "Describe_Activity", "GlobalID"}, in.Activities.Columns)
	require.Len(t, in.Activities.Records, 3, "all pages are fetched")
	assert.Equal(t, "1", in.Activities.Records[0].ID)
	assert.Equal(t, "ann", in.Activities.Records[0].Attributes["Creator"])

	require.Len(t, in.Chapters, 2)
	assert.Equal(t, summary.ChapterAttrs{Chapter: "North", Region: "R1", Division: "D1"}, in.Chapters[0].Attributes)
	require.Len(t, in.Counties, 1)
	assert.Equal(t, "WA", in.Counties[0].Attributes.State)

	svc.mu.Lock()
	for _, tok := range svc.tokens {
		assert.Equal(t, "tok", tok)
	}
	svc.mu.Unlock()

	res, err := summary.Compute(context.Background(), in, summary.Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stats.Activities)
	assert.Equal(t, 2, res.Stats.ChapterMatches)
	assert.Equal(t, 2, res.Stats.CountyMatches)
}

func TestSource_LayerError(t *testing.T) {
	svc := newFakeService(t)
	srv := httptest.NewServer(svc)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.ActivitiesURL = srv.URL + "/missing"
	_, err := NewSource(NewClient("", 0, 0, srv.Client()), cfg).Load(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Code)
}

func summaryRows(n int) []summary.SummaryRow {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]summary.SummaryRow, n)
	for i := range rows {
		rows[i] = summary.SummaryRow{GeoType: summary.GeoIndividual, GeoName: "p" + strconv.Itoa(i), ActivityCount: 1, LastUpdated: now}
	}
	return rows
}

func TestSink_Publish(t *testing.T) {
	svc := newFakeService(t)
	srv := httptest.NewServer(svc)
	defer srv.Close()

	sink := NewSink(NewClient("", 0, 2, srv.Client()), srv.URL+"/summary", 2)
	rep, err := sink.Publish(context.Background(), summaryRows(5))
	require.NoError(t, err)
	require.NoError(t, rep.Err())

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, []int64{101, 102, 103}, svc.deletes)
	assert.Equal(t, 3, rep.Deleted)
	assert.Equal(t, 5, rep.Added)
	assert.Equal(t, 3, svc.addCalls, "five rows in batches of two")
}

func TestSink_PartialFailure(t *testing.T) {
	svc := newFakeService(t)
	svc.failAdd = 2
	srv := httptest.NewServer(svc)
	defer srv.Close()

	sink := NewSink(NewClient("", 0, 0, srv.Client()), srv.URL+"/summary", 2)
	rep, err := sink.Publish(context.Background(), summaryRows(5))
	require.NoError(t, err)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, 3, svc.addCalls, "failed batches are not retried")
	assert.Equal(t, 3, rep.Added)
	assert.Equal(t, 2, rep.FailedAdds)
	assert.Equal(t, 1, rep.FailedBatches)
	assert.Len(t, rep.Errors, 1)
	assert.Error(t, rep.Err())
}

func TestExceededTransferLimit(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"under properties", `{"type":"FeatureCollection","features":[],"properties":{"exceededTransferLimit":true}}`, true},
		{"top level", `{"type":"FeatureCollection","features":[],"exceededTransferLimit":true}`, true},
		{"properties without flag", `{"type":"FeatureCollection","features":[],"properties":{"name":"x"}}`, false},
		{"absent", `{"type":"FeatureCollection","features":[]}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc, err := geojson.UnmarshalFeatureCollection([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, exceededTransferLimit(fc))
		})
	}
}

// A page shorter than the page size still continues when the service says
// more features exist.
func TestQueryFeatures_ShortPageWithLimitFlag(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"type": "FeatureCollection"}
		if calls.Add(1) == 1 {
			body["features"] = []any{pointFeature(1, 0, 0, nil)}
			body["properties"] = map[string]any{"exceededTransferLimit": true}
		} else {
			body["features"] = []any{pointFeature(2, 1, 1, nil)}
		}
		writeJSON(w, body)
	}))
	defer srv.Close()

	got, err := NewClient("", 0, 10, srv.Client()).QueryFeatures(context.Background(), srv.URL+"/layer", "*")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLayerInfo_FindObjectIDField(t *testing.T) {
	info := LayerInfo{Fields: []Field{{Name: "geo_type"}, {Name: "ObjectId"}}}
	name, err := info.FindObjectIDField()
	require.NoError(t, err)
	assert.Equal(t, "ObjectId", name)

	info = LayerInfo{ObjectIDField: "FID", Fields: []Field{{Name: "FID"}}}
	name, err = info.FindObjectIDField()
	require.NoError(t, err)
	assert.Equal(t, "FID", name)

	_, err = LayerInfo{}.FindObjectIDField()
	assert.ErrorIs(t, err, ErrNoObjectIDField)
}

func TestToFeatures(t *testing.T) {
	rows := []summary.SummaryRow{{
		GeoType: summary.GeoCounty, GeoName: "Adams", ParentName: "WA | North",
		ActivityCount: 4, LastUpdated: time.UnixMilli(1700000000000).UTC(),
	}}
	got := toFeatures(rows)
	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{
		"geo_type":         "County",
		"geo_name":         "Adams",
		"parent_name":      "WA | North",
		"activity_count":   4,
		"individual_count": 0,
		"last_updated":     int64(1700000000000),
	}, got[0].Attributes)
}
