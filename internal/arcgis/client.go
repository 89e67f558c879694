package arcgis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/EmpoweredVote/discovery-summary/internal/logger"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/time/rate"
)

// DefaultPageSize is the number of features requested per query page.
const DefaultPageSize = 2000

// ErrNoObjectIDField is returned when a layer exposes no object id field.
var ErrNoObjectIDField = errors.New("layer has no objectid field")

// APIError is an error envelope returned by the REST API, usually with HTTP 200.
type APIError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

func (e *APIError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("arcgis error %d: %s (%s)", e.Code, e.Message, strings.Join(e.Details, "; "))
	}
	return fmt.Sprintf("arcgis error %d: %s", e.Code, e.Message)
}

// Client is an HTTP client for ArcGIS feature layers. The token, when set,
// is an already acquired session token; acquiring it is not this client's job.
type Client struct {
	token      string
	pageSize   int
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client. rpm caps requests per minute; 0 disables the
// limit. A nil httpClient gets a 60s-timeout default.
func NewClient(token string, rpm, pageSize int, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if rpm > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)
	}
	return &Client{
		token:      token,
		pageSize:   pageSize,
		httpClient: httpClient,
		limiter:    limiter,
	}
}

// Field describes one attribute field of a layer.
type Field struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Alias string `json:"alias"`
}

// LayerInfo is the subset of layer metadata the refresh needs.
type LayerInfo struct {
	Name          string  `json:"name"`
	ObjectIDField string  `json:"objectIdField"`
	Fields        []Field `json:"fields"`
}

// FieldNames returns the field names in schema order.
func (l LayerInfo) FieldNames() []string {
	out := make([]string, 0, len(l.Fields))
	for _, f := range l.Fields {
		out = append(out, f.Name)
	}
	return out
}

// FindObjectIDField returns the first field whose name contains "objectid"
// (case-insensitive), falling back to the declared objectIdField.
func (l LayerInfo) FindObjectIDField() (string, error) {
	for _, f := range l.Fields {
		if strings.Contains(strings.ToLower(f.Name), "objectid") {
			return f.Name, nil
		}
	}
	if l.ObjectIDField != "" {
		return l.ObjectIDField, nil
	}
	return "", ErrNoObjectIDField
}

// Describe fetches the layer metadata.
func (c *Client) Describe(ctx context.Context, layerURL string) (*LayerInfo, error) {
	params := url.Values{}
	params.Set("f", "json")

	body, err := c.get(ctx, layerURL, params)
	if err != nil {
		return nil, fmt.Errorf("describe layer: %w", err)
	}
	var info LayerInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode layer info: %w", err)
	}
	return &info, nil
}

// exceededTransferLimit reads the paging flag the service adds to a geojson
// response, either under "properties" or as a top-level member.
func exceededTransferLimit(fc *geojson.FeatureCollection) bool {
	if v, ok := fc.ExtraMembers["exceededTransferLimit"].(bool); ok {
		return v
	}
	props, ok := fc.ExtraMembers["properties"].(map[string]any)
	if !ok {
		return false
	}
	v, _ := props["exceededTransferLimit"].(bool)
	return v
}

// QueryFeatures pages through every feature of the layer as GeoJSON in
// WGS84. outFields is a comma separated list or "*".
func (c *Client) QueryFeatures(ctx context.Context, layerURL, outFields string) ([]*geojson.Feature, error) {
	var all []*geojson.Feature
	for offset := 0; ; {
		params := c.queryParams(outFields, offset)
		params.Set("f", "geojson")
		params.Set("returnGeometry", "true")
		params.Set("outSR", "4326")

		body, err := c.get(ctx, layerURL+"/query", params)
		if err != nil {
			return nil, fmt.Errorf("query features: %w", err)
		}
		fc, err := geojson.UnmarshalFeatureCollection(body)
		if err != nil {
			return nil, fmt.Errorf("decode features: %w", err)
		}

		all = append(all, fc.Features...)
		offset += len(fc.Features)
		if len(fc.Features) == 0 || (!exceededTransferLimit(fc) && len(fc.Features) < c.pageSize) {
			break
		}
	}
	return all, nil
}

type attributesPage struct {
	Features []struct {
		Attributes map[string]any `json:"attributes"`
	} `json:"features"`
	ExceededTransferLimit bool `json:"exceededTransferLimit"`
}

// QueryAttributes pages through the attribute table without geometry.
func (c *Client) QueryAttributes(ctx context.Context, layerURL, outFields string) ([]map[string]any, error) {
	var all []map[string]any
	for offset := 0; ; {
		params := c.queryParams(outFields, offset)
		params.Set("f", "json")
		params.Set("returnGeometry", "false")

		body, err := c.get(ctx, layerURL+"/query", params)
		if err != nil {
			return nil, fmt.Errorf("query attributes: %w", err)
		}
		var page attributesPage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
		for _, f := range page.Features {
			all = append(all, f.Attributes)
		}
		offset += len(page.Features)
		if len(page.Features) == 0 || (!page.ExceededTransferLimit && len(page.Features) < c.pageSize) {
			break
		}
	}
	return all, nil
}

// ObjectIDs lists the object ids of every feature in the layer, keyed by
// the field FindObjectIDField picks.
func (c *Client) ObjectIDs(ctx context.Context, layerURL string) ([]int64, error) {
	info, err := c.Describe(ctx, layerURL)
	if err != nil {
		return nil, err
	}
	field, err := info.FindObjectIDField()
	if err != nil {
		return nil, err
	}
	rows, err := c.QueryAttributes(ctx, layerURL, field)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		id, ok := toInt64(row[field])
		if !ok {
			return nil, fmt.Errorf("feature has non-numeric %s: %v", field, row[field])
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case int64:
		return t, true
	case int:
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func (c *Client) queryParams(outFields string, offset int) url.Values {
	params := url.Values{}
	params.Set("where", "1=1")
	params.Set("outFields", outFields)
	params.Set("resultOffset", strconv.Itoa(offset))
	params.Set("resultRecordCount", strconv.Itoa(c.pageSize))
	return params
}

// Feature is an attribute-only feature for applyEdits.
type Feature struct {
	Attributes map[string]any `json:"attributes"`
}

// EditResult is the outcome of one add or delete.
type EditResult struct {
	ObjectID int64     `json:"objectId"`
	Success  bool      `json:"success"`
	Error    *APIError `json:"error,omitempty"`
}

// EditResponse is the body of an applyEdits call.
type EditResponse struct {
	AddResults    []EditResult `json:"addResults"`
	DeleteResults []EditResult `json:"deleteResults"`
}

// Succeeded counts successful results.
func Succeeded(results []EditResult) int {
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	return n
}

// ApplyEdits adds and deletes features in one call. Batching is the caller's job.
func (c *Client) ApplyEdits(ctx context.Context, layerURL string, adds []Feature, deletes []int64) (*EditResponse, error) {
	form := url.Values{}
	form.Set("f", "json")
	form.Set("rollbackOnFailure", "false")
	if len(adds) > 0 {
		raw, err := json.Marshal(adds)
		if err != nil {
			return nil, fmt.Errorf("encode adds: %w", err)
		}
		form.Set("adds", string(raw))
	}
	if len(deletes) > 0 {
		ids := make([]string, len(deletes))
		for i, id := range deletes {
			ids[i] = strconv.FormatInt(id, 10)
		}
		form.Set("deletes", strings.Join(ids, ","))
	}

	body, err := c.post(ctx, layerURL+"/applyEdits", form)
	if err != nil {
		return nil, fmt.Errorf("apply edits: %w", err)
	}
	var resp EditResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode edit results: %w", err)
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if c.token != "" {
		params.Set("token", c.token)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	if c.token != "" {
		form.Set("token", c.token)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	start := time.Now()
	log := logger.Component("arcgis").WithField("method", req.Method).WithField("url", req.URL.Path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Error("request failed")
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	log.WithField("status", resp.StatusCode).
		WithField("duration_ms", time.Since(start).Milliseconds()).
		Debug("response")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arcgis status %d", resp.StatusCode)
	}

	var env struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		return nil, env.Error
	}
	return body, nil
}
