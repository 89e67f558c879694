package arcgis

import (
	"context"
	"fmt"

	"github.com/EmpoweredVote/discovery-summary/internal/config"
	"github.com/EmpoweredVote/discovery-summary/internal/refresh"
	"github.com/EmpoweredVote/discovery-summary/internal/summary"
	"github.com/paulmach/orb/geojson"
)

func init() {
	refresh.RegisterLoader(config.BackendArcGIS, func(cfg config.Config, deps refresh.Deps) (refresh.Loader, error) {
		return NewSource(clientFor(cfg, deps), cfg.ArcGIS), nil
	})
	refresh.RegisterPublisher(config.BackendArcGIS, func(cfg config.Config, deps refresh.Deps) (refresh.Publisher, error) {
		return NewSink(clientFor(cfg, deps), cfg.ArcGIS.SummaryURL, cfg.Pipeline.BatchSize), nil
	})
}

func clientFor(cfg config.Config, deps refresh.Deps) *Client {
	return NewClient(cfg.ArcGIS.Token, cfg.ArcGIS.RequestsPerMinute, cfg.ArcGIS.PageSize, deps.HTTPClient)
}

// Boundary layer attribute names.
const (
	fieldChapter  = "Chapter"
	fieldRegion   = "Region"
	fieldDivision = "Division"
	fieldCounty   = "County"
	fieldState    = "State"
)

// Source loads the activity layer and both boundary layers from hosted
// feature services.
type Source struct {
	client        *Client
	activitiesURL string
	chaptersURL   string
	countiesURL   string
}

// NewSource creates a Source reading the layers named in cfg.
func NewSource(client *Client, cfg config.ArcGISConfig) *Source {
	return &Source{
		client:        client,
		activitiesURL: cfg.ActivitiesURL,
		chaptersURL:   cfg.ChaptersURL,
		countiesURL:   cfg.CountiesURL,
	}
}

func (s *Source) Name() string { return string(config.BackendArcGIS) }

func (s *Source) Load(ctx context.Context) (summary.Input, error) {
	acts, err := s.loadActivities(ctx)
	if err != nil {
		return summary.Input{}, fmt.Errorf("activities layer: %w", err)
	}
	in, err := s.LoadBoundaries(ctx)
	if err != nil {
		return in, err
	}
	in.Activities = acts
	return in, nil
}

// LoadBoundaries fetches only the chapter and county layers.
func (s *Source) LoadBoundaries(ctx context.Context) (summary.Input, error) {
	var in summary.Input

	chapters, err := s.client.QueryFeatures(ctx, s.chaptersURL, fieldChapter+","+fieldRegion+","+fieldDivision)
	if err != nil {
		return in, fmt.Errorf("chapter layer: %w", err)
	}
	for _, f := range chapters {
		in.Chapters = append(in.Chapters, summary.Boundary[summary.ChapterAttrs]{
			Attributes: summary.ChapterAttrs{
				Chapter:  property(f, fieldChapter),
				Region:   property(f, fieldRegion),
				Division: property(f, fieldDivision),
			},
			Geometry: f.Geometry,
		})
	}

	counties, err := s.client.QueryFeatures(ctx, s.countiesURL, fieldCounty+","+fieldState)
	if err != nil {
		return in, fmt.Errorf("county layer: %w", err)
	}
	for _, f := range counties {
		in.Counties = append(in.Counties, summary.Boundary[summary.CountyAttrs]{
			Attributes: summary.CountyAttrs{
				County: property(f, fieldCounty),
				State:  property(f, fieldState),
			},
			Geometry: f.Geometry,
		})
	}
	return in, nil
}

func (s *Source) loadActivities(ctx context.Context) (summary.ActivityTable, error) {
	var table summary.ActivityTable

	info, err := s.client.Describe(ctx, s.activitiesURL)
	if err != nil {
		return table, err
	}
	table.Columns = info.FieldNames()
	oidField, _ := info.FindObjectIDField()

	features, err := s.client.QueryFeatures(ctx, s.activitiesURL, "*")
	if err != nil {
		return table, err
	}
	table.Records = make([]summary.RawActivity, 0, len(features))
	for i, f := range features {
		table.Records = append(table.Records, summary.RawActivity{
			ID:         featureID(f, oidField, i),
			Geometry:   f.Geometry,
			Attributes: map[string]any(f.Properties),
		})
	}
	return table, nil
}

func featureID(f *geojson.Feature, oidField string, i int) string {
	if f.ID != nil {
		if s, ok := summary.Attribute(f.ID); ok {
			return s
		}
	}
	if oidField != "" {
		if s, ok := summary.Attribute(f.Properties[oidField]); ok {
			return s
		}
	}
	return fmt.Sprintf("#%d", i)
}

func property(f *geojson.Feature, name string) string {
	s, _ := summary.Attribute(f.Properties[name])
	return s
}
