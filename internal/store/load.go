package store

import (
	"context"
	"fmt"

	"github.com/EmpoweredVote/discovery-summary/internal/summary"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const (
	geomColumn     = "geom"
	geoJSONColumn  = "geom_geojson"
	objectIDColumn = "objectid"
)

// Load reads every activity and both boundary layers.
func (s *Store) Load(ctx context.Context) (summary.Input, error) {
	var in summary.Input

	acts, err := s.loadActivities(ctx)
	if err != nil {
		return in, err
	}
	in.Activities = acts

	if in.Chapters, err = s.loadChapters(ctx); err != nil {
		return in, err
	}
	if in.Counties, err = s.loadCounties(ctx); err != nil {
		return in, err
	}
	return in, nil
}

// loadActivities selects every column so field discovery sees the table's
// real schema, plus the point as GeoJSON.
func (s *Store) loadActivities(ctx context.Context) (summary.ActivityTable, error) {
	var table summary.ActivityTable

	rows, err := s.db.WithContext(ctx).
		Raw(`SELECT *, ST_AsGeoJSON(geom) AS ` + geoJSONColumn + ` FROM discovery.activities ORDER BY ` + objectIDColumn).
		Rows()
	if err != nil {
		return table, wrap("query activities", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return table, fmt.Errorf("activity columns: %w", err)
	}
	for _, c := range cols {
		if c != geomColumn && c != geoJSONColumn {
			table.Columns = append(table.Columns, c)
		}
	}

	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return table, fmt.Errorf("scan activity: %w", err)
		}
		raw := summary.RawActivity{Attributes: make(map[string]any, len(cols))}
		for i, c := range cols {
			switch c {
			case geomColumn:
			case geoJSONColumn:
				raw.Geometry = parseGeometry(vals[i])
			default:
				raw.Attributes[c] = vals[i]
			}
		}
		raw.ID, _ = summary.Attribute(raw.Attributes[objectIDColumn])
		table.Records = append(table.Records, raw)
	}
	return table, wrap("read activities", rows.Err())
}

type chapterRow struct {
	Chapter  string
	Region   string
	Division string
	GeoJSON  *string `gorm:"column:geo_json"`
}

type countyRow struct {
	County  string
	State   string
	GeoJSON *string `gorm:"column:geo_json"`
}

func (s *Store) loadChapters(ctx context.Context) ([]summary.Boundary[summary.ChapterAttrs], error) {
	var rows []chapterRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT COALESCE(chapter, '') AS chapter, COALESCE(region, '') AS region,
		       COALESCE(division, '') AS division, ST_AsGeoJSON(geom) AS geo_json
		FROM discovery.chapter_boundaries
		ORDER BY id
	`).Scan(&rows).Error
	if err != nil {
		return nil, wrap("query chapter boundaries", err)
	}

	out := make([]summary.Boundary[summary.ChapterAttrs], 0, len(rows))
	for _, r := range rows {
		out = append(out, summary.Boundary[summary.ChapterAttrs]{
			Attributes: summary.ChapterAttrs{Chapter: r.Chapter, Region: r.Region, Division: r.Division},
			Geometry:   parseGeometry(r.GeoJSON),
		})
	}
	return out, nil
}

func (s *Store) loadCounties(ctx context.Context) ([]summary.Boundary[summary.CountyAttrs], error) {
	var rows []countyRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT COALESCE(county, '') AS county, COALESCE(state, '') AS state,
		       ST_AsGeoJSON(geom) AS geo_json
		FROM discovery.county_boundaries
		ORDER BY id
	`).Scan(&rows).Error
	if err != nil {
		return nil, wrap("query county boundaries", err)
	}

	out := make([]summary.Boundary[summary.CountyAttrs], 0, len(rows))
	for _, r := range rows {
		out = append(out, summary.Boundary[summary.CountyAttrs]{
			Attributes: summary.CountyAttrs{County: r.County, State: r.State},
			Geometry:   parseGeometry(r.GeoJSON),
		})
	}
	return out, nil
}

// parseGeometry decodes a GeoJSON geometry column. Null or malformed values
// yield nil, which the pipeline reports as unlocated or skips.
func parseGeometry(v any) orb.Geometry {
	var data []byte
	switch t := v.(type) {
	case string:
		data = []byte(t)
	case *string:
		if t == nil {
			return nil
		}
		data = []byte(*t)
	case []byte:
		data = t
	default:
		return nil
	}
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil
	}
	return g.Geometry()
}
