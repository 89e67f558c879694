package store

import (
	"context"
	"errors"

	"github.com/EmpoweredVote/discovery-summary/internal/refresh"
	"github.com/EmpoweredVote/discovery-summary/internal/summary"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// ListSummary returns the published rows in publication order. An empty
// geoType returns every row.
func (s *Store) ListSummary(ctx context.Context, geoType summary.GeoType) ([]summary.SummaryRow, error) {
	q := s.db.WithContext(ctx).Model(&SummaryRecord{}).Order("id")
	if geoType != "" {
		q = q.Where("geo_type = ?", string(geoType))
	}

	var records []SummaryRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, wrap("list summary", err)
	}
	out := make([]summary.SummaryRow, len(records))
	for i, r := range records {
		out[i] = r.row()
	}
	return out, nil
}

// PointMatch is the boundary context of a single coordinate.
type PointMatch struct {
	Chapter *summary.ChapterAttrs `json:"chapter,omitempty"`
	County  *summary.CountyAttrs  `json:"county,omitempty"`
}

// FindBoundariesByPoint performs a PostGIS point-in-polygon query against
// both boundary layers. When polygons overlap the one stored first wins,
// as in the refresh itself.
func (s *Store) FindBoundariesByPoint(ctx context.Context, lat, lng float64) (PointMatch, error) {
	var m PointMatch

	var chapters []summary.ChapterAttrs
	err := s.db.WithContext(ctx).Raw(`
		SELECT COALESCE(chapter, '') AS chapter, COALESCE(region, '') AS region,
		       COALESCE(division, '') AS division
		FROM discovery.chapter_boundaries
		WHERE ST_Covers(geom, ST_SetSRID(ST_MakePoint(?, ?), 4326))
		ORDER BY id
		LIMIT 1
	`, lng, lat).Scan(&chapters).Error
	if err != nil {
		return m, wrap("chapter lookup", err)
	}
	if len(chapters) > 0 {
		m.Chapter = &chapters[0]
	}

	var counties []summary.CountyAttrs
	err = s.db.WithContext(ctx).Raw(`
		SELECT COALESCE(county, '') AS county, COALESCE(state, '') AS state
		FROM discovery.county_boundaries
		WHERE ST_Covers(geom, ST_SetSRID(ST_MakePoint(?, ?), 4326))
		ORDER BY id
		LIMIT 1
	`, lng, lat).Scan(&counties).Error
	if err != nil {
		return m, wrap("county lookup", err)
	}
	if len(counties) > 0 {
		m.County = &counties[0]
	}
	return m, nil
}

// RecordRun stores the history entry of a refresh.
func (s *Store) RecordRun(ctx context.Context, rec refresh.RunRecord) error {
	run := RefreshRun{
		ID:            rec.ID,
		StartedAt:     rec.StartedAt,
		FinishedAt:    rec.FinishedAt,
		DryRun:        rec.DryRun,
		Status:        rec.Status,
		Activities:    rec.Activities,
		Rows:          rec.Rows,
		Deleted:       rec.Publish.Deleted,
		Added:         rec.Publish.Added,
		FailedBatches: rec.Publish.FailedBatches,
		Diagnostics:   pq.StringArray(rec.Diagnostics),
		Error:         rec.Error,
	}
	if run.Diagnostics == nil {
		run.Diagnostics = pq.StringArray{}
	}
	return wrap("record run", s.db.WithContext(ctx).Create(&run).Error)
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RefreshRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []RefreshRun
	err := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error
	return runs, wrap("list runs", err)
}

// LastRun returns the most recent run, or nil when none was recorded.
func (s *Store) LastRun(ctx context.Context) (*RefreshRun, error) {
	var run RefreshRun
	err := s.db.WithContext(ctx).Order("started_at DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("last run", err)
	}
	return &run, nil
}
