package store

import (
	"context"
	"fmt"

	"github.com/EmpoweredVote/discovery-summary/internal/logger"
	"github.com/EmpoweredVote/discovery-summary/internal/summary"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"gorm.io/gorm"
)

// ImportCounts reports what ReplaceBoundaries wrote.
type ImportCounts struct {
	Chapters int
	Counties int
	Skipped  int
}

// ReplaceBoundaries wipes both boundary tables and inserts the given
// polygons in order, in one transaction. Non-polygon geometries are skipped.
func (s *Store) ReplaceBoundaries(ctx context.Context, chapters []summary.Boundary[summary.ChapterAttrs], counties []summary.Boundary[summary.CountyAttrs]) (ImportCounts, error) {
	var counts ImportCounts

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM discovery.chapter_boundaries`).Error; err != nil {
			return wrap("wipe chapter boundaries", err)
		}
		if err := tx.Exec(`DELETE FROM discovery.county_boundaries`).Error; err != nil {
			return wrap("wipe county boundaries", err)
		}

		for _, b := range chapters {
			gj, ok := polygonJSON(b.Geometry)
			if !ok {
				counts.Skipped++
				continue
			}
			err := tx.Exec(`
				INSERT INTO discovery.chapter_boundaries (chapter, region, division, geom)
				VALUES (?, ?, ?, ST_SetSRID(ST_GeomFromGeoJSON(?), 4326))
			`, b.Attributes.Chapter, b.Attributes.Region, b.Attributes.Division, gj).Error
			if err != nil {
				return fmt.Errorf("insert chapter %q: %w", b.Attributes.Chapter, err)
			}
			counts.Chapters++
		}

		for _, b := range counties {
			gj, ok := polygonJSON(b.Geometry)
			if !ok {
				counts.Skipped++
				continue
			}
			err := tx.Exec(`
				INSERT INTO discovery.county_boundaries (county, state, geom)
				VALUES (?, ?, ST_SetSRID(ST_GeomFromGeoJSON(?), 4326))
			`, b.Attributes.County, b.Attributes.State, gj).Error
			if err != nil {
				return fmt.Errorf("insert county %q: %w", b.Attributes.County, err)
			}
			counts.Counties++
		}
		return nil
	})
	if err != nil {
		return ImportCounts{}, err
	}

	logger.Component("store").
		WithField("chapters", counts.Chapters).
		WithField("counties", counts.Counties).
		WithField("skipped", counts.Skipped).
		Info("boundaries imported")
	return counts, nil
}

func polygonJSON(g orb.Geometry) (string, bool) {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
	default:
		return "", false
	}
	data, err := geojson.NewGeometry(g).MarshalJSON()
	if err != nil {
		return "", false
	}
	return string(data), true
}
