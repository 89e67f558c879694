package summary

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/tidwall/rtree"
)

// Layer is a boundary layer indexed by polygon bounding box.
//
// Containment follows orb/planar: a point on a polygon's outer edge counts
// as inside, a point on a hole's edge counts as outside. When a point sits
// on an edge shared by two polygons, the polygon loaded first wins, so a
// lookup never yields more than one match.
type Layer[A any] struct {
	boundaries []Boundary[A]
	index      rtree.RTreeG[int]
	skipped    []string
}

// NewLayer indexes the boundaries. Boundaries without a polygonal geometry
// are skipped and reported by Skipped.
func NewLayer[A any](name string, boundaries []Boundary[A]) *Layer[A] {
	l := &Layer[A]{boundaries: boundaries}
	for i, b := range boundaries {
		switch b.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			l.skipped = append(l.skipped, fmt.Sprintf("%s boundary %d has no polygon geometry (%T); skipped", name, i, b.Geometry))
			continue
		}
		bound := b.Geometry.Bound()
		if bound.IsEmpty() {
			l.skipped = append(l.skipped, fmt.Sprintf("%s boundary %d has an empty geometry; skipped", name, i))
			continue
		}
		l.index.Insert([2]float64(bound.Min), [2]float64(bound.Max), i)
	}
	return l
}

// Len returns the number of indexed boundaries.
func (l *Layer[A]) Len() int { return l.index.Len() }

// Skipped lists the boundaries that could not be indexed.
func (l *Layer[A]) Skipped() []string { return l.skipped }

// Locate returns the attributes of the boundary containing p.
// A panic inside the geometry test is returned as an error so that one
// malformed boundary cannot abort a whole run.
func (l *Layer[A]) Locate(p orb.Point) (attrs A, ok bool, err error) {
	var candidates []int
	l.index.Search([2]float64(p), [2]float64(p), func(_, _ [2]float64, i int) bool {
		candidates = append(candidates, i)
		return true
	})
	sort.Ints(candidates)

	for _, i := range candidates {
		hit, cerr := contains(l.boundaries[i].Geometry, p)
		if cerr != nil {
			return attrs, false, fmt.Errorf("boundary %d: %w", i, cerr)
		}
		if hit {
			return l.boundaries[i].Attributes, true, nil
		}
	}
	return attrs, false, nil
}

func contains(g orb.Geometry, p orb.Point) (hit bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("containment test panicked: %v", r)
		}
	}()

	switch geom := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(geom, p), nil
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(geom, p), nil
	}
	return false, nil
}
