package summary

import (
	"time"

	"github.com/paulmach/orb"
)

// GeoType identifies which level of the rollup a SummaryRow belongs to.
type GeoType string

const (
	GeoTotal      GeoType = "Total"
	GeoIndividual GeoType = "Individual"
	GeoWordCloud  GeoType = "WordCloud"
	GeoDivision   GeoType = "Division"
	GeoRegion     GeoType = "Region"
	GeoChapter    GeoType = "Chapter"
	GeoCounty     GeoType = "County"
)

// TotalName is the geo_name of the single Total row.
const TotalName = "All Activities"

// AllGeoTypes lists the geo types in publication order.
var AllGeoTypes = []GeoType{
	GeoTotal, GeoWordCloud, GeoIndividual,
	GeoDivision, GeoRegion, GeoChapter, GeoCounty,
}

// RawActivity is an activity feature as handed over by a loader: an id, the
// geometry (normally an orb.Point in WGS84) and the untyped attribute bag.
// A nil attribute value means the field is null for this record.
type RawActivity struct {
	ID         string
	Geometry   orb.Geometry
	Attributes map[string]any
}

// ActivityTable is the activity layer plus the column names of its schema.
// Columns drive field discovery, so they are reported even when no record
// carries a value for them.
type ActivityTable struct {
	Columns []string
	Records []RawActivity
}

// ActivityRecord is an activity with its identity and text fields resolved
// through a FieldMapping. Empty strings mean the field is absent or null.
type ActivityRecord struct {
	ID          string
	Location    orb.Point
	Located     bool // false when the geometry was missing or not a point
	Description string
	Creator     string
	FirstName   string
	LastName    string
}

// ChapterAttrs are the names carried by a chapter-layer polygon.
type ChapterAttrs struct {
	Chapter  string
	Region   string
	Division string
}

// CountyAttrs are the names carried by a county-layer polygon.
type CountyAttrs struct {
	County string
	State  string
}

// Boundary is one polygon of a boundary layer with its attribute set.
// Geometry is expected to be an orb.Polygon or orb.MultiPolygon.
type Boundary[A any] struct {
	Attributes A
	Geometry   orb.Geometry
}

// JoinedRecord is an ActivityRecord augmented with its layer matches and
// resolved individual. It only lives for the duration of one run.
type JoinedRecord struct {
	ActivityRecord
	Chapter    *ChapterAttrs
	County     *CountyAttrs
	Individual Identity
}

// SummaryRow is one row of the published summary table.
type SummaryRow struct {
	GeoType         GeoType   `json:"geo_type"`
	GeoName         string    `json:"geo_name"`
	ParentName      string    `json:"parent_name"`
	ActivityCount   int       `json:"activity_count"`
	IndividualCount int       `json:"individual_count"`
	LastUpdated     time.Time `json:"last_updated"`
}

// Input is everything one computation needs.
type Input struct {
	Activities ActivityTable
	Chapters   []Boundary[ChapterAttrs]
	Counties   []Boundary[CountyAttrs]
}
