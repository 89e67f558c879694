package store

import (
	"time"

	"github.com/EmpoweredVote/discovery-summary/internal/summary"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Schema holds every table of the store.
const Schema = "discovery"

// Activity is the minimal shape of the activity table. Deployments are free
// to add columns; the loader reads whatever columns exist.
type Activity struct {
	ObjectID         int64   `gorm:"column:objectid;primaryKey;autoIncrement"`
	Creator          *string `gorm:"column:creator"`
	FirstName        *string `gorm:"column:first_name"`
	LastName         *string `gorm:"column:last_name"`
	DescribeActivity *string `gorm:"column:describe_activity"`

	// POINT in WGS84 (SRID 4326)
	Geom *string `gorm:"column:geom;type:geometry(Point,4326)"`
}

func (Activity) TableName() string {
	return Schema + ".activities"
}

// ChapterBoundary is one polygon of the chapter layer.
type ChapterBoundary struct {
	ID       uint   `gorm:"primaryKey"`
	Chapter  string `gorm:"index"`
	Region   string
	Division string

	// POLYGON or MULTIPOLYGON in WGS84
	Geom string `gorm:"type:geometry(Geometry,4326)"`
}

func (ChapterBoundary) TableName() string {
	return Schema + ".chapter_boundaries"
}

// CountyBoundary is one polygon of the county layer.
type CountyBoundary struct {
	ID     uint   `gorm:"primaryKey"`
	County string `gorm:"index"`
	State  string `gorm:"size:64"`
	Geom   string `gorm:"type:geometry(Geometry,4326)"`
}

func (CountyBoundary) TableName() string {
	return Schema + ".county_boundaries"
}

// SummaryRecord is a persisted summary.SummaryRow.
type SummaryRecord struct {
	ID              uint   `gorm:"primaryKey"`
	GeoType         string `gorm:"index;size:16"`
	GeoName         string
	ParentName      string
	ActivityCount   int
	IndividualCount int
	LastUpdated     time.Time
}

func (SummaryRecord) TableName() string {
	return Schema + ".summary_rows"
}

func newSummaryRecord(r summary.SummaryRow) SummaryRecord {
	return SummaryRecord{
		GeoType:         string(r.GeoType),
		GeoName:         r.GeoName,
		ParentName:      r.ParentName,
		ActivityCount:   r.ActivityCount,
		IndividualCount: r.IndividualCount,
		LastUpdated:     r.LastUpdated,
	}
}

func (s SummaryRecord) row() summary.SummaryRow {
	return summary.SummaryRow{
		GeoType:         summary.GeoType(s.GeoType),
		GeoName:         s.GeoName,
		ParentName:      s.ParentName,
		ActivityCount:   s.ActivityCount,
		IndividualCount: s.IndividualCount,
		LastUpdated:     s.LastUpdated.UTC(),
	}
}

// RefreshRun is the history entry of one refresh.
type RefreshRun struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	StartedAt     time.Time      `gorm:"index" json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	DryRun        bool           `json:"dry_run"`
	Status        string         `gorm:"size:16" json:"status"`
	Activities    int            `json:"activities"`
	Rows          int            `json:"rows"`
	Deleted       int            `json:"deleted"`
	Added         int            `json:"added"`
	FailedBatches int            `json:"failed_batches"`
	Diagnostics   pq.StringArray `gorm:"type:text[]" json:"diagnostics"`
	Error         string         `json:"error,omitempty"`
}

func (RefreshRun) TableName() string {
	return Schema + ".refresh_runs"
}
