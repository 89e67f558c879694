package store

import (
	"errors"
	"fmt"

	"github.com/EmpoweredVote/discovery-summary/internal/config"
	"github.com/EmpoweredVote/discovery-summary/internal/db"
	"github.com/EmpoweredVote/discovery-summary/internal/logger"
	"github.com/EmpoweredVote/discovery-summary/internal/refresh"
	"gorm.io/gorm"
)

var (
	ErrNoDatabase     = errors.New("postgres backend needs an open database")
	ErrNotInitialized = errors.New("discovery tables are missing; run with --init first")
)

// DefaultBatchSize is the number of summary rows per INSERT.
const DefaultBatchSize = 100

// publishLockKey serializes publishes across processes sharing the database.
const publishLockKey int64 = 0x5355_4d4d

func init() {
	refresh.RegisterLoader(config.BackendPostgres, func(cfg config.Config, deps refresh.Deps) (refresh.Loader, error) {
		if deps.DB == nil {
			return nil, ErrNoDatabase
		}
		return New(deps.DB, cfg.Pipeline.BatchSize), nil
	})
	refresh.RegisterPublisher(config.BackendPostgres, func(cfg config.Config, deps refresh.Deps) (refresh.Publisher, error) {
		if deps.DB == nil {
			return nil, ErrNoDatabase
		}
		return New(deps.DB, cfg.Pipeline.BatchSize), nil
	})
}

// Store keeps activities, boundaries, the summary table and run history in
// PostGIS. It is a refresh.Loader, a refresh.Publisher and a refresh.Recorder.
type Store struct {
	db        *gorm.DB
	batchSize int
}

// New wraps an open connection.
func New(d *gorm.DB, batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Store{db: d, batchSize: batchSize}
}

func (s *Store) Name() string { return string(config.BackendPostgres) }

// Init creates the schema, the PostGIS extension and every table. Safe to
// run repeatedly.
func (s *Store) Init() error {
	if err := db.EnsureSchema(s.db, Schema); err != nil {
		return fmt.Errorf("ensure schema %s: %w", Schema, err)
	}
	if err := db.EnsureExtension(s.db, "postgis"); err != nil {
		return fmt.Errorf("enable postgis: %w", err)
	}
	if err := s.db.AutoMigrate(
		&Activity{},
		&ChapterBoundary{},
		&CountyBoundary{},
		&SummaryRecord{},
		&RefreshRun{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	// GiST indexes back the ST_Contains lookups.
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS activities_geom_gist ON discovery.activities USING GIST (geom)`,
		`CREATE INDEX IF NOT EXISTS chapter_boundaries_geom_gist ON discovery.chapter_boundaries USING GIST (geom)`,
		`CREATE INDEX IF NOT EXISTS county_boundaries_geom_gist ON discovery.county_boundaries USING GIST (geom)`,
	} {
		if err := s.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create spatial index: %w", err)
		}
	}
	logger.Component("store").Info("discovery schema ready")
	return nil
}

// wrap maps a missing-table error onto ErrNotInitialized.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if db.IsUndefinedTable(err) {
		return fmt.Errorf("%s: %w (%v)", op, ErrNotInitialized, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
