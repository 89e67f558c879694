package db

import (
	"errors"
	"fmt"
	"log"
	"time"

	applog "github.com/EmpoweredVote/discovery-summary/internal/logger"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrEmptyDSN is returned by Open when no connection string is configured.
var ErrEmptyDSN = errors.New("DATABASE_URL is empty")

// Open connects to Postgres. SQL statements go through the process logger;
// only slow queries and errors are logged unless debug logging is on.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, ErrEmptyDSN
	}

	level := logger.Warn
	if applog.Log.IsLevelEnabled(logrus.DebugLevel) {
		level = logger.Info
	}
	lg := logger.New(
		log.New(applog.Log.Writer(), "", 0),
		logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: lg,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	// A refresh holds one transaction; the admin API adds a few readers.
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	applog.Component("db").Info("connected to database")
	return db, nil
}

// Close releases the pool behind d.
func Close(d *gorm.DB) {
	if sqlDB, err := d.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
