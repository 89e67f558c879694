package store

import (
	"context"
	"fmt"

	"github.com/EmpoweredVote/discovery-summary/internal/logger"
	"github.com/EmpoweredVote/discovery-summary/internal/refresh"
	"github.com/EmpoweredVote/discovery-summary/internal/summary"
	"gorm.io/gorm"
)

// Publish replaces the summary table inside one transaction, so readers see
// either the previous set or the new one. Any failure rolls back and the
// report stays empty.
func (s *Store) Publish(ctx context.Context, rows []summary.SummaryRow) (refresh.PublishReport, error) {
	var rep refresh.PublishReport

	records := make([]SummaryRecord, len(rows))
	for i, r := range rows {
		records[i] = newSummaryRecord(r)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`SELECT pg_advisory_xact_lock(?)`, publishLockKey).Error; err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}

		res := tx.Exec(`DELETE FROM discovery.summary_rows`)
		if res.Error != nil {
			return wrap("delete summary rows", res.Error)
		}
		deleted := int(res.RowsAffected)

		if len(records) > 0 {
			if err := tx.CreateInBatches(&records, s.batchSize).Error; err != nil {
				return wrap("insert summary rows", err)
			}
		}

		rep.Deleted = deleted
		rep.Added = len(records)
		return nil
	})
	if err != nil {
		return refresh.PublishReport{}, err
	}

	logger.Component("store").
		WithField("deleted", rep.Deleted).
		WithField("added", rep.Added).
		Debug("summary table replaced")
	return rep, nil
}
