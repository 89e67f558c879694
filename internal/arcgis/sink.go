package arcgis

import (
	"context"
	"fmt"

	"github.com/EmpoweredVote/discovery-summary/internal/config"
	"github.com/EmpoweredVote/discovery-summary/internal/logger"
	"github.com/EmpoweredVote/discovery-summary/internal/refresh"
	"github.com/EmpoweredVote/discovery-summary/internal/summary"
	"github.com/sirupsen/logrus"
)

// DefaultBatchSize keeps applyEdits calls under the service's request limits.
const DefaultBatchSize = 100

// Sink replaces the contents of the hosted summary table.
type Sink struct {
	client    *Client
	layerURL  string
	batchSize int
}

// NewSink creates a Sink writing to layerURL.
func NewSink(client *Client, layerURL string, batchSize int) *Sink {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Sink{client: client, layerURL: layerURL, batchSize: batchSize}
}

func (s *Sink) Name() string { return string(config.BackendArcGIS) }

// Publish deletes every existing feature, then adds rows. Each batch is
// sent once; failures are counted in the report and publishing continues
// with the next batch.
func (s *Sink) Publish(ctx context.Context, rows []summary.SummaryRow) (refresh.PublishReport, error) {
	var rep refresh.PublishReport
	log := logger.Component("arcgis").WithField("layer", s.layerURL)

	ids, err := s.client.ObjectIDs(ctx, s.layerURL)
	if err != nil {
		return rep, fmt.Errorf("list existing features: %w", err)
	}

	for start := 0; start < len(ids); start += s.batchSize {
		batch := ids[start:min(start+s.batchSize, len(ids))]
		resp, err := s.client.ApplyEdits(ctx, s.layerURL, nil, batch)
		if err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			rep.FailedBatches++
			rep.FailedDeletes += len(batch)
			rep.Errors = append(rep.Errors, err.Error())
			log.WithError(err).WithField("offset", start).Warn("delete batch failed")
			continue
		}
		ok := Succeeded(resp.DeleteResults)
		rep.Deleted += ok
		rep.FailedDeletes += len(batch) - ok
	}

	for start := 0; start < len(rows); start += s.batchSize {
		batch := rows[start:min(start+s.batchSize, len(rows))]
		resp, err := s.client.ApplyEdits(ctx, s.layerURL, toFeatures(batch), nil)
		if err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			rep.FailedBatches++
			rep.FailedAdds += len(batch)
			rep.Errors = append(rep.Errors, err.Error())
			log.WithError(err).WithField("offset", start).Warn("add batch failed")
			continue
		}
		ok := Succeeded(resp.AddResults)
		rep.Added += ok
		rep.FailedAdds += len(batch) - ok
	}

	log.WithFields(logrus.Fields{
		"deleted":        rep.Deleted,
		"added":          rep.Added,
		"failed_batches": rep.FailedBatches,
	}).Debug("summary layer replaced")
	return rep, nil
}

func toFeatures(rows []summary.SummaryRow) []Feature {
	out := make([]Feature, len(rows))
	for i, r := range rows {
		out[i] = Feature{Attributes: map[string]any{
			"geo_type":         string(r.GeoType),
			"geo_name":         r.GeoName,
			"parent_name":      r.ParentName,
			"activity_count":   r.ActivityCount,
			"individual_count": r.IndividualCount,
			"last_updated":     r.LastUpdated.UnixMilli(),
		}}
	}
	return out
}
