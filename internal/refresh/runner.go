package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/EmpoweredVote/discovery-summary/internal/logger"
	"github.com/EmpoweredVote/discovery-summary/internal/summary"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RunRecord is what a Recorder persists about one run.
type RunRecord struct {
	ID          uuid.UUID
	StartedAt   time.Time
	FinishedAt  time.Time
	DryRun      bool
	Status      string
	Activities  int
	Rows        int
	Publish     PublishReport
	Diagnostics []string
	Error       string
}

// Recorder persists run history. Optional.
type Recorder interface {
	RecordRun(ctx context.Context, rec RunRecord) error
}

// Report is the outcome of one run.
type Report struct {
	RunID       uuid.UUID               `json:"run_id"`
	StartedAt   time.Time               `json:"started_at"`
	FinishedAt  time.Time               `json:"finished_at"`
	DryRun      bool                    `json:"dry_run"`
	Stats       summary.Stats           `json:"stats"`
	RowsByType  map[summary.GeoType]int `json:"rows_by_type"`
	Publish     PublishReport           `json:"publish"`
	Diagnostics []string                `json:"diagnostics,omitempty"`

	// Rows are kept for dry runs so callers can print them.
	Rows []summary.SummaryRow `json:"-"`
}

// Runner executes load → compute → publish. Only one run executes at a
// time; a second concurrent call gets ErrRunInProgress.
type Runner struct {
	Loader    Loader
	Publisher Publisher
	Recorder  Recorder
	Options   summary.Options

	mu sync.Mutex
}

// Run performs one full refresh. With dryRun the computed rows are returned
// in the report and nothing is published.
func (r *Runner) Run(ctx context.Context, dryRun bool) (*Report, error) {
	return r.run(ctx, uuid.New(), dryRun)
}

func (r *Runner) run(ctx context.Context, id uuid.UUID, dryRun bool) (*Report, error) {
	if !r.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer r.mu.Unlock()

	rep := &Report{RunID: id, StartedAt: time.Now().UTC(), DryRun: dryRun}
	log := logger.Component("refresh").WithFields(logrus.Fields{"run_id": id, "dry_run": dryRun})

	err := r.execute(ctx, rep, log)
	rep.FinishedAt = time.Now().UTC()
	dur := rep.FinishedAt.Sub(rep.StartedAt)

	outcome := "success"
	switch {
	case err != nil && rep.Publish.Failed():
		outcome = "partial"
	case err != nil:
		outcome = "failed"
	case dryRun:
		outcome = "dry_run"
	}
	runsTotal.WithLabelValues(outcome).Inc()
	runDuration.Observe(dur.Seconds())
	if outcome == "success" {
		lastSuccess.Set(float64(rep.FinishedAt.Unix()))
		for t, n := range rep.RowsByType {
			rowsPublished.WithLabelValues(string(t)).Set(float64(n))
		}
	}

	entry := log.WithFields(logrus.Fields{"outcome": outcome, "duration_ms": dur.Milliseconds()})
	if err != nil {
		entry.WithError(err).Error("refresh run finished with errors")
	} else {
		entry.Info("refresh run finished")
	}

	r.record(ctx, rep, outcome, err, log)
	return rep, err
}

func (r *Runner) execute(ctx context.Context, rep *Report, log *logrus.Entry) error {
	t0 := time.Now()
	in, err := r.Loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load from %s: %w", r.Loader.Name(), err)
	}
	log.WithFields(logrus.Fields{
		"source":      r.Loader.Name(),
		"activities":  len(in.Activities.Records),
		"chapters":    len(in.Chapters),
		"counties":    len(in.Counties),
		"duration_ms": time.Since(t0).Milliseconds(),
	}).Info("loaded input")

	t0 = time.Now()
	res, err := summary.Compute(ctx, in, r.Options)
	if err != nil {
		return fmt.Errorf("compute: %w", err)
	}
	rep.Stats = res.Stats
	rep.RowsByType = summary.CountByType(res.Rows)
	rep.Diagnostics = res.Diagnostics
	for _, d := range res.Diagnostics {
		log.Warn(d)
	}
	log.WithFields(logrus.Fields{
		"fields":         fmt.Sprintf("%+v", res.Fields),
		"identity":       res.Stats.IdentityStrategy.String(),
		"individuals":    res.Stats.Individuals,
		"chapter_joined": res.Stats.ChapterMatches,
		"county_joined":  res.Stats.CountyMatches,
		"rows":           len(res.Rows),
		"duration_ms":    time.Since(t0).Milliseconds(),
	}).Info("computed summary")

	if rep.DryRun {
		rep.Rows = res.Rows
		return nil
	}

	t0 = time.Now()
	pub, err := r.Publisher.Publish(ctx, res.Rows)
	rep.Publish = pub
	log.WithFields(logrus.Fields{
		"sink":           r.Publisher.Name(),
		"deleted":        pub.Deleted,
		"added":          pub.Added,
		"failed_batches": pub.FailedBatches,
		"duration_ms":    time.Since(t0).Milliseconds(),
	}).Info("published summary")
	if err != nil {
		return fmt.Errorf("publish to %s: %w", r.Publisher.Name(), err)
	}
	return pub.Err()
}

func (r *Runner) record(ctx context.Context, rep *Report, status string, runErr error, log *logrus.Entry) {
	if r.Recorder == nil {
		return
	}
	rec := RunRecord{
		ID:          rep.RunID,
		StartedAt:   rep.StartedAt,
		FinishedAt:  rep.FinishedAt,
		DryRun:      rep.DryRun,
		Status:      status,
		Activities:  rep.Stats.Activities,
		Publish:     rep.Publish,
		Diagnostics: rep.Diagnostics,
	}
	for _, n := range rep.RowsByType {
		rec.Rows += n
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	// Recorded even when the caller's context was cancelled.
	if err := r.Recorder.RecordRun(context.WithoutCancel(ctx), rec); err != nil {
		log.WithError(err).Warn("failed to record run history")
	}
}
