package refresh

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job statuses
const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobPartial   = "completed_with_errors"
	JobFailed    = "failed"
)

// Job tracks a refresh started in the background.
type Job struct {
	ID          uuid.UUID  `json:"id"`
	Status      string     `json:"status"`
	DryRun      bool       `json:"dry_run"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Report      *Report    `json:"report,omitempty"`
}

// DefaultJobHistory is how many jobs Jobs remembers. Older finished jobs are
// dropped; the persisted run history keeps the long record.
const DefaultJobHistory = 50

// Jobs runs refreshes asynchronously and keeps the most recent ones in memory.
type Jobs struct {
	runner  *Runner
	history int

	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
	busy bool
}

// NewJobs creates a job tracker around runner.
func NewJobs(runner *Runner) *Jobs {
	return &Jobs{runner: runner, history: DefaultJobHistory, jobs: make(map[uuid.UUID]*Job)}
}

// Start launches a refresh in the background. It fails with
// ErrRunInProgress while a previous job is still running.
func (j *Jobs) Start(dryRun bool) (Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.busy {
		return Job{}, ErrRunInProgress
	}
	j.busy = true

	job := &Job{
		ID:        uuid.New(),
		Status:    JobRunning,
		DryRun:    dryRun,
		StartedAt: time.Now().UTC(),
	}
	j.jobs[job.ID] = job
	j.prune()

	go j.run(job.ID, dryRun)
	return *job, nil
}

func (j *Jobs) run(id uuid.UUID, dryRun bool) {
	rep, err := j.runner.run(context.Background(), id, dryRun)

	now := time.Now().UTC()
	j.mu.Lock()
	defer j.mu.Unlock()
	j.busy = false

	job := j.jobs[id]
	job.CompletedAt = &now
	job.Report = rep
	switch {
	case err == nil:
		job.Status = JobCompleted
	case errors.Is(err, ErrPartialPublish):
		job.Status = JobPartial
		job.Error = err.Error()
	default:
		job.Status = JobFailed
		job.Error = err.Error()
	}
}

// prune drops the oldest finished jobs beyond the history limit.
// Callers hold j.mu.
func (j *Jobs) prune() {
	for len(j.jobs) > j.history {
		var oldest *Job
		for _, job := range j.jobs {
			if job.Status == JobRunning {
				continue
			}
			if oldest == nil || job.StartedAt.Before(oldest.StartedAt) {
				oldest = job
			}
		}
		if oldest == nil {
			return
		}
		delete(j.jobs, oldest.ID)
	}
}

// Get returns a snapshot of the job.
func (j *Jobs) Get(id uuid.UUID) (Job, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// List returns snapshots of every job, newest first.
func (j *Jobs) List() []Job {
	j.mu.Lock()
	out := make([]Job, 0, len(j.jobs))
	for _, job := range j.jobs {
		out = append(out, *job)
	}
	j.mu.Unlock()

	sort.Slice(out, func(a, b int) bool {
		return out[a].StartedAt.After(out[b].StartedAt)
	})
	return out
}
