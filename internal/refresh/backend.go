package refresh

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/EmpoweredVote/discovery-summary/internal/config"
	"github.com/EmpoweredVote/discovery-summary/internal/summary"
	"gorm.io/gorm"
)

// Common errors
var (
	ErrUnknownBackend = errors.New("no backend registered for type")
	ErrPartialPublish = errors.New("publish finished with failed batches")
	ErrRunInProgress  = errors.New("a refresh run is already in progress")
)

// Loader supplies the activity table and both boundary layers.
type Loader interface {
	// Name returns the backend name for logging purposes.
	Name() string
	Load(ctx context.Context) (summary.Input, error)
}

// Publisher replaces the contents of the destination summary store.
// Implementations delete every existing row, then insert rows in batches.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, rows []summary.SummaryRow) (PublishReport, error)
}

// PublishReport counts what a publish did. Failed batches are not retried
// and earlier successful batches are not rolled back; re-running the whole
// refresh reconciles the store.
type PublishReport struct {
	Deleted       int      `json:"deleted"`
	Added         int      `json:"added"`
	FailedDeletes int      `json:"failed_deletes"`
	FailedAdds    int      `json:"failed_adds"`
	FailedBatches int      `json:"failed_batches"`
	Errors        []string `json:"errors,omitempty"`
}

// Failed reports whether any row could not be deleted or added.
func (r PublishReport) Failed() bool {
	return r.FailedDeletes > 0 || r.FailedAdds > 0 || r.FailedBatches > 0
}

// Err returns ErrPartialPublish wrapped with the counts when the report
// has failures, nil otherwise.
func (r PublishReport) Err() error {
	if !r.Failed() {
		return nil
	}
	return fmt.Errorf("%w: %d batches, %d deletes and %d adds failed",
		ErrPartialPublish, r.FailedBatches, r.FailedDeletes, r.FailedAdds)
}

// Deps are the shared handles a backend may need. Fields are nil when the
// process did not open them.
type Deps struct {
	DB         *gorm.DB
	HTTPClient *http.Client
}

type (
	LoaderFactory    func(config.Config, Deps) (Loader, error)
	PublisherFactory func(config.Config, Deps) (Publisher, error)
)

// Backends register their constructors from init(), so new backends can be
// added without modifying this file.
var (
	loaderRegistry    = make(map[config.BackendType]LoaderFactory)
	publisherRegistry = make(map[config.BackendType]PublisherFactory)
)

// RegisterLoader registers a loader constructor for a backend type.
func RegisterLoader(t config.BackendType, f LoaderFactory) {
	loaderRegistry[t] = f
}

// RegisterPublisher registers a publisher constructor for a backend type.
func RegisterPublisher(t config.BackendType, f PublisherFactory) {
	publisherRegistry[t] = f
}

// NewLoader creates the loader selected by cfg.Source.
func NewLoader(cfg config.Config, deps Deps) (Loader, error) {
	f, ok := loaderRegistry[cfg.Source]
	if !ok {
		return nil, fmt.Errorf("%w: loader %s", ErrUnknownBackend, cfg.Source)
	}
	return f(cfg, deps)
}

// NewPublisher creates the publisher selected by cfg.Sink.
func NewPublisher(cfg config.Config, deps Deps) (Publisher, error) {
	f, ok := publisherRegistry[cfg.Sink]
	if !ok {
		return nil, fmt.Errorf("%w: publisher %s", ErrUnknownBackend, cfg.Sink)
	}
	return f(cfg, deps)
}
