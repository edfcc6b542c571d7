package task

import "context"

// TaskTable is the durable queue-plus-counters collaborator described in
// spec.md §4.2. A single instance is scoped to one step's temporary table.
type TaskTable interface {
	// Create is idempotent; it creates the backing table if missing.
	Create(ctx context.Context) error
	// InsertMany appends new rows in started=false, finalized=false state
	// as a single bulk operation (used by the up-front fan-out).
	InsertMany(ctx context.Context, items []TaskData) error
	// PickNextAndReport is the atomic database-side pick-next-plus-counters
	// operation. If an unstarted row exists it is returned and atomically
	// marked started=true.
	PickNextAndReport(ctx context.Context) (TaskProgress, error)
	// RecordProgress adds the reported deltas to taskID's row and, when
	// finalized is true, marks the row finalized.
	RecordProgress(ctx context.Context, taskID int64, bytesDelta, rowsDelta int64, filesDelta int32, finalized bool) error
	// Aggregate returns summed statistics across all rows, applying the
	// empty-file suppression rule.
	Aggregate(ctx context.Context) (Statistics, error)
	// EmptyTaskIDs returns the task_data values of rows with
	// bytes_uploaded = 0.
	EmptyTaskIDs(ctx context.Context) ([]TaskData, error)
}

// StatisticsSnapshot is the subset of dataset statistics the engine and
// ResourceEstimator consult.
type StatisticsSnapshot struct {
	ByteSize             int64
	EstimatedFeatureCount int64
	MaxVersion           int64
	HasExtension         bool
}

// StatisticsService is the external feature-store statistics collaborator,
// named but not reimplemented per spec.md §1.
type StatisticsService interface {
	Statistics(ctx context.Context, spaceID string, context SpaceContext) (StatisticsSnapshot, error)
}

// TagService resolves a named tag to a concrete version.
type TagService interface {
	ResolveTag(ctx context.Context, spaceID, tag string) (int64, error)
}

// PrecalcService is the database-side precalculation collaborator that
// sizes a generic SQL download export's parallelism.
type PrecalcService interface {
	PrecalcThreadCount(ctx context.Context, estimatedFeatureCount int64, selectQuery, sourceTable string) (int, error)
}

// ResourceManager is the shared-resource accounting collaborator; execute
// blocks on it until the claimed units are available.
type ResourceManager interface {
	Claim(ctx context.Context, claims []ResourceClaim) error
}

// Query is an opaque, already-built per-task SQL statement. The engine
// never inspects its contents; it hands the Query to the AsyncExecutor.
type Query struct {
	SQL        string
	Parameters map[string]any
}

// AsyncExecutor is the one-way send collaborator: dispatching a Query
// starts a database session whose completion arrives later as a
// ProgressEvent delivered to Engine.OnAsyncUpdate.
type AsyncExecutor interface {
	RunAsync(ctx context.Context, q Query, virtualUnits float64) error
}

// Plan is the capability set a concrete tasked step supplies to the
// engine, per spec.md §9: an explicit interface in place of the
// inheritance chain the original service uses.
type Plan interface {
	// SetInitialThreadCount sizes the fan-out for a fresh (non-resumed)
	// execution.
	SetInitialThreadCount(ctx context.Context) (int, error)
	// CreateTaskItems materializes the task rows for a fresh execution
	// and returns how many were created.
	CreateTaskItems(ctx context.Context) (int, error)
	// BuildTaskQuery constructs the per-task query for a given task row.
	BuildTaskQuery(taskID int64, data TaskData) (Query, error)
}

// OnCompleteHook is implemented by plans that need to act once a step
// reaches COMPLETED, e.g. ChangedTilesPlanner writing tileInvalidations.
type OnCompleteHook interface {
	OnComplete(ctx context.Context) error
}
