package task_test

import (
	"context"
	"errors"
	"testing"

	apptask "github.com/here-xyz/tasked-step-engine/internal/application/task"
	domain "github.com/here-xyz/tasked-step-engine/internal/domain/task"
	"github.com/here-xyz/tasked-step-engine/internal/platform/logging"
)

// fakeTaskTable is an in-memory stand-in for infrastructure/db.TaskTable,
// good enough to drive the engine through every lifecycle scenario
// without a database.
type fakeTaskTable struct {
	rows        []*fakeRow
	createCalls int
}

type fakeRow struct {
	id            int64
	data          domain.TaskData
	started       bool
	finalized     bool
	bytesUploaded int64
	rowsUploaded  int64
	filesUploaded int32
}

func (t *fakeTaskTable) Create(ctx context.Context) error {
	t.createCalls++
	return nil
}

func (t *fakeTaskTable) InsertMany(ctx context.Context, items []domain.TaskData) error {
	for _, item := range items {
		t.rows = append(t.rows, &fakeRow{id: int64(len(t.rows) + 1), data: item})
	}
	return nil
}

func (t *fakeTaskTable) PickNextAndReport(ctx context.Context) (domain.TaskProgress, error) {
	progress := t.snapshot()
	for _, row := range t.rows {
		if !row.started {
			row.started = true
			progress.NextTaskID = row.id
			progress.NextTaskData = row.data
			return progress, nil
		}
	}
	progress.NextTaskID = -1
	return progress, nil
}

func (t *fakeTaskTable) RecordProgress(ctx context.Context, taskID int64, bytesDelta, rowsDelta int64, filesDelta int32, finalized bool) error {
	for _, row := range t.rows {
		if row.id == taskID {
			row.bytesUploaded += bytesDelta
			row.rowsUploaded += rowsDelta
			row.filesUploaded += filesDelta
			row.finalized = finalized
			return nil
		}
	}
	return domain.AsyncDeliveryAnomalyf("unknown taskId=%d", taskID)
}

func (t *fakeTaskTable) Aggregate(ctx context.Context) (domain.Statistics, error) {
	var stats domain.Statistics
	for _, row := range t.rows {
		if row.bytesUploaded > 0 {
			stats.BytesUploaded += row.bytesUploaded
			stats.RowsUploaded += row.rowsUploaded
			stats.FilesUploaded += int64(row.filesUploaded)
		}
	}
	return stats, nil
}

func (t *fakeTaskTable) EmptyTaskIDs(ctx context.Context) ([]domain.TaskData, error) {
	var out []domain.TaskData
	for _, row := range t.rows {
		if row.bytesUploaded == 0 {
			out = append(out, row.data)
		}
	}
	return out, nil
}

func (t *fakeTaskTable) snapshot() domain.TaskProgress {
	progress := domain.TaskProgress{NextTaskID: -1}
	for _, row := range t.rows {
		progress.TotalTasks++
		if row.started {
			progress.StartedTasks++
		}
		if row.finalized {
			progress.FinalizedTasks++
		}
	}
	return progress
}

// fakePlan implements domain/task.Plan with a fixed set of tile-shaped
// task items, mirroring application/tiles.Planner's role without pulling
// in its collaborators.
type fakePlan struct {
	threadCount   int
	threadCountErr error
	tileIDs       []string
	createErr     error
	buildErr      error
}

func (p *fakePlan) SetInitialThreadCount(ctx context.Context) (int, error) {
	if p.threadCountErr != nil {
		return 0, p.threadCountErr
	}
	return p.threadCount, nil
}

func (p *fakePlan) CreateTaskItems(ctx context.Context) (int, error) {
	if p.createErr != nil {
		return 0, p.createErr
	}
	return len(p.tileIDs), nil
}

func (p *fakePlan) BuildTaskQuery(taskID int64, data domain.TaskData) (domain.Query, error) {
	if p.buildErr != nil {
		return domain.Query{}, p.buildErr
	}
	tileID, err := data.TileID()
	if err != nil {
		return domain.Query{}, err
	}
	return domain.Query{SQL: "SELECT * FROM tile", Parameters: map[string]any{"tile": tileID}}, nil
}

type fakePlanWithHook struct {
	*fakePlan
	onCompleteCalls int
	onCompleteErr   error
}

func (p *fakePlanWithHook) OnComplete(ctx context.Context) error {
	p.onCompleteCalls++
	return p.onCompleteErr
}

type fakeAsyncExecutor struct {
	dispatches []domain.Query
	err        error
}

func (e *fakeAsyncExecutor) RunAsync(ctx context.Context, q domain.Query, virtualUnits float64) error {
	if e.err != nil {
		return e.err
	}
	e.dispatches = append(e.dispatches, q)
	return nil
}

type fakeResourceManager struct {
	rejectErr error
	claimed   []domain.ResourceClaim
}

func (m *fakeResourceManager) Claim(ctx context.Context, claims []domain.ResourceClaim) error {
	if m.rejectErr != nil {
		return m.rejectErr
	}
	m.claimed = claims
	return nil
}

type fakeTagService struct {
	version int64
	err     error
}

func (s *fakeTagService) ResolveTag(ctx context.Context, spaceID, tag string) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.version, nil
}

func newTileData(t *testing.T, tileID string) domain.TaskData {
	t.Helper()
	data, err := domain.TileTaskData(tileID)
	if err != nil {
		t.Fatalf("build tile task data: %v", err)
	}
	return data
}

func newTestEngine(t *testing.T, plan domain.Plan, taskTable domain.TaskTable, executor domain.AsyncExecutor, resourceManager domain.ResourceManager, statistics domain.StatisticsService) *apptask.Engine {
	t.Helper()
	cfg := domain.StepConfig{
		SpaceID:     "space-1",
		VersionRef:  domain.RangeVersionRef(10, 11),
		QuadType:    domain.HereQuad,
		TargetLevel: 11,
	}
	estimator := apptask.NewResourceEstimator(statistics, &fakePrecalcService{})
	return apptask.NewEngine(domain.NewStepID(), cfg, plan, taskTable, executor, resourceManager, &fakeTagService{}, statistics, estimator, logging.New(nil))
}

// TestEngineS1EmptyDiff exercises spec scenario S1: no affected tiles, the
// step completes at execute without dispatching anything, and the plan's
// OnCompleteHook still runs so a ChangedTiles step can write its (empty)
// tileInvalidations output.
func TestEngineS1EmptyDiff(t *testing.T) {
	t.Parallel()

	plan := &fakePlanWithHook{fakePlan: &fakePlan{threadCount: 8}}
	taskTable := &fakeTaskTable{}
	executor := &fakeAsyncExecutor{}
	statistics := &fakeStatisticsService{snapshot: domain.StatisticsSnapshot{ByteSize: 1 << 20}}

	engine := newTestEngine(t, plan, taskTable, executor, &fakeResourceManager{}, statistics)

	if err := engine.Prepare(context.Background(), "owner-1", apptask.AuthInfo{Owner: "owner-1"}); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := engine.NeededResources(context.Background()); err != nil {
		t.Fatalf("needed resources: %v", err)
	}
	if err := engine.Execute(context.Background(), false); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if engine.TaskItemCount() != 0 {
		t.Fatalf("expected 0 task items, got %d", engine.TaskItemCount())
	}
	if len(executor.dispatches) != 0 {
		t.Fatalf("expected no dispatches, got %d", len(executor.dispatches))
	}
	if engine.State() != domain.StateCompleted {
		t.Fatalf("expected an empty diff to complete immediately on execute, got %s", engine.State())
	}
	if plan.onCompleteCalls != 1 {
		t.Fatalf("expected OnComplete to run once for the empty-diff completion, got %d", plan.onCompleteCalls)
	}
}

// TestEngineS2SingleTileCompletes exercises spec scenario S2: a single
// tile task dispatches, one progress event completes the step, and
// statistics match.
func TestEngineS2SingleTileCompletes(t *testing.T) {
	t.Parallel()

	plan := &fakePlan{threadCount: 8, tileIDs: []string{"12033"}}
	taskTable := &fakeTaskTable{}
	taskTable.rows = append(taskTable.rows, &fakeRow{id: 1, data: newTileData(t, "12033")})
	executor := &fakeAsyncExecutor{}
	statistics := &fakeStatisticsService{snapshot: domain.StatisticsSnapshot{ByteSize: 1 << 20}}

	engine := newTestEngine(t, plan, taskTable, executor, &fakeResourceManager{}, statistics)

	mustRun(t, engine, "owner-1")

	if len(executor.dispatches) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(executor.dispatches))
	}

	completed, err := engine.OnAsyncUpdate(context.Background(), domain.ProgressEvent{
		TaskID: 1, ByteCount: 1234, FeatureCount: 5, FileCount: 1,
	})
	if err != nil {
		t.Fatalf("on async update: %v", err)
	}
	if !completed {
		t.Fatal("expected the step to complete after the only task finalizes")
	}
	if engine.State() != domain.StateCompleted {
		t.Fatalf("expected COMPLETED, got %s", engine.State())
	}

	stats, err := engine.AggregateStatistics(context.Background())
	if err != nil {
		t.Fatalf("aggregate statistics: %v", err)
	}
	if stats != (domain.Statistics{BytesUploaded: 1234, RowsUploaded: 5, FilesUploaded: 1}) {
		t.Fatalf("unexpected statistics: %+v", stats)
	}
}

// TestEngineS3DeletionEmptiesTile exercises spec scenario S3: a
// zero-byte progress event finalizes a tile but contributes nothing to
// aggregate statistics, per the empty-file suppression rule.
func TestEngineS3DeletionEmptiesTile(t *testing.T) {
	t.Parallel()

	plan := &fakePlan{threadCount: 8, tileIDs: []string{"5678"}}
	taskTable := &fakeTaskTable{}
	taskTable.rows = append(taskTable.rows, &fakeRow{id: 1, data: newTileData(t, "5678")})
	executor := &fakeAsyncExecutor{}
	statistics := &fakeStatisticsService{snapshot: domain.StatisticsSnapshot{ByteSize: 1 << 20}}

	engine := newTestEngine(t, plan, taskTable, executor, &fakeResourceManager{}, statistics)
	mustRun(t, engine, "owner-1")

	completed, err := engine.OnAsyncUpdate(context.Background(), domain.ProgressEvent{TaskID: 1})
	if err != nil {
		t.Fatalf("on async update: %v", err)
	}
	if !completed {
		t.Fatal("expected completion")
	}

	stats, err := engine.AggregateStatistics(context.Background())
	if err != nil {
		t.Fatalf("aggregate statistics: %v", err)
	}
	if stats != (domain.Statistics{}) {
		t.Fatalf("expected all-zero statistics under empty-file suppression, got %+v", stats)
	}

	emptyIDs, err := taskTable.EmptyTaskIDs(context.Background())
	if err != nil {
		t.Fatalf("empty task ids: %v", err)
	}
	if len(emptyIDs) != 1 {
		t.Fatalf("expected 1 empty task, got %d", len(emptyIDs))
	}
	tileID, err := emptyIDs[0].TileID()
	if err != nil {
		t.Fatalf("decode tile id: %v", err)
	}
	if tileID != "5678" {
		t.Fatalf("expected tile 5678 to be reported empty, got %s", tileID)
	}
}

// TestEngineS4FanOutBound exercises spec scenario S4: with 20 rows and a
// calculatedThreadCount of 8, exactly 8 dispatches happen immediately,
// and each completion triggers exactly one replacement dispatch.
func TestEngineS4FanOutBound(t *testing.T) {
	t.Parallel()

	plan := &fakePlan{threadCount: 8}
	taskTable := &fakeTaskTable{}
	for i := 0; i < 20; i++ {
		taskTable.rows = append(taskTable.rows, &fakeRow{id: int64(i + 1), data: newTileData(t, "tile")})
	}
	executor := &fakeAsyncExecutor{}
	statistics := &fakeStatisticsService{snapshot: domain.StatisticsSnapshot{ByteSize: 1 << 20}}

	engine := newTestEngine(t, plan, taskTable, executor, &fakeResourceManager{}, statistics)
	mustRun(t, engine, "owner-1")

	if len(executor.dispatches) != 8 {
		t.Fatalf("expected exactly 8 initial dispatches, got %d", len(executor.dispatches))
	}

	for i := int64(1); i <= 8; i++ {
		before := len(executor.dispatches)
		completed, err := engine.OnAsyncUpdate(context.Background(), domain.ProgressEvent{TaskID: i})
		if err != nil {
			t.Fatalf("on async update taskId=%d: %v", i, err)
		}
		if completed {
			t.Fatalf("did not expect completion after finalizing taskId=%d", i)
		}
		if len(executor.dispatches) != before+1 {
			t.Fatalf("expected exactly one replacement dispatch after finalizing taskId=%d, got %d new", i, len(executor.dispatches)-before)
		}
	}

	if len(executor.dispatches) != 16 {
		t.Fatalf("expected 16 total dispatches after the first 8 completions, got %d", len(executor.dispatches))
	}
}

// TestEngineS5BadLevelValidation exercises spec scenario S5 at the
// StepConfig level: targetLevel=13 fails StepConfig.Validate with a
// KindValidation error. The error message is not checked here.
func TestEngineS5BadLevelValidation(t *testing.T) {
	t.Parallel()

	cfg := domain.StepConfig{
		SpaceID:     "space-1",
		VersionRef:  domain.ConcreteVersionRef(1),
		QuadType:    domain.HereQuad,
		TargetLevel: 13,
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected a validation error for targetLevel=13")
	}
	kind, ok := domain.KindOf(err)
	if !ok || kind != domain.KindValidation {
		t.Fatalf("expected KindValidation, got kind=%v ok=%v", kind, ok)
	}
}

// TestEngineS6HeadResolution exercises spec scenario S6: prepare on a HEAD
// versionRef succeeds by resolving it through the statistics service. The
// resolved version is not exposed by Engine, so only the successful
// prepare is checked.
func TestEngineS6HeadResolution(t *testing.T) {
	t.Parallel()

	plan := &fakePlan{threadCount: 8}
	taskTable := &fakeTaskTable{}
	executor := &fakeAsyncExecutor{}
	statistics := &fakeStatisticsService{snapshot: domain.StatisticsSnapshot{ByteSize: 1 << 20, MaxVersion: 42}}

	cfg := domain.StepConfig{
		SpaceID:     "space-1",
		VersionRef:  domain.HeadVersionRef(),
		QuadType:    domain.HereQuad,
		TargetLevel: 11,
	}
	estimator := apptask.NewResourceEstimator(statistics, &fakePrecalcService{})
	engine := apptask.NewEngine(domain.NewStepID(), cfg, plan, taskTable, executor, &fakeResourceManager{}, &fakeTagService{}, statistics, estimator, logging.New(nil))

	if err := engine.Prepare(context.Background(), "owner-1", apptask.AuthInfo{Owner: "owner-1"}); err != nil {
		t.Fatalf("prepare: %v", err)
	}
}

func TestEnginePrepareRejectsZeroVersionRef(t *testing.T) {
	t.Parallel()

	plan := &fakePlan{threadCount: 8}
	taskTable := &fakeTaskTable{}
	statistics := &fakeStatisticsService{}
	engine := newTestEngine(t, plan, taskTable, &fakeAsyncExecutor{}, &fakeResourceManager{}, statistics)

	e2 := apptask.NewEngine(domain.NewStepID(), domain.StepConfig{}, plan, taskTable, &fakeAsyncExecutor{}, &fakeResourceManager{}, &fakeTagService{}, statistics, apptask.NewResourceEstimator(statistics, &fakePrecalcService{}), logging.New(nil))

	if err := e2.Prepare(context.Background(), "", apptask.AuthInfo{}); err == nil {
		t.Fatal("expected error for zero VersionRef")
	}
	if e2.State() != domain.StateFailed {
		t.Fatalf("expected FAILED after rejecting an empty versionRef, got %s", e2.State())
	}

	// engine from newTestEngine is untouched; assert it still starts NEW.
	if engine.State() != domain.StateNew {
		t.Fatalf("expected a freshly built engine to start NEW, got %s", engine.State())
	}
}

func TestEnginePrepareMapsDeactivatedTagToValidation(t *testing.T) {
	t.Parallel()

	plan := &fakePlan{threadCount: 8}
	taskTable := &fakeTaskTable{}
	statistics := &fakeStatisticsService{}
	cfg := domain.StepConfig{
		SpaceID:     "space-1",
		VersionRef:  domain.TagVersionRef("release-1"),
		QuadType:    domain.HereQuad,
		TargetLevel: 11,
	}
	tagService := &fakeTagService{err: statusCodeErr{code: 428}}
	estimator := apptask.NewResourceEstimator(statistics, &fakePrecalcService{})
	engine := apptask.NewEngine(domain.NewStepID(), cfg, plan, taskTable, &fakeAsyncExecutor{}, &fakeResourceManager{}, tagService, statistics, estimator, logging.New(nil))

	err := engine.Prepare(context.Background(), "", apptask.AuthInfo{})
	kind, ok := domain.KindOf(err)
	if !ok || kind != domain.KindValidation {
		t.Fatalf("expected KindValidation, got kind=%v ok=%v", kind, ok)
	}
	if engine.State() != domain.StateFailed {
		t.Fatalf("expected FAILED, got %s", engine.State())
	}
}

func TestEngineExecuteRejectsResourceClaim(t *testing.T) {
	t.Parallel()

	plan := &fakePlan{threadCount: 8}
	taskTable := &fakeTaskTable{}
	statistics := &fakeStatisticsService{snapshot: domain.StatisticsSnapshot{ByteSize: 1 << 20}}
	resourceManager := &fakeResourceManager{rejectErr: errors.New("insufficient capacity")}

	engine := newTestEngine(t, plan, taskTable, &fakeAsyncExecutor{}, resourceManager, statistics)

	if err := engine.Prepare(context.Background(), "owner-1", apptask.AuthInfo{Owner: "owner-1"}); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := engine.NeededResources(context.Background()); err != nil {
		t.Fatalf("needed resources: %v", err)
	}

	err := engine.Execute(context.Background(), false)
	kind, ok := domain.KindOf(err)
	if !ok || kind != domain.KindResourceClaimRejected {
		t.Fatalf("expected KindResourceClaimRejected, got kind=%v ok=%v", kind, ok)
	}
	if engine.State() != domain.StateFailed {
		t.Fatalf("expected FAILED, got %s", engine.State())
	}
	if taskTable.createCalls != 0 {
		t.Fatalf("expected the task table to never be created once the resource claim is rejected, got %d calls", taskTable.createCalls)
	}
}

func TestEngineExecuteRejectsRunningBeforePrepared(t *testing.T) {
	t.Parallel()

	plan := &fakePlan{threadCount: 8}
	taskTable := &fakeTaskTable{}
	statistics := &fakeStatisticsService{}
	engine := newTestEngine(t, plan, taskTable, &fakeAsyncExecutor{}, &fakeResourceManager{}, statistics)

	err := engine.Execute(context.Background(), false)
	kind, ok := domain.KindOf(err)
	if !ok || kind != domain.KindValidation {
		t.Fatalf("expected KindValidation for executing before prepare, got kind=%v ok=%v", kind, ok)
	}
}

func TestEngineOnAsyncUpdateDropsAnomalousEventForUnknownTask(t *testing.T) {
	t.Parallel()

	plan := &fakePlan{threadCount: 8, tileIDs: []string{"5678"}}
	taskTable := &fakeTaskTable{}
	taskTable.rows = append(taskTable.rows, &fakeRow{id: 1, data: newTileData(t, "5678")})
	statistics := &fakeStatisticsService{snapshot: domain.StatisticsSnapshot{ByteSize: 1 << 20}}
	engine := newTestEngine(t, plan, taskTable, &fakeAsyncExecutor{}, &fakeResourceManager{}, statistics)
	mustRun(t, engine, "owner-1")

	completed, err := engine.OnAsyncUpdate(context.Background(), domain.ProgressEvent{TaskID: 999})
	if err != nil {
		t.Fatalf("expected an async delivery anomaly to be dropped, not surfaced, got: %v", err)
	}
	if completed {
		t.Fatal("a dropped anomaly must not report completion")
	}
	if engine.State() != domain.StateRunning {
		t.Fatalf("expected state to remain RUNNING, got %s", engine.State())
	}
}

func TestEngineRunsOnCompleteHookOnlyWhenPlanSupportsIt(t *testing.T) {
	t.Parallel()

	base := &fakePlan{threadCount: 8, tileIDs: []string{"5678"}}
	plan := &fakePlanWithHook{fakePlan: base}
	taskTable := &fakeTaskTable{}
	taskTable.rows = append(taskTable.rows, &fakeRow{id: 1, data: newTileData(t, "5678")})
	statistics := &fakeStatisticsService{snapshot: domain.StatisticsSnapshot{ByteSize: 1 << 20}}
	engine := newTestEngine(t, plan, taskTable, &fakeAsyncExecutor{}, &fakeResourceManager{}, statistics)
	mustRun(t, engine, "owner-1")

	completed, err := engine.OnAsyncUpdate(context.Background(), domain.ProgressEvent{TaskID: 1})
	if err != nil {
		t.Fatalf("on async update: %v", err)
	}
	if !completed {
		t.Fatal("expected completion")
	}
	if plan.onCompleteCalls != 1 {
		t.Fatalf("expected OnComplete to run exactly once, got %d", plan.onCompleteCalls)
	}
}

// TestEngineExecuteResumeRedispatchesWithoutReinsert exercises spec.md
// §8.5's resume idempotence: resuming a RUNNING step neither re-creates
// the task table nor re-inserts rows, and only re-dispatches rows still
// unstarted, bounded by threadCount.
func TestEngineExecuteResumeRedispatchesWithoutReinsert(t *testing.T) {
	t.Parallel()

	plan := &fakePlan{threadCount: 8}
	taskTable := &fakeTaskTable{}
	for i := 0; i < 10; i++ {
		taskTable.rows = append(taskTable.rows, &fakeRow{id: int64(i + 1), data: newTileData(t, "tile")})
	}
	executor := &fakeAsyncExecutor{}
	statistics := &fakeStatisticsService{snapshot: domain.StatisticsSnapshot{ByteSize: 1 << 20}}

	engine := newTestEngine(t, plan, taskTable, executor, &fakeResourceManager{}, statistics)
	mustRun(t, engine, "owner-1")

	if len(executor.dispatches) != 8 {
		t.Fatalf("expected 8 initial dispatches, got %d", len(executor.dispatches))
	}
	if taskTable.createCalls != 1 {
		t.Fatalf("expected the task table to be created exactly once, got %d", taskTable.createCalls)
	}

	// Simulate the host process losing track of the 8 in-flight exports
	// (a crash or a redelivered resume call) and re-entering via
	// Execute(ctx, true) instead of DeliverProgress.
	if err := engine.Execute(context.Background(), true); err != nil {
		t.Fatalf("resume: %v", err)
	}

	if taskTable.createCalls != 1 {
		t.Fatalf("resume must not re-create the task table, got %d calls", taskTable.createCalls)
	}
	if len(taskTable.rows) != 10 {
		t.Fatalf("resume must not re-insert task rows, got %d rows", len(taskTable.rows))
	}
	if len(executor.dispatches) != 10 {
		t.Fatalf("expected resume to dispatch exactly the 2 remaining unstarted rows, got %d total dispatches", len(executor.dispatches))
	}
	if engine.State() != domain.StateRunning {
		t.Fatalf("expected state to remain RUNNING with tasks still outstanding, got %s", engine.State())
	}

	// A second resume with nothing left unstarted must be a no-op dispatch.
	if err := engine.Execute(context.Background(), true); err != nil {
		t.Fatalf("second resume with nothing left to dispatch: %v", err)
	}
	if len(executor.dispatches) != 10 {
		t.Fatalf("expected a resume with no unstarted rows to dispatch nothing, got %d total dispatches", len(executor.dispatches))
	}
}

// TestEngineExecuteResumeRejectsNonRunningState exercises the resume
// guard: resuming a step that never reached RUNNING is a validation
// failure, not a silent no-op.
func TestEngineExecuteResumeRejectsNonRunningState(t *testing.T) {
	t.Parallel()

	plan := &fakePlan{threadCount: 8}
	taskTable := &fakeTaskTable{}
	statistics := &fakeStatisticsService{}
	engine := newTestEngine(t, plan, taskTable, &fakeAsyncExecutor{}, &fakeResourceManager{}, statistics)

	err := engine.Execute(context.Background(), true)
	kind, ok := domain.KindOf(err)
	if !ok || kind != domain.KindValidation {
		t.Fatalf("expected KindValidation for resuming a non-RUNNING step, got kind=%v ok=%v", kind, ok)
	}
	if engine.State() != domain.StateFailed {
		t.Fatalf("expected FAILED, got %s", engine.State())
	}
}

func mustRun(t *testing.T, engine *apptask.Engine, owner string) {
	t.Helper()
	if err := engine.Prepare(context.Background(), owner, apptask.AuthInfo{Owner: owner}); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := engine.NeededResources(context.Background()); err != nil {
		t.Fatalf("needed resources: %v", err)
	}
	if err := engine.Execute(context.Background(), false); err != nil {
		t.Fatalf("execute: %v", err)
	}
}
