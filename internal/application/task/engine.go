package task

import (
	"context"
	"fmt"

	domain "github.com/here-xyz/tasked-step-engine/internal/domain/task"
	"github.com/here-xyz/tasked-step-engine/internal/platform/logging"
)

// AuthInfo is the minimal owner context recovered from an authorization
// token during prepare. Authorization itself is out of scope (spec.md
// §1); only the owner claim is read.
type AuthInfo struct {
	Owner string
}

// Engine is the tasked-step control loop described in spec.md §4.3. It
// drives a Plan (the capability set a concrete step supplies, per §9)
// through prepare, execute, and repeated onAsyncUpdate calls until the
// step completes.
//
// The engine assumes the hosting dispatcher delivers Execute and
// OnAsyncUpdate calls serially for a given instance (spec.md §5); it does
// not lock its own counters. Callers that cannot guarantee serialized
// delivery must wrap the engine in a single-consumer queue themselves.
type Engine struct {
	stepID StepID
	config domain.StepConfig
	plan   domain.Plan

	taskTable       domain.TaskTable
	executor        domain.AsyncExecutor
	resourceManager domain.ResourceManager
	tagService      domain.TagService
	statistics      domain.StatisticsService
	estimator       *ResourceEstimator
	log             *logging.Logger

	state                State
	calculatedThreadCount int
	taskItemCount         int
	overallNeededACUs     float64
	claims                []domain.ResourceClaim
	progress              float64
}

// StepID is re-exported so callers needn't import the domain package just
// to spell the id type.
type StepID = domain.StepID

// State is re-exported for the same reason.
type State = domain.State

const (
	StateNew       = domain.StateNew
	StatePrepared  = domain.StatePrepared
	StateRunning   = domain.StateRunning
	StateCompleted = domain.StateCompleted
	StateFailed    = domain.StateFailed
)

// NewEngine wires a Plan and its collaborators into a fresh, NEW-state
// engine for stepID.
func NewEngine(
	stepID StepID,
	config domain.StepConfig,
	plan domain.Plan,
	taskTable domain.TaskTable,
	executor domain.AsyncExecutor,
	resourceManager domain.ResourceManager,
	tagService domain.TagService,
	statistics domain.StatisticsService,
	estimator *ResourceEstimator,
	log *logging.Logger,
) *Engine {
	return &Engine{
		stepID:          stepID,
		config:          config,
		plan:            plan,
		taskTable:       taskTable,
		executor:        executor,
		resourceManager: resourceManager,
		tagService:      tagService,
		statistics:      statistics,
		estimator:       estimator,
		log:             log,
		state:           domain.StateNew,
	}
}

// State reports the current lifecycle state.
func (e *Engine) State() State { return e.state }

// ID returns the step id this engine drives.
func (e *Engine) ID() StepID { return e.stepID }

// TaskItemCount reports how many task rows a fresh execute created.
func (e *Engine) TaskItemCount() int { return e.taskItemCount }

// ThreadCount reports the fan-out chosen at execute-time.
func (e *Engine) ThreadCount() int { return e.calculatedThreadCount }

// Progress reports the last-computed finalized/total ratio.
func (e *Engine) Progress() float64 { return e.progress }

func (e *Engine) fail(err error) error {
	e.state, _ = domain.Transition(e.state, domain.StateFailed)
	return err
}

// Prepare resolves versionRef (tag -> integer via the tag service; HEAD ->
// maxVersion from statistics) and transitions NEW -> PREPARED.
func (e *Engine) Prepare(ctx context.Context, owner string, auth AuthInfo) error {
	if e.config.VersionRef.IsZero() {
		return e.fail(domain.ErrVersionRefRequired)
	}
	if err := e.config.Validate(); err != nil {
		return e.fail(err)
	}

	resolved, err := e.resolveVersionRef(ctx, e.config.VersionRef)
	if err != nil {
		return e.fail(err)
	}
	e.config.VersionRef = resolved

	e.log.Infof(logging.PhaseJobExecutor, string(e.stepID), "prepared step for owner %s, resolved versionRef=%s", owner, resolved)

	next, err := domain.Transition(e.state, domain.StatePrepared)
	if err != nil {
		return e.fail(err)
	}
	e.state = next
	return nil
}

func (e *Engine) resolveVersionRef(ctx context.Context, ref domain.VersionRef) (domain.VersionRef, error) {
	switch {
	case ref.IsTag():
		version, err := e.tagService.ResolveTag(ctx, e.config.SpaceID, ref.Tag())
		if err != nil {
			return ref, mapWebClientError(err, fmt.Sprintf("unable to resolve tag %q", ref.Tag()))
		}
		return domain.ConcreteVersionRef(version), nil
	case ref.IsHead():
		snapshot, err := e.statistics.Statistics(ctx, e.config.SpaceID, e.config.Context)
		if err != nil {
			return ref, mapWebClientError(err, "unable to resolve HEAD version")
		}
		return domain.ConcreteVersionRef(snapshot.MaxVersion), nil
	default:
		return ref, nil
	}
}

func mapWebClientError(err error, message string) error {
	if httpErr, ok := err.(interface{ StatusCode() int }); ok && httpErr.StatusCode() == 428 {
		return domain.ValidationErrorf(err, "dataset is deactivated")
	}
	return domain.ValidationErrorf(err, "%s", message)
}

// NeededResources returns the resource claim list, computing and caching
// overallNeededAcus on first call.
func (e *Engine) NeededResources(ctx context.Context) ([]domain.ResourceClaim, error) {
	claims, err := e.estimator.NeededResources(ctx, e.config.SpaceID, e.config.Context)
	if err != nil {
		return nil, err
	}
	for _, c := range claims {
		if c.Resource == domain.ResourceDBReader {
			e.overallNeededACUs = c.VirtualUnits
		}
	}
	e.claims = claims
	return claims, nil
}

// Execute creates the task table and rows (unless resuming) and starts
// the initial batch of dispatches.
func (e *Engine) Execute(ctx context.Context, resume bool) error {
	if !resume {
		if e.state == domain.StateRunning {
			return e.fail(domain.ErrStepAlreadyRunning)
		}
		if e.state != domain.StatePrepared {
			return e.fail(domain.ErrStepNotPrepared)
		}

		if err := e.resourceManager.Claim(ctx, e.claims); err != nil {
			return e.fail(domain.ResourceClaimRejectedf(err, "claim resources for step"))
		}

		threadCount, err := e.plan.SetInitialThreadCount(ctx)
		if err != nil {
			return e.fail(domain.TransientDBErrorf(err, "set initial thread count"))
		}
		e.calculatedThreadCount = threadCount

		if err := e.taskTable.Create(ctx); err != nil {
			return e.fail(domain.TransientDBErrorf(err, "create task table"))
		}

		itemCount, err := e.plan.CreateTaskItems(ctx)
		if err != nil {
			return e.fail(err)
		}
		e.taskItemCount = itemCount

		next, err := domain.Transition(e.state, domain.StateRunning)
		if err != nil {
			return e.fail(err)
		}
		e.state = next
	} else if e.state != domain.StateRunning {
		return e.fail(domain.ValidationErrorf(nil, "cannot resume a step in state %s", e.state))
	}

	progress, err := e.startInitialTasks(ctx)
	if err != nil {
		return err
	}

	if progress.IsComplete() {
		return e.completeStep(ctx)
	}
	e.progress = progress.Fraction()
	return nil
}

// startInitialTasks loops up to calculatedThreadCount times, picking and
// dispatching an unstarted row each time, stopping early if none remain.
// This guarantees at most calculatedThreadCount tasks are in flight
// immediately after execute, and resuming (execute(true)) re-issues the
// same loop to restart dropped in-flight work without re-creating rows. It
// returns the last progress snapshot observed, so the caller can tell
// whether the step already finished without any dispatch (spec.md §8 S1:
// an empty diff completes on execute with zero rows and zero dispatches).
func (e *Engine) startInitialTasks(ctx context.Context) (domain.TaskProgress, error) {
	var last domain.TaskProgress
	for i := 0; i < e.calculatedThreadCount; i++ {
		progress, err := e.taskTable.PickNextAndReport(ctx)
		if err != nil {
			return domain.TaskProgress{}, e.fail(domain.TransientDBErrorf(err, "pick next task item"))
		}
		last = progress
		if !progress.HasNextTask() {
			break
		}
		if err := e.dispatch(ctx, progress); err != nil {
			return domain.TaskProgress{}, e.fail(err)
		}
	}
	return last, nil
}

func (e *Engine) dispatch(ctx context.Context, progress domain.TaskProgress) error {
	query, err := e.plan.BuildTaskQuery(progress.NextTaskID, progress.NextTaskData)
	if err != nil {
		e.log.Errorf(logging.PhaseStepExecute, string(e.stepID), "build task query failed for taskId=%d: %v", progress.NextTaskID, err)
		return domain.TaskQueryBuildErrorf(err, "build task query for taskId=%d", progress.NextTaskID)
	}

	share := e.perTaskResourceShare()
	e.log.Infof(logging.PhaseStepExecute, string(e.stepID), "start export with taskId=%d", progress.NextTaskID)
	if err := e.executor.RunAsync(ctx, query, share); err != nil {
		return domain.TransientDBErrorf(err, "dispatch taskId=%d", progress.NextTaskID)
	}
	return nil
}

func (e *Engine) perTaskResourceShare() float64 {
	if e.taskItemCount == 0 {
		return e.overallNeededACUs
	}
	return e.overallNeededACUs / float64(e.taskItemCount)
}

// OnAsyncUpdate records a progress event's deltas and, if tasks remain,
// starts one replacement dispatch. It returns true iff the step just
// became complete.
func (e *Engine) OnAsyncUpdate(ctx context.Context, event domain.ProgressEvent) (bool, error) {
	if err := e.taskTable.RecordProgress(ctx, event.TaskID, event.ByteCount, event.FeatureCount, event.FileCount, true); err != nil {
		if kind, ok := domain.KindOf(err); ok && kind == domain.KindAsyncDeliveryAnomaly {
			e.log.Warnf(logging.PhaseStepOnAsyncUpdate, string(e.stepID), "dropped anomalous progress event for taskId=%d: %v", event.TaskID, err)
			return false, nil
		}
		return false, e.fail(domain.TransientDBErrorf(err, "record progress for taskId=%d", event.TaskID))
	}

	e.log.Infof(logging.PhaseStepOnAsyncUpdate, string(e.stepID), "received progress update from taskId=%d", event.TaskID)

	progress, err := e.taskTable.PickNextAndReport(ctx)
	if err != nil {
		return false, e.fail(domain.TransientDBErrorf(err, "pick next task item"))
	}

	if progress.IsComplete() {
		if err := e.completeStep(ctx); err != nil {
			return true, err
		}
		return true, nil
	}

	if progress.HasNextTask() {
		if err := e.dispatch(ctx, progress); err != nil {
			return false, e.fail(err)
		}
	}

	e.progress = progress.Fraction()
	return false, nil
}

// completeStep transitions RUNNING -> COMPLETED and runs the plan's
// OnCompleteHook, if it has one. Both Execute (spec.md §8 S1: an empty
// diff completes with no dispatch ever made) and OnAsyncUpdate (the
// steady-state case: the last outstanding task just finalized) reach
// completion through this single path.
func (e *Engine) completeStep(ctx context.Context) error {
	next, err := domain.Transition(e.state, domain.StateCompleted)
	if err != nil {
		return e.fail(err)
	}
	e.state = next
	e.progress = 1
	return e.runOnCompleteHook(ctx)
}

func (e *Engine) runOnCompleteHook(ctx context.Context) error {
	hook, ok := e.plan.(domain.OnCompleteHook)
	if !ok {
		return nil
	}
	return hook.OnComplete(ctx)
}

// AggregateStatistics returns the step's current aggregate statistics.
func (e *Engine) AggregateStatistics(ctx context.Context) (domain.Statistics, error) {
	return e.taskTable.Aggregate(ctx)
}
