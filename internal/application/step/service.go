// Package step wires together the domain/application engine, the
// ChangedTiles plan, and their infrastructure collaborators behind the
// few operations the HTTP layer needs: create-and-run a step, deliver a
// progress webhook, and read back its status. It plays the role the
// teacher's application/user use cases play relative to its repository
// and handler layers, just one level higher because a tasked step has
// more moving parts than a single CRUD use case.
package step

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valkey-io/valkey-go"

	apptask "github.com/here-xyz/tasked-step-engine/internal/application/task"
	apptiles "github.com/here-xyz/tasked-step-engine/internal/application/tiles"
	domaintask "github.com/here-xyz/tasked-step-engine/internal/domain/task"
	domaintiles "github.com/here-xyz/tasked-step-engine/internal/domain/tiles"
	infraauth "github.com/here-xyz/tasked-step-engine/internal/infrastructure/auth"
	infracache "github.com/here-xyz/tasked-step-engine/internal/infrastructure/cache"
	infradb "github.com/here-xyz/tasked-step-engine/internal/infrastructure/db"
	"github.com/here-xyz/tasked-step-engine/internal/infrastructure/db/models"
	"github.com/here-xyz/tasked-step-engine/internal/infrastructure/objectstore"
	"github.com/here-xyz/tasked-step-engine/internal/infrastructure/repository"
	"github.com/here-xyz/tasked-step-engine/internal/platform/config"
	"github.com/here-xyz/tasked-step-engine/internal/platform/logging"
)

// AsyncExecutor is supplied by deployment wiring; dispatching and
// completing exports over the database session pool is an external
// interface named but not implemented (spec.md §1).
type AsyncExecutor = domaintask.AsyncExecutor

// ResourceManager is likewise external; the shared-resource accounting
// service behind it is out of scope.
type ResourceManager = domaintask.ResourceManager

// PrecalcService is consulted only for generic downloads, not
// ChangedTiles, but is threaded through for symmetry.
type PrecalcService = domaintask.PrecalcService

// Dependencies are the collaborators Service needs that don't change per
// step.
type Dependencies struct {
	Pool         *pgxpool.Pool
	Valkey       valkey.Client
	Presigner    *objectstore.Presigner
	Statistics   domaintask.StatisticsService
	TagService   domaintask.TagService
	Precalc      PrecalcService
	Executor     AsyncExecutor
	Resources    ResourceManager
	OwnerAuth    *infraauth.OwnerExtractor
	StepRepo     *repository.StepRepository
	Defaults     config.EngineDefaults
	Log          *logging.Logger
	Schema       string
	DownloadTTL  time.Duration
}

// Service is the single entry point the HTTP layer drives.
type Service struct {
	deps     Dependencies
	registry *apptask.Registry
	equiv    *infracache.EquivalenceCache
}

// NewService builds a Service from deps.
func NewService(deps Dependencies) *Service {
	var equiv *infracache.EquivalenceCache
	if deps.Valkey != nil {
		equiv = infracache.NewEquivalenceCache(deps.Valkey)
	}
	return &Service{
		deps:     deps,
		registry: apptask.NewRegistry(),
		equiv:    equiv,
	}
}

// CreateChangedTilesStepRequest is the HTTP-facing request body for
// starting a ChangedTiles export.
type CreateChangedTilesStepRequest struct {
	SpaceID        string                 `json:"spaceId"`
	VersionRef     domaintask.VersionRef  `json:"versionRef"`
	Context        domaintask.SpaceContext `json:"context,omitempty"`
	SpatialFilter  *domaintask.SpatialFilter  `json:"spatialFilter,omitempty"`
	PropertyFilter *domaintask.PropertyFilter `json:"propertyFilter,omitempty"`
	TargetLevel    int                    `json:"targetLevel"`
	QuadType       domaintask.QuadType    `json:"quadType,omitempty"`
	VersionsToKeep int                    `json:"versionsToKeep"`
}

// CreateChangedTilesStepResult is returned once a step is prepared and
// its initial dispatch has been issued.
type CreateChangedTilesStepResult struct {
	StepID        domaintask.StepID `json:"stepId"`
	State         domaintask.State  `json:"state"`
	TaskItemCount int               `json:"taskItemCount"`
	ThreadCount   int               `json:"threadCount"`
	Deduplicated  bool              `json:"deduplicated"`
}

// CreateChangedTilesStep builds a ChangedTiles plan and engine, runs
// prepare + the initial dispatch synchronously, and registers the engine
// for subsequent progress webhooks.
func (s *Service) CreateChangedTilesStep(ctx context.Context, req CreateChangedTilesStepRequest, authHeader string) (CreateChangedTilesStepResult, error) {
	quadType := req.QuadType
	if quadType == "" {
		quadType = domaintask.QuadType(s.deps.Defaults.DefaultQuadType)
	}
	targetLevel := req.TargetLevel
	if targetLevel == 0 {
		targetLevel = s.deps.Defaults.DefaultTargetLevel
	}

	tilesCfg := domaintiles.Config{
		SpaceID:        req.SpaceID,
		VersionRef:     req.VersionRef,
		Context:        req.Context,
		SpatialFilter:  req.SpatialFilter,
		PropertyFilter: req.PropertyFilter,
		TargetLevel:    targetLevel,
		QuadType:       quadType,
	}

	planner := apptiles.NewPlanner(domaintask.StepID(""), tilesCfg, nil, nil, nil, nil, s.deps.Log)
	if err := planner.Validate(req.VersionsToKeep); err != nil {
		return CreateChangedTilesStepResult{}, err
	}

	if s.equiv != nil {
		if existing, found, err := s.equiv.Lookup(ctx, tilesCfg, req.Context == domaintask.ContextExtension); err == nil && found {
			return CreateChangedTilesStepResult{StepID: existing, Deduplicated: true}, nil
		}
	}

	stepID := domaintask.NewStepID()
	stepConfig := domaintask.StepConfig{
		SpaceID:        req.SpaceID,
		VersionRef:     req.VersionRef,
		Context:        req.Context,
		SpatialFilter:  req.SpatialFilter,
		PropertyFilter: req.PropertyFilter,
		QuadType:       quadType,
		TargetLevel:    targetLevel,
	}

	taskTable := infradb.NewTaskTable(s.deps.Pool, s.deps.Schema, stepID)
	changeQuery := infradb.NewChangeQueryService(s.deps.Pool)
	featureQuery := infradb.NewFeatureQueryBuilder()
	outputs := &tileInvalidationSink{stepRepo: s.deps.StepRepo}

	plan := apptiles.NewPlanner(stepID, tilesCfg, taskTable, changeQuery, featureQuery, outputs, s.deps.Log)

	estimator := apptask.NewResourceEstimator(s.deps.Statistics, s.deps.Precalc)
	engine := apptask.NewEngine(stepID, stepConfig, plan, taskTable, s.deps.Executor, s.deps.Resources, s.deps.TagService, s.deps.Statistics, estimator, s.deps.Log)

	if err := s.deps.StepRepo.Create(ctx, stepID, "CHANGED_TILES", req.SpaceID, stepConfig); err != nil {
		return CreateChangedTilesStepResult{}, fmt.Errorf("persist step: %w", err)
	}

	if err := s.runPrepareAndExecute(ctx, engine, authHeader); err != nil {
		return CreateChangedTilesStepResult{}, err
	}

	s.registry.Put(engine)
	if s.equiv != nil {
		_ = s.equiv.Register(ctx, tilesCfg, req.Context == domaintask.ContextExtension, stepID)
	}

	return CreateChangedTilesStepResult{
		StepID:        stepID,
		State:         engine.State(),
		TaskItemCount: engine.TaskItemCount(),
		ThreadCount:   engine.ThreadCount(),
	}, nil
}

func (s *Service) runPrepareAndExecute(ctx context.Context, engine *apptask.Engine, authHeader string) error {
	// Owner extraction failures are non-fatal: the owner claim is logged
	// and persisted context, not an authorization gate (spec.md §1), so a
	// missing or unparseable token degrades to an anonymous owner instead
	// of blocking the step.
	owner := ""
	if s.deps.OwnerAuth != nil && authHeader != "" {
		if extracted, err := s.deps.OwnerAuth.ExtractOwner(authHeader); err == nil {
			owner = extracted
		}
	}

	if err := engine.Prepare(ctx, owner, apptask.AuthInfo{Owner: owner}); err != nil {
		_ = s.deps.StepRepo.RecordFailure(ctx, engine.ID(), errKind(err), err.Error())
		return err
	}
	_ = s.deps.StepRepo.UpdateState(ctx, engine.ID(), engine.State())
	if owner != "" {
		_ = s.deps.StepRepo.RecordOwner(ctx, engine.ID(), owner)
	}

	if _, err := engine.NeededResources(ctx); err != nil {
		_ = s.deps.StepRepo.RecordFailure(ctx, engine.ID(), errKind(err), err.Error())
		return err
	}

	if err := engine.Execute(ctx, false); err != nil {
		_ = s.deps.StepRepo.RecordFailure(ctx, engine.ID(), errKind(err), err.Error())
		return err
	}
	_ = s.deps.StepRepo.UpdateState(ctx, engine.ID(), engine.State())
	_ = s.deps.StepRepo.RecordThreadCount(ctx, engine.ID(), engine.ThreadCount())

	return nil
}

func errKind(err error) domaintask.ErrorKind {
	kind, ok := domaintask.KindOf(err)
	if !ok {
		return domaintask.KindTransientDB
	}
	return kind
}

// ResumeStep re-enters an engine's Execute(ctx, true) path for a step
// that is already RUNNING in the Registry. Per spec.md §4.3's resume
// idempotence, this never re-creates the task table or re-inserts rows;
// it only re-dispatches rows still unstarted, bounded by the step's
// threadCount. Rows already started but not finalized are not
// re-dispatched.
func (s *Service) ResumeStep(ctx context.Context, stepID domaintask.StepID) (CreateChangedTilesStepResult, error) {
	var result CreateChangedTilesStepResult
	err := s.registry.With(stepID, func(engine *apptask.Engine) error {
		if err := engine.Execute(ctx, true); err != nil {
			return err
		}
		result = CreateChangedTilesStepResult{
			StepID:        engine.ID(),
			State:         engine.State(),
			TaskItemCount: engine.TaskItemCount(),
			ThreadCount:   engine.ThreadCount(),
		}
		return nil
	})
	if err != nil {
		_ = s.deps.StepRepo.RecordFailure(ctx, stepID, errKind(err), err.Error())
		return CreateChangedTilesStepResult{}, err
	}

	_ = s.deps.StepRepo.UpdateState(ctx, stepID, result.State)
	if result.State == domaintask.StateCompleted {
		s.registry.Remove(stepID)
	}
	return result, nil
}

// DeliverProgress feeds an async progress event into the named step's
// engine, serialized through the Registry, and persists the resulting
// state/statistics.
func (s *Service) DeliverProgress(ctx context.Context, stepID domaintask.StepID, event domaintask.ProgressEvent) (bool, error) {
	var completed bool
	err := s.registry.With(stepID, func(engine *apptask.Engine) error {
		done, err := engine.OnAsyncUpdate(ctx, event)
		completed = done
		return err
	})
	if err != nil {
		_ = s.deps.StepRepo.RecordFailure(ctx, stepID, errKind(err), err.Error())
		return false, err
	}

	if completed {
		if err := s.registry.With(stepID, func(engine *apptask.Engine) error {
			stats, err := engine.AggregateStatistics(ctx)
			if err != nil {
				return err
			}
			return s.deps.StepRepo.RecordStatistics(ctx, stepID, stats)
		}); err != nil {
			return true, err
		}
		_ = s.deps.StepRepo.UpdateState(ctx, stepID, domaintask.StateCompleted)
		s.registry.Remove(stepID)
	}

	return completed, nil
}

// ExportedDataDownloadURLs presigns the exportedData object keys the
// (named, unimplemented) async executor wrote for a completed step.
func (s *Service) ExportedDataDownloadURLs(ctx context.Context, keys []string) ([]string, error) {
	if s.deps.Presigner == nil {
		return nil, fmt.Errorf("no object store presigner configured")
	}
	return s.deps.Presigner.DownloadURLs(ctx, keys, s.deps.DownloadTTL)
}

// GetStep returns a step's persisted bookkeeping row.
func (s *Service) GetStep(ctx context.Context, stepID domaintask.StepID) (models.Step, error) {
	return s.deps.StepRepo.Get(ctx, stepID)
}

// tileInvalidationSink implements domain/tiles.OutputSink by persisting
// the tileInvalidations payload onto the step's bookkeeping row. The
// exportedData output is a separate list of object keys, presigned on
// demand via ExportedDataDownloadURLs rather than through this sink.
type tileInvalidationSink struct {
	stepRepo *repository.StepRepository
}

func (o *tileInvalidationSink) RegisterTileInvalidations(ctx context.Context, stepID domaintask.StepID, invalidations domaintiles.TileInvalidations) error {
	encoded, err := json.Marshal(invalidations)
	if err != nil {
		return fmt.Errorf("marshal tile invalidations: %w", err)
	}
	return o.stepRepo.RecordTileInvalidations(ctx, stepID, string(encoded))
}
