// Package tiles implements ChangedTilesPlanner, the specialization of the
// tasked-step engine that exports features whose tile coverage changed
// between two dataset versions, per spec.md §4.4.
package tiles

import (
	"context"
	"fmt"

	domaintask "github.com/here-xyz/tasked-step-engine/internal/domain/task"
	domaintiles "github.com/here-xyz/tasked-step-engine/internal/domain/tiles"
	"github.com/here-xyz/tasked-step-engine/internal/platform/logging"
)

// changedTilesThreadCount is the fixed fan-out ChangedTiles always uses,
// per spec.md §4.1.
const changedTilesThreadCount = 8

// Planner implements domain/task.Plan for an incremental tile export. It
// computes the affected-tile set by diffing two dataset versions (the
// two-pass algorithm in spec.md §4.4), writes one task row per tile, and
// shapes each task's query to export exactly that tile.
type Planner struct {
	stepID domaintask.StepID
	config domaintiles.Config

	taskTable     domaintask.TaskTable
	changeQuery   domaintiles.ChangeQueryService
	featureQuery  domaintiles.FeatureQueryBuilder
	outputs       domaintiles.OutputSink
	log           *logging.Logger
}

// NewPlanner builds a ChangedTiles plan for stepID against its
// collaborators.
func NewPlanner(
	stepID domaintask.StepID,
	config domaintiles.Config,
	taskTable domaintask.TaskTable,
	changeQuery domaintiles.ChangeQueryService,
	featureQuery domaintiles.FeatureQueryBuilder,
	outputs domaintiles.OutputSink,
	log *logging.Logger,
) *Planner {
	return &Planner{
		stepID:       stepID,
		config:       config,
		taskTable:    taskTable,
		changeQuery:  changeQuery,
		featureQuery: featureQuery,
		outputs:      outputs,
		log:          log,
	}
}

// Validate checks the ChangedTiles-specific preconditions from spec.md
// §4.4: history retention, level range. versionsToKeep is passed in by
// the caller because it is a property of the space, not of this config.
func (p *Planner) Validate(versionsToKeep int) error {
	if versionsToKeep <= 1 {
		return domaintask.ValidationErrorf(nil, "versions to keep must be greater than 1")
	}
	if p.config.TargetLevel < 0 || p.config.TargetLevel > 12 {
		return domaintask.ValidationErrorf(nil, "TargetLevel must be between 0 and 12")
	}
	return nil
}

// SetInitialThreadCount always returns 8: ChangedTiles never scales its
// fan-out with dataset size.
func (p *Planner) SetInitialThreadCount(ctx context.Context) (int, error) {
	return changedTilesThreadCount, nil
}

// CreateTaskItems runs the two-pass affected-tile computation and writes
// one task row per unique tile id.
func (p *Planner) CreateTaskItems(ctx context.Context) (int, error) {
	changedTiles, changedFeatureIDs, err := p.changeQuery.AffectedTilesFromDelta(ctx, p.config)
	if err != nil {
		return 0, domaintask.TransientDBErrorf(err, "query affected tiles from delta")
	}

	affected := newStringSet(changedTiles...)
	p.log.Infof(logging.PhaseStepExecute, string(p.stepID),
		"added affected tiles from delta in version range [%d,%d). intermediate size: %d",
		p.config.VersionRef.StartVersion(), p.config.VersionRef.EndVersion(), affected.size())

	if len(changedFeatureIDs) > 0 {
		oldTiles, err := p.changeQuery.AffectedTilesFromBase(ctx, p.config, changedFeatureIDs)
		if err != nil {
			return 0, domaintask.TransientDBErrorf(err, "query affected tiles from base")
		}
		affected.addAll(oldTiles)
	}
	p.log.Infof(logging.PhaseStepExecute, string(p.stepID),
		"added affected tiles from base version %d. final size: %d",
		p.config.VersionRef.StartVersion(), affected.size())

	taskData := make([]domaintask.TaskData, 0, affected.size())
	for _, tileID := range affected.values() {
		data, err := domaintask.TileTaskData(tileID)
		if err != nil {
			return 0, domaintask.TaskQueryBuildErrorf(err, "build task data for tile %q", tileID)
		}
		taskData = append(taskData, data)
	}

	if len(taskData) > 0 {
		if err := p.taskTable.InsertMany(ctx, taskData); err != nil {
			return 0, domaintask.TransientDBErrorf(err, "insert task items")
		}
	}

	return len(taskData), nil
}

// BuildTaskQuery produces the query that exports, at endVersion, every
// feature intersecting the tile's bounding box, with the tile id stamped
// into the @ns:com:here:xyz.partitionKey property.
func (p *Planner) BuildTaskQuery(taskID int64, data domaintask.TaskData) (domaintask.Query, error) {
	tileID, err := data.TileID()
	if err != nil {
		return domaintask.Query{}, domaintask.TaskQueryBuildErrorf(err, "taskId=%d", taskID)
	}

	bbox, err := domaintiles.BoundingBox(p.config.QuadType, tileID)
	if err != nil {
		return domaintask.Query{}, domaintask.TaskQueryBuildErrorf(err, "taskId=%d tile=%q", taskID, tileID)
	}

	contentQuery, err := p.featureQuery.BuildFeatureQuery(context.Background(), p.config.SpaceID, p.config.VersionRef.EndVersion(), bbox)
	if err != nil {
		return domaintask.Query{}, domaintask.TaskQueryBuildErrorf(err, "taskId=%d tile=%q", taskID, tileID)
	}

	return wrapWithPartitionKey(contentQuery, tileID), nil
}

func wrapWithPartitionKey(contentQuery domaintask.Query, tileID string) domaintask.Query {
	sql := fmt.Sprintf(`
		SELECT geo, jsonb_set(
			jsondata,
			'{properties,@ns:com:here:xyz,partitionKey}',
			$tileId
		) AS jsondata
		FROM (%s) content
	`, contentQuery.SQL)

	params := map[string]any{"tileId": tileID}
	for k, v := range contentQuery.Parameters {
		params[k] = v
	}
	return domaintask.Query{SQL: sql, Parameters: params}
}

// OnComplete writes the tileInvalidations output: the tiles that ended up
// empty (bytes_uploaded = 0), per spec.md §4.4's Outputs section.
func (p *Planner) OnComplete(ctx context.Context) error {
	emptyData, err := p.taskTable.EmptyTaskIDs(ctx)
	if err != nil {
		return domaintask.TransientDBErrorf(err, "query empty task ids")
	}

	tileIDs := make([]string, 0, len(emptyData))
	for _, d := range emptyData {
		tileID, err := d.TileID()
		if err != nil {
			return domaintask.TaskQueryBuildErrorf(err, "decode empty task data")
		}
		tileIDs = append(tileIDs, tileID)
	}

	invalidations := domaintiles.TileInvalidations{
		TileLevel: p.config.TargetLevel,
		QuadType:  p.config.QuadType,
		TileIDs:   tileIDs,
	}

	p.log.Infof(logging.PhaseStepOnAsyncSuccess, string(p.stepID), "write TILE_INVALIDATIONS output. size: %d", len(tileIDs))
	return p.outputs.RegisterTileInvalidations(ctx, p.stepID, invalidations)
}

type stringSet struct {
	order []string
	seen  map[string]struct{}
}

func newStringSet(initial ...string) *stringSet {
	s := &stringSet{seen: make(map[string]struct{})}
	s.addAll(initial)
	return s
}

func (s *stringSet) addAll(values []string) {
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := s.seen[v]; ok {
			continue
		}
		s.seen[v] = struct{}{}
		s.order = append(s.order, v)
	}
}

func (s *stringSet) size() int        { return len(s.order) }
func (s *stringSet) values() []string { return s.order }
