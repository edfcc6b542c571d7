// Package repository persists step bookkeeping rows via gorm, mirroring
// the teacher's ImportJobRepository.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	domaintask "github.com/here-xyz/tasked-step-engine/internal/domain/task"
	"github.com/here-xyz/tasked-step-engine/internal/infrastructure/db/models"
)

// StepRepository persists the lifecycle and configuration of a tasked
// step, independently of its per-task table.
type StepRepository struct {
	db *gorm.DB
}

// NewStepRepository builds a StepRepository around db.
func NewStepRepository(db *gorm.DB) *StepRepository {
	return &StepRepository{db: db}
}

// ErrStepNotFound is returned when a lookup finds no row for the step id.
var ErrStepNotFound = errors.New("step not found")

// Create inserts a fresh NEW-state row for a step of the given kind.
func (r *StepRepository) Create(ctx context.Context, stepID domaintask.StepID, kind, spaceID string, cfg domaintask.StepConfig) error {
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal step config: %w", err)
	}

	row := models.Step{
		ID:         string(stepID),
		Kind:       kind,
		SpaceID:    spaceID,
		State:      string(domaintask.StateNew),
		ConfigJSON: string(encoded),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("create step: %w", err)
	}
	return nil
}

// UpdateState transitions a step's persisted state, stamping the
// corresponding timestamp column.
func (r *StepRepository) UpdateState(ctx context.Context, stepID domaintask.StepID, state domaintask.State) error {
	updates := map[string]any{"state": string(state)}
	now := stampFor(state)
	if now != "" {
		updates[now] = time.Now()
	}

	tx := r.db.WithContext(ctx).Model(&models.Step{}).Where("id = ?", string(stepID)).Updates(updates)
	if tx.Error != nil {
		return fmt.Errorf("update step state: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return ErrStepNotFound
	}
	return nil
}

// RecordOwner persists the owner claim recovered during prepare.
func (r *StepRepository) RecordOwner(ctx context.Context, stepID domaintask.StepID, owner string) error {
	tx := r.db.WithContext(ctx).Model(&models.Step{}).Where("id = ?", string(stepID)).Update("owner", owner)
	if tx.Error != nil {
		return fmt.Errorf("record step owner: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return ErrStepNotFound
	}
	return nil
}

// RecordThreadCount persists the fan-out size chosen at execute-time.
func (r *StepRepository) RecordThreadCount(ctx context.Context, stepID domaintask.StepID, threadCount int) error {
	tx := r.db.WithContext(ctx).Model(&models.Step{}).Where("id = ?", string(stepID)).Update("thread_count", threadCount)
	if tx.Error != nil {
		return fmt.Errorf("record step thread count: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return ErrStepNotFound
	}
	return nil
}

// RecordStatistics persists a step's final aggregate counters.
func (r *StepRepository) RecordStatistics(ctx context.Context, stepID domaintask.StepID, stats domaintask.Statistics) error {
	tx := r.db.WithContext(ctx).Model(&models.Step{}).Where("id = ?", string(stepID)).Updates(map[string]any{
		"rows_uploaded":  stats.RowsUploaded,
		"bytes_uploaded": stats.BytesUploaded,
		"files_uploaded": stats.FilesUploaded,
	})
	if tx.Error != nil {
		return fmt.Errorf("record step statistics: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return ErrStepNotFound
	}
	return nil
}

// RecordFailure persists the error that moved a step into FAILED.
func (r *StepRepository) RecordFailure(ctx context.Context, stepID domaintask.StepID, kind domaintask.ErrorKind, message string) error {
	tx := r.db.WithContext(ctx).Model(&models.Step{}).Where("id = ?", string(stepID)).Updates(map[string]any{
		"state":         string(domaintask.StateFailed),
		"error_kind":    string(kind),
		"error_message": message,
	})
	if tx.Error != nil {
		return fmt.Errorf("record step failure: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return ErrStepNotFound
	}
	return nil
}

// Get loads a step's persisted row.
func (r *StepRepository) Get(ctx context.Context, stepID domaintask.StepID) (models.Step, error) {
	var row models.Step
	err := r.db.WithContext(ctx).Where("id = ?", string(stepID)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Step{}, ErrStepNotFound
	}
	if err != nil {
		return models.Step{}, fmt.Errorf("get step: %w", err)
	}
	return row, nil
}

// RecordTileInvalidations persists the ChangedTiles-only tileInvalidations
// output alongside a step's other bookkeeping.
func (r *StepRepository) RecordTileInvalidations(ctx context.Context, stepID domaintask.StepID, encoded string) error {
	tx := r.db.WithContext(ctx).Model(&models.Step{}).Where("id = ?", string(stepID)).Update("tile_invalidations_json", encoded)
	if tx.Error != nil {
		return fmt.Errorf("record tile invalidations: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return ErrStepNotFound
	}
	return nil
}

func stampFor(state domaintask.State) string {
	switch state {
	case domaintask.StatePrepared:
		return "prepared_at"
	case domaintask.StateRunning:
		return "started_at"
	case domaintask.StateCompleted:
		return "completed_at"
	default:
		return ""
	}
}
