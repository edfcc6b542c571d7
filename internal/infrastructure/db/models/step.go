// Package models holds the gorm row types for step bookkeeping, the same
// role internal/infrastructure/db/models/import_job.go plays for the
// teacher's import jobs.
package models

import "time"

// Step is the durable record of one tasked-step's configuration, state,
// and final statistics. The task rows themselves live in a separate
// per-step table (see internal/infrastructure/db.TaskTable); this row is
// the step's own lifecycle record.
type Step struct {
	ID         string `gorm:"type:text;primaryKey"`
	Kind       string `gorm:"type:text;not null"`
	SpaceID    string `gorm:"type:text;not null"`
	State      string `gorm:"type:text;not null;default:NEW"`
	Owner      string `gorm:"type:text"`
	ConfigJSON string `gorm:"type:jsonb;not null"`

	ThreadCount int `gorm:"not null;default:0"`

	RowsUploaded  int64 `gorm:"not null;default:0"`
	BytesUploaded int64 `gorm:"not null;default:0"`
	FilesUploaded int64 `gorm:"not null;default:0"`

	ErrorKind    *string `gorm:"type:text"`
	ErrorMessage *string `gorm:"type:text"`

	TileInvalidationsJSON *string `gorm:"type:jsonb"`

	PreparedAt  *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Step) TableName() string {
	return "tasked_steps"
}
