// Package db implements the domain task/tiles ports against a Postgres
// database via pgx, the same raw-SQL-for-set-returning-work approach the
// teacher uses in UserBulkImportRepository (pgx.CopyFrom for bulk rows,
// hand-written SQL for everything else) rather than an ORM.
package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xeipuuv/gojsonschema"

	domain "github.com/here-xyz/tasked-step-engine/internal/domain/task"
)

// taskDataSchema guards the task_data column at the decode boundary: a
// malformed row becomes a TaskQueryBuildError instead of a panic, per
// spec.md §7.
var taskDataSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["kind", "payload"],
	"properties": {
		"kind": {"type": "string"},
		"payload": {}
	}
}`)

// TaskTable implements domain/task.TaskTable against a single step's
// temporary table.
type TaskTable struct {
	pool   *pgxpool.Pool
	schema string
	table  string
	pkName string
}

// NewTaskTable scopes a TaskTable to stepID's deterministic table name.
func NewTaskTable(pool *pgxpool.Pool, schema string, stepID domain.StepID) *TaskTable {
	return &TaskTable{
		pool:   pool,
		schema: schema,
		table:  stepID.TempTableName(),
		pkName: stepID.PrimaryKeyName(),
	}
}

func (t *TaskTable) ident() pgx.Identifier {
	return pgx.Identifier{t.schema, t.table}
}

func (t *TaskTable) qualifiedName() string {
	return t.ident().Sanitize()
}

// Create issues the bit-stable DDL from spec.md §6, idempotently.
func (t *TaskTable) Create(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			task_id SERIAL,
			task_data JSONB,
			bytes_uploaded BIGINT DEFAULT 0,
			rows_uploaded BIGINT DEFAULT 0,
			files_uploaded INT DEFAULT 0,
			started BOOLEAN DEFAULT false,
			finalized BOOLEAN DEFAULT false,
			CONSTRAINT %s PRIMARY KEY (task_id)
		);`,
		t.qualifiedName(),
		pgx.Identifier{t.pkName}.Sanitize(),
	)

	_, err := t.pool.Exec(ctx, ddl)
	return err
}

// InsertMany bulk-loads fresh task rows via CopyFrom, the same shape of
// problem as the teacher's staging-table loads in
// UserBulkImportRepository.ImportChunk: many independent rows, one round
// trip.
func (t *TaskTable) InsertMany(ctx context.Context, items []domain.TaskData) error {
	if len(items) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(items))
	for _, item := range items {
		encoded, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal task data: %w", err)
		}
		rows = append(rows, []any{encoded})
	}

	_, err := t.pool.CopyFrom(ctx, t.ident(), []string{"task_data"}, pgx.CopyFromRows(rows))
	return err
}

// Insert appends a single new row; used by tasked steps that create task
// items incrementally rather than in one bulk pass.
func (t *TaskTable) Insert(ctx context.Context, item domain.TaskData) error {
	encoded, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal task data: %w", err)
	}

	sql := fmt.Sprintf(`INSERT INTO %s AS t (task_data) VALUES ($1::JSONB);`, t.qualifiedName())
	_, err = t.pool.Exec(ctx, sql, encoded)
	return err
}

// PickNextAndReport calls the get_task_item_and_statistics() stored
// procedure from spec.md §6, passing this step's qualified table name so
// the procedure (documented as operating on "the" task table) knows which
// one. The procedure itself is responsible for the atomic
// pick-and-mark-started semantics; this method never reimplements them.
func (t *TaskTable) PickNextAndReport(ctx context.Context) (domain.TaskProgress, error) {
	row := t.pool.QueryRow(ctx, `
		SELECT total, started, finalized, task_id, task_data
		FROM get_task_item_and_statistics($1);
	`, t.qualifiedName())

	var (
		total, started, finalized int
		taskID                    *int64
		rawData                   []byte
	)
	if err := row.Scan(&total, &started, &finalized, &taskID, &rawData); err != nil {
		return domain.TaskProgress{}, fmt.Errorf("pick next and report: %w", err)
	}

	progress := domain.TaskProgress{
		TotalTasks:     total,
		StartedTasks:   started,
		FinalizedTasks: finalized,
		NextTaskID:     -1,
	}

	if taskID == nil || *taskID == -1 {
		return progress, nil
	}

	data, err := decodeTaskData(rawData)
	if err != nil {
		return domain.TaskProgress{}, domain.TaskQueryBuildErrorf(err, "decode task_data for taskId=%d", *taskID)
	}

	progress.NextTaskID = *taskID
	progress.NextTaskData = data
	return progress, nil
}

// RecordProgress is the literal UPDATE statement from
// updateTaskItemInTaskAndStatisticTable in the original service: the
// deltas are commutative additions, so duplicate delivery for an already
// finalized row only double-counts if the executor violates its
// at-most-once-completion guarantee (spec.md §4.2) -- this method does
// not attempt to detect that case itself.
func (t *TaskTable) RecordProgress(ctx context.Context, taskID int64, bytesDelta, rowsDelta int64, filesDelta int32, finalized bool) error {
	sql := fmt.Sprintf(`
		UPDATE %s AS t
		SET bytes_uploaded = t.bytes_uploaded + $1,
		    rows_uploaded = t.rows_uploaded + $2,
		    files_uploaded = t.files_uploaded + $3,
		    finalized = $4
		WHERE task_id = $5;
	`, t.qualifiedName())

	tag, err := t.pool.Exec(ctx, sql, bytesDelta, rowsDelta, filesDelta, finalized, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.AsyncDeliveryAnomalyf("progress event for unknown taskId=%d", taskID)
	}
	return nil
}

// Aggregate sums per-row statistics, applying the empty-file suppression
// rule: a row only contributes to filesUploaded when bytesUploaded > 0.
func (t *TaskTable) Aggregate(ctx context.Context) (domain.Statistics, error) {
	sql := fmt.Sprintf(`
		SELECT coalesce(sum(rows_uploaded), 0) AS rows_uploaded,
		       coalesce(sum(CASE WHEN bytes_uploaded > 0 THEN files_uploaded ELSE 0 END), 0) AS files_uploaded,
		       coalesce(sum(bytes_uploaded), 0) AS bytes_uploaded
		FROM %s;
	`, t.qualifiedName())

	var stats domain.Statistics
	row := t.pool.QueryRow(ctx, sql)
	if err := row.Scan(&stats.RowsUploaded, &stats.FilesUploaded, &stats.BytesUploaded); err != nil {
		return domain.Statistics{}, err
	}
	return stats, nil
}

// EmptyTaskIDs returns the task_data of every row with bytes_uploaded = 0,
// used by ChangedTiles to compute tileInvalidations.
func (t *TaskTable) EmptyTaskIDs(ctx context.Context) ([]domain.TaskData, error) {
	sql := fmt.Sprintf(`SELECT task_data FROM %s WHERE bytes_uploaded = 0;`, t.qualifiedName())

	rows, err := t.pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TaskData
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		data, err := decodeTaskData(raw)
		if err != nil {
			return nil, domain.TaskQueryBuildErrorf(err, "decode empty task_data")
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

func decodeTaskData(raw []byte) (domain.TaskData, error) {
	result, err := gojsonschema.Validate(taskDataSchema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return domain.TaskData{}, fmt.Errorf("validate task_data: %w", err)
	}
	if !result.Valid() {
		return domain.TaskData{}, fmt.Errorf("task_data failed schema validation: %v", result.Errors())
	}

	var data domain.TaskData
	if err := json.Unmarshal(raw, &data); err != nil {
		return domain.TaskData{}, fmt.Errorf("unmarshal task_data: %w", err)
	}
	return data, nil
}
