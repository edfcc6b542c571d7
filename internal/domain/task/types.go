package task

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var configValidator = validator.New()

// StepID is the opaque identifier an outer job manager assigns to a step.
// It is a UUID string; the engine never interprets it beyond using it to
// derive the temporary task-table name.
type StepID string

// NewStepID generates a fresh step identifier.
func NewStepID() StepID {
	return StepID(uuid.NewString())
}

// TempTableName derives the deterministic temporary table name for a step,
// matching TransportTools.getTemporaryJobTableName in the original service.
func (id StepID) TempTableName() string {
	return "job_data_" + strings.ReplaceAll(string(id), "-", "_")
}

// PrimaryKeyName derives the primary-key constraint name for a step's table.
func (id StepID) PrimaryKeyName() string {
	return id.TempTableName() + "_primKey"
}

// SpaceContext controls which layer of a composite dataset is consulted.
type SpaceContext string

const (
	ContextDefault   SpaceContext = "DEFAULT"
	ContextExtension SpaceContext = "EXTENSION"
	ContextSuper     SpaceContext = "SUPER"
)

func (c SpaceContext) valid() bool {
	switch c {
	case ContextDefault, ContextExtension, ContextSuper, "":
		return true
	default:
		return false
	}
}

// EffectiveContext treats a nil context the same as SUPER when the
// underlying dataset has no extension layer, per the equivalence rule in
// ChangedTilesPlanner.
func EffectiveContext(c SpaceContext, hasExtension bool) SpaceContext {
	if c == "" && !hasExtension {
		return ContextSuper
	}
	return c
}

// versionRefKind tags which of the four surface forms a VersionRef holds.
type versionRefKind int

const (
	versionRefConcrete versionRefKind = iota
	versionRefHead
	versionRefTag
	versionRefRange
)

// VersionRef is either a concrete integer version, the symbolic HEAD, a
// named tag, or a half-open integer range [start, end). After prepare() it
// holds only integers (Concrete or Range).
type VersionRef struct {
	kind  versionRefKind
	value int64
	start int64
	end   int64
	tag   string
}

// ConcreteVersionRef builds a VersionRef that already resolves to an integer.
func ConcreteVersionRef(version int64) VersionRef {
	return VersionRef{kind: versionRefConcrete, value: version}
}

// HeadVersionRef builds the symbolic HEAD reference.
func HeadVersionRef() VersionRef {
	return VersionRef{kind: versionRefHead}
}

// TagVersionRef builds a named-tag reference.
func TagVersionRef(tag string) VersionRef {
	return VersionRef{kind: versionRefTag, tag: tag}
}

// RangeVersionRef builds a half-open integer range [start, end).
func RangeVersionRef(start, end int64) VersionRef {
	return VersionRef{kind: versionRefRange, start: start, end: end}
}

func (v VersionRef) IsZero() bool { return v == VersionRef{} }
func (v VersionRef) IsHead() bool { return v.kind == versionRefHead }
func (v VersionRef) IsTag() bool  { return v.kind == versionRefTag }
func (v VersionRef) IsRange() bool { return v.kind == versionRefRange }

func (v VersionRef) Tag() string { return v.tag }

// Version returns the concrete version for a resolved, non-range ref.
func (v VersionRef) Version() int64 { return v.value }

// StartVersion returns the inclusive lower bound of a range ref.
func (v VersionRef) StartVersion() int64 {
	if v.kind == versionRefRange {
		return v.start
	}
	return v.value
}

// EndVersion returns the exclusive upper bound of a range ref.
func (v VersionRef) EndVersion() int64 {
	if v.kind == versionRefRange {
		return v.end
	}
	return v.value
}

// Resolved reports whether the ref contains only integers, i.e. prepare()
// has already run on it.
func (v VersionRef) Resolved() bool {
	return v.kind == versionRefConcrete || v.kind == versionRefRange
}

func (v VersionRef) String() string {
	switch v.kind {
	case versionRefHead:
		return "HEAD"
	case versionRefTag:
		return v.tag
	case versionRefRange:
		return fmt.Sprintf("[%d,%d)", v.start, v.end)
	default:
		return strconv.FormatInt(v.value, 10)
	}
}

func (v VersionRef) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case versionRefHead:
		return json.Marshal("HEAD")
	case versionRefTag:
		return json.Marshal(v.tag)
	case versionRefRange:
		return json.Marshal(v.String())
	default:
		return json.Marshal(v.value)
	}
}

func (v *VersionRef) UnmarshalJSON(data []byte) error {
	var asInt int64
	if err := json.Unmarshal(data, &asInt); err == nil {
		*v = ConcreteVersionRef(asInt)
		return nil
	}

	var asString string
	if err := json.Unmarshal(data, &asString); err != nil {
		return fmt.Errorf("versionRef must be an integer or string: %w", err)
	}

	switch {
	case strings.EqualFold(asString, "HEAD"):
		*v = HeadVersionRef()
	case strings.HasPrefix(asString, "[") && strings.HasSuffix(asString, ")"):
		start, end, err := parseRange(asString)
		if err != nil {
			return err
		}
		*v = RangeVersionRef(start, end)
	default:
		*v = TagVersionRef(asString)
	}
	return nil
}

func parseRange(s string) (int64, int64, error) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(s, "["), ")")
	parts := strings.SplitN(trimmed, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid version range %q", s)
	}
	start, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid version range start %q: %w", s, err)
	}
	end, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid version range end %q: %w", s, err)
	}
	return start, end, nil
}

// SpatialFilter narrows a query to a geometry plus optional radius.
type SpatialFilter struct {
	Geometry json.RawMessage `json:"geometry"`
	Radius   float64         `json:"radius,omitempty"`
	Clipped  bool            `json:"clipped,omitempty"`
}

// PropertyFilter is an opaque property-query expression, interpreted only
// by the database-side query builder.
type PropertyFilter struct {
	Expression string `json:"expression"`
}

// QuadType selects the tile-id encoding scheme used for a target level.
type QuadType string

const (
	HereQuad     QuadType = "HERE_QUAD"
	MercatorQuad QuadType = "MERCATOR_QUAD"
)

// StepConfig is the created-once, read-only-after-prepare configuration of
// a tasked step.
type StepConfig struct {
	SpaceID        string          `validate:"required"`
	VersionRef     VersionRef      `validate:"required"`
	Context        SpaceContext    `validate:"omitempty,oneof=DEFAULT EXTENSION SUPER"`
	SpatialFilter  *SpatialFilter  ``
	PropertyFilter *PropertyFilter ``
	QuadType       QuadType        `validate:"omitempty,oneof=HERE_QUAD MERCATOR_QUAD"`
	TargetLevel    int             `validate:"min=0,max=12"`
	CSVFormat      bool            ``
	PartitionKey   *string         ``
	Clipped        *bool           ``
}

// Validate checks StepConfig's field-level preconditions with
// go-playground/validator, turning the first failure into a KindValidation
// *Error.
func (c StepConfig) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return ValidationErrorf(err, "invalid step config")
	}
	return nil
}

// TaskData is the tagged variant stored as task_id's opaque task_data
// column: a kind tag plus a payload, so decoding never relies on dynamic
// type dispatch.
type TaskData struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// TileTaskData builds the TaskData payload for a single changed-tiles
// export task: the tile id the task must export.
func TileTaskData(tileID string) (TaskData, error) {
	payload, err := json.Marshal(tileID)
	if err != nil {
		return TaskData{}, err
	}
	return TaskData{Kind: "tile", Payload: payload}, nil
}

// TileID decodes a "tile"-kind TaskData back into its tile id string.
func (d TaskData) TileID() (string, error) {
	if d.Kind != "tile" {
		return "", fmt.Errorf("task_data kind %q is not a tile task", d.Kind)
	}
	var tileID string
	if err := json.Unmarshal(d.Payload, &tileID); err != nil {
		return "", fmt.Errorf("decode tile task_data: %w", err)
	}
	return tileID, nil
}

// TaskItem is one row of the durable task table.
type TaskItem struct {
	TaskID         int64
	TaskData       TaskData
	Started        bool
	Finalized      bool
	BytesUploaded  int64
	RowsUploaded   int64
	FilesUploaded  int32
}

// TaskProgress is the read-model derived from TaskTable in a single query:
// the aggregate counters plus, optionally, the next unstarted item.
type TaskProgress struct {
	TotalTasks     int
	StartedTasks   int
	FinalizedTasks int
	NextTaskID     int64 // -1 when no unstarted row is available
	NextTaskData   TaskData
}

// IsComplete reports whether every task row has been finalized.
func (p TaskProgress) IsComplete() bool {
	return p.TotalTasks == p.FinalizedTasks
}

// HasNextTask reports whether pickNextAndReport returned an unstarted row.
func (p TaskProgress) HasNextTask() bool {
	return p.NextTaskID != -1
}

// Fraction returns the progress ratio in [0,1].
func (p TaskProgress) Fraction() float64 {
	if p.TotalTasks == 0 {
		return 1
	}
	return float64(p.FinalizedTasks) / float64(p.TotalTasks)
}

// ProgressEvent is the asynchronous completion notification delivered from
// the database executor back to the engine.
type ProgressEvent struct {
	Type        string `json:"type"`
	TaskID       int64  `json:"taskId"`
	ByteCount    int64  `json:"byteCount"`
	FeatureCount int64  `json:"featureCount"`
	FileCount    int32  `json:"fileCount"`
}

// Statistics is the aggregate per-task counters a step exposes once
// complete.
type Statistics struct {
	RowsUploaded  int64 `json:"rowsUploaded"`
	BytesUploaded int64 `json:"bytesUploaded"`
	FilesUploaded int64 `json:"filesUploaded"`
}

// ResourceClaim is a single shared-resource request, e.g. {dbReader, 4.2}.
type ResourceClaim struct {
	Resource      string
	VirtualUnits  float64
}

const (
	ResourceDBReader = "dbReader"
	ResourceIOOut    = "ioOut"
)
