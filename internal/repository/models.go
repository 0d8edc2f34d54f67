package repository

import "time"

// RunRecord is the run-registry row for one source_name "run" of the
// profiler: lifetime counters only, never call-graph data (spec's
// Non-goal on profile retention/replay keeps the tree itself
// in-memory and out of the database entirely).
type RunRecord struct {
	ID               int64      `gorm:"column:id;primaryKey;autoIncrement"`
	SourceName       string     `gorm:"column:source_name;type:varchar(256);index"`
	StartedAt        time.Time  `gorm:"column:started_at"`
	FinishedAt       *time.Time `gorm:"column:finished_at"`
	TasksEmitted     int64      `gorm:"column:tasks_emitted"`
	DroppedCount     int64      `gorm:"column:dropped_count"`
	MalformedCount   int64      `gorm:"column:malformed_count"`
	SinkFailureCount int64      `gorm:"column:sink_failure_count"`
	CapExceededCount int64      `gorm:"column:cap_exceeded_count"`
}

// TableName returns the table name for RunRecord.
func (RunRecord) TableName() string {
	return "profiler_runs"
}
