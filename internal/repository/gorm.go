package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// GormRunRepository implements RunRepository using GORM.
type GormRunRepository struct {
	db *gorm.DB
}

// NewGormRunRepository creates a new GormRunRepository.
func NewGormRunRepository(db *gorm.DB) *GormRunRepository {
	return &GormRunRepository{db: db}
}

// CreateRun inserts a new run row and returns its assigned ID.
func (r *GormRunRepository) CreateRun(ctx context.Context, sourceName string) (int64, error) {
	record := &RunRecord{SourceName: sourceName, StartedAt: time.Now()}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return 0, fmt.Errorf("failed to create run record: %w", err)
	}
	return record.ID, nil
}

// UpdateCounters overwrites the counter fields of an existing run.
func (r *GormRunRepository) UpdateCounters(ctx context.Context, id int64, counters RunCounters) error {
	res := r.db.WithContext(ctx).
		Model(&RunRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"tasks_emitted":      counters.TasksEmitted,
			"dropped_count":      counters.DroppedCount,
			"malformed_count":    counters.MalformedCount,
			"sink_failure_count": counters.SinkFailureCount,
			"cap_exceeded_count": counters.CapExceededCount,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update run counters: %w", res.Error)
	}
	return nil
}

// FinishRun marks a run as finished at the current time.
func (r *GormRunRepository) FinishRun(ctx context.Context, id int64) error {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&RunRecord{}).
		Where("id = ?", id).
		Update("finished_at", &now)
	if res.Error != nil {
		return fmt.Errorf("failed to finish run: %w", res.Error)
	}
	return nil
}

// GetRun retrieves a run by its ID.
func (r *GormRunRepository) GetRun(ctx context.Context, id int64) (*RunRecord, error) {
	var record RunRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("run not found: %d", id)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &record, nil
}

// RecentRuns returns the most recently started runs, newest first.
func (r *GormRunRepository) RecentRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	var records []*RunRecord
	err := r.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query recent runs: %w", err)
	}
	return records, nil
}
