package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	ErrTaskNotFound = errors.New("task not found")
)

// TerminalResult carries the outcome fields written when a task completes.
type TerminalResult struct {
	AudioRef       string
	SubtitleRef    string
	AudioURL       *string
	SubtitleURL    *string
	ProcessingTime float64
	Duration       float64
	FileSize       int64
}

// Repository defines the interface for task data access.
//
// Status transitions are conditional updates: the WHERE clause carries the
// expected current status, so concurrent writers race safely and the loser
// observes ErrTaskNotFound via RowsAffected.
type Repository interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, filter *Filter) ([]*Task, error)
	Delete(ctx context.Context, id string) error

	// ClaimProcessing atomically moves a pending task to processing.
	// Returns false when the task was not pending (claimed elsewhere,
	// already terminal, or missing).
	ClaimProcessing(ctx context.Context, id string) (bool, error)

	// Complete moves a processing task to completed with its results.
	Complete(ctx context.Context, id string, res *TerminalResult) error

	// Fail moves a processing task to failed with an error message.
	Fail(ctx context.Context, id string, errMsg string) error

	// Requeue moves a processing task back to pending. Used only by the
	// recovery sweep for orphaned tasks.
	Requeue(ctx context.Context, id string) error

	// OldestPending returns the oldest pending long-text task, or
	// ErrTaskNotFound when none exist. Store fallback when the queue
	// is empty.
	OldestPending(ctx context.Context) (*Task, error)

	// ListOrphanedProcessing returns processing tasks whose claim is
	// older than the threshold.
	ListOrphanedProcessing(ctx context.Context, olderThan time.Duration) ([]*Task, error)

	// ListExpired returns terminal tasks older than the retention period.
	ListExpired(ctx context.Context, retention time.Duration) ([]*Task, error)

	CountByStatus(ctx context.Context) (map[Status]int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new task repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// Create creates a new task.
func (r *repository) Create(ctx context.Context, task *Task) error {
	return r.db.WithContext(ctx).Create(task).Error
}

// Get retrieves a task by ID.
func (r *repository) Get(ctx context.Context, id string) (*Task, error) {
	var task Task
	err := r.db.WithContext(ctx).First(&task, "task_id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &task, nil
}

// List lists tasks with optional filters.
func (r *repository) List(ctx context.Context, filter *Filter) ([]*Task, error) {
	var tasks []*Task
	query := r.db.WithContext(ctx)

	if filter != nil {
		if filter.Type != nil {
			query = query.Where("type = ?", *filter.Type)
		}
		if filter.Status != nil {
			query = query.Where("status = ?", *filter.Status)
		}

		orderBy := "created_at"
		if filter.OrderBy != "" {
			orderBy = filter.OrderBy
		}
		orderDir := "DESC"
		if filter.OrderDir != "" {
			orderDir = filter.OrderDir
		}
		query = query.Order(fmt.Sprintf("%s %s", orderBy, orderDir))

		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			query = query.Offset(filter.Offset)
		}
	} else {
		query = query.Order("created_at DESC")
	}

	if err := query.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// Delete deletes a task.
func (r *repository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&Task{}, "task_id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("delete task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// ClaimProcessing atomically moves a pending task to processing.
func (r *repository) ClaimProcessing(ctx context.Context, id string) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&Task{}).
		Where("task_id = ? AND status = ?", id, StatusPending).
		Updates(map[string]any{
			"status":     StatusProcessing,
			"started_at": now,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("claim task: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Complete moves a processing task to completed with its results.
func (r *repository) Complete(ctx context.Context, id string, res *TerminalResult) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&Task{}).
		Where("task_id = ? AND status = ?", id, StatusProcessing).
		Updates(map[string]any{
			"status":          StatusCompleted,
			"audio_ref":       res.AudioRef,
			"subtitle_ref":    res.SubtitleRef,
			"audio_url":       res.AudioURL,
			"subtitle_url":    res.SubtitleURL,
			"processing_time": res.ProcessingTime,
			"duration":        res.Duration,
			"file_size":       res.FileSize,
			"completed_at":    now,
			"updated_at":      now,
		})
	if result.Error != nil {
		return fmt.Errorf("complete task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Fail moves a processing task to failed.
func (r *repository) Fail(ctx context.Context, id string, errMsg string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&Task{}).
		Where("task_id = ? AND status = ?", id, StatusProcessing).
		Updates(map[string]any{
			"status":        StatusFailed,
			"error_message": errMsg,
			"completed_at":  now,
			"updated_at":    now,
		})
	if result.Error != nil {
		return fmt.Errorf("fail task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Requeue moves a processing task back to pending.
func (r *repository) Requeue(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&Task{}).
		Where("task_id = ? AND status = ?", id, StatusProcessing).
		Updates(map[string]any{
			"status":     StatusPending,
			"started_at": nil,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("requeue task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// OldestPending returns the oldest pending long-text task.
func (r *repository) OldestPending(ctx context.Context) (*Task, error) {
	var task Task
	err := r.db.WithContext(ctx).
		Where("status = ? AND type = ?", StatusPending, TypeLongText).
		Order("priority DESC, created_at ASC").
		First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("oldest pending task: %w", err)
	}
	return &task, nil
}

// ListOrphanedProcessing returns processing tasks claimed before the threshold.
func (r *repository) ListOrphanedProcessing(ctx context.Context, olderThan time.Duration) ([]*Task, error) {
	cutoff := time.Now().Add(-olderThan)
	var tasks []*Task
	err := r.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", StatusProcessing, cutoff).
		Order("started_at ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list orphaned tasks: %w", err)
	}
	return tasks, nil
}

// ListExpired returns terminal tasks older than the retention period.
func (r *repository) ListExpired(ctx context.Context, retention time.Duration) ([]*Task, error) {
	cutoff := time.Now().Add(-retention)
	var tasks []*Task
	err := r.db.WithContext(ctx).
		Where("status IN ? AND completed_at < ?", []Status{StatusCompleted, StatusFailed}, cutoff).
		Order("completed_at ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list expired tasks: %w", err)
	}
	return tasks, nil
}

// CountByStatus counts tasks grouped by status.
func (r *repository) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	type row struct {
		Status Status
		Count  int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&Task{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count tasks by status: %w", err)
	}

	counts := make(map[Status]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
