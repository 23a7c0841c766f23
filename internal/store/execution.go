package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/credops/credops/internal/model"
)

// ErrExecutionNotFound is returned when an execution id resolves to no row.
var ErrExecutionNotFound = errors.New("store: execution not found")

// ExecutionStore persists automation executions and their result summaries.
type ExecutionStore struct {
	db *gorm.DB
}

func NewExecutionStore(db *gorm.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// Create inserts a new pending execution with its immutable policy snapshot.
func (s *ExecutionStore) Create(ctx context.Context, exec *model.AutomationExecution) error {
	return s.db.WithContext(ctx).Create(exec).Error
}

// Get loads one execution.
func (s *ExecutionStore) Get(ctx context.Context, id string) (*model.AutomationExecution, error) {
	var exec model.AutomationExecution
	err := s.db.WithContext(ctx).First(&exec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

// MarkRunning transitions a pending execution into the running state.
func (s *ExecutionStore) MarkRunning(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&model.AutomationExecution{}).
		Where("id = ?", id).
		Update("status", model.ExecutionStatusRunning).Error
}

// Finish settles an execution with its summary counters. A run with any
// failed host finishes failed; partial success is still a failed execution.
func (s *ExecutionStore) Finish(ctx context.Context, id string, status model.ExecutionStatus, summary model.ExecutionSummary) error {
	exec := model.AutomationExecution{}
	exec.SetSummary(summary)
	now := time.Now()
	return s.db.WithContext(ctx).Model(&model.AutomationExecution{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status,
			"summary":       exec.Summary,
			"date_finished": &now,
		}).Error
}

// Recent lists the latest executions of one automation type, newest first.
func (s *ExecutionStore) Recent(ctx context.Context, typ model.AutomationType, limit int) ([]*model.AutomationExecution, error) {
	var execs []*model.AutomationExecution
	q := s.db.WithContext(ctx).
		Where("type = ?", typ).
		Order("date_start DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&execs).Error; err != nil {
		return nil, err
	}
	return execs, nil
}
