package models

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// SyncSchedule tracks progress of one (task, scope) pair. Scope is "" when
// the task is not partitioned.
type SyncSchedule struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	TaskName      string     `gorm:"size:100;not null;uniqueIndex:idx_sync_schedule_task_scope" json:"task_name"`
	Scope         string     `gorm:"size:200;not null;default:'';uniqueIndex:idx_sync_schedule_task_scope" json:"scope"`
	LastRunAt     *time.Time `json:"last_run_at"`
	LastSuccessAt *time.Time `json:"last_success_at"`
	LastError     string     `gorm:"type:text" json:"last_error"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (SyncSchedule) TableName() string { return "sync_schedules" }

// FetchSchedule finds or creates the schedule row for (taskName, scope).
func FetchSchedule(db *gorm.DB, taskName, scope string) (*SyncSchedule, error) {
	if strings.TrimSpace(taskName) == "" {
		return nil, errors.New("task name is required")
	}
	schedule := SyncSchedule{TaskName: taskName, Scope: scope}
	if err := db.Where(map[string]interface{}{"task_name": taskName, "scope": scope}).
		FirstOrCreate(&schedule).Error; err != nil {
		return nil, err
	}
	return &schedule, nil
}

// Checkpoint is the last success, else the last start, else nil.
func (s *SyncSchedule) Checkpoint() *time.Time {
	if s.LastSuccessAt != nil {
		return s.LastSuccessAt
	}
	return s.LastRunAt
}

func (s *SyncSchedule) MarkStarted(db *gorm.DB, at time.Time) error {
	s.LastRunAt = &at
	return db.Model(s).Update("last_run_at", at).Error
}

func (s *SyncSchedule) MarkSucceeded(db *gorm.DB, at time.Time) error {
	s.LastSuccessAt = &at
	s.LastError = ""
	return db.Model(s).Updates(map[string]interface{}{
		"last_success_at": at,
		"last_error":      "",
	}).Error
}

func (s *SyncSchedule) RecordError(db *gorm.DB, message string) error {
	s.LastError = strings.TrimSpace(message)
	return db.Model(s).Update("last_error", s.LastError).Error
}
