package models

import (
	"time"

	"github.com/teambition/rrule-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ScheduledTaskStatus represents the status of a scheduled task
type ScheduledTaskStatus string

const (
	ScheduledTaskStatusActive   ScheduledTaskStatus = "active"
	ScheduledTaskStatusDone     ScheduledTaskStatus = "done"
	ScheduledTaskStatusFailure  ScheduledTaskStatus = "failure"
	ScheduledTaskStatusDisabled ScheduledTaskStatus = "disabled"
)

// ScheduledTaskType represents the type of scheduled task
type ScheduledTaskType string

const (
	ScheduledTaskTypeOneTime   ScheduledTaskType = "onetime"
	ScheduledTaskTypeRecurring ScheduledTaskType = "recurring"
)

// Task names understood by the worker.
const (
	TaskExpirePendingSessions = "expire_pending_sessions"
	TaskPurgeCallbackHistory  = "purge_callback_history"
	TaskLogInfo               = "log_info"
)

// ScheduledTask is a unit of background work executed by the worker when due.
type ScheduledTask struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	TaskName          string              `gorm:"type:varchar(255)" json:"task_name"`
	Arguments         datatypes.JSONMap   `gorm:"type:jsonb" json:"arguments"`
	LastRun           *time.Time          `json:"last_run"`
	Due               time.Time           `gorm:"index:idx_scheduled_tasks_status_due,priority:2,where:deleted_at IS NULL" json:"due"`
	RecurringInterval *string             `gorm:"type:text" json:"recurring_interval"`
	Status            ScheduledTaskStatus `gorm:"type:varchar(20);index:idx_scheduled_tasks_status_due,priority:1,where:deleted_at IS NULL" json:"status"`
	TaskType          ScheduledTaskType   `gorm:"type:varchar(20);default:'onetime'" json:"task_type"`
	MaxAttempt        int                 `json:"max_attempt"`
}

// NextDue returns the first occurrence of the recurrence rule after now.
// One-time tasks and unparsable rules keep the current due time.
func (t ScheduledTask) NextDue(now time.Time) time.Time {
	if t.TaskType == ScheduledTaskTypeOneTime {
		return t.Due
	}

	if t.RecurringInterval != nil && *t.RecurringInterval != "" {
		rule, err := rrule.StrToRRule(*t.RecurringInterval)
		if err == nil {
			rule.DTStart(t.Due)
			next := rule.After(now, false)
			if !next.IsZero() {
				return next
			}
		}
	}
	return t.Due
}

// ScheduledTaskHistory records one execution attempt of a scheduled task.
type ScheduledTaskHistory struct {
	ID              uint           `gorm:"primarykey" json:"id"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
	ScheduledTaskID uint           `gorm:"index" json:"scheduled_task_id"`

	TaskName      string            `gorm:"type:varchar(255)" json:"task_name"`
	RunAt         time.Time         `json:"run_at"`
	Runtime       int               `json:"runtime"` // milliseconds
	Status        string            `gorm:"type:varchar(50)" json:"status"`
	AttemptNumber int               `json:"attempt_number"`
	Arguments     datatypes.JSONMap `gorm:"type:jsonb" json:"arguments"`
	Result        datatypes.JSONMap `gorm:"type:jsonb" json:"result"`
}
