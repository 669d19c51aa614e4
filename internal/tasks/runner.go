package tasks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"streamvault/internal/models"
)

const (
	historyStatusSuccess         = "success"
	historyStatusFailure         = "failure"
	historyStatusHandlerNotFound = "handler_not_found"
)

// Runner executes due ScheduledTask rows against a Registry.
type Runner struct {
	db       *gorm.DB
	registry *Registry
	log      *zap.Logger
	now      func() time.Time
}

func NewRunner(db *gorm.DB, registry *Registry, log *zap.Logger) *Runner {
	return &Runner{db: db, registry: registry, log: log, now: time.Now}
}

// RunDue executes every active task whose due time has passed and returns how
// many were processed.
func (r *Runner) RunDue(ctx context.Context) (int, error) {
	var pending []models.ScheduledTask
	if err := r.db.WithContext(ctx).
		Where("status = ? AND due <= ?", models.ScheduledTaskStatusActive, r.now()).
		Order("due").
		Find(&pending).Error; err != nil {
		return 0, fmt.Errorf("fetch pending tasks: %w", err)
	}

	if len(pending) == 0 {
		r.log.Debug("no pending tasks")
		return 0, nil
	}
	r.log.Info("found pending tasks", zap.Int("count", len(pending)))

	processed := 0
	for _, task := range pending {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		r.execute(ctx, task)
		processed++
	}
	return processed, nil
}

func (r *Runner) execute(ctx context.Context, task models.ScheduledTask) {
	log := r.log.With(zap.Uint("task_id", task.ID), zap.String("task_name", task.TaskName))

	if task.Arguments == nil {
		task.Arguments = make(map[string]interface{})
	}
	task.Arguments["max_attempt"] = task.MaxAttempt

	handler, found := r.registry.Get(task.TaskName)
	if !found {
		log.Warn("task handler not found, marking as failure")
		now := r.now()
		r.writeHistory(ctx, models.ScheduledTaskHistory{
			ScheduledTaskID: task.ID,
			TaskName:        task.TaskName,
			RunAt:           now,
			Status:          historyStatusHandlerNotFound,
			AttemptNumber:   1,
			Arguments:       task.Arguments,
			Result:          map[string]interface{}{"error": "Handler not found"},
		})
		r.updateTask(ctx, task, map[string]interface{}{
			"status":   models.ScheduledTaskStatusFailure,
			"last_run": &now,
		})
		return
	}

	var startTime time.Time
	succeeded := false
	maxAttempt := task.MaxAttempt
	if maxAttempt < 1 {
		maxAttempt = 1
	}

	for attempt := 1; attempt <= maxAttempt; attempt++ {
		startTime = r.now()
		result, err := handler(ctx, task.Arguments)
		runtimeMs := int(r.now().Sub(startTime).Milliseconds())

		status := historyStatusSuccess
		if err != nil {
			status = historyStatusFailure
			result = map[string]interface{}{"error": err.Error()}
			log.Warn("task attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}

		r.writeHistory(ctx, models.ScheduledTaskHistory{
			ScheduledTaskID: task.ID,
			TaskName:        task.TaskName,
			RunAt:           startTime,
			Runtime:         runtimeMs,
			Status:          status,
			AttemptNumber:   attempt,
			Arguments:       task.Arguments,
			Result:          result,
		})

		if err == nil {
			succeeded = true
			log.Info("task completed", zap.Int("attempt", attempt), zap.Int("runtime_ms", runtimeMs))
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	updates := NextState(task, succeeded, r.now())
	updates["last_run"] = &startTime
	r.updateTask(ctx, task, updates)
}

// NextState computes the column updates after a run: failures stop the task,
// one-time tasks finish, recurring tasks move to the next occurrence.
func NextState(task models.ScheduledTask, succeeded bool, now time.Time) map[string]interface{} {
	if !succeeded {
		return map[string]interface{}{"status": models.ScheduledTaskStatusFailure}
	}

	switch task.TaskType {
	case models.ScheduledTaskTypeRecurring:
		// only a future occurrence keeps the task active, otherwise it would run again at once
		nextDue := task.NextDue(now)
		if nextDue.After(task.Due) && nextDue.After(now) {
			return map[string]interface{}{
				"status": models.ScheduledTaskStatusActive,
				"due":    nextDue,
			}
		}
		return map[string]interface{}{"status": models.ScheduledTaskStatusDone}
	default:
		return map[string]interface{}{"status": models.ScheduledTaskStatusDone}
	}
}

func (r *Runner) writeHistory(ctx context.Context, history models.ScheduledTaskHistory) {
	if err := r.db.WithContext(ctx).Create(&history).Error; err != nil {
		r.log.Error("failed to write task history", zap.Uint("task_id", history.ScheduledTaskID), zap.Error(err))
	}
}

func (r *Runner) updateTask(ctx context.Context, task models.ScheduledTask, updates map[string]interface{}) {
	if err := r.db.WithContext(ctx).Model(&models.ScheduledTask{}).Where("id = ?", task.ID).Updates(updates).Error; err != nil {
		r.log.Error("failed to update task", zap.Uint("task_id", task.ID), zap.Error(err))
	}
}
