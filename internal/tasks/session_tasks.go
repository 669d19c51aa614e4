package tasks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"streamvault/internal/models"
)

// SessionExpirer moves stale pending sessions to error.
type SessionExpirer interface {
	ExpirePending(ctx context.Context, maxAge time.Duration) (int, error)
}

// CallbackPurger deletes old gateway callback records.
type CallbackPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ExpirePendingSessionsTask closes sessions whose Pix code has outlived its
// validity window. Argument: max_age_minutes.
type ExpirePendingSessionsTask struct {
	Expirer       SessionExpirer
	DefaultMaxAge time.Duration
	Log           *zap.Logger
}

func (t *ExpirePendingSessionsTask) TaskID() string { return models.TaskExpirePendingSessions }

func (t *ExpirePendingSessionsTask) HandleExecution(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	minutes, err := intArg(args, "max_age_minutes", int(t.DefaultMaxAge/time.Minute))
	if err != nil {
		return nil, err
	}
	if minutes <= 0 {
		return nil, fmt.Errorf("max_age_minutes must be positive, got %d", minutes)
	}

	expired, err := t.Expirer.ExpirePending(ctx, time.Duration(minutes)*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("expire pending sessions: %w", err)
	}
	t.Log.Info("pending sessions expired", zap.Int("count", expired), zap.Int("max_age_minutes", minutes))

	return map[string]interface{}{
		"status":          "success",
		"expired_count":   expired,
		"max_age_minutes": minutes,
	}, nil
}

// PurgeCallbackHistoryTask removes callback records older than older_than_days.
type PurgeCallbackHistoryTask struct {
	Purger CallbackPurger
	Log    *zap.Logger
	Now    func() time.Time
}

const defaultCallbackRetentionDays = 30

func (t *PurgeCallbackHistoryTask) TaskID() string { return models.TaskPurgeCallbackHistory }

func (t *PurgeCallbackHistoryTask) HandleExecution(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	days, err := intArg(args, "older_than_days", defaultCallbackRetentionDays)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		return nil, fmt.Errorf("older_than_days must be positive, got %d", days)
	}

	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	cutoff := now().AddDate(0, 0, -days)

	deleted, err := t.Purger.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("purge callback history: %w", err)
	}
	t.Log.Info("callback history purged", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff))

	return map[string]interface{}{
		"status":        "success",
		"deleted_count": deleted,
		"cutoff":        cutoff.Format(time.RFC3339),
	}, nil
}
