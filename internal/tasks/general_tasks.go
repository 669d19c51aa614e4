package tasks

import (
	"context"

	"go.uber.org/zap"

	"streamvault/internal/models"
)

// LogInfoTask writes its message argument to the log. Useful to check that
// the worker picks up scheduled rows.
type LogInfoTask struct {
	Log *zap.Logger
}

// TaskID returns the unique identifier for this task
func (t *LogInfoTask) TaskID() string { return models.TaskLogInfo }

// HandleExecution handles logging information
func (t *LogInfoTask) HandleExecution(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	message, ok := args["message"].(string)
	if !ok {
		message = "No message provided"
	}
	t.Log.Info("log_info task", zap.String("message", message))

	return map[string]interface{}{
		"status":            "success",
		"message":           message,
		"max_attempts_info": args["max_attempt"],
	}, nil
}
