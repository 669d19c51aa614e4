package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"streamvault/internal/config"
	"streamvault/internal/logger"
	"streamvault/internal/models"
	"streamvault/internal/services"
	"streamvault/internal/tasks"
)

func main() {
	// defined flags
	taskName := flag.String("task_name", "", "Name of the task (mandatory): "+models.TaskExpirePendingSessions+", "+models.TaskPurgeCallbackHistory+", "+models.TaskLogInfo)
	argsStr := flag.String("arguments", "{}", "JSON arguments for the task, e.g. {\"max_age_minutes\":30}")
	dueStr := flag.String("due", "", "Due date (mandatory, format: 2006-01-02 15:04 or RFC3339)")
	taskType := flag.String("tasktype", string(models.ScheduledTaskTypeOneTime), "Task type: onetime or recurring")
	recurring := flag.String("recurring", "", "RRULE for recurring tasks, e.g. FREQ=MINUTELY;INTERVAL=10")
	maxAttempt := flag.Int("max_attempt", 3, "Max attempts (optional, default: 3)")

	flag.Parse()

	if *taskName == "" || *dueStr == "" {
		fmt.Println("Usage: schedule_task -task_name <name> -due <YYYY-MM-DD HH:MM> [-arguments <json>] [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	config.LoadDotEnv()
	cfg := config.Load()

	log := logger.NewDevelopment("schedule_task")
	defer func() { _ = log.Sync() }()

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(*argsStr), &args); err != nil {
		log.Fatal("invalid JSON arguments", zap.Error(err))
	}

	due, err := parseDue(*dueStr)
	if err != nil {
		log.Fatal("invalid due date, use '2006-01-02 15:04' (local) or RFC3339", zap.Error(err))
	}

	var recurringPtr *string
	if *recurring != "" {
		recurringPtr = recurring
	}

	task, err := tasks.BuildScheduledTask(*taskName, args, due, recurringPtr, models.ScheduledTaskType(*taskType), *maxAttempt)
	if err != nil {
		log.Fatal("invalid task", zap.Error(err))
	}

	db, err := services.InitDB(cfg.DatabaseURL, false, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := db.Create(task).Error; err != nil {
		log.Fatal("failed to create task", zap.Error(err))
	}

	fmt.Printf("Successfully created task ID: %d\n", task.ID)
	fmt.Printf("Task: %s\nDue: %s\nType: %s\n", task.TaskName, task.Due, task.TaskType)
}

func parseDue(s string) (time.Time, error) {
	if due, err := time.Parse(time.RFC3339, s); err == nil {
		return due, nil
	}
	return time.ParseInLocation("2006-01-02 15:04", s, time.Local)
}
