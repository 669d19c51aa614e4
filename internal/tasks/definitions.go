package tasks

import (
	"time"

	"go.uber.org/zap"
)

// Deps are the services the task handlers run against. A nil dependency
// leaves its task unregistered.
type Deps struct {
	Sessions        SessionExpirer
	CallbackHistory CallbackPurger
	PixExpiry       time.Duration
	Log             *zap.Logger
}

// DefineTasks registers all available tasks
func DefineTasks(r *Registry, deps Deps) {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	general := &LogInfoTask{Log: log}
	r.Register(general.TaskID(), general.HandleExecution)

	if deps.Sessions != nil {
		expire := &ExpirePendingSessionsTask{Expirer: deps.Sessions, DefaultMaxAge: deps.PixExpiry, Log: log}
		r.Register(expire.TaskID(), expire.HandleExecution)
	}

	if deps.CallbackHistory != nil {
		purge := &PurgeCallbackHistoryTask{Purger: deps.CallbackHistory, Log: log}
		r.Register(purge.TaskID(), purge.HandleExecution)
	}
}
