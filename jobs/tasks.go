package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskSessionCleanup bulk-expires sessions past their deadline.
	TaskSessionCleanup = "session:cleanup"
	// TaskSessionPrune deletes long-terminated session rows.
	TaskSessionPrune = "session:prune"
	// TaskAnomalyScan flags users whose active sessions diverge in origin.
	TaskAnomalyScan = "session:anomaly_scan"
)

// SessionPrunePayload bounds the retention sweep.
type SessionPrunePayload struct {
	RetentionHours int `json:"retention_hours"`
}

// AnomalyScanPayload tunes the suspicious-activity sweep.
type AnomalyScanPayload struct {
	MinSessions int `json:"min_sessions"`
}

// NewSessionCleanupTask constructs the cleanup task.
func NewSessionCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskSessionCleanup, nil)
}

// NewSessionPruneTask constructs the retention prune task.
func NewSessionPruneTask(payload SessionPrunePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionPrune, data), nil
}

// NewAnomalyScanTask constructs the anomaly scan task.
func NewAnomalyScanTask(payload AnomalyScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAnomalyScan, data), nil
}
