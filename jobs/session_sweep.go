package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/aegis-admin/aegis-admin/internal/session"
)

// SessionSweepJob expires stale sessions and prunes long-terminated rows.
type SessionSweepJob struct {
	Sessions *session.Service
	Logger   *slog.Logger
}

// NewSessionSweepJob initialises the sweep handler.
func NewSessionSweepJob(sessions *session.Service, logger *slog.Logger) *SessionSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionSweepJob{Sessions: sessions, Logger: logger}
}

// HandleCleanup executes TaskSessionCleanup.
func (j *SessionSweepJob) HandleCleanup(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Sessions == nil {
		return errors.New("session sweep: handler not configured")
	}
	count, err := j.Sessions.CleanupExpired(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		j.Logger.Info("expired sessions", slog.Int64("count", count))
	}
	return nil
}

// HandlePrune executes TaskSessionPrune.
func (j *SessionSweepJob) HandlePrune(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sessions == nil {
		return errors.New("session sweep: handler not configured")
	}
	var payload SessionPrunePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	retention := time.Duration(payload.RetentionHours) * time.Hour
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	count, err := j.Sessions.PruneTerminated(ctx, retention)
	if err != nil {
		return err
	}
	if count > 0 {
		j.Logger.Info("pruned sessions", slog.Int64("count", count))
	}
	return nil
}
