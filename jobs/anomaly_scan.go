package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-admin/aegis-admin/internal/session"
)

// AnomalyScanJob inspects users with several concurrent sessions and logs the
// ones whose logins diverge in network origin. Signal only: nothing is
// revoked here, an operator decides.
type AnomalyScanJob struct {
	Pool     *pgxpool.Pool
	Sessions *session.Service
	Logger   *slog.Logger
}

// NewAnomalyScanJob initialises the anomaly scan handler.
func NewAnomalyScanJob(pool *pgxpool.Pool, sessions *session.Service, logger *slog.Logger) *AnomalyScanJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnomalyScanJob{Pool: pool, Sessions: sessions, Logger: logger}
}

// Handle executes TaskAnomalyScan.
func (j *AnomalyScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil || j.Sessions == nil {
		return errors.New("anomaly scan: handler not configured")
	}
	var payload AnomalyScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.MinSessions <= 0 {
		payload.MinSessions = 2
	}

	rows, err := j.Pool.Query(ctx, `
		SELECT user_id FROM sessions
		WHERE is_active = TRUE AND expires_at > NOW()
		GROUP BY user_id
		HAVING COUNT(*) >= $1`, payload.MinSessions)
	if err != nil {
		return err
	}
	defer rows.Close()

	var candidates []int64
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return err
		}
		candidates = append(candidates, userID)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	flagged := 0
	for _, userID := range candidates {
		suspicious, err := j.Sessions.DetectSuspiciousActivity(ctx, userID)
		if err != nil {
			j.Logger.Warn("suspicion check", slog.Int64("user_id", userID), slog.Any("error", err))
			continue
		}
		if suspicious {
			flagged++
			j.Logger.Warn("suspicious session activity", slog.Int64("user_id", userID))
		}
	}
	j.Logger.Info("anomaly scan complete",
		slog.Int("candidates", len(candidates)), slog.Int("flagged", flagged))
	return nil
}
