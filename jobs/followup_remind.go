package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tatibku/tatibku/internal/cases"
)

// FollowUpSource lists actions whose follow-up date has arrived.
type FollowUpSource interface {
	ListDueFollowUps(ctx context.Context, asOf time.Time) ([]cases.FollowUpReminder, error)
}

// FollowUpRemindJob surfaces due follow-ups to the responsible teachers.
// Delivery is a structured log entry picked up by the notification relay.
type FollowUpRemindJob struct {
	Source  FollowUpSource
	Logger  *slog.Logger
	Metrics *Metrics
	clock   func() time.Time
}

// NewFollowUpRemindJob wires dependencies for the reminder handler.
func NewFollowUpRemindJob(source FollowUpSource, logger *slog.Logger, metrics *Metrics) *FollowUpRemindJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &FollowUpRemindJob{
		Source:  source,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskFollowUpRemind tasks.
func (j *FollowUpRemindJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Source == nil {
		return errors.New("followup remind: handler not configured")
	}
	var payload FollowUpRemindPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	asOf := payload.AsOf
	if asOf.IsZero() {
		asOf = j.clock()
	}

	tracker := j.metrics().Track(TaskFollowUpRemind)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	reminders, err := j.Source.ListDueFollowUps(ctx, asOf)
	if err != nil {
		resultErr = err
		return err
	}
	for _, rem := range reminders {
		j.Logger.Info("follow-up due",
			slog.String("case_number", rem.CaseNumber),
			slog.Int64("case_id", rem.CaseID),
			slog.Int64("action_id", rem.ActionID),
			slog.Int64("action_by_id", rem.ActionByID),
			slog.String("student", rem.StudentName),
			slog.Time("follow_up_date", rem.FollowUpDate),
		)
	}
	j.metrics().AddReminders(len(reminders))
	j.Logger.Info("follow-up reminder run finished",
		slog.Time("as_of", asOf),
		slog.Int("due", len(reminders)),
	)
	return nil
}

func (j *FollowUpRemindJob) metrics() *Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return NewMetrics(nil)
}
