package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskFollowUpRemind surfaces case actions whose follow-up date arrived.
	TaskFollowUpRemind = "followup:remind"
	// TaskCatalogWarmup pre-populates the violation/sanction caches.
	TaskCatalogWarmup = "catalog:warmup"
)

// FollowUpRemindPayload scopes a reminder run. AsOf is zero for "now".
type FollowUpRemindPayload struct {
	AsOf time.Time `json:"as_of,omitempty"`
}

// NewFollowUpRemindTask constructs the reminder task.
func NewFollowUpRemindTask(payload FollowUpRemindPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFollowUpRemind, data), nil
}

// NewCatalogWarmupTask constructs the warmup task. No payload.
func NewCatalogWarmupTask() *asynq.Task {
	return asynq.NewTask(TaskCatalogWarmup, nil)
}
