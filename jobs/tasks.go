package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/ledgerbridge/ledgerbridge/internal/posting"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypePostingReplay is the task type for re-running a failed posting batch.
	TaskTypePostingReplay = "posting:replay"
)

// PostingReplayPayload carries a complete batch so the worker can rebuild
// the requests and rerun the whole cycle from scratch. Numbers assigned
// during the failed attempt were discarded on rollback, so the replay
// allocates fresh ones.
type PostingReplayPayload struct {
	BatchID string             `json:"batch_id"`
	Batch   posting.BatchInput `json:"batch"`
	Reason  string             `json:"reason,omitempty"`
}

// NewPostingReplayTask constructs an Asynq task.
func NewPostingReplayTask(payload PostingReplayPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypePostingReplay, data, asynq.MaxRetry(5)), nil
}
