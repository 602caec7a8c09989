package dlq

import (
	"time"

	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/job"
)

// Entry represents a job that was moved to the dead letter queue.
type Entry struct {
	ID          id.DLQID   `json:"id"`
	JobID       id.JobID   `json:"job_id"`
	JobType     job.Type   `json:"job_type"`
	Lane        job.Lane   `json:"lane"`
	Key         string     `json:"key,omitempty"`
	Payload     []byte     `json:"payload"`
	Error       string     `json:"error"`
	ErrorClass  string     `json:"error_class"`
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"max_attempts"`
	FailedAt    time.Time  `json:"failed_at"`
	ReplayedAt  *time.Time `json:"replayed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
