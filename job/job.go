package job

import (
	"time"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/id"
)

// Type names the kind of work a job performs. Each type has exactly one
// payload shape and one processor.
type Type string

const (
	TypeContactSync    Type = "contact-sync"
	TypeMessageSend    Type = "message-send"
	TypeDocumentScrape Type = "document-scrape"
	TypeLogPrune       Type = "log-prune"
)

// Lane is a named priority class with its own concurrency limit.
type Lane string

const (
	LaneCritical Lane = "critical"
	LaneDefault  Lane = "default"
	LaneBulk     Lane = "bulk"
)

// Lanes returns every lane, highest priority first.
func Lanes() []Lane {
	return []Lane{LaneCritical, LaneDefault, LaneBulk}
}

// Priority orders lanes when one pool serves several of them.
func (l Lane) Priority() int {
	switch l {
	case LaneCritical:
		return 10
	case LaneDefault:
		return 5
	default:
		return 0
	}
}

// Valid reports whether l is one of the known lanes.
func (l Lane) Valid() bool {
	switch l {
	case LaneCritical, LaneDefault, LaneBulk:
		return true
	}
	return false
}

// ParseLane converts a lane name into a Lane.
func ParseLane(s string) (Lane, error) {
	l := Lane(s)
	if !l.Valid() {
		return "", visapi.ErrUnknownLane
	}
	return l, nil
}

// State represents the lifecycle state of a job.
type State string

const (
	// StateWaiting means the job is ready to be claimed.
	StateWaiting State = "waiting"
	// StateDelayed means the job becomes claimable at RunAt.
	StateDelayed State = "delayed"
	// StateActive means a worker is executing the job.
	StateActive State = "active"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job was handed to the dead-letter handler.
	StateFailed State = "failed"
)

// Terminal reports whether no further attempt will be made.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job represents a unit of work to be processed by a worker.
type Job struct {
	visapi.Entity

	ID          id.JobID      `json:"id"`
	Type        Type          `json:"type"`
	Lane        Lane          `json:"lane"`
	Key         string        `json:"key,omitempty"`
	Payload     []byte        `json:"payload"`
	Result      []byte        `json:"result,omitempty"`
	State       State         `json:"state"`
	Priority    int           `json:"priority"`
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"max_attempts"`
	LastError   string        `json:"last_error,omitempty"`
	WorkerID    id.WorkerID   `json:"worker_id,omitempty"`
	RunAt       time.Time     `json:"run_at"`
	ProcessedAt *time.Time    `json:"processed_at,omitempty"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// Due reports whether the job may be claimed at now.
func (j *Job) Due(now time.Time) bool {
	return (j.State == StateWaiting || j.State == StateDelayed) && !j.RunAt.After(now)
}

// Exhausted reports whether the attempt budget is spent.
func (j *Job) Exhausted() bool {
	return j.Attempt >= j.MaxAttempts
}
