package processor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/VadimVDM/VisAPI-sub006/job"
	"github.com/VadimVDM/VisAPI-sub006/retry"
)

// LogPrune deletes message log records older than MaxAgeDays.
type LogPrune struct {
	// MaxAgeDays overrides the configured age when positive.
	MaxAgeDays int `json:"max_age_days,omitempty"`
}

// JobType implements job.Payload.
func (LogPrune) JobType() job.Type { return job.TypeLogPrune }

// LogPruneResult is recorded on the completed job.
type LogPruneResult struct {
	Deleted int64     `json:"deleted"`
	Cutoff  time.Time `json:"cutoff"`
}

// LogPruneDefinition returns the log-prune job definition.
func (p *Processors) LogPruneDefinition() *job.Definition[LogPrune, LogPruneResult] {
	return job.NewDefinition(p.PruneLogs,
		job.WithLane(job.LaneBulk),
		job.WithMaxAttempts(3),
		job.WithTimeout(5*time.Minute),
	)
}

// PruneLogs is the log-prune handler. Repeated runs delete nothing more.
func (p *Processors) PruneLogs(ctx context.Context, in LogPrune) (LogPruneResult, error) {
	maxAge := p.pruneMaxAge
	if in.MaxAgeDays > 0 {
		maxAge = time.Duration(in.MaxAgeDays) * 24 * time.Hour
	}
	if maxAge <= 0 {
		return LogPruneResult{}, retry.Permanent(errors.New("log prune: max age must be positive"))
	}

	cutoff := p.now().Add(-maxAge)
	n, err := p.messages.PruneMessages(ctx, cutoff)
	if err != nil {
		return LogPruneResult{}, retry.Transient(err)
	}

	p.logger.Info("message log pruned",
		slog.Int64("deleted", n),
		slog.Time("cutoff", cutoff),
	)
	return LogPruneResult{Deleted: n, Cutoff: cutoff}, nil
}
