package cron

import (
	"encoding/json"
	"fmt"
	"time"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/job"
)

// Definition is a typed cron definition. T is the payload of the job
// fired on each tick.
type Definition[T job.Payload] struct {
	// Name is the unique identifier for this cron entry.
	Name string

	// Schedule is a cron expression (e.g., "*/5 * * * *" or "@daily").
	Schedule string

	// Payload is enqueued with every fired job.
	Payload T

	// Lane overrides the default bulk lane (optional).
	Lane job.Lane
}

// NewEntry validates def and builds the entry to register, with
// NextRunAt computed from now.
func NewEntry[T job.Payload](def Definition[T], now time.Time) (*Entry, error) {
	sched, err := ParseSchedule(def.Schedule)
	if err != nil {
		return nil, fmt.Errorf("cron %q: parse schedule: %w", def.Name, err)
	}
	payload, err := json.Marshal(def.Payload)
	if err != nil {
		return nil, fmt.Errorf("cron %q: encode payload: %w", def.Name, err)
	}
	lane := def.Lane
	if lane == "" {
		lane = job.LaneBulk
	}
	next := sched.Next(now)
	return &Entry{
		Entity:    visapi.NewEntity(),
		ID:        id.NewCronID(),
		Name:      def.Name,
		Schedule:  def.Schedule,
		JobType:   def.Payload.JobType(),
		Lane:      lane,
		Payload:   payload,
		NextRunAt: &next,
		Enabled:   true,
	}, nil
}
