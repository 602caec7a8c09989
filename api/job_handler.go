package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/job"
)

// JobCountsResponse holds job counts by state.
type JobCountsResponse struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

func jobStates() []job.State {
	return []job.State{
		job.StateWaiting,
		job.StateDelayed,
		job.StateActive,
		job.StateCompleted,
		job.StateFailed,
	}
}

func parseState(raw string) (job.State, error) {
	if raw == "" {
		return job.StateWaiting, nil
	}
	for _, s := range jobStates() {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", badRequest("unknown job state %q", raw)
}

func parseLaneQuery(r *http.Request) (job.Lane, error) {
	raw := r.URL.Query().Get("lane")
	if raw == "" {
		return "", nil
	}
	lane, err := job.ParseLane(raw)
	if err != nil {
		return "", badRequest("unknown lane %q", raw)
	}
	return lane, nil
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) error {
	state, err := parseState(r.URL.Query().Get("state"))
	if err != nil {
		return err
	}
	lane, err := parseLaneQuery(r)
	if err != nil {
		return err
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		return err
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		return err
	}

	jobs, err := a.eng.JobStore().ListJobsByState(r.Context(), state, job.ListOpts{
		Limit:  defaultLimit(limit),
		Offset: offset,
		Lane:   lane,
	})
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
	return nil
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) error {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobId"))
	if err != nil {
		return badRequest("invalid job ID: %v", err)
	}
	j, err := a.eng.JobStore().GetJob(r.Context(), jobID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, j)
	return nil
}

// cancelJob drops a job that no worker has claimed yet.
func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) error {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobId"))
	if err != nil {
		return badRequest("invalid job ID: %v", err)
	}
	if err := a.eng.JobStore().CancelJob(r.Context(), jobID); err != nil {
		return err
	}
	a.logger.Info("job cancelled", slog.String("job_id", jobID.String()))
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (a *API) jobCounts(w http.ResponseWriter, r *http.Request) error {
	lane, err := parseLaneQuery(r)
	if err != nil {
		return err
	}
	resp, err := a.countJobs(r, lane)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

func (a *API) countJobs(r *http.Request, lane job.Lane) (JobCountsResponse, error) {
	var resp JobCountsResponse
	for _, state := range jobStates() {
		count, err := a.eng.JobStore().CountJobs(r.Context(), job.CountOpts{State: state, Lane: lane})
		if err != nil {
			return resp, fmt.Errorf("count jobs (%s): %w", state, err)
		}
		switch state {
		case job.StateWaiting:
			resp.Waiting = count
		case job.StateDelayed:
			resp.Delayed = count
		case job.StateActive:
			resp.Active = count
		case job.StateCompleted:
			resp.Completed = count
		case job.StateFailed:
			resp.Failed = count
		}
	}
	return resp, nil
}
