package api

import (
	"net/http"

	"github.com/VadimVDM/VisAPI-sub006/job"
)

// LaneStats is the load of one lane.
type LaneStats struct {
	InFlight int               `json:"in_flight"`
	Jobs     JobCountsResponse `json:"jobs"`
}

// StatsResponse aggregates queue statistics.
type StatsResponse struct {
	Jobs  JobCountsResponse      `json:"jobs"`
	Lanes map[job.Lane]LaneStats `json:"lanes"`
	DLQ   int64                  `json:"dlq"`
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) error {
	total, err := a.countJobs(r, "")
	if err != nil {
		return err
	}

	lanes := make(map[job.Lane]LaneStats, len(job.Lanes()))
	for _, lane := range job.Lanes() {
		counts, err := a.countJobs(r, lane)
		if err != nil {
			return err
		}
		lanes[lane] = LaneStats{
			InFlight: a.eng.QueueManager().ActiveCount(lane),
			Jobs:     counts,
		}
	}

	dlqCount, err := a.eng.DLQService().DLQStore().CountDLQ(r.Context())
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, StatsResponse{Jobs: total, Lanes: lanes, DLQ: dlqCount})
	return nil
}
