package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/VadimVDM/VisAPI-sub006/dlq"
	"github.com/VadimVDM/VisAPI-sub006/id"
)

// defaultPurgeAge is how old an entry must be before a purge drops it.
const defaultPurgeAge = 30 * 24 * time.Hour

// PurgeDLQResponse reports how many entries were removed.
type PurgeDLQResponse struct {
	Purged int64 `json:"purged"`
}

// DLQCountResponse holds the number of dead-lettered entries.
type DLQCountResponse struct {
	Count int64 `json:"count"`
}

func (a *API) listDLQ(w http.ResponseWriter, r *http.Request) error {
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

	entries, err := a.eng.DLQService().DLQStore().ListDLQ(r.Context(), dlq.ListOpts{
		Limit:  defaultLimit(limit),
		Offset: offset,
		Lane:   lane,
	})
	if err != nil {
		return fmt.Errorf("list dlq: %w", err)
	}
	if entries == nil {
		entries = []*dlq.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
	return nil
}

func (a *API) getDLQ(w http.ResponseWriter, r *http.Request) error {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "entryId"))
	if err != nil {
		return badRequest("invalid DLQ entry ID: %v", err)
	}
	entry, err := a.eng.DLQService().DLQStore().GetDLQ(r.Context(), entryID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, entry)
	return nil
}

func (a *API) replayDLQ(w http.ResponseWriter, r *http.Request) error {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "entryId"))
	if err != nil {
		return badRequest("invalid DLQ entry ID: %v", err)
	}
	j, err := a.eng.DLQService().Replay(r.Context(), entryID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, j)
	return nil
}

// purgeDLQ drops entries older than the older_than query duration,
// thirty days by default.
func (a *API) purgeDLQ(w http.ResponseWriter, r *http.Request) error {
	age := defaultPurgeAge
	if raw := r.URL.Query().Get("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return badRequest("invalid older_than: %q", raw)
		}
		age = d
	}

	count, err := a.eng.DLQService().Purge(r.Context(), time.Now().UTC().Add(-age))
	if err != nil {
		return fmt.Errorf("purge dlq: %w", err)
	}
	writeJSON(w, http.StatusOK, PurgeDLQResponse{Purged: count})
	return nil
}

func (a *API) dlqCount(w http.ResponseWriter, r *http.Request) error {
	count, err := a.eng.DLQService().DLQStore().CountDLQ(r.Context())
	if err != nil {
		return fmt.Errorf("count dlq: %w", err)
	}
	writeJSON(w, http.StatusOK, DLQCountResponse{Count: count})
	return nil
}
