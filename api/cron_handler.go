package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/VadimVDM/VisAPI-sub006/cron"
	"github.com/VadimVDM/VisAPI-sub006/id"
)

func (a *API) listCrons(w http.ResponseWriter, r *http.Request) error {
	entries, err := a.eng.CronStore().ListCrons(r.Context())
	if err != nil {
		return fmt.Errorf("list crons: %w", err)
	}
	if entries == nil {
		entries = []*cron.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
	return nil
}

func (a *API) cronEntry(r *http.Request) (*cron.Entry, error) {
	cronID, err := id.ParseCronID(chi.URLParam(r, "cronId"))
	if err != nil {
		return nil, badRequest("invalid cron ID: %v", err)
	}
	return a.eng.CronStore().GetCron(r.Context(), cronID)
}

func (a *API) getCron(w http.ResponseWriter, r *http.Request) error {
	entry, err := a.cronEntry(r)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, entry)
	return nil
}

func (a *API) enableCron(w http.ResponseWriter, r *http.Request) error {
	return a.setCronEnabled(w, r, true)
}

func (a *API) disableCron(w http.ResponseWriter, r *http.Request) error {
	return a.setCronEnabled(w, r, false)
}

func (a *API) setCronEnabled(w http.ResponseWriter, r *http.Request, enabled bool) error {
	entry, err := a.cronEntry(r)
	if err != nil {
		return err
	}
	entry.Enabled = enabled
	entry.UpdatedAt = time.Now().UTC()
	if err := a.eng.CronStore().UpdateCronEntry(r.Context(), entry); err != nil {
		return fmt.Errorf("update cron %s: %w", entry.Name, err)
	}
	writeJSON(w, http.StatusOK, entry)
	return nil
}

func (a *API) deleteCron(w http.ResponseWriter, r *http.Request) error {
	cronID, err := id.ParseCronID(chi.URLParam(r, "cronId"))
	if err != nil {
		return badRequest("invalid cron ID: %v", err)
	}
	if err := a.eng.CronStore().DeleteCron(r.Context(), cronID); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
