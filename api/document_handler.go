package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/VadimVDM/VisAPI-sub006/engine"
	"github.com/VadimVDM/VisAPI-sub006/order"
	"github.com/VadimVDM/VisAPI-sub006/processor"
)

// ScrapeDocumentRequest asks for an issued visa document to be retrieved.
type ScrapeDocumentRequest struct {
	Country        string `json:"country" validate:"required,iso3166_1_alpha2"`
	ApplicationRef string `json:"application_ref" validate:"required,max=64"`
	PassportNumber string `json:"passport_number" validate:"omitempty,alphanum,max=20"`
}

// scrapeDocument enqueues a document-scrape job for a known order.
func (a *API) scrapeDocument(w http.ResponseWriter, r *http.Request) error {
	orderID := chi.URLParam(r, "orderId")
	var req ScrapeDocumentRequest
	if err := a.decode(r, &req); err != nil {
		return err
	}
	if orders, ok := a.eng.Dispatcher().Store().(order.Store); ok {
		if _, err := orders.GetOrder(r.Context(), orderID); err != nil {
			return err
		}
	}

	j, err := engine.Enqueue(r.Context(), a.eng, processor.DocumentScrape{
		OrderID:        orderID,
		Country:        req.Country,
		ApplicationRef: req.ApplicationRef,
		PassportNumber: req.PassportNumber,
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusAccepted, j)
	return nil
}
