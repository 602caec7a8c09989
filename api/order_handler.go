package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/VadimVDM/VisAPI-sub006/message"
	"github.com/VadimVDM/VisAPI-sub006/order"
	"github.com/VadimVDM/VisAPI-sub006/saga"
)

// CreateOrderRequest is the intake payload of a paid order.
type CreateOrderRequest struct {
	OrderID       string `json:"order_id" validate:"required,max=64"`
	BranchCode    string `json:"branch_code" validate:"required,max=8"`
	CustomerName  string `json:"customer_name" validate:"required,max=200"`
	CustomerPhone string `json:"customer_phone" validate:"required,numeric,min=8,max=15"`
	CustomerEmail string `json:"customer_email" validate:"omitempty,email"`
}

// ResyncOrdersRequest names the orders of a bulk re-drive.
type ResyncOrdersRequest struct {
	OrderIDs []string `json:"order_ids" validate:"required,min=1,max=500,dive,required"`
}

// ResyncResponse reports how many orders were re-driven.
type ResyncResponse struct {
	Resynced int `json:"resynced"`
}

var errSagaDisabled = &Error{Status: http.StatusServiceUnavailable, Message: "order records are not configured"}

func (a *API) saga() (*saga.Orchestrator, error) {
	s := a.eng.Saga()
	if s == nil {
		return nil, errSagaDisabled
	}
	return s, nil
}

func (a *API) createOrder(w http.ResponseWriter, r *http.Request) error {
	s, err := a.saga()
	if err != nil {
		return err
	}
	var req CreateOrderRequest
	if err := a.decode(r, &req); err != nil {
		return err
	}

	o, err := s.Ingest(r.Context(),
		order.New(req.OrderID, req.BranchCode, req.CustomerName, req.CustomerPhone, req.CustomerEmail))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusAccepted, o)
	return nil
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) error {
	orders, ok := a.eng.Dispatcher().Store().(order.Store)
	if !ok {
		return errSagaDisabled
	}
	o, err := orders.GetOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, o)
	return nil
}

func (a *API) listOrderMessages(w http.ResponseWriter, r *http.Request) error {
	ms, ok := a.eng.Dispatcher().Store().(message.Store)
	if !ok {
		return errSagaDisabled
	}
	recs, err := ms.ListMessagesByOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []*message.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
	return nil
}

func (a *API) resyncOrder(w http.ResponseWriter, r *http.Request) error {
	s, err := a.saga()
	if err != nil {
		return err
	}
	orderID := chi.URLParam(r, "orderId")
	ok, err := s.Resync(r.Context(), orderID)
	if err != nil {
		return err
	}
	if !ok {
		return &Error{Status: http.StatusConflict, Message: "order " + orderID + " cannot be re-driven from its current stage"}
	}
	writeJSON(w, http.StatusAccepted, ResyncResponse{Resynced: 1})
	return nil
}

func (a *API) resyncOrders(w http.ResponseWriter, r *http.Request) error {
	s, err := a.saga()
	if err != nil {
		return err
	}
	var req ResyncOrdersRequest
	if err := a.decode(r, &req); err != nil {
		return err
	}

	n, err := s.ResyncMany(r.Context(), req.OrderIDs, a.resyncInterval)
	if err != nil {
		if n == 0 {
			return err
		}
		a.logger.Warn("bulk resync partially failed",
			slog.Int("resynced", n),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, http.StatusAccepted, ResyncResponse{Resynced: n})
	return nil
}
