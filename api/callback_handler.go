package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/VadimVDM/VisAPI-sub006/callback"
	"github.com/VadimVDM/VisAPI-sub006/order"
)

// CallbackResponse lists the events that were applied.
type CallbackResponse struct {
	Received int               `json:"received"`
	Applied  []callback.Result `json:"applied"`
}

func (a *API) whatsAppCallback(w http.ResponseWriter, r *http.Request) error {
	return a.deliveryCallback(w, r, order.ChannelWhatsApp, HeaderWhatsAppSignature, callback.ParseWhatsApp)
}

func (a *API) mailerCallback(w http.ResponseWriter, r *http.Request) error {
	return a.deliveryCallback(w, r, order.ChannelEmail, HeaderMailerSignature, callback.ParseMailer)
}

// deliveryCallback verifies the body signature, parses the provider's
// events and applies them. Events that cannot be resolved are dropped
// so the provider does not redeliver them forever; store failures answer
// 5xx so it does.
func (a *API) deliveryCallback(
	w http.ResponseWriter,
	r *http.Request,
	ch order.Channel,
	header string,
	parse func([]byte) ([]callback.Event, error),
) error {
	if a.callbacks == nil {
		return &Error{Status: http.StatusNotFound, Message: "callbacks are not enabled"}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		return badRequest("read body: %v", err)
	}
	if v := a.verifiers[ch]; v != nil {
		if err := v.Verify(body, r.Header.Get(header)); err != nil {
			if errors.Is(err, callback.ErrBadSignature) {
				return &Error{Status: http.StatusUnauthorized, Message: err.Error()}
			}
			return err
		}
	}

	events, err := parse(body)
	if err != nil {
		return badRequest("parse %s callback: %v", ch, err)
	}

	results, err := a.callbacks.ApplyAll(r.Context(), events)
	if err != nil {
		return fmt.Errorf("apply %s callback: %w", ch, err)
	}
	writeJSON(w, http.StatusOK, CallbackResponse{Received: len(events), Applied: results})
	return nil
}
