package crm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/VadimVDM/VisAPI-sub006/provider/crm"
	"github.com/VadimVDM/VisAPI-sub006/retry"
)

func TestFindContact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("phone") == "972535777550" {
			_, _ = w.Write([]byte(`{"id":"c-42"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := crm.New(srv.URL, "tok", srv.Client())

	id, found, err := c.FindContact(context.Background(), "972535777550")
	if err != nil || !found || id != "c-42" {
		t.Fatalf("FindContact = %q, %v, %v", id, found, err)
	}
	_, found, err = c.FindContact(context.Background(), "9720535777550")
	if err != nil || found {
		t.Fatalf("expected not found without error, got %v, %v", found, err)
	}
}

func TestUpsertContact(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		var c crm.Contact
		_ = json.NewDecoder(r.Body).Decode(&c)
		if c.Phone == "" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		_, _ = w.Write([]byte(`{"id":"c-7"}`))
	}))
	defer srv.Close()

	c := crm.New(srv.URL, "tok", srv.Client())

	id, err := c.UpsertContact(context.Background(), crm.Contact{Phone: "972535777550"})
	if err != nil || id != "c-7" || method != http.MethodPost {
		t.Fatalf("create: %q %v via %s", id, err, method)
	}
	if _, err := c.UpsertContact(context.Background(), crm.Contact{ID: "c-7", Phone: "972535777550"}); err != nil || method != http.MethodPut {
		t.Fatalf("update: %v via %s", err, method)
	}

	_, err = c.UpsertContact(context.Background(), crm.Contact{})
	if !retry.IsPermanent(err) {
		t.Fatalf("expected permanent validation error, got %v", err)
	}
}
