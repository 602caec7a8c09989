// Package crm is the client for the external contact-management platform.
package crm

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/VadimVDM/VisAPI-sub006/provider"
	"github.com/VadimVDM/VisAPI-sub006/retry"
)

// Contact is the contact record pushed to the platform.
type Contact struct {
	ID     string            `json:"id,omitempty"`
	Phone  string            `json:"phone"`
	Name   string            `json:"name,omitempty"`
	Email  string            `json:"email,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

type contactResponse struct {
	ID string `json:"id"`
}

// Client talks to the contact platform's REST API.
type Client struct {
	c *provider.Client
}

// New creates a client. hc may be nil.
func New(baseURL, token string, hc *http.Client) *Client {
	return &Client{c: provider.NewClient("crm", baseURL, provider.Bearer(token), hc)}
}

// FindContact looks a contact up by phone.
func (c *Client) FindContact(ctx context.Context, phone string) (string, bool, error) {
	var resp contactResponse
	err := c.c.Do(ctx, http.MethodGet, "/contacts?phone="+url.QueryEscape(phone), nil, &resp)
	if provider.NotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return resp.ID, resp.ID != "", nil
}

// UpsertContact creates the contact, or updates it when ID is set, and
// returns the platform's contact id.
func (c *Client) UpsertContact(ctx context.Context, contact Contact) (string, error) {
	var resp contactResponse
	var err error
	if contact.ID != "" {
		err = c.c.Do(ctx, http.MethodPut, "/contacts/"+url.PathEscape(contact.ID), contact, &resp)
		if resp.ID == "" && err == nil {
			resp.ID = contact.ID
		}
	} else {
		err = c.c.Do(ctx, http.MethodPost, "/contacts", contact, &resp)
	}
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", retry.Permanent(errors.New("crm: response without contact id"))
	}
	return resp.ID, nil
}
