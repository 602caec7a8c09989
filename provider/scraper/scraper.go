// Package scraper is the client for the document-retrieval automation
// service, which logs into consulate portals and downloads issued visas.
package scraper

import (
	"context"
	"net/http"

	"github.com/VadimVDM/VisAPI-sub006/provider"
)

// Status is the outcome reported by an automation run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusNotFound  Status = "not_found"
	StatusFailed    Status = "failed"
	StatusRetry     Status = "retry"
)

// Request identifies the application to look up.
type Request struct {
	OrderID        string `json:"order_id"`
	Country        string `json:"country"`
	ApplicationRef string `json:"application_ref"`
	PassportNumber string `json:"passport_number,omitempty"`
}

// Result is the automation's report.
type Result struct {
	Status      Status `json:"status"`
	DocumentURL string `json:"document_url,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Client drives the automation service.
type Client struct {
	c *provider.Client
}

// New creates a scraper client. Runs are long, so hc should carry a
// generous timeout; nil uses the provider default.
func New(baseURL, token string, hc *http.Client) *Client {
	return &Client{c: provider.NewClient("scraper", baseURL, provider.Bearer(token), hc)}
}

// Scrape runs one automation and waits for its result.
func (c *Client) Scrape(ctx context.Context, req Request) (Result, error) {
	var res Result
	if err := c.c.Do(ctx, http.MethodPost, "/runs", req, &res); err != nil {
		return Result{}, err
	}
	return res, nil
}
