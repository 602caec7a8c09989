// Package mailer is the client for the transactional email API.
package mailer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/VadimVDM/VisAPI-sub006/provider"
	"github.com/VadimVDM/VisAPI-sub006/retry"
)

var _ provider.Sender = (*Client)(nil)

type sendRequest struct {
	From     string            `json:"from"`
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

// Client sends templated email from a fixed sender address.
type Client struct {
	c    *provider.Client
	from string
}

// New creates a mailer client. hc may be nil.
func New(baseURL, from, token string, hc *http.Client) *Client {
	return &Client{c: provider.NewClient("mailer", baseURL, provider.Bearer(token), hc), from: from}
}

// Send delivers msg and returns the provider's email id. The correlation
// token is attached as a tag so status webhooks carry it back.
func (c *Client) Send(ctx context.Context, msg provider.Outbound) (string, error) {
	req := sendRequest{
		From:     c.from,
		To:       msg.Recipient,
		Subject:  msg.Subject,
		Template: msg.Template,
		Data:     msg.Params,
	}
	if msg.Correlation != "" {
		req.Tags = map[string]string{"correlation": msg.Correlation}
	}

	var resp sendResponse
	if err := c.c.Do(ctx, http.MethodPost, "/emails", req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", retry.Permanent(fmt.Errorf("mailer: %w: no email id", provider.ErrUnconfirmed))
	}
	return resp.ID, nil
}
