// Package whatsapp is the client for the WhatsApp Business messaging API.
// The correlation token travels as biz_opaque_callback_data and is echoed
// back in delivery status webhooks.
package whatsapp

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/VadimVDM/VisAPI-sub006/provider"
	"github.com/VadimVDM/VisAPI-sub006/retry"
)

var _ provider.Sender = (*Client)(nil)

type templateParam struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type templateComponent struct {
	Type       string          `json:"type"`
	Parameters []templateParam `json:"parameters"`
}

type template struct {
	Name       string              `json:"name"`
	Language   map[string]string   `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type sendRequest struct {
	Product  string   `json:"messaging_product"`
	To       string   `json:"to"`
	Type     string   `json:"type"`
	Template template `json:"template"`
	Callback string   `json:"biz_opaque_callback_data,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Client sends template messages from one phone number.
type Client struct {
	c       *provider.Client
	phoneID string
}

// New creates a client for the given sender phone number id. hc may be nil.
func New(baseURL, phoneNumberID, token string, hc *http.Client) *Client {
	return &Client{
		c:       provider.NewClient("whatsapp", baseURL, provider.Bearer(token), hc),
		phoneID: phoneNumberID,
	}
}

// Send delivers a template message and returns the provider message id.
func (c *Client) Send(ctx context.Context, msg provider.Outbound) (string, error) {
	lang := msg.Language
	if lang == "" {
		lang = "he"
	}
	req := sendRequest{
		Product: "whatsapp",
		To:      msg.Recipient,
		Type:    "template",
		Template: template{
			Name:     msg.Template,
			Language: map[string]string{"code": lang},
		},
		Callback: msg.Correlation,
	}
	if len(msg.Params) > 0 {
		keys := make([]string, 0, len(msg.Params))
		for k := range msg.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		body := templateComponent{Type: "body"}
		for _, k := range keys {
			body.Parameters = append(body.Parameters, templateParam{Type: "text", Text: msg.Params[k]})
		}
		req.Template.Components = []templateComponent{body}
	}

	var resp sendResponse
	if err := c.c.Do(ctx, http.MethodPost, "/"+c.phoneID+"/messages", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Messages) == 0 || resp.Messages[0].ID == "" {
		return "", retry.Permanent(fmt.Errorf("whatsapp: %w: no message id", provider.ErrUnconfirmed))
	}
	return resp.Messages[0].ID, nil
}
