package callback

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/VadimVDM/VisAPI-sub006/order"
)

// Event is one delivery-status report, independent of the provider.
type Event struct {
	Channel           order.Channel
	ProviderMessageID string
	// Status is the provider's raw status word.
	Status string
	// Correlation is the echoed token as it appeared on the wire: a
	// string, a JSON object, or nil.
	Correlation any
	Reason      string
	At          time.Time
}

type whatsAppBody struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Statuses []struct {
					ID          string          `json:"id"`
					Status      string          `json:"status"`
					Timestamp   string          `json:"timestamp"`
					Correlation json.RawMessage `json:"biz_opaque_callback_data"`
					Errors      []struct {
						Code  int    `json:"code"`
						Title string `json:"title"`
					} `json:"errors"`
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParseWhatsApp extracts status events from a WhatsApp webhook body.
// Message notifications in the same body are ignored.
func ParseWhatsApp(body []byte) ([]Event, error) {
	var b whatsAppBody
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("callback: decode whatsapp body: %w", err)
	}
	var events []Event
	for _, e := range b.Entry {
		for _, c := range e.Changes {
			for _, st := range c.Value.Statuses {
				ev := Event{
					Channel:           order.ChannelWhatsApp,
					ProviderMessageID: st.ID,
					Status:            st.Status,
					At:                unixOrNow(st.Timestamp),
				}
				if len(st.Correlation) > 0 {
					ev.Correlation = correlationValue(st.Correlation)
				}
				if len(st.Errors) > 0 {
					ev.Reason = fmt.Sprintf("%d: %s", st.Errors[0].Code, st.Errors[0].Title)
				}
				events = append(events, ev)
			}
		}
	}
	return events, nil
}

type mailerBody struct {
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Data      struct {
		EmailID string            `json:"email_id"`
		Tags    map[string]string `json:"tags"`
		Bounce  struct {
			Message string `json:"message"`
		} `json:"bounce"`
	} `json:"data"`
}

// ParseMailer extracts the status event from an email provider webhook.
// Event types are "email.<status>"; bounced and complained map to failed,
// opened to read.
func ParseMailer(body []byte) ([]Event, error) {
	var b mailerBody
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("callback: decode mailer body: %w", err)
	}
	status := strings.TrimPrefix(b.Type, "email.")
	switch status {
	case "bounced", "complained":
		status = "failed"
	case "opened":
		status = "read"
	case "delivery_delayed":
		return nil, nil
	}
	ev := Event{
		Channel:           order.ChannelEmail,
		ProviderMessageID: b.Data.EmailID,
		Status:            status,
		Reason:            b.Data.Bounce.Message,
		At:                b.CreatedAt,
	}
	if tok, ok := b.Data.Tags["correlation"]; ok {
		ev.Correlation = tok
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	return []Event{ev}, nil
}

// correlationValue keeps strings as strings and everything else as raw
// JSON for the codec to interpret.
func correlationValue(raw json.RawMessage) any {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return raw
}

func unixOrNow(ts string) time.Time {
	if sec, err := strconv.ParseInt(ts, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC()
	}
	return time.Now().UTC()
}
