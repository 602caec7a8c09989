// Package correlation encodes and decodes the tokens that travel inside
// outbound messages and come back in delivery-status callbacks.
//
// Two wire forms exist:
//
//	IL250824IN15:972535777550:order_confirmation:3f0c…   delimited, all fields
//	{"c":"972535777550"}                                 provider echo, contact only
//
// Decode is total: it returns nil for anything it cannot interpret and
// never panics, since its input comes from third-party callbacks.
package correlation

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Delimiter separates fields in the delimited form.
const Delimiter = ":"

const fieldCount = 4

// ContactID is an external contact identifier as it appeared on the wire.
// Numeric is set when the provider echoed it as a JSON number.
type ContactID struct {
	Value   string
	Numeric bool
}

// String returns the identifier text.
func (c ContactID) String() string { return c.Value }

// Record is a decoded correlation token. A record decoded from the
// provider echo form carries only Contact; Partial is set in that case.
type Record struct {
	OrderID     string
	Contact     ContactID
	MessageType string
	TempID      string
	Partial     bool
}

// Encode joins the four fields in fixed order. No escaping is applied; a
// delimiter inside tempID survives decoding, one inside the other fields
// does not.
func Encode(orderID, contactID, messageType, tempID string) string {
	return strings.Join([]string{orderID, contactID, messageType, tempID}, Delimiter)
}

// Decode interprets raw as a correlation token. raw may be a string,
// []byte, json.RawMessage, *string, or a map already decoded from JSON.
// It returns nil when raw is empty, malformed, or lacks a contact.
func Decode(raw any) *Record {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		return decodeString(v)
	case *string:
		if v == nil {
			return nil
		}
		return decodeString(*v)
	case []byte:
		return decodeString(string(v))
	case json.RawMessage:
		return decodeString(string(v))
	case map[string]any:
		return fromEcho(v)
	default:
		return nil
	}
}

func decodeString(s string) *Record {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return decodeJSON(s)
	}
	// Looks like JSON but does not parse: never reinterpret it as a
	// delimited token.
	if s[0] == '{' || s[0] == '[' {
		return nil
	}
	return decodeDelimited(s)
}

func decodeJSON(s string) *Record {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil
	}
	return fromEcho(obj)
}

func fromEcho(obj map[string]any) *Record {
	if obj == nil {
		return nil
	}
	var c ContactID
	switch v := obj["c"].(type) {
	case string:
		c = ContactID{Value: v}
	case json.Number:
		c = ContactID{Value: v.String(), Numeric: true}
	case float64:
		c = ContactID{Value: strconv.FormatFloat(v, 'f', -1, 64), Numeric: true}
	default:
		return nil
	}
	if c.Value == "" {
		return nil
	}
	return &Record{Contact: c, Partial: true}
}

func decodeDelimited(s string) *Record {
	parts := strings.SplitN(s, Delimiter, fieldCount)
	if len(parts) != fieldCount {
		return nil
	}
	for _, p := range parts {
		if p == "" {
			return nil
		}
	}
	return &Record{
		OrderID:     parts[0],
		Contact:     ContactID{Value: parts[1]},
		MessageType: parts[2],
		TempID:      parts[3],
	}
}
