package services

import (
	"bytes"
	"encoding/json"
	"strings"
)

// FlexString accepts a JSON string or number. Gateways are not consistent
// about how they encode codes.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		// objects, arrays and booleans carry no usable identifier
		*f = ""
		return nil
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// CallbackMetadata is the block the gateway echoes back from charge creation.
// It may arrive as an object, as a JSON-encoded string, or not at all.
type CallbackMetadata struct {
	SessionID FlexString `json:"session_id"`
	EventID   FlexString `json:"event_id"`
}

func (m *CallbackMetadata) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] == 'n' {
		return nil
	}

	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil
		}
		data = []byte(inner)
	}

	type plain CallbackMetadata
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return nil
	}
	*m = CallbackMetadata(p)
	return nil
}

// CallbackPayload is the gateway's asynchronous status notification.
type CallbackPayload struct {
	PaymentCode   FlexString       `json:"payment_code"`
	ExternalCode  FlexString       `json:"external_code"`
	PaymentStatus string           `json:"payment_status"`
	Metadata      CallbackMetadata `json:"metadata"`

	Raw json.RawMessage `json:"-"`
}

// ParseCallbackPayload decodes a raw callback body and keeps the body for auditing.
func ParseCallbackPayload(body []byte) (CallbackPayload, error) {
	var p CallbackPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return CallbackPayload{}, err
	}
	p.Raw = append(json.RawMessage(nil), body...)
	return p, nil
}

// Identifiers lists the distinct ids to try as a primary session id, most
// specific first.
func (p CallbackPayload) Identifiers() []string {
	var out []string
	seen := make(map[string]bool, 3)
	for _, v := range []FlexString{p.Metadata.SessionID, p.ExternalCode, p.PaymentCode} {
		id := v.String()
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Approved reports whether the status means the payment settled.
func (p CallbackPayload) Approved() bool {
	switch strings.ToLower(strings.TrimSpace(p.PaymentStatus)) {
	case "approved", "paid":
		return true
	}
	return false
}
