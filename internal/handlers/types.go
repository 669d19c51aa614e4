package handlers

import (
	"encoding/json"

	"github.com/labstack/echo/v4"

	"streamvault/internal/services"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// PaymentStatusResponse is the browser poll answer; paidAt is null until paid.
type PaymentStatusResponse struct {
	Status string `json:"status"`
	PaidAt *int64 `json:"paidAt"`
}

type CallbackAck struct {
	OK     bool                     `json:"ok"`
	Result services.CallbackOutcome `json:"result,omitempty"`
}

// TrackEventRequest is a browser-originated conversion event to relay.
type TrackEventRequest struct {
	EventName      string                 `json:"eventName"`
	EventID        string                 `json:"eventId"`
	EventSourceURL string                 `json:"eventSourceUrl"`
	UserData       services.UserInput     `json:"userData"`
	CustomData     map[string]interface{} `json:"customData"`
}

type TrackEventResponse struct {
	OK     bool            `json:"ok"`
	CAPI   *bool           `json:"capi,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

type AnalyticsRequest struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

// Helper to safely get string from context
func getStringFromContext(c echo.Context, key string) string {
	val := c.Get(key)
	if val == nil {
		return ""
	}
	strVal, ok := val.(string)
	if !ok {
		return ""
	}
	return strVal
}
