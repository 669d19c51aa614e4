package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"streamvault/internal/services"
)

// TrackEventHandler relays browser conversion events to the ad platform.
type TrackEventHandler struct {
	capi *services.CAPIService
	log  *zap.Logger
}

func NewTrackEventHandler(capi *services.CAPIService, log *zap.Logger) *TrackEventHandler {
	return &TrackEventHandler{capi: capi, log: log}
}

// TrackEvent handles POST /api/track-event
func (h *TrackEventHandler) TrackEvent(c echo.Context) error {
	var req TrackEventRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
	}

	if !h.capi.Enabled() {
		disabled := false
		return c.JSON(http.StatusOK, TrackEventResponse{OK: true, CAPI: &disabled})
	}
	if req.EventName == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Missing eventName"})
	}

	req.UserData.ClientIP = c.RealIP()
	req.UserData.UserAgent = c.Request().UserAgent()

	result, err := h.capi.SendEvents(c.Request().Context(), services.CAPIEvent{
		EventName:      req.EventName,
		EventID:        req.EventID,
		EventSourceURL: req.EventSourceURL,
		UserData:       services.NewCAPIUserData(req.UserData),
		CustomData:     req.CustomData,
	})
	if err != nil {
		h.log.Warn("track-event relay failed", zap.String("event_name", req.EventName), zap.Error(err))
		return c.JSON(http.StatusOK, TrackEventResponse{OK: false})
	}

	return c.JSON(http.StatusOK, TrackEventResponse{OK: true, Result: result})
}
