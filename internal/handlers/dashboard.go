package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"streamvault/internal/services"
	"streamvault/internal/views"
)

// AnalyticsHandler handles funnel event ingestion and the admin views over it.
type AnalyticsHandler struct {
	analytics *services.Analytics
}

func NewAnalyticsHandler(analytics *services.Analytics) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics}
}

// Track handles POST /api/analytics
func (h *AnalyticsHandler) Track(c echo.Context) error {
	var req AnalyticsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
	}
	if req.Event == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Missing event"})
	}

	h.analytics.Track(req.Event, req.Data)
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// Metrics handles GET /api/analytics
func (h *AnalyticsHandler) Metrics(c echo.Context) error {
	return c.JSON(http.StatusOK, h.analytics.Metrics())
}

// Dashboard renders the analytics dashboard page
func (h *AnalyticsHandler) Dashboard(c echo.Context) error {
	props := views.DashboardProps{
		Title:     "StreamVault Analytics",
		UserEmail: getStringFromContext(c, "userEmail"),
		Metrics:   h.analytics.Metrics(),
	}

	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(http.StatusOK)
	return views.Dashboard(props).Render(c.Request().Context(), c.Response())
}
