package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"streamvault/internal/logger"
)

const (
	BotCheckHeader = "x-bot-check"

	minBotTokenLen  = 20
	minUserAgentLen = 20
)

var botMarkers = []string{"bot", "crawl", "spider"}

// BotFilter refuses requests that lack the client-side bot token or carry a
// crawler user agent. It is a cheap gate, not an authentication layer.
func BotFilter(enabled bool, log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if !enabled {
			return next
		}
		return func(c echo.Context) error {
			token := c.Request().Header.Get(BotCheckHeader)
			ua := c.Request().UserAgent()

			if looksLikeBot(token, ua) {
				log.Info("blocked request",
					zap.String("user_agent", logger.Truncate(ua, 50)),
					zap.Bool("has_token", token != ""),
				)
				return c.JSON(http.StatusForbidden, map[string]string{"error": "Invalid request"})
			}
			return next(c)
		}
	}
}

func looksLikeBot(token, userAgent string) bool {
	if len(token) <= minBotTokenLen || len(userAgent) <= minUserAgentLen {
		return true
	}
	ua := strings.ToLower(userAgent)
	for _, marker := range botMarkers {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}
