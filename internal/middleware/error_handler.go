package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// CustomErrorHandler renders every error as {"error": message} and logs
// server-side failures.
func CustomErrorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		message := http.StatusText(code)

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			switch msg := he.Message.(type) {
			case string:
				message = msg
			case nil:
				message = http.StatusText(code)
			default:
				message = fmt.Sprint(msg)
			}
		}

		if code >= http.StatusInternalServerError {
			log.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.Int("status", code),
				zap.Error(err),
			)
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(code)
		} else {
			writeErr = c.JSON(code, map[string]string{"error": message})
		}
		if writeErr != nil {
			log.Warn("failed to write error response", zap.Error(writeErr))
		}
	}
}
