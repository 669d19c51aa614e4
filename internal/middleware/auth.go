package middleware

import (
	"context"
	"net/http"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
)

const SessionCookieName = "session"

// SessionVerifier is the part of the Firebase auth client the guard needs.
type SessionVerifier interface {
	VerifySessionCookie(ctx context.Context, sessionCookie string) (*auth.Token, error)
}

// RequireAuth returns a middleware that verifies Firebase session cookies.
// A nil verifier means admin auth is not configured and every request is refused.
func RequireAuth(verifier SessionVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if verifier == nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "Admin auth not configured")
			}

			cookie, err := c.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
			}

			decodedToken, err := verifier.VerifySessionCookie(c.Request().Context(), cookie.Value)
			if err != nil {
				c.SetCookie(ExpiredSessionCookie())
				return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
			}

			c.Set("userUID", decodedToken.UID)
			if email, ok := decodedToken.Claims["email"].(string); ok {
				c.Set("userEmail", email)
			}

			return next(c)
		}
	}
}

// ExpiredSessionCookie clears the admin session cookie.
func ExpiredSessionCookie() *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		MaxAge:   -1,
		HttpOnly: true,
		Path:     "/",
	}
}
