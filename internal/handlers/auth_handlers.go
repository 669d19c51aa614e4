package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"streamvault/internal/middleware"
)

const sessionCookieTTL = 5 * 24 * time.Hour

// TokenExchanger is the part of the Firebase auth client used to mint admin sessions.
type TokenExchanger interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
	SessionCookie(ctx context.Context, idToken string, expiresIn time.Duration) (string, error)
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authClient   TokenExchanger
	secureCookie bool
	log          *zap.Logger
}

// NewAuthHandler creates a new AuthHandler. A nil client disables admin login.
func NewAuthHandler(authClient TokenExchanger, secureCookie bool, log *zap.Logger) *AuthHandler {
	return &AuthHandler{authClient: authClient, secureCookie: secureCookie, log: log}
}

// HandleLogin verifies the Firebase ID token and creates a session cookie
func (h *AuthHandler) HandleLogin(c echo.Context) error {
	if h.authClient == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Admin auth not configured"})
	}

	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Missing authorization header"})
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid authorization format"})
	}

	token, err := h.authClient.VerifyIDToken(c.Request().Context(), tokenString)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid token"})
	}

	cookieValue, err := h.authClient.SessionCookie(c.Request().Context(), tokenString, sessionCookieTTL)
	if err != nil {
		h.log.Error("failed to create admin session", zap.String("uid", token.UID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to create session"})
	}

	c.SetCookie(&http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    cookieValue,
		MaxAge:   int(sessionCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})
	h.log.Info("admin signed in", zap.String("uid", token.UID))

	return c.JSON(http.StatusOK, map[string]string{"status": "success"})
}

// HandleLogout clears the session cookie
func (h *AuthHandler) HandleLogout(c echo.Context) error {
	c.SetCookie(middleware.ExpiredSessionCookie())
	return c.JSON(http.StatusOK, map[string]string{"status": "logged out"})
}
