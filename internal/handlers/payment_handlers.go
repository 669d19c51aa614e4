package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"streamvault/internal/logger"
	"streamvault/internal/services"
)

const maxCallbackBody = 1 << 20

// PaymentHandler serves checkout, the payment poll and the gateway callback.
type PaymentHandler struct {
	payments *services.PaymentService
	log      *zap.Logger
}

func NewPaymentHandler(payments *services.PaymentService, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, log: log}
}

// CreatePix handles POST /api/create-pix
func (h *PaymentHandler) CreatePix(c echo.Context) error {
	var req services.CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
	}
	req.ClientIP = c.RealIP()
	req.UserAgent = c.Request().UserAgent()

	result, err := h.payments.Checkout(c.Request().Context(), req)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, result)
	case errors.Is(err, services.ErrInvalidCheckout):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Missing planId or amount"})
	default:
		h.log.Error("checkout failed", zap.String("plan_id", req.PlanID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to create payment"})
	}
}

// CheckPayment handles GET /api/check-payment?id=
func (h *PaymentHandler) CheckPayment(c echo.Context) error {
	id := c.QueryParam("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Missing session id"})
	}

	session, err := h.payments.Status(c.Request().Context(), id)
	if errors.Is(err, services.ErrSessionNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "Session not found"})
	}
	if err != nil {
		h.log.Error("status lookup failed", zap.String("session_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to check payment")
	}

	return c.JSON(http.StatusOK, PaymentStatusResponse{
		Status: string(session.Status),
		PaidAt: session.PaidAt,
	})
}

// MangofyCallback handles POST /api/mangofy-callback. Every structurally valid
// payload is acknowledged, including callbacks for unknown sessions.
func (h *PaymentHandler) MangofyCallback(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxCallbackBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid payload"})
	}
	h.log.Info("gateway callback received", zap.String("payload", logger.Truncate(string(body), 500)))

	payload, err := services.ParseCallbackPayload(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid payload"})
	}

	result, err := h.payments.HandleCallback(c.Request().Context(), payload)
	if errors.Is(err, services.ErrMissingIdentifier) {
		h.log.Warn("callback without session identifier")
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Missing session identifier"})
	}
	if err != nil {
		// non-2xx so the gateway retries
		h.log.Error("callback processing failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
	}

	return c.JSON(http.StatusOK, CallbackAck{OK: true, Result: result.Outcome})
}
