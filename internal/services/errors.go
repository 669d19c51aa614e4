package services

import (
	"errors"

	"streamvault/internal/models"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrAlreadyPaid       = models.ErrAlreadyPaid
	ErrInvalidTransition = models.ErrInvalidTransition

	// ErrInvalidCheckout is a client error: the request is missing a plan or amount.
	ErrInvalidCheckout = errors.New("invalid checkout request")
	// ErrGatewayNotConfigured means the deployment lacks gateway credentials.
	ErrGatewayNotConfigured = errors.New("payment gateway not configured")
	// ErrGatewayUnavailable wraps every gateway rejection, timeout or unusable response.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	ErrMissingIdentifier = errors.New("callback carries no session identifier")
)
