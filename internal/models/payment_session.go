package models

import (
	"errors"
	"time"
)

type SessionStatus string

const (
	SessionStatusPending SessionStatus = "pending"
	SessionStatusPaid    SessionStatus = "paid"
	SessionStatusError   SessionStatus = "error"
)

var (
	ErrAlreadyPaid       = errors.New("session already paid")
	ErrInvalidTransition = errors.New("invalid session status transition")
)

// Customer is the optional payer contact captured at checkout.
type Customer struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Document string `json:"document,omitempty"`
}

// IsZero reports whether no contact field was supplied.
func (c *Customer) IsZero() bool {
	return c == nil || (c.Name == "" && c.Email == "" && c.Phone == "" && c.Document == "")
}

// SessionMetadata is written once at checkout and only read afterwards.
type SessionMetadata struct {
	GatewayPaymentCode string            `json:"gateway_payment_code,omitempty"`
	ExternalCode       string            `json:"external_code,omitempty"`
	EventID            string            `json:"event_id,omitempty"`
	PlanName           string            `json:"plan_name,omitempty"`
	FBC                string            `json:"fbc,omitempty"`
	FBP                string            `json:"fbp,omitempty"`
	ClientIP           string            `json:"client_ip,omitempty"`
	UserAgent          string            `json:"user_agent,omitempty"`
	Customer           *Customer         `json:"customer,omitempty"`
	UTMs               map[string]string `json:"utms,omitempty"`
}

// PaymentSession is one checkout attempt from Pix charge creation to resolution.
// Timestamps are unix milliseconds.
type PaymentSession struct {
	ID        string          `json:"id"`
	PlanID    string          `json:"planId"`
	Status    SessionStatus   `json:"status"`
	PixCode   string          `json:"pixCode"`
	QRImage   string          `json:"qrImage,omitempty"`
	Amount    int64           `json:"amount"`
	CreatedAt int64           `json:"createdAt"`
	PaidAt    *int64          `json:"paidAt"`
	Metadata  SessionMetadata `json:"metadata"`
}

// Clone returns a deep copy so callers never share maps or pointers with a store.
func (s *PaymentSession) Clone() *PaymentSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.PaidAt != nil {
		paidAt := *s.PaidAt
		c.PaidAt = &paidAt
	}
	if s.Metadata.Customer != nil {
		customer := *s.Metadata.Customer
		c.Metadata.Customer = &customer
	}
	if s.Metadata.UTMs != nil {
		c.Metadata.UTMs = make(map[string]string, len(s.Metadata.UTMs))
		for k, v := range s.Metadata.UTMs {
			c.Metadata.UTMs[k] = v
		}
	}
	return &c
}

// MatchesCode reports whether code is the gateway payment code or the external code.
func (s *PaymentSession) MatchesCode(code string) bool {
	if code == "" {
		return false
	}
	return s.Metadata.GatewayPaymentCode == code || s.Metadata.ExternalCode == code
}

// PurchaseEventID derives the purchase event id from the stored cart event id so
// replayed purchases carry the same id.
func (s *PaymentSession) PurchaseEventID() string {
	return "purchase_" + s.Metadata.EventID
}

// OrderCode is the identifier the order-tracking service knows the session by.
func (s *PaymentSession) OrderCode() string {
	if s.Metadata.GatewayPaymentCode != "" {
		return s.Metadata.GatewayPaymentCode
	}
	if s.Metadata.ExternalCode != "" {
		return s.Metadata.ExternalCode
	}
	return s.ID
}

// SessionPatch is the set of fields a store update may change.
type SessionPatch struct {
	Status SessionStatus
	PaidAt *int64
}

// MarkPaid builds the pending to paid patch.
func MarkPaid(at time.Time) SessionPatch {
	paidAt := at.UnixMilli()
	return SessionPatch{Status: SessionStatusPaid, PaidAt: &paidAt}
}

// MarkError builds the pending to error patch.
func MarkError() SessionPatch {
	return SessionPatch{Status: SessionStatusError}
}

// Apply validates the patch against s and merges it. s is left untouched on error.
func (p SessionPatch) Apply(s *PaymentSession) error {
	if p.Status == "" || p.Status == s.Status && p.Status != SessionStatusPaid {
		return nil
	}

	switch s.Status {
	case SessionStatusPaid:
		if p.Status == SessionStatusPaid {
			return ErrAlreadyPaid
		}
		return ErrInvalidTransition
	case SessionStatusError:
		return ErrInvalidTransition
	}

	switch p.Status {
	case SessionStatusPaid:
		if p.PaidAt == nil {
			return ErrInvalidTransition
		}
		paidAt := *p.PaidAt
		if paidAt < s.CreatedAt {
			paidAt = s.CreatedAt
		}
		s.Status = SessionStatusPaid
		s.PaidAt = &paidAt
	case SessionStatusError:
		s.Status = SessionStatusError
		s.PaidAt = nil
	default:
		return ErrInvalidTransition
	}
	return nil
}
