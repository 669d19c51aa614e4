package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"streamvault/internal/models"
)

// CheckoutRequest is the browser's purchase request.
type CheckoutRequest struct {
	PlanID    string            `json:"planId"`
	PlanName  string            `json:"planName"`
	Amount    int64             `json:"amount"`
	Customer  *models.Customer  `json:"customer,omitempty"`
	UTMs      map[string]string `json:"utms,omitempty"`
	FBC       string            `json:"fbc,omitempty"`
	FBP       string            `json:"fbp,omitempty"`
	ClientIP  string            `json:"-"`
	UserAgent string            `json:"-"`
}

func (r CheckoutRequest) Validate() error {
	if strings.TrimSpace(r.PlanID) == "" {
		return fmt.Errorf("%w: missing planId", ErrInvalidCheckout)
	}
	if r.Amount <= 0 {
		return fmt.Errorf("%w: missing amount", ErrInvalidCheckout)
	}
	return nil
}

type CheckoutResult struct {
	SessionID string               `json:"sessionId"`
	PixCode   string               `json:"pixCode"`
	QRImage   string               `json:"qrImage"`
	EventID   string               `json:"eventId"`
	Status    models.SessionStatus `json:"status"`
}

// CallbackOutcome is how a gateway callback was resolved.
type CallbackOutcome string

const (
	OutcomePaid              CallbackOutcome = "paid"
	OutcomeAlreadyPaid       CallbackOutcome = "already_paid"
	OutcomeIgnoredStatus     CallbackOutcome = "ignored_status"
	OutcomeInvalidTransition CallbackOutcome = "invalid_transition"
	OutcomeSessionNotFound   CallbackOutcome = "session_not_found"
)

type CallbackResult struct {
	Outcome   CallbackOutcome `json:"result"`
	SessionID string          `json:"sessionId,omitempty"`
}

// PaymentService owns the session lifecycle: checkout creates a pending
// session, the gateway callback moves it to paid, the worker expires it.
type PaymentService struct {
	store      SessionStore
	gateway    PixGateway
	dispatcher Dispatcher
	ids        IDGenerator
	tracker    EventTracker
	recorder   CallbackRecorder
	metrics    *Metrics
	log        *zap.Logger
	now        func() time.Time

	pixExpiry   time.Duration
	expiryGrace time.Duration
}

// Defaults for the Pix validity window requested from the gateway and the
// extra time a pending session is kept open after it.
const (
	DefaultPixExpiry   = 30 * time.Minute
	DefaultExpiryGrace = 5 * time.Minute
)

type PaymentOption func(*PaymentService)

func WithTracker(t EventTracker) PaymentOption { return func(s *PaymentService) { s.tracker = t } }
func WithCallbackRecorder(r CallbackRecorder) PaymentOption {
	return func(s *PaymentService) { s.recorder = r }
}
func WithMetrics(m *Metrics) PaymentOption         { return func(s *PaymentService) { s.metrics = m } }
func WithClock(now func() time.Time) PaymentOption { return func(s *PaymentService) { s.now = now } }

// WithPixExpiry sets how long a Pix code stays payable at the gateway and the
// grace period local expiry waits on top of it. Non-positive values keep the defaults.
func WithPixExpiry(expiry, grace time.Duration) PaymentOption {
	return func(s *PaymentService) {
		if expiry > 0 {
			s.pixExpiry = expiry
		}
		if grace > 0 {
			s.expiryGrace = grace
		}
	}
}

func NewPaymentService(store SessionStore, gateway PixGateway, dispatcher Dispatcher, ids IDGenerator, log *zap.Logger, opts ...PaymentOption) *PaymentService {
	s := &PaymentService{
		store:      store,
		gateway:    gateway,
		dispatcher: dispatcher,
		ids:        ids,
		log:        log,
		now:        time.Now,

		pixExpiry:   DefaultPixExpiry,
		expiryGrace: DefaultExpiryGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Checkout mints a Pix charge and persists a pending session. It fails closed:
// without a real charge no session is created.
func (s *PaymentService) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if err := req.Validate(); err != nil {
		s.countCheckout("invalid")
		return nil, err
	}

	if !s.gateway.Configured() {
		s.log.Error("checkout rejected: payment gateway not configured", zap.String("plan_id", req.PlanID))
		s.countCheckout("not_configured")
		return nil, ErrGatewayNotConfigured
	}

	sessionID := s.ids.SessionID()
	eventID := s.ids.EventID()
	externalCode := s.ids.ExternalCode()

	var customer *models.Customer
	if !req.Customer.IsZero() {
		c := *req.Customer
		customer = &c
	}

	charge, err := s.gateway.CreateCharge(ctx, ChargeRequest{
		SessionID:    sessionID,
		EventID:      eventID,
		ExternalCode: externalCode,
		PlanID:       req.PlanID,
		PlanName:     req.PlanName,
		Amount:       req.Amount,
		Customer:     customer,
		UTMs:         req.UTMs,
		ClientIP:     req.ClientIP,
		ExpiresIn:    s.pixExpiry,
	})
	if err != nil {
		if !errors.Is(err, ErrGatewayNotConfigured) && !errors.Is(err, ErrGatewayUnavailable) {
			err = fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		s.log.Error("pix charge creation failed",
			zap.String("session_id", sessionID),
			zap.String("plan_id", req.PlanID),
			zap.Error(err))
		s.countCheckout("gateway_error")
		return nil, err
	}
	if charge == nil || charge.PixCode == "" {
		s.countCheckout("gateway_error")
		return nil, fmt.Errorf("%w: empty pix code", ErrGatewayUnavailable)
	}

	planName := req.PlanName
	if planName == "" {
		planName = req.PlanID
	}

	session := &models.PaymentSession{
		ID:        sessionID,
		PlanID:    req.PlanID,
		Status:    models.SessionStatusPending,
		PixCode:   charge.PixCode,
		QRImage:   charge.QRImage,
		Amount:    req.Amount,
		CreatedAt: s.now().UnixMilli(),
		Metadata: models.SessionMetadata{
			GatewayPaymentCode: charge.PaymentCode,
			ExternalCode:       externalCode,
			EventID:            eventID,
			PlanName:           planName,
			FBC:                req.FBC,
			FBP:                req.FBP,
			ClientIP:           req.ClientIP,
			UserAgent:          req.UserAgent,
			Customer:           customer,
			UTMs:               req.UTMs,
		},
	}

	if err := s.store.Create(ctx, session); err != nil {
		s.countCheckout("store_error")
		return nil, fmt.Errorf("persist session: %w", err)
	}

	s.dispatcher.Dispatch(StageCart, session)
	s.track(EventPixGenerated, map[string]interface{}{
		"session_id": sessionID,
		"plan_id":    req.PlanID,
		"amount":     req.Amount,
	})
	s.countCheckout("created")

	s.log.Info("checkout created",
		zap.String("session_id", sessionID),
		zap.String("plan_id", req.PlanID),
		zap.Int64("amount", req.Amount),
		zap.String("payment_code", charge.PaymentCode))

	return &CheckoutResult{
		SessionID: sessionID,
		PixCode:   session.PixCode,
		QRImage:   session.QRImage,
		EventID:   eventID,
		Status:    session.Status,
	}, nil
}

// Status is the read-only poll used by the browser.
func (s *PaymentService) Status(ctx context.Context, id string) (*models.PaymentSession, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}
	return s.store.Get(ctx, id)
}

// HandleCallback resolves a gateway callback to a session and applies the
// pending to paid transition. Only the caller that performs the transition
// dispatches the purchase event.
func (s *PaymentService) HandleCallback(ctx context.Context, payload CallbackPayload) (*CallbackResult, error) {
	candidates := payload.Identifiers()
	if len(candidates) == 0 {
		s.countWebhook("malformed")
		return nil, ErrMissingIdentifier
	}

	result, err := s.handleCallback(ctx, payload, candidates)
	if err != nil {
		s.countWebhook("error")
		return nil, err
	}

	s.countWebhook(string(result.Outcome))
	s.record(ctx, payload, result)
	return result, nil
}

func (s *PaymentService) handleCallback(ctx context.Context, payload CallbackPayload, candidates []string) (*CallbackResult, error) {
	session, err := s.resolve(ctx, payload, candidates)
	if errors.Is(err, ErrSessionNotFound) {
		s.log.Warn("callback for unknown session",
			zap.Strings("identifiers", candidates),
			zap.String("payment_status", payload.PaymentStatus))
		return &CallbackResult{Outcome: OutcomeSessionNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	if !payload.Approved() {
		s.log.Info("callback acknowledged without transition",
			zap.String("session_id", session.ID),
			zap.String("payment_status", payload.PaymentStatus))
		return &CallbackResult{Outcome: OutcomeIgnoredStatus, SessionID: session.ID}, nil
	}

	updated, err := s.store.Update(ctx, session.ID, models.MarkPaid(s.now()))
	switch {
	case errors.Is(err, ErrAlreadyPaid):
		s.log.Info("duplicate approval ignored", zap.String("session_id", session.ID))
		return &CallbackResult{Outcome: OutcomeAlreadyPaid, SessionID: session.ID}, nil
	case errors.Is(err, ErrInvalidTransition):
		// the gateway took money for a session we already closed, needs manual reconciliation
		s.log.Error("approval for a closed session",
			zap.String("session_id", session.ID),
			zap.String("status", string(session.Status)),
			zap.String("payment_code", payload.PaymentCode.String()),
			zap.String("external_code", payload.ExternalCode.String()),
			zap.Int64("amount", session.Amount),
			zap.Int64("created_at", session.CreatedAt))
		if s.metrics != nil {
			s.metrics.LateApprovals.Inc()
		}
		return &CallbackResult{Outcome: OutcomeInvalidTransition, SessionID: session.ID}, nil
	case errors.Is(err, ErrSessionNotFound):
		return &CallbackResult{Outcome: OutcomeSessionNotFound}, nil
	case err != nil:
		return nil, fmt.Errorf("mark session %s paid: %w", session.ID, err)
	}

	s.log.Info("payment confirmed", zap.String("session_id", updated.ID), zap.Int64("amount", updated.Amount))
	s.dispatcher.Dispatch(StagePurchase, updated)
	s.track(EventPaymentCompleted, map[string]interface{}{
		"session_id": updated.ID,
		"plan_id":    updated.PlanID,
		"amount":     updated.Amount,
	})
	return &CallbackResult{Outcome: OutcomePaid, SessionID: updated.ID}, nil
}

// resolve tries every identifier as a primary id, then falls back to the
// gateway payment code and the external code as secondary codes.
func (s *PaymentService) resolve(ctx context.Context, payload CallbackPayload, candidates []string) (*models.PaymentSession, error) {
	for _, id := range candidates {
		session, err := s.store.Get(ctx, id)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
	}

	for _, code := range []string{payload.PaymentCode.String(), payload.ExternalCode.String()} {
		if code == "" {
			continue
		}
		session, err := s.store.FindBySecondaryCode(ctx, code)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
	}
	return nil, ErrSessionNotFound
}

// ExpirePending moves pending sessions older than maxAge plus the expiry grace
// to error and returns how many were moved. The grace covers approvals the
// gateway accepted right before the code expired and delivers late.
func (s *PaymentService) ExpirePending(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-(maxAge + s.expiryGrace)).UnixMilli()
	sessions, err := s.store.ListPendingBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, session := range sessions {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		_, err := s.store.Update(ctx, session.ID, models.MarkError())
		switch {
		case err == nil:
			expired++
		case errors.Is(err, ErrAlreadyPaid), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrSessionNotFound):
			// settled or evicted in the meantime
		default:
			return expired, fmt.Errorf("expire session %s: %w", session.ID, err)
		}
	}
	if expired > 0 {
		s.log.Info("expired pending sessions", zap.Int("count", expired))
	}
	return expired, nil
}

func (s *PaymentService) record(ctx context.Context, payload CallbackPayload, result *CallbackResult) {
	if s.recorder == nil {
		return
	}

	raw := payload.Raw
	if len(raw) == 0 || !json.Valid(raw) {
		raw, _ = json.Marshal(payload)
	}

	entry := &models.PaymentCallbackHistory{
		PaymentGateway: models.PaymentGatewayMangofy,
		SessionID:      result.SessionID,
		PaymentCode:    payload.PaymentCode.String(),
		PaymentStatus:  payload.PaymentStatus,
		Outcome:        string(result.Outcome),
		Metadata:       datatypes.JSON(raw),
	}
	if err := s.recorder.Record(ctx, entry); err != nil {
		s.log.Warn("failed to record callback history", zap.Error(err))
	}
}

func (s *PaymentService) track(event string, data map[string]interface{}) {
	if s.tracker != nil {
		s.tracker.Track(event, data)
	}
}

func (s *PaymentService) countCheckout(result string) {
	if s.metrics != nil {
		s.metrics.Checkouts.WithLabelValues(result).Inc()
	}
}

func (s *PaymentService) countWebhook(outcome string) {
	if s.metrics != nil {
		s.metrics.Webhooks.WithLabelValues(outcome).Inc()
	}
}
