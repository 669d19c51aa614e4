package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"streamvault/internal/config"
	"streamvault/internal/models"
)

func attributionSession() *models.PaymentSession {
	paidAt := time.Date(2026, 3, 1, 15, 4, 5, 0, time.UTC).UnixMilli()
	return &models.PaymentSession{
		ID:        "session_1",
		PlanID:    "ouro",
		Status:    models.SessionStatusPaid,
		Amount:    1990,
		CreatedAt: time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC).UnixMilli(),
		PaidAt:    &paidAt,
		Metadata: models.SessionMetadata{
			GatewayPaymentCode: "mgf_1",
			ExternalCode:       "ext_1",
			EventID:            "evt_1",
			PlanName:           "Ouro",
			FBC:                "fb.1.click",
			FBP:                "fb.1.browser",
			ClientIP:           "203.0.113.9",
			Customer:           &models.Customer{Name: "Ana", Email: "  Ana@Example.com ", Phone: "5511999999999", Document: "12345678900"},
			UTMs:               map[string]string{"utm_source": "facebook", "utm_campaign": "launch"},
		},
	}
}

func TestHashIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ana@example.com", "8e43ca37701228e74983efdbd0cff5c16b3b1e5d4e29a7c05626d4d25a018e11"},
		{"  Ana@Example.COM ", "8e43ca37701228e74983efdbd0cff5c16b3b1e5d4e29a7c05626d4d25a018e11"},
	}

	for _, tt := range tests {
		if got := HashIdentifier(tt.in); got != tt.want {
			t.Errorf("HashIdentifier(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestCAPIService_SessionEvent(t *testing.T) {
	svc := NewCAPIService(config.FacebookConfig{PixelID: "px", AccessToken: "tok"}, "https://vault.example")
	svc.now = func() time.Time { return time.Unix(1700000000, 0) }
	session := attributionSession()

	tests := []struct {
		stage     Stage
		wantName  string
		wantEvent string
	}{
		{StageCart, "AddToCart", "evt_1"},
		{StagePurchase, "Purchase", "purchase_evt_1"},
	}

	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			ev, err := svc.SessionEvent(tt.stage, session)
			if err != nil {
				t.Fatalf("SessionEvent() error = %v", err)
			}
			if ev.EventName != tt.wantName || ev.EventID != tt.wantEvent {
				t.Errorf("event = %s/%s, want %s/%s", ev.EventName, ev.EventID, tt.wantName, tt.wantEvent)
			}
			if ev.EventTime != 1700000000 || ev.ActionSource != "website" || ev.EventSourceURL != "https://vault.example" {
				t.Errorf("envelope = %+v", ev)
			}
			if len(ev.UserData.Em) != 1 || ev.UserData.Em[0] != HashIdentifier("ana@example.com") {
				t.Errorf("em = %v", ev.UserData.Em)
			}
			if ev.UserData.ExternalID != HashIdentifier("12345678900") {
				t.Error("document not hashed into external_id")
			}
			if ev.UserData.FBC != "fb.1.click" || ev.UserData.FBP != "fb.1.browser" {
				t.Error("click and browser ids not passed through")
			}
			if ev.CustomData["value"] != 19.9 || ev.CustomData["currency"] != "BRL" || ev.CustomData["utm_source"] != "facebook" {
				t.Errorf("custom_data = %v", ev.CustomData)
			}
		})
	}

	if _, err := svc.SessionEvent(Stage("refund"), session); err == nil {
		t.Error("unknown stage accepted")
	}
}

func TestCAPIService_NoCustomerNoHashes(t *testing.T) {
	svc := NewCAPIService(config.FacebookConfig{PixelID: "px", AccessToken: "tok"}, "")
	session := attributionSession()
	session.Metadata.Customer = nil

	ev, _ := svc.SessionEvent(StageCart, session)
	if ev.UserData.Em != nil || ev.UserData.Ph != nil || ev.UserData.ExternalID != "" {
		t.Errorf("user_data = %+v, want no hashed fields", ev.UserData)
	}
}

func TestCAPIService_Send(t *testing.T) {
	var body capiRequest
	var path, token string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		token = r.URL.Query().Get("access_token")
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"events_received":1}`))
	}))
	defer server.Close()

	svc := NewCAPIService(config.FacebookConfig{
		PixelID:       "123",
		AccessToken:   "tok",
		GraphAPIURL:   server.URL,
		TestEventCode: "TEST42",
	}, "https://vault.example")

	if err := svc.Send(context.Background(), StagePurchase, attributionSession()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if path != "/123/events" || token != "tok" {
		t.Errorf("request path = %s token = %s", path, token)
	}
	if body.TestEventCode != "TEST42" || len(body.Data) != 1 || body.Data[0].EventID != "purchase_evt_1" {
		t.Errorf("body = %+v", body)
	}
}

func TestUTMifyService_BuildOrder(t *testing.T) {
	svc := NewUTMifyService(config.UTMifyConfig{APIURL: "http://x", APIToken: "t", Platform: "StreamVault"})
	session := attributionSession()

	cart, err := svc.BuildOrder(StageCart, session)
	if err != nil {
		t.Fatalf("BuildOrder(cart) error = %v", err)
	}
	if cart.Status != "waiting_payment" || cart.ApprovedDate != nil || cart.RefundedAt != nil {
		t.Errorf("cart order = %+v", cart)
	}

	purchase, err := svc.BuildOrder(StagePurchase, session)
	if err != nil {
		t.Fatalf("BuildOrder(purchase) error = %v", err)
	}
	if purchase.Status != "paid" || purchase.ApprovedDate == nil || *purchase.ApprovedDate != "2026-03-01 15:04:05" {
		t.Errorf("purchase order status = %s approved = %v", purchase.Status, purchase.ApprovedDate)
	}
	if purchase.RefundedAt != nil {
		t.Error("refundedAt must stay null")
	}
	if purchase.OrderID != "mgf_1" || purchase.CreatedAt != "2026-03-01 15:00:00" {
		t.Errorf("order id = %s createdAt = %s", purchase.OrderID, purchase.CreatedAt)
	}
	if len(purchase.Products) != 1 || purchase.Products[0].PriceInCents != 1990 || purchase.Products[0].Name != "Ouro" {
		t.Errorf("products = %+v", purchase.Products)
	}
	if purchase.Commission.TotalPriceInCents != 1990 || purchase.Commission.UserCommissionInCents != 1990 {
		t.Errorf("commission = %+v", purchase.Commission)
	}
	if purchase.Customer.Country != "BR" || purchase.Customer.IP != "203.0.113.9" {
		t.Errorf("customer = %+v", purchase.Customer)
	}
	tp := purchase.TrackingParameters
	if tp.UTMSource == nil || *tp.UTMSource != "facebook" || tp.UTMTerm != nil || tp.FBP == nil {
		t.Errorf("tracking parameters = %+v", tp)
	}
}

func TestUTMifyService_SendsToken(t *testing.T) {
	var gotToken string
	var order UTMifyOrder
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("x-api-token")
		_ = json.NewDecoder(r.Body).Decode(&order)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := NewUTMifyService(config.UTMifyConfig{APIURL: server.URL, APIToken: "utm-token"})
	if err := svc.Send(context.Background(), StageCart, attributionSession()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotToken != "utm-token" || order.Status != "waiting_payment" || order.Platform != "StreamVault" {
		t.Errorf("token = %s order = %+v", gotToken, order)
	}
}

type stubChannel struct {
	name    string
	enabled bool
	err     error
	delay   time.Duration
	calls   int32
}

func (c *stubChannel) Name() string  { return c.name }
func (c *stubChannel) Enabled() bool { return c.enabled }

func (c *stubChannel) Send(ctx context.Context, _ Stage, _ *models.PaymentSession) error {
	atomic.AddInt32(&c.calls, 1)
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.err
}

func TestAttributionDispatcher(t *testing.T) {
	ok := &stubChannel{name: "ok", enabled: true}
	failing := &stubChannel{name: "failing", enabled: true, err: errors.New("boom")}
	disabled := &stubChannel{name: "disabled"}
	slow := &stubChannel{name: "slow", enabled: true, delay: 100 * time.Millisecond}

	d := NewAttributionDispatcher(time.Second, zap.NewNop(), NewMetrics(nil), ok, failing, disabled, slow)

	start := time.Now()
	d.Dispatch(StageCart, attributionSession())
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Dispatch blocked for %v", elapsed)
	}
	d.Wait()

	for _, ch := range []*stubChannel{ok, failing, slow} {
		if atomic.LoadInt32(&ch.calls) != 1 {
			t.Errorf("channel %s calls = %d, want 1", ch.name, ch.calls)
		}
	}
	if disabled.calls != 0 {
		t.Error("disabled channel was called")
	}
}

func TestAttributionDispatcher_TimeoutBoundsSend(t *testing.T) {
	slow := &stubChannel{name: "slow", enabled: true, delay: time.Minute}
	d := NewAttributionDispatcher(50*time.Millisecond, zap.NewNop(), nil, slow)

	done := make(chan struct{})
	go func() {
		d.Dispatch(StagePurchase, attributionSession())
		d.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("send was not bounded by the dispatcher timeout")
	}
}

func TestAttributionDispatcher_SnapshotIsolation(t *testing.T) {
	var mu sync.Mutex
	var seen string
	ch := &captureChannel{fn: func(s *models.PaymentSession) {
		mu.Lock()
		seen = s.Metadata.EventID
		mu.Unlock()
	}}
	d := NewAttributionDispatcher(time.Second, zap.NewNop(), nil, ch)

	session := attributionSession()
	d.Dispatch(StageCart, session)
	session.Metadata.EventID = "mutated"
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	if seen != "evt_1" {
		t.Errorf("channel saw %q, want the dispatched snapshot", seen)
	}
}

type captureChannel struct {
	fn func(*models.PaymentSession)
}

func (c *captureChannel) Name() string  { return "capture" }
func (c *captureChannel) Enabled() bool { return true }
func (c *captureChannel) Send(_ context.Context, _ Stage, s *models.PaymentSession) error {
	c.fn(s)
	return nil
}
