package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"streamvault/internal/config"
	"streamvault/internal/models"
	"streamvault/internal/services"
)

type stubGateway struct {
	configured bool
	err        error
}

func (g *stubGateway) Configured() bool { return g.configured }

func (g *stubGateway) CreateCharge(_ context.Context, req services.ChargeRequest) (*services.Charge, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &services.Charge{PixCode: "000201" + req.PlanID, QRImage: "QR", PaymentCode: "mgf_h1"}, nil
}

type countingDispatcher struct {
	purchases int32
}

func (d *countingDispatcher) Dispatch(stage services.Stage, _ *models.PaymentSession) {
	if stage == services.StagePurchase {
		atomic.AddInt32(&d.purchases, 1)
	}
}

type testServer struct {
	echo       *echo.Echo
	dispatcher *countingDispatcher
	analytics  *services.Analytics
}

func newTestServer(t *testing.T, gateway *stubGateway) *testServer {
	t.Helper()

	store := services.NewMemorySessionStore(time.Hour, zap.NewNop())
	t.Cleanup(func() { _ = store.Close() })

	ids, err := services.NewIDGenerator(1)
	if err != nil {
		t.Fatal(err)
	}
	dispatcher := &countingDispatcher{}
	analytics := services.NewAnalytics(0, nil)
	payments := services.NewPaymentService(store, gateway, dispatcher, ids, zap.NewNop(), services.WithTracker(analytics))

	e := echo.New()
	ph := NewPaymentHandler(payments, zap.NewNop())
	e.POST("/api/create-pix", ph.CreatePix)
	e.GET("/api/check-payment", ph.CheckPayment)
	e.POST("/api/mangofy-callback", ph.MangofyCallback)

	ah := NewAnalyticsHandler(analytics)
	e.POST("/api/analytics", ah.Track)
	e.GET("/api/analytics", ah.Metrics)
	e.GET("/dashboard", ah.Dashboard)

	return &testServer{echo: e, dispatcher: dispatcher, analytics: analytics}
}

func (s *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestCheckoutWebhookPollFlow(t *testing.T) {
	srv := newTestServer(t, &stubGateway{configured: true})

	rec := srv.do(http.MethodPost, "/api/create-pix", `{"planId":"ouro","planName":"Ouro","amount":1990}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("create-pix status = %d body = %s", rec.Code, rec.Body.String())
	}
	var checkout services.CheckoutResult
	if err := json.Unmarshal(rec.Body.Bytes(), &checkout); err != nil {
		t.Fatal(err)
	}
	if checkout.Status != models.SessionStatusPending || checkout.PixCode == "" || checkout.SessionID == "" {
		t.Fatalf("checkout = %+v", checkout)
	}

	poll := func() PaymentStatusResponse {
		rec := srv.do(http.MethodGet, "/api/check-payment?id="+checkout.SessionID, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("check-payment status = %d", rec.Code)
		}
		var resp PaymentStatusResponse
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
		return resp
	}

	if before := poll(); before.Status != "pending" || before.PaidAt != nil {
		t.Errorf("poll before payment = %+v", before)
	}
	if !strings.Contains(srv.do(http.MethodGet, "/api/check-payment?id="+checkout.SessionID, "").Body.String(), `"paidAt":null`) {
		t.Error("paidAt must be serialised as null while pending")
	}

	callback := `{"payment_code":"mgf_h1","payment_status":"approved","metadata":{}}`
	for i := 0; i < 2; i++ {
		rec = srv.do(http.MethodPost, "/api/mangofy-callback", callback)
		if rec.Code != http.StatusOK {
			t.Fatalf("callback #%d status = %d", i+1, rec.Code)
		}
	}
	if !strings.Contains(rec.Body.String(), `"result":"already_paid"`) {
		t.Errorf("replayed callback body = %s", rec.Body.String())
	}
	if got := atomic.LoadInt32(&srv.dispatcher.purchases); got != 1 {
		t.Errorf("purchase dispatches = %d, want 1", got)
	}

	if after := poll(); after.Status != "paid" || after.PaidAt == nil {
		t.Errorf("poll after payment = %+v", after)
	}

	m := srv.analytics.Metrics()
	if m.ConversionFunnel.PixGenerated != 1 || m.ConversionFunnel.PaymentCompleted != 1 {
		t.Errorf("funnel = %+v", m.ConversionFunnel)
	}
}

func TestCreatePix_Errors(t *testing.T) {
	tests := []struct {
		name       string
		gateway    *stubGateway
		body       string
		wantStatus int
		wantError  string
	}{
		{"missing amount", &stubGateway{configured: true}, `{"planId":"ouro"}`, http.StatusBadRequest, "Missing planId or amount"},
		{"malformed body", &stubGateway{configured: true}, `{"planId":`, http.StatusBadRequest, "Invalid request body"},
		{"gateway not configured", &stubGateway{}, `{"planId":"ouro","amount":1990}`, http.StatusInternalServerError, "Failed to create payment"},
		{"gateway down", &stubGateway{configured: true, err: services.ErrGatewayUnavailable}, `{"planId":"ouro","amount":1990}`, http.StatusInternalServerError, "Failed to create payment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.gateway)
			rec := srv.do(http.MethodPost, "/api/create-pix", tt.body)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body ErrorResponse
			_ = json.Unmarshal(rec.Body.Bytes(), &body)
			if body.Error != tt.wantError {
				t.Errorf("error = %q, want %q", body.Error, tt.wantError)
			}
		})
	}
}

func TestCheckPayment_Errors(t *testing.T) {
	srv := newTestServer(t, &stubGateway{configured: true})

	if rec := srv.do(http.MethodGet, "/api/check-payment", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("missing id status = %d, want 400", rec.Code)
	}
	if rec := srv.do(http.MethodGet, "/api/check-payment?id=session_nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", rec.Code)
	}
}

func TestMangofyCallback_Acknowledgement(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"unknown session", `{"payment_code":"mgf_other","payment_status":"approved"}`, http.StatusOK, `"result":"session_not_found"`},
		{"declined", `{"external_code":"x","payment_status":"declined"}`, http.StatusOK, `"ok":true`},
		{"no identifier", `{"payment_status":"approved","metadata":{}}`, http.StatusBadRequest, "Missing session identifier"},
		{"not json", `approved`, http.StatusBadRequest, "Invalid payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &stubGateway{configured: true})
			rec := srv.do(http.MethodPost, "/api/mangofy-callback", tt.body)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want it to contain %s", rec.Body.String(), tt.wantBody)
			}
			if srv.dispatcher.purchases != 0 {
				t.Error("purchase dispatched for a callback that paid nothing")
			}
		})
	}
}

func TestAnalyticsHandlers(t *testing.T) {
	srv := newTestServer(t, &stubGateway{configured: true})

	if rec := srv.do(http.MethodPost, "/api/analytics", `{"data":{}}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing event status = %d, want 400", rec.Code)
	}
	for _, ev := range []string{"page_view", "page_view", "age_gate_passed"} {
		if rec := srv.do(http.MethodPost, "/api/analytics", `{"event":"`+ev+`"}`); rec.Code != http.StatusOK {
			t.Fatalf("track status = %d", rec.Code)
		}
	}

	rec := srv.do(http.MethodGet, "/api/analytics", "")
	var m services.FunnelMetrics
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatal(err)
	}
	if m.TotalEvents != 3 || m.ConversionFunnel.PageViews != 2 || m.ConversionFunnel.AgeGatePassed != 1 {
		t.Errorf("metrics = %+v", m)
	}

	rec = srv.do(http.MethodGet, "/dashboard", "")
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), "text/html") {
		t.Errorf("dashboard status = %d content-type = %s", rec.Code, rec.Header().Get(echo.HeaderContentType))
	}
	if !strings.Contains(rec.Body.String(), "Age Gate Passed") {
		t.Error("dashboard missing funnel rows")
	}
}

func TestTrackEvent(t *testing.T) {
	var received map[string]interface{}
	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		_, _ = w.Write([]byte(`{"events_received":1}`))
	}))
	defer graph.Close()

	tests := []struct {
		name     string
		cfg      config.FacebookConfig
		wantBody string
	}{
		{"not configured", config.FacebookConfig{}, `"capi":false`},
		{"relayed", config.FacebookConfig{PixelID: "px", AccessToken: "tok", GraphAPIURL: graph.URL}, `"events_received":1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			h := NewTrackEventHandler(services.NewCAPIService(tt.cfg, "https://vault.example"), zap.NewNop())
			e.POST("/api/track-event", h.TrackEvent)

			req := httptest.NewRequest(http.MethodPost, "/api/track-event",
				strings.NewReader(`{"eventName":"ViewContent","eventId":"evt_1","userData":{"email":"Ana@Example.com"}}`))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("status = %d body = %s", rec.Code, rec.Body.String())
			}
		})
	}

	data, _ := received["data"].([]interface{})
	if len(data) != 1 {
		t.Fatalf("relayed payload = %v", received)
	}
	ud := data[0].(map[string]interface{})["user_data"].(map[string]interface{})
	em, _ := ud["em"].([]interface{})
	if len(em) != 1 || em[0] != services.HashIdentifier("ana@example.com") {
		t.Errorf("em = %v, want the hashed email", ud["em"])
	}
}

type stubExchanger struct {
	verifyErr error
}

func (s stubExchanger) VerifyIDToken(context.Context, string) (*auth.Token, error) {
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	return &auth.Token{UID: "admin-1"}, nil
}

func (s stubExchanger) SessionCookie(context.Context, string, time.Duration) (string, error) {
	return "cookie-value", nil
}

func TestAuthHandler_Login(t *testing.T) {
	tests := []struct {
		name       string
		client     TokenExchanger
		header     string
		wantStatus int
		wantCookie bool
	}{
		{"disabled", nil, "Bearer t", http.StatusServiceUnavailable, false},
		{"missing header", stubExchanger{}, "", http.StatusUnauthorized, false},
		{"wrong scheme", stubExchanger{}, "Basic abc", http.StatusUnauthorized, false},
		{"invalid token", stubExchanger{verifyErr: errors.New("bad")}, "Bearer t", http.StatusUnauthorized, false},
		{"ok", stubExchanger{}, "Bearer t", http.StatusOK, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			h := NewAuthHandler(tt.client, true, zap.NewNop())
			if err := h.HandleLogin(e.NewContext(req, rec)); err != nil {
				t.Fatal(err)
			}

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			gotCookie := strings.Contains(rec.Header().Get("Set-Cookie"), "session=cookie-value")
			if gotCookie != tt.wantCookie {
				t.Errorf("Set-Cookie = %q", rec.Header().Get("Set-Cookie"))
			}
		})
	}
}
