package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"streamvault/internal/config"
	"streamvault/internal/models"
)

// ChargeRequest is what the checkout hands to the Pix gateway.
type ChargeRequest struct {
	SessionID    string
	EventID      string
	ExternalCode string
	PlanID       string
	PlanName     string
	Amount       int64
	Customer     *models.Customer
	UTMs         map[string]string
	ClientIP     string
	// ExpiresIn is how long the Pix code may be paid. Zero leaves the gateway default.
	ExpiresIn time.Duration
}

// Charge is the usable part of a gateway answer.
type Charge struct {
	PixCode     string
	QRImage     string
	PaymentCode string
}

// PixGateway mints Pix charges.
type PixGateway interface {
	Configured() bool
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
}

// Response field aliases, tried in order. Gateways have shipped each of these shapes.
var (
	pixCodeAliases     = []string{"pix_code", "pix.pix_code", "pix.qr_code", "pix.copy_paste", "qr_code", "copy_paste"}
	qrImageAliases     = []string{"qr_image", "pix.qr_image", "pix.qr_code_base64", "qr_code_base64", "pix.qr_code_url"}
	paymentCodeAliases = []string{"payment_code", "code", "id", "transaction_id"}
)

type MangofyService struct {
	cfg      config.MangofyConfig
	customer config.CustomerDefaults
	client   *http.Client
	metrics  *Metrics
}

func NewMangofyService(cfg config.MangofyConfig, customer config.CustomerDefaults, metrics *Metrics) *MangofyService {
	return &MangofyService{
		cfg:      cfg,
		customer: customer,
		client:   &http.Client{},
		metrics:  metrics,
	}
}

func (s *MangofyService) Configured() bool {
	return s.cfg.Configured()
}

type mangofyClient struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Document string `json:"document,omitempty"`
}

type mangofyItem struct {
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Tangible  bool   `json:"tangible"`
}

type mangofyMetadata struct {
	SessionID string            `json:"session_id"`
	EventID   string            `json:"event_id"`
	UTMs      map[string]string `json:"utms"`
}

type mangofyPix struct {
	ExpiresIn int64 `json:"expires_in"` // seconds
}

type mangofyTransaction struct {
	PaymentMethod string          `json:"payment_method"`
	Amount        int64           `json:"amount"`
	ExternalCode  string          `json:"external_code"`
	Client        mangofyClient   `json:"client"`
	Items         []mangofyItem   `json:"items"`
	Pix           *mangofyPix     `json:"pix,omitempty"`
	Metadata      mangofyMetadata `json:"metadata"`
	PostbackURL   string          `json:"postback_url"`
	StoreCode     string          `json:"store_code"`
	IP            string          `json:"ip,omitempty"`
}

func (s *MangofyService) buildTransaction(req ChargeRequest) mangofyTransaction {
	client := mangofyClient{
		Name:     s.customer.Name,
		Email:    s.customer.Email,
		Phone:    s.customer.Phone,
		Document: s.customer.Document,
	}
	if !req.Customer.IsZero() {
		client = mangofyClient{
			Name:     req.Customer.Name,
			Email:    req.Customer.Email,
			Phone:    req.Customer.Phone,
			Document: req.Customer.Document,
		}
	}

	title := req.PlanName
	if title == "" {
		title = req.PlanID
	}

	utms := req.UTMs
	if utms == nil {
		utms = map[string]string{}
	}

	var pix *mangofyPix
	if req.ExpiresIn > 0 {
		secs := int64((req.ExpiresIn + time.Second - 1) / time.Second)
		pix = &mangofyPix{ExpiresIn: secs}
	}

	return mangofyTransaction{
		PaymentMethod: "pix",
		Pix:           pix,
		Amount:        req.Amount,
		ExternalCode:  req.ExternalCode,
		Client:        client,
		Items: []mangofyItem{{
			Title:     "Acesso " + title,
			Quantity:  1,
			UnitPrice: req.Amount,
			Tangible:  false,
		}},
		Metadata: mangofyMetadata{
			SessionID: req.SessionID,
			EventID:   req.EventID,
			UTMs:      utms,
		},
		PostbackURL: s.cfg.PostbackURL,
		StoreCode:   s.cfg.StoreCodeBody,
		IP:          req.ClientIP,
	}
}

// CreateCharge posts a Pix transaction. Every failure, including an answer
// without a Pix code, is reported as ErrGatewayUnavailable.
func (s *MangofyService) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if !s.Configured() {
		return nil, ErrGatewayNotConfigured
	}

	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	body, err := postJSON(ctx, s.client, s.cfg.APIURL+"/transaction", map[string]string{
		"Authorization": s.cfg.Authorization,
		"store_code":    s.cfg.StoreCodeHeader,
	}, s.buildTransaction(req))
	if s.metrics != nil {
		s.metrics.GatewayLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	charge, err := parseCharge(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return charge, nil
}

func parseCharge(body []byte) (*Charge, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var root map[string]interface{}
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	roots := []map[string]interface{}{root}
	if data, ok := root["data"].(map[string]interface{}); ok {
		roots = append(roots, data)
	}

	charge := &Charge{
		PixCode:     firstAlias(roots, pixCodeAliases),
		QRImage:     firstAlias(roots, qrImageAliases),
		PaymentCode: firstAlias(roots, paymentCodeAliases),
	}
	if charge.PixCode == "" {
		return nil, fmt.Errorf("response carries no pix code")
	}
	return charge, nil
}

func firstAlias(roots []map[string]interface{}, aliases []string) string {
	for _, alias := range aliases {
		for _, root := range roots {
			if v := lookupPath(root, alias); v != "" {
				return v
			}
		}
	}
	return ""
}

func lookupPath(m map[string]interface{}, path string) string {
	parts := strings.Split(path, ".")
	var cur interface{} = m
	for _, p := range parts {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return ""
		}
		cur = obj[p]
	}

	switch v := cur.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
