package services

import (
	"context"
	"net/http"
	"time"

	"streamvault/internal/config"
	"streamvault/internal/models"
)

const utmifyTimeLayout = "2006-01-02 15:04:05"

type UTMifyCustomer struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Document string `json:"document"`
	Country  string `json:"country"`
	IP       string `json:"ip"`
}

type UTMifyProduct struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	PlanID       *string `json:"planId"`
	PlanName     *string `json:"planName"`
	Quantity     int     `json:"quantity"`
	PriceInCents int64   `json:"priceInCents"`
}

type UTMifyTrackingParameters struct {
	Src         *string `json:"src"`
	Sck         *string `json:"sck"`
	UTMSource   *string `json:"utm_source"`
	UTMCampaign *string `json:"utm_campaign"`
	UTMMedium   *string `json:"utm_medium"`
	UTMContent  *string `json:"utm_content"`
	UTMTerm     *string `json:"utm_term"`
	FBCLID      *string `json:"fbclid"`
	FBP         *string `json:"fbp"`
}

type UTMifyCommission struct {
	TotalPriceInCents     int64 `json:"totalPriceInCents"`
	GatewayFeeInCents     int64 `json:"gatewayFeeInCents"`
	UserCommissionInCents int64 `json:"userCommissionInCents"`
}

// UTMifyOrder is the order-shaped payload of the tracking webhook.
type UTMifyOrder struct {
	OrderID            string                   `json:"orderId"`
	Platform           string                   `json:"platform"`
	PaymentMethod      string                   `json:"paymentMethod"`
	Status             string                   `json:"status"`
	CreatedAt          string                   `json:"createdAt"`
	ApprovedDate       *string                  `json:"approvedDate"`
	RefundedAt         *string                  `json:"refundedAt"`
	Customer           UTMifyCustomer           `json:"customer"`
	Products           []UTMifyProduct          `json:"products"`
	TrackingParameters UTMifyTrackingParameters `json:"trackingParameters"`
	Commission         UTMifyCommission         `json:"commission"`
	IsTest             bool                     `json:"isTest"`
}

// UTMifyService posts orders to the order-tracking webhook.
type UTMifyService struct {
	cfg    config.UTMifyConfig
	client *http.Client
	now    func() time.Time
}

func NewUTMifyService(cfg config.UTMifyConfig) *UTMifyService {
	return &UTMifyService{cfg: cfg, client: &http.Client{}, now: time.Now}
}

func (s *UTMifyService) Name() string  { return "utmify" }
func (s *UTMifyService) Enabled() bool { return s.cfg.Configured() }

func (s *UTMifyService) Send(ctx context.Context, stage Stage, session *models.PaymentSession) error {
	order, err := s.BuildOrder(stage, session)
	if err != nil {
		return err
	}
	_, err = postJSON(ctx, s.client, s.cfg.APIURL, map[string]string{"x-api-token": s.cfg.APIToken}, order)
	return err
}

// BuildOrder maps a session onto the order payload. approvedDate is only set
// for purchases and refundedAt is always null.
func (s *UTMifyService) BuildOrder(stage Stage, session *models.PaymentSession) (*UTMifyOrder, error) {
	var status string
	var approved *string
	switch stage {
	case StageCart:
		status = "waiting_payment"
	case StagePurchase:
		status = "paid"
		at := s.now()
		if session.PaidAt != nil {
			at = time.UnixMilli(*session.PaidAt)
		}
		approved = strPtr(formatUTMifyTime(at))
	default:
		return nil, unknownStage(stage)
	}

	orderID := session.OrderCode()
	meta := session.Metadata

	customer := UTMifyCustomer{Country: "BR", IP: meta.ClientIP}
	if c := meta.Customer; c != nil {
		customer.Name, customer.Email, customer.Phone, customer.Document = c.Name, c.Email, c.Phone, c.Document
	}

	productName := meta.PlanName
	if productName == "" {
		productName = session.PlanID
	}

	platform := s.cfg.Platform
	if platform == "" {
		platform = "StreamVault"
	}

	fbp := meta.FBP
	if fbp == "" {
		fbp = meta.UTMs["fbp"]
	}

	return &UTMifyOrder{
		OrderID:       orderID,
		Platform:      platform,
		PaymentMethod: "pix",
		Status:        status,
		CreatedAt:     formatUTMifyTime(time.UnixMilli(session.CreatedAt)),
		ApprovedDate:  approved,
		RefundedAt:    nil,
		Customer:      customer,
		Products: []UTMifyProduct{{
			ID:           orderID,
			Name:         productName,
			Quantity:     1,
			PriceInCents: session.Amount,
		}},
		TrackingParameters: UTMifyTrackingParameters{
			Src:         strPtr(meta.UTMs["src"]),
			Sck:         strPtr(meta.UTMs["sck"]),
			UTMSource:   strPtr(meta.UTMs["utm_source"]),
			UTMCampaign: strPtr(meta.UTMs["utm_campaign"]),
			UTMMedium:   strPtr(meta.UTMs["utm_medium"]),
			UTMContent:  strPtr(meta.UTMs["utm_content"]),
			UTMTerm:     strPtr(meta.UTMs["utm_term"]),
			FBCLID:      strPtr(meta.UTMs["fbclid"]),
			FBP:         strPtr(fbp),
		},
		Commission: UTMifyCommission{
			TotalPriceInCents:     session.Amount,
			GatewayFeeInCents:     0,
			UserCommissionInCents: session.Amount,
		},
		IsTest: s.cfg.IsTest,
	}, nil
}

func formatUTMifyTime(t time.Time) string {
	return t.UTC().Format(utmifyTimeLayout)
}

// strPtr returns nil for the empty string.
func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
