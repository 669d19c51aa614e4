package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"streamvault/internal/config"
	"streamvault/internal/models"
)

const currencyBRL = "BRL"

// HashIdentifier is the one-way digest applied to personal data before it
// leaves the service: SHA-256 hex of the lowercased, trimmed value.
func HashIdentifier(v string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(v))))
	return hex.EncodeToString(sum[:])
}

// CAPIUserData is the user_data block of a conversion event.
type CAPIUserData struct {
	Em              []string `json:"em,omitempty"`
	Ph              []string `json:"ph,omitempty"`
	ExternalID      string   `json:"external_id,omitempty"`
	FBC             string   `json:"fbc,omitempty"`
	FBP             string   `json:"fbp,omitempty"`
	ClientIPAddress string   `json:"client_ip_address,omitempty"`
	ClientUserAgent string   `json:"client_user_agent,omitempty"`
}

// UserInput is unhashed visitor data.
type UserInput struct {
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Document  string `json:"document"`
	FBC       string `json:"fbc"`
	FBP       string `json:"fbp"`
	ClientIP  string `json:"-"`
	UserAgent string `json:"-"`
}

// NewCAPIUserData hashes the personal fields and passes click and browser ids through.
func NewCAPIUserData(in UserInput) CAPIUserData {
	ud := CAPIUserData{
		FBC:             in.FBC,
		FBP:             in.FBP,
		ClientIPAddress: in.ClientIP,
		ClientUserAgent: in.UserAgent,
	}
	if strings.TrimSpace(in.Email) != "" {
		ud.Em = []string{HashIdentifier(in.Email)}
	}
	if strings.TrimSpace(in.Phone) != "" {
		ud.Ph = []string{HashIdentifier(in.Phone)}
	}
	if strings.TrimSpace(in.Document) != "" {
		ud.ExternalID = HashIdentifier(in.Document)
	}
	return ud
}

type CAPIEvent struct {
	EventName      string                 `json:"event_name"`
	EventTime      int64                  `json:"event_time"`
	EventID        string                 `json:"event_id"`
	ActionSource   string                 `json:"action_source"`
	EventSourceURL string                 `json:"event_source_url,omitempty"`
	UserData       CAPIUserData           `json:"user_data"`
	CustomData     map[string]interface{} `json:"custom_data"`
}

type capiRequest struct {
	Data          []CAPIEvent `json:"data"`
	TestEventCode string      `json:"test_event_code,omitempty"`
}

// CAPIService sends conversion events to the ad platform.
type CAPIService struct {
	cfg     config.FacebookConfig
	baseURL string
	client  *http.Client
	now     func() time.Time
}

func NewCAPIService(cfg config.FacebookConfig, baseURL string) *CAPIService {
	return &CAPIService{
		cfg:     cfg,
		baseURL: baseURL,
		client:  &http.Client{},
		now:     time.Now,
	}
}

func (s *CAPIService) Name() string  { return "capi" }
func (s *CAPIService) Enabled() bool { return s.cfg.Configured() }

// Send reports a session lifecycle stage as AddToCart or Purchase.
func (s *CAPIService) Send(ctx context.Context, stage Stage, session *models.PaymentSession) error {
	event, err := s.SessionEvent(stage, session)
	if err != nil {
		return err
	}
	_, err = s.SendEvents(ctx, event)
	return err
}

// SessionEvent builds the conversion event for a stage. Only customer data
// stored on the session is hashed.
func (s *CAPIService) SessionEvent(stage Stage, session *models.PaymentSession) (CAPIEvent, error) {
	var name, eventID string
	switch stage {
	case StageCart:
		name, eventID = "AddToCart", session.Metadata.EventID
	case StagePurchase:
		name, eventID = "Purchase", session.PurchaseEventID()
	default:
		return CAPIEvent{}, unknownStage(stage)
	}

	in := UserInput{
		FBC:       session.Metadata.FBC,
		FBP:       session.Metadata.FBP,
		ClientIP:  session.Metadata.ClientIP,
		UserAgent: session.Metadata.UserAgent,
	}
	if c := session.Metadata.Customer; c != nil {
		in.Email, in.Phone, in.Document = c.Email, c.Phone, c.Document
	}

	custom := map[string]interface{}{}
	for k, v := range session.Metadata.UTMs {
		custom[k] = v
	}
	custom["value"] = decimal.New(session.Amount, -2).InexactFloat64()
	custom["currency"] = currencyBRL
	custom["content_type"] = "product"
	custom["content_ids"] = []string{session.ID}
	if session.Metadata.PlanName != "" {
		custom["content_name"] = session.Metadata.PlanName
	}

	return CAPIEvent{
		EventName:      name,
		EventTime:      s.now().Unix(),
		EventID:        eventID,
		ActionSource:   "website",
		EventSourceURL: s.baseURL,
		UserData:       NewCAPIUserData(in),
		CustomData:     custom,
	}, nil
}

// SendEvents posts events in one request and returns the platform's answer.
func (s *CAPIService) SendEvents(ctx context.Context, events ...CAPIEvent) (json.RawMessage, error) {
	if !s.Enabled() {
		return nil, nil
	}

	for i := range events {
		if events[i].EventTime == 0 {
			events[i].EventTime = s.now().Unix()
		}
		if events[i].ActionSource == "" {
			events[i].ActionSource = "website"
		}
		if events[i].EventSourceURL == "" {
			events[i].EventSourceURL = s.baseURL
		}
		if events[i].CustomData == nil {
			events[i].CustomData = map[string]interface{}{}
		}
	}

	endpoint := s.cfg.GraphAPIURL + "/" + url.PathEscape(s.cfg.PixelID) + "/events?access_token=" + url.QueryEscape(s.cfg.AccessToken)
	body, err := postJSON(ctx, s.client, endpoint, nil, capiRequest{
		Data:          events,
		TestEventCode: s.cfg.TestEventCode,
	})
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, nil
	}
	return json.RawMessage(body), nil
}
