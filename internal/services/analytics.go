package services

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"streamvault/internal/logger"
)

const (
	DefaultAnalyticsCapacity = 1000

	EventPixGenerated     = "pix_generated"
	EventPaymentCompleted = "payment_completed"
)

// EventTracker records funnel events.
type EventTracker interface {
	Track(event string, data map[string]interface{})
}

type AnalyticsEvent struct {
	Event     string                 `json:"event"`
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

type ConversionFunnel struct {
	PageViews        int `json:"page_views"`
	AgeGatePassed    int `json:"age_gate_passed"`
	SocialProofSeen  int `json:"social_proof_seen"`
	OverlayOpened    int `json:"overlay_opened"`
	PlanSelected     int `json:"plan_selected"`
	CreditUsed       int `json:"credit_used"`
	PixGenerated     int `json:"pix_generated"`
	PaymentCompleted int `json:"payment_completed"`
}

// FunnelMetrics summarises the event log. Everything except TotalEvents
// counts the last 24 hours.
type FunnelMetrics struct {
	TotalEvents      int              `json:"total_events"`
	LastHour         int              `json:"last_hour"`
	Last24h          int              `json:"last_24h"`
	ByEvent          map[string]int   `json:"by_event"`
	ConversionFunnel ConversionFunnel `json:"conversion_funnel"`
}

// Analytics is a bounded in-memory event log; the oldest event is dropped
// once capacity is reached.
type Analytics struct {
	mu       sync.RWMutex
	events   []AnalyticsEvent
	capacity int
	log      *zap.Logger
	now      func() time.Time
}

func NewAnalytics(capacity int, log *zap.Logger) *Analytics {
	if capacity <= 0 {
		capacity = DefaultAnalyticsCapacity
	}
	return &Analytics{
		events:   make([]AnalyticsEvent, 0, capacity),
		capacity: capacity,
		log:      log,
		now:      time.Now,
	}
}

func (a *Analytics) Track(event string, data map[string]interface{}) {
	a.mu.Lock()
	a.events = append(a.events, AnalyticsEvent{
		Event:     event,
		Timestamp: a.now().UnixMilli(),
		Data:      data,
	})
	if over := len(a.events) - a.capacity; over > 0 {
		a.events = append(a.events[:0], a.events[over:]...)
	}
	a.mu.Unlock()

	if a.log != nil {
		fields := []zap.Field{zap.String("event", event)}
		if data != nil {
			if raw, err := json.Marshal(data); err == nil {
				fields = append(fields, zap.String("data", logger.Truncate(string(raw), 100)))
			}
		}
		a.log.Info("analytics event", fields...)
	}
}

func (a *Analytics) Metrics() FunnelMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := a.now()
	hourAgo := now.Add(-time.Hour).UnixMilli()
	dayAgo := now.Add(-24 * time.Hour).UnixMilli()

	m := FunnelMetrics{
		TotalEvents: len(a.events),
		ByEvent:     make(map[string]int),
	}

	for _, e := range a.events {
		if e.Timestamp > hourAgo {
			m.LastHour++
		}
		if e.Timestamp <= dayAgo {
			continue
		}
		m.Last24h++
		m.ByEvent[e.Event]++

		f := &m.ConversionFunnel
		switch e.Event {
		case "page_view":
			f.PageViews++
		case "age_gate_passed":
			f.AgeGatePassed++
		case "social_proof_seen":
			f.SocialProofSeen++
		case "overlay_opened":
			f.OverlayOpened++
		case "plan_selected":
			f.PlanSelected++
		case "credit_used":
			f.CreditUsed++
		case EventPixGenerated:
			f.PixGenerated++
		case EventPaymentCompleted:
			f.PaymentCompleted++
		}
	}
	return m
}
