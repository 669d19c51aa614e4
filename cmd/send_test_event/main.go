package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"streamvault/internal/config"
	"streamvault/internal/logger"
	"streamvault/internal/models"
	"streamvault/internal/services"
)

func main() {
	stage := flag.String("stage", "cart", "Lifecycle stage to send: cart or purchase")
	channel := flag.String("channel", "all", "Channel to use: capi, utmify or all")
	plan := flag.String("plan", "ouro", "Plan id of the synthetic session")
	amount := flag.Int64("amount", 1990, "Amount in cents")
	email := flag.String("email", "", "Customer email (optional, hashed before sending)")
	flag.Parse()

	config.LoadDotEnv()
	cfg := config.Load()

	log := logger.NewDevelopment("send_test_event")
	defer func() { _ = log.Sync() }()

	if cfg.Facebook.TestEventCode == "" {
		log.Warn("FACEBOOK_TEST_EVENT_CODE not set, the event will count as real traffic")
	}
	cfg.UTMify.IsTest = true

	var channels []services.AttributionChannel
	if *channel == "all" || *channel == "capi" {
		channels = append(channels, services.NewCAPIService(cfg.Facebook, cfg.BaseURL))
	}
	if *channel == "all" || *channel == "utmify" {
		channels = append(channels, services.NewUTMifyService(cfg.UTMify))
	}
	if len(channels) == 0 {
		fmt.Fprintf(os.Stderr, "unknown channel %q\n", *channel)
		os.Exit(1)
	}

	ids, err := services.NewIDGenerator(cfg.SnowflakeNode)
	if err != nil {
		log.Fatal("failed to create id generator", zap.Error(err))
	}

	session := syntheticSession(ids, services.Stage(*stage), *plan, *amount, *email)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.AttributionTimeout)
	defer cancel()

	failed := false
	for _, ch := range channels {
		if !ch.Enabled() {
			log.Warn("channel not configured, skipped", zap.String("channel", ch.Name()))
			continue
		}
		if err := ch.Send(ctx, services.Stage(*stage), session); err != nil {
			log.Error("send failed", zap.String("channel", ch.Name()), zap.Error(err))
			failed = true
			continue
		}
		log.Info("event sent", zap.String("channel", ch.Name()), zap.String("session_id", session.ID), zap.String("stage", *stage))
	}
	if failed {
		os.Exit(1)
	}
}

func syntheticSession(ids services.IDGenerator, stage services.Stage, plan string, amount int64, email string) *models.PaymentSession {
	now := time.Now()
	session := &models.PaymentSession{
		ID:        ids.SessionID(),
		PlanID:    plan,
		Status:    models.SessionStatusPending,
		PixCode:   "test",
		Amount:    amount,
		CreatedAt: now.UnixMilli(),
		Metadata: models.SessionMetadata{
			ExternalCode: ids.ExternalCode(),
			EventID:      ids.EventID(),
			PlanName:     plan,
			UTMs:         map[string]string{"utm_source": "test"},
		},
	}
	if email != "" {
		session.Metadata.Customer = &models.Customer{Email: email}
	}
	if stage == services.StagePurchase {
		paidAt := now.UnixMilli()
		session.Status = models.SessionStatusPaid
		session.PaidAt = &paidAt
	}
	return session
}
