package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"streamvault/internal/config"
	"streamvault/internal/handlers"
	"streamvault/internal/logger"
	"streamvault/internal/middleware"
	"streamvault/internal/services"
)

func main() {
	foundEnv := config.LoadDotEnv()
	cfg := config.Load()

	log := logger.For("streamvault", cfg.IsDevelopment())
	defer func() { _ = log.Sync() }()

	if !foundEnv {
		log.Info("no .env file found, using system environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Admin auth
	var verifier middleware.SessionVerifier
	var exchanger handlers.TokenExchanger
	authClient, err := services.InitFirebase(ctx, cfg.FirebaseCredentialsPath)
	switch {
	case errors.Is(err, services.ErrAdminAuthDisabled):
		log.Warn("FIREBASE_CREDENTIALS_PATH not set, admin routes disabled")
	case err != nil:
		log.Warn("firebase initialization failed, admin routes disabled", zap.Error(err))
	default:
		verifier = authClient
		exchanger = authClient
	}

	// Database
	var db *gorm.DB
	if cfg.DatabaseURL != "" {
		db, err = services.InitDB(cfg.DatabaseURL, cfg.IsDevelopment(), log)
		if err != nil {
			log.Fatal("failed to connect to database", zap.Error(err))
		}
		if err := services.AutoMigrate(db, log); err != nil {
			log.Fatal("failed to run database migrations", zap.Error(err))
		}
	} else {
		log.Warn("DATABASE_URL not set, callback history disabled")
	}

	store, closeStore, err := services.OpenSessionStore(cfg, db, log)
	if err != nil {
		log.Fatal("failed to open session store", zap.Error(err), zap.String("driver", cfg.StoreDriver))
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn("failed to close session store", zap.Error(err))
		}
	}()
	log.Info("session store ready", zap.String("driver", cfg.StoreDriver))

	ids, err := services.NewIDGenerator(cfg.SnowflakeNode)
	if err != nil {
		log.Fatal("failed to create id generator", zap.Error(err))
	}

	metrics := services.NewMetrics(prometheus.DefaultRegisterer)
	analytics := services.NewAnalytics(services.DefaultAnalyticsCapacity, log.Named("analytics"))

	capi := services.NewCAPIService(cfg.Facebook, cfg.BaseURL)
	utmify := services.NewUTMifyService(cfg.UTMify)
	dispatcher := services.NewAttributionDispatcher(cfg.AttributionTimeout, log.Named("attribution"), metrics, capi, utmify)

	gateway := services.NewMangofyService(cfg.Mangofy, cfg.Customer, metrics)
	if !gateway.Configured() {
		log.Warn("MANGOFY_API_URL or MANGOFY_AUTHORIZATION not set, checkout will fail")
	}

	opts := []services.PaymentOption{
		services.WithTracker(analytics),
		services.WithMetrics(metrics),
		services.WithPixExpiry(cfg.PixExpiry, cfg.ExpiryGrace),
	}
	if db != nil {
		opts = append(opts, services.WithCallbackRecorder(services.NewCallbackHistoryRepository(db)))
	}
	payments := services.NewPaymentService(store, gateway, dispatcher, ids, log.Named("payments"), opts...)

	// The worker cannot reach an in-process store, so expiry runs here.
	if cfg.StoreDriver == services.StoreDriverMemory {
		go expireLoop(ctx, payments, cfg, log)
	}

	e := newRouter(cfg, log, routes{
		payments:  handlers.NewPaymentHandler(payments, log.Named("http")),
		track:     handlers.NewTrackEventHandler(capi, log.Named("http")),
		analytics: handlers.NewAnalyticsHandler(analytics),
		auth:      handlers.NewAuthHandler(exchanger, !cfg.IsDevelopment(), log.Named("auth")),
		verifier:  verifier,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	// let in-flight attribution sends finish
	dispatcher.Wait()
	log.Info("server exited")
}

type routes struct {
	payments  *handlers.PaymentHandler
	track     *handlers.TrackEventHandler
	analytics *handlers.AnalyticsHandler
	auth      *handlers.AuthHandler
	verifier  middleware.SessionVerifier
}

func newRouter(cfg *config.Config, log *zap.Logger, r routes) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.CustomErrorHandler(log)

	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log.Named("access")))
	e.Use(echomw.Recover())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.POST("/create-pix", r.payments.CreatePix, middleware.BotFilter(cfg.BotFilterEnabled, log.Named("bot_filter")))
	api.GET("/check-payment", r.payments.CheckPayment)
	api.POST("/mangofy-callback", r.payments.MangofyCallback)
	api.POST("/track-event", r.track.TrackEvent)
	api.POST("/analytics", r.analytics.Track)

	e.POST("/auth/login", r.auth.HandleLogin)
	e.POST("/auth/logout", r.auth.HandleLogout)

	requireAdmin := middleware.RequireAuth(r.verifier)
	e.GET("/api/analytics", r.analytics.Metrics, requireAdmin)
	e.GET("/dashboard", r.analytics.Dashboard, requireAdmin)

	return e
}

func expireLoop(ctx context.Context, payments *services.PaymentService, cfg *config.Config, log *zap.Logger) {
	ticker := time.NewTicker(cfg.WorkerTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := payments.ExpirePending(ctx, cfg.PixExpiry); err != nil {
				log.Warn("pending session expiry failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
