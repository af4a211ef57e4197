package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/sportswear-storefront/internal/config"
	"github.com/vasiliy-maslov/sportswear-storefront/internal/coupon"
	"github.com/vasiliy-maslov/sportswear-storefront/internal/db"
	"github.com/vasiliy-maslov/sportswear-storefront/internal/event"
	"github.com/vasiliy-maslov/sportswear-storefront/internal/gateway"
	storefrontHttp "github.com/vasiliy-maslov/sportswear-storefront/internal/handler/http"
	"github.com/vasiliy-maslov/sportswear-storefront/internal/health"
	"github.com/vasiliy-maslov/sportswear-storefront/internal/order"
	"github.com/vasiliy-maslov/sportswear-storefront/internal/payment"
)

const version = "0.1.0"

// newLogger builds the process logger; the service field is attached here and nowhere else.
func newLogger(cfg config.AppConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if cfg.Env == config.EnvDevelopment {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "storefront").Logger()
}

func main() {
	log.Logger = newLogger(config.AppConfig{}, os.Stderr)

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	log.Logger = newLogger(cfg.App, os.Stderr)

	log.Info().Str("env", cfg.App.Env).Str("store_mode", cfg.App.StoreMode).Msg("Storefront starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	healthHandler := health.NewHandler(version)

	var (
		orderRepo  order.Repository
		couponRepo coupon.Repository
		cleanup    []func()
	)

	switch cfg.App.StoreMode {
	case config.StoreModeMemory:
		log.Warn().Msg("Using in-memory stores; data is lost on restart")
		orderRepo = order.NewMemoryRepository()
		couponRepo = coupon.NewMemoryRepository()
	default:
		if err := db.ApplyMigrations(cfg.Postgres); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}

		dbConn, err := db.New(ctx, cfg.Postgres)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		cleanup = append(cleanup, dbConn.Close)

		couponDB, err := db.NewCouponDB(ctx, cfg.Postgres)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect coupon store")
		}
		cleanup = append(cleanup, func() {
			if err := couponDB.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close coupon store")
			}
		})

		healthHandler.Register(dbConn)
		healthHandler.Register(db.NewSQLChecker("coupon_store", couponDB))
		orderRepo = order.NewRepository(dbConn.Pool)
		couponRepo = coupon.NewRepository(couponDB)
	}

	var publisher event.Publisher = event.NewLogPublisher()
	if cfg.RabbitMQ.URL != "" {
		rabbit, err := event.DialRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
		}
		cleanup = append(cleanup, func() {
			if err := rabbit.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close RabbitMQ publisher")
			}
		})
		healthHandler.Register(rabbit)
		publisher = rabbit
	} else {
		log.Info().Msg("RABBITMQ_URL not set, order events are only logged")
	}

	gatewayClient, err := gateway.NewClient(gateway.Options{
		BaseURL:     cfg.Payment.BaseURL,
		AccessToken: cfg.Payment.AccessToken,
		Timeout:     cfg.Payment.Timeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create payment gateway client")
	}

	couponSvc := coupon.NewService(couponRepo)
	orderSvc := order.NewService(
		orderRepo,
		payment.NewPreferences(gatewayClient, cfg.Payment.NotificationURL, cfg.Payment.BackURL),
		couponSvc,
		publisher,
		order.Pricing{
			ShippingFlatRate: cfg.Checkout.ShippingFlatRate,
			CustomizationFee: cfg.Checkout.CustomizationFee,
			Currency:         cfg.Checkout.Currency,
		},
	)
	reconciler := payment.NewReconciler(gatewayClient, orderRepo, publisher)
	verifier := payment.NewVerifier(cfg.Webhook.SignatureMode, cfg.Webhook.Secret)
	if verifier.Mode() == payment.ModeDisabledForDevelopment {
		log.Warn().Msg("Webhook signature verification is DISABLED")
	}

	rateLimiter := storefrontHttp.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	go rateLimiter.Cleanup(ctx, time.Minute)

	router := storefrontHttp.NewRouter(storefrontHttp.RouterConfig{
		Orders:      storefrontHttp.NewOrderHandler(orderSvc, couponSvc),
		Admin:       storefrontHttp.NewAdminHandler(orderSvc, couponSvc),
		Webhooks:    storefrontHttp.NewWebhookHandler(verifier, reconciler),
		Health:      healthHandler,
		RateLimiter: rateLimiter,
		AdminSecret: []byte(cfg.Admin.JWTSecret),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}

	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}
	log.Info().Msg("Storefront stopped gracefully")
}
