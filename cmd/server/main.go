package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"
	"github.com/supportly/backend/internal/chat"
	"github.com/supportly/backend/internal/config"
	"github.com/supportly/backend/internal/domain"
	"github.com/supportly/backend/internal/handler"
	"github.com/supportly/backend/internal/logging"
	"github.com/supportly/backend/internal/metrics"
	appMiddleware "github.com/supportly/backend/internal/middleware"
	"github.com/supportly/backend/internal/notify"
	"github.com/supportly/backend/internal/repository"
	"github.com/supportly/backend/internal/repository/memory"
	"github.com/supportly/backend/internal/service"
	"github.com/supportly/backend/internal/supervisor"
	"github.com/supportly/backend/pkg/crypto"
	"github.com/supportly/backend/pkg/payment"
)

func main() {
	// Load .env file if present (for local development)
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.close()
	logging.Info().Str("driver", cfg.StoreDriver).Msg("store ready")

	sealer, err := crypto.NewPayloadSealer(cfg.EncryptionKey)
	if err != nil {
		logging.Fatal().Err(err).Msg("encryption setup failed")
	}

	gateways := buildGateways(cfg)
	logging.Info().Strs("gateways", gateways.Names()).Msg("payment gateways registered")

	if cfg.ChatBaseURL == "" {
		logging.Warn().Msg("CHAT_BASE_URL is not set, membership sync will report failures")
	}
	chatSvc := chat.NewBreakerClient(
		chat.NewClient(cfg.ChatBaseURL, cfg.ChatAPIToken, &http.Client{Timeout: cfg.ExternalCallTimeout}),
		recordBreakerState,
	)

	mailer, closeMailer, err := buildMailer(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("mailer setup failed")
	}
	defer closeMailer()

	// Initialize services
	membershipSvc := service.NewMembershipService(chatSvc, st.channels, cfg.ExternalCallTimeout, service.DefaultRetryPolicy)
	dispatcher := service.NewNotificationDispatcher(mailer, st.users, st.prefs, st.outbox, cfg.ExternalCallTimeout, cfg.AppBaseURL)
	lifecycleSvc := service.NewLifecycleService(st.lifecycle, st.outcomes, gateways, membershipSvc, dispatcher, sealer, service.LifecycleConfig{
		Cycle:                  domain.BillingCycle{Months: cfg.BillingCycleMonths, Days: cfg.BillingCycleDays},
		ReminderDays:           cfg.ReminderDays,
		ExpiringSoonDays:       cfg.ExpiringSoonDays,
		SweepConcurrency:       cfg.SweepConcurrency,
		RemoveChannelsOnExpiry: cfg.RemoveChannelsOnExpiry,
		ExternalCallTimeout:    cfg.ExternalCallTimeout,
	})
	checkoutSvc := service.NewCheckoutService(st.lifecycle, gateways, lifecycleSvc, cfg.AppBaseURL, cfg.ExternalCallTimeout)
	authSvc := service.NewAuthService(cfg.JWTSecret, st.users)
	adminSvc := service.NewAdminService(st.stats, st.users, st.outbox, st.lifecycle, sealer, cfg.ExpiringSoonDays)

	scheduler, err := service.NewExpiryScheduler(lifecycleSvc, cfg.SweepSchedule)
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid sweep schedule")
	}
	outboxWorker := service.NewOutboxWorker(st.outbox, dispatcher, service.OutboxWorkerConfig{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
	})

	// Initialize handlers
	authHandler := handler.NewAuthHandler(authSvc)
	healthHandler := handler.NewHealthHandler(st.db, chatSvc)
	paymentHandler := handler.NewPaymentHandler(checkoutSvc, authSvc)
	webhookHandler := handler.NewWebhookHandler(gateways, lifecycleSvc)
	subscriptionHandler := handler.NewSubscriptionHandler(lifecycleSvc)
	tiersHandler := handler.NewTiersHandler(st.channels)
	cronHandler := handler.NewCronHandler(scheduler)
	adminHandler := handler.NewAdminHandler(adminSvc, checkoutSvc)

	// Build router
	limiter := appMiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	r := chi.NewRouter()

	// Global middleware
	r.Use(appMiddleware.Recovery)
	r.Use(appMiddleware.Logger)
	r.Use(appMiddleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check, metrics and gateway callbacks are not rate limited.
	r.Get("/health", healthHandler.Check)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/api/payments/callback/{gateway}", webhookHandler.GatewayCallback)
	r.With(appMiddleware.CronSecret(cfg.CronSecret)).Post("/api/cron/expirations", cronHandler.Expirations)

	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware())

		r.Get("/api/creators/{creatorID}/tiers", tiersHandler.List)

		// Protected API routes
		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.Auth(authSvc))

			r.Get("/api/me", authHandler.Me)
			r.Post("/api/checkout", paymentHandler.CreateCheckout)
			r.Get("/api/subscriptions/{creatorID}", subscriptionHandler.Current)
			r.Get("/api/subscriptions/{creatorID}/entitlement", subscriptionHandler.Entitlement)
			r.Post("/api/subscriptions/{creatorID}/cancel", subscriptionHandler.Cancel)

			// Admin routes
			r.Group(func(r chi.Router) {
				r.Use(appMiddleware.AdminOnly)
				r.Get("/api/admin/stats", adminHandler.GetStats)
				r.Get("/api/admin/subscriptions/expiring", adminHandler.Expiring)
				r.Post("/api/admin/payments/simulate", adminHandler.Simulate)
				r.Get("/api/admin/transactions/{key}", adminHandler.Transaction)
			})
		})
	})

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	root := supervisor.New("supportly", supervisor.Config{})
	root.Add(outboxWorker)
	root.Add(scheduler)
	root.Add(limiter)
	root.Add(supervisor.NewHTTPServerService(server, 10*time.Second))

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	logging.Info().Str("addr", addr).Str("sweep_schedule", cfg.SweepSchedule).Msg("supportly backend listening")
	if err := root.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor stopped")
	}
	if unstopped, err := root.UnstoppedServiceReport(); err == nil {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("service failed to stop")
		}
	}
	logging.Info().Msg("stopped")
}

type userStore interface {
	service.UserStore
	service.UserCounter
}

type outboxStore interface {
	service.OutboxStore
	service.OutboxCounter
}

// stores groups the persistence ports the services depend on.
type stores struct {
	lifecycle service.LifecycleStore
	prefs     service.PreferenceStore
	stats     service.StatsStore
	outcomes  service.OutcomeStore
	channels  service.ChannelDirectory
	outbox    outboxStore
	users     userStore
	// db is nil on the in-memory store.
	db    handler.Pinger
	close func()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StoreDriver == config.StoreMemory {
		logging.Warn().Msg("using the in-memory store, data is lost on restart")
		mem := memory.NewStore()
		return &stores{
			lifecycle: mem,
			prefs:     mem,
			stats:     mem,
			outcomes:  mem,
			channels:  mem,
			outbox:    mem,
			users:     memory.NewUserStore(),
			close:     func() {},
		}, nil
	}

	db, err := repository.NewDB(ctx, cfg.DatabaseURL, repository.PoolConfig{MaxConns: int32(cfg.DBMaxConns)})
	if err != nil {
		return nil, err
	}
	if err := repository.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	subs := repository.NewSubscriptionRepository(db)
	return &stores{
		lifecycle: subs,
		prefs:     subs,
		stats:     subs,
		outcomes:  repository.NewOutcomeRepository(db),
		channels:  repository.NewChannelRepository(db),
		outbox:    repository.NewOutboxRepository(db),
		users:     repository.NewUserRepository(db),
		db:        db,
		close:     db.Close,
	}, nil
}

// buildGateways registers every gateway with credentials plus the manual adapter.
func buildGateways(cfg *config.Config) *payment.Registry {
	opts := func(baseURL string) payment.Options {
		return payment.Options{
			BaseURL:       baseURL,
			HTTPClient:    &http.Client{Timeout: cfg.ExternalCallTimeout},
			OnStateChange: recordBreakerState,
		}
	}
	gws := []payment.Gateway{payment.NewManual()}
	if cfg.MidtransServerKey != "" {
		gws = append(gws, payment.NewMidtrans(payment.MidtransConfig{
			ServerKey: cfg.MidtransServerKey,
			SnapURL:   cfg.MidtransSnapURL,
			Options:   opts(cfg.MidtransBaseURL),
		}))
	}
	if cfg.XenditSecretKey != "" {
		gws = append(gws, payment.NewXendit(payment.XenditConfig{
			SecretKey:     cfg.XenditSecretKey,
			CallbackToken: cfg.XenditCallbackKey,
			Options:       opts(cfg.XenditBaseURL),
		}))
	}
	if cfg.StripeSecretKey != "" {
		gws = append(gws, payment.NewStripe(payment.StripeConfig{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookKey,
			Options:       opts(cfg.StripeBaseURL),
		}))
	}
	return payment.NewRegistry(gws...)
}

func buildMailer(cfg *config.Config) (notify.Mailer, func(), error) {
	switch cfg.MailDriver {
	case config.MailSMTP:
		return notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		}), func() {}, nil
	case config.MailAMQP:
		m, err := notify.NewAMQPMailer(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, nil, err
		}
		return m, m.Close, nil
	default:
		return notify.NewLogMailer(), func() {}, nil
	}
}

func recordBreakerState(name string, from, to gobreaker.State) {
	metrics.BreakerState.WithLabelValues(name).Set(float64(to))
	logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
}
