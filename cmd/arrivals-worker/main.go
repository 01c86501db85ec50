package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/clinichq/arrivals/internal/config"
	"github.com/clinichq/arrivals/internal/engine"
	"github.com/clinichq/arrivals/internal/notify"
	"github.com/clinichq/arrivals/internal/observability/metrics"
	"github.com/clinichq/arrivals/internal/pms"
	"github.com/clinichq/arrivals/internal/sms"
	"github.com/clinichq/arrivals/internal/storage"
	"github.com/clinichq/arrivals/internal/templates"
	"github.com/clinichq/arrivals/internal/video"
	arrivalsworker "github.com/clinichq/arrivals/internal/worker/arrivals"
	"github.com/clinichq/arrivals/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" {
		logger.Error("arrivals worker requires DATABASE_URL")
		os.Exit(1)
	}
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioFromNumber == "" {
		logger.Error("arrivals worker requires TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER")
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := storage.NewStore(pool)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		opts := &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	var source arrivalsworker.SnapshotSource
	if cfg.PMSDemoMode {
		logger.Warn("PMS demo mode enabled; serving generated appointments")
		source = pms.NewDemoSource()
	} else {
		client, err := pms.New(pms.Config{
			BaseURL:      cfg.PMSBaseURL,
			ClientID:     cfg.PMSClientID,
			ClientSecret: cfg.PMSClientSecret,
		})
		if err != nil {
			logger.Error("failed to create PMS client", "error", err)
			os.Exit(1)
		}
		source = client
	}

	twilioClient := sms.NewTwilioClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger)

	provider, providerName, reason := video.BuildProvider(video.SelectionConfig{
		Preference:        cfg.VideoProvider,
		TenantID:          cfg.TenantID,
		OpenViduBaseURL:   cfg.OpenViduBaseURL,
		OpenViduSecret:    cfg.OpenViduSecret,
		StaticRoomBaseURL: cfg.StaticRoomBaseURL,
	}, logger)
	var sessions engine.VideoSessions
	if provider != nil {
		logger.Info("video provider selected", "provider", providerName)
		sessions = video.NewCoordinator(provider, redisClient, logger)
	} else {
		logger.Warn("no video provider available; video invites will fail", "reason", reason)
	}

	var locker engine.Locker
	if redisClient != nil {
		locker = engine.NewRedisLocker(redisClient, 30*time.Second)
	} else {
		locker = engine.NewNoopLocker()
	}

	mailer := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
	}, logger)
	var alerter engine.Alerter
	if mailer != nil && cfg.AlertEmail != "" {
		alerter = notify.NewAlerter(mailer, cfg.AlertEmail, "", logger)
	}

	engineMetrics := metrics.NewEngineMetrics(nil)

	eng, err := engine.New(engine.Config{
		Sender:          twilioClient,
		Store:           store,
		Resolver:        templates.NewResolver(store),
		Video:           sessions,
		Locker:          locker,
		Alerter:         alerter,
		Logger:          logger,
		Metrics:         engineMetrics,
		ScreeningWindow: cfg.ScreeningWindow,
		VideoWindow:     cfg.VideoWindow,
	})
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		os.Exit(1)
	}

	today := arrivalsworker.NewTodayPoller(source, store, eng, logger).
		WithInterval(cfg.TodayPollInterval)
	upcoming := arrivalsworker.NewUpcomingPoller(source, store, eng, logger).
		WithInterval(cfg.UpcomingPollInterval).
		WithLookahead(cfg.UpcomingLookaheadDays)
	inbound := arrivalsworker.NewInboundPoller(twilioClient, store, eng, logger).
		WithInterval(cfg.InboundPollInterval).
		WithLookahead(cfg.UpcomingLookaheadDays)

	go today.Run(ctx)
	go upcoming.Run(ctx)
	go inbound.Run(ctx)

	ops := opsRouter()
	opsServer := &http.Server{
		Addr:         cfg.OpsListenAddr,
		Handler:      ops,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("ops listener starting", "addr", cfg.OpsListenAddr)
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops listener failed", "error", err)
		}
	}()

	logger.Info("arrivals worker started",
		"today_interval", cfg.TodayPollInterval.String(),
		"upcoming_interval", cfg.UpcomingPollInterval.String(),
		"inbound_interval", cfg.InboundPollInterval.String())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("arrivals worker shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = opsServer.Shutdown(shutdownCtx)
	time.Sleep(2 * time.Second)
}

func opsRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
