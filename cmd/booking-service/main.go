package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/antoine13330/INKSPOT-5z-sub000/internal/booking"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/consumer"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/handlers"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/inbox"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/notify"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/outbox"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/payments"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/reminder"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/storage"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/sweeper"
	"github.com/antoine13330/INKSPOT-5z-sub000/libs/config"
	"github.com/antoine13330/INKSPOT-5z-sub000/libs/db"
	"github.com/antoine13330/INKSPOT-5z-sub000/libs/httpx"
	"github.com/antoine13330/INKSPOT-5z-sub000/libs/kafkax"
	otelx "github.com/antoine13330/INKSPOT-5z-sub000/libs/otel"
	"github.com/antoine13330/INKSPOT-5z-sub000/libs/runtime"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	repo := storage.NewAppointmentRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	reminderRepo := reminder.NewRepository()
	svc := booking.New(repo, outboxRepo, reminderRepo, logger, uuid.NewString)

	checkout := payments.NewCheckoutProvider(payments.Config{
		SecretKey:  config.String("STRIPE_SECRET_KEY", ""),
		SuccessURL: config.String("CHECKOUT_SUCCESS_URL", ""),
		CancelURL:  config.String("CHECKOUT_CANCEL_URL", ""),
	})

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	inboxRepo := inbox.NewRepository(pool)
	if topic := strings.TrimSpace(config.String("KAFKA_SETTLEMENT_TOPIC", "payments.payment.settled.v1")); topic != "" {
		settlementConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: config.String("KAFKA_BROKERS", ""),
			GroupID: config.String("KAFKA_GROUP_ID", "booking-service"),
			Topic:   topic,
		}, consumer.PaymentSettlementHandler(svc, logger))
		go settlementConsumer.Run(ctx)
	}

	var sender reminder.Sender
	if url := strings.TrimSpace(config.String("PUSH_WEBHOOK_URL", "")); url != "" {
		sender = notify.NewWebhookSender(url, config.String("PUSH_WEBHOOK_TOKEN", ""))
		logger.Info("push delivery enabled (webhook)", "url", url)
	} else {
		sender = notify.NewNoopSender()
		logger.Warn("PUSH_WEBHOOK_URL not set; reminders are dropped at delivery")
	}
	reminderWorker := reminder.NewWorker(pool, reminderRepo, outboxRepo, sender, repo, logger, reminder.WorkerConfig{
		Interval:  5 * time.Second,
		BatchSize: config.Int("REMINDER_BATCH_SIZE", 50),
		Backoff:   config.DurationMinutes("REMINDER_RETRY_BACKOFF_MINUTES", time.Minute),
	})
	go reminderWorker.Run(ctx)

	completionSweeper := sweeper.New(repo, svc, logger, sweeper.Config{
		Interval:  config.DurationMinutes("SWEEP_INTERVAL_MINUTES", time.Minute),
		BatchSize: config.Int("SWEEP_BATCH_SIZE", 100),
	})
	go completionSweeper.Run(ctx)

	apptHandler := handlers.NewAppointmentHandler(svc, repo, checkout, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/appointments/propose", apptHandler.Propose)
	mux.HandleFunc("/api/v1/appointments/respond", apptHandler.Respond)
	mux.HandleFunc("/api/v1/appointments/cancel", apptHandler.Cancel)
	mux.HandleFunc("/api/v1/appointments/payments", apptHandler.RecordPayment)
	mux.HandleFunc("/api/v1/appointments/checkout", apptHandler.Checkout)
	mux.HandleFunc("/api/v1/appointments/conflicts", apptHandler.Conflicts)
	mux.HandleFunc("/api/v1/appointments/get", apptHandler.Get)
	mux.HandleFunc("/api/v1/appointments", apptHandler.List)
	mux.HandleFunc("/api/v1/availability/slots", apptHandler.CreateSlot)
	mux.HandleFunc("/api/v1/preferences", apptHandler.Preferences)
	mux.HandleFunc("/api/v1/webhooks/stripe", apptHandler.StripeWebhook(handlers.WebhookConfig{
		Secret:           config.String("STRIPE_WEBHOOK_SECRET", ""),
		ToleranceSeconds: config.Int("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300),
	}))

	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 60)
	var rateLimitMW httpx.Middleware
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()

		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		rateLimitMW = rl.Middleware(logger, isTruthy(config.String("RATE_LIMIT_FAIL_OPEN", "true")))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods:   parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS")),
			AllowedHeaders:   parseList(config.String("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id,Idempotency-Key")),
			AllowCredentials: isTruthy(config.String("CORS_ALLOW_CREDENTIALS", "false")),
			MaxAge:           time.Duration(config.Int("CORS_MAX_AGE_SECONDS", 600)) * time.Second,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20))),
		rateLimitMW,
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func isTruthy(s string) bool {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
