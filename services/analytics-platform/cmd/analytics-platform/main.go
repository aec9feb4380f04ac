package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/clinpulse/platform/libs/config"
	"github.com/clinpulse/platform/libs/db"
	"github.com/clinpulse/platform/libs/httpx"
	"github.com/clinpulse/platform/libs/kafkax"
	otelx "github.com/clinpulse/platform/libs/otel"
	"github.com/clinpulse/platform/libs/runtime"
	"github.com/clinpulse/platform/services/analytics-platform/internal/analytics"
	"github.com/clinpulse/platform/services/analytics-platform/internal/appointments"
	"github.com/clinpulse/platform/services/analytics-platform/internal/checkpoint"
	"github.com/clinpulse/platform/services/analytics-platform/internal/facts"
	"github.com/clinpulse/platform/services/analytics-platform/internal/handlers"
	"github.com/clinpulse/platform/services/analytics-platform/internal/observability"
	"github.com/clinpulse/platform/services/analytics-platform/internal/outbox"
	"github.com/clinpulse/platform/services/analytics-platform/internal/relay"
	"github.com/clinpulse/platform/services/analytics-platform/internal/simulation"
	"github.com/clinpulse/platform/services/analytics-platform/internal/storage"
	"github.com/clinpulse/platform/services/analytics-platform/internal/stream"
)

const (
	funnelStream = "outbox_to_appointment_funnel"
	exportStream = "outbox_to_kafka"
)

func main() {
	service := config.String("SERVICE_NAME", "analytics-platform")
	port, err := config.Port("PORT", "8080")
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

	tenantRepo := storage.NewTenantRepository(pool)
	apptRepo := storage.NewAppointmentRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	checkpointRepo := checkpoint.NewRepository(pool)
	factRepo := facts.NewRepository(pool)

	commandSvc := appointments.NewService(pool, apptRepo, tenantRepo, outboxRepo, logger)
	gateway := appointments.NewGateway(commandSvc, logger, appointments.GatewayConfig{
		Enabled:      config.Bool("QUEUE_ENABLED", false),
		Capacity:     config.Int("QUEUE_CAPACITY", 5000),
		OfferTimeout: config.DurationMS("QUEUE_OFFER_TIMEOUT_MS", 50*time.Millisecond),
		WorkerCount:  config.Int("QUEUE_WORKER_COUNT", 1),
	})
	observability.RegisterQueueDepth(func() float64 { return float64(gateway.QueueDepth()) })
	gateway.Start(ctx)

	projector := relay.NewProjector(funnelStream, outboxRepo, checkpointRepo, factRepo, logger)
	go projector.Run(ctx, config.DurationMS("RELAY_POLL_INTERVAL_MS", time.Second))

	kafkaBrokers := kafkax.SplitBrokers(config.String("KAFKA_BROKERS", ""))
	if len(kafkaBrokers) == 0 {
		logger.Warn("kafka export disabled (no brokers configured)")
	} else {
		writer := relay.NewKafkaWriter(kafkaBrokers)
		defer writer.Close()
		exporter := relay.NewExporter(exportStream, outboxRepo, checkpointRepo, writer, logger)
		go exporter.Run(ctx, config.DurationMS("RELAY_POLL_INTERVAL_MS", time.Second))
	}

	snapshotSvc := analytics.NewService(factRepo)
	hub := stream.NewHub(snapshotSvc, logger, config.Int("MAX_SSE_CLIENTS", 200))
	go hub.Run(ctx, config.DurationMS("SSE_BROADCAST_INTERVAL_MS", 2*time.Second))

	if config.Bool("SIMULATION_ENABLED", false) {
		generator := simulation.NewGenerator(commandSvc, tenantRepo, logger)
		go generator.Run(ctx, config.DurationMS("SIMULATION_INTERVAL_MS", 10*time.Second))
	}

	apptHandler := handlers.NewAppointmentHandler(gateway, commandSvc, apptRepo, logger)
	analyticsHandler := handlers.NewAnalyticsHandler(hub, snapshotSvc, logger)

	readyChecks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if len(kafkaBrokers) > 0 {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.Handle("/metrics", promhttp.Handler())

	scheduleHandler := http.Handler(http.HandlerFunc(apptHandler.Schedule))
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		limiter := httpx.NewRedisRateLimiter(rdb, config.Int("RATE_LIMIT_PER_MINUTE", 600), time.Minute, service)
		scheduleHandler = limiter.Middleware(logger, true)(scheduleHandler)
	} else {
		limiter := httpx.NewRateLimiter(config.Int("RATE_LIMIT_PER_MINUTE", 600), time.Minute)
		scheduleHandler = limiter.Middleware()(scheduleHandler)
	}
	// Bounded queries get a server-side deadline; the SSE stream must not.
	queryTimeout := httpx.WithTimeout(10 * time.Second)
	mux.Handle("/api/v1/appointments", scheduleHandler)
	mux.HandleFunc("/api/v1/appointments/complete", apptHandler.Complete)
	mux.Handle("/api/v1/appointments/stats", queryTimeout(http.HandlerFunc(apptHandler.Stats)))
	mux.Handle("/api/v1/analytics/snapshot", queryTimeout(http.HandlerFunc(analyticsHandler.Snapshot)))
	mux.HandleFunc("/api/v1/analytics/stream", analyticsHandler.Stream)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(config.String("CORS_ALLOWED_ORIGINS", ""), ","),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         10 * time.Minute,
		}),
	)
	handler = otelhttp.NewHandler(handler, "analytics-platform")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
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
	gateway.Wait()
	logger.Info("http server stopped")
}
