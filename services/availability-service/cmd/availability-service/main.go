package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tidyslot/tidyslot/libs/auth"
	"github.com/tidyslot/tidyslot/libs/config"
	"github.com/tidyslot/tidyslot/libs/db"
	"github.com/tidyslot/tidyslot/libs/grpcx"
	"github.com/tidyslot/tidyslot/libs/httpx"
	"github.com/tidyslot/tidyslot/libs/kafkax"
	"github.com/tidyslot/tidyslot/libs/metrics"
	otelx "github.com/tidyslot/tidyslot/libs/otel"
	"github.com/tidyslot/tidyslot/libs/runtime"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/booking"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/busy"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/calendar"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/catalog"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/consumer"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/handlers"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/inbox"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/outbox"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/rules"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/slots"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/storage"
	"github.com/tidyslot/tidyslot/services/availability-service/migrations"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := runtime.NewLogger(cfg.Name, cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg serviceConfig, logger *slog.Logger) error {
	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Name))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{})
	if err != nil {
		return fmt.Errorf("db connection: %w", err)
	}
	defer pool.Close()
	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, pool, migrations.FS, ".", logger); err != nil {
			return err
		}
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer func() { _ = rdb.Close() }()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewAvailabilityMetrics(reg)

	bookingRepo := storage.NewBookingRepository(pool, outbox.NewRepository())
	rulesRepo := rules.NewRepository(pool)
	catalogRepo := catalog.NewRepository(pool)

	var (
		sources []calendar.Source
		cache   *calendar.Cache
	)
	integrations := calendar.NewIntegrationRepository(pool)
	if cfg.GoogleClientID != "" {
		var google calendar.Source = calendar.NewGoogle(calendar.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
		}, integrations, logger)
		if rdb != nil {
			cache = calendar.NewCache(google, rdb, cfg.CalendarCacheTTL, logger, m)
			google = cache
		}
		sources = append(sources, google)
	} else {
		logger.Warn("google calendar client not configured; owners with a linked google calendar are served as degraded")
		sources = append(sources, calendar.NewUnconfigured(calendar.ProviderGoogle, integrations))
	}

	aggregator := busy.NewAggregator(bookingRepo, sources, cfg.CalendarFetchTimeout, logger, m)
	calculator := slots.NewCalculator(rulesRepo, catalogRepo, aggregator, m,
		slots.WithMaxRange(time.Duration(cfg.MaxQueryDays)*24*time.Hour))
	guard := booking.NewGuard(bookingRepo, catalogRepo, calculator, logger, m, booking.Config{
		ReserveTimeout: cfg.ReserveTimeout,
		ListLimit:      cfg.ListLimit,
	})

	g, gctx := errgroup.WithContext(ctx)

	publisher := outbox.NewPublisher(pool, outbox.NewRepository(), logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: cfg.OutboxPoll,
		BatchSize: cfg.OutboxBatch,
	})
	g.Go(func() error {
		publisher.Run(gctx)
		return nil
	})

	if cache != nil && cfg.KafkaBrokers != "" {
		busyConsumer := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaGroupID,
			Topic:   cfg.BusyTopic,
		}, consumer.BusyChangedHandler(cache))
		g.Go(func() error {
			busyConsumer.Run(gctx)
			return nil
		})
	}

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
	}
	if rdb != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	health := grpcx.NewHealthServer(logger)
	health.SetServing("", true)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	g.Go(func() error {
		if err := health.Serve(lis); err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		health.SetServing("", false)
		health.Stop()
		return nil
	})

	verifier := auth.NewVerifier(cfg.JWTSecret, jwksClient(cfg.JWKSURL))
	if !verifier.Enabled() {
		logger.Warn("JWT verification disabled; provider routes are open")
	}

	mux := runtime.NewBaseMux(checks...)
	mux.Handle("/metrics", metrics.Handler(reg))

	clock := func() time.Time { return time.Now().UTC() }
	slotsHandler := handlers.NewSlotsHandler(calculator, logger, clock, cfg.RetryAfter)
	bookingHandler := handlers.NewBookingHandler(guard, logger, cfg.RetryAfter)
	rulesHandler := handlers.NewRulesHandler(rulesRepo, logger)

	mux.HandleFunc("/api/v1/public/slots", slotsHandler.List)
	mux.HandleFunc("/api/v1/public/reserve", bookingHandler.Reserve)
	mux.Handle("/api/v1/bookings", auth.RequireAuth(verifier, http.HandlerFunc(bookingHandler.List)))
	mux.Handle("/api/v1/bookings/get", auth.RequireAuth(verifier, http.HandlerFunc(bookingHandler.Get)))
	mux.Handle("/api/v1/bookings/cancel", auth.RequireAuth(verifier, http.HandlerFunc(bookingHandler.Cancel)))
	mux.Handle("/api/v1/bookings/outcome", auth.RequireAuth(verifier, http.HandlerFunc(bookingHandler.Outcome)))
	mux.Handle("/api/v1/availability/rules", auth.RequireAuth(verifier, rulesHandler))

	var limiter httpx.Middleware
	if rdb != nil {
		limiter = httpx.NewRedisRateLimiter(rdb, cfg.RateLimit, cfg.RateLimitWindow, "rl:public").Middleware(logger, true)
	} else {
		limiter = httpx.NewRateLimiter(cfg.RateLimit, cfg.RateLimitWindow).Middleware()
	}

	var httpHandler http.Handler = httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSFromList(cfg.CORSOrigins)),
		httpx.OnPrefix("/api/v1/public/", limiter),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(cfg.RequestTimeout),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, cfg.Name)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		return runtime.ServeHTTP(gctx, srv, cfg.ShutdownGrace, logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("service stopped")
	return nil
}

func jwksClient(url string) *auth.JWKSClient {
	if url == "" {
		return nil
	}
	return auth.NewJWKSClient(url, 5*time.Minute)
}
