package main

import (
	"errors"
	"time"

	"github.com/tidyslot/tidyslot/libs/config"
)

type serviceConfig struct {
	Name           string
	Port           string
	GRPCPort       string
	LogLevel       string
	DatabaseURL    string
	MigrateOnStart bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers string
	KafkaGroupID string
	BusyTopic    string
	OutboxPoll   time.Duration
	OutboxBatch  int

	GoogleClientID     string
	GoogleClientSecret string

	CalendarFetchTimeout time.Duration
	CalendarCacheTTL     time.Duration
	ReserveTimeout       time.Duration
	RetryAfter           time.Duration
	MaxQueryDays         int
	ListLimit            int

	JWTSecret   string
	JWKSURL     string
	CORSOrigins string

	RateLimit       int
	RateLimitWindow time.Duration
	ShutdownGrace   time.Duration
	RequestTimeout  time.Duration
}

func loadConfig() (serviceConfig, error) {
	cfg := serviceConfig{
		Name:               config.String("SERVICE_NAME", "availability-service"),
		LogLevel:           config.String("LOG_LEVEL", "info"),
		MigrateOnStart:     config.Bool("MIGRATE_ON_START", false),
		RedisAddr:          config.String("REDIS_ADDR", ""),
		RedisPassword:      config.String("REDIS_PASSWORD", ""),
		KafkaBrokers:       config.String("KAFKA_BROKERS", ""),
		KafkaGroupID:       config.String("KAFKA_GROUP_ID", "availability-service"),
		BusyTopic:          config.String("KAFKA_BUSY_CHANGED_TOPIC", "calendar.busy.changed.v1"),
		GoogleClientID:     config.String("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: config.String("GOOGLE_CLIENT_SECRET", ""),
		JWTSecret:          config.String("JWT_SECRET", ""),
		JWKSURL:            config.String("JWKS_URL", ""),
		CORSOrigins:        config.String("CORS_ALLOWED_ORIGINS", ""),
	}

	var errs []error
	var err error
	if cfg.Port, err = config.Port("PORT", "8080"); err != nil {
		errs = append(errs, err)
	}
	if cfg.GRPCPort, err = config.Port("GRPC_PORT", "9090"); err != nil {
		errs = append(errs, err)
	}
	if cfg.DatabaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
		errs = append(errs, err)
	}
	if cfg.RedisDB, err = config.Int("REDIS_DB", 0); err != nil {
		errs = append(errs, err)
	}
	if cfg.OutboxPoll, err = config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.OutboxBatch, err = config.Int("OUTBOX_BATCH_SIZE", 50); err != nil {
		errs = append(errs, err)
	}
	if cfg.CalendarFetchTimeout, err = config.Duration("CALENDAR_FETCH_TIMEOUT", 3*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.CalendarCacheTTL, err = config.Duration("CALENDAR_CACHE_TTL", 60*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.ReserveTimeout, err = config.Duration("RESERVE_TIMEOUT", 3*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.RetryAfter, err = config.Duration("DEGRADED_RETRY_AFTER", 30*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.MaxQueryDays, err = config.Int("SLOTS_MAX_RANGE_DAYS", 93); err != nil {
		errs = append(errs, err)
	}
	if cfg.ListLimit, err = config.Int("BOOKINGS_LIST_LIMIT", 200); err != nil {
		errs = append(errs, err)
	}
	if cfg.RateLimit, err = config.Int("PUBLIC_RATE_LIMIT", 120); err != nil {
		errs = append(errs, err)
	}
	if cfg.RateLimitWindow, err = config.Duration("PUBLIC_RATE_LIMIT_WINDOW", time.Minute); err != nil {
		errs = append(errs, err)
	}
	if cfg.ShutdownGrace, err = config.Duration("SHUTDOWN_GRACE", 10*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.RequestTimeout, err = config.Duration("HTTP_REQUEST_TIMEOUT", 15*time.Second); err != nil {
		errs = append(errs, err)
	}
	return cfg, errors.Join(errs...)
}
