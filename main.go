package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"ybcstore/auth"
	"ybcstore/config"
	"ybcstore/ledger"
	"ybcstore/middleware"
	"ybcstore/models"
	"ybcstore/observability"
	"ybcstore/observability/logging"
	telemetry "ybcstore/observability/otel"
	"ybcstore/server"
	"ybcstore/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to configuration file")
	flag.Parse()

	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			log.Fatalf("ybcstore: load config: %v", err)
		}
		cfg = loaded
	}

	logger := logging.Setup("ybcstore", cfg.Environment, cfg.LogLevel)

	if cfg.Telemetry.Metrics || cfg.Telemetry.Traces {
		headers := cfg.Telemetry.Headers
		if len(headers) == 0 {
			headers = telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
		}
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: "ybcstore",
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     headers,
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			log.Fatalf("ybcstore: init telemetry: %v", err)
		}
		defer func() {
			_ = shutdownTelemetry(context.Background())
		}()
	}

	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("ybcstore: open database: %v", err)
	}

	engine, err := ledger.NewEngine(cfg.Tiers, cfg.ReferralRates)
	if err != nil {
		log.Fatalf("ybcstore: configure ledger: %v", err)
	}
	store := storage.New(db, engine)

	authMW := auth.NewMiddleware(auth.Options{
		Secret:   cfg.Auth.Secret(),
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		Leeway:   cfg.Auth.Leeway.Duration,
	})
	if len(cfg.Auth.Secret()) == 0 && cfg.Environment != "dev" {
		log.Fatalf("ybcstore: a JWT secret is required outside dev")
	}

	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		"reads":  {RequestsPerMinute: cfg.RateLimits.Reads.RequestsPerMinute, Burst: cfg.RateLimits.Reads.Burst},
		"writes": {RequestsPerMinute: cfg.RateLimits.Writes.RequestsPerMinute, Burst: cfg.RateLimits.Writes.Burst},
	}, logger)

	srv := server.New(server.Config{
		DB:          db,
		Store:       store,
		Auth:        authMW,
		RateLimiter: limiter,
		Logger:      logger,
		Tracing:     cfg.Telemetry.Traces,
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go retentionSweep(rootCtx, store, cfg.Retention)

	if err := srv.Run(rootCtx, cfg.ListenAddress); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("http server exited", "error", err)
		os.Exit(1)
	}
}

// openDatabase connects to Postgres when a URL is configured and falls back
// to an embedded sqlite file for local development.
func openDatabase(url string) (*gorm.DB, error) {
	url = strings.TrimSpace(url)
	var db *gorm.DB
	var err error
	if url == "" || strings.HasPrefix(url, "sqlite:") {
		path := strings.TrimPrefix(url, "sqlite:")
		if path == "" {
			path = "ybcstore.db"
		}
		db, err = gorm.Open(sqlite.Open(path), &gorm.Config{})
	} else {
		db, err = gorm.Open(postgres.Open(url), &gorm.Config{})
	}
	if err != nil {
		return nil, err
	}
	if err := models.AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func retentionSweep(ctx context.Context, store *storage.Store, cfg config.RetentionConfig) {
	ticker := time.NewTicker(cfg.Interval.Duration)
	defer ticker.Stop()
	metrics := observability.Metrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := store.PruneEvents(ctx, cfg.MaxAge.Duration)
			if err != nil {
				log.Printf("ybcstore: prune events: %v", err)
				continue
			}
			if pruned > 0 {
				metrics.PrunedEvents.Add(float64(pruned))
			}
		}
	}
}
