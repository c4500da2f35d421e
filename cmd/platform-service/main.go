package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ticketing-escrow/internal/auth"
	"ticketing-escrow/internal/config"
	"ticketing-escrow/internal/escrow"
	"ticketing-escrow/internal/logger"
	"ticketing-escrow/internal/notify"
	notifykafka "ticketing-escrow/internal/notify/kafka"
	"ticketing-escrow/internal/passes"
	"ticketing-escrow/internal/platform"
	"ticketing-escrow/internal/platform/api"
	"ticketing-escrow/internal/pricing"
	"ticketing-escrow/internal/store"
)

func openJournal(ctx context.Context, dsn string, log *logger.Logger) *store.Journal {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open SQLite journal: %v", err))
	}
	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to SQLite journal: %v", err))
	}

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	journal := store.NewJournal(bunDB)
	if err := journal.Init(ctx); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to create journal tables: %v", err))
	}

	log.Info("DATABASE", fmt.Sprintf("✅ SQLite journal ready at %s", dsn))
	return journal
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Escrow Platform Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx := context.Background()

	journal := openJournal(ctx, cfg.Database.DSN, log)
	defer journal.Bun.Close()

	// The quote cache survives oracle outages inside the freshness window.
	// Redis is optional; without it a process-local cache serves the same role.
	var quoteCache pricing.QuoteCache = pricing.NewMemoryQuoteCache()
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("REDIS", fmt.Sprintf("Redis unavailable, falling back to in-memory quote cache: %v", err))
		} else {
			log.Info("REDIS", fmt.Sprintf("✅ Redis connection successful to %s", cfg.Redis.Addr))
			quoteCache = pricing.NewRedisQuoteCache(redisClient, cfg.Oracle.MaxQuoteAge, log)
			defer redisClient.Close()
		}
	}

	sinks := []notify.Sink{journal}
	if cfg.Kafka.Enabled {
		if err := notifykafka.EnsureTopicExists(cfg.Kafka.Brokers, cfg.Kafka.Topic); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer := notifykafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		sinks = append(sinks, producer)
		log.Info("KAFKA", fmt.Sprintf("Notification mirror publishing to %s", cfg.Kafka.Topic))
	}

	notifyLog := notify.NewLog(log, sinks...)

	httpClient := &http.Client{Timeout: 10 * time.Second}
	quoter := pricing.NewAdapter(
		pricing.NewHTTPRateSource(cfg.Oracle.URL, httpClient, log),
		quoteCache,
		cfg.Oracle.MaxQuoteAge,
		log,
	)

	ledger := escrow.NewLedger()
	registry := platform.NewRegistry(platform.Config{
		Quoter:        quoter,
		Ledger:        ledger,
		Log:           notifyLog,
		Logger:        log,
		ServiceFeeBps: cfg.Fees.ServiceFeeBps,
		RefundExcess:  cfg.Fees.RefundExcess,
	})

	handler := &api.Handler{
		Registry: registry,
		Ledger:   ledger,
		Log:      notifyLog,
		Journal:  journal,
		Passes:   passes.NewGenerator(os.Getenv("PASS_SECRET")),
		Logger:   log,
	}

	log.Info("HTTP", "Setting up router and middleware")
	router := handler.Router(auth.Middleware())

	server := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Escrow Platform Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "✅ Escrow Platform Service shutdown complete")
	}
}
