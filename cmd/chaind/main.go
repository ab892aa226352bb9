// Package main provides the entry point for the audit chain server
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/trustledger/go-core/internal/alert"
	"github.com/trustledger/go-core/internal/api/rest"
	"github.com/trustledger/go-core/internal/chain"
	"github.com/trustledger/go-core/internal/config"
	"github.com/trustledger/go-core/internal/db"
	"github.com/trustledger/go-core/internal/lease"
	"github.com/trustledger/go-core/internal/metrics"
	"github.com/trustledger/go-core/internal/scheduler"
	"github.com/trustledger/go-core/internal/store"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		configPath      = flag.String("config", "", "Path to YAML config file")
		showVersion     = flag.Bool("version", false, "Show version information")
		gracefulTimeout = flag.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("chaind %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting audit chain server",
		zap.String("version", Version),
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("store_backend", cfg.StoreBackend),
	)

	m := metrics.New("trustledger")

	// Record store
	var recordStore store.Store
	switch cfg.StoreBackend {
	case "postgres":
		sqlDB, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("Failed to open database", zap.Error(err))
		}
		defer sqlDB.Close()

		runner, err := db.NewMigrationRunner(sqlDB, logger)
		if err != nil {
			logger.Fatal("Failed to create migration runner", zap.Error(err))
		}
		if err := runner.Up(); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}

		recordStore = store.NewPostgresStore(sqlDB)
	case "memory":
		logger.Warn("Using in-memory store; records will not survive a restart")
		recordStore = store.NewMemoryStore()
	}

	// Optional redis: distributed writer lease + alert sink
	var redisClient *redis.Client
	var writerOpts []chain.WriterOption
	writerOpts = append(writerOpts, chain.WithWriterMetrics(m))
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		cancel()

		writerOpts = append(writerOpts, chain.WithLease(lease.NewRedisLease(redisClient, nil)))
		logger.Info("Distributed writer lease enabled", zap.String("redis_addr", cfg.RedisAddr))
	}

	writer := chain.NewWriter(recordStore, logger, writerOpts...)
	verifier := chain.NewVerifier(recordStore, logger, chain.WithVerifierMetrics(m))

	// Alert sinks
	sinks := []alert.Sink{alert.NewStdoutSink()}
	if cfg.AlertFile != "" {
		fileSink, err := alert.NewFileSink(cfg.AlertFile, cfg.AlertFileMaxSizeMB, cfg.AlertFileMaxAgeDays, cfg.AlertFileMaxBackups)
		if err != nil {
			logger.Fatal("Failed to create alert file sink", zap.Error(err))
		}
		sinks = append(sinks, fileSink)
	}
	if redisClient != nil {
		sinks = append(sinks, alert.NewRedisSink(redisClient, ""))
	}
	defer func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}()

	// Scheduled integrity checks
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New(scheduler.Config{
		Interval: cfg.VerifyInterval,
		Workers:  cfg.VerifyWorkers,
	}, recordStore, verifier, sinks, logger, m)
	sched.Start(ctx)

	// REST server
	restCfg := rest.DefaultConfig()
	restCfg.Port = cfg.HTTPPort
	restCfg.Version = Version

	auth := rest.NewAuthenticator(cfg.AuthSecret, cfg.AuthDisabled)
	srv, err := rest.New(restCfg, writer, verifier, recordStore, auth, m, logger)
	if err != nil {
		logger.Fatal("Failed to create REST server", zap.Error(err))
	}

	errChan := make(chan error, 1)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		logger.Error("Server error", zap.Error(err))
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	}

	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), *gracefulTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}

	logger.Info("Server stopped")
}

// initLogger creates a zap logger with the given level and format
func initLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	if format == "console" {
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	return zapCfg.Build()
}
