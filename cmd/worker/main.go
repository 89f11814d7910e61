package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/pibicha/turnitin-admin/internal/app/workflow"
	"github.com/pibicha/turnitin-admin/internal/config"
	"github.com/pibicha/turnitin-admin/internal/domain/submission"
	"github.com/pibicha/turnitin-admin/internal/infra/eventbus/kafka"
	"github.com/pibicha/turnitin-admin/internal/infra/lock"
	"github.com/pibicha/turnitin-admin/internal/infra/storage/reports"
	subStore "github.com/pibicha/turnitin-admin/internal/infra/storage/submission/postgres"
	"github.com/pibicha/turnitin-admin/internal/turnitin"
	"github.com/pibicha/turnitin-admin/pkg/common"
	"github.com/pibicha/turnitin-admin/pkg/common/logger"
	"github.com/pibicha/turnitin-admin/pkg/common/otel"
)

const serviceType = "worker"

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		stdlog.Fatalf("failed to get hostname: %v", err)
	}

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the config file")
	flag.Parse()

	var log *logger.Logger

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("WORKER-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}

	log = logger.NewWithMetadata(os.Stdout, logger.LevelInfo, svcName, traceIDFn, logEvents, metadata)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	prob := 0.1
	if v := os.Getenv("OTEL_SAMPLING_RATIO"); v != "" {
		prob, err = strconv.ParseFloat(v, 64)
		if err != nil {
			log.Error(ctx, "failed to parse OTEL_SAMPLING_RATIO", "error", err)
			os.Exit(1)
		}
	}
	tp, telemetryTeardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      svcName,
		ExporterEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Probability:      prob,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"hostname":         hostname,
		},
		InsecureExporter: true,
	})
	if err != nil {
		log.Error(ctx, "failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer telemetryTeardown(ctx)

	tracer := tp.Tracer(svcName)

	ready := &atomic.Bool{}
	healthServer := common.NewHealthServer(ready)
	defer func() {
		if err := healthServer.Server().Shutdown(ctx); err != nil {
			log.Error(ctx, "Error shutting down health server", "error", err)
		}
	}()

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
	if err != nil {
		log.Error(ctx, "failed to parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.MinConns = cfg.Database.MinConns
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Error(ctx, "failed to open db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := runMigrations(ctx, pool); err != nil {
		log.Error(ctx, "failed to run migrations", "error", err)
		os.Exit(1)
	}
	log.Info(ctx, "Migrations applied successfully. Starting worker...")

	artifacts, err := reports.NewLocalStore(cfg.Media.Dir)
	if err != nil {
		log.Error(ctx, "failed to open artifact store", "error", err)
		os.Exit(1)
	}

	var cookies turnitin.CookieSource
	if cfg.Platform.CookieServiceURL != "" {
		cookies = turnitin.NewSecretServiceCookieSource(cfg.Platform.CookieServiceURL, log)
	} else {
		log.Warn(ctx, "No cookie service configured, using the development bundle")
		cookies = turnitin.NewDevCookieSource()
	}

	settings := subStore.NewSettingsStore(pool, tracer)
	slots := subStore.NewSlotStore(pool, tracer)

	client := turnitin.NewClient(turnitin.Config{
		BaseURL:   cfg.Platform.BaseURL,
		EVURL:     cfg.Platform.EVURL,
		SASURL:    cfg.Platform.SASURL,
		UserID:    cfg.Platform.UserID,
		OrgName:   cfg.Platform.OrgName,
		TimeZone:  cfg.Platform.TimeZone,
		RateLimit: cfg.Platform.RateLimit,
	}, cookies, settings, slots, tracer, log)

	var eventPublisher submission.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaClient, err := kafka.NewClient(&kafka.Config{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			ClientID: svcName,
		})
		if err != nil {
			log.Error(ctx, "failed to create kafka client", "error", err)
			os.Exit(1)
		}
		defer kafkaClient.Close()

		publisher, err := kafka.ConnectPublisher(&kafka.Config{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			ClientID: svcName,
		}, kafkaClient, log, tracer)
		if err != nil {
			log.Error(ctx, "failed to connect kafka publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		eventPublisher = publisher
	}

	locker := lock.NewGuardedLocker(lock.NewPostgresLocker(pool, tracer), int64(cfg.Database.MaxConns))

	scheduler := workflow.NewScheduler(
		subStore.NewSubmissionStore(pool, tracer),
		subStore.NewAccountStore(pool, tracer),
		artifacts,
		client,
		locker,
		eventPublisher,
		tracer,
		log,
	)

	runner := workflow.NewRunner(scheduler, workflow.Intervals{
		Download: cfg.Sweeps.DownloadInterval,
		Upload:   cfg.Sweeps.UploadInterval,
		Failed:   cfg.Sweeps.FailedInterval,
	}, log)

	go func() {
		<-sigCh
		log.Info(ctx, "Shutdown signal received")
		cancel()
	}()

	ready.Store(true)
	runner.Run(ctx)
	log.Info(ctx, "Worker stopped")
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("could not acquire connection: %w", err)
	}
	defer conn.Release()

	db := stdlib.OpenDBFromPool(pool)

	driver, err := pgx.WithInstance(db, &pgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create pgx driver: %w", err)
	}

	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "file://db/migrations"
	}
	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up failed: %w", err)
	}

	return nil
}
