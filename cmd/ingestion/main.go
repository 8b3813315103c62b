// Command ingestion runs the catalog ingestion pipeline.
//
// It scans the RDF source directory, parses every catalog file, builds the
// index and atomically publishes it to the canonical path. Each run writes a
// log under the catalog log directory. When PostgreSQL or Kafka are enabled
// the run is recorded in the history table and announced on the
// index-published topic. When running on an interval it also serves run
// control (POST /runs, POST /rollback, GET /status) on the admin port.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml] [-mode full|delta] [-interval 1h]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/ingestion/history"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/ingestion/pipeline"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	modeFlag := flag.String("mode", "full", "ingestion mode: full or delta")
	interval := flag.Duration("interval", 0, "repeat runs at this interval (0 runs once); overrides ingestion.interval")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	mode, ok := pipeline.ParseMode(*modeFlag)
	if !ok {
		slog.Error("unknown mode", "mode", *modeFlag)
		os.Exit(2)
	}
	every := cfg.Ingestion.Interval
	if *interval > 0 {
		every = *interval
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	if cfg.Metrics.Enabled && every > 0 {
		shutdown := metrics.StartServer("ingestion", cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer shutdown(context.Background())
	}

	var pubOpts []publisher.Option
	if cfg.Postgres.Enabled {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store := history.New(db)
		if err := store.Migrate(ctx); err != nil {
			slog.Error("failed to migrate run history", "error", err)
			os.Exit(1)
		}
		pubOpts = append(pubOpts, publisher.WithHistory(store))
		slog.Info("run history enabled", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexPublished)
		defer producer.Close()
		pubOpts = append(pubOpts, publisher.WithEvents(producer))
		slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.IndexPublished)
	}

	p := pipeline.New(pipeline.ConfigFrom(cfg),
		pipeline.WithMetrics(m),
		pipeline.WithNotifier(publisher.New(cfg.Catalog.IndexPath, pubOpts...)),
	)

	slog.Info("starting ingestion",
		"mode", mode,
		"source_dir", cfg.Catalog.SourceDir,
		"index_path", cfg.Catalog.IndexPath,
		"workers", cfg.Ingestion.Workers,
		"interval", every,
	)

	if every <= 0 {
		if err := runOnce(ctx, p, mode); err != nil {
			os.Exit(1)
		}
		return
	}

	admin := adminServer(cfg, p, m)
	go func() {
		slog.Info("run control listening", "addr", admin.Addr)
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = admin.Shutdown(shutdownCtx)
	}()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		_ = runOnce(ctx, p, mode)
		select {
		case <-ctx.Done():
			slog.Info("ingestion stopped")
			return
		case <-ticker.C:
		}
	}
}

func runOnce(ctx context.Context, p *pipeline.Pipeline, mode pipeline.Mode) error {
	report, err := p.Run(ctx, mode)
	switch {
	case errors.Is(err, apperrors.ErrBusy):
		slog.Warn("previous run still in progress, skipping")
		return err
	case err != nil:
		return err
	}
	if report.Counts.Failed > 0 {
		slog.Warn("some files could not be parsed", "failed", report.Counts.Failed, "run_id", report.RunID)
	}
	return nil
}

func adminServer(cfg *config.Config, p *pipeline.Pipeline, m *metrics.Metrics) *http.Server {
	checker := health.NewChecker()
	checker.Register("pipeline", func(context.Context) health.ComponentHealth {
		if p.State() == pipeline.StateFailed {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "last run failed"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: p.State().String()}
	})

	mux := http.NewServeMux()
	handler.New(p).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	return &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Ingestion.AdminPort),
		Handler:     chain,
		ReadTimeout: cfg.Server.ReadTimeout,
	}
}
