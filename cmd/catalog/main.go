// Command catalog serves the published book catalog over HTTP.
//
// It loads the canonical index at startup (an unpublished catalog is served
// as uninitialized), answers GET /books and GET /books/{id}, and reloads the
// snapshot whenever an index-published event arrives on Kafka or the process
// receives SIGHUP.
//
// Usage:
//
//	go run ./cmd/catalog [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/indexer/snapshot"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/ratelimit"
	pkgredis "github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/redis"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting catalog service", "port", cfg.Server.Port, "index_path", cfg.Catalog.IndexPath)

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer("catalog", cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer shutdown(context.Background())
	}

	store := snapshot.NewStore(cfg.Catalog.IndexPath, cfg.Ingestion.KeepPrevious)
	svc := query.New(store, cfg.Query.PageSize, query.WithMetrics(m))
	if err := svc.Load(); err != nil {
		slog.Error("failed to load catalog index", "error", err)
		os.Exit(1)
	}

	var queryCache *cache.QueryCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, list caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			slog.Info("list cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reload := func(reason string) {
		if err := svc.Load(); err != nil {
			slog.Error("catalog reload failed, keeping current snapshot", "reason", reason, "error", err)
			return
		}
		slog.Info("catalog reloaded", "reason", reason, "generation", svc.Generation(), "fingerprint", svc.Status().Fingerprint)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				reload("sighup")
			}
		}
	}()

	if cfg.Kafka.Enabled {
		host, _ := os.Hostname()
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexPublished, cfg.Kafka.ConsumerGroup+"-"+host,
			func(ctx context.Context, key, value []byte) error {
				event, err := kafka.DecodeJSON[publisher.IndexPublishedEvent](value)
				if err != nil {
					return err
				}
				reload("index published by run " + event.RunID)
				return nil
			})
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("index event consumer error", "error", err)
			}
		}()
		slog.Info("index event consumer started", "topic", cfg.Kafka.Topics.IndexPublished)
	}

	checker := health.NewChecker()
	checker.Register("catalog", func(ctx context.Context) health.ComponentHealth {
		st := svc.Status()
		if !st.Initialized {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "no index published yet"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d records", st.Records)}
	})
	if cfg.Redis.Enabled {
		checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
			if redisClient == nil {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: "not connected"}
			}
			if err := redisClient.Ping(ctx); err != nil {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
	}

	h := handler.New(svc, queryCache)
	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var limiter *ratelimit.Limiter
	if cfg.Server.RateLimit > 0 {
		limiter = ratelimit.New(cfg.Server.RateLimit, time.Minute)
		go limiter.RunCleanup(ctx, 5*time.Minute)
	}

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RateLimit(limiter)(chain)
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.CORS(cfg.CORS)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("catalog service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("catalog service stopped")
}
