package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ScrapeMux routes the scrape port of one catalog process. /metrics exposes
// the collectors gathered from g and /live answers with the process name so
// a scrape target can be matched to the catalog or ingestion service.
func ScrapeMux(process string, g prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "%s ok\n", process)
	})
	return mux
}

// StartServer serves ScrapeMux for process on port in the background and
// returns the server's shutdown function.
func StartServer(process string, port int, g prometheus.Gatherer) (shutdown func(context.Context) error) {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      ScrapeMux(process, g),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger := slog.Default().With("component", "metrics-scrape", "process", process)

	go func() {
		logger.Info("catalog metrics exposed", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("catalog metrics listener stopped", "error", err)
		}
	}()

	return server.Shutdown
}
