// Package publisher announces finished ingestion runs: it records each run
// in the history store and publishes an index-published event to Kafka so
// catalog services reload the new snapshot. Failures are logged and never
// affect the run that triggered them.
package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/ingestion/runlog"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/resilience"
)

// IndexPublishedEvent is the Kafka payload sent after a snapshot is
// published.
type IndexPublishedEvent struct {
	RunID       string    `json:"run_id"`
	Mode        string    `json:"mode"`
	IndexPath   string    `json:"index_path"`
	Records     int       `json:"records"`
	ParseErrors int       `json:"parse_errors"`
	GeneratedAt time.Time `json:"generated_at"`
}

// HistoryRecorder stores run summaries.
type HistoryRecorder interface {
	Record(ctx context.Context, report runlog.Report) error
}

// EventPublisher sends keyed JSON events.
type EventPublisher interface {
	Publish(ctx context.Context, key string, value any) error
}

// Publisher implements pipeline.Notifier.
type Publisher struct {
	indexPath string
	history   HistoryRecorder
	events    EventPublisher
	retry     resilience.RetryConfig
	logger    *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

func WithHistory(h HistoryRecorder) Option {
	return func(p *Publisher) { p.history = h }
}

func WithEvents(e EventPublisher) Option {
	return func(p *Publisher) { p.events = e }
}

func WithRetry(cfg resilience.RetryConfig) Option {
	return func(p *Publisher) { p.retry = cfg }
}

// New creates a Publisher for snapshots published at indexPath.
func New(indexPath string, opts ...Option) *Publisher {
	p := &Publisher{
		indexPath: indexPath,
		retry: resilience.RetryConfig{
			MaxAttempts:  4,
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
		logger: slog.Default().With("component", "publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunCompleted records the run and, when idx is non-nil, announces it.
func (p *Publisher) RunCompleted(ctx context.Context, report runlog.Report, idx *catalog.Index) {
	if p.history != nil {
		err := resilience.Retry(ctx, "record-run", p.retry, func(ctx context.Context) error {
			return p.history.Record(ctx, report)
		})
		if err != nil {
			p.logger.Error("failed to record run history", "run_id", report.RunID, "error", err)
		}
	}
	if idx == nil || p.events == nil {
		return
	}
	event := IndexPublishedEvent{
		RunID:       report.RunID,
		Mode:        report.Mode,
		IndexPath:   p.indexPath,
		Records:     idx.Len(),
		ParseErrors: report.Counts.Failed,
		GeneratedAt: idx.Metadata.GeneratedAt,
	}
	err := resilience.Retry(ctx, "publish-index-event", p.retry, func(ctx context.Context) error {
		return p.events.Publish(ctx, report.RunID, event)
	})
	if err != nil {
		p.logger.Error("failed to publish index event, catalog services keep the old snapshot until restart",
			"run_id", report.RunID,
			"error", err,
		)
		return
	}
	p.logger.Info("index published event sent", "run_id", report.RunID, "records", event.Records)
}
