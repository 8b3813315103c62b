package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/ingestion/history"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/ingestion/pipeline"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/ingestion/runlog"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/postgres"
)

func (a *app) ingestCommand() *cobra.Command {
	var modeFlag string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one ingestion pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, ok := pipeline.ParseMode(modeFlag)
			if !ok {
				return fmt.Errorf("unknown mode %q (want full or delta)", modeFlag)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, cleanup, err := a.pipeline(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := p.Run(ctx, mode)
			if report != nil {
				printReport(cmd, *report)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&modeFlag, "mode", "m", "full", "ingestion mode: full or delta")
	return cmd
}

func (a *app) rollbackCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Restore the previously published index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, cleanup, err := a.pipeline(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			idx, err := p.Rollback(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored run %s (%d records, generated %s)\n",
				idx.Metadata.RunID, idx.Len(), humanize.Time(idx.Metadata.GeneratedAt))
			return nil
		},
	}
}

func (a *app) runsCommand() *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent ingestion runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Postgres.Enabled {
				return a.runsFromHistory(cmd, limit, asJSON)
			}
			paths, err := runlog.List(a.cfg.Catalog.LogDir)
			if err != nil {
				return err
			}
			if len(paths) > limit {
				paths = paths[:limit]
			}
			reports := make([]runlog.Report, 0, len(paths))
			for _, path := range paths {
				r, err := runlog.ReadFile(path)
				if err != nil {
					return err
				}
				reports = append(reports, *r)
			}
			if asJSON {
				return writeJSON(cmd, reports)
			}
			for _, r := range reports {
				printReport(cmd, r)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print runs as JSON")
	return cmd
}

func (a *app) runsFromHistory(cmd *cobra.Command, limit int, asJSON bool) error {
	db, err := postgres.New(a.cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	runs, err := history.New(db).Recent(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(cmd, runs)
	}
	out := cmd.OutOrStdout()
	for _, r := range runs {
		fmt.Fprintf(out, "%s  %-11s %-9s records=%d parsed=%d failed=%d  %s\n",
			r.RunID, r.Mode, r.Outcome, r.Counts.Records, r.Counts.Parsed, r.Counts.Failed,
			humanize.Time(r.StartedAt))
	}
	return nil
}

// pipeline builds a Pipeline wired to run history when PostgreSQL is
// enabled. cleanup releases the database connection.
func (a *app) pipeline(ctx context.Context) (*pipeline.Pipeline, func(), error) {
	cleanup := func() {}
	var pubOpts []publisher.Option
	if a.cfg.Postgres.Enabled {
		db, err := postgres.New(a.cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		store := history.New(db)
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		pubOpts = append(pubOpts, publisher.WithHistory(store))
		cleanup = func() { db.Close() }
	}
	p := pipeline.New(pipeline.ConfigFrom(a.cfg),
		pipeline.WithNotifier(publisher.New(a.cfg.Catalog.IndexPath, pubOpts...)),
	)
	return p, cleanup, nil
}

func printReport(cmd *cobra.Command, r runlog.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s  %-11s %-9s records=%d scanned=%d parsed=%d failed=%d  took %s  %s\n",
		r.RunID, r.Mode, r.Outcome,
		r.Counts.Records, r.Counts.Scanned, r.Counts.Parsed, r.Counts.Failed,
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
		humanize.Time(r.StartedAt),
	)
	if r.Error != "" {
		fmt.Fprintf(out, "  failed while %s: %s\n", r.FailedState, r.Error)
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
