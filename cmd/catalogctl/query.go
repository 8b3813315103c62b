package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/indexer/snapshot"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/searcher/query"
)

// service loads the canonical index from disk into a fresh query.Service.
func (a *app) service() (*query.Service, error) {
	store := snapshot.NewStore(a.cfg.Catalog.IndexPath, a.cfg.Ingestion.KeepPrevious)
	svc := query.New(store, a.cfg.Query.PageSize)
	if err := svc.Load(); err != nil {
		return nil, err
	}
	return svc, nil
}

func (a *app) getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print one record by catalog ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid catalog id %q", args[0])
			}
			svc, err := a.service()
			if err != nil {
				return err
			}
			rec, err := svc.Get(id)
			if err != nil {
				return err
			}
			return writeJSON(cmd, rec)
		},
	}
}

func (a *app) listCommand() *cobra.Command {
	var (
		f         query.Filter
		languages string
		ids       []int
		sortFlag  string
		copyright string
		yearStart int
		yearEnd   int
		page      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Filter and page through the published index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if languages != "" {
				f.Languages = strings.Split(languages, ",")
			}
			f.IDs = ids
			f.Sort = query.Sort(sortFlag)
			if cmd.Flags().Changed("author-year-start") {
				f.AuthorYearStart = &yearStart
			}
			if cmd.Flags().Changed("author-year-end") {
				f.AuthorYearEnd = &yearEnd
			}
			if copyright != "" {
				b, err := strconv.ParseBool(copyright)
				if err != nil {
					return fmt.Errorf("copyright must be true or false")
				}
				f.Copyright = &b
			}

			svc, err := a.service()
			if err != nil {
				return err
			}
			result, err := svc.List(f, page)
			if err != nil {
				return err
			}
			return writeJSON(cmd, result)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&languages, "languages", "", "comma-separated language codes")
	flags.StringVar(&f.Subject, "topic", "", "subject or bookshelf substring")
	flags.StringVar(&f.Author, "author", "", "author name substring")
	flags.StringVarP(&f.Search, "search", "s", "", "search expression over title and authors")
	flags.StringVar(&f.MimeType, "mime-type", "", "format mime type prefix")
	flags.IntSliceVar(&ids, "ids", nil, "catalog IDs")
	flags.StringVar(&sortFlag, "sort", "", "ascending, descending or popular")
	flags.StringVar(&copyright, "copyright", "", "true or false")
	flags.IntVar(&yearStart, "author-year-start", 0, "authors alive at or after this year")
	flags.IntVar(&yearEnd, "author-year-end", 0, "authors alive at or before this year")
	flags.IntVarP(&page, "page", "p", 1, "page number, starting at 1")
	return cmd
}
