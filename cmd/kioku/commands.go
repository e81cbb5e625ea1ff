package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/mcp"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/server"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/watcher"
)

// joinArgs joins positional args so multi-word text works with or without quotes.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid record id %q", s)
	}
	return id, nil
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.open(ctx, true)
			if err != nil {
				return err
			}
			defer c.Close()

			if a.cfg.Watch.Config && a.loadedFrom != "" {
				reloader := watcher.NewProviderReloader(c.Search, a.cfg.Embedding, nil, a.logger)
				w := watcher.NewWatcher(a.loadedFrom, reloader.Reload, watcher.WithLogger(a.logger))
				if err := w.Start(ctx); err != nil {
					a.logger.Warn("config watch disabled", zap.Error(err))
				} else {
					defer w.Stop()
				}
			}

			srv := server.NewServer(c.Indexer, c.Search, c.Storage, a.cfg, a.logger)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return fmt.Errorf("server failed: %w", err)
			case <-ctx.Done():
			}
			a.logger.Info("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}
}

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer c.Close()
			s := mcp.New(mcp.Config{
				Indexer: c.Indexer,
				Search:  c.Search,
				Storage: c.Storage,
				Config:  a.cfg,
				Logger:  a.logger,
				Version: version,
			})
			return s.ServeStdio()
		},
	}
}

func newAddCmd(a *app) *cobra.Command {
	var itemType string
	cmd := &cobra.Command{
		Use:   "add <text>",
		Short: "Save a note, task or resource",
		Example: `  kioku add @task renew passport before June
  kioku add https://pkg.go.dev/net/http
  kioku add --type note "standup moved to 10:30"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			in := &models.RecordInput{Content: joinArgs(args), Type: itemType}
			out := cmd.OutOrStdout()

			if c := a.client(); c != nil {
				resp, err := c.AddRecord(ctx, in)
				if err != nil {
					return err
				}
				if !resp.Indexed {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: saved but not indexed: %s\n", resp.Error)
				}
				return cli.WriteRecord(out, resp.Record, a.format)
			}

			comps, err := a.open(ctx, true)
			if err != nil {
				return err
			}
			defer comps.Close()
			rec, err := comps.Indexer.AddRecord(ctx, in)
			if rec == nil {
				return err
			}
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: saved but not indexed (run `kioku rebuild` later): %v\n", err)
			}
			return cli.WriteRecord(out, rec, a.format)
		},
	}
	cmd.Flags().StringVarP(&itemType, "type", "t", "", "force the type: note, task or resource")
	return cmd
}

func newSearchCmd(a *app) *cobra.Command {
	var (
		limit     int
		threshold float64
		text      bool
		fuzzy     bool
		itemType  string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find records by meaning",
		Long: `Search embeds the query and returns the most similar records, best first.
Use --text for keyword search (with --fuzzy for typo tolerance).`,
		Example: `  kioku search what did I want to read about databases
  kioku search --threshold 0.4 --limit 20 dentist
  kioku search --text --fuzzy pasport`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			q := &models.SearchQuery{Query: joinArgs(args), Limit: limit}
			if cmd.Flags().Changed("threshold") {
				q.Threshold = &threshold
			}
			if err := q.Validate(a.cfg.Search.DefaultLimit, a.cfg.Search.MaxLimit); err != nil {
				return err
			}
			if text {
				return a.runTextSearch(cmd, q, itemType, fuzzy)
			}

			var resp *models.SearchResponse
			if c := a.client(); c != nil {
				r, err := c.Search(ctx, q)
				if err != nil {
					return err
				}
				resp = r
			} else {
				comps, err := a.open(ctx, true)
				if err != nil {
					return err
				}
				defer comps.Close()
				resp, err = comps.Search.Search(ctx, q.Query, q.Limit, q.ThresholdOr(a.cfg.Search.DefaultThreshold))
				if err != nil {
					if search.Kind(err) == search.KindEmbeddingUnavailable {
						return fmt.Errorf("%w (try --text for keyword search)", err)
					}
					return err
				}
			}
			return cli.WriteSearchResults(cmd.OutOrStdout(), resp, a.format)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&limit, "limit", "n", 0, "maximum results (default from config)")
	f.Float64Var(&threshold, "threshold", 0, "minimum cosine similarity (default from config)")
	f.BoolVar(&text, "text", false, "keyword search instead of semantic search")
	f.BoolVar(&fuzzy, "fuzzy", false, "typo-tolerant keyword search (with --text)")
	f.StringVarP(&itemType, "type", "t", "", "keyword search only: filter by type")
	return cmd
}

func (a *app) runTextSearch(cmd *cobra.Command, q *models.SearchQuery, itemType string, fuzzy bool) error {
	ctx := cmd.Context()
	var results []*models.SearchResult
	start := time.Now()
	if c := a.client(); c != nil {
		r, err := c.TextSearch(ctx, q.Query, q.Limit, itemType, fuzzy)
		if err != nil {
			return err
		}
		results = r
	} else {
		opts := &keyword.SearchOptions{FuzzyEnabled: fuzzy}
		if itemType != "" {
			kind, err := models.ParseItemType(itemType)
			if err != nil {
				return err
			}
			opts.Type = kind
		}
		comps, err := a.open(ctx, false)
		if err != nil {
			return err
		}
		defer comps.Close()
		if results, err = comps.Indexer.TextSearch(ctx, q.Query, q.Limit, opts); err != nil {
			return err
		}
	}
	return cli.WriteSearchResults(cmd.OutOrStdout(), &models.SearchResponse{
		Results:   results,
		Total:     len(results),
		Query:     q.Query,
		QueryTime: time.Since(start).Milliseconds(),
	}, a.format)
}

func newListCmd(a *app) *cobra.Command {
	var (
		itemType string
		pending  bool
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			filter := models.ListFilter{PendingOnly: pending, Limit: limit}
			if itemType != "" {
				kind, err := models.ParseItemType(itemType)
				if err != nil {
					return err
				}
				filter.Type = kind
			}
			var recs []*models.Record
			if c := a.client(); c != nil {
				r, err := c.ListRecords(ctx, filter)
				if err != nil {
					return err
				}
				recs = r
			} else {
				comps, err := a.open(ctx, false)
				if err != nil {
					return err
				}
				defer comps.Close()
				if recs, err = comps.Storage.ListRecords(ctx, filter); err != nil {
					return err
				}
			}
			return cli.WriteRecords(cmd.OutOrStdout(), recs, a.format)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&itemType, "type", "t", "", "filter by type: note, task or resource")
	f.BoolVar(&pending, "pending", false, "only tasks that are not completed")
	f.IntVarP(&limit, "limit", "n", 20, "maximum records")
	return cmd
}

func newCompleteCmd(a *app) *cobra.Command {
	var reopen bool
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a task as done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var rec *models.Record
			if c := a.client(); c != nil {
				rec, err = c.SetCompleted(ctx, id, !reopen)
			} else {
				comps, openErr := a.open(ctx, false)
				if openErr != nil {
					return openErr
				}
				defer comps.Close()
				rec, err = comps.Indexer.SetCompleted(ctx, id, !reopen)
			}
			if err != nil {
				return err
			}
			return cli.WriteRecord(cmd.OutOrStdout(), rec, a.format)
		},
	}
	cmd.Flags().BoolVar(&reopen, "reopen", false, "reopen a completed task")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if c := a.client(); c != nil {
				err = c.DeleteRecord(ctx, id)
			} else {
				comps, openErr := a.open(ctx, false)
				if openErr != nil {
					return openErr
				}
				defer comps.Close()
				err = comps.Indexer.DeleteRecord(ctx, id)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Record deleted: %d\n", id)
			return nil
		},
	}
}

func newRebuildCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Re-embed every record with the configured provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var (
				report *models.RebuildReport
				err    error
			)
			if c := a.client(); c != nil {
				report, err = c.Rebuild(ctx)
			} else {
				comps, openErr := a.open(ctx, false)
				if openErr != nil {
					return openErr
				}
				defer comps.Close()
				report, err = comps.Indexer.RebuildAll(ctx)
			}
			if err != nil {
				if errors.Is(err, search.ErrEmbeddingUnavailable) {
					return fmt.Errorf("%w; the previous index was kept", err)
				}
				return err
			}
			return cli.WriteRebuildReport(cmd.OutOrStdout(), report, a.format)
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show record counts and index status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st := &cli.Status{}
			if c := a.client(); c != nil {
				if err := c.Stats(ctx, st); err != nil {
					return err
				}
				return cli.WriteStats(cmd.OutOrStdout(), st, a.format)
			}
			comps, err := a.open(ctx, false)
			if err != nil {
				return err
			}
			defer comps.Close()
			if st.Records, err = comps.Storage.Stats(ctx); err != nil {
				return err
			}
			st.Index = comps.Search.Stats()
			if n, err := storage.DiskUsageBytes(a.cfg.Storage.DatabasePath, a.cfg.Storage.IndexPath, a.cfg.Storage.KeywordIndexPath); err == nil {
				st.Records.DiskUsageBytes = n
			}
			return cli.WriteStats(cmd.OutOrStdout(), st, a.format)
		},
	}
}
