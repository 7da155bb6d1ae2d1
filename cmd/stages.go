// Package cmd defines and implements the CLI commands for the
// citecrawl executable.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/miscite/citecrawl/internal/api"
	"github.com/miscite/citecrawl/internal/config"
	"github.com/miscite/citecrawl/internal/crawl"
	"github.com/miscite/citecrawl/internal/discover"
	"github.com/miscite/citecrawl/internal/ledger"
	"github.com/miscite/citecrawl/internal/scheduler"
	"github.com/miscite/citecrawl/internal/scopus"
	"github.com/miscite/citecrawl/internal/session"
	"github.com/miscite/citecrawl/internal/titles"
)

// Per-stage ledgers. The citing tree nests the miscited candidate
// under the cited seed document, and its report columns carry those
// roles: the parent key is the cited EID, the unit key the miscited
// candidate whose cited-by list is exported.
func miscitedLedger(paths config.PathsConfig) (*ledger.Store, error) {
	return ledger.New(paths.MiscitedDir, []string{"EID"})
}

func citingLedger(paths config.PathsConfig) (*ledger.Store, error) {
	return ledger.New(paths.CitingDir, []string{"Cited EID", "Miscited EID"})
}

func referencesLedger(paths config.PathsConfig) (*ledger.Store, error) {
	return ledger.New(paths.ReferencesDir, []string{"Citing EID"})
}

// buildPool constructs and starts the shared browser session. The
// caller owns the returned pool and must Close it.
func buildPool(ctx context.Context, app *App) (*session.Pool, error) {
	store, err := session.NewCookieStore(app.Cfg.Session.CookiesPath)
	if err != nil {
		return nil, fmt.Errorf("open cookie store: %w", err)
	}
	provider, err := session.NewScriptedLogin(app.Cfg.Session, store, app.Logger.Named("login"))
	if err != nil {
		return nil, fmt.Errorf("init login provider: %w", err)
	}
	pool, err := session.NewPool(app.Cfg.Session, provider, store, app.Logger.Named("session"))
	if err != nil {
		return nil, fmt.Errorf("init session pool: %w", err)
	}
	if err := pool.Start(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("start session: %w", err)
	}
	return pool, nil
}

// runBrowserStage wires the shared machinery around one stage: ledger,
// session pool, optional status listener, and the chunked scheduler.
func runBrowserStage(cmd *cobra.Command, stage string, units []crawl.WorkUnit, store *ledger.Store, build func(pool *session.Pool) crawl.Executor) error {
	app, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := app.Logger.Named(stage)

	if len(units) == 0 {
		logger.Info("no work units discovered, nothing to do")
		return nil
	}

	pool, err := buildPool(cmd.Context(), app)
	if err != nil {
		return err
	}
	defer pool.Close()

	sched, err := scheduler.New(scheduler.Config{
		Stage:       stage,
		ChunkSize:   app.Cfg.Crawl.ChunkSize,
		Concurrency: app.Cfg.Crawl.Concurrency,
		MaxAttempts: app.Cfg.Crawl.MaxAttempts,
		RetryDelay:  app.Cfg.Crawl.RetryDelay(),
	}, store, build(pool), pool, logger)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	if addr := app.Cfg.API.ListenAddr; addr != "" {
		server := api.New(addr, sched.RunID(), stage, func() []crawl.UnitReport {
			return store.Report(units)
		}, app.Logger.Named("api"))
		server.Start(cmd.Context())
	}

	stats, err := sched.Run(cmd.Context(), units)
	if err != nil {
		return fmt.Errorf("run %s stage: %w", stage, err)
	}
	logger.Info("stage complete",
		zap.Int("skipped", stats.Skipped),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("empty", stats.Empty),
		zap.Int("failed", stats.Failed))
	return nil
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Performs an interactive login and persists the session cookies",
		Long: `Drives the institutional login flow in a browser and writes the
resulting cookie bundle to the configured cookies path. Later stage
commands reuse the bundle and only log in again when it is rejected.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			pool, err := buildPool(cmd.Context(), app)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := pool.Refresh(cmd.Context()); err != nil {
				return fmt.Errorf("login: %w", err)
			}
			app.Logger.Info("session cookies persisted",
				zap.String("path", app.Cfg.Session.CookiesPath))
			return nil
		},
	}
}

func newTitlesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "titles",
		Short: "Resolves document titles for the seed EIDs",
		Long: `Fetches the title of every seed document over HTTP using the shared
session cookies and writes them to the titles CSV. Already resolved
rows are skipped, so the command is safe to re-run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			logger := app.Logger.Named("titles")

			seeds, err := titles.LoadSeeds(app.Cfg.Paths.SeedCSV)
			if err != nil {
				return err
			}

			pool, err := buildPool(cmd.Context(), app)
			if err != nil {
				return err
			}
			defer pool.Close()

			fetcher, err := titles.NewFetcher(app.Cfg.Titles, app.Cfg.Scopus.DocURL,
				app.Cfg.Session.UserAgent, pool, pool, logger)
			if err != nil {
				return fmt.Errorf("init title fetcher: %w", err)
			}
			stage := titles.NewStage(fetcher, app.Cfg.Paths.TitlesCSV, app.Cfg.Titles, logger)
			if err := stage.Run(cmd.Context(), seeds); err != nil {
				return fmt.Errorf("run titles stage: %w", err)
			}
			return nil
		},
	}
}

func newMiscitedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "miscited",
		Short: "Exports search results that may miscite each seed document",
		Long: `For every seed document with a resolved title, searches the index by
that title and exports the result list to the miscited downloads tree.
Units already marked done are skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			rows, err := discover.FromCSV(app.Cfg.Paths.TitlesCSV)
			if err != nil {
				return err
			}
			titleByEID := usableTitles(rows)
			var units []crawl.WorkUnit
			for _, row := range rows {
				if _, ok := titleByEID[row.EID]; ok {
					units = append(units, crawl.WorkUnit{UnitKey: row.EID})
				}
			}

			store, err := miscitedLedger(app.Cfg.Paths)
			if err != nil {
				return err
			}

			return runBrowserStage(cmd, "miscited", units, store, func(pool *session.Pool) crawl.Executor {
				return scopus.NewMiscitedExecutor(pool, app.Cfg.Scopus.BaseURL, titleByEID,
					app.Cfg.Crawl, app.Logger.Named("miscited"))
			})
		},
	}
}

func newCitingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "citing",
		Short: "Exports the documents citing each miscited candidate",
		Long: `Walks the miscited downloads tree, and for every candidate row in it
exports the list of documents citing that candidate into the citing
downloads tree.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			units, err := discover.FromTree(app.Cfg.Paths.MiscitedDir, app.Logger.Named("discover"))
			if err != nil {
				return err
			}

			store, err := citingLedger(app.Cfg.Paths)
			if err != nil {
				return err
			}

			return runBrowserStage(cmd, "citing", units, store, func(pool *session.Pool) crawl.Executor {
				return scopus.NewCitingExecutor(pool, app.Cfg.Scopus.BaseURL,
					app.Cfg.Crawl, app.Logger.Named("citing"))
			})
		},
	}
}

func newReferencesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "references",
		Short: "Exports the reference list of each citing document",
		Long: `Walks the citing downloads tree, and for every citing document found
in it exports that document's reference list into the references
downloads tree.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			rows, err := discover.FromNestedTree(app.Cfg.Paths.CitingDir, app.Logger.Named("discover"))
			if err != nil {
				return err
			}
			units := discover.Units(dedupeRows(rows))

			store, err := referencesLedger(app.Cfg.Paths)
			if err != nil {
				return err
			}

			return runBrowserStage(cmd, "references", units, store, func(pool *session.Pool) crawl.Executor {
				return scopus.NewReferencesExecutor(pool, app.Cfg.Scopus.BaseURL,
					app.Cfg.Crawl, app.Logger.Named("references"))
			})
		},
	}
}

// usableTitles keeps rows whose Title column holds a real title, not
// a placeholder written by the titles stage.
func usableTitles(rows []discover.Row) map[string]string {
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		switch row.Title {
		case "", "Error", "404 Not Found", "Title not found":
			continue
		}
		out[row.EID] = row.Title
	}
	return out
}

// dedupeRows keeps the first occurrence of each EID, preserving order.
// The same citing document can appear under several candidates.
func dedupeRows(rows []discover.Row) []discover.Row {
	seen := make(map[string]struct{}, len(rows))
	out := rows[:0:0]
	for _, row := range rows {
		if _, ok := seen[row.EID]; ok {
			continue
		}
		seen[row.EID] = struct{}{}
		out = append(out, row)
	}
	return out
}
