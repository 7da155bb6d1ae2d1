package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/miscite/citecrawl/internal/config"
	"github.com/miscite/citecrawl/internal/logging"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App bundles the services every subcommand needs. It is built once in
// the root command's PersistentPreRunE and carried in the command
// context.
type App struct {
	Cfg    config.Config
	Logger *zap.Logger
}

// Close flushes the logger.
func (a *App) Close() {
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
}

// newApp is the application factory. It's a variable so tests can
// replace it with a mock factory.
var newApp = func(_ context.Context) (*App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return &App{Cfg: cfg, Logger: logger}, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "citecrawl",
		Short: "A resumable citation-graph crawler for Scopus.",
		Long: `citecrawl walks a citation graph in stages: it resolves titles for
seed documents, exports the search results that may miscite them, the
documents citing those results, and finally the references of each
citing document. Every stage records per-unit outcomes on disk so an
interrupted run picks up where it left off.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is built-in defaults plus CITECRAWL_* env)")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newTitlesCmd())
	cmd.AddCommand(newMiscitedCmd())
	cmd.AddCommand(newCitingCmd())
	cmd.AddCommand(newReferencesCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*App, error) {
	appInstance, ok := ctx.Value(appKey).(*App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. Any command error exits nonzero;
// per-unit failures inside a stage do not reach here, they are
// recorded in the stage's status ledger instead.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "citecrawl: %v\n", err)
		os.Exit(1)
	}
}
