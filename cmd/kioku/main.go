// Package main is the Kioku CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/pkg/utils"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries the persistent flags shared by every command.
type app struct {
	configPath string
	debug      bool
	output     string
	serverURL  string

	cfg        *config.Config
	loadedFrom string
	format     cli.OutputFormat
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "kioku",
		Short: "Personal notes, tasks and resources with semantic search",
		Long: `kioku stores short notes, tasks and resources and finds them again by meaning.

Records are embedded with a configurable provider (Ollama, OpenAI, ONNX) and
searched with exact cosine similarity. Tag text with @task, @note or @res to
set its type, or let kioku guess.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch cmd.Name() {
			case "version", "help", "completion":
				return nil
			}
			if cmd.HasParent() && cmd.Parent().Name() == "completion" {
				return nil
			}
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", defaultConfigPath, "config file path")
	pf.BoolVar(&a.debug, "debug", false, "enable debug logging")
	pf.StringVarP(&a.output, "output", "o", "text", "output format: text or json")
	pf.StringVar(&a.serverURL, "server", "", "use a running kioku server at this URL instead of opening the data files")

	root.AddCommand(
		newServeCmd(a),
		newMCPCmd(a),
		newAddCmd(a),
		newSearchCmd(a),
		newListCmd(a),
		newCompleteCmd(a),
		newDeleteCmd(a),
		newRebuildCmd(a),
		newStatsCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) setup() error {
	format, err := cli.ParseOutputFormat(a.output)
	if err != nil {
		return err
	}
	a.format = format

	cfg, loadedFrom, err := loadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg, a.loadedFrom = cfg, loadedFrom

	logger, err := utils.NewLogger(cfg.Debug || a.debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.logger = logger
	logger.Debug("config loaded",
		zap.String("config_path", loadedFrom),
		zap.String("provider", cfg.Embedding.Fingerprint()))
	return nil
}

// open initializes the local data files. Commands that embed (serve, mcp, add,
// search) reconcile the index with the provider first.
func (a *app) open(ctx context.Context, reconcile bool) (*Components, error) {
	return initializeComponents(ctx, a.cfg, a.logger, reconcile)
}

func (a *app) client() *apiClient {
	if a.serverURL == "" {
		return nil
	}
	return newAPIClient(a.serverURL)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kioku version %s\n", version)
		},
	}
}
