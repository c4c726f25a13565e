package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/insightdelivered/statement-viewer/internal/api"
	"github.com/insightdelivered/statement-viewer/internal/buildinfo"
	"github.com/insightdelivered/statement-viewer/internal/config"
)

// options are the flags shared by every subcommand.
type options struct {
	configPath string
	apiURL     string
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "statement-viewer",
		Short: "Upload credit card statements and view the extracted fields",
		Long: `Statement Viewer sends credit card statement PDFs to a statement parsing
service and shows the extracted fields: new balance, payment due date,
minimum payment, credit limit and available credit.

Run "statement-viewer serve" for the web UI, or "statement-viewer parse"
to analyze files from the terminal.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&opts.apiURL, "api-url", "", "parsing service base URL (overrides VITE_API_URL)")

	rootCmd.AddCommand(newServeCommand(opts))
	rootCmd.AddCommand(newParseCommand(opts))
	rootCmd.AddCommand(newHealthCommand(opts))
	rootCmd.AddCommand(newBanksCommand(opts))

	return rootCmd
}

// load reads the configuration and applies command-line overrides.
func (o *options) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.apiURL != "" {
		cfg.API.BaseURL = o.apiURL
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newClient(cfg *config.Config, logger *slog.Logger) *api.Client {
	return api.NewClient(cfg.API.BaseURL, cfg.API.Timeout, logger)
}

// newLogger builds the slog logger described by cfg.
func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

func stderrLogger(cfg *config.Config) *slog.Logger {
	return newLogger(cfg.Logging, os.Stderr)
}
