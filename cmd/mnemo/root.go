package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/mnemo/internal/app"
	"github.com/hyperjump/mnemo/internal/cli"
	"github.com/hyperjump/mnemo/internal/config"
	"github.com/hyperjump/mnemo/internal/models"
	"github.com/hyperjump/mnemo/pkg/utils"
)

const defaultConfigPath = "/usr/local/etc/mnemo/config.yaml"

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "mnemo",
		Short:         "Cognition memory and routing core",
		Long:          `Hybrid vector and lexical document memory with a confidence-gated query routing cascade.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	root.PersistentFlags().String("config", defaultConfigPath, "config file path")
	root.PersistentFlags().Bool("debug", false, "enable debug logging")
	root.PersistentFlags().String("server", "", "URL of a running mnemo server; empty opens the data files directly")
	root.PersistentFlags().StringP("output", "o", "text", "output format: text or json")

	root.AddCommand(
		newServerCmd(),
		newIngestCmd(),
		newSearchCmd(),
		newRouteCmd(),
		newFeedbackCmd(),
		newDeleteCmd(),
		newRebuildCmd(),
		newStatusCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

// loadConfig loads config from path. When path is the default and a config.yaml exists in
// the working directory, that file is used instead. Returns the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// buildQuery joins positional arguments into one query string.
func buildQuery(args []string) string {
	return strings.Join(strings.Fields(strings.Join(args, " ")), " ")
}

func outputFormat(cmd *cobra.Command) (cli.OutputFormat, error) {
	s, _ := cmd.Flags().GetString("output")
	return cli.ParseOutputFormat(s)
}

// backend is what the one-shot commands need; it is served either by a local Core or by
// a running server.
type backend interface {
	Ingest(ctx context.Context, input *models.DocumentInput) (*models.Document, error)
	Remove(ctx context.Context, id string) error
	Rebuild(ctx context.Context) error
	Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error)
	Route(ctx context.Context, q *models.RouteQuery) (*models.RoutingDecision, error)
	RecordOutcome(ctx context.Context, decisionID string, success bool) error
	Status(ctx context.Context) (*models.Status, error)
}

type localBackend struct {
	core *app.Core
}

func (b localBackend) Ingest(ctx context.Context, input *models.DocumentInput) (*models.Document, error) {
	return b.core.Indexer.Ingest(ctx, input)
}

func (b localBackend) Remove(ctx context.Context, id string) error {
	return b.core.Indexer.Remove(ctx, id)
}

func (b localBackend) Rebuild(ctx context.Context) error {
	return b.core.Indexer.Rebuild(ctx)
}

func (b localBackend) Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	return b.core.Engine.Search(ctx, q)
}

func (b localBackend) Route(ctx context.Context, q *models.RouteQuery) (*models.RoutingDecision, error) {
	return b.core.Cascade.Route(ctx, q)
}

func (b localBackend) RecordOutcome(ctx context.Context, decisionID string, success bool) error {
	return b.core.Feedback.RecordOutcome(ctx, decisionID, success)
}

func (b localBackend) Status(ctx context.Context) (*models.Status, error) {
	return b.core.Status(ctx)
}

// openCore loads the config and builds a Core. The returned func releases both.
func openCore(cmd *cobra.Command) (*app.Core, func(), error) {
	configPath, _ := cmd.Flags().GetString("config")
	debug, _ := cmd.Flags().GetBool("debug")

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	debug = debug || cfg.Debug
	logger, err := utils.NewLogger(debug)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debug))

	core, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return core, func() {
		if err := core.Close(); err != nil {
			logger.Warn("shutdown incomplete", zap.Error(err))
		}
		_ = logger.Sync()
	}, nil
}

// openBackend returns a client for --server when set, otherwise a local Core.
func openBackend(cmd *cobra.Command) (backend, func(), error) {
	if url, _ := cmd.Flags().GetString("server"); url != "" {
		return cli.NewClient(url), func() {}, nil
	}
	core, closeFn, err := openCore(cmd)
	if err != nil {
		return nil, nil, err
	}
	return localBackend{core: core}, closeFn, nil
}
