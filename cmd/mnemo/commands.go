package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperjump/mnemo/internal/cli"
	"github.com/hyperjump/mnemo/internal/models"
	"github.com/hyperjump/mnemo/internal/server"
)

func newServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			core, closeFn, err := openCore(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			if err := core.Start(ctx); err != nil {
				return err
			}
			srv := server.New(core.ServerDeps(), core.Config.Server, core.Config.Metrics, core.Logger)
			errc := make(chan error, 1)
			go func() { errc <- srv.Start() }()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			core.Logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}
}

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [path...]",
		Short: "Ingest files, directories, or a text document",
		Long: `Ingest files and directories (plain text, PDF, XLSX), or a single text document with --text.
Files get a stable ID derived from their absolute path; re-ingesting an unchanged file is a no-op.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, _ := cmd.Flags().GetString("text")
			id, _ := cmd.Flags().GetString("id")
			if text == "" && len(args) == 0 {
				return errors.New("nothing to ingest: pass paths or --text")
			}
			if text != "" {
				return ingestText(cmd, id, text)
			}
			if url, _ := cmd.Flags().GetString("server"); url != "" {
				return errors.New("file ingestion reads local files; run it without --server")
			}
			return ingestPaths(cmd, args)
		},
	}
	cmd.Flags().String("text", "", "document text to ingest")
	cmd.Flags().String("id", "", "document ID for --text (generated when empty)")
	return cmd
}

func ingestText(cmd *cobra.Command, id, text string) error {
	b, closeFn, err := openBackend(cmd)
	if err != nil {
		return err
	}
	defer closeFn()
	doc, err := b.Ingest(cmd.Context(), &models.DocumentInput{ID: id, Text: text})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), doc.ID)
	return nil
}

func ingestPaths(cmd *cobra.Command, paths []string) error {
	core, closeFn, err := openCore(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := cmd.Context()
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		if info.IsDir() {
			n, err := core.Indexer.IngestDirectory(ctx, p)
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d files\n", p, n)
			continue
		}
		doc, err := core.Indexer.IngestFile(ctx, p)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", p, doc.ID)
	}
	return nil
}

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Hybrid vector and lexical search",
		Long: `Search documents. The query is all remaining arguments joined by spaces.

Examples:
  mnemo search machine learning
  mnemo search --limit 5 --output json "quarterly report"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			q := &models.SearchQuery{Query: buildQuery(args)}
			q.Limit, _ = cmd.Flags().GetInt("limit")
			q.Offset, _ = cmd.Flags().GetInt("offset")
			q.MinScore, _ = cmd.Flags().GetFloat64("min-score")
			q.VectorWeight, _ = cmd.Flags().GetFloat64("vector-weight")
			q.LexicalWeight, _ = cmd.Flags().GetFloat64("lexical-weight")

			b, closeFn, err := openBackend(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			resp, err := b.Search(cmd.Context(), q)
			if err != nil {
				return err
			}
			return cli.WriteSearchResults(cmd.OutOrStdout(), resp, format)
		},
	}
	cmd.Flags().Int("limit", 10, "number of results")
	cmd.Flags().Int("offset", 0, "results to skip")
	cmd.Flags().Float64("min-score", 0, "minimum combined score")
	cmd.Flags().Float64("vector-weight", 0, "vector weight (0 uses the configured weights)")
	cmd.Flags().Float64("lexical-weight", 0, "lexical weight (0 uses the configured weights)")
	return cmd
}

func newRouteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "route <query>",
		Short: "Resolve a query through the routing cascade",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			q := &models.RouteQuery{Query: buildQuery(args)}
			q.EvidenceLimit, _ = cmd.Flags().GetInt("evidence")

			b, closeFn, err := openBackend(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			d, err := b.Route(cmd.Context(), q)
			var failed *models.AllStrategiesFailedError
			if errors.As(err, &failed) {
				if werr := cli.WriteRouteFailure(cmd.OutOrStdout(), failed, format); werr != nil {
					return werr
				}
				return models.ErrAllStrategiesFailed
			}
			if err != nil {
				return err
			}
			return cli.WriteDecision(cmd.OutOrStdout(), d, format)
		},
	}
	cmd.Flags().Int("evidence", 0, "search hits handed to the strategies (0 uses the default)")
	return cmd
}

func newFeedbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feedback <decision-id> <true|false>",
		Short: "Record whether a routing decision was correct",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			success, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("%w: outcome must be true or false", models.ErrInvalidInput)
			}
			b, closeFn, err := openBackend(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			if err := b.RecordOutcome(cmd.Context(), args[0], success); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded %s: %t\n", args[0], success)
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, closeFn, err := openBackend(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			if err := b.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the vector and lexical indexes from the document store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, closeFn, err := openBackend(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			if err := b.Rebuild(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "rebuilt")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show document, index, and routing status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			b, closeFn, err := openBackend(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			st, err := b.Status(cmd.Context())
			if err != nil {
				return err
			}
			return cli.WriteStatus(cmd.OutOrStdout(), st, format)
		},
	}
}
