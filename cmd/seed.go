package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docsage/docsage/internal/app"
	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/index"
	"github.com/docsage/docsage/internal/log"
)

var seedNamespace string

var seedCmd = &cobra.Command{
	Use:   "seed <documents.json>",
	Short: "Embed and index documentation chunks into a namespace",
	Long: `seed reads a JSON array of documentation chunks and indexes them
into the given namespace. Each chunk needs an id, content, and
optionally a source:

  [{"id": "fastapi-routing", "content": "...", "source": "docs/routing.md"}]

Existing chunks with the same id are replaced.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSeed(cmd.Context(), args[0])
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedNamespace, "namespace", "", "target namespace (fastapi, django, rails)")
	_ = seedCmd.MarkFlagRequired("namespace")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(parent context.Context, path string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if _, err := index.ParseNamespace(seedNamespace); err != nil {
		return err
	}

	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied seed file
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var docs []index.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(docs) == 0 {
		return fmt.Errorf("%s contains no documents", path)
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(log.Config{})

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	ix, err := a.Registry.Resolve(seedNamespace)
	if err != nil {
		return err
	}

	logger.Info("indexing documents", "namespace", seedNamespace, "count", len(docs))
	if err := ix.Add(ctx, docs); err != nil {
		return fmt.Errorf("indexing documents: %w", err)
	}

	total, err := ix.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting documents: %w", err)
	}
	logger.Info("seed completed", "namespace", seedNamespace, "indexed", len(docs), "total", total)
	return nil
}
