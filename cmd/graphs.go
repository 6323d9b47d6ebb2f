// File: cmd/graphs.go
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/augraph/internal/config"
	"github.com/xkilldash9x/augraph/internal/graph"
	"github.com/xkilldash9x/augraph/internal/observability"
	"github.com/xkilldash9x/augraph/internal/store"
)

func newGraphsCmd() *cobra.Command {
	graphsCmd := &cobra.Command{
		Use:   "graphs",
		Short: "Attaches slice features to a stored adjacency matrix and writes graph samples",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}

			path, n, err := runGraphs(cfg, observability.GetLogger())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d graph samples to %s\n", n, path)
			return nil
		},
	}

	graphsCmd.Flags().String("features", "", "feature table CSV produced by the embedding step (overrides config)")
	graphsCmd.Flags().String("adjacency", "", "stored matrix used as graph structure: a class name, delta or delta_normalized")
	return graphsCmd
}

func runGraphs(cfg *config.Config, logger *zap.Logger) (string, int, error) {
	if cfg.Dataset.FeaturesFile == "" {
		return "", 0, errors.New("dataset.features_file is required to build graphs")
	}

	files, err := store.NewFileStore(cfg.Output.Dir, logger)
	if err != nil {
		return "", 0, err
	}
	adj, err := files.ReadMatrix(cfg.Graph.Adjacency)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read adjacency matrix %q: %w", cfg.Graph.Adjacency, err)
	}

	table, err := graph.LoadFeatureTable(cfg.Dataset.FeaturesFile, cfg.Graph.UseLabels)
	if err != nil {
		return "", 0, err
	}
	classes, err := graph.NewClasses(table.Labels(), cfg.Graph.BaseLabels, cfg.Graph.PainLabels)
	if err != nil {
		return "", 0, err
	}

	samples, err := graph.Build(table, adj, classes)
	if err != nil {
		return "", 0, err
	}
	logger.Info("Graph samples assembled",
		zap.String("adjacency", cfg.Graph.Adjacency),
		zap.Int("samples", len(samples)),
		zap.Int("nodes", table.NumNodes()),
		zap.Int("node_features", table.NumNodeFeatures()),
		zap.Int("classes", classes.Len()))

	path, err := files.WriteGraphs(samples)
	if err != nil {
		return "", 0, err
	}
	return path, len(samples), nil
}
