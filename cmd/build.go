// File: cmd/build.go
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/augraph/internal/adjacency"
	"github.com/xkilldash9x/augraph/internal/config"
	"github.com/xkilldash9x/augraph/internal/observability"
	"github.com/xkilldash9x/augraph/internal/store"
)

func newBuildCmd() *cobra.Command {
	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Rebuilds the normalized delta matrix from a stored delta matrix",
		Long: `Build reads adjacency_matrix_delta.csv from the output directory, applies
the normalization policy and writes adjacency_matrix_delta_normalized.csv.
The percentile threshold is applied only when the manifest records that the
stored delta was not thresholded yet. The frequency analysis is not rerun.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			files, err := store.NewFileStore(cfg.Output.Dir, logger)
			if err != nil {
				return err
			}
			m, err := rebuildNormalized(cfg, files, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d AUs)\n", store.MatrixFile(config.MatrixDeltaNormalized), m.Size())
			return nil
		},
	}
	addAdjacencyFlags(buildCmd)
	return buildCmd
}

// errPercentileMismatch is returned when the stored delta was thresholded at
// a different percentile than the one configured.
var errPercentileMismatch = errors.New("stored delta matrix was thresholded at a different percentile")

func rebuildNormalized(cfg *config.Config, files *store.FileStore, logger *zap.Logger) (*adjacency.Matrix, error) {
	delta, err := files.ReadMatrix(config.MatrixDelta)
	if err != nil {
		return nil, fmt.Errorf("failed to read delta matrix: %w", err)
	}

	manifest, err := files.ReadManifest()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if manifest == nil {
		logger.Debug("No manifest in output directory, skipping update", zap.String("dir", files.Dir()))
	}

	if len(cfg.Adjacency.UseAUs) > 0 {
		if delta, err = adjacency.Select(delta, cfg.Adjacency.UseAUs); err != nil {
			return nil, err
		}
	}

	// analyze thresholds the delta before writing it; a second pass over a
	// signed matrix moves the quantile, so it is applied at most once.
	applied := 0.0
	if manifest != nil {
		applied = manifest.Percentile
	}
	switch {
	case applied > 0 && cfg.Adjacency.Percentile != applied:
		return nil, fmt.Errorf("%w: stored %v, configured %v; rerun analyze to change it",
			errPercentileMismatch, applied, cfg.Adjacency.Percentile)
	case applied == 0 && cfg.Adjacency.Percentile > 0:
		if delta, err = adjacency.ApplyPercentile(delta, cfg.Adjacency.Percentile); err != nil {
			return nil, err
		}
	}

	normalized, err := adjacency.NewNormalizer(cfg.Normalize).Normalize(delta)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize delta matrix: %w", err)
	}
	if err := files.WriteMatrix(config.MatrixDeltaNormalized, normalized); err != nil {
		return nil, err
	}

	if manifest != nil {
		manifest.Matrices[config.MatrixDeltaNormalized] = store.MatrixFile(config.MatrixDeltaNormalized)
		if err := files.WriteManifest(manifest); err != nil {
			return nil, err
		}
	}

	logger.Info("Normalized delta matrix rebuilt",
		zap.String("negative", cfg.Normalize.Negative),
		zap.String("scale", cfg.Normalize.Scale),
		zap.Float64("percentile", cfg.Adjacency.Percentile))
	return normalized, nil
}
