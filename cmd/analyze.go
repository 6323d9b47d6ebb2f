// File: cmd/analyze.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/augraph/internal/adjacency"
	"github.com/xkilldash9x/augraph/internal/config"
	"github.com/xkilldash9x/augraph/internal/dataset"
	"github.com/xkilldash9x/augraph/internal/engine"
	"github.com/xkilldash9x/augraph/internal/observability"
	"github.com/xkilldash9x/augraph/internal/roster"
	"github.com/xkilldash9x/augraph/internal/store"
)

// connectDB opens the PostgreSQL pool. Tests replace it with a mock.
var connectDB = func(ctx context.Context, url string) (store.DBPool, func(), error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	return pool, pool.Close, nil
}

func newAnalyzeCmd() *cobra.Command {
	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Runs the frequency analysis and writes the adjacency matrices",
		Long: `Analyze reads every eligible subject's activation table, aggregates the
pairwise co-occurrence counts per class and writes one adjacency matrix per
class, the signed delta between the target and base class and its normalized
variant to the output directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			run, err := runAnalyze(ctx, cfg, observability.GetLogger())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Analysis complete. Run ID: %s\n", run.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "Subjects: %d included, %d excluded, %d failed\n",
				len(run.Included), len(run.Excluded), len(run.Failures))
			fmt.Fprintf(cmd.OutOrStdout(), "Artifacts written to %s\n", cfg.Output.Dir)
			return nil
		},
	}

	analyzeCmd.Flags().String("data-dir", "", "directory of the tracker CSV files (overrides config)")
	analyzeCmd.Flags().String("labels-dir", "", "directory of the per-frame label files (overrides config)")
	analyzeCmd.Flags().String("channel", "", "tracker channel to read, AUc or AUr (overrides config)")
	analyzeCmd.Flags().Float64("activity-threshold", 0, "minimum raw value of an active AU (overrides config)")
	analyzeCmd.Flags().Float64("confidence", 0, "drop frames with tracker confidence at or below this value (overrides config)")
	analyzeCmd.Flags().IntP("workers", "j", 0, "number of concurrent subject workers (overrides config)")
	analyzeCmd.Flags().String("mode", "", "execution mode, parallel or sequential (overrides config)")
	addAdjacencyFlags(analyzeCmd)
	return analyzeCmd
}

// addAdjacencyFlags registers the flags shared by every command that builds
// or rescales adjacency matrices.
func addAdjacencyFlags(cmd *cobra.Command) {
	cmd.Flags().String("method", "", "edge weight method: symm, cond or uncond (overrides config)")
	cmd.Flags().Float64("percentile", 0, "keep only entries at or above this quantile, in (0,1) (overrides config)")
	cmd.Flags().Bool("self-loops", false, "keep the diagonal of the adjacency matrices")
	cmd.Flags().String("negative", "", "negative entry policy: zero or abs (overrides config)")
	cmd.Flags().String("scale", "", "scale policy: max or row (overrides config)")
}

// runAnalyze executes the full pipeline and persists its artifacts.
func runAnalyze(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*store.Run, error) {
	source := dataset.NewReader(cfg.Dataset, cfg.Analysis.AUs)
	exclusions := roster.NewExclusionSet(cfg.Analysis.ExcludedSubjects)

	agg, err := engine.New(cfg, logger, source, exclusions)
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregator: %w", err)
	}
	result, err := agg.Run(ctx)
	if err != nil {
		return nil, err
	}

	run := store.NewRun(cfg)
	run.Included = result.Included
	run.Excluded = result.Excluded
	for _, f := range result.Failures {
		run.Failures = append(run.Failures, store.Failure{SubjectID: f.SubjectID, Error: f.Err.Error()})
	}
	run.FramesPerLabel = result.FramesPerLabel()
	for _, l := range result.Population.Labels() {
		run.Counts[l] = result.Population.Label(l)
	}

	if err := buildMatrices(cfg, logger, result, run); err != nil {
		return nil, err
	}

	files, err := store.NewFileStore(cfg.Output.Dir, logger)
	if err != nil {
		return nil, err
	}
	if err := files.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to write run artifacts: %w", err)
	}

	if cfg.Database.URL != "" {
		if err := saveToDatabase(ctx, cfg.Database.URL, logger, run); err != nil {
			return nil, err
		}
	}
	return run, nil
}

func buildMatrices(cfg *config.Config, logger *zap.Logger, result *engine.Result, run *store.Run) error {
	builder := adjacency.NewBuilder(cfg.Adjacency, logger)
	for _, class := range cfg.Analysis.ClassNames() {
		m, err := builder.Compute(result.Population, class)
		if err != nil {
			return fmt.Errorf("failed to compute adjacency matrix of class %s: %w", class, err)
		}
		run.Matrices[class] = m
	}

	delta, err := builder.ComputeDelta(result.Population, cfg.Analysis.TargetClass, cfg.Analysis.BaseClass)
	if err != nil {
		return fmt.Errorf("failed to compute delta adjacency matrix: %w", err)
	}
	run.Matrices[config.MatrixDelta] = delta

	normalized, err := adjacency.NewNormalizer(cfg.Normalize).Normalize(delta)
	if err != nil {
		return fmt.Errorf("failed to normalize delta adjacency matrix: %w", err)
	}
	run.Matrices[config.MatrixDeltaNormalized] = normalized
	return nil
}

func saveToDatabase(ctx context.Context, url string, logger *zap.Logger, run *store.Run) error {
	pool, closePool, err := connectDB(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer closePool()

	pg, err := store.NewPGStore(ctx, pool, logger)
	if err != nil {
		return err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := pg.Save(ctx, run); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Database write aborted", zap.String("run_id", run.ID))
		}
		return fmt.Errorf("failed to persist run to database: %w", err)
	}
	return nil
}
