// internal/engine/aggregator.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/augraph/internal/config"
	"github.com/xkilldash9x/augraph/internal/dataset"
	"github.com/xkilldash9x/augraph/internal/frequency"
	"github.com/xkilldash9x/augraph/internal/roster"
)

var (
	// ErrWorkerFailure wraps the cause of a single subject's failed analysis.
	ErrWorkerFailure = errors.New("engine: subject analysis failed")
	// ErrNoSubjects is returned when no eligible subject could be analyzed.
	ErrNoSubjects = errors.New("engine: no subject could be analyzed")
)

// -- Interfaces for Dependency Inversion --

// Source provides the subject roster and each subject's activation table.
// dataset.Reader is the production implementation.
type Source interface {
	Subjects() ([]string, error)
	Load(ctx context.Context, subjectID string) (*dataset.Recording, error)
}

// SubjectFailure records a subject that was skipped because its analysis failed.
type SubjectFailure struct {
	SubjectID string
	Err       error
}

// Result is the outcome of one frequency analysis run.
type Result struct {
	Population *frequency.Accumulator
	// Included lists the analyzed subjects in roster order.
	Included []string
	// Excluded lists roster entries removed by the exclusion set.
	Excluded []string
	Failures []SubjectFailure
}

// FramesPerLabel returns the population frame count of every label.
func (r *Result) FramesPerLabel() map[int]int {
	out := make(map[int]int, len(r.Population.Labels()))
	for _, l := range r.Population.Labels() {
		out[l] = r.Population.Label(l).Frames()
	}
	return out
}

// slot holds one task's outcome. Each task writes only its own slot.
type slot struct {
	counts *frequency.SubjectCounts
	err    error
}

// Aggregator runs the per-subject frequency analysis over a roster and
// reduces the results into population statistics.
type Aggregator struct {
	cfg        *config.Config
	logger     *zap.Logger
	source     Source
	exclusions *roster.ExclusionSet
}

// New creates a new Aggregator.
func New(cfg *config.Config, logger *zap.Logger, source Source, exclusions *roster.ExclusionSet) (*Aggregator, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if source == nil {
		return nil, errors.New("source cannot be nil")
	}
	if exclusions == nil {
		return nil, errors.New("exclusion set cannot be nil")
	}

	return &Aggregator{
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "aggregator")),
		source:     source,
		exclusions: exclusions,
	}, nil
}

// Run analyzes every subject the source knows, in the configured mode.
func (a *Aggregator) Run(ctx context.Context) (*Result, error) {
	subjects, err := a.source.Subjects()
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}
	if a.cfg.Analysis.Mode == config.ModeSequential {
		return a.FrequencyAnalysis(ctx, subjects)
	}
	return a.FrequencyAnalysisParallel(ctx, subjects)
}

// FrequencyAnalysis analyzes the eligible subjects one after another.
func (a *Aggregator) FrequencyAnalysis(ctx context.Context, subjects []string) (*Result, error) {
	eligible, excluded := a.exclusions.Eligible(subjects)
	a.logger.Info("Starting frequency analysis",
		zap.String("mode", config.ModeSequential),
		zap.Int("subjects", len(eligible)),
		zap.Strings("excluded", excluded))

	start := time.Now()
	slots := make([]slot, len(eligible))
	for k, id := range eligible {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		slots[k] = a.analyze(ctx, id)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.reduce(eligible, excluded, slots, start)
}

// FrequencyAnalysisParallel fans the eligible subjects out to a bounded pool
// of workers. A failing subject never cancels its siblings; only the caller's
// context aborts the run.
func (a *Aggregator) FrequencyAnalysisParallel(ctx context.Context, subjects []string) (*Result, error) {
	eligible, excluded := a.exclusions.Eligible(subjects)
	workers := a.cfg.Analysis.Workers
	if workers <= 0 {
		workers = 1
	}
	a.logger.Info("Starting frequency analysis",
		zap.String("mode", config.ModeParallel),
		zap.Int("workers", workers),
		zap.Int("subjects", len(eligible)),
		zap.Strings("excluded", excluded))

	start := time.Now()
	slots := make([]slot, len(eligible))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for k, id := range eligible {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			slots[k] = a.analyze(gctx, id)
			return nil
		})
	}
	// Tasks only return errors for cancellation, which ctx reports below.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		a.logger.Warn("Frequency analysis cancelled", zap.Error(err))
		return nil, err
	}
	return a.reduce(eligible, excluded, slots, start)
}

// analyze runs one subject. Panics are turned into failures.
func (a *Aggregator) analyze(ctx context.Context, subjectID string) (s slot) {
	defer func() {
		if r := recover(); r != nil {
			s = slot{err: fmt.Errorf("%w: subject %s: panic: %v", ErrWorkerFailure, subjectID, r)}
		}
	}()

	if err := a.exclusions.CheckEligible(subjectID); err != nil {
		return slot{err: fmt.Errorf("%w: %w", ErrWorkerFailure, err)}
	}
	rec, err := a.source.Load(ctx, subjectID)
	if err != nil {
		return slot{err: fmt.Errorf("%w: %w", ErrWorkerFailure, err)}
	}
	counts, err := frequency.AnalyzeSubject(rec, a.cfg.Analysis.Labels)
	if err != nil {
		return slot{err: fmt.Errorf("%w: %w", ErrWorkerFailure, err)}
	}
	a.logger.Debug("Subject analyzed",
		zap.String("subject_id", subjectID),
		zap.Int("frames", rec.Frames()),
		zap.Int("ignored_frames", counts.Ignored))
	return slot{counts: counts}
}

// reduce folds the slots into the population in roster order.
func (a *Aggregator) reduce(eligible, excluded []string, slots []slot, start time.Time) (*Result, error) {
	res := &Result{
		Population: frequency.NewAccumulator(a.cfg.Analysis.AUs, a.cfg.Analysis.Labels, a.cfg.Analysis.Classes),
		Excluded:   excluded,
	}
	for k, s := range slots {
		id := eligible[k]
		err := s.err
		if err == nil {
			if addErr := res.Population.Add(s.counts); addErr != nil {
				err = fmt.Errorf("%w: %w", ErrWorkerFailure, addErr)
			}
		}
		if err != nil {
			a.logger.Warn("Subject analysis failed, skipping", zap.String("subject_id", id), zap.Error(err))
			res.Failures = append(res.Failures, SubjectFailure{SubjectID: id, Err: err})
			continue
		}
		res.Included = append(res.Included, id)
	}

	if len(res.Included) == 0 {
		return nil, fmt.Errorf("%w: %d eligible, %d failed", ErrNoSubjects, len(eligible), len(res.Failures))
	}

	a.logger.Info("Frequency analysis complete",
		zap.Int("included", len(res.Included)),
		zap.Int("failed", len(res.Failures)),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}
