package adjacency

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/xkilldash9x/augraph/internal/config"
	"github.com/xkilldash9x/augraph/internal/frequency"
)

// Builder computes class and delta adjacency matrices from population statistics.
type Builder struct {
	cfg    config.AdjacencyConfig
	logger *zap.Logger
}

// NewBuilder creates a Builder for the given adjacency settings.
func NewBuilder(cfg config.AdjacencyConfig, logger *zap.Logger) *Builder {
	return &Builder{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "adjacency_builder")),
	}
}

// Compute builds the adjacency matrix of one class. Entries without a
// defined frequency become 0 and are listed in Matrix.Undefined.
func (b *Builder) Compute(pop *frequency.Accumulator, class string) (*Matrix, error) {
	m, err := b.compute(pop, class)
	if err != nil {
		return nil, err
	}
	if b.cfg.Percentile > 0 {
		return ApplyPercentile(m, b.cfg.Percentile)
	}
	return m, nil
}

// ComputeDelta returns the signed difference target - base of the unthresholded
// class matrices; negative entries mark pairs that co-occur more often at
// baseline. A configured percentile thresholds the difference, not the
// operands.
func (b *Builder) ComputeDelta(pop *frequency.Accumulator, target, base string) (*Matrix, error) {
	t, err := b.compute(pop, target)
	if err != nil {
		return nil, err
	}
	bm, err := b.compute(pop, base)
	if err != nil {
		return nil, err
	}

	delta := &Matrix{AUs: append([]string(nil), t.AUs...), M: mat.NewDense(t.Size(), t.Size(), nil)}
	delta.M.Sub(t.M, bm.M)
	delta.Undefined = mergeEntries(t.Undefined, bm.Undefined)

	if b.cfg.Percentile > 0 {
		return ApplyPercentile(delta, b.cfg.Percentile)
	}
	return delta, nil
}

func (b *Builder) compute(pop *frequency.Accumulator, class string) (*Matrix, error) {
	stats, err := pop.Class(class)
	if err != nil {
		return nil, err
	}

	var t *frequency.Tensor
	switch b.cfg.Method {
	case config.MethodSymmetric, "":
		t = stats.Symm()
	case config.MethodConditional:
		t = stats.Cond()
	case config.MethodUnconditional:
		t, err = stats.Joint()
		if err != nil {
			return nil, fmt.Errorf("class %s: %w", class, err)
		}
	default:
		return nil, fmt.Errorf("unknown adjacency method %q", b.cfg.Method)
	}

	m, err := NewMatrix(t.AUs(), nil)
	if err != nil {
		return nil, err
	}
	n := t.Size()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j && !b.cfg.SelfLoops {
				continue
			}
			v, ok := t.At(i, j).Value()
			if !ok {
				m.Undefined = append(m.Undefined, Entry{From: m.AUs[i], To: m.AUs[j]})
				continue
			}
			m.M.Set(i, j, v)
		}
	}
	if len(m.Undefined) > 0 {
		b.logger.Warn("Adjacency entries undefined for every subject, set to 0",
			zap.String("class", class),
			zap.String("method", b.cfg.Method),
			zap.Int("entries", len(m.Undefined)))
	}

	if len(b.cfg.UseAUs) > 0 {
		return Select(m, b.cfg.UseAUs)
	}
	return m, nil
}

// ApplyPercentile zeroes every entry strictly below the p-quantile of all
// entries, 0 < p < 1. The quantile is the linear interpolation of the
// empirical distribution.
func ApplyPercentile(m *Matrix, p float64) (*Matrix, error) {
	if p <= 0 || p >= 1 {
		return nil, fmt.Errorf("percentile must be in (0,1), got %v", p)
	}
	if err := m.check(); err != nil {
		return nil, err
	}

	out := m.Clone()
	values := append([]float64(nil), out.M.RawMatrix().Data...)
	sort.Float64s(values)
	threshold := stat.Quantile(p, stat.LinInterp, values, nil)

	out.M.Apply(func(_, _ int, v float64) float64 {
		if v < threshold {
			return 0
		}
		return v
	}, out.M)
	return out, nil
}

func mergeEntries(a, b []Entry) []Entry {
	seen := make(map[Entry]bool, len(a)+len(b))
	var out []Entry
	for _, e := range append(append([]Entry(nil), a...), b...) {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}
