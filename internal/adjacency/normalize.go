package adjacency

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/xkilldash9x/augraph/internal/config"
)

// Normalizer rescales an adjacency matrix into non-negative weights in [0, 1].
type Normalizer struct {
	negative string
	scale    string
}

// NewNormalizer creates a Normalizer for the given policy.
func NewNormalizer(cfg config.NormalizeConfig) *Normalizer {
	n := &Normalizer{negative: cfg.Negative, scale: cfg.Scale}
	if n.negative == "" {
		n.negative = config.NegativeZero
	}
	if n.scale == "" {
		n.scale = config.ScaleMax
	}
	return n
}

// Normalize returns a normalized copy of m.
//
// Negative entries are clipped to 0 or replaced by their magnitude. With the
// max scale every entry is divided by the largest entry; with the row scale
// every row is divided by its sum. A zero diagonal stays zero, an all-zero
// row stays all-zero and an all-zero matrix is returned unchanged.
func (n *Normalizer) Normalize(m *Matrix) (*Matrix, error) {
	if err := m.check(); err != nil {
		return nil, err
	}

	out := m.Clone()
	switch n.negative {
	case config.NegativeZero:
		out.M.Apply(func(_, _ int, v float64) float64 { return math.Max(v, 0) }, out.M)
	case config.NegativeAbs:
		out.M.Apply(func(_, _ int, v float64) float64 { return math.Abs(v) }, out.M)
	default:
		return nil, fmt.Errorf("unknown negative policy %q", n.negative)
	}

	switch n.scale {
	case config.ScaleMax:
		// Divide rather than scale by 1/peak: a subnormal peak has no finite reciprocal.
		if peak := mat.Max(out.M); peak > 0 {
			out.M.Apply(func(_, _ int, v float64) float64 { return v / peak }, out.M)
		}
	case config.ScaleRow:
		size := out.Size()
		for i := 0; i < size; i++ {
			row := out.M.RawRowView(i)
			if sum := floats.Sum(row); sum > 0 {
				for j := range row {
					row[j] /= sum
				}
			}
		}
	default:
		return nil, fmt.Errorf("unknown scale policy %q", n.scale)
	}
	return out, nil
}
