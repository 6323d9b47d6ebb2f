// Package adjacency turns population co-occurrence statistics into weighted
// AU graphs and normalizes them.
package adjacency

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNonSquare is returned for matrices that are not n×n over n AUs.
	ErrNonSquare = errors.New("adjacency: matrix is not square")
	// ErrNaNInf is returned for matrices holding NaN or infinite entries.
	ErrNaNInf = errors.New("adjacency: matrix contains NaN or Inf")
	// ErrUnknownAU is returned when an AU is not part of the matrix.
	ErrUnknownAU = errors.New("adjacency: unknown AU")
)

// Entry names one matrix position by its AUs.
type Entry struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Matrix is a square adjacency matrix whose rows and columns are labelled by AU.
type Matrix struct {
	AUs []string
	M   *mat.Dense
	// Undefined lists entries that had no defined frequency in any subject
	// and were set to 0.
	Undefined []Entry
}

// NewMatrix builds a matrix over aus from row-major data. A nil data slice
// yields an all-zero matrix.
func NewMatrix(aus []string, data []float64) (*Matrix, error) {
	n := len(aus)
	if n == 0 {
		return nil, fmt.Errorf("%w: no AUs", ErrNonSquare)
	}
	if data != nil && len(data) != n*n {
		return nil, fmt.Errorf("%w: %d values for %d AUs", ErrNonSquare, len(data), n)
	}
	return &Matrix{
		AUs: append([]string(nil), aus...),
		M:   mat.NewDense(n, n, data),
	}, nil
}

// FromRows builds a matrix over aus from a slice of rows.
func FromRows(aus []string, rows [][]float64) (*Matrix, error) {
	if len(rows) != len(aus) {
		return nil, fmt.Errorf("%w: %d rows for %d AUs", ErrNonSquare, len(rows), len(aus))
	}
	data := make([]float64, 0, len(aus)*len(aus))
	for i, r := range rows {
		if len(r) != len(aus) {
			return nil, fmt.Errorf("%w: row %d has %d columns for %d AUs", ErrNonSquare, i, len(r), len(aus))
		}
		data = append(data, r...)
	}
	return NewMatrix(aus, data)
}

// Size returns the number of AUs.
func (m *Matrix) Size() int { return len(m.AUs) }

// At returns entry (i, j).
func (m *Matrix) At(i, j int) float64 { return m.M.At(i, j) }

// Index returns the position of au.
func (m *Matrix) Index(au string) (int, error) {
	for k, a := range m.AUs {
		if a == au {
			return k, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrUnknownAU, au)
}

// Rows returns a copy of the matrix as rows.
func (m *Matrix) Rows() [][]float64 {
	r, c := m.M.Dims()
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = mat.Row(make([]float64, c), i, m.M)
	}
	return rows
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	return &Matrix{
		AUs:       append([]string(nil), m.AUs...),
		M:         mat.DenseCopyOf(m.M),
		Undefined: append([]Entry(nil), m.Undefined...),
	}
}

// check verifies that m is square over its AUs and finite.
func (m *Matrix) check() error {
	if m == nil || m.M == nil {
		return fmt.Errorf("%w: nil matrix", ErrNonSquare)
	}
	r, c := m.M.Dims()
	if r != c || r != len(m.AUs) {
		return fmt.Errorf("%w: %d×%d over %d AUs", ErrNonSquare, r, c, len(m.AUs))
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.M.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: entry (%s, %s)", ErrNaNInf, m.AUs[i], m.AUs[j])
			}
		}
	}
	return nil
}

// Select restricts m to the given AUs, in the given order.
func Select(m *Matrix, aus []string) (*Matrix, error) {
	idx := make([]int, len(aus))
	for k, au := range aus {
		i, err := m.Index(au)
		if err != nil {
			return nil, err
		}
		idx[k] = i
	}
	out, err := NewMatrix(aus, nil)
	if err != nil {
		return nil, err
	}
	for a, i := range idx {
		for b, j := range idx {
			out.M.Set(a, b, m.M.At(i, j))
		}
	}
	keep := make(map[string]bool, len(aus))
	for _, au := range aus {
		keep[au] = true
	}
	for _, e := range m.Undefined {
		if keep[e.From] && keep[e.To] {
			out.Undefined = append(out.Undefined, e)
		}
	}
	return out, nil
}
