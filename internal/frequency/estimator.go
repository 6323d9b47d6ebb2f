package frequency

import "fmt"

// CondFreq returns P(i active | j active) for the ordered pair counts of (i, j).
// It is undefined when j is never active.
func CondFreq(pc PairCount) Frequency {
	return ratio(int64(pc.Both), int64(pc.ActiveJ()))
}

// SymmFreq combines P(i|j) and P(j|i) into one undirected value:
//
//	1 / (1/P(i|j) + 1/P(j|i) - 1) = n(i∧j) / n(i∨j)
//
// It is undefined when either directional term is undefined. The result is
// computed from integer counts, so SymmFreq(pc) == SymmFreq(pc.Swap()) exactly.
func SymmFreq(pc PairCount) Frequency {
	if pc.ActiveI() == 0 || pc.ActiveJ() == 0 {
		return Undefined()
	}
	return ratio(int64(pc.Both), int64(pc.Either()))
}

// RelFreqsUncond returns, for each AU, the fraction of frames in which it is active.
func RelFreqsUncond(t *CountTensor) ([]float64, error) {
	if t.Frames() == 0 {
		return nil, fmt.Errorf("%w: no frames counted", ErrEmptySequence)
	}
	rates := make([]float64, t.Size())
	for i := range rates {
		rates[i] = float64(t.Active(i)) / float64(t.Frames())
	}
	return rates, nil
}

// RelFreqsJoint returns P(i ∧ j) = n(i∧j) / frames for every pair.
func RelFreqsJoint(t *CountTensor) (*Tensor, error) {
	if t.Frames() == 0 {
		return nil, fmt.Errorf("%w: no frames counted", ErrEmptySequence)
	}
	out := NewTensor(t.AUs())
	for i := 0; i < t.Size(); i++ {
		for j := 0; j < t.Size(); j++ {
			out.Set(i, j, ratio(int64(t.At(i, j).Both), int64(t.Frames())))
		}
	}
	return out, nil
}

// RelFreqsCond returns P(i | j) for every ordered pair. Entries whose
// condition AU j is never active are undefined.
func RelFreqsCond(t *CountTensor) *Tensor {
	out := NewTensor(t.AUs())
	for i := 0; i < t.Size(); i++ {
		for j := 0; j < t.Size(); j++ {
			out.Set(i, j, CondFreq(t.At(i, j)))
		}
	}
	return out
}

// RelFreqCondSymm returns the symmetrized conditional frequency of every pair.
func RelFreqCondSymm(t *CountTensor) *Tensor {
	out := NewTensor(t.AUs())
	for i := 0; i < t.Size(); i++ {
		for j := i; j < t.Size(); j++ {
			f := SymmFreq(t.At(i, j))
			out.Set(i, j, f)
			out.Set(j, i, f)
		}
	}
	return out
}
