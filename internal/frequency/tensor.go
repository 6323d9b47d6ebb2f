package frequency

import "fmt"

// CountTensor holds pair counts for every AU pair over one set of frames.
//
// Only the upper triangle (i <= j) is stored; At(j, i) is At(i, j).Swap(), so
// both orientations of a pair always describe the same frames. The diagonal
// entry (i, i) has Both = active(i) and Neither = inactive(i).
type CountTensor struct {
	aus    []string
	frames int
	pairs  []PairCount
}

// NewCountTensor returns an all-zero tensor over the given AUs.
func NewCountTensor(aus []string) *CountTensor {
	n := len(aus)
	return &CountTensor{
		aus:   append([]string(nil), aus...),
		pairs: make([]PairCount, n*(n+1)/2),
	}
}

// AUs returns the AU order of the tensor.
func (t *CountTensor) AUs() []string { return t.aus }

// Size returns the number of AUs.
func (t *CountTensor) Size() int { return len(t.aus) }

// Frames returns the number of frames counted.
func (t *CountTensor) Frames() int { return t.frames }

func (t *CountTensor) index(i, j int) int {
	n := len(t.aus)
	return i*n - i*(i-1)/2 + (j - i)
}

// At returns the counts of the ordered pair (i, j).
func (t *CountTensor) At(i, j int) PairCount {
	if i > j {
		return t.pairs[t.index(j, i)].Swap()
	}
	return t.pairs[t.index(i, j)]
}

// Active returns the number of frames in which AU i is active.
func (t *CountTensor) Active(i int) int {
	return t.pairs[t.index(i, i)].Both
}

// set stores the counts of (i, j). Callers pass counts oriented as (i, j).
func (t *CountTensor) set(i, j int, pc PairCount) {
	if i > j {
		i, j = j, i
		pc = pc.Swap()
	}
	t.pairs[t.index(i, j)] = pc
}

// Add accumulates o into t. Both tensors must cover the same AUs in the same order.
func (t *CountTensor) Add(o *CountTensor) error {
	if err := t.sameLayout(o.aus); err != nil {
		return err
	}
	for k := range t.pairs {
		t.pairs[k] = t.pairs[k].Add(o.pairs[k])
	}
	t.frames += o.frames
	return nil
}

// Clone returns a deep copy.
func (t *CountTensor) Clone() *CountTensor {
	return &CountTensor{
		aus:    append([]string(nil), t.aus...),
		frames: t.frames,
		pairs:  append([]PairCount(nil), t.pairs...),
	}
}

func (t *CountTensor) sameLayout(aus []string) error {
	if len(aus) != len(t.aus) {
		return fmt.Errorf("%w: %d AUs, expected %d", ErrShapeMismatch, len(aus), len(t.aus))
	}
	for k := range aus {
		if aus[k] != t.aus[k] {
			return fmt.Errorf("%w: AU %d is %s, expected %s", ErrShapeMismatch, k, aus[k], t.aus[k])
		}
	}
	return nil
}
