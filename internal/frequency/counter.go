package frequency

import "fmt"

// PairCount holds the co-occurrence categories of an ordered AU pair (i, j)
// over a run of frames.
type PairCount struct {
	Both    int `json:"both"`
	OnlyI   int `json:"only_i"`
	OnlyJ   int `json:"only_j"`
	Neither int `json:"neither"`
}

// Total is the number of frames the counts were taken over.
func (p PairCount) Total() int { return p.Both + p.OnlyI + p.OnlyJ + p.Neither }

// ActiveI is the number of frames where AU i is active.
func (p PairCount) ActiveI() int { return p.Both + p.OnlyI }

// ActiveJ is the number of frames where AU j is active.
func (p PairCount) ActiveJ() int { return p.Both + p.OnlyJ }

// Either is the number of frames where at least one of the two AUs is active.
func (p PairCount) Either() int { return p.Both + p.OnlyI + p.OnlyJ }

// Swap returns the counts of the pair seen as (j, i).
func (p PairCount) Swap() PairCount {
	return PairCount{Both: p.Both, OnlyI: p.OnlyJ, OnlyJ: p.OnlyI, Neither: p.Neither}
}

// Add returns the element-wise sum of two counts.
func (p PairCount) Add(o PairCount) PairCount {
	return PairCount{
		Both:    p.Both + o.Both,
		OnlyI:   p.OnlyI + o.OnlyI,
		OnlyJ:   p.OnlyJ + o.OnlyJ,
		Neither: p.Neither + o.Neither,
	}
}

// CountPair counts the four co-occurrence categories of two activation
// sequences. Both sequences must have the same length.
func CountPair(a, b []bool) (PairCount, error) {
	if len(a) != len(b) {
		return PairCount{}, fmt.Errorf("%w: sequences of length %d and %d", ErrShapeMismatch, len(a), len(b))
	}
	var pc PairCount
	for t := range a {
		switch {
		case a[t] && b[t]:
			pc.Both++
		case a[t]:
			pc.OnlyI++
		case b[t]:
			pc.OnlyJ++
		default:
			pc.Neither++
		}
	}
	return pc, nil
}
