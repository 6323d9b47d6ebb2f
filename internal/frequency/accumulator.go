package frequency

import (
	"fmt"
	"sort"
)

// pairSum accumulates the raw numerator and denominator counts of one ratio
// across subjects, together with how many subjects contributed.
type pairSum struct {
	num, den     int64
	contributors int
}

func (p *pairSum) add(num, den int) {
	p.num += int64(num)
	p.den += int64(den)
	p.contributors++
}

func (p pairSum) frequency() Frequency {
	if p.contributors == 0 {
		return Undefined()
	}
	return ratio(p.num, p.den)
}

// ClassStats are the population statistics of one class. Population values
// are recomputed from counts summed over subjects, not averaged per subject,
// so subjects with more frames weigh proportionally more. A subject only adds
// to a pair's ratio when the ratio is defined for that subject.
type ClassStats struct {
	Name   string
	Labels []int
	// Counts is the plain sum of every subject's class tensor.
	Counts   *CountTensor
	Subjects int

	cond []pairSum // n×n, ordered (i, j): P(i|j)
	symm []pairSum // n×n, filled symmetrically
}

func newClassStats(name string, labels []int, aus []string) *ClassStats {
	n := len(aus)
	return &ClassStats{
		Name:   name,
		Labels: append([]int(nil), labels...),
		Counts: NewCountTensor(aus),
		cond:   make([]pairSum, n*n),
		symm:   make([]pairSum, n*n),
	}
}

// AUs returns the AU order of the statistics.
func (s *ClassStats) AUs() []string { return s.Counts.AUs() }

func (s *ClassStats) add(t *CountTensor) error {
	if err := s.Counts.Add(t); err != nil {
		return err
	}
	n := t.Size()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			pc := t.At(i, j)
			if pc.ActiveJ() > 0 {
				s.cond[i*n+j].add(pc.Both, pc.ActiveJ())
			}
			if j >= i && pc.ActiveI() > 0 && pc.ActiveJ() > 0 {
				s.symm[i*n+j].add(pc.Both, pc.Either())
				if j != i {
					s.symm[j*n+i].add(pc.Both, pc.Either())
				}
			}
		}
	}
	s.Subjects++
	return nil
}

// Cond returns the population P(i|j).
func (s *ClassStats) Cond() *Tensor {
	return s.tensor(s.cond)
}

// Symm returns the population symmetrized conditional frequency.
func (s *ClassStats) Symm() *Tensor {
	return s.tensor(s.symm)
}

// Joint returns the population P(i ∧ j).
func (s *ClassStats) Joint() (*Tensor, error) {
	return RelFreqsJoint(s.Counts)
}

// Uncond returns the population activation rate of every AU.
func (s *ClassStats) Uncond() ([]float64, error) {
	return RelFreqsUncond(s.Counts)
}

// CondContributors returns how many subjects contributed to P(i|j).
func (s *ClassStats) CondContributors(i, j int) int {
	return s.cond[i*s.Counts.Size()+j].contributors
}

// SymmContributors returns how many subjects contributed to the symmetric value of (i, j).
func (s *ClassStats) SymmContributors(i, j int) int {
	return s.symm[i*s.Counts.Size()+j].contributors
}

func (s *ClassStats) tensor(sums []pairSum) *Tensor {
	out := NewTensor(s.AUs())
	n := s.Counts.Size()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out.Set(i, j, sums[i*n+j].frequency())
		}
	}
	return out
}

// Accumulator reduces per-subject counts into population statistics per
// label and per class. Add is a commutative sum over integer counts; the
// reduced statistics do not depend on the order subjects are added in.
// It is not safe for concurrent use.
type Accumulator struct {
	aus     []string
	labels  []int
	byLabel map[int]*CountTensor
	classes map[string]*ClassStats
}

// NewAccumulator prepares an empty accumulator over the AU order, label
// alphabet and named label groups.
func NewAccumulator(aus []string, labels []int, classes map[string][]int) *Accumulator {
	a := &Accumulator{
		aus:     append([]string(nil), aus...),
		labels:  append([]int(nil), labels...),
		byLabel: make(map[int]*CountTensor, len(labels)),
		classes: make(map[string]*ClassStats, len(classes)),
	}
	for _, l := range labels {
		a.byLabel[l] = NewCountTensor(aus)
	}
	for name, ls := range classes {
		a.classes[name] = newClassStats(name, ls, aus)
	}
	return a
}

// Add folds one subject into the population. Every tensor of the subject is
// checked before anything is summed, so a rejected subject leaves the
// population unchanged.
func (a *Accumulator) Add(s *SubjectCounts) error {
	layout := NewCountTensor(a.aus)
	if err := layout.sameLayout(s.AUs); err != nil {
		return fmt.Errorf("subject %s: %w", s.SubjectID, err)
	}
	for _, l := range a.labels {
		if t, ok := s.ByLabel[l]; ok {
			if err := layout.sameLayout(t.AUs()); err != nil {
				return fmt.Errorf("subject %s label %d: %w", s.SubjectID, l, err)
			}
		}
	}
	names := a.ClassNames()
	byClass := make([]*CountTensor, len(names))
	for k, name := range names {
		t, err := s.Class(a.classes[name].Labels)
		if err != nil {
			return err
		}
		byClass[k] = t
	}

	for _, l := range a.labels {
		if t, ok := s.ByLabel[l]; ok {
			if err := a.byLabel[l].Add(t); err != nil {
				return fmt.Errorf("subject %s label %d: %w", s.SubjectID, l, err)
			}
		}
	}
	for k, name := range names {
		if err := a.classes[name].add(byClass[k]); err != nil {
			return fmt.Errorf("subject %s class %s: %w", s.SubjectID, name, err)
		}
	}
	return nil
}

// AUs returns the AU order.
func (a *Accumulator) AUs() []string { return a.aus }

// Labels returns the label alphabet.
func (a *Accumulator) Labels() []int { return a.labels }

// Label returns the population counts of label l, or nil if l is not in the alphabet.
func (a *Accumulator) Label(l int) *CountTensor { return a.byLabel[l] }

// Class returns the population statistics of a class.
func (a *Accumulator) Class(name string) (*ClassStats, error) {
	c, ok := a.classes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClass, name)
	}
	return c, nil
}

// ClassNames returns the configured class names, sorted.
func (a *Accumulator) ClassNames() []string {
	names := make([]string, 0, len(a.classes))
	for name := range a.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
