package frequency

import (
	"fmt"

	"github.com/xkilldash9x/augraph/internal/dataset"
)

// SubjectCounts is the frequency analysis of one subject: a count tensor for
// every label of the alphabet.
type SubjectCounts struct {
	SubjectID string
	AUs       []string
	Labels    []int
	ByLabel   map[int]*CountTensor
	// Ignored counts frames whose label is outside the alphabet.
	Ignored int
}

// Frames returns the number of frames carrying label l.
func (s *SubjectCounts) Frames(l int) int {
	if t, ok := s.ByLabel[l]; ok {
		return t.Frames()
	}
	return 0
}

// Class sums the label tensors of a class into one tensor. A label tensor
// whose AU layout differs from s.AUs is an ErrShapeMismatch.
func (s *SubjectCounts) Class(labels []int) (*CountTensor, error) {
	out := NewCountTensor(s.AUs)
	for _, l := range labels {
		if t, ok := s.ByLabel[l]; ok {
			if err := out.Add(t); err != nil {
				return nil, fmt.Errorf("subject %s label %d: %w", s.SubjectID, l, err)
			}
		}
	}
	return out, nil
}

// AnalyzeSubject counts pair co-occurrences of one subject for every label of
// the alphabet. The caller guarantees that the subject is eligible.
func AnalyzeSubject(rec *dataset.Recording, labels []int) (*SubjectCounts, error) {
	if len(rec.AUs) != len(rec.Columns) {
		return nil, fmt.Errorf("%w: subject %s has %d AU columns for %d AUs", ErrShapeMismatch, rec.SubjectID, len(rec.Columns), len(rec.AUs))
	}
	frames := rec.Frames()
	for k, col := range rec.Columns {
		if len(col) != frames {
			return nil, fmt.Errorf("%w: subject %s column %s has %d frames, expected %d", ErrShapeMismatch, rec.SubjectID, rec.AUs[k], len(col), frames)
		}
	}
	if len(rec.Labels) != frames {
		return nil, fmt.Errorf("%w: subject %s has %d frames but %d labels", ErrShapeMismatch, rec.SubjectID, frames, len(rec.Labels))
	}
	if frames == 0 {
		return nil, fmt.Errorf("%w: subject %s has no frames", ErrEmptySequence, rec.SubjectID)
	}

	frameIdx := make(map[int][]int, len(labels))
	for _, l := range labels {
		frameIdx[l] = nil
	}
	ignored := 0
	for t, l := range rec.Labels {
		if _, ok := frameIdx[l]; !ok {
			ignored++
			continue
		}
		frameIdx[l] = append(frameIdx[l], t)
	}

	out := &SubjectCounts{
		SubjectID: rec.SubjectID,
		AUs:       append([]string(nil), rec.AUs...),
		Labels:    append([]int(nil), labels...),
		ByLabel:   make(map[int]*CountTensor, len(labels)),
		Ignored:   ignored,
	}
	for _, l := range labels {
		t, err := countFrames(rec, frameIdx[l])
		if err != nil {
			return nil, fmt.Errorf("subject %s label %d: %w", rec.SubjectID, l, err)
		}
		out.ByLabel[l] = t
	}
	return out, nil
}

// countFrames builds the count tensor of the given frame subset.
func countFrames(rec *dataset.Recording, frames []int) (*CountTensor, error) {
	t := NewCountTensor(rec.AUs)
	t.frames = len(frames)

	sub := make([][]bool, len(rec.Columns))
	for k, col := range rec.Columns {
		s := make([]bool, len(frames))
		for n, f := range frames {
			s[n] = col[f]
		}
		sub[k] = s
	}
	for i := range sub {
		for j := i; j < len(sub); j++ {
			pc, err := CountPair(sub[i], sub[j])
			if err != nil {
				return nil, err
			}
			t.set(i, j, pc)
		}
	}
	return t, nil
}
