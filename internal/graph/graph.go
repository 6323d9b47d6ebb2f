package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xkilldash9x/augraph/internal/adjacency"
)

// ErrUnknownLabel is returned for slice labels that are neither base nor pain labels.
var ErrUnknownLabel = errors.New("graph: label is neither a base nor a pain label")

// Sample is one graph: the node features of a slice, its class index and the
// shared edge structure in coordinate form.
type Sample struct {
	SubjectID  string      `json:"subject_id"`
	SliceID    int         `json:"slice_id"`
	Label      int         `json:"label"`
	Y          int         `json:"y"`
	X          [][]float64 `json:"x"`
	EdgeIndex  [2][]int    `json:"edge_index"`
	EdgeWeight []float64   `json:"edge_weight"`
}

// Classes maps raw slice labels to class indices 0..C-1: the base labels
// present in the table come first, ascending, followed by the pain labels.
type Classes struct {
	index  map[int]int
	labels []int
}

// NewClasses derives the class mapping from the labels present in a table.
func NewClasses(present, base, pain []int) (*Classes, error) {
	isBase := make(map[int]bool, len(base))
	for _, l := range base {
		isBase[l] = true
	}
	isPain := make(map[int]bool, len(pain))
	for _, l := range pain {
		isPain[l] = true
	}

	c := &Classes{index: make(map[int]int, len(present))}
	var painPresent []int
	for _, l := range present {
		switch {
		case isBase[l]:
			c.index[l] = len(c.labels)
			c.labels = append(c.labels, l)
		case isPain[l]:
			painPresent = append(painPresent, l)
		default:
			return nil, fmt.Errorf("%w: %d", ErrUnknownLabel, l)
		}
	}
	for _, l := range painPresent {
		c.index[l] = len(c.labels)
		c.labels = append(c.labels, l)
	}
	return c, nil
}

// Index returns the class index of a raw label.
func (c *Classes) Index(label int) (int, bool) {
	i, ok := c.index[label]
	return i, ok
}

// Labels returns the raw label of every class index.
func (c *Classes) Labels() []int { return c.labels }

// Len returns the number of classes.
func (c *Classes) Len() int { return len(c.labels) }

// DenseToSparse returns the non-zero entries of m in row-major order as a
// coordinate list.
func DenseToSparse(m *adjacency.Matrix) (index [2][]int, weights []float64) {
	n := m.Size()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if v := m.At(i, j); v != 0 {
				index[0] = append(index[0], i)
				index[1] = append(index[1], j)
				weights = append(weights, v)
			}
		}
	}
	if index[0] == nil {
		index = [2][]int{{}, {}}
		weights = []float64{}
	}
	return index, weights
}

// NodeName strips the tracker channel suffix from a feature table channel,
// e.g. AU01_r -> AU01.
func NodeName(channel string) string {
	for _, suffix := range []string{"_r", "_c"} {
		if strings.HasSuffix(channel, suffix) {
			return strings.TrimSuffix(channel, suffix)
		}
	}
	return channel
}

// Build turns every slice of the table into a graph sample sharing the edge
// structure of adj. The adjacency is reordered to the table's node order.
func Build(table *FeatureTable, adj *adjacency.Matrix, classes *Classes) ([]Sample, error) {
	nodes := make([]string, table.NumNodes())
	for k, ch := range table.Channels {
		nodes[k] = NodeName(ch)
	}
	ordered, err := adjacency.Select(adj, nodes)
	if err != nil {
		return nil, fmt.Errorf("adjacency does not cover the feature table nodes: %w", err)
	}
	index, weights := DenseToSparse(ordered)

	samples := make([]Sample, 0, len(table.Slices))
	for _, s := range table.Slices {
		if len(s.X) != table.NumNodes() {
			return nil, fmt.Errorf("%w: slice %d of subject %s has %d nodes", ErrInconsistentFeatures, s.SliceID, s.SubjectID, len(s.X))
		}
		for _, x := range s.X {
			if len(x) != table.NumNodeFeatures() {
				return nil, fmt.Errorf("%w: slice %d of subject %s", ErrInconsistentFeatures, s.SliceID, s.SubjectID)
			}
		}
		y, ok := classes.Index(s.Label)
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownLabel, s.Label)
		}
		samples = append(samples, Sample{
			SubjectID:  s.SubjectID,
			SliceID:    s.SliceID,
			Label:      s.Label,
			Y:          y,
			X:          s.X,
			EdgeIndex:  index,
			EdgeWeight: weights,
		})
	}
	return samples, nil
}
