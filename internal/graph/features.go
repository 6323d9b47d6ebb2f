// Package graph assembles per-slice graph samples from the descriptor
// feature table and an AU adjacency matrix.
package graph

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// indexColumns are the leading row-index columns of the feature table.
var indexColumns = []string{"subj_id", "slice_id", "label", "start_idx", "end_idx"}

var (
	// ErrInconsistentFeatures is returned when nodes carry different numbers of features.
	ErrInconsistentFeatures = errors.New("graph: inconsistent number of node features")
	// ErrMalformedTable is returned for feature tables that cannot be parsed.
	ErrMalformedTable = errors.New("graph: malformed feature table")
)

// Slice is one row of the feature table: the descriptors of one labelled
// signal segment of one subject.
type Slice struct {
	SubjectID string
	SliceID   int
	Label     int
	Start     int
	End       int
	// X[node][feature]
	X [][]float64
}

// FeatureTable holds the slices of the descriptor collaborator's output.
// Its columns are grouped by channel (one channel per graph node).
type FeatureTable struct {
	Channels []string
	Features []string
	Slices   []Slice
}

// NumNodes returns the number of graph nodes.
func (t *FeatureTable) NumNodes() int { return len(t.Channels) }

// NumNodeFeatures returns the number of features each node carries.
func (t *FeatureTable) NumNodeFeatures() int { return len(t.Features) }

// Labels returns the distinct slice labels, ascending.
func (t *FeatureTable) Labels() []int {
	seen := make(map[int]bool)
	var out []int
	for _, s := range t.Slices {
		if !seen[s.Label] {
			seen[s.Label] = true
			out = append(out, s.Label)
		}
	}
	sort.Ints(out)
	return out
}

// LoadFeatureTable opens and parses the feature table at path.
func LoadFeatureTable(path string, useLabels []int) (*FeatureTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open feature table: %w", err)
	}
	defer f.Close()
	return ReadFeatureTable(f, useLabels)
}

// ReadFeatureTable parses a feature table. The first two rows name the
// channel and the feature of every value column; the first five columns are
// the slice index. An index-name row right after the header is skipped.
// When useLabels is non-empty only slices with one of these labels are kept.
// Slices are returned sorted by subject id, stable within a subject.
func ReadFeatureTable(r io.Reader, useLabels []int) (*FeatureTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	channels, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading channel header: %w", ErrMalformedTable, err)
	}
	features, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading feature header: %w", ErrMalformedTable, err)
	}
	if len(channels) <= len(indexColumns) || len(features) != len(channels) {
		return nil, fmt.Errorf("%w: header has %d channel and %d feature cells", ErrMalformedTable, len(channels), len(features))
	}

	table, layout, err := newLayout(channels[len(indexColumns):], features[len(indexColumns):])
	if err != nil {
		return nil, err
	}

	keep := make(map[int]bool, len(useLabels))
	for _, l := range useLabels {
		keep[l] = true
	}

	width := len(channels)
	first := true
	for line := 3; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrMalformedTable, line, err)
		}
		if first {
			first = false
			if isIndexNameRow(rec) {
				continue
			}
		}
		if len(rec) != width {
			return nil, fmt.Errorf("%w: line %d has %d cells, expected %d", ErrMalformedTable, line, len(rec), width)
		}

		s, err := parseSlice(rec, layout, table.NumNodes(), table.NumNodeFeatures())
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrMalformedTable, line, err)
		}
		if len(keep) > 0 && !keep[s.Label] {
			continue
		}
		table.Slices = append(table.Slices, s)
	}

	sort.SliceStable(table.Slices, func(i, j int) bool {
		return table.Slices[i].SubjectID < table.Slices[j].SubjectID
	})
	return table, nil
}

// cell locates one value column in the node-feature grid.
type cell struct{ node, feature int }

// newLayout groups the value columns by channel. Every channel must carry
// the same features, in the same order.
func newLayout(channels, features []string) (*FeatureTable, []cell, error) {
	table := &FeatureTable{}
	nodeOf := make(map[string]int)
	perNode := make(map[int][]string)
	layout := make([]cell, len(channels))

	for k, ch := range channels {
		n, ok := nodeOf[ch]
		if !ok {
			n = len(table.Channels)
			nodeOf[ch] = n
			table.Channels = append(table.Channels, ch)
		}
		layout[k] = cell{node: n, feature: len(perNode[n])}
		perNode[n] = append(perNode[n], features[k])
	}

	table.Features = perNode[0]
	for n, ch := range table.Channels {
		got := perNode[n]
		if len(got) != len(table.Features) {
			return nil, nil, fmt.Errorf("%w: channel %s has %d features, %s has %d",
				ErrInconsistentFeatures, ch, len(got), table.Channels[0], len(table.Features))
		}
		for f := range got {
			if got[f] != table.Features[f] {
				return nil, nil, fmt.Errorf("%w: channel %s feature %d is %q, expected %q",
					ErrInconsistentFeatures, ch, f, got[f], table.Features[f])
			}
		}
	}
	return table, layout, nil
}

func isIndexNameRow(rec []string) bool {
	if len(rec) == 0 || strings.TrimSpace(rec[0]) != indexColumns[0] {
		return false
	}
	for _, v := range rec[len(indexColumns):] {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func parseSlice(rec []string, layout []cell, nodes, features int) (Slice, error) {
	ints := make([]int, len(indexColumns)-1)
	for k := range ints {
		v, err := strconv.Atoi(strings.TrimSpace(rec[k+1]))
		if err != nil {
			// Labels may have been written as floats.
			f, ferr := strconv.ParseFloat(strings.TrimSpace(rec[k+1]), 64)
			if ferr != nil || f != float64(int(f)) {
				return Slice{}, fmt.Errorf("column %s: %q is not an integer", indexColumns[k+1], rec[k+1])
			}
			v = int(f)
		}
		ints[k] = v
	}

	s := Slice{
		SubjectID: strings.TrimSpace(rec[0]),
		SliceID:   ints[0],
		Label:     ints[1],
		Start:     ints[2],
		End:       ints[3],
		X:         make([][]float64, nodes),
	}
	for n := range s.X {
		s.X[n] = make([]float64, features)
	}
	for k, c := range layout {
		raw := strings.TrimSpace(rec[len(indexColumns)+k])
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Slice{}, fmt.Errorf("value %q: %w", raw, err)
		}
		s.X[c.node][c.feature] = v
	}
	return s, nil
}
