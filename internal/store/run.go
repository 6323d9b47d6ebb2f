// Package store persists the artifacts of an analysis run: adjacency
// matrices, population counts and the run manifest.
package store

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/augraph/internal/adjacency"
	"github.com/xkilldash9x/augraph/internal/config"
	"github.com/xkilldash9x/augraph/internal/frequency"
)

// Sink persists a completed run.
type Sink interface {
	Save(ctx context.Context, run *Run) error
}

// Failure is a subject that was skipped during the run.
type Failure struct {
	SubjectID string `json:"subject_id"`
	Error     string `json:"error"`
}

// Run collects everything one analysis run produced.
type Run struct {
	ID         string
	CreatedAt  time.Time
	Channel    string
	Method     string
	Percentile float64
	SelfLoops  bool
	AUs        []string

	Included []string
	Excluded []string
	Failures []Failure

	FramesPerLabel map[int]int
	// Counts holds the population count tensor of every label.
	Counts map[int]*frequency.CountTensor
	// Matrices maps an artifact name (a class name, "delta" or
	// "delta_normalized") to its matrix.
	Matrices map[string]*adjacency.Matrix
}

// NewRun starts a run record for the given configuration.
func NewRun(cfg *config.Config) *Run {
	return &Run{
		ID:             uuid.NewString(),
		CreatedAt:      time.Now().UTC(),
		Channel:        cfg.Dataset.Channel,
		Method:         cfg.Adjacency.Method,
		Percentile:     cfg.Adjacency.Percentile,
		SelfLoops:      cfg.Adjacency.SelfLoops,
		AUs:            append([]string(nil), cfg.Analysis.AUs...),
		FramesPerLabel: make(map[int]int),
		Counts:         make(map[int]*frequency.CountTensor),
		Matrices:       make(map[string]*adjacency.Matrix),
	}
}

// MatrixNames returns the names of the run's matrices, sorted.
func (r *Run) MatrixNames() []string {
	names := make([]string, 0, len(r.Matrices))
	for name := range r.Matrices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Labels returns the labels that have counts, sorted.
func (r *Run) Labels() []int { return sortedLabels(r.FramesPerLabel) }

func sortedLabels(frames map[int]int) []int {
	labels := make([]int, 0, len(frames))
	for l := range frames {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	return labels
}
