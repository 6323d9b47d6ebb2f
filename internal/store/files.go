package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/augraph/internal/adjacency"
	"github.com/xkilldash9x/augraph/internal/frequency"
	"github.com/xkilldash9x/augraph/internal/graph"
)

const (
	manifestFile = "manifest.json"
	framesFile   = "nof_frames_per_label.csv"
	graphsFile   = "graphs.jsonl"
	// cornerCell heads the AU index column of every matrix CSV.
	cornerCell = "AU"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrMalformedArtifact is returned when a stored artifact cannot be read back.
var ErrMalformedArtifact = errors.New("store: malformed artifact")

// Manifest describes one run's artifacts in the output directory.
type Manifest struct {
	RunID          string                       `json:"run_id"`
	CreatedAt      time.Time                    `json:"created_at"`
	Channel        string                       `json:"channel"`
	Method         string                       `json:"method"`
	Percentile     float64                      `json:"percentile"`
	SelfLoops      bool                         `json:"self_loops"`
	AUs            []string                     `json:"aus"`
	Included       []string                     `json:"included_subjects"`
	Excluded       []string                     `json:"excluded_subjects"`
	Failures       []Failure                    `json:"failures"`
	FramesPerLabel map[string]int               `json:"frames_per_label"`
	Matrices       map[string]string            `json:"matrices"`
	Undefined      map[string][]adjacency.Entry `json:"undefined_entries,omitempty"`
}

// FileStore writes run artifacts as CSV and JSON files into one directory.
type FileStore struct {
	dir string
	log *zap.Logger
}

// NewFileStore creates the output directory if needed.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir, log: logger.Named("file_store")}, nil
}

// Dir returns the output directory.
func (s *FileStore) Dir() string { return s.dir }

// MatrixFile returns the file name of a named adjacency matrix.
func MatrixFile(name string) string { return "adjacency_matrix_" + name + ".csv" }

// CountsFile returns the file name of one label's population counts.
func CountsFile(channel string, label int) string {
	return fmt.Sprintf("counts_%s_%d.csv", channel, label)
}

// CountsEitherFile returns the file name of one label's n(i ∨ j) counts.
func CountsEitherFile(channel string, label int) string {
	return fmt.Sprintf("counts_%s_%d_or.csv", channel, label)
}

// Save writes every artifact of the run and its manifest.
func (s *FileStore) Save(ctx context.Context, run *Run) error {
	for _, l := range run.Labels() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if t, ok := run.Counts[l]; ok {
			if err := s.WriteCounts(run.Channel, l, t); err != nil {
				return err
			}
		}
	}
	if err := s.WriteFrames(run.FramesPerLabel); err != nil {
		return err
	}

	m := &Manifest{
		RunID:          run.ID,
		CreatedAt:      run.CreatedAt,
		Channel:        run.Channel,
		Method:         run.Method,
		Percentile:     run.Percentile,
		SelfLoops:      run.SelfLoops,
		AUs:            run.AUs,
		Included:       run.Included,
		Excluded:       run.Excluded,
		Failures:       run.Failures,
		FramesPerLabel: make(map[string]int, len(run.FramesPerLabel)),
		Matrices:       make(map[string]string, len(run.Matrices)),
	}
	for l, n := range run.FramesPerLabel {
		m.FramesPerLabel[strconv.Itoa(l)] = n
	}
	for _, name := range run.MatrixNames() {
		if err := ctx.Err(); err != nil {
			return err
		}
		mat := run.Matrices[name]
		if err := s.WriteMatrix(name, mat); err != nil {
			return err
		}
		m.Matrices[name] = MatrixFile(name)
		if len(mat.Undefined) > 0 {
			if m.Undefined == nil {
				m.Undefined = make(map[string][]adjacency.Entry)
			}
			m.Undefined[name] = mat.Undefined
		}
	}
	if err := s.WriteManifest(m); err != nil {
		return err
	}
	s.log.Info("Run artifacts written", zap.String("run_id", run.ID), zap.String("dir", s.dir), zap.Int("matrices", len(run.Matrices)))
	return nil
}

// WriteMatrix writes m with an AU header row and an AU index column.
func (s *FileStore) WriteMatrix(name string, m *adjacency.Matrix) error {
	rows := make([][]string, 0, m.Size()+1)
	rows = append(rows, append([]string{cornerCell}, m.AUs...))
	for i, r := range m.Rows() {
		row := make([]string, 0, len(r)+1)
		row = append(row, m.AUs[i])
		for _, v := range r {
			row = append(row, formatFloat(v))
		}
		rows = append(rows, row)
	}
	return s.writeCSV(MatrixFile(name), rows)
}

// ReadMatrix reads back a matrix written by WriteMatrix.
func (s *FileStore) ReadMatrix(name string) (*adjacency.Matrix, error) {
	rows, err := s.readCSV(MatrixFile(name))
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 || len(rows[0]) < 2 || rows[0][0] != cornerCell {
		return nil, fmt.Errorf("%w: %s has no AU header", ErrMalformedArtifact, MatrixFile(name))
	}
	aus := rows[0][1:]
	values := make([][]float64, 0, len(rows)-1)
	for i, r := range rows[1:] {
		if len(r) != len(aus)+1 || r[0] != aus[i] {
			return nil, fmt.Errorf("%w: %s row %d does not match the header", ErrMalformedArtifact, MatrixFile(name), i+1)
		}
		vals := make([]float64, len(aus))
		for j, cell := range r[1:] {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s row %d: %w", ErrMalformedArtifact, MatrixFile(name), i+1, err)
			}
			vals[j] = v
		}
		values = append(values, vals)
	}
	m, err := adjacency.FromRows(aus, values)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedArtifact, MatrixFile(name), err)
	}
	return m, nil
}

// WriteCounts writes the co-occurrence counts n(i ∧ j) and n(i ∨ j) of one
// label into CountsFile and CountsEitherFile.
func (s *FileStore) WriteCounts(channel string, label int, t *frequency.CountTensor) error {
	if err := s.writeCSV(CountsFile(channel, label), countRows(t, func(pc frequency.PairCount) int { return pc.Both })); err != nil {
		return err
	}
	return s.writeCSV(CountsEitherFile(channel, label), countRows(t, frequency.PairCount.Either))
}

func countRows(t *frequency.CountTensor, value func(frequency.PairCount) int) [][]string {
	aus := t.AUs()
	rows := make([][]string, 0, len(aus)+1)
	rows = append(rows, append([]string{cornerCell}, aus...))
	for i := range aus {
		row := make([]string, 0, len(aus)+1)
		row = append(row, aus[i])
		for j := range aus {
			row = append(row, strconv.Itoa(value(t.At(i, j))))
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteFrames writes the number of frames per label.
func (s *FileStore) WriteFrames(frames map[int]int) error {
	rows := [][]string{{"label", "frames"}}
	for _, l := range sortedLabels(frames) {
		rows = append(rows, []string{strconv.Itoa(l), strconv.Itoa(frames[l])})
	}
	return s.writeCSV(framesFile, rows)
}

// WriteManifest writes the run manifest.
func (s *FileStore) WriteManifest(m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, manifestFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest reads the run manifest.
func (s *FileStore) ReadManifest() (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest: %w", ErrMalformedArtifact, err)
	}
	return &m, nil
}

// WriteGraphs writes one JSON object per graph sample.
func (s *FileStore) WriteGraphs(samples []graph.Sample) (string, error) {
	path := filepath.Join(s.dir, graphsFile)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := EncodeGraphs(f, samples); err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}
	s.log.Info("Graph samples written", zap.String("path", path), zap.Int("samples", len(samples)))
	return path, nil
}

// EncodeGraphs writes samples as JSON lines.
func EncodeGraphs(w io.Writer, samples []graph.Sample) error {
	enc := json.NewEncoder(w)
	for i := range samples {
		if err := enc.Encode(&samples[i]); err != nil {
			return fmt.Errorf("failed to encode graph sample %d: %w", i, err)
		}
	}
	return nil
}

func (s *FileStore) writeCSV(name string, rows [][]string) error {
	path := filepath.Join(s.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

func (s *FileStore) readCSV(name string) ([][]string, error) {
	path := filepath.Join(s.dir, name)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedArtifact, path, err)
	}
	return rows, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
