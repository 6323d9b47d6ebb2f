// Package dataset reads per-subject AU activation tables and frame labels
// written by the external face tracker and the label generator.
//
// Layout on disk:
//
//	<data_dir>/S<id>_fvf.csv   tracker output, one row per frame
//	<labels_dir>/S<id>.csv     one header line, one integer label per frame
package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xkilldash9x/augraph/internal/config"
)

const (
	dataFileSuffix   = "_fvf.csv"
	confidenceColumn = "confidence"
)

var (
	// ErrMissingColumn is returned when a required tracker column is absent.
	ErrMissingColumn = errors.New("dataset: missing column")
	// ErrMalformed is returned for cells or lines that cannot be parsed.
	ErrMalformed = errors.New("dataset: malformed input")
	// ErrMisaligned is returned when frame-level streams disagree in length.
	ErrMisaligned = errors.New("dataset: tracker frames and labels are misaligned")
)

// Recording is one subject's activation table with its aligned labels.
// Columns[k][t] reports whether AUs[k] is active at frame t.
type Recording struct {
	SubjectID string
	AUs       []string
	Columns   [][]bool
	Labels    []int
}

// Frames returns the number of frames in the activation table.
func (r *Recording) Frames() int {
	if len(r.Columns) == 0 {
		return 0
	}
	return len(r.Columns[0])
}

// Options controls how raw tracker values turn into activations.
type Options struct {
	// Columns are the tracker column names, aligned with AUs.
	Columns []string
	AUs     []string
	// ActivityThreshold: a value v is active when v >= ActivityThreshold.
	ActivityThreshold float64
	// ConfidenceThreshold drops frames with confidence <= threshold. Zero disables.
	ConfidenceThreshold float64
}

// Reader loads recordings from the configured directories.
type Reader struct {
	dataDir   string
	labelsDir string
	opts      Options
}

// NewReader builds a Reader for the given dataset section and AU order.
func NewReader(cfg config.DatasetConfig, aus []string) *Reader {
	return &Reader{
		dataDir:   cfg.DataDir,
		labelsDir: cfg.LabelsDir,
		opts: Options{
			Columns:             cfg.ChannelColumns(aus),
			AUs:                 append([]string(nil), aus...),
			ActivityThreshold:   cfg.ActivityThreshold,
			ConfidenceThreshold: cfg.ConfidenceThreshold,
		},
	}
}

// Subjects lists the subject ids that have a tracker file, sorted.
func (r *Reader) Subjects() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(r.dataDir, "S*"+dataFileSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to list tracker files in %s: %w", r.dataDir, err)
	}
	ids := make([]string, 0, len(paths))
	for _, p := range paths {
		name := strings.TrimSuffix(filepath.Base(p), dataFileSuffix)
		ids = append(ids, strings.TrimPrefix(name, "S"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Load reads one subject's tracker output and labels.
func (r *Reader) Load(ctx context.Context, subjectID string) (*Recording, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.Open(filepath.Join(r.dataDir, "S"+subjectID+dataFileSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to open tracker file for subject %s: %w", subjectID, err)
	}
	defer data.Close()

	labels, err := os.Open(filepath.Join(r.labelsDir, "S"+subjectID+".csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to open label file for subject %s: %w", subjectID, err)
	}
	defer labels.Close()

	return ReadRecording(subjectID, data, labels, r.opts)
}

// ReadRecording parses a tracker table and a label stream into a Recording.
func ReadRecording(subjectID string, data, labels io.Reader, opts Options) (*Recording, error) {
	if len(opts.Columns) != len(opts.AUs) {
		return nil, fmt.Errorf("%w: %d columns for %d AUs", ErrMalformed, len(opts.Columns), len(opts.AUs))
	}

	values, confidence, err := readTracker(data, opts)
	if err != nil {
		return nil, fmt.Errorf("subject %s: %w", subjectID, err)
	}
	lbls, err := readLabels(labels)
	if err != nil {
		return nil, fmt.Errorf("subject %s: %w", subjectID, err)
	}

	frames := 0
	if len(values) > 0 {
		frames = len(values[0])
	}

	keep := func(int) bool { return true }
	if opts.ConfidenceThreshold > 0 {
		if len(lbls) != frames {
			return nil, fmt.Errorf("subject %s: %w: %d frames, %d labels", subjectID, ErrMisaligned, frames, len(lbls))
		}
		keep = func(t int) bool { return confidence[t] > opts.ConfidenceThreshold }
	}

	rec := &Recording{
		SubjectID: subjectID,
		AUs:       append([]string(nil), opts.AUs...),
		Columns:   make([][]bool, len(values)),
	}
	for k, col := range values {
		active := make([]bool, 0, frames)
		for t, v := range col {
			if keep(t) {
				// NaN compares false, so untracked frames count as inactive.
				active = append(active, v >= opts.ActivityThreshold)
			}
		}
		rec.Columns[k] = active
	}
	if opts.ConfidenceThreshold > 0 {
		rec.Labels = make([]int, 0, len(lbls))
		for t, l := range lbls {
			if keep(t) {
				rec.Labels = append(rec.Labels, l)
			}
		}
	} else {
		rec.Labels = lbls
	}
	return rec, nil
}

// readTracker returns column-major values for opts.Columns, and the
// confidence column when filtering is enabled.
func readTracker(r io.Reader, opts Options) ([][]float64, []float64, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: tracker header: %v", ErrMalformed, err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}

	cols := make([]int, len(opts.Columns))
	for k, name := range opts.Columns {
		i, ok := index[name]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
		cols[k] = i
	}
	confCol := -1
	if opts.ConfidenceThreshold > 0 {
		i, ok := index[confidenceColumn]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingColumn, confidenceColumn)
		}
		confCol = i
	}

	values := make([][]float64, len(cols))
	var confidence []float64
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: tracker line %d: %v", ErrMalformed, line, err)
		}
		for k, i := range cols {
			v, err := parseCell(rec[i])
			if err != nil {
				return nil, nil, fmt.Errorf("%w: tracker line %d column %s: %v", ErrMalformed, line, opts.Columns[k], err)
			}
			values[k] = append(values[k], v)
		}
		if confCol >= 0 {
			v, err := parseCell(rec[confCol])
			if err != nil {
				return nil, nil, fmt.Errorf("%w: tracker line %d column %s: %v", ErrMalformed, line, confidenceColumn, err)
			}
			confidence = append(confidence, v)
		}
	}
	return values, confidence, nil
}

func parseCell(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// readLabels skips the header line and parses one label per line. Labels
// written as floats ("3.0") are accepted.
func readLabels(r io.Reader) ([]int, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: label header: %v", ErrMalformed, err)
	}

	var labels []int
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: label line %d: %v", ErrMalformed, line, err)
		}
		if len(rec) == 0 {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(rec[len(rec)-1]), 64)
		if err != nil || f != math.Trunc(f) {
			return nil, fmt.Errorf("%w: label line %d: %q is not an integer label", ErrMalformed, line, rec[len(rec)-1])
		}
		labels = append(labels, int(f))
	}
	return labels, nil
}
