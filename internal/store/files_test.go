package store

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/augraph/internal/adjacency"
	"github.com/xkilldash9x/augraph/internal/config"
	"github.com/xkilldash9x/augraph/internal/dataset"
	"github.com/xkilldash9x/augraph/internal/frequency"
	"github.com/xkilldash9x/augraph/internal/graph"
)

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "results"), zap.NewNop())
	require.NoError(t, err)
	return fs
}

func TestFileStoreMatrixRoundTrip(t *testing.T) {
	fs := newFileStore(t)
	m, err := adjacency.FromRows([]string{"AU01", "AU02", "AU04"}, [][]float64{
		{0, 1.0 / 3, -0.125},
		{1.0 / 3, 0, 0},
		{0, 0.75, 0},
	})
	require.NoError(t, err)

	require.NoError(t, fs.WriteMatrix("pain", m))
	got, err := fs.ReadMatrix("pain")
	require.NoError(t, err)
	assert.Equal(t, m.AUs, got.AUs)
	assert.Equal(t, m.Rows(), got.Rows(), "floats survive the round trip exactly")

	raw, err := os.ReadFile(filepath.Join(fs.Dir(), "adjacency_matrix_pain.csv"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("AU,AU01,AU02,AU04\nAU01,0,")))
}

func TestFileStoreReadMatrixErrors(t *testing.T) {
	fs := newFileStore(t)

	_, err := fs.ReadMatrix("missing")
	assert.ErrorIs(t, err, os.ErrNotExist)

	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(fs.Dir(), MatrixFile(name)), []byte(content), 0o644))
	}
	write("noheader", "AU01,AU02\n0,1\n")
	_, err = fs.ReadMatrix("noheader")
	assert.ErrorIs(t, err, ErrMalformedArtifact)

	write("swapped", "AU,AU01,AU02\nAU02,0,1\nAU01,1,0\n")
	_, err = fs.ReadMatrix("swapped")
	assert.ErrorIs(t, err, ErrMalformedArtifact)

	write("nan", "AU,AU01\nAU01,x\n")
	_, err = fs.ReadMatrix("nan")
	assert.ErrorIs(t, err, ErrMalformedArtifact)
}

func TestFileStoreSave(t *testing.T) {
	fs := newFileStore(t)
	run := testRun(t)

	rec := &dataset.Recording{
		SubjectID: "001",
		AUs:       run.AUs,
		Columns:   [][]bool{{true, true, false}, {true, false, false}},
		Labels:    []int{0, 0, 3},
	}
	sc, err := frequency.AnalyzeSubject(rec, []int{0, 3})
	require.NoError(t, err)
	run.Counts[0] = sc.ByLabel[0]
	run.Counts[3] = sc.ByLabel[3]
	run.Matrices["pain"].Undefined = []adjacency.Entry{{From: "AU01", To: "AU02"}}

	require.NoError(t, fs.Save(context.Background(), run))

	for _, name := range []string{
		"adjacency_matrix_pain.csv",
		"adjacency_matrix_delta.csv",
		"counts_AUc_0.csv",
		"counts_AUc_3.csv",
		"counts_AUc_0_or.csv",
		"counts_AUc_3_or.csv",
		"nof_frames_per_label.csv",
		"manifest.json",
	} {
		assert.FileExists(t, filepath.Join(fs.Dir(), name))
	}

	counts, err := os.ReadFile(filepath.Join(fs.Dir(), "counts_AUc_0.csv"))
	require.NoError(t, err)
	assert.Equal(t, "AU,AU01,AU02\nAU01,2,1\nAU02,1,1\n", string(counts))

	either, err := os.ReadFile(filepath.Join(fs.Dir(), CountsEitherFile(config.ChannelClassification, 0)))
	require.NoError(t, err)
	assert.Equal(t, "AU,AU01,AU02\nAU01,2,2\nAU02,2,1\n", string(either))

	frames, err := os.ReadFile(filepath.Join(fs.Dir(), "nof_frames_per_label.csv"))
	require.NoError(t, err)
	assert.Equal(t, "label,frames\n0,40\n3,12\n", string(frames))

	m, err := fs.ReadManifest()
	require.NoError(t, err)
	assert.Equal(t, run.ID, m.RunID)
	assert.True(t, run.CreatedAt.Equal(m.CreatedAt))
	assert.Equal(t, config.ChannelClassification, m.Channel)
	assert.Equal(t, []string{"001", "002"}, m.Included)
	assert.Equal(t, map[string]int{"0": 40, "3": 12}, m.FramesPerLabel)
	assert.Equal(t, "adjacency_matrix_delta.csv", m.Matrices[config.MatrixDelta])
	assert.Equal(t, []adjacency.Entry{{From: "AU01", To: "AU02"}}, m.Undefined["pain"])
	assert.Equal(t, []Failure{{SubjectID: "003", Error: "boom"}}, m.Failures)
}

func TestFileStoreSaveHonorsContext(t *testing.T) {
	fs := newFileStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, fs.Save(ctx, testRun(t)), context.Canceled)
}

func TestWriteGraphs(t *testing.T) {
	fs := newFileStore(t)
	samples := []graph.Sample{
		{SubjectID: "001", SliceID: 1, Label: 100, Y: 0, X: [][]float64{{1, 2}, {3, 4}}, EdgeIndex: [2][]int{{0}, {1}}, EdgeWeight: []float64{0.5}},
		{SubjectID: "002", SliceID: 0, Label: 3, Y: 1, X: [][]float64{{5, 6}, {7, 8}}, EdgeIndex: [2][]int{{0}, {1}}, EdgeWeight: []float64{0.5}},
	}

	path, err := fs.WriteGraphs(samples)
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var decoded []graph.Sample
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var s graph.Sample
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &s))
		decoded = append(decoded, s)
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, samples, decoded)

	var buf bytes.Buffer
	require.NoError(t, EncodeGraphs(&buf, samples[:1]))
	assert.JSONEq(t, `{"subject_id":"001","slice_id":1,"label":100,"y":0,"x":[[1,2],[3,4]],"edge_index":[[0],[1]],"edge_weight":[0.5]}`, buf.String())
}
