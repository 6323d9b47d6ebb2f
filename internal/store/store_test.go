package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/augraph/internal/adjacency"
	"github.com/xkilldash9x/augraph/internal/config"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func testRun(t *testing.T) *Run {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Analysis.AUs = []string{"AU01", "AU02"}
	run := NewRun(cfg)
	run.Included = []string{"001", "002"}
	run.Excluded = []string{"014"}
	run.Failures = []Failure{{SubjectID: "003", Error: "boom"}}
	run.FramesPerLabel = map[int]int{0: 40, 3: 12}

	pain, err := adjacency.FromRows(cfg.Analysis.AUs, [][]float64{{0, 0.25}, {0.25, 0}})
	require.NoError(t, err)
	delta, err := adjacency.FromRows(cfg.Analysis.AUs, [][]float64{{0, -0.1}, {0, 0}})
	require.NoError(t, err)
	run.Matrices["pain"] = pain
	run.Matrices[config.MatrixDelta] = delta
	return run
}

// -- Test Cases --

func TestNewPGStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = NewPGStore(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing()
	store, err := NewPGStore(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)

	mockPool.ExpectExec(flexibleSQLMatcher(schemaSQL)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPGStoreSave(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist a full run without rollback errors", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		mockPool.ExpectPing()
		store, err := NewPGStore(ctx, mockPool, zap.New(observedZapCore))
		require.NoError(t, err)

		run := testRun(t)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(run.ID, run.CreatedAt, run.Channel, run.Method, run.Percentile, run.SelfLoops,
				run.AUs, run.Included, run.Excluded, []string{"003"}).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		batchExp := mockPool.ExpectBatch()
		batchExp.ExpectExec(flexibleSQLMatcher(sqlInsertLabelFrames)).
			WithArgs(run.ID, 0, int64(40)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		batchExp.ExpectExec(flexibleSQLMatcher(sqlInsertLabelFrames)).
			WithArgs(run.ID, 3, int64(12)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		// delta has one non-zero entry, pain two.
		mockPool.ExpectCopyFrom(pgx.Identifier{"adjacency_entries"}, entryColumns).
			WillReturnResult(3)

		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, store.Save(ctx, run))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("should handle transaction begin failure", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		store, err := NewPGStore(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		beginErr := errors.New("cannot begin tx")
		mockPool.ExpectBegin().WillReturnError(beginErr)

		err = store.Save(ctx, testRun(t))
		assert.ErrorIs(t, err, beginErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should rollback if copying entries fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		store, err := NewPGStore(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		run := testRun(t)
		run.FramesPerLabel = nil
		copyErr := errors.New("copy from failed")

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(run.ID, run.CreatedAt, run.Channel, run.Method, run.Percentile, run.SelfLoops,
				run.AUs, run.Included, run.Excluded, []string{"003"}).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"adjacency_entries"}, entryColumns).
			WillReturnError(copyErr)
		mockPool.ExpectRollback()

		err = store.Save(ctx, run)
		assert.ErrorIs(t, err, copyErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should rollback if a frame count insert fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		store, err := NewPGStore(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		run := testRun(t)
		run.FramesPerLabel = map[int]int{-3: 5}
		batchErr := errors.New("batch execution failed")

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(run.ID, run.CreatedAt, run.Channel, run.Method, run.Percentile, run.SelfLoops,
				run.AUs, run.Included, run.Excluded, []string{"003"}).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		batchExp := mockPool.ExpectBatch()
		batchExp.ExpectExec(flexibleSQLMatcher(sqlInsertLabelFrames)).
			WithArgs(run.ID, -3, int64(5)).
			WillReturnError(batchErr)
		mockPool.ExpectRollback()

		err = store.Save(ctx, run)
		assert.ErrorIs(t, err, batchErr)
		assert.Contains(t, err.Error(), "label -3")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPGStoreLoadMatrix(t *testing.T) {
	ctx := context.Background()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing()
	store, err := NewPGStore(ctx, mockPool, zap.NewNop())
	require.NoError(t, err)

	runID := "6f1c1f8e-3f0e-4a55-9d4c-0f1e2d3c4b5a"
	mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT aus FROM adjacency_runs WHERE id = $1`)).
		WithArgs(runID).
		WillReturnRows(pgxmock.NewRows([]string{"aus"}).AddRow([]string{"AU01", "AU02"}))
	mockPool.ExpectQuery(`SELECT\s+from_au,\s+to_au,\s+weight\s+FROM\s+adjacency_entries`).
		WithArgs(runID, "pain").
		WillReturnRows(pgxmock.NewRows([]string{"from_au", "to_au", "weight"}).
			AddRow("AU01", "AU02", 0.25).
			AddRow("AU02", "AU01", 0.5))

	m, err := store.LoadMatrix(ctx, runID, "pain")
	require.NoError(t, err)
	assert.Equal(t, []string{"AU01", "AU02"}, m.AUs)
	assert.Equal(t, [][]float64{{0, 0.25}, {0.5, 0}}, m.Rows())
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPGStoreLoadMatrixUnknownRun(t *testing.T) {
	ctx := context.Background()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing()
	store, err := NewPGStore(ctx, mockPool, zap.NewNop())
	require.NoError(t, err)

	mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT aus FROM adjacency_runs WHERE id = $1`)).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.LoadMatrix(ctx, "missing", "pain")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestNewRun(t *testing.T) {
	cfg := config.NewDefaultConfig()
	before := time.Now().UTC()
	run := NewRun(cfg)

	assert.Len(t, run.ID, 36)
	assert.False(t, run.CreatedAt.Before(before.Add(-time.Second)))
	assert.Equal(t, cfg.Dataset.Channel, run.Channel)
	assert.Equal(t, cfg.Analysis.AUs, run.AUs)
	assert.NotEqual(t, run.ID, NewRun(cfg).ID)
}
