package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/augraph/internal/adjacency"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS adjacency_runs (
    id UUID PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL,
    channel TEXT NOT NULL,
    method TEXT NOT NULL,
    percentile DOUBLE PRECISION NOT NULL,
    self_loops BOOLEAN NOT NULL,
    aus TEXT[] NOT NULL,
    included TEXT[] NOT NULL,
    excluded TEXT[] NOT NULL,
    failed TEXT[] NOT NULL
);
CREATE TABLE IF NOT EXISTS adjacency_entries (
    run_id UUID NOT NULL REFERENCES adjacency_runs (id) ON DELETE CASCADE,
    matrix TEXT NOT NULL,
    from_au TEXT NOT NULL,
    to_au TEXT NOT NULL,
    weight DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (run_id, matrix, from_au, to_au)
);
CREATE TABLE IF NOT EXISTS adjacency_label_frames (
    run_id UUID NOT NULL REFERENCES adjacency_runs (id) ON DELETE CASCADE,
    label INTEGER NOT NULL,
    frames BIGINT NOT NULL,
    PRIMARY KEY (run_id, label)
);`

const sqlInsertRun = `
    INSERT INTO adjacency_runs (id, created_at, channel, method, percentile, self_loops, aus, included, excluded, failed)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`

const sqlInsertLabelFrames = `
    INSERT INTO adjacency_label_frames (run_id, label, frames)
    VALUES ($1, $2, $3);
`

var entryColumns = []string{"run_id", "matrix", "from_au", "to_au", "weight"}

// PGStore persists runs into PostgreSQL.
type PGStore struct {
	pool DBPool
	log  *zap.Logger
}

// NewPGStore creates a new store instance and verifies the connection.
func NewPGStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PGStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PGStore{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the run tables if they do not exist.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save writes the run, its frame counts and the non-zero entries of every
// matrix in one transaction.
func (s *PGStore) Save(ctx context.Context, run *Run) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	failed := make([]string, len(run.Failures))
	for i, f := range run.Failures {
		failed[i] = f.SubjectID
	}
	if _, err := tx.Exec(ctx, sqlInsertRun,
		run.ID, run.CreatedAt.UTC(), run.Channel, run.Method, run.Percentile, run.SelfLoops,
		nonNil(run.AUs), nonNil(run.Included), nonNil(run.Excluded), failed,
	); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	if err := s.persistLabelFrames(ctx, tx, run); err != nil {
		return err
	}
	if err := s.persistEntries(ctx, tx, run); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Run persisted", zap.String("run_id", run.ID))
	return nil
}

func (s *PGStore) persistLabelFrames(ctx context.Context, tx pgx.Tx, run *Run) error {
	labels := run.Labels()
	if len(labels) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, l := range labels {
		batch.Queue(sqlInsertLabelFrames, run.ID, l, int64(run.FramesPerLabel[l]))
	}

	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return fmt.Errorf("failed to send batch: batch results is nil")
	}
	defer func() {
		_ = br.Close()
	}()

	for _, l := range labels {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert frame count for label %d: %w", l, err)
		}
	}
	return nil
}

func (s *PGStore) persistEntries(ctx context.Context, tx pgx.Tx, run *Run) error {
	var rows [][]any
	for _, name := range run.MatrixNames() {
		m := run.Matrices[name]
		for i := 0; i < m.Size(); i++ {
			for j := 0; j < m.Size(); j++ {
				if v := m.At(i, j); v != 0 {
					rows = append(rows, []any{run.ID, name, m.AUs[i], m.AUs[j], v})
				}
			}
		}
	}
	if len(rows) == 0 {
		return nil
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"adjacency_entries"}, entryColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy adjacency entries: %w", err)
	}
	if int(copyCount) != len(rows) {
		return fmt.Errorf("mismatch in copied entries count: expected %d, got %d", len(rows), copyCount)
	}
	return nil
}

// LoadMatrix reads one matrix of a stored run.
func (s *PGStore) LoadMatrix(ctx context.Context, runID, name string) (*adjacency.Matrix, error) {
	var aus []string
	if err := s.pool.QueryRow(ctx, `SELECT aus FROM adjacency_runs WHERE id = $1`, runID).Scan(&aus); err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	m, err := adjacency.NewMatrix(aus, nil)
	if err != nil {
		return nil, err
	}

	query := `
        SELECT from_au, to_au, weight
        FROM adjacency_entries
        WHERE run_id = $1 AND matrix = $2;
    `
	rows, err := s.pool.Query(ctx, query, runID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query adjacency entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var from, to string
		var weight float64
		if err := rows.Scan(&from, &to, &weight); err != nil {
			return nil, fmt.Errorf("failed to scan adjacency entry: %w", err)
		}
		i, err := m.Index(from)
		if err != nil {
			return nil, err
		}
		j, err := m.Index(to)
		if err != nil {
			return nil, err
		}
		m.M.Set(i, j, weight)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return m, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
