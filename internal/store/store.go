package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/duns-scotus/mlpy-sub002/api/schemas"
)

// Schema creates the tables PersistReport writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS analysis_runs (
    id                  UUID PRIMARY KEY,
    filename            TEXT NOT NULL,
    analyzed_at         TIMESTAMPTZ NOT NULL,
    is_secure           BOOLEAN NOT NULL,
    threat_count        INTEGER NOT NULL,
    parallel_count      INTEGER NOT NULL,
    parse_errors        BOOLEAN NOT NULL DEFAULT FALSE,
    analysis_time_ms    DOUBLE PRECISION NOT NULL,
    nodes_analyzed      INTEGER NOT NULL,
    false_positive_rate DOUBLE PRECISION NOT NULL
);
CREATE TABLE IF NOT EXISTS threats (
    run_id     UUID NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
    id         TEXT NOT NULL,
    category   TEXT NOT NULL,
    severity   TEXT NOT NULL,
    message    TEXT NOT NULL,
    rule       TEXT NOT NULL,
    source     TEXT NOT NULL,
    confidence DOUBLE PRECISION NOT NULL,
    line       INTEGER NOT NULL,
    col        INTEGER NOT NULL,
    location   TEXT NOT NULL,
    evidence   TEXT NOT NULL,
    correlated BOOLEAN NOT NULL,
    PRIMARY KEY (run_id, id)
);
CREATE TABLE IF NOT EXISTS analysis_passes (
    run_id      UUID NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
    name        TEXT NOT NULL,
    candidates  INTEGER NOT NULL,
    emitted     INTEGER NOT NULL,
    suppressed  INTEGER NOT NULL,
    duration_ms DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (run_id, name)
);
`

const (
	sqlInsertRun = `
        INSERT INTO analysis_runs (id, filename, analyzed_at, is_secure, threat_count, parallel_count, parse_errors, analysis_time_ms, nodes_analyzed, false_positive_rate)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
    `
	sqlInsertPass = `
        INSERT INTO analysis_passes (run_id, name, candidates, emitted, suppressed, duration_ms)
        VALUES ($1, $2, $3, $4, $5, $6);
    `
	sqlSelectThreats = `
        SELECT id, category, severity, message, rule, source, confidence, line, col, location, evidence, correlated
        FROM threats
        WHERE run_id = $1
        ORDER BY id ASC;
    `
)

var threatColumns = []string{
	"run_id", "id", "category", "severity", "message", "rule", "source",
	"confidence", "line", "col", "location", "evidence", "correlated",
}

// DBPool abstracts *pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

var _ DBPool = (*pgxpool.Pool)(nil)

// Store persists analysis reports in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.Store = (*Store)(nil)

// Connect opens a pool for url and returns a ready Store. The caller closes the pool.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("store")}, nil
}

// Migrate creates missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// PersistReport writes the run, its threats and its pass statistics in one transaction.
func (s *Store) PersistReport(ctx context.Context, report *schemas.ResultEnvelope) error {
	if report == nil {
		return errors.New("report cannot be nil")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, sqlInsertRun,
		report.RunID, report.Filename, report.Timestamp.UTC(), report.IsSecure,
		len(report.Threats), report.ParallelThreatCount, report.ParseErrors,
		report.Summary.AnalysisTimeMs, report.Summary.NodesAnalyzed, report.Summary.FalsePositiveRate,
	)
	if err != nil {
		return fmt.Errorf("failed to insert analysis run: %w", err)
	}

	if len(report.Threats) > 0 {
		if err := s.persistThreats(ctx, tx, report.RunID, report.Threats); err != nil {
			return err
		}
	}
	if len(report.Summary.Passes) > 0 {
		if err := s.persistPasses(ctx, tx, report.RunID, report.Summary.Passes); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Persisted analysis run",
		zap.String("run_id", report.RunID.String()),
		zap.String("file", report.Filename),
		zap.Int("threats", len(report.Threats)),
	)
	return nil
}

func (s *Store) persistThreats(ctx context.Context, tx pgx.Tx, runID uuid.UUID, threats []schemas.Threat) error {
	rows := make([][]interface{}, len(threats))
	for i, t := range threats {
		rows[i] = []interface{}{
			runID, t.ID, t.Category, string(t.Severity), t.Message, t.Rule, t.Source,
			t.Confidence, t.Line, t.Column, t.Location, t.Evidence, t.Correlated,
		}
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"threats"}, threatColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy threats: %w", err)
	}
	if int(n) != len(threats) {
		return fmt.Errorf("mismatch in copied threats count: expected %d, got %d", len(threats), n)
	}
	return nil
}

func (s *Store) persistPasses(ctx context.Context, tx pgx.Tx, runID uuid.UUID, passes []schemas.PassSummary) error {
	batch := &pgx.Batch{}
	for _, p := range passes {
		batch.Queue(sqlInsertPass, runID, p.Name, p.Candidates, p.Emitted, p.Suppressed, p.DurationMs)
	}

	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return fmt.Errorf("failed to send batch: batch results is nil")
	}
	defer func() {
		_ = br.Close()
	}()

	for i := range passes {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert pass %s: %w", passes[i].Name, err)
		}
	}
	return nil
}

// GetThreatsByRunID retrieves the threats of a run in ID order.
func (s *Store) GetThreatsByRunID(ctx context.Context, runID uuid.UUID) ([]schemas.Threat, error) {
	rows, err := s.pool.Query(ctx, sqlSelectThreats, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query threats: %w", err)
	}
	defer rows.Close()

	var threats []schemas.Threat
	for rows.Next() {
		var t schemas.Threat
		var severity string
		if err := rows.Scan(
			&t.ID, &t.Category, &severity, &t.Message, &t.Rule, &t.Source,
			&t.Confidence, &t.Line, &t.Column, &t.Location, &t.Evidence, &t.Correlated,
		); err != nil {
			return nil, fmt.Errorf("failed to scan threat row: %w", err)
		}
		t.Severity = schemas.Severity(severity)
		threats = append(threats, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return threats, nil
}
