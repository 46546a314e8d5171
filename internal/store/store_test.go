package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/duns-scotus/mlpy-sub002/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockStore(t *testing.T, logger *zap.Logger) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	s, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return s, mockPool
}

func sampleReport() *schemas.ResultEnvelope {
	loc := time.FixedZone("UTC+2", 2*60*60)
	return &schemas.ResultEnvelope{
		RunID:     uuid.MustParse("1b7f3c44-2f7e-4d55-9d9e-7b1f5d0a4c21"),
		Filename:  "app/main.ml",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, loc),
		IsSecure:  false,
		Threats: []schemas.Threat{
			{ID: "T-0001", Category: "CODE_INJECTION", Severity: schemas.SeverityCritical, Message: "eval", Rule: "eval",
				Source: "pattern", Confidence: 1, Line: 1, Column: 1, Location: "app/main.ml:1:1", Correlated: true},
			{ID: "T-0002", Category: "SQL_INJECTION", Severity: schemas.SeverityLow, Message: "query", Rule: "sql_concat",
				Source: "pattern", Confidence: 0.3, Line: 4, Column: 3, Location: "app/main.ml:4:3"},
		},
		ParallelThreatCount: 2,
		Summary: schemas.Summary{
			TotalThreats:   2,
			AnalysisTimeMs: 1.5,
			NodesAnalyzed:  40,
			Passes: []schemas.PassSummary{
				{Name: "pattern_detection", Candidates: 3, Emitted: 3},
				{Name: "data_flow", Candidates: 3, Emitted: 3},
			},
		},
	}
}

func expectRunInsert(mockPool pgxmock.PgxPoolIface, r *schemas.ResultEnvelope) *pgxmock.ExpectedExec {
	return mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
		WithArgs(
			r.RunID, r.Filename, r.Timestamp.UTC(), r.IsSecure,
			len(r.Threats), r.ParallelThreatCount, r.ParseErrors,
			r.Summary.AnalysisTimeMs, r.Summary.NodesAnalyzed, r.Summary.FalsePositiveRate,
		)
}

// -- Test Cases --

func TestNewStore(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	pingErr := errors.New("database unavailable")
	mockPool.ExpectPing().WillReturnError(pingErr)

	_, err = New(context.Background(), mockPool, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, pingErr)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())
	mockPool.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS analysis_runs")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPersistReport(t *testing.T) {
	ctx := context.Background()

	t.Run("persists run, threats and passes in one transaction", func(t *testing.T) {
		core, logs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newMockStore(t, zap.New(core))
		report := sampleReport()

		mockPool.ExpectBegin()
		expectRunInsert(mockPool, report).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"threats"}, threatColumns).WillReturnResult(2)
		batch := mockPool.ExpectBatch()
		for _, p := range report.Summary.Passes {
			batch.ExpectExec(flexibleSQLMatcher(sqlInsertPass)).
				WithArgs(report.RunID, p.Name, p.Candidates, p.Emitted, p.Suppressed, p.DurationMs).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
		}
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.PersistReport(ctx, report))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, logs.All(), "a closed transaction on rollback is not an error")
	})

	t.Run("secure report without threats skips the copy", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		report := sampleReport()
		report.IsSecure = true
		report.Threats = nil
		report.Summary.Passes = nil

		mockPool.ExpectBegin()
		expectRunInsert(mockPool, report).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.PersistReport(ctx, report))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		beginErr := errors.New("cannot begin tx")
		mockPool.ExpectBegin().WillReturnError(beginErr)

		err := s.PersistReport(ctx, sampleReport())
		require.Error(t, err)
		assert.ErrorIs(t, err, beginErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("copy failure rolls back", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		report := sampleReport()
		copyErr := errors.New("copy failed")

		mockPool.ExpectBegin()
		expectRunInsert(mockPool, report).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"threats"}, threatColumns).WillReturnError(copyErr)
		mockPool.ExpectRollback()

		err := s.PersistReport(ctx, report)
		require.Error(t, err)
		assert.ErrorIs(t, err, copyErr)
		assert.Contains(t, err.Error(), "failed to copy threats")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("short copy count is an error", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		report := sampleReport()

		mockPool.ExpectBegin()
		expectRunInsert(mockPool, report).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"threats"}, threatColumns).WillReturnResult(1)
		mockPool.ExpectRollback()

		err := s.PersistReport(ctx, report)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mismatch in copied threats count")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("run insert failure", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		report := sampleReport()
		insertErr := errors.New("duplicate key")

		mockPool.ExpectBegin()
		expectRunInsert(mockPool, report).WillReturnError(insertErr)
		mockPool.ExpectRollback()

		err := s.PersistReport(ctx, report)
		assert.ErrorIs(t, err, insertErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("nil report", func(t *testing.T) {
		s, _ := newMockStore(t, zap.NewNop())
		assert.Error(t, s.PersistReport(ctx, nil))
	})
}

func TestGetThreatsByRunID(t *testing.T) {
	ctx := context.Background()
	runID := uuid.MustParse("1b7f3c44-2f7e-4d55-9d9e-7b1f5d0a4c21")
	columns := []string{"id", "category", "severity", "message", "rule", "source", "confidence", "line", "col", "location", "evidence", "correlated"}

	t.Run("scans rows", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		rows := pgxmock.NewRows(columns).
			AddRow("T-0001", "CODE_INJECTION", "CRITICAL", "eval", "eval", "pattern", 1.0, 1, 1, "a.ml:1:1", "", true).
			AddRow("T-0002", "DATA_FLOW_VIOLATION", "HIGH", "taint", "taint:eval", "dataflow", 0.9, 2, 5, "a.ml:2:5", "USER_INPUT", false)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectThreats)).WithArgs(runID).WillReturnRows(rows)

		threats, err := s.GetThreatsByRunID(ctx, runID)
		require.NoError(t, err)
		require.Len(t, threats, 2)
		assert.Equal(t, schemas.SeverityCritical, threats[0].Severity)
		assert.True(t, threats[0].Correlated)
		assert.Equal(t, 5, threats[1].Column)
		assert.Equal(t, "USER_INPUT", threats[1].Evidence)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("query failure", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		queryErr := errors.New("relation does not exist")
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectThreats)).WithArgs(runID).WillReturnError(queryErr)

		_, err := s.GetThreatsByRunID(ctx, runID)
		assert.ErrorIs(t, err, queryErr)
	})

	t.Run("row error", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		rowErr := errors.New("connection reset")
		rows := pgxmock.NewRows(columns).
			AddRow("T-0001", "CODE_INJECTION", "CRITICAL", "eval", "eval", "pattern", 1.0, 1, 1, "a.ml:1:1", "", true).
			RowError(0, rowErr)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectThreats)).WithArgs(runID).WillReturnRows(rows)

		_, err := s.GetThreatsByRunID(ctx, runID)
		require.Error(t, err)
	})
}
