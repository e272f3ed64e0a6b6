// Package store keeps the history of detection runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"findoutlie/internal/report"
)

// ErrNotFound is returned when a run or failure does not exist.
var ErrNotFound = errors.New("not found")

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id          TEXT PRIMARY KEY,
	data_dir        TEXT NOT NULL,
	graph_hash      TEXT NOT NULL DEFAULT '',
	metric          TEXT NOT NULL DEFAULT '',
	iqr_proportion  REAL NOT NULL DEFAULT 0,
	mode            TEXT NOT NULL,
	start_time      TEXT NOT NULL,
	end_time        TEXT,
	status          TEXT NOT NULL,
	exit_code       INTEGER NOT NULL DEFAULT 0,
	report_hash     TEXT NOT NULL DEFAULT '',
	previous_run_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_data_dir ON runs(data_dir, start_time);

CREATE TABLE IF NOT EXISTS outliers (
	run_id   TEXT NOT NULL REFERENCES runs(run_id),
	path     TEXT NOT NULL,
	status   TEXT NOT NULL,
	volumes  INTEGER NOT NULL DEFAULT 0,
	outliers TEXT NOT NULL,
	error    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, path)
);

CREATE TABLE IF NOT EXISTS failures (
	run_id        TEXT PRIMARY KEY REFERENCES runs(run_id),
	failure_class TEXT NOT NULL,
	node_id       TEXT,
	error_code    TEXT NOT NULL,
	error_message TEXT NOT NULL
);
`

// Store persists runs, their per-image outliers and their failures.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the run database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers; SQLite would otherwise report SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// NewRunID returns a random run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// SaveRun inserts or replaces run.
func (s *Store) SaveRun(ctx context.Context, run Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	var end, prev any
	if run.EndTime != nil {
		end = run.EndTime.UTC().Format(timeLayout)
	}
	if run.PreviousRunID != nil {
		prev = *run.PreviousRunID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(run_id, data_dir, graph_hash, metric, iqr_proportion, mode, start_time, end_time, status, exit_code, report_hash, previous_run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.DataDir, run.GraphHash, run.Metric, run.IQRProportion, string(run.Mode),
		run.StartTime.UTC().Format(timeLayout), end, string(run.Status), run.ExitCode, run.ReportHash, prev)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.RunID, err)
	}
	return nil
}

// FinishRun records the end of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, status RunStatus, exitCode int, reportHash string, end time.Time) error {
	run, err := s.LoadRun(ctx, runID)
	if err != nil {
		return err
	}
	run.Status = status
	run.ExitCode = exitCode
	run.ReportHash = reportHash
	end = end.UTC()
	run.EndTime = &end
	return s.SaveRun(ctx, run)
}

// SaveOutliers stores the per-image outcomes of rep for runID, replacing any
// previous rows.
func (s *Store) SaveOutliers(ctx context.Context, runID string, rep report.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM outliers WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("clear outliers: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO outliers (run_id, path, status, volumes, outliers, error)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range rep.Files {
		idx := f.Outliers
		if idx == nil {
			idx = []int{}
		}
		b, err := json.Marshal(idx)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, runID, f.Path, string(f.Status), f.Volumes, string(b), f.Error); err != nil {
			return fmt.Errorf("save outliers for %s: %w", f.Path, err)
		}
	}
	return tx.Commit()
}

// SaveFailure stores the termination reason of runID.
func (s *Store) SaveFailure(ctx context.Context, runID string, f Failure) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("runID is required")
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid failure: %w", err)
	}
	var node any
	if f.NodeID != nil {
		node = *f.NodeID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO failures (run_id, failure_class, node_id, error_code, error_message)
		VALUES (?, ?, ?, ?, ?)`,
		runID, string(f.FailureClass), node, f.ErrorCode, f.ErrorMessage)
	if err != nil {
		return fmt.Errorf("save failure for %s: %w", runID, err)
	}
	return nil
}

// RecordFailure classifies err and stores it for runID.
func (s *Store) RecordFailure(ctx context.Context, runID string, err error) error {
	f, ferr := ClassifyError(err)
	if ferr != nil {
		return ferr
	}
	return s.SaveFailure(ctx, runID, f)
}

const runColumns = `run_id, data_dir, graph_hash, metric, iqr_proportion, mode, start_time, end_time, status, exit_code, report_hash, previous_run_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run       Run
		mode      string
		status    string
		start     string
		end, prev sql.NullString
	)
	if err := row.Scan(&run.RunID, &run.DataDir, &run.GraphHash, &run.Metric, &run.IQRProportion,
		&mode, &start, &end, &status, &run.ExitCode, &run.ReportHash, &prev); err != nil {
		return Run{}, err
	}
	run.Mode = Mode(mode)
	run.Status = RunStatus(status)
	t, err := time.Parse(timeLayout, start)
	if err != nil {
		return Run{}, fmt.Errorf("parse start_time: %w", err)
	}
	run.StartTime = t
	if end.Valid {
		e, err := time.Parse(timeLayout, end.String)
		if err != nil {
			return Run{}, fmt.Errorf("parse end_time: %w", err)
		}
		run.EndTime = &e
	}
	if prev.Valid {
		p := prev.String
		run.PreviousRunID = &p
	}
	return run, nil
}

// LoadRun returns the run with the given ID, or ErrNotFound.
func (s *Store) LoadRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("load run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY start_time DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LatestRun returns the newest run over dataDir, or ErrNotFound.
func (s *Store) LatestRun(ctx context.Context, dataDir string) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE data_dir = ? ORDER BY start_time DESC, rowid DESC LIMIT 1`, dataDir)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("runs over %s: %w", dataDir, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

// LoadOutliers returns the per-image outcomes of runID sorted by path.
func (s *Store) LoadOutliers(ctx context.Context, runID string) ([]FileOutliers, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, status, volumes, outliers, error FROM outliers WHERE run_id = ? ORDER BY path`, runID)
	if err != nil {
		return nil, fmt.Errorf("load outliers: %w", err)
	}
	defer rows.Close()

	var out []FileOutliers
	for rows.Next() {
		var (
			f   FileOutliers
			raw string
		)
		if err := rows.Scan(&f.Path, &f.Status, &f.Volumes, &raw, &f.Error); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &f.Outliers); err != nil {
			return nil, fmt.Errorf("decode outliers for %s: %w", f.Path, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// LoadFailure returns the recorded failure of runID, or ErrNotFound.
func (s *Store) LoadFailure(ctx context.Context, runID string) (Failure, error) {
	var (
		f     Failure
		class string
		node  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT failure_class, node_id, error_code, error_message FROM failures WHERE run_id = ?`, runID).
		Scan(&class, &node, &f.ErrorCode, &f.ErrorMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return Failure{}, fmt.Errorf("failure for %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return Failure{}, fmt.Errorf("load failure: %w", err)
	}
	f.FailureClass = FailureClass(class)
	if node.Valid {
		n := node.String
		f.NodeID = &n
	}
	return f, nil
}
