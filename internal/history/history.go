// Package history records deploy runs in a local SQLite database so past
// outcomes and the identifiers they produced can be inspected later.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at     INTEGER NOT NULL,
	finished_at    INTEGER NOT NULL,
	base_url       TEXT NOT NULL,
	repository     TEXT NOT NULL DEFAULT '',
	branch         TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL,
	failed_step    TEXT NOT NULL DEFAULT '',
	error          TEXT NOT NULL DEFAULT '',
	project_id     TEXT NOT NULL DEFAULT '',
	environment_id TEXT NOT NULL DEFAULT '',
	application_id TEXT NOT NULL DEFAULT '',
	deployment_id  TEXT NOT NULL DEFAULT '',
	domain         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs(started_at);
`

// Run is one recorded deploy run.
type Run struct {
	ID            int64
	StartedAt     time.Time
	FinishedAt    time.Time
	BaseURL       string
	Repository    string
	Branch        string
	State         string
	FailedStep    string
	Error         string
	ProjectID     string
	EnvironmentID string
	ApplicationID string
	DeploymentID  string
	Domain        string
}

// Succeeded reports whether the run reached a terminal success state.
func (r Run) Succeeded() bool {
	return r.FailedStep == "" && r.Error == ""
}

// Store is the run history database.
type Store struct {
	db *sql.DB
}

// DefaultPath returns ~/.coolctl/history.db.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".coolctl", "history.db")
	}
	return filepath.Join(home, ".coolctl", "history.db")
}

// Open opens or creates the database at path, creating parent directories.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// One writer; the CLI never queries concurrently.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a run and returns its id.
func (s *Store) Record(ctx context.Context, r Run) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (started_at, finished_at, base_url, repository, branch, state, failed_step, error,
			project_id, environment_id, application_id, deployment_id, domain)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(), r.BaseURL, r.Repository, r.Branch,
		r.State, r.FailedStep, r.Error,
		r.ProjectID, r.EnvironmentID, r.ApplicationID, r.DeploymentID, r.Domain,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record run: %w", err)
	}
	return res.LastInsertId()
}

// List returns the most recent runs, newest first. limit <= 0 means 20.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, base_url, repository, branch, state, failed_step, error,
			project_id, environment_id, application_id, deployment_id, domain
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &started, &finished, &r.BaseURL, &r.Repository, &r.Branch,
			&r.State, &r.FailedStep, &r.Error,
			&r.ProjectID, &r.EnvironmentID, &r.ApplicationID, &r.DeploymentID, &r.Domain); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LastApplication returns the most recent successful run for base URL and
// repository, if any.
func (s *Store) LastApplication(ctx context.Context, baseURL, repository string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, application_id, project_id, environment_id
		FROM runs
		WHERE base_url = ? AND repository = ? AND failed_step = '' AND application_id != ''
		ORDER BY started_at DESC, id DESC LIMIT 1`, baseURL, repository)

	var r Run
	var started int64
	if err := row.Scan(&r.ID, &started, &r.ApplicationID, &r.ProjectID, &r.EnvironmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query last application: %w", err)
	}
	r.StartedAt = time.UnixMilli(started)
	r.BaseURL = baseURL
	r.Repository = repository
	return &r, nil
}
