// Package history keeps a local record of deploy runs in SQLite.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"

	TriggerCLI = "cli"
	TriggerAPI = "api"
)

var ErrNotFound = errors.New("deploy run not found")

type Run struct {
	ID         string
	Host       string
	RemoteDir  string
	Trigger    string
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

type runRow struct {
	ID         string  `db:"id"`
	Host       string  `db:"host"`
	RemoteDir  string  `db:"remote_dir"`
	Trigger    string  `db:"triggered_by"`
	Status     string  `db:"status"`
	Error      string  `db:"error"`
	StartedAt  string  `db:"started_at"`
	FinishedAt *string `db:"finished_at"`
}

type Store struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the SQLite database at dsn and applies
// the embedded schema migrations.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run history migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) RecordStart(ctx context.Context, run Run) error {
	if run.Status == "" {
		run.Status = StatusRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deploy_runs (id, host, remote_dir, triggered_by, status, error, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Host, run.RemoteDir, run.Trigger, run.Status, run.Error, formatTime(run.StartedAt))
	if err != nil {
		return fmt.Errorf("record start of %s: %w", run.ID, err)
	}
	return nil
}

func (s *Store) RecordFinish(ctx context.Context, id, status, errMsg string, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deploy_runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, errMsg, formatTime(finishedAt), id)
	if err != nil {
		return fmt.Errorf("record finish of %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("record finish of %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM deploy_runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get deploy run %s: %w", id, err)
	}
	return row.toRun()
}

// List returns the most recent runs first.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM deploy_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list deploy runs: %w", err)
	}

	runs := make([]Run, 0, len(rows))
	for _, row := range rows {
		run, err := row.toRun()
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

func (r runRow) toRun() (*Run, error) {
	started, err := time.Parse(time.RFC3339Nano, r.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at of %s: %w", r.ID, err)
	}
	run := &Run{
		ID:        r.ID,
		Host:      r.Host,
		RemoteDir: r.RemoteDir,
		Trigger:   r.Trigger,
		Status:    r.Status,
		Error:     r.Error,
		StartedAt: started,
	}
	if r.FinishedAt != nil {
		finished, err := time.Parse(time.RFC3339Nano, *r.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at of %s: %w", r.ID, err)
		}
		run.FinishedAt = &finished
	}
	return run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
