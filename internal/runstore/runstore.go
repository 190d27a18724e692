// Package runstore persists journey run history in a SQL database. SQLite,
// PostgreSQL and MySQL are supported through sqlx; queries are written with
// ? placeholders and rebound for the active driver.
package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/gotrs-io/shopwalk/internal/report"
)

// ErrNotFound is returned by GetRun for an unknown id.
var ErrNotFound = errors.New("run not found")

// Config selects the database. MySQL DSNs need parseTime=true.
type Config struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Store reads and writes run history.
type Store struct {
	db *sqlx.DB
}

// NormalizeDriver maps accepted driver aliases onto registered driver names.
func NormalizeDriver(driver string) (string, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3", "":
		return "sqlite3", nil
	case "postgres", "postgresql", "pgsql":
		return "postgres", nil
	case "mysql", "mariadb":
		return "mysql", nil
	}
	return "", fmt.Errorf("unsupported database driver: %s", driver)
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	driver, err := NormalizeDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if driver == "sqlite3" {
		// SQLite serializes writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}
	return New(db), nil
}

// New wraps an existing connection.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS shopwalk_runs (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		driver VARCHAR(32) NOT NULL,
		base_url VARCHAR(255) NOT NULL,
		account VARCHAR(255) NOT NULL,
		status VARCHAR(16) NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NULL,
		duration_ms BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS shopwalk_steps (
		run_id VARCHAR(64) NOT NULL,
		step_index INTEGER NOT NULL,
		name VARCHAR(64) NOT NULL,
		status VARCHAR(16) NOT NULL,
		started_at TIMESTAMP NULL,
		duration_ms BIGINT NOT NULL,
		url TEXT NOT NULL,
		error TEXT NOT NULL,
		error_kind VARCHAR(32) NOT NULL,
		artifact TEXT NOT NULL,
		PRIMARY KEY (run_id, step_index)
	)`,
}

// Migrate creates the history tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate run store: %w", err)
		}
	}
	return nil
}

type runRow struct {
	ID         string       `db:"id"`
	Driver     string       `db:"driver"`
	BaseURL    string       `db:"base_url"`
	Account    string       `db:"account"`
	Status     string       `db:"status"`
	StartedAt  time.Time    `db:"started_at"`
	FinishedAt sql.NullTime `db:"finished_at"`
	DurationMS int64        `db:"duration_ms"`
}

type stepRow struct {
	RunID      string       `db:"run_id"`
	Index      int          `db:"step_index"`
	Name       string       `db:"name"`
	Status     string       `db:"status"`
	StartedAt  sql.NullTime `db:"started_at"`
	DurationMS int64        `db:"duration_ms"`
	URL        string       `db:"url"`
	Error      string       `db:"error"`
	ErrorKind  string       `db:"error_kind"`
	Artifact   string       `db:"artifact"`
}

const (
	insertRun = `INSERT INTO shopwalk_runs
		(id, driver, base_url, account, status, started_at, finished_at, duration_ms)
		VALUES (:id, :driver, :base_url, :account, :status, :started_at, :finished_at, :duration_ms)`
	insertStep = `INSERT INTO shopwalk_steps
		(run_id, step_index, name, status, started_at, duration_ms, url, error, error_kind, artifact)
		VALUES (:run_id, :step_index, :name, :status, :started_at, :duration_ms, :url, :error, :error_kind, :artifact)`
	selectRuns  = `SELECT id, driver, base_url, account, status, started_at, finished_at, duration_ms FROM shopwalk_runs`
	selectSteps = `SELECT run_id, step_index, name, status, started_at, duration_ms, url, error, error_kind, artifact FROM shopwalk_steps`
)

// SaveRun writes run and its steps, replacing any earlier copy.
func (s *Store) SaveRun(ctx context.Context, run *report.Run) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM shopwalk_steps WHERE run_id = ?`), run.ID); err != nil {
		return fmt.Errorf("failed to clear steps: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM shopwalk_runs WHERE id = ?`), run.ID); err != nil {
		return fmt.Errorf("failed to clear run: %w", err)
	}
	if _, err := tx.NamedExecContext(ctx, insertRun, toRunRow(run)); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	for _, step := range run.Steps {
		if _, err := tx.NamedExecContext(ctx, insertStep, toStepRow(run.ID, step)); err != nil {
			return fmt.Errorf("failed to insert step %s: %w", step.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs with their steps, newest first.
// A non-positive limit returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*report.Run, error) {
	query := selectRuns + ` ORDER BY started_at DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	if len(rows) == 0 {
		return []*report.Run{}, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	stepQuery, stepArgs, err := sqlx.In(selectSteps+` WHERE run_id IN (?) ORDER BY run_id, step_index`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build step query: %w", err)
	}
	var steps []stepRow
	if err := s.db.SelectContext(ctx, &steps, s.db.Rebind(stepQuery), stepArgs...); err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}

	byRun := make(map[string][]stepRow, len(rows))
	for _, st := range steps {
		byRun[st.RunID] = append(byRun[st.RunID], st)
	}
	runs := make([]*report.Run, len(rows))
	for i, r := range rows {
		runs[i] = fromRows(r, byRun[r.ID])
	}
	return runs, nil
}

// GetRun loads one run with its steps.
func (s *Store) GetRun(ctx context.Context, id string) (*report.Run, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(selectRuns+` WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}

	var steps []stepRow
	if err := s.db.SelectContext(ctx, &steps, s.db.Rebind(selectSteps+` WHERE run_id = ? ORDER BY step_index`), id); err != nil {
		return nil, fmt.Errorf("failed to load steps for run %s: %w", id, err)
	}
	return fromRows(row, steps), nil
}

// DeleteBefore removes runs that started before cutoff, with their steps,
// and returns the removed ids.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, s.db.Rebind(`SELECT id FROM shopwalk_runs WHERE started_at < ?`), cutoff.UTC()); err != nil {
		return nil, fmt.Errorf("failed to find expired runs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM shopwalk_steps WHERE run_id IN (?)`,
		`DELETE FROM shopwalk_runs WHERE id IN (?)`,
	} {
		query, args, err := sqlx.In(stmt, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to build delete: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("failed to delete expired runs: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delete: %w", err)
	}
	return ids, nil
}

func toRunRow(run *report.Run) runRow {
	row := runRow{
		ID:         run.ID,
		Driver:     run.Driver,
		BaseURL:    run.BaseURL,
		Account:    run.Account,
		Status:     string(run.Status),
		StartedAt:  run.StartedAt.UTC(),
		DurationMS: run.Duration().Milliseconds(),
	}
	if !run.FinishedAt.IsZero() {
		row.FinishedAt = sql.NullTime{Time: run.FinishedAt.UTC(), Valid: true}
	}
	return row
}

func toStepRow(runID string, step report.StepResult) stepRow {
	row := stepRow{
		RunID:      runID,
		Index:      step.Index,
		Name:       step.Name,
		Status:     string(step.Status),
		DurationMS: step.Duration.Milliseconds(),
		URL:        step.URL,
		Error:      step.Error,
		ErrorKind:  step.ErrorKind,
		Artifact:   step.Artifact,
	}
	if !step.StartedAt.IsZero() {
		row.StartedAt = sql.NullTime{Time: step.StartedAt.UTC(), Valid: true}
	}
	return row
}

func fromRows(r runRow, steps []stepRow) *report.Run {
	run := &report.Run{
		ID:        r.ID,
		Driver:    r.Driver,
		BaseURL:   r.BaseURL,
		Account:   r.Account,
		Status:    report.Status(r.Status),
		StartedAt: r.StartedAt.UTC(),
		Steps:     make([]report.StepResult, 0, len(steps)),
	}
	if r.FinishedAt.Valid {
		run.FinishedAt = r.FinishedAt.Time.UTC()
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Index < steps[j].Index })
	for _, st := range steps {
		step := report.StepResult{
			Index:     st.Index,
			Name:      st.Name,
			Status:    report.Status(st.Status),
			Duration:  time.Duration(st.DurationMS) * time.Millisecond,
			URL:       st.URL,
			Error:     st.Error,
			ErrorKind: st.ErrorKind,
			Artifact:  st.Artifact,
		}
		if st.StartedAt.Valid {
			step.StartedAt = st.StartedAt.Time.UTC()
		}
		run.Steps = append(run.Steps, step)
	}
	return run
}
