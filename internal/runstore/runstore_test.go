package runstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/shopwalk/internal/report"
)

var (
	runColumns  = []string{"id", "driver", "base_url", "account", "status", "started_at", "finished_at", "duration_ms"}
	stepColumns = []string{"run_id", "step_index", "name", "status", "started_at", "duration_ms", "url", "error", "error_kind", "artifact"}
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("error closing db: %v", err)
		}
	})
	return New(sqlx.NewDb(db, "postgres")), mock
}

func sampleRun() *report.Run {
	start := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	run := &report.Run{
		ID:        "run-1",
		Driver:    "chromedp",
		BaseURL:   "http://localhost:3000",
		Account:   "shopwalk1a2b@example.test",
		StartedAt: start,
		Steps: []report.StepResult{
			{Index: 0, Name: "open_home", Status: report.StatusPassed, StartedAt: start, Duration: 1500 * time.Millisecond, URL: "http://localhost:3000/"},
			{Index: 1, Name: "register", Status: report.StatusFailed, StartedAt: start.Add(2 * time.Second), Duration: 10 * time.Second,
				URL: "http://localhost:3000/register", Error: "timed out", ErrorKind: "timeout", Artifact: "mem://run-1/001-timeout-register_button.png"},
		},
	}
	run.Finish(start.Add(90 * time.Second))
	return run
}

func TestNormalizeDriver(t *testing.T) {
	tests := map[string]string{
		"":           "sqlite3",
		"sqlite":     "sqlite3",
		"SQLite3":    "sqlite3",
		"postgres":   "postgres",
		"postgresql": "postgres",
		"mysql":      "mysql",
		"mariadb":    "mysql",
	}
	for in, want := range tests {
		got, err := NormalizeDriver(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := NormalizeDriver("oracle")
	assert.Error(t, err)
}

func TestMigrate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS shopwalk_runs`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS shopwalk_steps`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRun(t *testing.T) {
	store, mock := newMockStore(t)
	run := sampleRun()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM shopwalk_steps WHERE run_id = \$1`).WithArgs("run-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM shopwalk_runs WHERE id = \$1`).WithArgs("run-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO shopwalk_runs`).
		WithArgs("run-1", "chromedp", "http://localhost:3000", "shopwalk1a2b@example.test", "failed",
			sqlmock.AnyArg(), sqlmock.AnyArg(), int64(90000)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO shopwalk_steps`).
		WithArgs("run-1", 0, "open_home", "passed", sqlmock.AnyArg(), int64(1500), "http://localhost:3000/", "", "", "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO shopwalk_steps`).
		WithArgs("run-1", 1, "register", "failed", sqlmock.AnyArg(), int64(10000), "http://localhost:3000/register",
			"timed out", "timeout", "mem://run-1/001-timeout-register_button.png").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, store.SaveRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM shopwalk_steps`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM shopwalk_runs`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO shopwalk_runs`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.SaveRun(context.Background(), sampleRun())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRuns(t *testing.T) {
	store, mock := newMockStore(t)
	newer := time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC)
	older := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT (.+) FROM shopwalk_runs ORDER BY started_at DESC LIMIT \$1`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows(runColumns).
			AddRow("run-2", "playwright", "http://shop", "b@x", "passed", newer, newer.Add(time.Minute), int64(60000)).
			AddRow("run-1", "chromedp", "http://shop", "a@x", "failed", older, nil, int64(0)))
	mock.ExpectQuery(`SELECT (.+) FROM shopwalk_steps WHERE run_id IN \(\$1, \$2\)`).
		WithArgs("run-2", "run-1").
		WillReturnRows(sqlmock.NewRows(stepColumns).
			AddRow("run-1", 0, "open_home", "failed", older, int64(10000), "http://shop/", "boom", "timeout", "").
			AddRow("run-2", 1, "login", "passed", newer, int64(2000), "http://shop/login", "", "", "").
			AddRow("run-2", 0, "open_home", "passed", newer, int64(1000), "http://shop/", "", "", ""))

	runs, err := store.ListRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, report.StatusPassed, runs[0].Status)
	assert.Equal(t, time.Minute, runs[0].Duration())
	require.Len(t, runs[0].Steps, 2)
	assert.Equal(t, "open_home", runs[0].Steps[0].Name)
	assert.Equal(t, "login", runs[0].Steps[1].Name)
	assert.Equal(t, 2*time.Second, runs[0].Steps[1].Duration)

	assert.Equal(t, "run-1", runs[1].ID)
	assert.True(t, runs[1].FinishedAt.IsZero())
	require.Len(t, runs[1].Steps, 1)
	assert.Equal(t, "timeout", runs[1].Steps[0].ErrorKind)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunsEmpty(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM shopwalk_runs ORDER BY started_at DESC$`).
		WillReturnRows(sqlmock.NewRows(runColumns))

	runs, err := store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRun(t *testing.T) {
	store, mock := newMockStore(t)
	start := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT (.+) FROM shopwalk_runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows(runColumns).
			AddRow("run-1", "selenium", "http://shop", "a@x", "passed", start, start.Add(30*time.Second), int64(30000)))
	mock.ExpectQuery(`SELECT (.+) FROM shopwalk_steps WHERE run_id = \$1 ORDER BY step_index`).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows(stepColumns).
			AddRow("run-1", 0, "open_home", "passed", nil, int64(500), "http://shop/", "", "", ""))

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "selenium", run.Driver)
	assert.Equal(t, 30*time.Second, run.Duration())
	require.Len(t, run.Steps, 1)
	assert.True(t, run.Steps[0].StartedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM shopwalk_runs WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(runColumns))

	_, err := store.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteBefore(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id FROM shopwalk_runs WHERE started_at < \$1`).
		WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("run-1").AddRow("run-2"))
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM shopwalk_steps WHERE run_id IN \(\$1, \$2\)`).
		WithArgs("run-1", "run-2").
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec(`DELETE FROM shopwalk_runs WHERE id IN \(\$1, \$2\)`).
		WithArgs("run-1", "run-2").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	ids, err := store.DeleteBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1", "run-2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteBeforeNothingExpired(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id FROM shopwalk_runs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	ids, err := store.DeleteBefore(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
