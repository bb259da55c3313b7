package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/helvethink/pullpilot/pkg/schemas"
)

//go:embed migrations/*.sql
var migrations embed.FS

const sqliteTasksExecutedCounter = "tasks_executed"

// SQLite is a store backed by a SQLite database file.
type SQLite struct {
	DB *sql.DB
}

// OpenSQLite opens a SQLite database at the given path and runs all pending
// migrations. Use ":memory:" for an in-memory database.
func OpenSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}

	// one writer at a time, and an in-memory database only lives on its connection
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "executing '%s'", pragma)
		}
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(log.StandardLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "set goose dialect")
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "run migrations")
	}

	return db, nil
}

// NewSQLiteStore opens the database at dsn and returns a store using it.
func NewSQLiteStore(dsn string) (Store, error) {
	db, err := OpenSQLite(dsn)
	if err != nil {
		return nil, err
	}

	return &SQLite{DB: db}, nil
}

// SetDeployment upserts a deployment.
func (s *SQLite) SetDeployment(ctx context.Context, d schemas.DeploymentSettings) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO deployments (name, path, excluded, full_stop) VALUES (?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET path = excluded.path, excluded = excluded.excluded, full_stop = excluded.full_stop`,
		d.Name, d.Path, d.Excluded, d.FullStop,
	)

	return errors.Wrap(err, "upsert deployment")
}

// DelDeployment deletes a deployment.
func (s *SQLite) DelDeployment(ctx context.Context, k schemas.DeploymentKey) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM deployments WHERE name = ?`, string(k))

	return errors.Wrap(err, "delete deployment")
}

// GetDeployment retrieves a deployment by name.
func (s *SQLite) GetDeployment(ctx context.Context, d *schemas.DeploymentSettings) error {
	row := s.DB.QueryRowContext(ctx,
		`SELECT name, path, excluded, full_stop FROM deployments WHERE name = ?`,
		d.Name,
	)

	err := row.Scan(&d.Name, &d.Path, &d.Excluded, &d.FullStop)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("deployment", d.Name)
	}

	return errors.Wrap(err, "get deployment")
}

// DeploymentExists checks if a deployment exists.
func (s *SQLite) DeploymentExists(ctx context.Context, k schemas.DeploymentKey) (bool, error) {
	var n int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM deployments WHERE name = ?`, string(k)).Scan(&n); err != nil {
		return false, errors.Wrap(err, "count deployment")
	}

	return n > 0, nil
}

// Deployments retrieves all deployments.
func (s *SQLite) Deployments(ctx context.Context) (schemas.Deployments, error) {
	deployments := schemas.Deployments{}

	rows, err := s.DB.QueryContext(ctx, `SELECT name, path, excluded, full_stop FROM deployments`)
	if err != nil {
		return deployments, errors.Wrap(err, "list deployments")
	}
	defer rows.Close()

	for rows.Next() {
		var d schemas.DeploymentSettings
		if err := rows.Scan(&d.Name, &d.Path, &d.Excluded, &d.FullStop); err != nil {
			return deployments, errors.Wrap(err, "scan deployment")
		}
		deployments[d.Key()] = d
	}

	return deployments, rows.Err()
}

// DeploymentsCount counts the deployments.
func (s *SQLite) DeploymentsCount(ctx context.Context) (n int64, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM deployments`).Scan(&n)
	return n, errors.Wrap(err, "count deployments")
}

// AddSchedule inserts a schedule and sets its ID.
func (s *SQLite) AddSchedule(ctx context.Context, e *schemas.ScheduleEntry) error {
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO schedules (target_all, target_name, kind, expression, active) VALUES (?, ?, ?, ?, ?)`,
		e.Target.All, e.Target.Name, string(e.Kind), e.Expression, e.Active,
	)
	if err != nil {
		return errors.Wrap(err, "insert schedule")
	}

	e.ID, err = res.LastInsertId()

	return errors.Wrap(err, "reading schedule id")
}

// DelSchedule deletes a schedule.
func (s *SQLite) DelSchedule(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "delete schedule")
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("schedule", id)
	}

	return nil
}

// GetSchedule retrieves a schedule by ID.
func (s *SQLite) GetSchedule(ctx context.Context, e *schemas.ScheduleEntry) error {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, target_all, target_name, kind, expression, active FROM schedules WHERE id = ?`,
		e.ID,
	)

	got, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("schedule", e.ID)
	}
	if err != nil {
		return err
	}

	*e = got

	return nil
}

// Schedules retrieves the schedules ordered by ID.
func (s *SQLite) Schedules(ctx context.Context, activeOnly bool) (schemas.ScheduleEntries, error) {
	entries := schemas.ScheduleEntries{}

	query := `SELECT id, target_all, target_name, kind, expression, active FROM schedules`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return entries, errors.Wrap(err, "list schedules")
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanSchedule(rows)
		if err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// SchedulesCount counts the schedules.
func (s *SQLite) SchedulesCount(ctx context.Context) (n int64, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM schedules`).Scan(&n)
	return n, errors.Wrap(err, "count schedules")
}

// AddRunLog inserts a record and sets its ID.
func (s *SQLite) AddRunLog(ctx context.Context, r *schemas.RunLogRecord) error {
	details, err := json.Marshal(r.Details)
	if err != nil {
		return errors.Wrap(err, "marshal run log details")
	}

	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO run_logs (timestamp, status, summary, details) VALUES (?, ?, ?, ?)`,
		r.Timestamp.UnixNano(), string(r.Status), r.Summary, string(details),
	)
	if err != nil {
		return errors.Wrap(err, "insert run log")
	}

	r.ID, err = res.LastInsertId()

	return errors.Wrap(err, "reading run log id")
}

// RunLogs retrieves the most recent records.
func (s *SQLite) RunLogs(ctx context.Context, limit int) (schemas.RunLogRecords, error) {
	records := schemas.RunLogRecords{}

	if limit <= 0 {
		limit = -1
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, timestamp, status, summary, details FROM run_logs ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return records, errors.Wrap(err, "list run logs")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r       schemas.RunLogRecord
			ts      int64
			status  string
			details string
		)

		if err := rows.Scan(&r.ID, &ts, &status, &r.Summary, &details); err != nil {
			return records, errors.Wrap(err, "scan run log")
		}

		if err := json.Unmarshal([]byte(details), &r.Details); err != nil {
			return records, errors.Wrapf(err, "unmarshal details of run log %d", r.ID)
		}

		r.Timestamp = time.Unix(0, ts)
		r.Status = schemas.RunLogStatus(status)
		records = append(records, r)
	}

	return records, rows.Err()
}

// RunLogsCount counts the records.
func (s *SQLite) RunLogsCount(ctx context.Context) (n int64, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM run_logs`).Scan(&n)
	return n, errors.Wrap(err, "count run logs")
}

// QueueTask registers that we are queueing the task. A task recorded by
// another process is taken over: a database file only serves one process at
// a time, so that process is gone.
func (s *SQLite) QueueTask(ctx context.Context, tt schemas.TaskType, taskUUID, processUUID string) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO queued_tasks (task_type, unique_id, process_uuid) VALUES (?, ?, ?)
		 ON CONFLICT (task_type, unique_id) DO NOTHING`,
		string(tt), taskUUID, processUUID,
	)
	if err != nil {
		return false, errors.Wrap(err, "queue task")
	}

	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}

	res, err = s.DB.ExecContext(ctx,
		`UPDATE queued_tasks SET process_uuid = ? WHERE task_type = ? AND unique_id = ? AND process_uuid <> ?`,
		processUUID, string(tt), taskUUID, processUUID,
	)
	if err != nil {
		return false, errors.Wrap(err, "take over task")
	}

	n, _ := res.RowsAffected()

	return n > 0, nil
}

// UnqueueTask removes the task from the tracker.
func (s *SQLite) UnqueueTask(ctx context.Context, tt schemas.TaskType, taskUUID string) error {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM queued_tasks WHERE task_type = ? AND unique_id = ?`,
		string(tt), taskUUID,
	)
	if err != nil {
		return errors.Wrap(err, "unqueue task")
	}

	if n, _ := res.RowsAffected(); n > 0 {
		_, err = s.DB.ExecContext(ctx,
			`INSERT INTO counters (name, value) VALUES (?, 1)
			 ON CONFLICT (name) DO UPDATE SET value = value + 1`,
			sqliteTasksExecutedCounter,
		)
	}

	return errors.Wrap(err, "count executed task")
}

// CurrentlyQueuedTasksCount returns the count of currently queued tasks.
func (s *SQLite) CurrentlyQueuedTasksCount(ctx context.Context) (n uint64, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM queued_tasks`).Scan(&n)
	return n, errors.Wrap(err, "count queued tasks")
}

// ExecutedTasksCount returns the count of executed tasks.
func (s *SQLite) ExecutedTasksCount(ctx context.Context) (n uint64, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = ?`, sqliteTasksExecutedCounter).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	return n, errors.Wrap(err, "read executed tasks count")
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.DB.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(s scanner) (e schemas.ScheduleEntry, err error) {
	var kind string

	if err = s.Scan(&e.ID, &e.Target.All, &e.Target.Name, &kind, &e.Expression, &e.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return
		}
		return e, errors.Wrap(err, "scan schedule")
	}

	e.Kind = schemas.TriggerKind(kind)

	return
}
