package planstore

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

	_ "modernc.org/sqlite"

	"github.com/sudekirlar/fjsm-project/pkg/model"
	"github.com/sudekirlar/fjsm-project/pkg/telemetry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RelationalStore is the SQLite-backed Store. Every method opens and
// closes its own *sql.DB rather than caching a handle across calls: a
// connection checked out by a parent process cannot be safely reused after
// a worker fork, so holding one open across the process-pool's worker
// boundary is unsafe.
type RelationalStore struct {
	path    string
	metrics *telemetry.Metrics
}

// NewRelationalStore constructs a RelationalStore backed by the SQLite file
// at path, running embedded migrations once up front.
func NewRelationalStore(path string, metrics *telemetry.Metrics) (*RelationalStore, error) {
	s := &RelationalStore{path: path, metrics: metrics}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RelationalStore) dsn() string {
	return fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)
}

func (s *RelationalStore) open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return nil, fmt.Errorf("opening plan store database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging plan store database: %w", err)
	}
	return db, nil
}

func (s *RelationalStore) migrate() error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("opening plan store database for migration: %w", err)
	}
	defer db.Close()

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running plan store migrations: %w", err)
	}
	return nil
}

func (s *RelationalStore) recordCall(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordStoreCall("relational", operation, time.Since(start))
	if err != nil {
		s.metrics.RecordStoreError("relational", operation)
	}
}

// CreateRunRecord implements Store.
func (s *RelationalStore) CreateRunRecord(ctx context.Context, runID string, requestedBy string) (err error) {
	start := time.Now()
	defer func() { s.recordCall("create_run_record", start, err) }()

	db, err := s.open(ctx)
	if err != nil {
		return toStoreError(err)
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, `
		INSERT INTO run_metadata (run_id, status, created_at, requested_by)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`, runID, model.RunPending, time.Now().UTC(), requestedBy)
	if err != nil {
		return toStoreError(fmt.Errorf("creating run record: %w", err))
	}
	return nil
}

// UpdateRunStatus implements Store.
func (s *RelationalStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, opts UpdateOptions) (err error) {
	start := time.Now()
	defer func() { s.recordCall("update_run_status", start, err) }()

	db, dberr := s.open(ctx)
	if dberr != nil {
		return toStoreError(dberr)
	}
	defer db.Close()

	now := time.Now().UTC()
	setClauses := "status = ?"
	args := []interface{}{status}

	if status == model.RunRunning {
		setClauses += ", started_at = ?"
		args = append(args, now)
	}
	if status.IsTerminal() {
		setClauses += ", completed_at = ?"
		args = append(args, now)
	}
	if opts.Makespan != nil {
		setClauses += ", makespan = ?"
		args = append(args, *opts.Makespan)
	}
	if opts.SolverStatus != nil {
		setClauses += ", solver_status = ?"
		args = append(args, *opts.SolverStatus)
	}
	if opts.ErrorMessage != nil {
		setClauses += ", error_message = ?"
		args = append(args, *opts.ErrorMessage)
	}
	if opts.ErrorKind != nil {
		setClauses += ", error_kind = ?"
		args = append(args, *opts.ErrorKind)
	}
	args = append(args, runID)

	result, err := db.ExecContext(ctx, fmt.Sprintf("UPDATE run_metadata SET %s WHERE run_id = ?", setClauses), args...)
	if err != nil {
		return toStoreError(fmt.Errorf("updating run status: %w", err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return toStoreError(err)
	}
	if rows == 0 {
		return toStoreError(fmt.Errorf("run %s not found", runID))
	}
	return nil
}

// GetRunMetadata implements Store.
func (s *RelationalStore) GetRunMetadata(ctx context.Context, runID string) (meta *model.RunMetadata, err error) {
	start := time.Now()
	defer func() { s.recordCall("get_run_metadata", start, err) }()

	db, err := s.open(ctx)
	if err != nil {
		return nil, toStoreError(err)
	}
	defer db.Close()

	row := db.QueryRowContext(ctx, `
		SELECT run_id, status, created_at, started_at, completed_at, makespan,
		       solver_status, error_message, error_kind, requested_by
		FROM run_metadata WHERE run_id = ?
	`, runID)

	meta = &model.RunMetadata{}
	var (
		startedAt, completedAt sql.NullTime
		makespan               sql.NullInt64
		solverStatus           sql.NullString
		errMessage             sql.NullString
		errKind                sql.NullString
		requestedBy            sql.NullString
	)
	scanErr := row.Scan(&meta.RunID, &meta.Status, &meta.CreatedAt, &startedAt, &completedAt,
		&makespan, &solverStatus, &errMessage, &errKind, &requestedBy)
	if errors.Is(scanErr, sql.ErrNoRows) {
		return nil, toStoreError(fmt.Errorf("run %s not found", runID))
	}
	if scanErr != nil {
		return nil, toStoreError(fmt.Errorf("scanning run metadata: %w", scanErr))
	}

	if startedAt.Valid {
		meta.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		meta.CompletedAt = &completedAt.Time
	}
	if makespan.Valid {
		m := int(makespan.Int64)
		meta.Makespan = &m
	}
	meta.SolverStatus = solverStatus.String
	meta.ErrorMessage = errMessage.String
	meta.ErrorKind = errKind.String
	meta.RequestedBy = requestedBy.String

	return meta, nil
}

// WriteResults implements Store.
func (s *RelationalStore) WriteResults(ctx context.Context, runID string, rows []model.PlanRow) (n int, err error) {
	start := time.Now()
	defer func() { s.recordCall("write_results", start, err) }()

	db, err := s.open(ctx)
	if err != nil {
		return 0, toStoreError(err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, toStoreError(err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM plan_rows WHERE run_id = ?`, runID); err != nil {
		tx.Rollback()
		return 0, toStoreError(fmt.Errorf("deleting prior plan rows: %w", err))
	}

	for _, r := range rows {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO plan_rows (task_instance_id, run_id, job_id, task_name, assigned_machine, start_time, end_time, package_uid)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, r.TaskInstanceID, runID, r.JobID, r.TaskName, r.AssignedMachine, r.StartTime, r.EndTime, r.PackageUID); err != nil {
			tx.Rollback()
			return 0, toStoreError(fmt.Errorf("inserting plan row: %w", err))
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, toStoreError(err)
	}
	return len(rows), nil
}

// GetResults implements Store.
func (s *RelationalStore) GetResults(ctx context.Context, runID string) (rows []model.PlanRow, err error) {
	start := time.Now()
	defer func() { s.recordCall("get_results", start, err) }()

	db, err := s.open(ctx)
	if err != nil {
		return nil, toStoreError(err)
	}
	defer db.Close()

	result, err := db.QueryContext(ctx, `
		SELECT task_instance_id, job_id, task_name, assigned_machine, start_time, end_time, package_uid
		FROM plan_rows WHERE run_id = ? ORDER BY task_instance_id
	`, runID)
	if err != nil {
		return nil, toStoreError(err)
	}
	defer result.Close()

	for result.Next() {
		var r model.PlanRow
		if err = result.Scan(&r.TaskInstanceID, &r.JobID, &r.TaskName, &r.AssignedMachine, &r.StartTime, &r.EndTime, &r.PackageUID); err != nil {
			return nil, toStoreError(err)
		}
		rows = append(rows, r)
	}
	return rows, result.Err()
}

// ListRecent implements Store.
func (s *RelationalStore) ListRecent(ctx context.Context, limit int) (metas []model.RunMetadata, err error) {
	start := time.Now()
	defer func() { s.recordCall("list_recent", start, err) }()

	db, err := s.open(ctx)
	if err != nil {
		return nil, toStoreError(err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT run_id, status, created_at, started_at, completed_at, makespan,
		       solver_status, error_message, error_kind, requested_by
		FROM run_metadata ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, toStoreError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var meta model.RunMetadata
		var (
			startedAt, completedAt sql.NullTime
			makespan               sql.NullInt64
			solverStatus           sql.NullString
			errMessage             sql.NullString
			errKind                sql.NullString
			requestedBy            sql.NullString
		)
		if err = rows.Scan(&meta.RunID, &meta.Status, &meta.CreatedAt, &startedAt, &completedAt,
			&makespan, &solverStatus, &errMessage, &errKind, &requestedBy); err != nil {
			return nil, toStoreError(err)
		}
		if startedAt.Valid {
			meta.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			meta.CompletedAt = &completedAt.Time
		}
		if makespan.Valid {
			m := int(makespan.Int64)
			meta.Makespan = &m
		}
		meta.SolverStatus = solverStatus.String
		meta.ErrorMessage = errMessage.String
		meta.ErrorKind = errKind.String
		meta.RequestedBy = requestedBy.String
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

// AppendAudit implements Store.
func (s *RelationalStore) AppendAudit(ctx context.Context, entry model.AuditEntry) (err error) {
	start := time.Now()
	defer func() { s.recordCall("append_audit", start, err) }()

	db, err := s.open(ctx)
	if err != nil {
		return toStoreError(err)
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, `
		INSERT INTO audit_log (run_id, action, actor, details, timestamp, request_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.RunID, entry.Action, entry.Actor, entry.Details, entry.Timestamp, entry.RequestID)
	if err != nil {
		return toStoreError(err)
	}
	return nil
}

// Close implements Store. RelationalStore holds no long-lived connection to
// release — every operation opens and closes its own — so this is a no-op.
func (s *RelationalStore) Close() error { return nil }

func toStoreError(err error) error {
	if err == nil {
		return nil
	}
	return model.NewFault(model.StoreError, "plan store operation failed", err)
}
