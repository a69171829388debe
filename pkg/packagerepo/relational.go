package packagerepo

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
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

// RelationalStore is the SQLite-backed Repository. Like the Plan Store's
// relational backend, every method opens and closes its own *sql.DB rather
// than caching a handle across calls, so a worker-pool fork never inherits
// a connection checked out by its parent.
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
		return nil, fmt.Errorf("opening package repository database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging package repository database: %w", err)
	}
	return db, nil
}

func (s *RelationalStore) migrate() error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("opening package repository database for migration: %w", err)
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
		return fmt.Errorf("running package repository migrations: %w", err)
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

// ReadPackages implements Repository.
func (s *RelationalStore) ReadPackages(ctx context.Context) (packages []model.Package, err error) {
	start := time.Now()
	defer func() { s.recordCall("read_packages", start, err) }()

	db, err := s.open(ctx)
	if err != nil {
		return nil, toRepositoryError(err)
	}
	defer db.Close()

	pkgRows, err := db.QueryContext(ctx, `SELECT package_id, deadline, metadata FROM packages ORDER BY package_id`)
	if err != nil {
		return nil, toRepositoryError(fmt.Errorf("reading packages: %w", err))
	}
	byID := make(map[int]*model.Package)
	var order []int
	for pkgRows.Next() {
		var pkgID int
		var deadline, metadataRaw string
		if err = pkgRows.Scan(&pkgID, &deadline, &metadataRaw); err != nil {
			pkgRows.Close()
			return nil, toRepositoryError(err)
		}
		var metadata map[string]string
		_ = json.Unmarshal([]byte(metadataRaw), &metadata)
		byID[pkgID] = &model.Package{
			PackageID: pkgID,
			Deadline:  deadline,
			Source:    "relational",
			UID:       fmt.Sprintf("relational:%d", pkgID),
			Metadata:  metadata,
		}
		order = append(order, pkgID)
	}
	if err = pkgRows.Err(); err != nil {
		pkgRows.Close()
		return nil, toRepositoryError(err)
	}
	pkgRows.Close()

	jobsByPackage := make(map[int]map[int]*model.Job)
	taskRows, err := db.QueryContext(ctx, `
		SELECT package_id, job_id, name, mode, phase, count, eligible_machines
		FROM tasks ORDER BY package_id, job_id, phase
	`)
	if err != nil {
		return nil, toRepositoryError(fmt.Errorf("reading tasks: %w", err))
	}
	defer taskRows.Close()

	for taskRows.Next() {
		var pkgID, jobID, phase, count int
		var name, mode, machinesRaw string
		if err = taskRows.Scan(&pkgID, &jobID, &name, &mode, &phase, &count, &machinesRaw); err != nil {
			return nil, toRepositoryError(err)
		}
		pkg, ok := byID[pkgID]
		if !ok {
			continue
		}
		jobs, ok := jobsByPackage[pkgID]
		if !ok {
			jobs = make(map[int]*model.Job)
			jobsByPackage[pkgID] = jobs
		}
		job, ok := jobs[jobID]
		if !ok {
			job = &model.Job{JobID: jobID}
			jobs[jobID] = job
		}
		var machines []string
		_ = json.Unmarshal([]byte(machinesRaw), &machines)
		job.Tasks = append(job.Tasks, model.Task{
			Name:             name,
			Mode:             model.TaskMode(mode),
			Order:            phase,
			Count:            count,
			EligibleMachines: machines,
		})
	}
	if err = taskRows.Err(); err != nil {
		return nil, toRepositoryError(err)
	}

	for _, pkgID := range order {
		pkg := byID[pkgID]
		jobs := jobsByPackage[pkgID]
		var jobIDs []int
		for jobID := range jobs {
			jobIDs = append(jobIDs, jobID)
		}
		sort.Ints(jobIDs)
		pkg.Jobs = pkg.Jobs[:0]
		for _, jobID := range jobIDs {
			pkg.Jobs = append(pkg.Jobs, *jobs[jobID])
		}
		packages = append(packages, *pkg)
	}
	return packages, nil
}

// AppendOrder implements Repository.
func (s *RelationalStore) AppendOrder(ctx context.Context, order OrderInput) (taskID int, err error) {
	start := time.Now()
	defer func() { s.recordCall("append_order", start, err) }()

	db, err := s.open(ctx)
	if err != nil {
		return 0, toRepositoryError(err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, toRepositoryError(err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO packages (package_id, deadline) VALUES (?, ?)
		ON CONFLICT(package_id) DO NOTHING
	`, order.PackageID, order.Deadline); err != nil {
		tx.Rollback()
		return 0, toRepositoryError(fmt.Errorf("upserting package: %w", err))
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (package_id, job_id) VALUES (?, ?)
		ON CONFLICT(package_id, job_id) DO NOTHING
	`, order.PackageID, order.JobID); err != nil {
		tx.Rollback()
		return 0, toRepositoryError(fmt.Errorf("upserting job: %w", err))
	}

	machinesRaw, err := json.Marshal(order.EligibleMachines)
	if err != nil {
		tx.Rollback()
		return 0, toRepositoryError(err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (package_id, job_id, name, mode, phase, count, eligible_machines)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, order.PackageID, order.JobID, order.JobType, string(order.Mode), order.Phase, order.Count, string(machinesRaw))
	if err != nil {
		tx.Rollback()
		return 0, toRepositoryError(fmt.Errorf("inserting task: %w", err))
	}

	if err = tx.Commit(); err != nil {
		return 0, toRepositoryError(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, toRepositoryError(err)
	}
	return int(id), nil
}

// Close implements Repository. RelationalStore holds no long-lived
// connection to release, so this is a no-op.
func (s *RelationalStore) Close() error { return nil }

func toRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	return model.NewFault(model.RepositoryError, "package repository operation failed", err)
}
