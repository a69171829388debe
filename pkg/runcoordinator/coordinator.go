// Package runcoordinator implements the Run Coordinator: it accepts a run
// submission, creates a run id, dispatches the work to a background worker
// pool, and threads status transitions through the Plan Store.
package runcoordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sudekirlar/fjsm-project/pkg/catalogue"
	"github.com/sudekirlar/fjsm-project/pkg/expansion"
	"github.com/sudekirlar/fjsm-project/pkg/model"
	"github.com/sudekirlar/fjsm-project/pkg/packagerepo"
	"github.com/sudekirlar/fjsm-project/pkg/planstore"
	"github.com/sudekirlar/fjsm-project/pkg/solver"
	"github.com/sudekirlar/fjsm-project/pkg/telemetry"
)

const (
	defaultBackend    = "relational"
	defaultWorkers    = 4
	defaultQueueDepth = 256
)

// GanttRow is one row of a solved schedule, as returned to a caller of
// Gantt. GET /api/plans/{run_id}/gantt serves it with TaskName under the
// key "task" and AssignedMachine under "resource".
type GanttRow struct {
	TaskName        string `json:"task_name"`
	Start           int    `json:"start"`
	Finish          int    `json:"finish"`
	AssignedMachine string `json:"assigned_machine"`
	JobID           int    `json:"job_id"`
	TaskInstanceID  int    `json:"task_instance_id"`
}

// job is one queued unit of work: a run_id awaiting execution against a
// chosen backend, with whatever locks the caller submitted.
type job struct {
	runID       string
	backend     string
	locks       []model.Lock
	requestedBy string
	requestID   string
}

// Coordinator owns the run lifecycle. It holds one Plan Store and one
// Package Repository per backend name ("relational", "document"), and a
// fixed pool of workers draining a buffered job queue.
type Coordinator struct {
	catalogue *catalogue.Catalogue
	expansion *expansion.Engine
	solver    *solver.Adapter

	stores map[string]planstore.Store
	repos  map[string]packagerepo.Repository

	tel    *telemetry.Telemetry
	logger *telemetry.Logger

	queue     chan job
	workers   int
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithWorkerCount overrides the default worker pool size.
func WithWorkerCount(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithQueueDepth overrides the default buffered-queue capacity.
func WithQueueDepth(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.queue = make(chan job, n)
		}
	}
}

// WithTelemetry attaches the telemetry facade every run and stage span is
// recorded against, plus a component-scoped logger for coordinator-local
// messages.
func WithTelemetry(tel *telemetry.Telemetry, logger *telemetry.Logger) Option {
	return func(c *Coordinator) {
		c.tel = tel
		c.logger = logger
	}
}

// New constructs a Coordinator and starts its worker pool. stores and repos
// must share the same set of backend-name keys (e.g. "relational",
// "document"); Submit rejects a backend name absent from either map.
func New(
	cat *catalogue.Catalogue,
	exp *expansion.Engine,
	adapter *solver.Adapter,
	stores map[string]planstore.Store,
	repos map[string]packagerepo.Repository,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		catalogue: cat,
		expansion: exp,
		solver:    adapter,
		stores:    stores,
		repos:     repos,
		workers:   defaultWorkers,
		queue:     make(chan job, defaultQueueDepth),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.wg.Add(c.workers)
	for i := 0; i < c.workers; i++ {
		go c.runWorker()
	}
	return c
}

func (c *Coordinator) runWorker() {
	defer c.wg.Done()
	for j := range c.queue {
		c.execute(context.Background(), j)
	}
}

// Close stops accepting new submissions and waits for queued runs to drain.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() { close(c.queue) })
	c.wg.Wait()
}

func (c *Coordinator) resolveBackend(backend string) string {
	if backend == "" {
		return defaultBackend
	}
	return backend
}

// Submit implements submit(packages_source, locks?) → run_id: it mints a
// fresh UUID, asks the chosen Plan Store to create the PENDING stub, and
// enqueues the background job. The queue send is non-blocking against a
// full queue, surfacing backpressure to the caller immediately rather than
// stalling the API edge.
func (c *Coordinator) Submit(ctx context.Context, backend string, locks []model.Lock, requestedBy string) (string, error) {
	backend = c.resolveBackend(backend)
	store, ok := c.stores[backend]
	if !ok {
		return "", model.NewFault(model.InputError, fmt.Sprintf("unknown backend %q", backend), nil)
	}
	if _, ok := c.repos[backend]; !ok {
		return "", model.NewFault(model.InputError, fmt.Sprintf("unknown backend %q", backend), nil)
	}

	runID := uuid.NewString()
	requestID := telemetry.RequestIDFromContext(ctx)
	if err := store.CreateRunRecord(ctx, runID, requestedBy); err != nil {
		return "", err
	}
	_ = store.AppendAudit(ctx, model.AuditEntry{RunID: runID, Action: "submitted", Actor: requestedBy, RequestID: requestID, Timestamp: time.Now().UTC()})

	select {
	case c.queue <- job{runID: runID, backend: backend, locks: locks, requestedBy: requestedBy, requestID: requestID}:
	default:
		return "", model.NewFault(model.StoreError, "run queue is full; try again shortly", nil)
	}

	return runID, nil
}

// execute implements execute(run_id, backend-choice, locks), the worker-side
// eight-step sequence from submission through terminal status. There is no
// automatic per-run retry: each step runs once.
func (c *Coordinator) execute(ctx context.Context, j job) {
	if c.tel != nil {
		ctx = c.tel.WithContext(ctx)
	}
	ctx = telemetry.WithRequestID(ctx, j.requestID)
	ctx = telemetry.WithRunContext(ctx, j.runID, j.requestedBy)

	store := c.stores[j.backend]
	repo := c.repos[j.backend]

	makespan := 0
	err := c.runSteps(ctx, j, store, repo, &makespan)

	faultKind := ""
	if err != nil {
		faultKind = string(model.KindOf(err))
		_ = store.UpdateRunStatus(ctx, j.runID, model.RunFailed, planstore.UpdateOptions{
			ErrorMessage: strPtr(err.Error()),
			ErrorKind:    strPtr(faultKind),
		})
		_ = store.AppendAudit(ctx, model.AuditEntry{RunID: j.runID, Action: "failed", Actor: j.requestedBy, Details: err.Error(), RequestID: j.requestID, Timestamp: time.Now().UTC()})
		if c.logger != nil {
			c.logger.WithRunID(j.runID).WithError(err).Error("run failed")
		}
	} else {
		optimal := "OPTIMAL"
		_ = store.UpdateRunStatus(ctx, j.runID, model.RunCompleted, planstore.UpdateOptions{
			Makespan:     &makespan,
			SolverStatus: &optimal,
		})
		_ = store.AppendAudit(ctx, model.AuditEntry{RunID: j.runID, Action: "completed", Actor: j.requestedBy, RequestID: j.requestID, Timestamp: time.Now().UTC()})
	}

	telemetry.EndRunContext(ctx, j.runID, makespan, faultKind, err)
}

func (c *Coordinator) runSteps(ctx context.Context, j job, store planstore.Store, repo packagerepo.Repository, makespan *int) error {
	// Step 1: transition to RUNNING.
	if err := store.UpdateRunStatus(ctx, j.runID, model.RunRunning, planstore.UpdateOptions{}); err != nil {
		return err
	}

	// Step 2: load packages via the Package Repository for the chosen backend.
	stageCtx := telemetry.WithStageContext(ctx, j.runID, "read_packages")
	packages, err := repo.ReadPackages(stageCtx)
	telemetry.EndStageContext(stageCtx, "read_packages", statusFor(err), err)
	if err != nil {
		return err
	}

	snap := c.catalogue.Current()

	// Step 3: expand to task instances.
	stageCtx = telemetry.WithStageContext(ctx, j.runID, "expand")
	expanded, err := c.expansion.Expand(stageCtx, packages, snap)
	telemetry.EndStageContext(stageCtx, "expand", statusFor(err), err)
	if err != nil {
		return err
	}
	for _, w := range expanded.Warnings {
		_ = store.AppendAudit(ctx, model.AuditEntry{RunID: j.runID, Action: "expansion_warning", Actor: j.requestedBy, Details: w, RequestID: j.requestID, Timestamp: time.Now().UTC()})
	}

	// Step 4: solve.
	stageCtx = telemetry.WithStageContext(ctx, j.runID, "solve")
	rows, err := c.solver.Solve(stageCtx, expanded.Instances, j.locks, snap)
	telemetry.EndStageContext(stageCtx, "solve", statusFor(err), err)
	if err != nil {
		return err
	}

	// Step 5: write plan rows.
	stageCtx = telemetry.WithStageContext(ctx, j.runID, "write_results")
	_, err = store.WriteResults(stageCtx, j.runID, rows)
	telemetry.EndStageContext(stageCtx, "write_results", statusFor(err), err)
	if err != nil {
		return err
	}

	// Step 6: compute makespan = max(end_time) across rows (0 if empty).
	*makespan = maxEndTime(rows)

	// Steps 7/8 (terminal transition) are handled by the caller, which also
	// owns the FAILED path for any error returned above.
	return nil
}

func statusFor(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}

func maxEndTime(rows []model.PlanRow) int {
	max := 0
	for _, r := range rows {
		if r.EndTime > max {
			max = r.EndTime
		}
	}
	return max
}

func strPtr(s string) *string { return &s }

// Status implements status(run_id) → Run Metadata snapshot | NotFound.
func (c *Coordinator) Status(ctx context.Context, backend, runID string) (*model.RunMetadata, error) {
	backend = c.resolveBackend(backend)
	store, ok := c.stores[backend]
	if !ok {
		return nil, model.NewFault(model.InputError, fmt.Sprintf("unknown backend %q", backend), nil)
	}
	return store.GetRunMetadata(ctx, runID)
}

// Gantt implements gantt(run_id) → list of plan rows sorted by start
// ascending.
func (c *Coordinator) Gantt(ctx context.Context, backend, runID string) ([]GanttRow, error) {
	backend = c.resolveBackend(backend)
	store, ok := c.stores[backend]
	if !ok {
		return nil, model.NewFault(model.InputError, fmt.Sprintf("unknown backend %q", backend), nil)
	}

	rows, err := store.GetResults(ctx, runID)
	if err != nil {
		return nil, err
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].StartTime < rows[j].StartTime })

	out := make([]GanttRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, GanttRow{
			TaskName:        r.TaskName,
			Start:           r.StartTime,
			Finish:          r.EndTime,
			AssignedMachine: r.AssignedMachine,
			JobID:           r.JobID,
			TaskInstanceID:  r.TaskInstanceID,
		})
	}
	return out, nil
}

// Recent implements recent(limit=10) → recently created runs, newest first.
func (c *Coordinator) Recent(ctx context.Context, backend string, limit int) ([]model.RunMetadata, error) {
	backend = c.resolveBackend(backend)
	store, ok := c.stores[backend]
	if !ok {
		return nil, model.NewFault(model.InputError, fmt.Sprintf("unknown backend %q", backend), nil)
	}
	if limit <= 0 {
		limit = 10
	}
	return store.ListRecent(ctx, limit)
}
