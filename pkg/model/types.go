package model

import "time"

// Package is the input aggregate a Package Repository hands to the
// Expansion Engine: a unique package identifier, an opaque deadline, and the
// ordered jobs it contains.
type Package struct {
	// PackageID is unique within the backing store that produced this package.
	PackageID int `json:"package_id"`

	// Deadline is an opaque string carried through untouched; the solver
	// never reads it (see DESIGN.md's Open Question decision).
	Deadline string `json:"deadline,omitempty"`

	// Jobs is the ordered sequence of jobs this package declares.
	Jobs []Job `json:"jobs"`

	// Source is the origin tag ("relational" or "document") of the backend
	// that produced this package.
	Source string `json:"source"`

	// UID is globally unique: "source:package_id". Within a single run, all
	// package UIDs must be distinct.
	UID string `json:"uid"`

	// Metadata carries free-form tags from the repository (customer,
	// priority band, …); never read by the core, threaded through only so
	// adapters can log or report on it.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Job is a unique-within-its-package sequence of tasks.
type Job struct {
	// JobID is unique within the owning package.
	JobID int `json:"job_id"`

	// Tasks is the sequence of task declarations for this job.
	Tasks []Task `json:"tasks"`
}

// TaskMode distinguishes a single-instance task from one split across
// several concurrent instances.
type TaskMode string

const (
	// ModeSingle produces exactly one Task Instance.
	ModeSingle TaskMode = "single"

	// ModeSplit produces Count Task Instances, each independently assignable.
	ModeSplit TaskMode = "split"
)

// Task is a declared operation within a job, as submitted by the caller —
// not yet resolved against the machine catalogue.
type Task struct {
	// Name is the base operation (cut, engrave, bend, …).
	Name string `json:"name"`

	// Mode is single or split.
	Mode TaskMode `json:"mode"`

	// Order is the positive-integer phase of this task within its job.
	Order int `json:"order"`

	// Count is the number of instances to emit; required iff Mode is split,
	// ignored when Mode is single.
	Count int `json:"count,omitempty"`

	// EligibleMachines is the non-empty set of machine identifiers the
	// caller declares as candidates for this task, prior to duration
	// filtering against the catalogue.
	EligibleMachines []string `json:"eligible_machines"`
}

// TaskInstance is the Expansion Engine's solver-ready output: one per single
// task, Count per split task. Created before solving, immutable during it,
// discarded once results are persisted.
type TaskInstance struct {
	// ID is sequential and unique within a run, starting at 1.
	ID int `json:"id"`

	// PackageUID ties this instance back to its owning package.
	PackageUID string `json:"package_uid"`

	// JobID ties this instance back to its owning job.
	JobID int `json:"job_id"`

	// Order is the phase copied from the declaring Task.
	Order int `json:"order"`

	// Name is the display name: the base name for single tasks, or the base
	// name with an index suffix ("_0", "_1", …) for split instances.
	Name string `json:"name"`

	// BaseName is the operation key used to look up durations in the
	// catalogue.
	BaseName string `json:"base_name"`

	// MachineCandidates is EligibleMachines restricted to machines with a
	// strictly positive duration for BaseName.
	MachineCandidates []string `json:"machine_candidates"`
}

// Lock is an optional user pin fixing a task instance to a machine and an
// exact start time. Valid only when Machine is among the referenced
// instance's MachineCandidates.
type Lock struct {
	// TaskInstanceID identifies the instance being pinned.
	TaskInstanceID int `json:"task_instance_id"`

	// Machine is the pinned machine identifier.
	Machine string `json:"machine"`

	// StartMin is the exact start time the solver must assign the pinned
	// instance — the constraint is an equality (ms_t* = s*), not a lower
	// bound.
	StartMin int `json:"start_min"`
}

// PlanRow is one row of the solved schedule.
type PlanRow struct {
	TaskInstanceID  int    `json:"task_instance_id"`
	JobID           int    `json:"job_id"`
	TaskName        string `json:"task_name"`
	AssignedMachine string `json:"assigned_machine"`
	StartTime       int    `json:"start_time"`
	EndTime         int    `json:"end_time"`
	PackageUID      string `json:"package_uid"`
}

// RunStatus is a Run Metadata state: PENDING → RUNNING → {COMPLETED, FAILED}.
// Terminal states are immutable; a new attempt always uses a new RunID.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// IsTerminal reports whether status is one a run can no longer leave.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed
}

// IsActive reports whether status is one a run is still progressing through.
func (s RunStatus) IsActive() bool {
	return s == RunPending || s == RunRunning
}

// RunMetadata is the Run Coordinator's exclusively-owned record for one
// run_id.
type RunMetadata struct {
	RunID    string    `json:"run_id"`
	Status   RunStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Makespan      *int    `json:"makespan,omitempty"`
	SolverStatus  string  `json:"solver_status,omitempty"`
	ErrorMessage  string  `json:"error_message,omitempty"`
	ErrorKind     string  `json:"error_kind,omitempty"`

	// RequestedBy is the caller identity, recorded for audit purposes only;
	// it is not part of the state machine and gates no transition.
	RequestedBy string `json:"requested_by,omitempty"`
}

// AuditEntry is one append-only row of operational history recorded at each
// run status transition. It is not part of the Plan Store contract — purely
// observational, and a backend may no-op writing it.
type AuditEntry struct {
	RunID     string    `json:"run_id"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor,omitempty"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// RequestID carries the caller's X-Request-ID through to the audit
	// trail, so a trace span and its audit rows can be correlated.
	RequestID string `json:"request_id,omitempty"`
}
