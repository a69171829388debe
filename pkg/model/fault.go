package model

import (
	"errors"
	"fmt"
)

// FaultKind classifies a Fault along the taxonomy the planner's components
// agree to raise and the Run Coordinator agrees to catch.
type FaultKind string

const (
	// InputError indicates a structurally or semantically invalid submission
	// (malformed package, unknown job type, non-positive phase). The API Edge
	// rejects such a request before a run is created; the Expansion Engine's
	// policy gate and task-mode check raise it inside a run, which then ends
	// FAILED. Never retried automatically.
	InputError FaultKind = "input_error"

	// NoEligibleMachine indicates none of a task's declared eligible machines
	// has a strictly positive catalogue duration for its base_name.
	NoEligibleMachine FaultKind = "no_eligible_machine"

	// InsufficientMachines indicates a split task's count exceeds the number
	// of eligible machines for its base_name.
	InsufficientMachines FaultKind = "insufficient_machines"

	// InvalidLock indicates a submitted lock references a task instance or
	// machine that doesn't exist, or pins to an ineligible machine.
	InvalidLock FaultKind = "invalid_lock"

	// InfeasibleOrTimeout indicates the solver could not find a feasible
	// schedule within the horizon, or exceeded its time budget, at either
	// stage of the lexicographic solve.
	InfeasibleOrTimeout FaultKind = "infeasible_or_timeout"

	// RepositoryError indicates the Package Repository's backing store
	// failed to read or tag a package.
	RepositoryError FaultKind = "repository_error"

	// StoreError indicates the Plan Store's backing store failed to read,
	// write, or transition a run.
	StoreError FaultKind = "store_error"
)

// Fault is the planner's single classified error type. Every component that
// can fail raises a *Fault; the Run Coordinator catches it, records the run
// as FAILED with Fault.Kind and Fault.Message, appends a "failed" audit row
// and logs it; the fault is not passed on to the worker pool or any other
// caller. There is no automatic retry classification here,
// unlike a transient/throttled/conflict/permanent taxonomy, because the
// propagation policy for this system never retries a run on the planner's
// own initiative.
type Fault struct {
	// Kind is the taxonomy tag this fault belongs to.
	Kind FaultKind `json:"kind"`

	// Message is the human-readable description.
	Message string `json:"message"`

	// RunID is the run this fault occurred within, if any.
	RunID string `json:"run_id,omitempty"`

	// Details carries structured context (e.g. task_id, base_name, count).
	Details map[string]interface{} `json:"details,omitempty"`

	// Err is the underlying cause, if this fault wraps one.
	Err error `json:"-"`
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.RunID != "" {
		return fmt.Sprintf("[%s] %s (run=%s): %s", f.Kind, f.Message, f.RunID, f.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", f.Kind, f.Message, f.unwrapMessage())
}

// Unwrap returns the underlying cause for errors.Is/errors.As chains.
func (f *Fault) Unwrap() error {
	return f.Err
}

func (f *Fault) unwrapMessage() string {
	if f.Err != nil {
		return f.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is, comparing by Kind.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	if !ok {
		return false
	}
	return f.Kind == t.Kind
}

// NewFault constructs a Fault of the given kind.
func NewFault(kind FaultKind, message string, err error) *Fault {
	return &Fault{Kind: kind, Message: message, Err: err}
}

// WithRunID attaches a run ID to the fault.
func (f *Fault) WithRunID(runID string) *Fault {
	f.RunID = runID
	return f
}

// WithDetail attaches a detail field to the fault.
func (f *Fault) WithDetail(key string, value interface{}) *Fault {
	if f.Details == nil {
		f.Details = make(map[string]interface{})
	}
	f.Details[key] = value
	return f
}

// Kind classification helpers, one predicate per fault tag below, so
// callers can branch on error kind without importing FaultKind directly.

func isKind(err error, kind FaultKind) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind == kind
	}
	return false
}

// IsInputError reports whether err is an InputError fault.
func IsInputError(err error) bool { return isKind(err, InputError) }

// IsNoEligibleMachine reports whether err is a NoEligibleMachine fault.
func IsNoEligibleMachine(err error) bool { return isKind(err, NoEligibleMachine) }

// IsInsufficientMachines reports whether err is an InsufficientMachines fault.
func IsInsufficientMachines(err error) bool { return isKind(err, InsufficientMachines) }

// IsInvalidLock reports whether err is an InvalidLock fault.
func IsInvalidLock(err error) bool { return isKind(err, InvalidLock) }

// IsInfeasibleOrTimeout reports whether err is an InfeasibleOrTimeout fault.
func IsInfeasibleOrTimeout(err error) bool { return isKind(err, InfeasibleOrTimeout) }

// IsRepositoryError reports whether err is a RepositoryError fault.
func IsRepositoryError(err error) bool { return isKind(err, RepositoryError) }

// IsStoreError reports whether err is a StoreError fault.
func IsStoreError(err error) bool { return isKind(err, StoreError) }

// KindOf extracts the FaultKind from err, returning "" if err is not a *Fault.
// Used by ambient-stack callers (telemetry, API edge) that need the kind as a
// plain string without taking a dependency on this package's error plumbing.
func KindOf(err error) FaultKind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}
