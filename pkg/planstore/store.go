// Package planstore implements the Plan Store contract: durable persistence
// for a run's metadata and its solved Plan Rows, behind two interchangeable
// backends (relational and document).
package planstore

import (
	"context"

	"github.com/sudekirlar/fjsm-project/pkg/model"
)

// Store is the two-level contract every backend satisfies, unchanged in
// shape across backends so the Run Coordinator never knows which one it is
// talking to.
type Store interface {
	// CreateRunRecord idempotently inserts a PENDING stub for runID with
	// created_at set to now. A second call for the same runID is a no-op.
	CreateRunRecord(ctx context.Context, runID string, requestedBy string) error

	// UpdateRunStatus transitions runID to status. On a transition to
	// RUNNING, started_at is set; on a transition to a terminal status,
	// completed_at is set. Optional fields are applied only when non-nil,
	// preserving whatever was previously recorded.
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, opts UpdateOptions) error

	// GetRunMetadata returns the current metadata row for runID.
	GetRunMetadata(ctx context.Context, runID string) (*model.RunMetadata, error)

	// WriteResults atomically replaces the plan row set for runID — delete
	// existing, then insert all of rows — and returns the count written. An
	// empty rows still performs the delete.
	WriteResults(ctx context.Context, runID string, rows []model.PlanRow) (int, error)

	// GetResults returns the plan rows currently stored for runID.
	GetResults(ctx context.Context, runID string) ([]model.PlanRow, error)

	// ListRecent returns the most recently created runs, newest first.
	ListRecent(ctx context.Context, limit int) ([]model.RunMetadata, error)

	// AppendAudit appends one operational-history entry. Backends may no-op
	// this; it is not part of the store's correctness contract.
	AppendAudit(ctx context.Context, entry model.AuditEntry) error

	// Close releases any resources the backend holds open.
	Close() error
}

// UpdateOptions carries UpdateRunStatus's optional fields; a nil pointer
// means "leave the stored value untouched."
type UpdateOptions struct {
	Makespan     *int
	SolverStatus *string
	ErrorMessage *string
	ErrorKind    *string
}
