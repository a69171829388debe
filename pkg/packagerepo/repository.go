// Package packagerepo implements the Package Repository contract: a
// read-mostly source of Packages for the Expansion Engine, behind a
// relational and a document backend mirroring the Plan Store's split.
package packagerepo

import (
	"context"

	"github.com/sudekirlar/fjsm-project/pkg/model"
)

// OrderInput is the shape of a single task append as submitted through the
// order-intake surface: a caller names the package/job it belongs to (new
// or existing) and describes one task declaration.
type OrderInput struct {
	PackageID        int
	JobID            int
	JobType          string
	Mode             model.TaskMode
	Phase            int
	Count            int
	EligibleMachines []string
	Deadline         string
}

// Repository is the contract every backend satisfies. Each implementation
// is responsible for mapping its storage shape to the Package data model
// and for tagging every package with a stable source and uid; errors
// bubble up as RepositoryError.
type Repository interface {
	// ReadPackages returns every package currently held by the backing
	// store, in a stable order, fully hydrated with jobs and tasks.
	ReadPackages(ctx context.Context) ([]model.Package, error)

	// AppendOrder records one task against a package/job, creating either
	// if they do not already exist, and returns a backend-local task
	// identifier.
	AppendOrder(ctx context.Context, order OrderInput) (taskID int, err error)

	// Close releases any resources held by the backend.
	Close() error
}
