// Package expansion implements the Expansion Engine: it turns a sequence of
// submitted Packages into the flat sequence of Task Instances the Constraint
// Solver Adapter consumes, resolving each declared task against the Machine
// Catalogue and the policy engine's structural business rules.
package expansion

import (
	"context"
	"fmt"

	"github.com/sudekirlar/fjsm-project/pkg/catalogue"
	"github.com/sudekirlar/fjsm-project/pkg/model"
	"github.com/sudekirlar/fjsm-project/pkg/policy"
	"github.com/sudekirlar/fjsm-project/pkg/telemetry"
)

// defaultInstanceCap is the safety ceiling on emitted instance count.
// Exceeding it truncates the output and records a warning rather than
// failing the run outright, bounding worst-case solve time.
const defaultInstanceCap = 1000

// Result is the Expansion Engine's output for one run: the flat instance
// sequence plus any non-fatal warnings recorded along the way (e.g. a
// safety-cap truncation).
type Result struct {
	Instances []model.TaskInstance
	Warnings  []string
}

// Engine resolves Packages into Task Instances against a Machine Catalogue
// snapshot and, optionally, a policy gate.
type Engine struct {
	policy *policy.Engine
	logger *telemetry.Logger
	metrics *telemetry.Metrics
	cap    int
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithPolicy installs the structural policy gate evaluated per task before
// machine-eligibility resolution.
func WithPolicy(p *policy.Engine) Option {
	return func(e *Engine) { e.policy = p }
}

// WithInstanceCap overrides the default safety ceiling on emitted instances.
func WithInstanceCap(n int) Option {
	return func(e *Engine) { e.cap = n }
}

// WithTelemetry attaches a logger/metrics pair for expansion observability.
func WithTelemetry(logger *telemetry.Logger, metrics *telemetry.Metrics) Option {
	return func(e *Engine) {
		e.logger = logger
		e.metrics = metrics
	}
}

// New constructs an Engine. The policy input's job_type field is each task's
// own Name, taken at Expand time — an Engine itself holds no
// package-specific state.
func New(opts ...Option) *Engine {
	e := &Engine{cap: defaultInstanceCap}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand resolves packages against snap in declared order (per package, per
// job, per task): compute the eligible-machine set, fail with
// NoEligibleMachine if empty, fan out single or split instances, and assign
// sequential IDs starting at 1. Each task's own name is evaluated against
// the policy gate's closed job_type set — task.Name is exactly the
// job_type validated against that set when a task is submitted.
func (e *Engine) Expand(ctx context.Context, packages []model.Package, snap *catalogue.Snapshot) (*Result, error) {
	result := &Result{}
	nextID := 1

	for _, pkg := range packages {
		for _, job := range pkg.Jobs {
			for _, task := range job.Tasks {
				if e.policy != nil {
					if _, err := e.policy.EvaluateTask(ctx, task.Name, task); err != nil {
						return nil, err
					}
				}

				candidates := snap.EligibleMachines(task.Name, task.EligibleMachines)
				if len(candidates) == 0 {
					return nil, model.NewFault(model.NoEligibleMachine,
						fmt.Sprintf("no eligible machine for task %q in job %d of package %s", task.Name, job.JobID, pkg.UID), nil).
						WithDetail("package_uid", pkg.UID).
						WithDetail("job_id", job.JobID).
						WithDetail("base_name", task.Name)
				}

				instances, err := e.emitInstances(pkg, job, task, candidates, &nextID)
				if err != nil {
					return nil, err
				}

				for _, inst := range instances {
					if len(result.Instances) >= e.cap {
						result.Warnings = append(result.Warnings,
							fmt.Sprintf("instance cap of %d reached; truncating remaining instances", e.cap))
						if e.logger != nil {
							e.logger.Warnf("expansion truncated at instance cap %d", e.cap)
						}
						return e.finish(result), nil
					}
					result.Instances = append(result.Instances, inst)
				}
			}
		}
	}

	return e.finish(result), nil
}

func (e *Engine) finish(result *Result) *Result {
	if e.metrics != nil {
		e.metrics.RecordInstancesExpanded("single", countMode(result.Instances, false))
		e.metrics.RecordInstancesExpanded("split", countMode(result.Instances, true))
	}
	return result
}

func countMode(instances []model.TaskInstance, split bool) int {
	n := 0
	for _, inst := range instances {
		isSplit := inst.Name != inst.BaseName
		if isSplit == split {
			n++
		}
	}
	return n
}

// emitInstances fans a single task declaration out into one or more Task
// Instances, per spec: one instance for mode=single, count instances with
// name suffixes "_0".."_(k-1)" for mode=split (fails InsufficientMachines if
// count exceeds the eligible-machine count). Distinct machine assignment
// between split siblings is left entirely to the solver's per-machine
// non-overlap constraint, not enforced here.
func (e *Engine) emitInstances(pkg model.Package, job model.Job, task model.Task, candidates []string, nextID *int) ([]model.TaskInstance, error) {
	switch task.Mode {
	case model.ModeSingle:
		inst := model.TaskInstance{
			ID:                *nextID,
			PackageUID:        pkg.UID,
			JobID:             job.JobID,
			Order:             task.Order,
			Name:              task.Name,
			BaseName:          task.Name,
			MachineCandidates: candidates,
		}
		*nextID++
		return []model.TaskInstance{inst}, nil

	case model.ModeSplit:
		if task.Count > len(candidates) {
			return nil, model.NewFault(model.InsufficientMachines,
				fmt.Sprintf("task %q requests %d split instances but only %d machines are eligible", task.Name, task.Count, len(candidates)), nil).
				WithDetail("package_uid", pkg.UID).
				WithDetail("job_id", job.JobID).
				WithDetail("base_name", task.Name).
				WithDetail("count", task.Count).
				WithDetail("eligible_machines", len(candidates))
		}

		instances := make([]model.TaskInstance, 0, task.Count)
		for i := 0; i < task.Count; i++ {
			instances = append(instances, model.TaskInstance{
				ID:                *nextID,
				PackageUID:        pkg.UID,
				JobID:             job.JobID,
				Order:             task.Order,
				Name:              fmt.Sprintf("%s_%d", task.Name, i),
				BaseName:          task.Name,
				MachineCandidates: candidates,
			})
			*nextID++
		}
		return instances, nil

	default:
		return nil, model.NewFault(model.InputError, fmt.Sprintf("unknown task mode %q", task.Mode), nil).
			WithDetail("package_uid", pkg.UID).
			WithDetail("job_id", job.JobID)
	}
}
