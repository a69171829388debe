package solver

import (
	"context"
	"fmt"
	"time"

	"github.com/sudekirlar/fjsm-project/pkg/catalogue"
	"github.com/sudekirlar/fjsm-project/pkg/model"
	"github.com/sudekirlar/fjsm-project/pkg/telemetry"
)

// defaultStageTimeLimitSecs is the per-stage wall-clock cap.
const defaultStageTimeLimitSecs = 60

// Adapter builds a ModelRequest from task instances, locks, and a catalogue
// snapshot, discharges it through an Engine in two lexicographic stages, and
// extracts Plan Rows from the result.
type Adapter struct {
	engine          Engine
	stage1TimeLimit int
	stage2TimeLimit int
	logger          *telemetry.Logger
	metrics         *telemetry.Metrics
}

// Option configures an Adapter at construction time.
type Option func(*Adapter)

// WithStageTimeLimits overrides the default 60s-per-stage wall-clock cap.
func WithStageTimeLimits(stage1, stage2 int) Option {
	return func(a *Adapter) {
		a.stage1TimeLimit = stage1
		a.stage2TimeLimit = stage2
	}
}

// WithTelemetry attaches a logger/metrics pair for solve observability.
func WithTelemetry(logger *telemetry.Logger, metrics *telemetry.Metrics) Option {
	return func(a *Adapter) {
		a.logger = logger
		a.metrics = metrics
	}
}

// NewAdapter constructs an Adapter around engine.
func NewAdapter(engine Engine, opts ...Option) *Adapter {
	a := &Adapter{
		engine:          engine,
		stage1TimeLimit: defaultStageTimeLimitSecs,
		stage2TimeLimit: defaultStageTimeLimitSecs,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Solve runs the two-stage lexicographic solve: Stage 1 minimises makespan,
// Stage 2 fixes that makespan and minimises total completion time. Returns
// Plan Rows extracted from Stage 2's assignment, or an InfeasibleOrTimeout
// Fault if either stage fails to find a schedule within its time cap.
func (a *Adapter) Solve(ctx context.Context, instances []model.TaskInstance, locks []model.Lock, snap *catalogue.Snapshot) ([]model.PlanRow, error) {
	if err := ValidateLocks(instances, locks); err != nil {
		return nil, err
	}

	baseNames := make([]string, 0, len(instances))
	seen := make(map[string]bool)
	for _, inst := range instances {
		if !seen[inst.BaseName] {
			seen[inst.BaseName] = true
			baseNames = append(baseNames, inst.BaseName)
		}
	}
	durations := snap.Durations(baseNames)
	horizon := Horizon(instances, durations)

	stage1Req := ModelRequest{
		Instances:     instances,
		Locks:         locks,
		Durations:     durations,
		Horizon:       horizon,
		TimeLimitSecs: a.stage1TimeLimit,
	}

	stage1Start := time.Now()
	stage1Resp, err := a.engine.Solve(ctx, stage1Req)
	if err != nil {
		return nil, err
	}
	if a.metrics != nil {
		a.metrics.RecordSolveStage("1", string(stage1Resp.Status), time.Since(stage1Start))
	}
	if stage1Resp.Status != StatusOptimal && stage1Resp.Status != StatusFeasible {
		return nil, model.NewFault(model.InfeasibleOrTimeout, "stage 1 (minimise makespan) found no feasible schedule", nil).
			WithDetail("stage", 1).
			WithDetail("solver_status", string(stage1Resp.Status))
	}

	makespan := stage1Resp.Objective
	stage2Req := stage1Req
	stage2Req.FixedMakespan = &makespan
	stage2Req.TimeLimitSecs = a.stage2TimeLimit

	stage2Start := time.Now()
	stage2Resp, err := a.engine.Solve(ctx, stage2Req)
	if err != nil {
		return nil, err
	}
	if a.metrics != nil {
		a.metrics.RecordSolveStage("2", string(stage2Resp.Status), time.Since(stage2Start))
	}
	if stage2Resp.Status != StatusOptimal && stage2Resp.Status != StatusFeasible {
		return nil, model.NewFault(model.InfeasibleOrTimeout, "stage 2 (minimise total completion) found no feasible schedule", nil).
			WithDetail("stage", 2).
			WithDetail("solver_status", string(stage2Resp.Status)).
			WithDetail("fixed_makespan", makespan)
	}

	rows, err := a.extractPlanRows(instances, stage2Resp.Assignments)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// extractPlanRows validates that every instance was assigned and builds the
// final Plan Row sequence, per spec's post-extraction validation step.
func (a *Adapter) extractPlanRows(instances []model.TaskInstance, assignments []Assignment) ([]model.PlanRow, error) {
	byID := make(map[int]model.TaskInstance, len(instances))
	for _, inst := range instances {
		byID[inst.ID] = inst
	}

	assigned := make(map[int]Assignment, len(assignments))
	for _, as := range assignments {
		assigned[as.TaskInstanceID] = as
	}

	var orphans []int
	rows := make([]model.PlanRow, 0, len(instances))
	for _, inst := range instances {
		as, ok := assigned[inst.ID]
		if !ok {
			orphans = append(orphans, inst.ID)
			continue
		}
		rows = append(rows, model.PlanRow{
			TaskInstanceID:  inst.ID,
			JobID:           inst.JobID,
			TaskName:        inst.Name,
			AssignedMachine: as.Machine,
			StartTime:       as.Start,
			EndTime:         as.End,
			PackageUID:      inst.PackageUID,
		})
	}

	if len(orphans) > 0 {
		if a.logger != nil {
			a.logger.Errorf("solver returned no assignment for instances %v", orphans)
		}
		return nil, model.NewFault(model.InfeasibleOrTimeout, fmt.Sprintf("%d task instance(s) were not assigned by the solver", len(orphans)), nil).
			WithDetail("orphan_instance_ids", orphans)
	}

	return rows, nil
}
