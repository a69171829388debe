// Package solver implements the Constraint Solver Adapter: it builds a
// scheduling model from Task Instances, a lock list, and the Machine
// Catalogue, discharges it through a pluggable Engine using a two-stage
// lexicographic objective, and extracts Plan Rows from the result.
package solver

import (
	"context"
	"fmt"
	"math"

	"github.com/sudekirlar/fjsm-project/pkg/model"
)

// Status is a solver outcome for one stage of the lexicographic solve.
type Status string

const (
	StatusOptimal     Status = "OPTIMAL"
	StatusFeasible    Status = "FEASIBLE"
	StatusInfeasible  Status = "INFEASIBLE"
	StatusTimeout     Status = "TIMEOUT"
)

// Assignment is one task instance's resolved machine and interval.
type Assignment struct {
	TaskInstanceID int    `json:"task_instance_id"`
	Machine        string `json:"machine"`
	Start          int    `json:"start"`
	End            int    `json:"end"`
}

// ModelRequest is everything an Engine needs to discharge one stage of the
// solve. Durations is keyed by (base_name, machine); the Engine never reads
// the catalogue directly so it has no dependency on pkg/catalogue.
type ModelRequest struct {
	Instances     []model.TaskInstance `json:"instances"`
	Locks         []model.Lock         `json:"locks"`
	Durations     map[string]map[string]int `json:"durations"`

	// Horizon bounds every time variable an Engine introduces. ExactEngine
	// and ProcessEngine's sidecar binary both ignore it today — it exists
	// for a future CP-SAT-style engine that needs an explicit search bound.
	Horizon       int                  `json:"horizon"`
	TimeLimitSecs int                  `json:"time_limit_secs"`

	// FixedMakespan is non-nil for Stage 2: the makespan Stage 1 found,
	// constraining Stage 2's search to schedules that do not exceed it.
	FixedMakespan *int `json:"fixed_makespan,omitempty"`
}

// ModelResponse is an Engine's verdict for one stage.
type ModelResponse struct {
	Status      Status       `json:"status"`
	Objective   int          `json:"objective"`
	Assignments []Assignment `json:"assignments,omitempty"`
}

// Engine discharges a built model. The concrete CP-SAT solver is an
// out-of-scope external collaborator; ExactEngine and ProcessEngine are the
// two implementations this repo carries.
type Engine interface {
	Solve(ctx context.Context, req ModelRequest) (ModelResponse, error)
}

// Horizon computes H = ceil(1.5 * sum of each instance's max candidate
// duration), the planning horizon every time variable is bounded to.
func Horizon(instances []model.TaskInstance, durations map[string]map[string]int) int {
	total := 0
	for _, inst := range instances {
		total += maxDuration(inst, durations)
	}
	return int(math.Ceil(1.5 * float64(total)))
}

func maxDuration(inst model.TaskInstance, durations map[string]map[string]int) int {
	byMachine := durations[inst.BaseName]
	max := 0
	for _, m := range inst.MachineCandidates {
		if d := byMachine[m]; d > max {
			max = d
		}
	}
	return max
}

// ValidateLocks checks every lock references a known instance and, when a
// machine is pinned, that the machine is among that instance's candidates.
// Returns an InvalidLock Fault on the first violation found.
func ValidateLocks(instances []model.TaskInstance, locks []model.Lock) error {
	byID := make(map[int]model.TaskInstance, len(instances))
	for _, inst := range instances {
		byID[inst.ID] = inst
	}

	for _, lock := range locks {
		inst, ok := byID[lock.TaskInstanceID]
		if !ok {
			return model.NewFault(model.InvalidLock,
				fmt.Sprintf("lock references unknown task instance %d", lock.TaskInstanceID), nil).
				WithDetail("task_instance_id", lock.TaskInstanceID)
		}
		if lock.Machine == "" {
			continue
		}
		found := false
		for _, m := range inst.MachineCandidates {
			if m == lock.Machine {
				found = true
				break
			}
		}
		if !found {
			return model.NewFault(model.InvalidLock,
				fmt.Sprintf("lock pins task instance %d to ineligible machine %q", lock.TaskInstanceID, lock.Machine), nil).
				WithDetail("task_instance_id", lock.TaskInstanceID).
				WithDetail("machine", lock.Machine)
		}
	}
	return nil
}
