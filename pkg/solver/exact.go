package solver

import (
	"context"
	"sort"
	"time"

	"github.com/sudekirlar/fjsm-project/pkg/model"
)

// maxExhaustiveCombinations bounds the exhaustive assignment-space
// enumeration. Below this, ExactEngine tries every machine assignment and
// keeps the best; above it, a single greedy least-loaded-machine pass stands
// in, trading optimality for a bounded running time.
const maxExhaustiveCombinations = 20000

// ExactEngine discharges a model in-process by exhaustive search over
// machine assignments (no pruning), with list scheduling (shortest-processing-time,
// phase-barrier aware) filling in start times for each candidate
// assignment. It is the default engine for development, tests, and the
// reference solver-engine sidecar — a stand-in for the out-of-scope CP-SAT
// engine, not a claim of true optimality on large instances.
type ExactEngine struct{}

// NewExactEngine constructs an ExactEngine. It holds no state.
func NewExactEngine() *ExactEngine { return &ExactEngine{} }

// Solve implements Engine.
func (e *ExactEngine) Solve(ctx context.Context, req ModelRequest) (ModelResponse, error) {
	if err := ValidateLocks(req.Instances, req.Locks); err != nil {
		return ModelResponse{}, err
	}
	if len(req.Instances) == 0 {
		return ModelResponse{Status: StatusOptimal, Objective: 0}, nil
	}

	deadline := time.Now().Add(time.Duration(req.TimeLimitSecs) * time.Second)
	locksByInstance := make(map[int]model.Lock, len(req.Locks))
	for _, l := range req.Locks {
		locksByInstance[l.TaskInstanceID] = l
	}

	search := &bnbSearch{
		instances:     req.Instances,
		durations:     req.Durations,
		locks:         locksByInstance,
		fixedMakespan: req.FixedMakespan,
		deadline:      deadline,
	}

	assignment, schedule, jobEnds, ok, timedOut := search.run(ctx)
	if !ok {
		if timedOut {
			return ModelResponse{Status: StatusTimeout}, nil
		}
		return ModelResponse{Status: StatusInfeasible}, nil
	}

	makespan := 0
	for _, end := range jobEnds {
		if end > makespan {
			makespan = end
		}
	}

	objective := makespan
	if req.FixedMakespan != nil {
		total := 0
		for _, end := range jobEnds {
			total += end
		}
		objective = total
	}

	assignments := make([]Assignment, 0, len(schedule))
	for id, s := range schedule {
		assignments = append(assignments, Assignment{
			TaskInstanceID: id,
			Machine:        assignment[id],
			Start:          s.start,
			End:            s.end,
		})
	}
	sort.Slice(assignments, func(i, j int) bool { return assignments[i].TaskInstanceID < assignments[j].TaskInstanceID })

	status := StatusOptimal
	if timedOut {
		status = StatusFeasible
	}

	return ModelResponse{Status: status, Objective: objective, Assignments: assignments}, nil
}

type scheduledInterval struct {
	start, end int
}

type bnbSearch struct {
	instances     []model.TaskInstance
	durations     map[string]map[string]int
	locks         map[int]model.Lock
	fixedMakespan *int
	deadline      time.Time

	bestObjective int
	bestAssign    map[int]string
	bestSchedule  map[int]scheduledInterval
	bestJobEnds   map[int]int
	found         bool
}

// run explores the assignment space. It returns the best assignment/schedule
// found, per-job completion times, whether a feasible schedule was found at
// all, and whether it gave up due to the time budget rather than exhausting
// the space.
func (s *bnbSearch) run(ctx context.Context) (map[int]string, map[int]scheduledInterval, map[int]int, bool, bool) {
	combinations := 1
	candidateSets := make([][]string, len(s.instances))
	for i, inst := range s.instances {
		cands := inst.MachineCandidates
		if lock, ok := s.locks[inst.ID]; ok && lock.Machine != "" {
			cands = []string{lock.Machine}
		}
		candidateSets[i] = cands
		combinations *= len(cands)
		if combinations > maxExhaustiveCombinations {
			break
		}
	}

	s.bestObjective = int(^uint(0) >> 1)

	if combinations <= maxExhaustiveCombinations {
		assignment := make(map[int]string, len(s.instances))
		timedOut := s.branch(ctx, 0, candidateSets, assignment)
		if !s.found {
			return nil, nil, nil, false, timedOut
		}
		return s.bestAssign, s.bestSchedule, s.bestJobEnds, true, timedOut
	}

	assignment := s.greedyAssign(candidateSets)
	schedule, jobEnds, ok := simulate(s.instances, s.durations, assignment, s.locks)
	if !ok {
		return nil, nil, nil, false, false
	}
	if s.fixedMakespan != nil {
		makespan := 0
		for _, e := range jobEnds {
			if e > makespan {
				makespan = e
			}
		}
		if makespan > *s.fixedMakespan {
			return nil, nil, nil, false, false
		}
	}
	return assignment, schedule, jobEnds, true, false
}

func (s *bnbSearch) greedyAssign(candidateSets [][]string) map[int]string {
	load := make(map[string]int)
	assignment := make(map[int]string, len(s.instances))
	for i, inst := range s.instances {
		best := candidateSets[i][0]
		bestLoad := load[best] + duration(s.durations, inst.BaseName, best)
		for _, m := range candidateSets[i][1:] {
			l := load[m] + duration(s.durations, inst.BaseName, m)
			if l < bestLoad {
				best, bestLoad = m, l
			}
		}
		assignment[inst.ID] = best
		load[best] += duration(s.durations, inst.BaseName, best)
	}
	return assignment
}

// branch recursively assigns a machine to each instance in turn and
// simulates every complete assignment, keeping the best objective found so
// far; no subtree is pruned. Returns whether it gave up due to the deadline.
func (s *bnbSearch) branch(ctx context.Context, idx int, candidateSets [][]string, assignment map[int]string) bool {
	if ctx.Err() != nil || time.Now().After(s.deadline) {
		return true
	}

	if idx == len(s.instances) {
		schedule, jobEnds, ok := simulate(s.instances, s.durations, assignment, s.locks)
		if !ok {
			return false
		}
		makespan := 0
		total := 0
		for _, e := range jobEnds {
			if e > makespan {
				makespan = e
			}
			total += e
		}
		if s.fixedMakespan != nil && makespan > *s.fixedMakespan {
			return false
		}

		objective := makespan
		if s.fixedMakespan != nil {
			objective = total
		}

		if !s.found || objective < s.bestObjective {
			s.found = true
			s.bestObjective = objective
			s.bestAssign = cloneAssignment(assignment)
			s.bestSchedule = schedule
			s.bestJobEnds = jobEnds
		}
		return false
	}

	inst := s.instances[idx]
	for _, m := range candidateSets[idx] {
		assignment[inst.ID] = m
		if timedOut := s.branch(ctx, idx+1, candidateSets, assignment); timedOut {
			delete(assignment, inst.ID)
			return true
		}
	}
	delete(assignment, inst.ID)
	return false
}

func cloneAssignment(a map[int]string) map[int]string {
	out := make(map[int]string, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

func duration(durations map[string]map[string]int, baseName, machine string) int {
	return durations[baseName][machine]
}

// simulate computes start/end times for a fixed machine assignment via
// per-job phase rounds: round r schedules every job's r-th phase once that
// job's (r-1)-th phase has fully completed, a direct expression of the
// precedence constraint's "every instance of the previous phase" rule.
// Within a round, instances compete for machines via list scheduling in
// shortest-processing-time order. Returns ok=false if a lock cannot be
// honoured (its fixed start predates its phase becoming ready, or it
// collides with another instance already placed on its machine).
func simulate(instances []model.TaskInstance, durations map[string]map[string]int, assignment map[int]string, locks map[int]model.Lock) (map[int]scheduledInterval, map[int]int, bool) {
	type jobPhases struct {
		orders  []int
		byOrder map[int][]model.TaskInstance
	}

	jobs := make(map[int]*jobPhases)
	for _, inst := range instances {
		jp, ok := jobs[inst.JobID]
		if !ok {
			jp = &jobPhases{byOrder: make(map[int][]model.TaskInstance)}
			jobs[inst.JobID] = jp
		}
		if _, seen := jp.byOrder[inst.Order]; !seen {
			jp.orders = append(jp.orders, inst.Order)
		}
		jp.byOrder[inst.Order] = append(jp.byOrder[inst.Order], inst)
	}
	for _, jp := range jobs {
		sort.Ints(jp.orders)
	}

	maxDepth := 0
	for _, jp := range jobs {
		if len(jp.orders) > maxDepth {
			maxDepth = len(jp.orders)
		}
	}

	machineFree := make(map[string]int)
	barrier := make(map[int]int)
	jobEnds := make(map[int]int)
	schedule := make(map[int]scheduledInterval, len(instances))

	for round := 0; round < maxDepth; round++ {
		type batchItem struct {
			inst  model.TaskInstance
			ready int
		}
		var batch []batchItem

		for jobID, jp := range jobs {
			if round >= len(jp.orders) {
				continue
			}
			ready := barrier[jobID]
			for _, inst := range jp.byOrder[jp.orders[round]] {
				batch = append(batch, batchItem{inst: inst, ready: ready})
			}
		}

		sort.Slice(batch, func(i, j int) bool {
			di := duration(durations, batch[i].inst.BaseName, assignment[batch[i].inst.ID])
			dj := duration(durations, batch[j].inst.BaseName, assignment[batch[j].inst.ID])
			if batch[i].ready != batch[j].ready {
				return batch[i].ready < batch[j].ready
			}
			return di < dj
		})

		roundEnd := make(map[int]int)
		for _, item := range batch {
			machine := assignment[item.inst.ID]
			d := duration(durations, item.inst.BaseName, machine)
			if d <= 0 {
				return nil, nil, false
			}

			start := maxInt(item.ready, machineFree[machine])
			if lock, ok := locks[item.inst.ID]; ok {
				if lock.StartMin < item.ready {
					return nil, nil, false
				}
				if lock.StartMin < machineFree[machine] {
					return nil, nil, false
				}
				start = lock.StartMin
			}
			end := start + d

			schedule[item.inst.ID] = scheduledInterval{start: start, end: end}
			machineFree[machine] = end
			if end > roundEnd[item.inst.JobID] {
				roundEnd[item.inst.JobID] = end
			}
		}

		for jobID, end := range roundEnd {
			barrier[jobID] = end
			jobEnds[jobID] = end
		}
	}

	if len(schedule) != len(instances) {
		return nil, nil, false
	}
	return schedule, jobEnds, true
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
