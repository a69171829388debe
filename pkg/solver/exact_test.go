package solver

import (
	"context"
	"testing"

	"github.com/sudekirlar/fjsm-project/pkg/model"
)

func TestExactEngine_SingleInstanceNoContention(t *testing.T) {
	instances := []model.TaskInstance{
		{ID: 1, JobID: 1, Order: 1, Name: "cut", BaseName: "cut", MachineCandidates: []string{"m1"}},
	}
	durations := map[string]map[string]int{"cut": {"m1": 10}}

	eng := NewExactEngine()
	resp, err := eng.Solve(context.Background(), ModelRequest{
		Instances: instances, Durations: durations, Horizon: Horizon(instances, durations), TimeLimitSecs: 5,
	})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if resp.Status != StatusOptimal {
		t.Fatalf("expected OPTIMAL, got %s", resp.Status)
	}
	if resp.Objective != 10 {
		t.Errorf("expected makespan 10, got %d", resp.Objective)
	}
	if len(resp.Assignments) != 1 || resp.Assignments[0].Start != 0 || resp.Assignments[0].End != 10 {
		t.Errorf("unexpected assignment: %+v", resp.Assignments)
	}
}

func TestExactEngine_MachineContentionForcesSerialisation(t *testing.T) {
	instances := []model.TaskInstance{
		{ID: 1, JobID: 1, Order: 1, Name: "cut_0", BaseName: "cut", MachineCandidates: []string{"m1"}},
		{ID: 2, JobID: 2, Order: 1, Name: "cut_1", BaseName: "cut", MachineCandidates: []string{"m1"}},
	}
	durations := map[string]map[string]int{"cut": {"m1": 5}}

	eng := NewExactEngine()
	resp, err := eng.Solve(context.Background(), ModelRequest{
		Instances: instances, Durations: durations, Horizon: Horizon(instances, durations), TimeLimitSecs: 5,
	})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if resp.Objective != 10 {
		t.Errorf("expected two 5-unit tasks serialised on one machine to makespan 10, got %d", resp.Objective)
	}
}

func TestExactEngine_PrecedenceAcrossPhases(t *testing.T) {
	instances := []model.TaskInstance{
		{ID: 1, JobID: 1, Order: 1, Name: "cut", BaseName: "cut", MachineCandidates: []string{"m1"}},
		{ID: 2, JobID: 1, Order: 2, Name: "weld", BaseName: "weld", MachineCandidates: []string{"m2"}},
	}
	durations := map[string]map[string]int{
		"cut":  {"m1": 4},
		"weld": {"m2": 6},
	}

	eng := NewExactEngine()
	resp, err := eng.Solve(context.Background(), ModelRequest{
		Instances: instances, Durations: durations, Horizon: Horizon(instances, durations), TimeLimitSecs: 5,
	})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if resp.Objective != 10 {
		t.Errorf("expected serial phases to makespan 10, got %d", resp.Objective)
	}

	var cutEnd, weldStart int
	for _, a := range resp.Assignments {
		if a.TaskInstanceID == 1 {
			cutEnd = a.End
		}
		if a.TaskInstanceID == 2 {
			weldStart = a.Start
		}
	}
	if weldStart < cutEnd {
		t.Errorf("weld started at %d before cut ended at %d", weldStart, cutEnd)
	}
}

func TestExactEngine_LockPinsMachineAndStart(t *testing.T) {
	instances := []model.TaskInstance{
		{ID: 1, JobID: 1, Order: 1, Name: "cut", BaseName: "cut", MachineCandidates: []string{"m1", "m2"}},
	}
	durations := map[string]map[string]int{"cut": {"m1": 5, "m2": 5}}
	locks := []model.Lock{{TaskInstanceID: 1, Machine: "m2", StartMin: 3}}

	eng := NewExactEngine()
	resp, err := eng.Solve(context.Background(), ModelRequest{
		Instances: instances, Locks: locks, Durations: durations, Horizon: Horizon(instances, durations), TimeLimitSecs: 5,
	})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(resp.Assignments) != 1 {
		t.Fatalf("expected 1 assignment, got %d", len(resp.Assignments))
	}
	a := resp.Assignments[0]
	if a.Machine != "m2" || a.Start != 3 {
		t.Errorf("expected lock to pin machine m2 at start 3, got %+v", a)
	}
}

func TestExactEngine_InvalidLockRejected(t *testing.T) {
	instances := []model.TaskInstance{
		{ID: 1, JobID: 1, Order: 1, Name: "cut", BaseName: "cut", MachineCandidates: []string{"m1"}},
	}
	durations := map[string]map[string]int{"cut": {"m1": 5}}
	locks := []model.Lock{{TaskInstanceID: 1, Machine: "m9", StartMin: 0}}

	eng := NewExactEngine()
	_, err := eng.Solve(context.Background(), ModelRequest{
		Instances: instances, Locks: locks, Durations: durations, TimeLimitSecs: 5,
	})
	if !model.IsInvalidLock(err) {
		t.Fatalf("expected InvalidLock, got %v", err)
	}
}

func TestExactEngine_Stage2MinimisesTotalCompletionWithinFixedMakespan(t *testing.T) {
	instances := []model.TaskInstance{
		{ID: 1, JobID: 1, Order: 1, Name: "a", BaseName: "a", MachineCandidates: []string{"m1"}},
		{ID: 2, JobID: 2, Order: 1, Name: "b", BaseName: "b", MachineCandidates: []string{"m1"}},
	}
	durations := map[string]map[string]int{
		"a": {"m1": 3},
		"b": {"m1": 7},
	}

	eng := NewExactEngine()
	req := ModelRequest{Instances: instances, Durations: durations, Horizon: Horizon(instances, durations), TimeLimitSecs: 5}

	stage1, err := eng.Solve(context.Background(), req)
	if err != nil {
		t.Fatalf("stage1: %v", err)
	}
	makespan := stage1.Objective

	req.FixedMakespan = &makespan
	stage2, err := eng.Solve(context.Background(), req)
	if err != nil {
		t.Fatalf("stage2: %v", err)
	}

	for _, a := range stage2.Assignments {
		if a.End > makespan {
			t.Errorf("stage2 instance %d ends at %d, exceeding fixed makespan %d", a.TaskInstanceID, a.End, makespan)
		}
	}
}
