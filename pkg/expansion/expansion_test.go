package expansion

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sudekirlar/fjsm-project/pkg/catalogue"
	"github.com/sudekirlar/fjsm-project/pkg/model"
	"github.com/sudekirlar/fjsm-project/pkg/policy"
)

func newTestPolicyEngine(t *testing.T) (*policy.Engine, error) {
	t.Helper()
	return policy.NewEngine(context.Background(), []string{"cut", "weld"}, nil)
}

func testSnapshot(t *testing.T, durations map[string]map[string]int) *catalogue.Snapshot {
	t.Helper()

	path := filepath.Join(t.TempDir(), "catalogue.json")
	raw, err := json.Marshal(durations)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	c, err := catalogue.Load(path, nil, nil)
	if err != nil {
		t.Fatalf("catalogue.Load: %v", err)
	}
	return c.Current()
}

func TestExpand_SingleTask(t *testing.T) {
	snap := testSnapshot(t, map[string]map[string]int{
		"cut": {"m1": 5, "m2": 7},
	})

	pkgs := []model.Package{
		{
			PackageID: 1,
			UID:       "rel:1",
			Jobs: []model.Job{
				{JobID: 1, Tasks: []model.Task{
					{Name: "cut", Mode: model.ModeSingle, Order: 1, EligibleMachines: []string{"m1", "m2"}},
				}},
			},
		},
	}

	eng := New()
	result, err := eng.Expand(context.Background(), pkgs, snap)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(result.Instances) != 1 {
		t.Fatalf("expected 1 instance, got %d", len(result.Instances))
	}
	inst := result.Instances[0]
	if inst.ID != 1 || inst.Name != "cut" || len(inst.MachineCandidates) != 2 {
		t.Errorf("unexpected instance: %+v", inst)
	}
}

func TestExpand_SplitTask(t *testing.T) {
	snap := testSnapshot(t, map[string]map[string]int{
		"weld": {"m1": 3, "m2": 4, "m3": 6},
	})

	pkgs := []model.Package{
		{
			PackageID: 1,
			UID:       "rel:1",
			Jobs: []model.Job{
				{JobID: 1, Tasks: []model.Task{
					{Name: "weld", Mode: model.ModeSplit, Order: 1, Count: 3, EligibleMachines: []string{"m1", "m2", "m3"}},
				}},
			},
		},
	}

	eng := New()
	result, err := eng.Expand(context.Background(), pkgs, snap)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(result.Instances) != 3 {
		t.Fatalf("expected 3 instances, got %d", len(result.Instances))
	}
	for i, inst := range result.Instances {
		wantName := "weld_" + string(rune('0'+i))
		if inst.Name != wantName {
			t.Errorf("instance %d: got name %q, want %q", i, inst.Name, wantName)
		}
		if inst.ID != i+1 {
			t.Errorf("instance %d: got id %d, want %d", i, inst.ID, i+1)
		}
	}
}

func TestExpand_NoEligibleMachine(t *testing.T) {
	snap := testSnapshot(t, map[string]map[string]int{
		"cut": {"m1": 0},
	})

	pkgs := []model.Package{
		{
			PackageID: 1,
			UID:       "rel:1",
			Jobs: []model.Job{
				{JobID: 1, Tasks: []model.Task{
					{Name: "cut", Mode: model.ModeSingle, Order: 1, EligibleMachines: []string{"m1"}},
				}},
			},
		},
	}

	eng := New()
	_, err := eng.Expand(context.Background(), pkgs, snap)
	if !model.IsNoEligibleMachine(err) {
		t.Fatalf("expected NoEligibleMachine, got %v", err)
	}
}

func TestExpand_InsufficientMachines(t *testing.T) {
	snap := testSnapshot(t, map[string]map[string]int{
		"weld": {"m1": 3, "m2": 4},
	})

	pkgs := []model.Package{
		{
			PackageID: 1,
			UID:       "rel:1",
			Jobs: []model.Job{
				{JobID: 1, Tasks: []model.Task{
					{Name: "weld", Mode: model.ModeSplit, Order: 1, Count: 5, EligibleMachines: []string{"m1", "m2"}},
				}},
			},
		},
	}

	eng := New()
	_, err := eng.Expand(context.Background(), pkgs, snap)
	if !model.IsInsufficientMachines(err) {
		t.Fatalf("expected InsufficientMachines, got %v", err)
	}
}

func TestExpand_InstanceCap(t *testing.T) {
	snap := testSnapshot(t, map[string]map[string]int{
		"cut": {"m1": 1},
	})

	var jobs []model.Job
	for i := 0; i < 5; i++ {
		jobs = append(jobs, model.Job{JobID: i, Tasks: []model.Task{
			{Name: "cut", Mode: model.ModeSingle, Order: 1, EligibleMachines: []string{"m1"}},
		}})
	}
	pkgs := []model.Package{{PackageID: 1, UID: "rel:1", Jobs: jobs}}

	eng := New(WithInstanceCap(2))
	result, err := eng.Expand(context.Background(), pkgs, snap)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(result.Instances) != 2 {
		t.Fatalf("expected instances truncated to 2, got %d", len(result.Instances))
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected 1 truncation warning, got %d", len(result.Warnings))
	}
}

func TestExpand_PolicyRejection(t *testing.T) {
	snap := testSnapshot(t, map[string]map[string]int{
		"cut": {"m1": 5},
	})

	pol, err := newTestPolicyEngine(t)
	if err != nil {
		t.Fatalf("policy engine: %v", err)
	}

	pkgs := []model.Package{
		{
			PackageID: 1,
			UID:       "rel:1",
			Jobs: []model.Job{
				{JobID: 1, Tasks: []model.Task{
					{Name: "cut", Mode: model.ModeSingle, Order: 0, EligibleMachines: []string{"m1"}},
				}},
			},
		},
	}

	eng := New(WithPolicy(pol))
	_, err = eng.Expand(context.Background(), pkgs, snap)
	if !model.IsInputError(err) {
		t.Fatalf("expected InputError from policy gate, got %v", err)
	}
}
