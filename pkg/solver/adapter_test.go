package solver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sudekirlar/fjsm-project/pkg/catalogue"
	"github.com/sudekirlar/fjsm-project/pkg/model"
)

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

func TestAdapter_Solve_EndToEnd(t *testing.T) {
	snap := testSnapshot(t, map[string]map[string]int{
		"cut":  {"m1": 4, "m2": 5},
		"weld": {"m1": 3, "m2": 6},
	})

	instances := []model.TaskInstance{
		{ID: 1, JobID: 1, Order: 1, Name: "cut", BaseName: "cut", MachineCandidates: snap.EligibleMachines("cut", []string{"m1", "m2"})},
		{ID: 2, JobID: 1, Order: 2, Name: "weld", BaseName: "weld", MachineCandidates: snap.EligibleMachines("weld", []string{"m1", "m2"})},
	}

	adapter := NewAdapter(NewExactEngine())
	rows, err := adapter.Solve(context.Background(), instances, nil, snap)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 plan rows, got %d", len(rows))
	}

	var cutEnd, weldStart int
	for _, r := range rows {
		if r.TaskInstanceID == 1 {
			cutEnd = r.EndTime
		}
		if r.TaskInstanceID == 2 {
			weldStart = r.StartTime
		}
	}
	if weldStart < cutEnd {
		t.Errorf("weld (start=%d) must not precede cut's end (%d)", weldStart, cutEnd)
	}
}

func TestAdapter_Solve_InvalidLockNeverReachesEngine(t *testing.T) {
	snap := testSnapshot(t, map[string]map[string]int{"cut": {"m1": 4}})
	instances := []model.TaskInstance{
		{ID: 1, JobID: 1, Order: 1, Name: "cut", BaseName: "cut", MachineCandidates: []string{"m1"}},
	}
	locks := []model.Lock{{TaskInstanceID: 1, Machine: "m9"}}

	adapter := NewAdapter(NewExactEngine())
	_, err := adapter.Solve(context.Background(), instances, locks, snap)
	if !model.IsInvalidLock(err) {
		t.Fatalf("expected InvalidLock, got %v", err)
	}
}
