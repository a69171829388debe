package runcoordinator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sudekirlar/fjsm-project/pkg/catalogue"
	"github.com/sudekirlar/fjsm-project/pkg/expansion"
	"github.com/sudekirlar/fjsm-project/pkg/model"
	"github.com/sudekirlar/fjsm-project/pkg/packagerepo"
	"github.com/sudekirlar/fjsm-project/pkg/planstore"
	"github.com/sudekirlar/fjsm-project/pkg/solver"
)

func newTestCatalogue(t *testing.T, durations map[string]map[string]int) *catalogue.Catalogue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalogue.json")
	raw, err := json.Marshal(durations)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	cat, err := catalogue.Load(path, nil, nil)
	if err != nil {
		t.Fatalf("catalogue.Load: %v", err)
	}
	return cat
}

func newTestCoordinator(t *testing.T, durations map[string]map[string]int) (*Coordinator, packagerepo.Repository) {
	t.Helper()

	cat := newTestCatalogue(t, durations)
	exp := expansion.New()
	adapter := solver.NewAdapter(solver.NewExactEngine())

	store, err := planstore.NewRelationalStore(filepath.Join(t.TempDir(), "plans.db"), nil)
	if err != nil {
		t.Fatalf("NewRelationalStore: %v", err)
	}
	repo, err := packagerepo.NewRelationalStore(filepath.Join(t.TempDir(), "packages.db"), nil)
	if err != nil {
		t.Fatalf("NewRelationalStore (packages): %v", err)
	}

	coord := New(cat, exp, adapter,
		map[string]planstore.Store{"relational": store},
		map[string]packagerepo.Repository{"relational": repo},
		WithWorkerCount(1),
	)
	t.Cleanup(coord.Close)
	return coord, repo
}

func waitForTerminal(t *testing.T, coord *Coordinator, runID string) *model.RunMetadata {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		meta, err := coord.Status(context.Background(), "relational", runID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if meta.Status.IsTerminal() {
			return meta
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s did not reach a terminal state in time", runID)
	return nil
}

func TestCoordinator_SubmitRunsToCompletion(t *testing.T) {
	coord, repo := newTestCoordinator(t, map[string]map[string]int{
		"cut": {"m1": 5},
	})

	if _, err := repo.AppendOrder(context.Background(), packagerepo.OrderInput{
		PackageID: 1, JobID: 1, JobType: "cut", Mode: model.ModeSingle,
		Phase: 1, EligibleMachines: []string{"m1"},
	}); err != nil {
		t.Fatalf("AppendOrder: %v", err)
	}

	runID, err := coord.Submit(context.Background(), "relational", nil, "tester")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	meta := waitForTerminal(t, coord, runID)
	if meta.Status != model.RunCompleted {
		t.Fatalf("expected COMPLETED, got %s (error: %s)", meta.Status, meta.ErrorMessage)
	}
	if meta.Makespan == nil || *meta.Makespan != 5 {
		t.Errorf("expected makespan 5, got %+v", meta.Makespan)
	}

	gantt, err := coord.Gantt(context.Background(), "relational", runID)
	if err != nil {
		t.Fatalf("Gantt: %v", err)
	}
	if len(gantt) != 1 || gantt[0].Start != 0 || gantt[0].Finish != 5 {
		t.Fatalf("unexpected gantt: %+v", gantt)
	}

	recent, err := coord.Recent(context.Background(), "relational", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 || recent[0].RunID != runID {
		t.Fatalf("unexpected recent list: %+v", recent)
	}
}

func TestCoordinator_NoEligibleMachineFailsRun(t *testing.T) {
	coord, repo := newTestCoordinator(t, map[string]map[string]int{
		"cut": {"m1": 0},
	})

	if _, err := repo.AppendOrder(context.Background(), packagerepo.OrderInput{
		PackageID: 1, JobID: 1, JobType: "cut", Mode: model.ModeSingle,
		Phase: 1, EligibleMachines: []string{"m1"},
	}); err != nil {
		t.Fatalf("AppendOrder: %v", err)
	}

	runID, err := coord.Submit(context.Background(), "relational", nil, "tester")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	meta := waitForTerminal(t, coord, runID)
	if meta.Status != model.RunFailed {
		t.Fatalf("expected FAILED, got %s", meta.Status)
	}
	if meta.ErrorKind != string(model.NoEligibleMachine) {
		t.Errorf("expected error_kind %s, got %s", model.NoEligibleMachine, meta.ErrorKind)
	}
}

func TestCoordinator_EmptyPackageListCompletesWithZeroMakespan(t *testing.T) {
	coord, _ := newTestCoordinator(t, map[string]map[string]int{})

	runID, err := coord.Submit(context.Background(), "relational", nil, "tester")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	meta := waitForTerminal(t, coord, runID)
	if meta.Status != model.RunCompleted {
		t.Fatalf("expected COMPLETED, got %s", meta.Status)
	}
	if meta.Makespan == nil || *meta.Makespan != 0 {
		t.Errorf("expected makespan 0, got %+v", meta.Makespan)
	}
}

func TestCoordinator_UnknownBackendRejected(t *testing.T) {
	coord, _ := newTestCoordinator(t, map[string]map[string]int{"cut": {"m1": 5}})

	if _, err := coord.Submit(context.Background(), "nonexistent", nil, "tester"); !model.IsInputError(err) {
		t.Fatalf("expected InputError for unknown backend, got %v", err)
	}
}
