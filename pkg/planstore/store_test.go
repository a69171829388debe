package planstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sudekirlar/fjsm-project/pkg/model"
)

func newRelationalStore(t *testing.T) Store {
	t.Helper()
	s, err := NewRelationalStore(filepath.Join(t.TempDir(), "plans.db"), nil)
	if err != nil {
		t.Fatalf("NewRelationalStore: %v", err)
	}
	return s
}

func newDocumentStore(t *testing.T) Store {
	t.Helper()
	s, err := NewDocumentStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewDocumentStore: %v", err)
	}
	return s
}

func TestStores_RunLifecycle(t *testing.T) {
	for name, newStore := range map[string]func(*testing.T) Store{
		"relational": newRelationalStore,
		"document":   newDocumentStore,
	} {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			defer store.Close()
			ctx := context.Background()

			if err := store.CreateRunRecord(ctx, "run-1", "alice"); err != nil {
				t.Fatalf("CreateRunRecord: %v", err)
			}
			// Idempotent: a second create is a no-op.
			if err := store.CreateRunRecord(ctx, "run-1", "alice"); err != nil {
				t.Fatalf("CreateRunRecord (idempotent): %v", err)
			}

			meta, err := store.GetRunMetadata(ctx, "run-1")
			if err != nil {
				t.Fatalf("GetRunMetadata: %v", err)
			}
			if meta.Status != model.RunPending {
				t.Errorf("expected PENDING, got %s", meta.Status)
			}

			if err := store.UpdateRunStatus(ctx, "run-1", model.RunRunning, UpdateOptions{}); err != nil {
				t.Fatalf("UpdateRunStatus(RUNNING): %v", err)
			}
			meta, err = store.GetRunMetadata(ctx, "run-1")
			if err != nil {
				t.Fatalf("GetRunMetadata: %v", err)
			}
			if meta.StartedAt == nil {
				t.Error("expected started_at to be set on RUNNING transition")
			}

			makespan := 42
			solverStatus := "OPTIMAL"
			if err := store.UpdateRunStatus(ctx, "run-1", model.RunCompleted, UpdateOptions{
				Makespan: &makespan, SolverStatus: &solverStatus,
			}); err != nil {
				t.Fatalf("UpdateRunStatus(COMPLETED): %v", err)
			}

			meta, err = store.GetRunMetadata(ctx, "run-1")
			if err != nil {
				t.Fatalf("GetRunMetadata: %v", err)
			}
			if meta.CompletedAt == nil {
				t.Error("expected completed_at to be set on terminal transition")
			}
			if meta.Makespan == nil || *meta.Makespan != 42 {
				t.Errorf("expected makespan 42, got %+v", meta.Makespan)
			}
			if meta.SolverStatus != "OPTIMAL" {
				t.Errorf("expected solver_status OPTIMAL, got %s", meta.SolverStatus)
			}
		})
	}
}

func TestStores_WriteResultsIsAtomicReplace(t *testing.T) {
	for name, newStore := range map[string]func(*testing.T) Store{
		"relational": newRelationalStore,
		"document":   newDocumentStore,
	} {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			defer store.Close()
			ctx := context.Background()

			if err := store.CreateRunRecord(ctx, "run-1", ""); err != nil {
				t.Fatalf("CreateRunRecord: %v", err)
			}

			first := []model.PlanRow{{TaskInstanceID: 1, JobID: 1, TaskName: "cut", AssignedMachine: "m1", StartTime: 0, EndTime: 5, PackageUID: "rel:1"}}
			n, err := store.WriteResults(ctx, "run-1", first)
			if err != nil || n != 1 {
				t.Fatalf("WriteResults(first): n=%d err=%v", n, err)
			}

			second := []model.PlanRow{{TaskInstanceID: 2, JobID: 1, TaskName: "weld", AssignedMachine: "m2", StartTime: 5, EndTime: 11, PackageUID: "rel:1"}}
			n, err = store.WriteResults(ctx, "run-1", second)
			if err != nil || n != 1 {
				t.Fatalf("WriteResults(second): n=%d err=%v", n, err)
			}

			rows, err := store.GetResults(ctx, "run-1")
			if err != nil {
				t.Fatalf("GetResults: %v", err)
			}
			if len(rows) != 1 || rows[0].TaskInstanceID != 2 {
				t.Fatalf("expected replace not append, got %+v", rows)
			}
		})
	}
}

func TestStores_ListRecentOrdersNewestFirst(t *testing.T) {
	for name, newStore := range map[string]func(*testing.T) Store{
		"relational": newRelationalStore,
		"document":   newDocumentStore,
	} {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			defer store.Close()
			ctx := context.Background()

			if err := store.CreateRunRecord(ctx, "run-old", ""); err != nil {
				t.Fatalf("CreateRunRecord: %v", err)
			}
			time.Sleep(2 * time.Millisecond)
			if err := store.CreateRunRecord(ctx, "run-new", ""); err != nil {
				t.Fatalf("CreateRunRecord: %v", err)
			}

			metas, err := store.ListRecent(ctx, 10)
			if err != nil {
				t.Fatalf("ListRecent: %v", err)
			}
			if len(metas) != 2 || metas[0].RunID != "run-new" {
				t.Fatalf("expected run-new first, got %+v", metas)
			}
		})
	}
}
