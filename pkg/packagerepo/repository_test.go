package packagerepo

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sudekirlar/fjsm-project/pkg/model"
)

func newRelationalRepo(t *testing.T) Repository {
	t.Helper()
	r, err := NewRelationalStore(filepath.Join(t.TempDir(), "packages.db"), nil)
	if err != nil {
		t.Fatalf("NewRelationalStore: %v", err)
	}
	return r
}

func newDocumentRepo(t *testing.T) Repository {
	t.Helper()
	r, err := NewDocumentStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewDocumentStore: %v", err)
	}
	return r
}

func repoBackends() map[string]func(*testing.T) Repository {
	return map[string]func(*testing.T) Repository{
		"relational": newRelationalRepo,
		"document":   newDocumentRepo,
	}
}

func TestRepository_AppendThenRead(t *testing.T) {
	for name, newRepo := range repoBackends() {
		t.Run(name, func(t *testing.T) {
			repo := newRepo(t)
			defer repo.Close()
			ctx := context.Background()

			_, err := repo.AppendOrder(ctx, OrderInput{
				PackageID: 1, JobID: 1, JobType: "cut", Mode: model.ModeSingle,
				Phase: 1, EligibleMachines: []string{"m1", "m2"}, Deadline: "2026-08-01",
			})
			if err != nil {
				t.Fatalf("AppendOrder: %v", err)
			}
			_, err = repo.AppendOrder(ctx, OrderInput{
				PackageID: 1, JobID: 1, JobType: "weld", Mode: model.ModeSplit,
				Phase: 2, Count: 2, EligibleMachines: []string{"m3"},
			})
			if err != nil {
				t.Fatalf("AppendOrder: %v", err)
			}

			packages, err := repo.ReadPackages(ctx)
			if err != nil {
				t.Fatalf("ReadPackages: %v", err)
			}
			if len(packages) != 1 {
				t.Fatalf("expected one package, got %d", len(packages))
			}
			pkg := packages[0]
			if pkg.PackageID != 1 {
				t.Errorf("expected package_id 1, got %d", pkg.PackageID)
			}
			if pkg.UID == "" || pkg.Source == "" {
				t.Error("expected uid and source to be populated")
			}
			if len(pkg.Jobs) != 1 || len(pkg.Jobs[0].Tasks) != 2 {
				t.Fatalf("expected one job with two tasks, got %+v", pkg.Jobs)
			}
			if pkg.Jobs[0].Tasks[0].Name != "cut" || pkg.Jobs[0].Tasks[1].Name != "weld" {
				t.Errorf("expected phase-ordered tasks cut, weld; got %+v", pkg.Jobs[0].Tasks)
			}
			if pkg.Jobs[0].Tasks[1].Mode != model.ModeSplit || pkg.Jobs[0].Tasks[1].Count != 2 {
				t.Errorf("expected split task with count 2, got %+v", pkg.Jobs[0].Tasks[1])
			}
		})
	}
}

func TestRepository_MultiplePackagesOrderedByID(t *testing.T) {
	for name, newRepo := range repoBackends() {
		t.Run(name, func(t *testing.T) {
			repo := newRepo(t)
			defer repo.Close()
			ctx := context.Background()

			for _, pkgID := range []int{3, 1, 2} {
				if _, err := repo.AppendOrder(ctx, OrderInput{
					PackageID: pkgID, JobID: 1, JobType: "cut", Mode: model.ModeSingle,
					Phase: 1, EligibleMachines: []string{"m1"},
				}); err != nil {
					t.Fatalf("AppendOrder: %v", err)
				}
			}

			packages, err := repo.ReadPackages(ctx)
			if err != nil {
				t.Fatalf("ReadPackages: %v", err)
			}
			if len(packages) != 3 {
				t.Fatalf("expected three packages, got %d", len(packages))
			}
			for i, want := range []int{1, 2, 3} {
				if packages[i].PackageID != want {
					t.Errorf("position %d: expected package_id %d, got %d", i, want, packages[i].PackageID)
				}
			}
		})
	}
}

func TestRepository_EmptyRepositoryYieldsNoPackages(t *testing.T) {
	for name, newRepo := range repoBackends() {
		t.Run(name, func(t *testing.T) {
			repo := newRepo(t)
			defer repo.Close()

			packages, err := repo.ReadPackages(context.Background())
			if err != nil {
				t.Fatalf("ReadPackages: %v", err)
			}
			if len(packages) != 0 {
				t.Errorf("expected no packages, got %d", len(packages))
			}
		})
	}
}
