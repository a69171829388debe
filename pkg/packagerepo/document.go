package packagerepo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sudekirlar/fjsm-project/pkg/model"
	"github.com/sudekirlar/fjsm-project/pkg/telemetry"
)

// DocumentStore is the JSON-file-backed Repository: one file per package
// under a data directory, named "<package_id>.json".
type DocumentStore struct {
	dir     string
	mu      sync.Mutex
	metrics *telemetry.Metrics
}

// NewDocumentStore constructs a DocumentStore rooted at dir, creating it if
// it does not already exist.
func NewDocumentStore(dir string, metrics *telemetry.Metrics) (*DocumentStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating package repository directory: %w", err)
	}
	return &DocumentStore{dir: dir, metrics: metrics}, nil
}

func (s *DocumentStore) path(packageID int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d.json", packageID))
}

func (s *DocumentStore) recordCall(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordStoreCall("document", operation, time.Since(start))
	if err != nil {
		s.metrics.RecordStoreError("document", operation)
	}
}

func (s *DocumentStore) read(packageID int) (*model.Package, error) {
	raw, err := os.ReadFile(s.path(packageID))
	if err != nil {
		return nil, model.NewFault(model.RepositoryError, fmt.Sprintf("package %d not found", packageID), err)
	}
	var pkg model.Package
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return nil, model.NewFault(model.RepositoryError, "decoding package document", err)
	}
	return &pkg, nil
}

func (s *DocumentStore) write(pkg *model.Package) error {
	raw, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return model.NewFault(model.RepositoryError, "encoding package document", err)
	}
	tmp := s.path(pkg.PackageID) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return model.NewFault(model.RepositoryError, "writing package document", err)
	}
	if err := os.Rename(tmp, s.path(pkg.PackageID)); err != nil {
		return model.NewFault(model.RepositoryError, "committing package document", err)
	}
	return nil
}

// ReadPackages implements Repository.
func (s *DocumentStore) ReadPackages(ctx context.Context) (packages []model.Package, err error) {
	start := time.Now()
	defer func() { s.recordCall("read_packages", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, model.NewFault(model.RepositoryError, "listing package repository directory", err)
	}

	var ids []int
	byID := make(map[int]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		var id int
		if _, scanErr := fmt.Sscanf(name, "%d", &id); scanErr != nil {
			continue
		}
		ids = append(ids, id)
		byID[id] = e.Name()
	}
	sort.Ints(ids)

	for _, id := range ids {
		pkg, readErr := s.read(id)
		if readErr != nil {
			return nil, readErr
		}
		pkg.Source = "document"
		pkg.UID = fmt.Sprintf("document:%d", pkg.PackageID)
		packages = append(packages, *pkg)
	}
	return packages, nil
}

// AppendOrder implements Repository. It creates the package document on
// first use and appends the task to the named job, creating the job if it
// does not already exist within the package.
func (s *DocumentStore) AppendOrder(ctx context.Context, order OrderInput) (taskID int, err error) {
	start := time.Now()
	defer func() { s.recordCall("append_order", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	pkg, readErr := s.read(order.PackageID)
	if readErr != nil {
		pkg = &model.Package{PackageID: order.PackageID, Deadline: order.Deadline}
	}

	var job *model.Job
	for i := range pkg.Jobs {
		if pkg.Jobs[i].JobID == order.JobID {
			job = &pkg.Jobs[i]
			break
		}
	}
	if job == nil {
		pkg.Jobs = append(pkg.Jobs, model.Job{JobID: order.JobID})
		job = &pkg.Jobs[len(pkg.Jobs)-1]
	}

	job.Tasks = append(job.Tasks, model.Task{
		Name:             order.JobType,
		Mode:             order.Mode,
		Order:            order.Phase,
		Count:            order.Count,
		EligibleMachines: order.EligibleMachines,
	})

	if err = s.write(pkg); err != nil {
		return 0, err
	}

	taskID = order.PackageID*100000 + order.JobID*1000 + len(job.Tasks)
	return taskID, nil
}

// Close implements Repository; DocumentStore holds no resources to release.
func (s *DocumentStore) Close() error { return nil }
