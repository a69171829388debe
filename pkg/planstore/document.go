package planstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sudekirlar/fjsm-project/pkg/model"
	"github.com/sudekirlar/fjsm-project/pkg/telemetry"
)

// documentRecord is one run's complete on-disk representation: metadata plus
// its plan rows, stored together so a reader observing status = COMPLETED
// always observes the corresponding rows — the write is a single file
// replace, not two independent writes.
type documentRecord struct {
	Metadata model.RunMetadata `json:"metadata"`
	Rows     []model.PlanRow   `json:"rows"`
}

// DocumentStore is the JSON-file-backed Store: one file per run under a
// data directory, upsert-on-write, delete-then-insert for plan rows within
// one logical call via a full-file rewrite.
type DocumentStore struct {
	dir     string
	mu      sync.Mutex
	audit   []model.AuditEntry
	metrics *telemetry.Metrics
}

// NewDocumentStore constructs a DocumentStore rooted at dir, creating it if
// it does not already exist.
func NewDocumentStore(dir string, metrics *telemetry.Metrics) (*DocumentStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating plan store directory: %w", err)
	}
	return &DocumentStore{dir: dir, metrics: metrics}, nil
}

func (s *DocumentStore) path(runID string) string {
	return filepath.Join(s.dir, runID+".json")
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

func (s *DocumentStore) read(runID string) (*documentRecord, error) {
	raw, err := os.ReadFile(s.path(runID))
	if os.IsNotExist(err) {
		return nil, model.NewFault(model.StoreError, fmt.Sprintf("run %s not found", runID), nil)
	}
	if err != nil {
		return nil, model.NewFault(model.StoreError, "reading run document", err)
	}
	var rec documentRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, model.NewFault(model.StoreError, "decoding run document", err)
	}
	return &rec, nil
}

func (s *DocumentStore) write(rec *documentRecord) error {
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return model.NewFault(model.StoreError, "encoding run document", err)
	}

	tmp := s.path(rec.Metadata.RunID) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return model.NewFault(model.StoreError, "writing run document", err)
	}
	if err := os.Rename(tmp, s.path(rec.Metadata.RunID)); err != nil {
		return model.NewFault(model.StoreError, "committing run document", err)
	}
	return nil
}

// CreateRunRecord implements Store.
func (s *DocumentStore) CreateRunRecord(ctx context.Context, runID string, requestedBy string) (err error) {
	start := time.Now()
	defer func() { s.recordCall("create_run_record", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, statErr := os.Stat(s.path(runID)); statErr == nil {
		return nil
	}

	rec := &documentRecord{Metadata: model.RunMetadata{
		RunID:       runID,
		Status:      model.RunPending,
		CreatedAt:   time.Now().UTC(),
		RequestedBy: requestedBy,
	}}
	return s.write(rec)
}

// UpdateRunStatus implements Store.
func (s *DocumentStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, opts UpdateOptions) (err error) {
	start := time.Now()
	defer func() { s.recordCall("update_run_status", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read(runID)
	if err != nil {
		return err
	}

	rec.Metadata.Status = status
	now := time.Now().UTC()
	if status == model.RunRunning {
		rec.Metadata.StartedAt = &now
	}
	if status.IsTerminal() {
		rec.Metadata.CompletedAt = &now
	}
	if opts.Makespan != nil {
		rec.Metadata.Makespan = opts.Makespan
	}
	if opts.SolverStatus != nil {
		rec.Metadata.SolverStatus = *opts.SolverStatus
	}
	if opts.ErrorMessage != nil {
		rec.Metadata.ErrorMessage = *opts.ErrorMessage
	}
	if opts.ErrorKind != nil {
		rec.Metadata.ErrorKind = *opts.ErrorKind
	}

	return s.write(rec)
}

// GetRunMetadata implements Store.
func (s *DocumentStore) GetRunMetadata(ctx context.Context, runID string) (meta *model.RunMetadata, err error) {
	start := time.Now()
	defer func() { s.recordCall("get_run_metadata", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read(runID)
	if err != nil {
		return nil, err
	}
	m := rec.Metadata
	return &m, nil
}

// WriteResults implements Store.
func (s *DocumentStore) WriteResults(ctx context.Context, runID string, rows []model.PlanRow) (n int, err error) {
	start := time.Now()
	defer func() { s.recordCall("write_results", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read(runID)
	if err != nil {
		return 0, err
	}
	rec.Rows = rows
	if err := s.write(rec); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// GetResults implements Store.
func (s *DocumentStore) GetResults(ctx context.Context, runID string) (rows []model.PlanRow, err error) {
	start := time.Now()
	defer func() { s.recordCall("get_results", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read(runID)
	if err != nil {
		return nil, err
	}
	return rec.Rows, nil
}

// ListRecent implements Store.
func (s *DocumentStore) ListRecent(ctx context.Context, limit int) (metas []model.RunMetadata, err error) {
	start := time.Now()
	defer func() { s.recordCall("list_recent", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, model.NewFault(model.StoreError, "listing plan store directory", err)
	}

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		runID := e.Name()[:len(e.Name())-len(".json")]
		rec, readErr := s.read(runID)
		if readErr != nil {
			continue
		}
		metas = append(metas, rec.Metadata)
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].CreatedAt.After(metas[j].CreatedAt) })
	if limit > 0 && len(metas) > limit {
		metas = metas[:limit]
	}
	return metas, nil
}

// AppendAudit implements Store. Kept in-memory for the document backend;
// operational history is observational only and not part of the store's
// correctness contract.
func (s *DocumentStore) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

// Close implements Store; DocumentStore holds no resources to release.
func (s *DocumentStore) Close() error { return nil }
