package apiedge

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sudekirlar/fjsm-project/pkg/catalogue"
	"github.com/sudekirlar/fjsm-project/pkg/expansion"
	"github.com/sudekirlar/fjsm-project/pkg/packagerepo"
	"github.com/sudekirlar/fjsm-project/pkg/planstore"
	"github.com/sudekirlar/fjsm-project/pkg/runcoordinator"
	"github.com/sudekirlar/fjsm-project/pkg/solver"
)

func newTestServer(t *testing.T) (*Server, packagerepo.Repository) {
	t.Helper()

	catalogueFixture := filepath.Join(t.TempDir(), "catalogue.json")
	writeJSONFile(t, catalogueFixture, map[string]map[string]int{"cut": {"m1": 5}})
	cat, err := catalogue.Load(catalogueFixture, nil, nil)
	if err != nil {
		t.Fatalf("catalogue.Load: %v", err)
	}

	store, err := planstore.NewRelationalStore(filepath.Join(t.TempDir(), "plans.db"), nil)
	if err != nil {
		t.Fatalf("NewRelationalStore: %v", err)
	}
	repo, err := packagerepo.NewRelationalStore(filepath.Join(t.TempDir(), "packages.db"), nil)
	if err != nil {
		t.Fatalf("NewRelationalStore (packages): %v", err)
	}

	coord := runcoordinator.New(cat, expansion.New(), solver.NewAdapter(solver.NewExactEngine()),
		map[string]planstore.Store{"relational": store},
		map[string]packagerepo.Repository{"relational": repo},
		runcoordinator.WithWorkerCount(1),
	)
	t.Cleanup(coord.Close)

	srv := New(coord, map[string]packagerepo.Repository{"relational": repo}, []string{"cut", "weld"}, nil, nil)
	return srv, repo
}

func writeJSONFile(t *testing.T, path string, v interface{}) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestServer_Orders_ValidationRejectsUnknownJobType(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"package_id":1,"job_id":1,"job_type":"nonexistent","mode":"single","phase":1,"eligible_machines":["m1"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServer_Orders_AppendThenSubmitCompletes(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"package_id":1,"job_id":1,"job_type":"cut","mode":"single","phase":1,"eligible_machines":["m1"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/solver/start", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var started startResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatalf("unmarshal start response: %v", err)
	}
	if started.RunID == "" {
		t.Fatal("expected non-empty run_id")
	}

	deadline := time.Now().Add(5 * time.Second)
	var statusBody map[string]interface{}
	for time.Now().Before(deadline) {
		req = httptest.NewRequest(http.MethodGet, "/api/solver/status/"+started.RunID, nil)
		rec = httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		_ = json.Unmarshal(rec.Body.Bytes(), &statusBody)
		if statusBody["state"] == "COMPLETED" || statusBody["state"] == "FAILED" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if statusBody["state"] != "COMPLETED" {
		t.Fatalf("expected COMPLETED, got %+v", statusBody)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/plans/"+started.RunID+"/gantt", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("gantt: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var rows []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("unmarshal gantt: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 gantt row, got %d", len(rows))
	}
}

func TestServer_OPTIONS_ReturnsNoContent(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/solver/start", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS header to be set")
	}
}

func TestServer_Healthz(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
