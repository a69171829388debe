// Package apiedge is the API Edge: request validation, backend routing, and
// CORS handling for the scheduling service's HTTP surface. It is
// deliberately thin — every handler's real work is one call into the Run
// Coordinator or a Package Repository; nothing here belongs to the
// scheduling core.
package apiedge

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sudekirlar/fjsm-project/pkg/model"
	"github.com/sudekirlar/fjsm-project/pkg/packagerepo"
	"github.com/sudekirlar/fjsm-project/pkg/runcoordinator"
	"github.com/sudekirlar/fjsm-project/pkg/telemetry"
)

const (
	headerRequestID = "X-Request-ID"
	headerDB        = "X-DB"
	queryDB         = "db"
	defaultBackend  = "relational"
)

// Server wires the Run Coordinator and Package Repositories behind the
// HTTP surface. It holds no scheduling state of its own.
type Server struct {
	coord           *runcoordinator.Coordinator
	repos           map[string]packagerepo.Repository
	allowedJobTypes map[string]bool
	validate        *validator.Validate
	logger          *telemetry.Logger
	metrics         *telemetry.Metrics
	mux             *http.ServeMux
}

// New constructs a Server and registers every HTTP route it serves.
func New(
	coord *runcoordinator.Coordinator,
	repos map[string]packagerepo.Repository,
	allowedJobTypes []string,
	logger *telemetry.Logger,
	metrics *telemetry.Metrics,
) *Server {
	s := &Server{
		coord:           coord,
		repos:           repos,
		allowedJobTypes: make(map[string]bool, len(allowedJobTypes)),
		validate:        validator.New(),
		logger:          logger,
		metrics:         metrics,
		mux:             http.NewServeMux(),
	}
	for _, jt := range allowedJobTypes {
		s.allowedJobTypes[jt] = true
	}
	s.registerRoutes()
	return s
}

// ServeHTTP implements http.Handler, wrapping every request with request-ID
// propagation and CORS headers.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.withMiddleware(s.mux).ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/solver/start", s.handleSolverStart)
	s.mux.HandleFunc("POST /api/solver/start_with_locks", s.handleSolverStartWithLocks)
	s.mux.HandleFunc("GET /api/solver/status/{run_id}", s.handleSolverStatus)
	s.mux.HandleFunc("GET /api/plans/recent", s.handlePlansRecent)
	s.mux.HandleFunc("GET /api/plans/{run_id}/gantt", s.handlePlansGantt)
	s.mux.HandleFunc("POST /api/orders", s.handleOrders)
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(headerRequestID, requestID)
		r = r.WithContext(telemetry.WithRequestID(r.Context(), requestID))

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+headerDB+", "+headerRequestID)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) backendFor(r *http.Request) string {
	if db := r.URL.Query().Get(queryDB); db != "" {
		return db
	}
	if db := r.Header.Get(headerDB); db != "" {
		return db
	}
	return defaultBackend
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch model.KindOf(err) {
	case model.InputError, model.InvalidLock:
		status = http.StatusBadRequest
	case model.NoEligibleMachine, model.InsufficientMachines, model.InfeasibleOrTimeout,
		model.RepositoryError, model.StoreError:
		status = http.StatusUnprocessableEntity
	}
	if s.logger != nil {
		s.logger.WithError(err).Warn("request failed")
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

type startResponse struct {
	RunID string `json:"run_id"`
	DB    string `json:"db"`
}

func (s *Server) handleSolverStart(w http.ResponseWriter, r *http.Request) {
	backend := s.backendFor(r)
	runID, err := s.coord.Submit(r.Context(), backend, nil, requestedByFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, startResponse{RunID: runID, DB: backend})
}

type lockRequest struct {
	TaskInstanceID int    `json:"task_instance_id" validate:"required"`
	Machine        string `json:"machine" validate:"required"`
	StartMin       int    `json:"start_min" validate:"gte=0"`
}

type startWithLocksRequest struct {
	Locks []lockRequest `json:"locks"`
}

func (s *Server) handleSolverStartWithLocks(w http.ResponseWriter, r *http.Request) {
	var body startWithLocksRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, model.NewFault(model.InputError, "malformed request body", err))
		return
	}

	locks := make([]model.Lock, 0, len(body.Locks))
	for i, l := range body.Locks {
		if err := s.validate.Struct(l); err != nil {
			s.writeError(w, model.NewFault(model.InvalidLock, fmt.Sprintf("lock %d: %v", i, err), err))
			return
		}
		locks = append(locks, model.Lock{TaskInstanceID: l.TaskInstanceID, Machine: l.Machine, StartMin: l.StartMin})
	}

	backend := s.backendFor(r)
	runID, err := s.coord.Submit(r.Context(), backend, locks, requestedByFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, startResponse{RunID: runID, DB: backend})
}

func (s *Server) handleSolverStatus(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	meta, err := s.coord.Status(r.Context(), s.backendFor(r), runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":        meta.Status,
		"makespan":     meta.Makespan,
		"status":       meta.SolverStatus,
		"created_at":   meta.CreatedAt,
		"completed_at": meta.CompletedAt,
		"error":        meta.ErrorMessage,
	})
}

type recentEntry struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

func (s *Server) handlePlansRecent(w http.ResponseWriter, r *http.Request) {
	metas, err := s.coord.Recent(r.Context(), s.backendFor(r), 10)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]recentEntry, 0, len(metas))
	for _, m := range metas {
		out = append(out, recentEntry{ID: m.RunID, Label: fmt.Sprintf("%s (%s)", m.RunID, m.CreatedAt.Format(time.RFC3339))})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePlansGantt(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	rows, err := s.coord.Gantt(r.Context(), s.backendFor(r), runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		out = append(out, map[string]interface{}{
			"task":            row.TaskName,
			"start":           row.Start,
			"finish":          row.Finish,
			"resource":        row.AssignedMachine,
			"job_id":          row.JobID,
			"task_instance_id": row.TaskInstanceID,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type orderRequest struct {
	PackageID        int      `json:"package_id" validate:"required"`
	JobID            int      `json:"job_id" validate:"required"`
	JobType          string   `json:"job_type" validate:"required"`
	Mode             string   `json:"mode" validate:"required,oneof=single split"`
	Phase            int      `json:"phase" validate:"required,gte=1"`
	Count            int      `json:"count"`
	EligibleMachines []string `json:"eligible_machines" validate:"required,min=1,dive,required"`
	Deadline         string   `json:"deadline"`
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	var body orderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, model.NewFault(model.InputError, "malformed request body", err))
		return
	}
	if err := s.validate.Struct(body); err != nil {
		s.writeError(w, model.NewFault(model.InputError, err.Error(), err))
		return
	}
	if !s.allowedJobTypes[body.JobType] {
		s.writeError(w, model.NewFault(model.InputError, fmt.Sprintf("job_type %q is not in the configured allow-list", body.JobType), nil))
		return
	}
	if body.Mode == string(model.ModeSplit) && body.Count < 1 {
		s.writeError(w, model.NewFault(model.InputError, "count must be >= 1 when mode is split", nil))
		return
	}

	backend := s.backendFor(r)
	repo, ok := s.repos[backend]
	if !ok {
		s.writeError(w, model.NewFault(model.InputError, fmt.Sprintf("unknown backend %q", backend), nil))
		return
	}

	taskID, err := repo.AppendOrder(r.Context(), packagerepo.OrderInput{
		PackageID:        body.PackageID,
		JobID:            body.JobID,
		JobType:          body.JobType,
		Mode:             model.TaskMode(body.Mode),
		Phase:            body.Phase,
		Count:            body.Count,
		EligibleMachines: body.EligibleMachines,
		Deadline:         body.Deadline,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "task_id": taskID, "db": backend})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestedByFrom(r *http.Request) string {
	if by := r.Header.Get("X-Requested-By"); by != "" {
		return by
	}
	return ""
}
