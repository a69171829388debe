// Command fjsmd is the scheduling daemon: it wires the Machine Catalogue,
// policy engine, Expansion Engine, Constraint Solver Adapter, Plan Store,
// Package Repository, Run Coordinator, and API Edge together behind one HTTP
// listener.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sudekirlar/fjsm-project/pkg/apiedge"
	"github.com/sudekirlar/fjsm-project/pkg/catalogue"
	"github.com/sudekirlar/fjsm-project/pkg/expansion"
	"github.com/sudekirlar/fjsm-project/pkg/packagerepo"
	"github.com/sudekirlar/fjsm-project/pkg/planstore"
	"github.com/sudekirlar/fjsm-project/pkg/policy"
	"github.com/sudekirlar/fjsm-project/pkg/runcoordinator"
	"github.com/sudekirlar/fjsm-project/pkg/solver"
	"github.com/sudekirlar/fjsm-project/pkg/telemetry"
)

// Version information (set via ldflags during build).
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// daemonConfig is the thin set of knobs fjsmd reads from the environment.
// The Machine Catalogue's own schema already owns CUE validation for the
// machine/job data itself; this config layer is deliberately just paths,
// addresses, and counts.
type daemonConfig struct {
	ListenAddr string

	CataloguePath string

	PlanStoreRelationalPath   string
	PlanStoreDocumentDir      string
	PackageRepoRelationalPath string
	PackageRepoDocumentDir    string

	AllowedJobTypes []string
	Workers         int

	SolverEnginePath string
}

func loadConfig() daemonConfig {
	cfg := daemonConfig{
		ListenAddr:                getenv("FJSM_LISTEN_ADDR", ":8080"),
		CataloguePath:             getenv("FJSM_CATALOGUE_PATH", "catalogue.json"),
		PlanStoreRelationalPath:   getenv("FJSM_PLANSTORE_RELATIONAL_PATH", "data/plans.db"),
		PlanStoreDocumentDir:      getenv("FJSM_PLANSTORE_DOCUMENT_DIR", "data/plans"),
		PackageRepoRelationalPath: getenv("FJSM_PACKAGEREPO_RELATIONAL_PATH", "data/packages.db"),
		PackageRepoDocumentDir:    getenv("FJSM_PACKAGEREPO_DOCUMENT_DIR", "data/packages"),
		AllowedJobTypes:           splitCSV(getenv("FJSM_ALLOWED_JOB_TYPES", "cut,weld,paint,assemble")),
		Workers:                   getenvInt("FJSM_WORKERS", 4),
		SolverEnginePath:          os.Getenv("FJSM_SOLVER_ENGINE_PATH"),
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	setupLogging()
	cfg := loadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("received interrupt signal, shutting down...")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("fjsmd exited with error")
		os.Exit(1)
	}
}

func setupLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func run(ctx context.Context, cfg daemonConfig) error {
	tel, err := telemetry.NewTelemetry(telemetryConfig())
	if err != nil {
		return fmt.Errorf("constructing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown reported an error")
		}
	}()

	cat, err := catalogue.Load(cfg.CataloguePath, tel.Logger, tel.Metrics)
	if err != nil {
		return fmt.Errorf("loading machine catalogue: %w", err)
	}
	defer cat.Close()

	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	go func() {
		if err := cat.WatchForChanges(watchCtx); err != nil && watchCtx.Err() == nil {
			tel.Logger.WithError(err).Warn("catalogue watch stopped")
		}
	}()

	policyEngine, err := policy.NewEngine(ctx, cfg.AllowedJobTypes, tel.Logger)
	if err != nil {
		return fmt.Errorf("compiling policy engine: %w", err)
	}

	expansionEngine := expansion.New(
		expansion.WithPolicy(policyEngine),
		expansion.WithTelemetry(tel.Logger, tel.Metrics),
	)

	solverEngine, closeSolver, err := buildSolverEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("starting solver engine: %w", err)
	}
	defer closeSolver()

	adapter := solver.NewAdapter(solverEngine, solver.WithTelemetry(tel.Logger, tel.Metrics))

	relPlanStore, err := planstore.NewRelationalStore(cfg.PlanStoreRelationalPath, tel.Metrics)
	if err != nil {
		return fmt.Errorf("opening relational plan store: %w", err)
	}
	defer relPlanStore.Close()

	docPlanStore, err := planstore.NewDocumentStore(cfg.PlanStoreDocumentDir, tel.Metrics)
	if err != nil {
		return fmt.Errorf("opening document plan store: %w", err)
	}
	defer docPlanStore.Close()

	relPackageRepo, err := packagerepo.NewRelationalStore(cfg.PackageRepoRelationalPath, tel.Metrics)
	if err != nil {
		return fmt.Errorf("opening relational package repository: %w", err)
	}
	defer relPackageRepo.Close()

	docPackageRepo, err := packagerepo.NewDocumentStore(cfg.PackageRepoDocumentDir, tel.Metrics)
	if err != nil {
		return fmt.Errorf("opening document package repository: %w", err)
	}
	defer docPackageRepo.Close()

	stores := map[string]planstore.Store{
		"relational": relPlanStore,
		"document":   docPlanStore,
	}
	repos := map[string]packagerepo.Repository{
		"relational": relPackageRepo,
		"document":   docPackageRepo,
	}

	coord := runcoordinator.New(cat, expansionEngine, adapter, stores, repos,
		runcoordinator.WithWorkerCount(cfg.Workers),
		runcoordinator.WithTelemetry(tel, tel.Logger.NewComponentLogger("run_coordinator")),
	)
	defer coord.Close()

	edge := apiedge.New(coord, repos, cfg.AllowedJobTypes, tel.Logger.NewComponentLogger("api_edge"), tel.Metrics)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           edge,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		tel.Logger.Infof("fjsmd listening on %s (version %s, commit %s, built %s)", cfg.ListenAddr, Version, Commit, BuildDate)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		return err
	}
}

// buildSolverEngine selects an in-process branch-and-bound engine by
// default, or an out-of-process engine when FJSM_SOLVER_ENGINE_PATH names
// one — matching the out-of-scope CP-SAT engine's invocation contract
// without hardcoding it.
func buildSolverEngine(ctx context.Context, cfg daemonConfig) (solver.Engine, func(), error) {
	if cfg.SolverEnginePath == "" {
		return solver.NewExactEngine(), func() {}, nil
	}

	proc := solver.NewProcessEngine(cfg.SolverEnginePath)
	if err := proc.Start(ctx, 10*time.Second); err != nil {
		return nil, func() {}, err
	}
	return proc, func() { _ = proc.Close() }, nil
}

func telemetryConfig() *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if env := os.Getenv("FJSM_ENV"); env == "production" {
		cfg = telemetry.ProductionConfig()
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if addr := os.Getenv("FJSM_METRICS_ADDR"); addr != "" {
		cfg.Metrics.ListenAddress = addr
	}
	return cfg
}
