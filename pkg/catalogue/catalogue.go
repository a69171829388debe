// Package catalogue loads and serves the Machine Catalogue: the map from a
// task's base operation name to the machines that can perform it and how
// long each takes.
package catalogue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/fsnotify/fsnotify"

	"github.com/sudekirlar/fjsm-project/pkg/model"
	"github.com/sudekirlar/fjsm-project/pkg/telemetry"
)

// catalogueSchema constrains the catalogue document to a map of base_name to
// a map of machine identifier to a non-negative duration.
const catalogueSchema = `
{[string]: {[string]: int & >=0}}
`

// Snapshot is one immutable load of the catalogue: base_name -> machine ->
// duration. Zero or absent means the machine cannot perform that operation.
type Snapshot struct {
	durations map[string]map[string]int
}

// Duration returns the duration for baseName on machine, and whether the
// machine can perform that operation at all (duration > 0).
func (s *Snapshot) Duration(baseName, machine string) (int, bool) {
	byMachine, ok := s.durations[baseName]
	if !ok {
		return 0, false
	}
	d, ok := byMachine[machine]
	if !ok || d <= 0 {
		return 0, false
	}
	return d, true
}

// EligibleMachines returns, for baseName, the subset of candidates that have
// a strictly positive duration — the machine_candidates computation the
// Expansion Engine needs.
func (s *Snapshot) EligibleMachines(baseName string, candidates []string) []string {
	byMachine := s.durations[baseName]
	out := make([]string, 0, len(candidates))
	for _, m := range candidates {
		if byMachine[m] > 0 {
			out = append(out, m)
		}
	}
	return out
}

// MachineCount returns the number of machines loaded for baseName, used for
// the fjsm_catalogue_machines_loaded metric.
func (s *Snapshot) MachineCount(baseName string) int {
	return len(s.durations[baseName])
}

// Durations returns a copy of the duration table restricted to baseNames,
// the shape the Constraint Solver Adapter needs to build a model request
// without taking a dependency on this package's internal representation.
func (s *Snapshot) Durations(baseNames []string) map[string]map[string]int {
	out := make(map[string]map[string]int, len(baseNames))
	for _, name := range baseNames {
		byMachine, ok := s.durations[name]
		if !ok {
			continue
		}
		copied := make(map[string]int, len(byMachine))
		for m, d := range byMachine {
			copied[m] = d
		}
		out[name] = copied
	}
	return out
}

// BaseNames returns every base operation name the catalogue declares.
func (s *Snapshot) BaseNames() []string {
	out := make([]string, 0, len(s.durations))
	for name := range s.durations {
		out = append(out, name)
	}
	return out
}

// Catalogue serves the current Snapshot and optionally hot-reloads it when
// its backing file changes. An in-flight run keeps reading the Snapshot
// pointer it loaded at expansion time, so a reload mid-run never mutates the
// instances it already derived.
type Catalogue struct {
	path     string
	current  atomic.Pointer[Snapshot]
	watcher  *fsnotify.Watcher
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
}

// Load reads and validates the catalogue file at path, returning a Catalogue
// serving it. Pass a non-nil logger/metrics to get reload observability; both
// may be nil for tests.
func Load(path string, logger *telemetry.Logger, metrics *telemetry.Metrics) (*Catalogue, error) {
	c := &Catalogue{path: path, logger: logger, metrics: metrics}
	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Current returns the snapshot currently in effect.
func (c *Catalogue) Current() *Snapshot {
	return c.current.Load()
}

// Validate checks the catalogue file at path against the schema without
// installing it as the active snapshot. Used by `fjsmctl catalogue validate`.
func Validate(path string) error {
	_, err := parseAndValidate(path)
	return err
}

func (c *Catalogue) reload() error {
	snap, err := parseAndValidate(c.path)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordCatalogueReload("error")
		}
		return err
	}
	c.current.Store(snap)
	if c.metrics != nil {
		c.metrics.RecordCatalogueReload("ok")
		for _, name := range snap.BaseNames() {
			c.metrics.SetMachinesLoaded(name, float64(snap.MachineCount(name)))
		}
	}
	if c.logger != nil {
		c.logger.Infof("catalogue reloaded from %s (%d base names)", c.path, len(snap.durations))
	}
	return nil
}

func parseAndValidate(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, model.NewFault(model.InputError, "failed to read catalogue file", err).WithDetail("path", path)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(catalogueSchema)
	if err := schema.Err(); err != nil {
		return nil, model.NewFault(model.InputError, "invalid catalogue schema", err)
	}

	doc := ctx.CompileBytes(raw, cue.Filename(path))
	if err := doc.Err(); err != nil {
		return nil, model.NewFault(model.InputError, "catalogue file is not valid JSON/CUE", err).WithDetail("path", path)
	}

	unified := schema.Unify(doc)
	if err := unified.Err(); err != nil {
		return nil, model.NewFault(model.InputError, "catalogue file does not match schema", err).WithDetail("path", path)
	}

	var durations map[string]map[string]int
	if err := json.Unmarshal(raw, &durations); err != nil {
		return nil, model.NewFault(model.InputError, "failed to decode catalogue document", err).WithDetail("path", path)
	}

	return &Snapshot{durations: durations}, nil
}

// WatchForChanges starts an fsnotify watch on the catalogue file, swapping in
// a freshly parsed Snapshot on every write event. It runs until ctx is
// cancelled. A reload that fails validation is logged and discarded; the
// Catalogue keeps serving the last good Snapshot.
func (c *Catalogue) WatchForChanges(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating catalogue watcher: %w", err)
	}
	c.watcher = watcher

	if err := watcher.Add(c.path); err != nil {
		watcher.Close()
		return fmt.Errorf("watching catalogue file %s: %w", c.path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := c.reload(); err != nil && c.logger != nil {
					c.logger.WithError(err).Warnf("catalogue reload from %s failed, keeping previous snapshot", c.path)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if c.logger != nil {
					c.logger.WithError(err).Warn("catalogue watcher error")
				}
			}
		}
	}()

	return nil
}

// Close stops the hot-reload watcher, if one was started.
func (c *Catalogue) Close() error {
	if c.watcher == nil {
		return nil
	}
	return c.watcher.Close()
}
