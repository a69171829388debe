// Package policy evaluates business-rule validation of order and lock
// submissions, layered in front of the Expansion Engine's own structural
// machine-eligibility checks.
package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"

	"github.com/sudekirlar/fjsm-project/pkg/model"
	"github.com/sudekirlar/fjsm-project/pkg/telemetry"
)

// Violation is one rego deny rule firing against a submission.
type Violation struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Policy   string `json:"policy"`
}

// SubmissionInput is what every built-in policy evaluates against: the raw
// package payload, flattened to the fields the rego rules care about.
type SubmissionInput struct {
	JobType    string `json:"job_type"`
	Mode       string `json:"mode"`
	Count      int    `json:"count"`
	Phase      int    `json:"phase"`
}

type compiledPolicy struct {
	name  string
	query rego.PreparedEvalQuery
}

// Engine evaluates a fixed set of built-in rego policies against each task
// declaration in a submitted package. The Expansion Engine calls it for each
// task inside Expand, ahead of its own machine-eligibility checks.
type Engine struct {
	mu         sync.RWMutex
	policies   []*compiledPolicy
	logger     *telemetry.Logger
	jobTypes   map[string]bool
}

// NewEngine compiles the built-in policies. allowedJobTypes is the closed
// set `closed-job-type-set` checks against.
func NewEngine(ctx context.Context, allowedJobTypes []string, logger *telemetry.Logger) (*Engine, error) {
	jobTypes := make(map[string]bool, len(allowedJobTypes))
	for _, t := range allowedJobTypes {
		jobTypes[t] = true
	}

	e := &Engine{logger: logger, jobTypes: jobTypes}

	for _, src := range builtinModules() {
		cp, err := compile(ctx, src.name, src.rego)
		if err != nil {
			return nil, fmt.Errorf("compiling policy %s: %w", src.name, err)
		}
		e.policies = append(e.policies, cp)
	}

	return e, nil
}

func compile(ctx context.Context, name, source string) (*compiledPolicy, error) {
	module, err := ast.ParseModule(name+".rego", source)
	if err != nil {
		return nil, err
	}

	store := inmem.New()
	r := rego.New(
		rego.Query("data."+module.Package.Path.String()[len("data."):]+".deny"),
		rego.ParsedModule(module),
		rego.Store(store),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	return &compiledPolicy{name: name, query: query}, nil
}

// EvaluateTask runs every built-in policy against one task declaration,
// returning the violations raised. An InputError Fault wrapping the first
// violation's message is returned alongside the full list so callers that
// only care about pass/fail can use the error directly.
func (e *Engine) EvaluateTask(ctx context.Context, jobType string, task model.Task) ([]Violation, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	input := SubmissionInput{
		JobType: jobType,
		Mode:    string(task.Mode),
		Count:   task.Count,
		Phase:   task.Order,
	}

	var violations []Violation
	for _, cp := range e.policies {
		vs, err := e.evaluate(ctx, cp, input)
		if err != nil {
			if e.logger != nil {
				e.logger.WithError(err).Warnf("policy %s failed to evaluate", cp.name)
			}
			continue
		}
		violations = append(violations, vs...)
	}

	if len(violations) > 0 {
		return violations, model.NewFault(model.InputError, violations[0].Message, nil).
			WithDetail("policy", violations[0].Policy).
			WithDetail("violation_count", len(violations))
	}
	return nil, nil
}

func (e *Engine) evaluate(ctx context.Context, cp *compiledPolicy, input SubmissionInput) ([]Violation, error) {
	// closed-job-type-set is enforced in Go, not rego, since the allowed set
	// is operator configuration rather than a fixed policy literal.
	if cp.name == "closed-job-type-set" {
		if e.jobTypes[input.JobType] {
			return nil, nil
		}
		return []Violation{{
			Message:  fmt.Sprintf("job_type %q is not in the configured allow-list", input.JobType),
			Severity: "error",
			Policy:   cp.name,
		}}, nil
	}

	rs, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, result := range rs {
		for _, expr := range result.Expressions {
			items, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, item := range items {
				m, ok := item.(map[string]interface{})
				if !ok {
					continue
				}
				v := Violation{Policy: cp.name}
				if msg, ok := m["message"].(string); ok {
					v.Message = msg
				}
				if sev, ok := m["severity"].(string); ok {
					v.Severity = sev
				}
				violations = append(violations, v)
			}
		}
	}
	return violations, nil
}

type builtinModule struct {
	name string
	rego string
}

// builtinModules returns the three structural business-rule policies,
// deliberately a superset of (not a replacement for) the Expansion
// Engine's own machine-eligibility checks. closed-job-type-set is evaluated
// directly in Go (see evaluate) since its allow-list is runtime
// configuration; split-count-bounds and phase-positive are expressed as
// rego deny rules, one module per policy.
func builtinModules() []builtinModule {
	return []builtinModule{
		{name: "closed-job-type-set", rego: "package fjsm.policies.closed_job_type_set\n\ndeny := []\n"},
		{
			name: "split-count-bounds",
			rego: `package fjsm.policies.split_count_bounds

import rego.v1

deny contains violation if {
	input.mode == "split"
	input.count < 1
	violation := {
		"message": sprintf("split task must declare count >= 1, got %d", [input.count]),
		"severity": "error",
	}
}
`,
		},
		{
			name: "phase-positive",
			rego: `package fjsm.policies.phase_positive

import rego.v1

deny contains violation if {
	input.phase < 1
	violation := {
		"message": sprintf("task phase must be >= 1, got %d", [input.phase]),
		"severity": "error",
	}
}
`,
		},
	}
}
