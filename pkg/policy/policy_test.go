package policy

import (
	"context"
	"testing"

	"github.com/sudekirlar/fjsm-project/pkg/model"
)

func TestNewEngine(t *testing.T) {
	eng, err := NewEngine(context.Background(), []string{"milling", "welding"}, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if len(eng.policies) != 3 {
		t.Fatalf("expected 3 built-in policies, got %d", len(eng.policies))
	}
}

func TestEvaluateTask_ClosedJobTypeSet(t *testing.T) {
	eng, err := NewEngine(context.Background(), []string{"milling"}, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	task := model.Task{Name: "cut", Mode: model.ModeSingle, Order: 1, EligibleMachines: []string{"m1"}}

	if _, err := eng.EvaluateTask(context.Background(), "milling", task); err != nil {
		t.Errorf("expected milling to be allowed, got %v", err)
	}

	violations, err := eng.EvaluateTask(context.Background(), "welding", task)
	if err == nil {
		t.Fatal("expected a violation for an unconfigured job_type")
	}
	if !model.IsInputError(err) {
		t.Errorf("expected InputError fault, got %v", err)
	}
	if len(violations) != 1 || violations[0].Policy != "closed-job-type-set" {
		t.Errorf("unexpected violations: %+v", violations)
	}
}

func TestEvaluateTask_SplitCountBounds(t *testing.T) {
	eng, err := NewEngine(context.Background(), []string{"milling"}, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	tests := []struct {
		name    string
		task    model.Task
		wantErr bool
	}{
		{
			name:    "single mode ignores count",
			task:    model.Task{Name: "cut", Mode: model.ModeSingle, Order: 1, Count: 0, EligibleMachines: []string{"m1"}},
			wantErr: false,
		},
		{
			name:    "split with positive count",
			task:    model.Task{Name: "cut", Mode: model.ModeSplit, Order: 1, Count: 3, EligibleMachines: []string{"m1"}},
			wantErr: false,
		},
		{
			name:    "split with zero count",
			task:    model.Task{Name: "cut", Mode: model.ModeSplit, Order: 1, Count: 0, EligibleMachines: []string{"m1"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.EvaluateTask(context.Background(), "milling", tt.task)
			if tt.wantErr && err == nil {
				t.Error("expected a violation, got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no violation, got %v", err)
			}
		})
	}
}

func TestEvaluateTask_PhasePositive(t *testing.T) {
	eng, err := NewEngine(context.Background(), []string{"milling"}, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	bad := model.Task{Name: "cut", Mode: model.ModeSingle, Order: 0, EligibleMachines: []string{"m1"}}
	if _, err := eng.EvaluateTask(context.Background(), "milling", bad); err == nil {
		t.Error("expected a violation for order/phase 0")
	}

	good := model.Task{Name: "cut", Mode: model.ModeSingle, Order: 1, EligibleMachines: []string{"m1"}}
	if _, err := eng.EvaluateTask(context.Background(), "milling", good); err != nil {
		t.Errorf("expected no violation, got %v", err)
	}
}
