package model_test

import (
	"errors"
	"testing"

	"github.com/strandlabs/strand/internal/model"
)

func TestValidTransitions(t *testing.T) {
	allowed := []struct{ from, to string }{
		{model.StatusAccepted, model.StatusRunning},
		{model.StatusAccepted, model.StatusFailed},
		{model.StatusAccepted, model.StatusCancelled},
		{model.StatusRunning, model.StatusCompleted},
		{model.StatusRunning, model.StatusFailed},
		{model.StatusRunning, model.StatusCancelled},
	}
	for _, tr := range allowed {
		if !model.ValidTransition(tr.from, tr.to) {
			t.Errorf("ValidTransition(%q, %q) = false, want true", tr.from, tr.to)
		}
	}

	denied := []struct{ from, to string }{
		{model.StatusCompleted, model.StatusRunning},
		{model.StatusFailed, model.StatusRunning},
		{model.StatusCancelled, model.StatusAccepted},
		{model.StatusRunning, model.StatusAccepted},
		{model.StatusAccepted, model.StatusCompleted},
		{model.StatusCompleted, model.StatusFailed},
	}
	for _, tr := range denied {
		if model.ValidTransition(tr.from, tr.to) {
			t.Errorf("ValidTransition(%q, %q) = true, want false", tr.from, tr.to)
		}
	}
}

func TestTerminalStatus(t *testing.T) {
	for _, s := range []string{model.StatusCompleted, model.StatusFailed, model.StatusCancelled} {
		if !model.TerminalStatus(s) {
			t.Errorf("TerminalStatus(%q) = false, want true", s)
		}
	}
	for _, s := range []string{model.StatusAccepted, model.StatusRunning} {
		if model.TerminalStatus(s) {
			t.Errorf("TerminalStatus(%q) = true, want false", s)
		}
	}
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     model.Request
		wantErr bool
	}{
		{
			name: "valid tool",
			req:  model.Request{Kind: model.KindTool, Target: "echo-tool", Tool: &model.ToolSpec{Params: map[string]any{"msg": "hi"}}},
		},
		{
			name: "valid workflow",
			req:  model.Request{Kind: model.KindWorkflow, Target: "assembly", Workflow: &model.WorkflowSpec{TargetRule: "align"}},
		},
		{
			name:    "missing target",
			req:     model.Request{Kind: model.KindTool},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			req:     model.Request{Kind: "container", Target: "x"},
			wantErr: true,
		},
		{
			name:    "tool with workflow payload",
			req:     model.Request{Kind: model.KindTool, Target: "x", Workflow: &model.WorkflowSpec{}},
			wantErr: true,
		},
		{
			name:    "workflow with tool payload",
			req:     model.Request{Kind: model.KindWorkflow, Target: "x", Tool: &model.ToolSpec{}},
			wantErr: true,
		},
		{
			name:    "non-positive timeout",
			req:     model.Request{Kind: model.KindTool, Target: "x", TimeoutS: intPtr(0)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				if !errors.Is(err, model.ErrValidation) {
					t.Errorf("Validate() = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id := model.NewID()
		if len(id) != 26 {
			t.Fatalf("id length = %d, want 26", len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func intPtr(v int) *int { return &v }
