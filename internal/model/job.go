package model

import (
	"errors"
	"fmt"
	"time"
)

// Job kind constants.
const (
	KindTool     = "tool"
	KindWorkflow = "workflow"
)

// Job status constants.
const (
	StatusAccepted  = "accepted"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Failure kind constants, recorded on the result of a failed job so callers
// can tell "the tool failed" apart from "the engine could not run the tool".
const (
	FailureTargetNotFound = "target_not_found"
	FailureInvalidSpec    = "invalid_spec"
	FailureEngineFault    = "engine_fault"
	FailureTimeout        = "timeout"
	FailureToolFailure    = "tool_failure"
	FailureCancelled      = "cancelled"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusAccepted: {
		StatusRunning:   true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// TerminalStatus reports whether a status admits no further transitions.
func TerminalStatus(s string) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ToolSpec carries the tool-specific part of a submission: the declared
// inputs, outputs and parameters wired into the generated single-step unit.
type ToolSpec struct {
	Inputs  map[string]string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs map[string]string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Params  map[string]any    `json:"params,omitempty" yaml:"params,omitempty"`
}

// WorkflowSpec carries the workflow-specific part of a submission: caller
// config overrides applied on top of the catalog's base config, and an
// optional restriction to a single target rule.
type WorkflowSpec struct {
	Config     map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	TargetRule string         `json:"target_rule,omitempty" yaml:"target_rule,omitempty"`
}

// Request is the immutable, validated submission payload. Exactly one of
// Tool or Workflow is set, selected by Kind.
type Request struct {
	Kind     string        `json:"kind"`
	Target   string        `json:"target"`
	TimeoutS *int          `json:"timeout_s,omitempty"`
	Tool     *ToolSpec     `json:"tool,omitempty"`
	Workflow *WorkflowSpec `json:"workflow,omitempty"`
}

// ErrValidation marks submission payloads rejected before a job is created.
var ErrValidation = errors.New("invalid request")

// Validate checks that the request carries the fields its kind requires.
func (r *Request) Validate() error {
	if r.Target == "" {
		return fmt.Errorf("%w: target is required", ErrValidation)
	}
	if r.TimeoutS != nil && *r.TimeoutS <= 0 {
		return fmt.Errorf("%w: timeout_s must be positive", ErrValidation)
	}
	switch r.Kind {
	case KindTool:
		if r.Workflow != nil {
			return fmt.Errorf("%w: workflow fields are not valid for a tool job", ErrValidation)
		}
	case KindWorkflow:
		if r.Tool != nil {
			return fmt.Errorf("%w: tool fields are not valid for a workflow job", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: kind must be %q or %q", ErrValidation, KindTool, KindWorkflow)
	}
	return nil
}

// Result holds the outcome of a finished job. It is set exactly once, when
// the job reaches a terminal status, and is immutable thereafter.
type Result struct {
	Stdout       string `json:"stdout,omitempty"`
	Stderr       string `json:"stderr,omitempty"`
	ExitCode     *int   `json:"exit_code,omitempty"`
	DurationMS   int    `json:"duration_ms"`
	FailureKind  string `json:"failure_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Job is one tracked execution of a tool or workflow.
type Job struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Status      string     `json:"status"`
	Target      string     `json:"target"`
	Request     Request    `json:"request"`
	Result      *Result    `json:"result,omitempty"`
	LogPath     string     `json:"log_path,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}
