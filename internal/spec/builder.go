package spec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/strandlabs/strand/internal/catalog"
	"github.com/strandlabs/strand/internal/model"
)

// ErrInvalidSpec marks a submission whose kind-required fields cannot be
// turned into a runnable description.
var ErrInvalidSpec = errors.New("invalid execution spec")

// ExecDescription is everything the runner needs to execute one job: the
// generated spec file, the command line referencing it, and the working
// directory the process runs in. All paths are scoped to the job id, so
// concurrent jobs sharing a target never collide.
type ExecDescription struct {
	SpecPath string
	Argv     []string
	WorkDir  string
}

// Builder constructs execution descriptions under a per-job directory tree.
type Builder struct {
	catalog catalog.Catalog
	dataDir string
}

// NewBuilder creates a builder writing job artifacts under dataDir.
func NewBuilder(c catalog.Catalog, dataDir string) *Builder {
	return &Builder{catalog: c, dataDir: dataDir}
}

// JobDir returns the directory holding all artifacts for the given job id.
func (b *Builder) JobDir(jobID string) string {
	return filepath.Join(b.dataDir, "jobs", jobID)
}

// Build resolves the job's target and writes the spec artifacts for its kind.
// Unknown targets wrap catalog.ErrTargetNotFound; missing kind-required
// fields wrap ErrInvalidSpec.
func (b *Builder) Build(job *model.Job) (*ExecDescription, error) {
	target, err := b.catalog.Resolve(job.Kind, job.Target)
	if err != nil {
		return nil, fmt.Errorf("resolve target: %w", err)
	}

	workDir := b.JobDir(job.ID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create job dir: %w", err)
	}

	switch job.Kind {
	case model.KindTool:
		return b.buildTool(job, target, workDir)
	case model.KindWorkflow:
		return b.buildWorkflow(job, target, workDir)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidSpec, job.Kind)
	}
}

// toolUnit is the single-step execution unit generated for a tool job.
type toolUnit struct {
	Step    string            `yaml:"step"`
	Tool    string            `yaml:"tool"`
	Inputs  map[string]string `yaml:"inputs,omitempty"`
	Outputs map[string]string `yaml:"outputs,omitempty"`
	Params  map[string]any    `yaml:"params,omitempty"`
}

// buildTool synthesizes a minimal single-step unit wiring the caller's
// declared inputs, outputs and params into one invocation of the tool's
// entry point. Params are additionally passed as key=value arguments so
// simple tools need not parse the unit file.
func (b *Builder) buildTool(job *model.Job, target *catalog.Target, workDir string) (*ExecDescription, error) {
	tool := job.Request.Tool
	if tool == nil {
		tool = &model.ToolSpec{}
	}

	unit := toolUnit{
		Step:    "run-" + target.Name,
		Tool:    target.Name,
		Inputs:  tool.Inputs,
		Outputs: tool.Outputs,
		Params:  tool.Params,
	}

	specPath := filepath.Join(workDir, "unit.yaml")
	if err := writeYAML(specPath, unit); err != nil {
		return nil, err
	}

	argv := append([]string{}, target.EntryPoint...)
	argv = append(argv, specPath)
	for _, k := range sortedKeys(tool.Params) {
		argv = append(argv, fmt.Sprintf("%s=%v", k, tool.Params[k]))
	}

	return &ExecDescription{
		SpecPath: specPath,
		Argv:     argv,
		WorkDir:  workDir,
	}, nil
}

// buildWorkflow merges the target's base configuration with caller overrides,
// serializes the effective configuration next to the job, and constructs a
// command line running the workflow's entry point against it, optionally
// restricted to a single target rule.
func (b *Builder) buildWorkflow(job *model.Job, target *catalog.Target, workDir string) (*ExecDescription, error) {
	wf := job.Request.Workflow
	if wf == nil {
		wf = &model.WorkflowSpec{}
	}
	if wf.TargetRule != "" && strings.ContainsAny(wf.TargetRule, " \t\n") {
		return nil, fmt.Errorf("%w: target_rule must be a single token", ErrInvalidSpec)
	}

	effective := Merge(target.BaseConfig, wf.Config)

	configPath := filepath.Join(workDir, "config.yaml")
	if err := writeYAML(configPath, effective); err != nil {
		return nil, err
	}

	argv := append([]string{}, target.EntryPoint...)
	argv = append(argv, "--configfile", configPath)
	if wf.TargetRule != "" {
		argv = append(argv, wf.TargetRule)
	}

	return &ExecDescription{
		SpecPath: configPath,
		Argv:     argv,
		WorkDir:  workDir,
	}, nil
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write spec: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
