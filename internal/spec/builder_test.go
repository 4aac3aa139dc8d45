package spec_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/strandlabs/strand/internal/catalog"
	"github.com/strandlabs/strand/internal/model"
	"github.com/strandlabs/strand/internal/spec"
)

func newTestBuilder(t *testing.T) *spec.Builder {
	t.Helper()
	reg := catalog.NewRegistry()
	if err := reg.Register(&catalog.Target{
		Kind:       model.KindTool,
		Name:       "echo-tool",
		EntryPoint: []string{"/bin/echo"},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(&catalog.Target{
		Kind:       model.KindWorkflow,
		Name:       "assembly",
		EntryPoint: []string{"snakemake", "--cores", "all"},
		BaseConfig: map[string]any{
			"threads":   4,
			"resources": map[string]any{"mem_mb": 4096},
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return spec.NewBuilder(reg, t.TempDir())
}

func TestBuildTool(t *testing.T) {
	b := newTestBuilder(t)

	job := &model.Job{
		ID:     model.NewID(),
		Kind:   model.KindTool,
		Target: "echo-tool",
		Request: model.Request{
			Kind:   model.KindTool,
			Target: "echo-tool",
			Tool: &model.ToolSpec{
				Inputs:  map[string]string{"reads": "in.fastq"},
				Outputs: map[string]string{"report": "out.html"},
				Params:  map[string]any{"msg": "hi"},
			},
		},
	}

	desc, err := b.Build(job)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if desc.WorkDir != b.JobDir(job.ID) {
		t.Errorf("WorkDir = %q, want %q", desc.WorkDir, b.JobDir(job.ID))
	}
	if desc.Argv[0] != "/bin/echo" {
		t.Errorf("Argv[0] = %q, want /bin/echo", desc.Argv[0])
	}
	if desc.Argv[1] != desc.SpecPath {
		t.Errorf("Argv[1] = %q, want spec path %q", desc.Argv[1], desc.SpecPath)
	}
	if last := desc.Argv[len(desc.Argv)-1]; last != "msg=hi" {
		t.Errorf("last arg = %q, want msg=hi", last)
	}

	data, err := os.ReadFile(desc.SpecPath)
	if err != nil {
		t.Fatalf("read spec: %v", err)
	}
	var unit struct {
		Step    string            `yaml:"step"`
		Tool    string            `yaml:"tool"`
		Inputs  map[string]string `yaml:"inputs"`
		Outputs map[string]string `yaml:"outputs"`
	}
	if err := yaml.Unmarshal(data, &unit); err != nil {
		t.Fatalf("parse spec: %v", err)
	}
	if unit.Tool != "echo-tool" {
		t.Errorf("unit.Tool = %q, want echo-tool", unit.Tool)
	}
	if unit.Inputs["reads"] != "in.fastq" {
		t.Errorf("unit.Inputs = %v", unit.Inputs)
	}
	if unit.Outputs["report"] != "out.html" {
		t.Errorf("unit.Outputs = %v", unit.Outputs)
	}
}

func TestBuildWorkflowMergesConfig(t *testing.T) {
	b := newTestBuilder(t)

	job := &model.Job{
		ID:     model.NewID(),
		Kind:   model.KindWorkflow,
		Target: "assembly",
		Request: model.Request{
			Kind:   model.KindWorkflow,
			Target: "assembly",
			Workflow: &model.WorkflowSpec{
				Config:     map[string]any{"resources": map[string]any{"mem_mb": 8192}},
				TargetRule: "align",
			},
		},
	}

	desc, err := b.Build(job)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	joined := strings.Join(desc.Argv, " ")
	if !strings.HasPrefix(joined, "snakemake --cores all --configfile ") {
		t.Errorf("Argv = %v", desc.Argv)
	}
	if desc.Argv[len(desc.Argv)-1] != "align" {
		t.Errorf("last arg = %q, want align", desc.Argv[len(desc.Argv)-1])
	}

	data, err := os.ReadFile(desc.SpecPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	var effective map[string]any
	if err := yaml.Unmarshal(data, &effective); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if effective["threads"] != 4 {
		t.Errorf("threads = %v, want 4", effective["threads"])
	}
	res, ok := effective["resources"].(map[string]any)
	if !ok || res["mem_mb"] != 8192 {
		t.Errorf("resources = %v, want mem_mb 8192", effective["resources"])
	}
}

func TestBuildUnknownTarget(t *testing.T) {
	b := newTestBuilder(t)

	job := &model.Job{
		ID:      model.NewID(),
		Kind:    model.KindTool,
		Target:  "missing",
		Request: model.Request{Kind: model.KindTool, Target: "missing"},
	}

	_, err := b.Build(job)
	if !errors.Is(err, catalog.ErrTargetNotFound) {
		t.Errorf("Build = %v, want ErrTargetNotFound", err)
	}
}

func TestBuildWorkflowBadTargetRule(t *testing.T) {
	b := newTestBuilder(t)

	job := &model.Job{
		ID:     model.NewID(),
		Kind:   model.KindWorkflow,
		Target: "assembly",
		Request: model.Request{
			Kind:     model.KindWorkflow,
			Target:   "assembly",
			Workflow: &model.WorkflowSpec{TargetRule: "align --force"},
		},
	}

	_, err := b.Build(job)
	if !errors.Is(err, spec.ErrInvalidSpec) {
		t.Errorf("Build = %v, want ErrInvalidSpec", err)
	}
}

func TestBuildArtifactsUniquePerJob(t *testing.T) {
	b := newTestBuilder(t)

	mkJob := func() *model.Job {
		return &model.Job{
			ID:      model.NewID(),
			Kind:    model.KindTool,
			Target:  "echo-tool",
			Request: model.Request{Kind: model.KindTool, Target: "echo-tool"},
		}
	}

	first, err := b.Build(mkJob())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	second, err := b.Build(mkJob())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if first.SpecPath == second.SpecPath {
		t.Errorf("spec paths collide: %q", first.SpecPath)
	}
	if filepath.Dir(first.SpecPath) == filepath.Dir(second.SpecPath) {
		t.Errorf("job dirs collide: %q", filepath.Dir(first.SpecPath))
	}
}
