// Package catalog holds the read-only registry of known tools and workflows.
// Targets are loaded from YAML documents at startup; the engine resolves a
// submission's target name against the registry and never mutates it.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/strandlabs/strand/internal/model"
)

// ErrTargetNotFound is returned when no target with the given kind and name exists.
var ErrTargetNotFound = errors.New("target not found")

// Target describes one catalogued tool or workflow: the command that runs it
// and the base configuration merged with caller overrides at submission time.
type Target struct {
	Kind        string         `json:"kind" yaml:"kind"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	EntryPoint  []string       `json:"entry_point" yaml:"entry_point"`
	BaseConfig  map[string]any `json:"base_config,omitempty" yaml:"base_config,omitempty"`
}

func (t *Target) validate() error {
	if t.Kind != model.KindTool && t.Kind != model.KindWorkflow {
		return fmt.Errorf("kind must be %q or %q, got %q", model.KindTool, model.KindWorkflow, t.Kind)
	}
	if t.Name == "" {
		return errors.New("name is required")
	}
	if len(t.EntryPoint) == 0 {
		return errors.New("entry_point is required")
	}
	return nil
}

// Catalog resolves target names to their execution descriptions.
type Catalog interface {
	Resolve(kind, name string) (*Target, error)
	List(kind string) []*Target
}

// Registry is an in-memory Catalog backed by a map.
type Registry struct {
	mu      sync.RWMutex
	targets map[string]*Target
}

// NewRegistry creates an empty target registry.
func NewRegistry() *Registry {
	return &Registry{
		targets: make(map[string]*Target),
	}
}

func key(kind, name string) string {
	return kind + "/" + name
}

// Register adds a target to the registry, replacing any previous entry with
// the same kind and name.
func (r *Registry) Register(t *Target) error {
	if err := t.validate(); err != nil {
		return fmt.Errorf("invalid target: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[key(t.Kind, t.Name)] = t
	return nil
}

// Resolve returns the target registered under the given kind and name.
func (r *Registry) Resolve(kind, name string) (*Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.targets[key(kind, name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", ErrTargetNotFound, kind, name)
	}
	return t, nil
}

// List returns all targets of the given kind, sorted by name for a stable
// API response.
func (r *Registry) List(kind string) []*Target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	targets := make([]*Target, 0, len(r.targets))
	for _, t := range r.targets {
		if t.Kind == kind {
			targets = append(targets, t)
		}
	}
	sort.Slice(targets, func(i, j int) bool {
		return targets[i].Name < targets[j].Name
	})
	return targets
}
