// Package workflowsrc implements the workflow-configuration source port.
package workflowsrc

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/domain/reviewer"
	"github.com/arbiterhq/arbiter/internal/domain/workflow"
)

// fileDoc is the on-disk YAML layout. Timeouts are duration strings
// ("15m", "1h30m"); yaml cannot decode those into time.Duration directly.
type fileDoc struct {
	Workflows []fileWorkflow `yaml:"workflows"`
}

type fileWorkflow struct {
	Name                       string     `yaml:"name"`
	TriggerConditions          []string   `yaml:"trigger_conditions"`
	Steps                      []fileStep `yaml:"steps"`
	ConstitutionalRequirements []string   `yaml:"constitutional_requirements"`
	Active                     bool       `yaml:"active"`
}

type fileStep struct {
	Name         string `yaml:"name"`
	RequiredRole string `yaml:"required_role"`
	Parallel     bool   `yaml:"parallel"`
	Optional     bool   `yaml:"optional"`
	Timeout      string `yaml:"timeout"`
}

// FileSource reads workflow definitions from a YAML file. The file is
// re-read on every lookup so governance-config edits take effect without a
// restart; wrap with CachedSource to bound the cost.
type FileSource struct {
	path string
}

// NewFileSource creates a source reading from the given YAML path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Get returns the named workflow definition.
func (s *FileSource) Get(_ context.Context, name string) (*workflow.OversightWorkflow, error) {
	data, err := os.ReadFile(s.path) //nolint:gosec // G304: path comes from config
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("workflow %s: %w", name, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %v: %w", s.path, err, domain.ErrUnavailable)
	}

	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}

	for i := range doc.Workflows {
		if doc.Workflows[i].Name != name {
			continue
		}
		wf, err := toDomain(&doc.Workflows[i])
		if err != nil {
			return nil, fmt.Errorf("workflow %s: %w", name, err)
		}
		if err := wf.Validate(); err != nil {
			return nil, fmt.Errorf("workflow %s: %w", name, err)
		}
		return wf, nil
	}
	return nil, fmt.Errorf("workflow %s: %w", name, domain.ErrNotFound)
}

func toDomain(fw *fileWorkflow) (*workflow.OversightWorkflow, error) {
	wf := &workflow.OversightWorkflow{
		Name:                       fw.Name,
		TriggerConditions:          fw.TriggerConditions,
		ConstitutionalRequirements: fw.ConstitutionalRequirements,
		Active:                     fw.Active,
	}
	for _, fs := range fw.Steps {
		step := workflow.Step{
			Name:         fs.Name,
			RequiredRole: reviewer.Role(fs.RequiredRole),
			Parallel:     fs.Parallel,
			Optional:     fs.Optional,
		}
		if fs.Timeout != "" {
			d, err := time.ParseDuration(fs.Timeout)
			if err != nil {
				return nil, fmt.Errorf("step %q timeout: %w", fs.Name, err)
			}
			step.Timeout = d
		}
		wf.Steps = append(wf.Steps, step)
	}
	return wf, nil
}
