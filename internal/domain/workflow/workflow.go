// Package workflow defines multi-step oversight workflow configuration.
// Workflows are read-mostly configuration owned by an external governance
// source; the broker only reads them at trigger time.
package workflow

import (
	"errors"
	"strings"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain/reviewer"
)

// Step is one role-gated review stage within a workflow.
type Step struct {
	Name         string        `json:"name"`
	RequiredRole reviewer.Role `json:"required_role"`
	Parallel     bool          `json:"parallel"`
	Optional     bool          `json:"optional"`
	Timeout      time.Duration `json:"timeout"`
}

// OversightWorkflow is a named multi-step oversight process.
type OversightWorkflow struct {
	Name                       string   `json:"name"`
	TriggerConditions          []string `json:"trigger_conditions,omitempty"`
	Steps                      []Step   `json:"steps"`
	ConstitutionalRequirements []string `json:"constitutional_requirements,omitempty"`
	Active                     bool     `json:"active"`
}

var (
	ErrNameRequired = errors.New("workflow name is required")
	ErrNoSteps      = errors.New("workflow has no steps")
	ErrStepRole     = errors.New("workflow step has an invalid required role")
	ErrStepName     = errors.New("workflow step name is required")
)

// Validate checks a workflow definition for correctness.
func (w *OversightWorkflow) Validate() error {
	if w.Name == "" {
		return ErrNameRequired
	}
	if len(w.Steps) == 0 {
		return ErrNoSteps
	}
	for _, s := range w.Steps {
		if s.Name == "" {
			return ErrStepName
		}
		if !reviewer.ValidRoles[s.RequiredRole] {
			return ErrStepRole
		}
	}
	return nil
}

// EstimatedDuration returns the sum of step timeouts. Informational only:
// steps are created as simultaneously pending requests, so this is an
// upper bound, not an enforced deadline.
func (w *OversightWorkflow) EstimatedDuration() time.Duration {
	var total time.Duration
	for _, s := range w.Steps {
		total += s.Timeout
	}
	return total
}

// Markers classify a workflow by name substrings.
type Markers struct {
	Constitutional string
	Emergency      string
}

// DefaultMarkers matches workflow naming used by the governance pipeline.
func DefaultMarkers() Markers {
	return Markers{Constitutional: "constitutional", Emergency: "emergency"}
}

// IsConstitutional reports whether the workflow name carries the
// constitutional marker.
func (m Markers) IsConstitutional(name string) bool {
	return m.Constitutional != "" && strings.Contains(strings.ToLower(name), m.Constitutional)
}

// IsEmergency reports whether the workflow name carries the emergency marker.
func (m Markers) IsEmergency(name string) bool {
	return m.Emergency != "" && strings.Contains(strings.ToLower(name), m.Emergency)
}
