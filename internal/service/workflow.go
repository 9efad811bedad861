package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/domain/intervention"
	"github.com/arbiterhq/arbiter/internal/domain/reviewer"
	"github.com/arbiterhq/arbiter/internal/domain/workflow"
	"github.com/arbiterhq/arbiter/internal/port/workflows"
)

// WorkflowService expands a named oversight workflow into intervention
// requests. Steps are created as simultaneously pending requests: step N+1
// is not gated on step N's resolution.
type WorkflowService struct {
	source             workflows.Source
	broker             *Broker
	markers            workflow.Markers
	defaultStepTimeout time.Duration
}

// NewWorkflowService creates a WorkflowService reading definitions from
// the given source.
func NewWorkflowService(source workflows.Source, broker *Broker, markers workflow.Markers, defaultStepTimeout time.Duration) *WorkflowService {
	if markers == (workflow.Markers{}) {
		markers = workflow.DefaultMarkers()
	}
	if defaultStepTimeout <= 0 {
		defaultStepTimeout = 30 * time.Minute
	}
	return &WorkflowService{
		source:             source,
		broker:             broker,
		markers:            markers,
		defaultStepTimeout: defaultStepTimeout,
	}
}

// TriggerResult reports the requests generated by a workflow trigger. The
// estimated duration is the sum of step timeouts, informational only.
type TriggerResult struct {
	Workflow          string        `json:"workflow"`
	RequestIDs        []string      `json:"request_ids"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
}

// Trigger looks up the named active workflow and submits one intervention
// request per step. A workflow that is absent or inactive is NotFound.
func (s *WorkflowService) Trigger(ctx context.Context, name string, triggerCtx map[string]any, requestingService string) (*TriggerResult, error) {
	wf, err := s.source.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("trigger workflow %s: %w", name, err)
	}
	if !wf.Active {
		return nil, fmt.Errorf("workflow %s is inactive: %w", name, domain.ErrNotFound)
	}

	constitutional := s.markers.IsConstitutional(wf.Name)
	priority := 6
	if s.markers.IsEmergency(wf.Name) {
		priority = 8
	}

	result := &TriggerResult{
		Workflow:          wf.Name,
		EstimatedDuration: wf.EstimatedDuration(),
	}

	for i, step := range wf.Steps {
		req := intervention.CreateRequest{
			Service:              requestingService,
			Type:                 s.stepType(constitutional),
			Priority:             priority,
			Title:                fmt.Sprintf("%s: %s", wf.Name, step.Name),
			Description:          fmt.Sprintf("Workflow %q step %d/%d (%s)", wf.Name, i+1, len(wf.Steps), step.Name),
			Context:              stepContext(triggerCtx, wf.Name, step, i),
			ConstitutionalImpact: constitutional,
			Timeout:              s.stepTimeout(step),
			RequiredRoles:        []reviewer.Role{step.RequiredRole},
		}

		id, err := s.broker.SubmitRequest(ctx, req)
		if err != nil {
			return result, fmt.Errorf("workflow %s step %q: %w", wf.Name, step.Name, err)
		}
		result.RequestIDs = append(result.RequestIDs, id)
	}

	slog.Info("workflow triggered",
		"workflow", wf.Name,
		"service", requestingService,
		"requests", len(result.RequestIDs),
		"estimated_duration", result.EstimatedDuration,
	)
	return result, nil
}

func (s *WorkflowService) stepType(constitutional bool) intervention.RequestType {
	if constitutional {
		return intervention.TypeConstitutionalReview
	}
	return intervention.TypeApprovalRequired
}

// stepTimeout applies the default for unset step timeouts and raises
// sub-minimum values to the request floor rather than failing the trigger.
func (s *WorkflowService) stepTimeout(step workflow.Step) time.Duration {
	t := step.Timeout
	if t <= 0 {
		t = s.defaultStepTimeout
	}
	if t < intervention.MinTimeout {
		t = intervention.MinTimeout
	}
	return t
}

func stepContext(base map[string]any, workflowName string, step workflow.Step, index int) map[string]any {
	out := make(map[string]any, len(base)+4)
	for k, v := range base {
		out[k] = v
	}
	out["workflow"] = workflowName
	out["step"] = step.Name
	out["step_index"] = index
	out["step_optional"] = step.Optional
	return out
}
