package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain/intervention"
	"github.com/arbiterhq/arbiter/internal/domain/reviewer"
	"github.com/arbiterhq/arbiter/internal/service"
)

// Handlers holds the services exposed over the REST API.
type Handlers struct {
	broker    *service.Broker
	workflows *service.WorkflowService
	directory *service.Directory
}

// NewHandlers creates the REST handler set.
func NewHandlers(broker *service.Broker, workflows *service.WorkflowService, directory *service.Directory) *Handlers {
	return &Handlers{
		broker:    broker,
		workflows: workflows,
		directory: directory,
	}
}

// submitRequestPayload is the wire form of a create request. Timeout is
// carried in seconds; the domain type uses a duration.
type submitRequestPayload struct {
	Service              string          `json:"requesting_service"`
	Type                 string          `json:"type"`
	Priority             int             `json:"priority"`
	Title                string          `json:"title"`
	Description          string          `json:"description"`
	Context              map[string]any  `json:"context,omitempty"`
	ProposedAction       map[string]any  `json:"proposed_action,omitempty"`
	ConstitutionalImpact bool            `json:"constitutional_impact"`
	Emergency            bool            `json:"emergency"`
	TimeoutSeconds       int             `json:"timeout_seconds"`
	RequiredRoles        []reviewer.Role `json:"required_roles,omitempty"`
}

// SubmitRequest handles POST /api/v1/interventions.
func (h *Handlers) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	payload, ok := readJSON[submitRequestPayload](w, r)
	if !ok {
		return
	}

	id, err := h.broker.SubmitRequest(r.Context(), intervention.CreateRequest{
		Service:              payload.Service,
		Type:                 intervention.RequestType(payload.Type),
		Priority:             payload.Priority,
		Title:                payload.Title,
		Description:          payload.Description,
		Context:              payload.Context,
		ProposedAction:       payload.ProposedAction,
		ConstitutionalImpact: payload.ConstitutionalImpact,
		Emergency:            payload.Emergency,
		Timeout:              time.Duration(payload.TimeoutSeconds) * time.Second,
		RequiredRoles:        payload.RequiredRoles,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"request_id": id})
}

// submitResponsePayload is the wire form of a resolution.
type submitResponsePayload struct {
	ResponderID         string  `json:"responder_id"`
	ResponderRole       string  `json:"responder_role"`
	Status              string  `json:"status"`
	Decision            *bool   `json:"decision,omitempty"`
	Reasoning           string  `json:"reasoning"`
	ConstitutionalBasis string  `json:"constitutional_basis,omitempty"`
	Confidence          float64 `json:"confidence"`
}

// SubmitResponse handles POST /api/v1/interventions/{id}/response.
func (h *Handlers) SubmitResponse(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	payload, ok := readJSON[submitResponsePayload](w, r)
	if !ok {
		return
	}

	err := h.broker.SubmitResponse(r.Context(), id, intervention.SubmitResponse{
		ResponderID:         payload.ResponderID,
		ResponderRole:       reviewer.Role(payload.ResponderRole),
		Status:              intervention.Status(payload.Status),
		Decision:            payload.Decision,
		Reasoning:           payload.Reasoning,
		ConstitutionalBasis: payload.ConstitutionalBasis,
		Confidence:          payload.Confidence,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"request_id": id, "status": payload.Status})
}

// GetPending handles GET /api/v1/interventions/pending.
func (h *Handlers) GetPending(w http.ResponseWriter, r *http.Request) {
	filters := intervention.PendingFilters{
		AssignedTo: r.URL.Query().Get("assigned_to"),
		Type:       intervention.RequestType(r.URL.Query().Get("type")),
	}
	if raw := r.URL.Query().Get("min_priority"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "min_priority must be an integer")
			return
		}
		filters.MinPriority = p
	}

	pending, err := h.broker.GetPending(r.Context(), filters)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pending": pending,
		"count":   len(pending),
	})
}

// GetDetail handles GET /api/v1/interventions/{id}.
func (h *Handlers) GetDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := h.broker.GetDetail(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// triggerPayload is the wire form of a workflow trigger.
type triggerPayload struct {
	Service string         `json:"requesting_service"`
	Context map[string]any `json:"context,omitempty"`
}

// TriggerWorkflow handles POST /api/v1/workflows/{name}/trigger.
func (h *Handlers) TriggerWorkflow(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "name")
	payload, ok := readJSON[triggerPayload](w, r)
	if !ok {
		return
	}

	result, err := h.workflows.Trigger(r.Context(), name, payload.Context, payload.Service)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// UpsertReviewer handles PUT /api/v1/reviewers/{id}.
func (h *Handlers) UpsertReviewer(w http.ResponseWriter, r *http.Request) {
	rev, ok := readJSON[reviewer.Reviewer](w, r)
	if !ok {
		return
	}
	rev.ID = urlParam(r, "id")

	if err := h.directory.Upsert(rev); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": rev.ID})
}

// SetReviewerActive handles PUT /api/v1/reviewers/{id}/active.
func (h *Handlers) SetReviewerActive(w http.ResponseWriter, r *http.Request) {
	payload, ok := readJSON[struct {
		Active bool `json:"active"`
	}](w, r)
	if !ok {
		return
	}
	id := urlParam(r, "id")

	if err := h.directory.SetActive(id, payload.Active); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": payload.Active})
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
