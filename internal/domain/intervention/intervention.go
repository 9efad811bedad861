// Package intervention defines the core domain model for human-oversight
// intervention requests and responses.
package intervention

import (
	"fmt"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/domain/reviewer"
)

// RequestType classifies why an automated decision-maker is asking for
// human oversight.
type RequestType string

const (
	TypeApprovalRequired     RequestType = "approval_required"
	TypeConstitutionalReview RequestType = "constitutional_review"
	TypeEmergencyOverride    RequestType = "emergency_override"
	TypePolicyGuidance       RequestType = "policy_guidance"
	TypeExpertConsultation   RequestType = "expert_consultation"
	TypeEthicalReview        RequestType = "ethical_review"
	TypeSafetyCheck          RequestType = "safety_check"
	TypeQualityAssurance     RequestType = "quality_assurance"
)

// ValidTypes is the set of all valid request types.
var ValidTypes = map[RequestType]bool{
	TypeApprovalRequired:     true,
	TypeConstitutionalReview: true,
	TypeEmergencyOverride:    true,
	TypePolicyGuidance:       true,
	TypeExpertConsultation:   true,
	TypeEthicalReview:        true,
	TypeSafetyCheck:          true,
	TypeQualityAssurance:     true,
}

// Status represents the lifecycle state of a request. A request is created
// pending and transitions exactly once to one of the terminal statuses.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	// StatusEscalated exists on the wire for historical compatibility but is
	// never stored: escalation is a side notification, not a resolution.
	StatusEscalated              Status = "escalated"
	StatusTimeout                Status = "timeout"
	StatusConstitutionalOverride Status = "constitutional_override"
)

// Terminal reports whether the status ends a request's active lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusTimeout, StatusConstitutionalOverride:
		return true
	}
	return false
}

// MinTimeout is the smallest timeout a request may carry.
const MinTimeout = 5 * time.Minute

// SystemResponder is the responder id used by the timeout scheduler when it
// synthesizes a TIMEOUT resolution. It is not a directory user and bypasses
// the responder-role check.
const SystemResponder = "system"

// Priority bounds for submitted requests.
const (
	MinPriority = 1
	MaxPriority = 10
)

// EmergencyPriority is the floor applied to emergency requests.
const EmergencyPriority = 9

// Request is an intervention request. Owned exclusively by the broker;
// immutable after creation except for AssignedTo (write-once) and the
// derived terminal status held alongside it in storage.
type Request struct {
	ID                   string          `json:"id"`
	Service              string          `json:"requesting_service"`
	Type                 RequestType     `json:"type"`
	Priority             int             `json:"priority"`
	Title                string          `json:"title"`
	Description          string          `json:"description"`
	Context              map[string]any  `json:"context,omitempty"`
	ProposedAction       map[string]any  `json:"proposed_action,omitempty"`
	ConstitutionalImpact bool            `json:"constitutional_impact"`
	Emergency            bool            `json:"emergency"`
	Timeout              time.Duration   `json:"timeout"`
	RequiredRoles        []reviewer.Role `json:"required_roles,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	ExpiresAt            time.Time       `json:"expires_at"`
	AssignedTo           string          `json:"assigned_to,omitempty"`
}

// RoleAllowed reports whether a responder with the given role may resolve
// this request. An empty required-role set means any active reviewer.
func (r *Request) RoleAllowed(role reviewer.Role) bool {
	if len(r.RequiredRoles) == 0 {
		return true
	}
	for _, required := range r.RequiredRoles {
		if role == required {
			return true
		}
	}
	return false
}

// Expired reports whether the request's deadline has passed at the given time.
func (r *Request) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// CreateRequest is the inbound payload for submitting a new request.
type CreateRequest struct {
	Service              string          `json:"requesting_service"`
	Type                 RequestType     `json:"type"`
	Priority             int             `json:"priority"`
	Title                string          `json:"title"`
	Description          string          `json:"description"`
	Context              map[string]any  `json:"context,omitempty"`
	ProposedAction       map[string]any  `json:"proposed_action,omitempty"`
	ConstitutionalImpact bool            `json:"constitutional_impact"`
	Emergency            bool            `json:"emergency"`
	Timeout              time.Duration   `json:"timeout"`
	RequiredRoles        []reviewer.Role `json:"required_roles,omitempty"`
}

// Validate checks the create request for structural correctness.
func (c *CreateRequest) Validate() error {
	if c.Priority < MinPriority || c.Priority > MaxPriority {
		return fmt.Errorf("priority %d out of [%d,%d]: %w", c.Priority, MinPriority, MaxPriority, domain.ErrInvalidArgument)
	}
	if c.Timeout < MinTimeout {
		return fmt.Errorf("timeout %s below minimum %s: %w", c.Timeout, MinTimeout, domain.ErrInvalidArgument)
	}
	if !ValidTypes[c.Type] {
		return fmt.Errorf("unknown request type %q: %w", c.Type, domain.ErrInvalidArgument)
	}
	for _, role := range c.RequiredRoles {
		if !reviewer.ValidRoles[role] {
			return fmt.Errorf("unknown role %q: %w", role, domain.ErrInvalidArgument)
		}
	}
	return nil
}

// NewRequest builds a normalized Request from a validated CreateRequest.
// Constitutional impact forces CONSTITUTIONAL_EXPERT into the required
// roles; emergency forces ADMINISTRATOR and raises priority to at least 9.
func NewRequest(c CreateRequest, id string, now time.Time) *Request {
	req := &Request{
		ID:                   id,
		Service:              c.Service,
		Type:                 c.Type,
		Priority:             c.Priority,
		Title:                c.Title,
		Description:          c.Description,
		Context:              c.Context,
		ProposedAction:       c.ProposedAction,
		ConstitutionalImpact: c.ConstitutionalImpact,
		Emergency:            c.Emergency,
		Timeout:              c.Timeout,
		RequiredRoles:        append([]reviewer.Role(nil), c.RequiredRoles...),
		CreatedAt:            now,
		ExpiresAt:            now.Add(c.Timeout),
	}

	if req.ConstitutionalImpact {
		req.RequiredRoles = ensureRole(req.RequiredRoles, reviewer.RoleConstitutionalExpert)
	}
	if req.Emergency {
		if req.Priority < EmergencyPriority {
			req.Priority = EmergencyPriority
		}
		req.RequiredRoles = ensureRole(req.RequiredRoles, reviewer.RoleAdministrator)
	}

	return req
}

func ensureRole(roles []reviewer.Role, role reviewer.Role) []reviewer.Role {
	for _, r := range roles {
		if r == role {
			return roles
		}
	}
	return append(roles, role)
}

// Response is the single accepted resolution of a request.
type Response struct {
	ID                  string        `json:"id"`
	RequestID           string        `json:"request_id"`
	ResponderID         string        `json:"responder_id"`
	ResponderRole       reviewer.Role `json:"responder_role"`
	Status              Status        `json:"status"`
	Decision            *bool         `json:"decision,omitempty"`
	Reasoning           string        `json:"reasoning"`
	ConstitutionalBasis string        `json:"constitutional_basis,omitempty"`
	Confidence          float64       `json:"confidence"`
	RespondedAt         time.Time     `json:"response_time"`
}

// SubmitResponse is the inbound payload for resolving a request.
type SubmitResponse struct {
	ResponderID         string        `json:"responder_id"`
	ResponderRole       reviewer.Role `json:"responder_role"`
	Status              Status        `json:"status"`
	Decision            *bool         `json:"decision,omitempty"`
	Reasoning           string        `json:"reasoning"`
	ConstitutionalBasis string        `json:"constitutional_basis,omitempty"`
	Confidence          float64       `json:"confidence"`
}

// Validate checks the response payload for structural correctness.
// ESCALATED is rejected here: escalation never resolves a request.
func (s *SubmitResponse) Validate() error {
	if s.ResponderID == "" {
		return fmt.Errorf("responder_id is required: %w", domain.ErrInvalidArgument)
	}
	if !s.Status.Terminal() {
		return fmt.Errorf("status %q is not a terminal resolution: %w", s.Status, domain.ErrInvalidArgument)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("confidence %v out of [0,1]: %w", s.Confidence, domain.ErrInvalidArgument)
	}
	return nil
}

// Detail is the full view of a request returned by get_detail.
type Detail struct {
	Request    *Request      `json:"request"`
	Response   *Response     `json:"response,omitempty"`
	Status     Status        `json:"status"`
	PendingFor time.Duration `json:"pending_for"`
	Remaining  time.Duration `json:"remaining"`
}

// PendingFilters narrows the result of get_pending.
type PendingFilters struct {
	AssignedTo  string      `json:"assigned_to,omitempty"`
	Type        RequestType `json:"type,omitempty"`
	MinPriority int         `json:"min_priority,omitempty"`
}

// Match reports whether a pending request passes the filters.
func (f PendingFilters) Match(req *Request) bool {
	if f.AssignedTo != "" && req.AssignedTo != f.AssignedTo {
		return false
	}
	if f.Type != "" && req.Type != f.Type {
		return false
	}
	if f.MinPriority > 0 && req.Priority < f.MinPriority {
		return false
	}
	return true
}
