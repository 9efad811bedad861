// Package reviewer defines the reviewer roster domain model.
package reviewer

import "time"

// Role represents the oversight authority of a reviewer.
type Role string

const (
	RoleAdministrator        Role = "administrator"
	RoleConstitutionalExpert Role = "constitutional_expert"
	RoleDomainExpert         Role = "domain_expert"
	RoleOperator             Role = "operator"
	RoleAuditor              Role = "auditor"
	RoleEmergencyResponder   Role = "emergency_responder"
	RoleObserver             Role = "observer"
)

// ValidRoles is the set of all valid reviewer roles.
var ValidRoles = map[Role]bool{
	RoleAdministrator:        true,
	RoleConstitutionalExpert: true,
	RoleDomainExpert:         true,
	RoleOperator:             true,
	RoleAuditor:              true,
	RoleEmergencyResponder:   true,
	RoleObserver:             true,
}

// Reviewer represents a human reviewer known to the broker. The active flag
// is owned by an external directory feed; response accounting fields are
// owned by the response path.
type Reviewer struct {
	ID                      string    `json:"id"`
	Username                string    `json:"username"`
	Role                    Role      `json:"role"`
	Specializations         []string  `json:"specializations,omitempty"`
	Active                  bool      `json:"active"`
	LastActivity            time.Time `json:"last_activity"`
	InterventionCount       int       `json:"intervention_count"`
	ApprovalRate            float64   `json:"approval_rate"`
	ConstitutionalExpertise float64   `json:"constitutional_expertise"`
}

// RecordResponse folds one accepted response into the reviewer's
// cumulative stats. approved is true when the response status was APPROVED.
func (r *Reviewer) RecordResponse(approved bool, at time.Time) {
	approvals := r.ApprovalRate * float64(r.InterventionCount)
	if approved {
		approvals++
	}
	r.InterventionCount++
	r.ApprovalRate = approvals / float64(r.InterventionCount)
	r.LastActivity = at
}
