package service

import (
	"github.com/arbiterhq/arbiter/internal/domain/intervention"
	"github.com/arbiterhq/arbiter/internal/domain/reviewer"
)

// AssignmentEngine picks a reviewer for a request at creation time. It runs
// synchronously, exactly once per request; assignments are never revisited
// when availability changes later.
type AssignmentEngine struct{}

// Select returns the id of the chosen reviewer, or ok=false when no
// candidate is eligible (the request stays unassigned, surfaced by the
// dashboard rather than treated as an error).
//
// Constitutional-impact requests go to the candidate with the highest
// constitutional expertise; everything else to the candidate with the
// fewest open assignments. Ties break by fewer open assignments (for the
// constitutional rule) and then by lowest reviewer id, so selection is
// deterministic and total-ordered.
func (AssignmentEngine) Select(req *intervention.Request, candidates []reviewer.Reviewer, open map[string]int) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if better(req, c, best, open) {
			best = c
		}
	}
	return best.ID, true
}

// better reports whether a should be preferred over b for req.
func better(req *intervention.Request, a, b reviewer.Reviewer, open map[string]int) bool {
	if req.ConstitutionalImpact {
		if a.ConstitutionalExpertise != b.ConstitutionalExpertise {
			return a.ConstitutionalExpertise > b.ConstitutionalExpertise
		}
	}
	if open[a.ID] != open[b.ID] {
		return open[a.ID] < open[b.ID]
	}
	return a.ID < b.ID
}
