// Package workflows defines the port for the external workflow-configuration source.
package workflows

import (
	"context"

	"github.com/arbiterhq/arbiter/internal/domain/workflow"
)

// Source supplies oversight workflow definitions by name.
type Source interface {
	// Get returns the named workflow definition, or domain.ErrNotFound.
	Get(ctx context.Context, name string) (*workflow.OversightWorkflow, error)
}
