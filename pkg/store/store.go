// Package store provides the durable state abstraction for workflow
// definitions, runs, and approval requests. Any keyed store with
// read-modify-write consistency strong enough for the version check on run
// updates can back it.
package store

import (
	"context"

	"github.com/orchid-run/orchid/pkg/models"
)

// Store is the pluggable persistence entry point.
type Store interface {
	Workflows() WorkflowRepository
	Runs() RunRepository
	Approvals() ApprovalRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores published workflow definitions.
type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.WorkflowDefinition) error
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	List(ctx context.Context) ([]*models.WorkflowDefinition, error)
	Delete(ctx context.Context, id string) error
}

// RunRepository stores run snapshots. Update is the checkpoint write: it
// performs a compare-and-swap against expectedVersion and fails with
// ErrVersionConflict when the stored version moved, forcing the writer to
// re-read and retry the merge. Checkpoint writes for one run are therefore
// strictly ordered.
type RunRepository interface {
	Create(ctx context.Context, run *models.Run) error
	Get(ctx context.Context, runID string) (*models.Run, error)
	Update(ctx context.Context, run *models.Run, expectedVersion int64) error
	ListByStatus(ctx context.Context, status models.RunStatus) ([]string, error)
}

// ApprovalRepository stores approval requests for the gate.
type ApprovalRepository interface {
	Save(ctx context.Context, request *models.ApprovalRequest) error
	Get(ctx context.Context, id string) (*models.ApprovalRequest, error)
	Update(ctx context.Context, request *models.ApprovalRequest) error
	ListPending(ctx context.Context) ([]*models.ApprovalRequest, error)
}
