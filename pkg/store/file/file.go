// Package file provides a file-based store implementation for workflows,
// runs, and approval requests. It is intended for development, testing, and
// single-node deployments.
package file

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/orchid-run/orchid/pkg/store"
)

// Store implements the store.Store interface using the file system.
type Store struct {
	root         string
	workflowRepo *WorkflowRepository
	runRepo      *RunRepository
	approvalRepo *ApprovalRepository
}

// NewStore creates a file store rooted at the given directory. A "file://"
// prefix on root is accepted and stripped.
func NewStore(root string) *Store {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Store{
		root:         cleanRoot,
		workflowRepo: NewWorkflowRepository(cleanRoot),
		runRepo:      NewRunRepository(cleanRoot),
		approvalRepo: NewApprovalRepository(cleanRoot),
	}
}

func (s *Store) Workflows() store.WorkflowRepository {
	return s.workflowRepo
}

func (s *Store) Runs() store.RunRepository {
	return s.runRepo
}

func (s *Store) Approvals() store.ApprovalRepository {
	return s.approvalRepo
}

// HealthCheck verifies the root directory exists.
func (s *Store) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(s.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. Nothing to do for files.
func (s *Store) Close(_ context.Context) error {
	return nil
}

// validateID rejects identifiers unsafe for file operations.
func validateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}

	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return errors.New("id contains invalid characters")
	}

	return nil
}
