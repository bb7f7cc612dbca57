package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/store"
)

// ApprovalRepository persists approval requests as JSON files under
// {root}/approvals.
type ApprovalRepository struct {
	root string
	mu   sync.Mutex
}

func NewApprovalRepository(root string) *ApprovalRepository {
	return &ApprovalRepository{root: root}
}

func (r *ApprovalRepository) dir() string {
	return filepath.Join(r.root, "approvals")
}

func (r *ApprovalRepository) path(id string) string {
	return filepath.Join(r.dir(), id+".json")
}

func (r *ApprovalRepository) Save(ctx context.Context, request *models.ApprovalRequest) error {
	if err := validateID(request.ID); err != nil {
		return fmt.Errorf("invalid approval ID: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.dir(), 0750); err != nil {
		return fmt.Errorf("failed to create approvals directory: %w", err)
	}

	return r.write(request)
}

func (r *ApprovalRepository) Get(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("invalid approval ID: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.read(id)
}

func (r *ApprovalRepository) Update(ctx context.Context, request *models.ApprovalRequest) error {
	if err := validateID(request.ID); err != nil {
		return fmt.Errorf("invalid approval ID: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.read(request.ID); err != nil {
		return err
	}

	return r.write(request)
}

func (r *ApprovalRepository) ListPending(ctx context.Context) ([]*models.ApprovalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(r.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read approvals directory: %w", err)
	}

	var pending []*models.ApprovalRequest

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		request, err := r.read(entry.Name()[:len(entry.Name())-len(".json")])
		if err != nil {
			return nil, err
		}

		if request.Status == models.ApprovalStatusPending {
			pending = append(pending, request)
		}
	}

	return pending, nil
}

func (r *ApprovalRepository) read(id string) (*models.ApprovalRequest, error) {
	data, err := os.ReadFile(r.path(id)) // #nosec G304 -- path is validated and constructed safely
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrApprovalNotFound
		}

		return nil, fmt.Errorf("failed to read approval %s: %w", id, err)
	}

	var request models.ApprovalRequest

	if err := json.Unmarshal(data, &request); err != nil {
		return nil, fmt.Errorf("failed to unmarshal approval %s: %w", id, err)
	}

	return &request, nil
}

func (r *ApprovalRepository) write(request *models.ApprovalRequest) error {
	data, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal approval %s: %w", request.ID, err)
	}

	if err := writeFileAtomic(r.path(request.ID), data); err != nil {
		return fmt.Errorf("failed to write approval %s: %w", request.ID, err)
	}

	return nil
}
