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

// RunRepository persists run snapshots as JSON files under {root}/runs. The
// version check on Update runs under the repository lock, which gives the
// compare-and-swap semantics the engine's checkpoint protocol needs within
// one process.
type RunRepository struct {
	root string
	mu   sync.Mutex
}

func NewRunRepository(root string) *RunRepository {
	return &RunRepository{root: root}
}

func (r *RunRepository) dir() string {
	return filepath.Join(r.root, "runs")
}

func (r *RunRepository) path(id string) string {
	return filepath.Join(r.dir(), id+".json")
}

func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	if err := validateID(run.ID); err != nil {
		return fmt.Errorf("invalid run ID: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.dir(), 0750); err != nil {
		return fmt.Errorf("failed to create runs directory: %w", err)
	}

	if _, err := os.Stat(r.path(run.ID)); err == nil {
		return store.NewRunError("Create", run.ID, store.ErrRunAlreadyExists)
	}

	return r.write(run)
}

func (r *RunRepository) Get(ctx context.Context, runID string) (*models.Run, error) {
	if err := validateID(runID); err != nil {
		return nil, fmt.Errorf("invalid run ID: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.read(runID)
}

// Update is the checkpoint write. It fails with ErrVersionConflict when the
// stored snapshot no longer carries expectedVersion and bumps the version on
// success.
func (r *RunRepository) Update(ctx context.Context, run *models.Run, expectedVersion int64) error {
	if err := validateID(run.ID); err != nil {
		return fmt.Errorf("invalid run ID: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.read(run.ID)
	if err != nil {
		return err
	}

	if current.Version != expectedVersion {
		return store.NewRunError("Update", run.ID, store.ErrVersionConflict)
	}

	run.Version = expectedVersion + 1

	return r.write(run)
}

func (r *RunRepository) ListByStatus(ctx context.Context, status models.RunStatus) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(r.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	var runIDs []string

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		runID := entry.Name()[:len(entry.Name())-len(".json")]

		run, err := r.read(runID)
		if err != nil {
			return nil, err
		}

		if run.Status == status {
			runIDs = append(runIDs, run.ID)
		}
	}

	return runIDs, nil
}

func (r *RunRepository) read(runID string) (*models.Run, error) {
	data, err := os.ReadFile(r.path(runID)) // #nosec G304 -- path is validated and constructed safely
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.NewRunError("Get", runID, store.ErrRunNotFound)
		}

		return nil, fmt.Errorf("failed to read run %s: %w", runID, err)
	}

	var run models.Run

	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", runID, err)
	}

	return &run, nil
}

func (r *RunRepository) write(run *models.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}

	if err := writeFileAtomic(r.path(run.ID), data); err != nil {
		return fmt.Errorf("failed to write run %s: %w", run.ID, err)
	}

	return nil
}
