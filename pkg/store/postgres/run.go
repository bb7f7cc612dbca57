package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/store"
)

const uniqueViolation = "23505"

// RunRepository handles run snapshot database operations. The checkpoint
// compare-and-swap rides on a plain conditional UPDATE: a stale writer
// matches zero rows and gets ErrVersionConflict.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}

	query := `
		INSERT INTO runs (id, workflow_id, status, version, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.WorkflowID,
		run.Status,
		run.Version,
		data,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return store.NewRunError("Create", run.ID, store.ErrRunAlreadyExists)
		}

		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	return nil
}

func (r *RunRepository) Get(ctx context.Context, runID string) (*models.Run, error) {
	var data []byte

	err := r.db.QueryRowContext(ctx, "SELECT data FROM runs WHERE id = $1", runID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NewRunError("Get", runID, store.ErrRunNotFound)
		}

		return nil, fmt.Errorf("failed to query run %s: %w", runID, err)
	}

	var run models.Run

	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", runID, err)
	}

	return &run, nil
}

// Update writes a checkpoint guarded by the expected version.
func (r *RunRepository) Update(ctx context.Context, run *models.Run, expectedVersion int64) error {
	run.Version = expectedVersion + 1

	data, err := json.Marshal(run)
	if err != nil {
		run.Version = expectedVersion

		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}

	query := `
		UPDATE runs
		SET status = $1, version = $2, data = $3, updated_at = $4
		WHERE id = $5 AND version = $6
	`

	result, err := r.db.ExecContext(ctx, query,
		run.Status,
		run.Version,
		data,
		run.UpdatedAt,
		run.ID,
		expectedVersion,
	)
	if err != nil {
		run.Version = expectedVersion

		return fmt.Errorf("failed to update run %s: %w", run.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		run.Version = expectedVersion

		return fmt.Errorf("failed to check update result for run %s: %w", run.ID, err)
	}

	if affected == 0 {
		run.Version = expectedVersion

		return store.NewRunError("Update", run.ID, store.ErrVersionConflict)
	}

	return nil
}

func (r *RunRepository) ListByStatus(ctx context.Context, status models.RunStatus) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id FROM runs WHERE status = $1 ORDER BY created_at", status)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs by status %s: %w", status, err)
	}
	defer func() { _ = rows.Close() }()

	var runIDs []string

	for rows.Next() {
		var id string

		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}

		runIDs = append(runIDs, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate run rows: %w", err)
	}

	return runIDs, nil
}
