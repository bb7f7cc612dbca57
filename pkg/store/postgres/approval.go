package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/store"
)

// ApprovalRepository handles approval request database operations.
type ApprovalRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewApprovalRepository(db *sql.DB, logger *slog.Logger) *ApprovalRepository {
	return &ApprovalRepository{db: db, logger: logger}
}

func (r *ApprovalRepository) Save(ctx context.Context, request *models.ApprovalRequest) error {
	return r.upsert(ctx, request)
}

func (r *ApprovalRepository) Update(ctx context.Context, request *models.ApprovalRequest) error {
	if _, err := r.Get(ctx, request.ID); err != nil {
		return err
	}

	return r.upsert(ctx, request)
}

func (r *ApprovalRepository) upsert(ctx context.Context, request *models.ApprovalRequest) error {
	data, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal approval %s: %w", request.ID, err)
	}

	query := `
		INSERT INTO approvals (id, run_id, status, deadline, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			deadline = EXCLUDED.deadline,
			data = EXCLUDED.data
	`

	_, err = r.db.ExecContext(ctx, query,
		request.ID,
		request.RunID,
		request.Status,
		request.Deadline,
		data,
		request.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save approval %s: %w", request.ID, err)
	}

	return nil
}

func (r *ApprovalRepository) Get(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	var data []byte

	err := r.db.QueryRowContext(ctx, "SELECT data FROM approvals WHERE id = $1", id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrApprovalNotFound
		}

		return nil, fmt.Errorf("failed to query approval %s: %w", id, err)
	}

	var request models.ApprovalRequest

	if err := json.Unmarshal(data, &request); err != nil {
		return nil, fmt.Errorf("failed to unmarshal approval %s: %w", id, err)
	}

	return &request, nil
}

func (r *ApprovalRepository) ListPending(ctx context.Context) ([]*models.ApprovalRequest, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT data FROM approvals WHERE status = $1 ORDER BY created_at",
		models.ApprovalStatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending approvals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pending []*models.ApprovalRequest

	for rows.Next() {
		var data []byte

		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan approval row: %w", err)
		}

		var request models.ApprovalRequest

		if err := json.Unmarshal(data, &request); err != nil {
			return nil, fmt.Errorf("failed to unmarshal approval row: %w", err)
		}

		pending = append(pending, &request)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate approval rows: %w", err)
	}

	return pending, nil
}
