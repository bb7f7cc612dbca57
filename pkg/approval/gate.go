// Package approval manages human approval requests that suspend workflow
// runs. The gate owns request creation, decision resolution, and deadline
// expiry; the execution engine reacts to the resulting state on its next
// advancement of the run.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/orchid-run/orchid/pkg/eventbus"
	"github.com/orchid-run/orchid/pkg/events"
	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/store"
)

// DefaultDeadline bounds approval requests whose node does not set one.
const DefaultDeadline = 24 * time.Hour

var (
	// ErrAlreadyResolved is returned when a decision arrives for a request
	// that has already been approved, rejected, or expired. Resolution is
	// first-writer-wins.
	ErrAlreadyResolved = errors.New("approval request already resolved")

	// ErrInvalidDecision is returned for decisions other than approved or
	// rejected.
	ErrInvalidDecision = errors.New("decision must be approved or rejected")
)

type Gate struct {
	logger          *slog.Logger
	store           store.Store
	bus             eventbus.EventPublisher
	defaultDeadline time.Duration
}

// NewGate builds an approval gate. bus may be nil when no event bus is
// wired; resolution then only updates durable state.
func NewGate(logger *slog.Logger, st store.Store, bus eventbus.EventPublisher, defaultDeadline time.Duration) *Gate {
	if defaultDeadline <= 0 {
		defaultDeadline = DefaultDeadline
	}

	return &Gate{
		logger:          logger.With("module", "approval"),
		store:           st,
		bus:             bus,
		defaultDeadline: defaultDeadline,
	}
}

// Request files a pending approval request for the given node of the run.
func (g *Gate) Request(ctx context.Context, run *models.Run, node *models.NodeSpec, payload map[string]any) (*models.ApprovalRequest, error) {
	deadline := node.ApprovalDeadline
	if deadline <= 0 {
		deadline = g.defaultDeadline
	}

	now := time.Now().UTC()

	request := &models.ApprovalRequest{
		ID:         uuid.New().String(),
		RunID:      run.ID,
		WorkflowID: run.WorkflowID,
		NodeID:     node.ID,
		Payload:    payload,
		Status:     models.ApprovalStatusPending,
		Deadline:   now.Add(deadline),
		CreatedAt:  now,
	}

	if err := g.store.Approvals().Save(ctx, request); err != nil {
		return nil, fmt.Errorf("saving approval request: %w", err)
	}

	g.logger.InfoContext(ctx, "Approval requested",
		"approval_id", request.ID,
		"run_id", run.ID,
		"node_id", node.ID,
		"deadline", request.Deadline)

	return request, nil
}

// Resolve applies a human decision to a pending request. The first decision
// wins; later ones fail with ErrAlreadyResolved carrying the settled status.
func (g *Gate) Resolve(ctx context.Context, id string, decision models.ApprovalStatus, actor string) (*models.ApprovalRequest, error) {
	if decision != models.ApprovalStatusApproved && decision != models.ApprovalStatusRejected {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDecision, decision)
	}

	request, err := g.store.Approvals().Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if request.Status.Resolved() {
		return request, fmt.Errorf("%w: status is %s", ErrAlreadyResolved, request.Status)
	}

	now := time.Now().UTC()

	if request.ExpiredAt(now) {
		// Lazy expiry: the sweep has not caught it yet but the deadline has
		// passed, so the decision arrives too late.
		if err := g.expire(ctx, request); err != nil {
			return nil, err
		}

		return request, fmt.Errorf("%w: status is %s", ErrAlreadyResolved, request.Status)
	}

	request.Status = decision
	request.ResolvedBy = actor
	request.ResolvedAt = &now

	if err := g.store.Approvals().Update(ctx, request); err != nil {
		return nil, fmt.Errorf("updating approval request: %w", err)
	}

	g.publishResumed(ctx, request)

	g.logger.InfoContext(ctx, "Approval resolved",
		"approval_id", request.ID,
		"run_id", request.RunID,
		"decision", decision,
		"resolved_by", actor)

	return request, nil
}

// Get returns the request by ID.
func (g *Gate) Get(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	return g.store.Approvals().Get(ctx, id)
}

// ExpireIfDue fetches the request and expires it in place when its deadline
// has passed but the sweep has not caught it yet. The engine uses it when
// inspecting a suspended run so expiry never depends on sweep timing.
func (g *Gate) ExpireIfDue(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	request, err := g.store.Approvals().Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if request.ExpiredAt(time.Now().UTC()) {
		if err := g.expire(ctx, request); err != nil {
			return nil, err
		}
	}

	return request, nil
}

// ListPending returns all unresolved requests.
func (g *Gate) ListPending(ctx context.Context) ([]*models.ApprovalRequest, error) {
	return g.store.Approvals().ListPending(ctx)
}

// ExpireDue marks every pending request past its deadline as expired and
// returns how many were expired. Expiry behaves exactly like rejection for
// the suspended run.
func (g *Gate) ExpireDue(ctx context.Context) (int, error) {
	pending, err := g.store.Approvals().ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing pending approvals: %w", err)
	}

	now := time.Now().UTC()
	expired := 0

	for _, request := range pending {
		if !request.ExpiredAt(now) {
			continue
		}

		if err := g.expire(ctx, request); err != nil {
			g.logger.ErrorContext(ctx, "Failed to expire approval request",
				"approval_id", request.ID, "error", err)

			continue
		}

		expired++
	}

	return expired, nil
}

// StartSweeper runs the expiry sweep on the given interval until the context
// is cancelled.
func (g *Gate) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				count, err := g.ExpireDue(ctx)
				if err != nil {
					g.logger.ErrorContext(ctx, "Approval expiry sweep failed", "error", err)

					continue
				}

				if count > 0 {
					g.logger.InfoContext(ctx, "Expired approval requests", "count", count)
				}
			}
		}
	}()
}

func (g *Gate) expire(ctx context.Context, request *models.ApprovalRequest) error {
	now := time.Now().UTC()
	request.Status = models.ApprovalStatusExpired
	request.ResolvedAt = &now

	if err := g.store.Approvals().Update(ctx, request); err != nil {
		return fmt.Errorf("updating approval request: %w", err)
	}

	g.publishResumed(ctx, request)

	return nil
}

// publishResumed notifies workers that the suspended run has a decision and
// should be advanced again.
func (g *Gate) publishResumed(ctx context.Context, request *models.ApprovalRequest) {
	if g.bus == nil {
		return
	}

	event := events.RunResumed{
		BaseEvent:  events.NewBaseEvent(events.RunResumedEvent, request.WorkflowID),
		RunID:      request.RunID,
		ApprovalID: request.ID,
		Decision:   string(request.Status),
		ResolvedBy: request.ResolvedBy,
	}

	if err := g.bus.Publish(ctx, request.RunID, event); err != nil {
		g.logger.ErrorContext(ctx, "Failed to publish run resumed event",
			"approval_id", request.ID, "error", err)
	}
}
