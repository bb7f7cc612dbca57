package approval_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchid-run/orchid/pkg/approval"
	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/store/file"
)

func newGate(t *testing.T, deadline time.Duration) (*approval.Gate, *file.Store) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := file.NewStore(t.TempDir())

	return approval.NewGate(logger, st, nil, deadline), st
}

func testRun() *models.Run {
	return &models.Run{ID: "run-1", WorkflowID: "wf-1"}
}

func TestRequestUsesNodeDeadline(t *testing.T) {
	gate, _ := newGate(t, time.Hour)
	ctx := context.Background()

	node := &models.NodeSpec{ID: "gate-node", Name: "Gate", ApprovalDeadline: 10 * time.Minute}

	request, err := gate.Request(ctx, testRun(), node, map[string]any{"amount": 500})
	require.NoError(t, err)

	assert.Equal(t, models.ApprovalStatusPending, request.Status)
	assert.Equal(t, "run-1", request.RunID)
	assert.Equal(t, "gate-node", request.NodeID)
	assert.WithinDuration(t, time.Now().UTC().Add(10*time.Minute), request.Deadline, time.Minute)

	stored, err := gate.Get(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, request.ID, stored.ID)
}

func TestResolveIsFirstWriterWins(t *testing.T) {
	gate, _ := newGate(t, time.Hour)
	ctx := context.Background()

	node := &models.NodeSpec{ID: "n", Name: "n"}

	request, err := gate.Request(ctx, testRun(), node, nil)
	require.NoError(t, err)

	resolved, err := gate.Resolve(ctx, request.ID, models.ApprovalStatusApproved, "alex")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, resolved.Status)
	assert.Equal(t, "alex", resolved.ResolvedBy)
	require.NotNil(t, resolved.ResolvedAt)

	late, err := gate.Resolve(ctx, request.ID, models.ApprovalStatusRejected, "sam")
	require.ErrorIs(t, err, approval.ErrAlreadyResolved)
	assert.Equal(t, models.ApprovalStatusApproved, late.Status, "the settled decision is returned")
}

func TestResolveRejectsInvalidDecision(t *testing.T) {
	gate, _ := newGate(t, time.Hour)

	_, err := gate.Resolve(context.Background(), "any", models.ApprovalStatusExpired, "alex")
	require.ErrorIs(t, err, approval.ErrInvalidDecision)

	_, err = gate.Resolve(context.Background(), "any", models.ApprovalStatusPending, "alex")
	require.ErrorIs(t, err, approval.ErrInvalidDecision)
}

func TestResolveAfterDeadlineExpires(t *testing.T) {
	gate, _ := newGate(t, time.Hour)
	ctx := context.Background()

	node := &models.NodeSpec{ID: "n", Name: "n", ApprovalDeadline: time.Millisecond}

	request, err := gate.Request(ctx, testRun(), node, nil)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = gate.Resolve(ctx, request.ID, models.ApprovalStatusApproved, "alex")
	require.ErrorIs(t, err, approval.ErrAlreadyResolved)

	stored, err := gate.Get(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusExpired, stored.Status)
}

func TestExpireDueSweepsOnlyPastDeadline(t *testing.T) {
	gate, _ := newGate(t, time.Hour)
	ctx := context.Background()

	due := &models.NodeSpec{ID: "due", Name: "due", ApprovalDeadline: time.Millisecond}
	fresh := &models.NodeSpec{ID: "fresh", Name: "fresh", ApprovalDeadline: time.Hour}

	dueReq, err := gate.Request(ctx, testRun(), due, nil)
	require.NoError(t, err)

	freshReq, err := gate.Request(ctx, testRun(), fresh, nil)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	count, err := gate.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	expired, err := gate.Get(ctx, dueReq.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusExpired, expired.Status)

	pending, err := gate.Get(ctx, freshReq.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusPending, pending.Status)

	remaining, err := gate.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, freshReq.ID, remaining[0].ID)
}

func TestExpireIfDue(t *testing.T) {
	gate, _ := newGate(t, time.Hour)
	ctx := context.Background()

	node := &models.NodeSpec{ID: "n", Name: "n", ApprovalDeadline: time.Millisecond}

	request, err := gate.Request(ctx, testRun(), node, nil)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	checked, err := gate.ExpireIfDue(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusExpired, checked.Status)
}
