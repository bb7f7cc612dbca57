package file_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/store"
	"github.com/orchid-run/orchid/pkg/store/file"
)

func newStore(t *testing.T) *file.Store {
	t.Helper()

	return file.NewStore(t.TempDir())
}

func sampleDefinition(id string) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:     id,
		Name:   "sample workflow",
		Status: models.WorkflowStatusPublished,
		Nodes: []*models.NodeSpec{
			{ID: "a", Type: models.NodeTypeTrigger, Name: "a"},
		},
	}
}

func TestWorkflowRoundTrip(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	require.NoError(t, st.Workflows().Save(ctx, sampleDefinition("wf-1")))
	require.NoError(t, st.Workflows().Save(ctx, sampleDefinition("wf-2")))

	got, err := st.Workflows().GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "sample workflow", got.Name)

	all, err := st.Workflows().List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, st.Workflows().Delete(ctx, "wf-1"))

	_, err = st.Workflows().GetByID(ctx, "wf-1")
	assert.ErrorIs(t, err, store.ErrWorkflowNotFound)
}

func TestRunCreateIsExclusive(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	run := models.NewRun("run-1", sampleDefinition("wf-1"), nil)
	require.NoError(t, st.Runs().Create(ctx, run))

	err := st.Runs().Create(ctx, models.NewRun("run-1", sampleDefinition("wf-1"), nil))
	assert.ErrorIs(t, err, store.ErrRunAlreadyExists)
}

func TestRunUpdateEnforcesCAS(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	run := models.NewRun("run-1", sampleDefinition("wf-1"), nil)
	require.NoError(t, st.Runs().Create(ctx, run))

	stored, err := st.Runs().Get(ctx, "run-1")
	require.NoError(t, err)

	stored.State["a"] = map[string]any{"value": 1.0}
	require.NoError(t, st.Runs().Update(ctx, stored, stored.Version))
	assert.Equal(t, stored.Version, int64(1), "update bumps version")

	// A writer holding the old version loses the race.
	stale := models.NewRun("run-1", sampleDefinition("wf-1"), nil)
	err = st.Runs().Update(ctx, stale, 0)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	latest, err := st.Runs().Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"value": 1.0}, latest.State["a"])
}

func TestConcurrentCASWritersOneWins(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	require.NoError(t, st.Runs().Create(ctx, models.NewRun("run-1", sampleDefinition("wf-1"), nil)))

	const writers = 8

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for i := 0; i < writers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			run, err := st.Runs().Get(ctx, "run-1")
			if err != nil {
				return
			}

			if err := st.Runs().Update(ctx, run, run.Version); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.GreaterOrEqual(t, wins, 1)

	final, err := st.Runs().Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(wins), final.Version, "version reflects exactly the winning writes")
}

func TestListByStatus(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	running := models.NewRun("run-1", sampleDefinition("wf-1"), nil)
	require.NoError(t, running.TransitionTo(models.RunStatusRunning))
	require.NoError(t, st.Runs().Create(ctx, running))

	pending := models.NewRun("run-2", sampleDefinition("wf-1"), nil)
	require.NoError(t, st.Runs().Create(ctx, pending))

	ids, err := st.Runs().ListByStatus(ctx, models.RunStatusRunning)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1"}, ids)

	ids, err = st.Runs().ListByStatus(ctx, models.RunStatusFailed)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRunGetMissing(t *testing.T) {
	st := newStore(t)

	_, err := st.Runs().Get(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrRunNotFound)
}

func TestApprovalRepository(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	request := &models.ApprovalRequest{
		ID:        "ap-1",
		RunID:     "run-1",
		NodeID:    "gate",
		Status:    models.ApprovalStatusPending,
		Deadline:  time.Now().UTC().Add(time.Hour),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.Approvals().Save(ctx, request))

	resolvedAt := time.Now().UTC()
	request.Status = models.ApprovalStatusApproved
	request.ResolvedBy = "alice"
	request.ResolvedAt = &resolvedAt
	require.NoError(t, st.Approvals().Update(ctx, request))

	got, err := st.Approvals().Get(ctx, "ap-1")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, got.Status)
	assert.Equal(t, "alice", got.ResolvedBy)

	pending, err := st.Approvals().ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = st.Approvals().Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrApprovalNotFound)
}

func TestRejectsUnsafeIDs(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	_, err := st.Runs().Get(ctx, "../escape")
	assert.Error(t, err)

	_, err = st.Workflows().GetByID(ctx, "a/b")
	assert.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	st := newStore(t)
	assert.NoError(t, st.HealthCheck(context.Background()))

	missing := file.NewStore("/nonexistent/orchid-store")
	assert.Error(t, missing.HealthCheck(context.Background()))
}
