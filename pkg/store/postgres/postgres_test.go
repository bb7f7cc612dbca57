package postgres_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/store"
	"github.com/orchid-run/orchid/pkg/store/postgres"
)

var container *tcpostgres.PostgresContainer

func dropTables(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"approvals", "runs", "workflows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	require.NoError(t, db.Close())
}

func setupStore(t *testing.T) (*postgres.Store, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("postgres integration tests need docker")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if container == nil || !container.IsRunning() {
		var err error

		container, err = tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("orchid_test"),
			tcpostgres.WithUsername("orchid"),
			tcpostgres.WithPassword("orchid"),
			tcpostgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropTables(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	st, err := postgres.NewStore(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropTables(ctx, t, databaseURL)
		require.NoError(t, st.Close(ctx))
		cancel()
	})

	return st, ctx, databaseURL
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

func TestMigrationsApplied(t *testing.T) {
	_, ctx, databaseURL := setupStore(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, db.Close())
	}()

	for _, table := range []string{"workflows", "runs", "approvals", "schema_migrations"} {
		var exists bool

		err = db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)`,
			table,
		).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT version FROM schema_migrations WHERE version = 1").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestHealthCheck(t *testing.T) {
	st, ctx, _ := setupStore(t)

	assert.NoError(t, st.HealthCheck(ctx))
}

func TestWorkflowRoundTrip(t *testing.T) {
	st, ctx, _ := setupStore(t)

	require.NoError(t, st.Workflows().Save(ctx, sampleDefinition("wf-1")))
	require.NoError(t, st.Workflows().Save(ctx, sampleDefinition("wf-2")))

	got, err := st.Workflows().GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "sample workflow", got.Name)
	assert.Equal(t, models.WorkflowStatusPublished, got.Status)
	assert.Len(t, got.Nodes, 1)

	all, err := st.Workflows().List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Save is an upsert keyed by ID.
	updated := sampleDefinition("wf-1")
	updated.Name = "renamed workflow"
	require.NoError(t, st.Workflows().Save(ctx, updated))

	got, err = st.Workflows().GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed workflow", got.Name)

	require.NoError(t, st.Workflows().Delete(ctx, "wf-1"))

	_, err = st.Workflows().GetByID(ctx, "wf-1")
	assert.ErrorIs(t, err, store.ErrWorkflowNotFound)
}

func TestRunCreateIsExclusive(t *testing.T) {
	st, ctx, _ := setupStore(t)

	run := models.NewRun("run-1", sampleDefinition("wf-1"), nil)
	require.NoError(t, st.Runs().Create(ctx, run))

	err := st.Runs().Create(ctx, models.NewRun("run-1", sampleDefinition("wf-1"), nil))
	assert.ErrorIs(t, err, store.ErrRunAlreadyExists)
}

func TestRunUpdateEnforcesCAS(t *testing.T) {
	st, ctx, _ := setupStore(t)

	run := models.NewRun("run-1", sampleDefinition("wf-1"), nil)
	require.NoError(t, st.Runs().Create(ctx, run))

	stored, err := st.Runs().Get(ctx, "run-1")
	require.NoError(t, err)

	stored.State["a"] = map[string]any{"value": 1.0}
	require.NoError(t, st.Runs().Update(ctx, stored, 0))
	assert.Equal(t, int64(1), stored.Version)

	// A writer holding the old version matches zero rows and must fail
	// without clobbering the newer checkpoint.
	stale, err := st.Runs().Get(ctx, "run-1")
	require.NoError(t, err)
	stale.State["a"] = map[string]any{"value": 99.0}

	err = st.Runs().Update(ctx, stale, 0)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	current, err := st.Runs().Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), current.Version)
	assert.Equal(t, map[string]any{"value": 1.0}, current.State["a"])
}

func TestListByStatus(t *testing.T) {
	st, ctx, _ := setupStore(t)

	pending := models.NewRun("run-pending", sampleDefinition("wf-1"), nil)
	require.NoError(t, st.Runs().Create(ctx, pending))

	running := models.NewRun("run-running", sampleDefinition("wf-1"), nil)
	require.NoError(t, running.TransitionTo(models.RunStatusRunning))
	require.NoError(t, st.Runs().Create(ctx, running))

	ids, err := st.Runs().ListByStatus(ctx, models.RunStatusRunning)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-running"}, ids)

	ids, err = st.Runs().ListByStatus(ctx, models.RunStatusFailed)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestApprovalRoundTrip(t *testing.T) {
	st, ctx, _ := setupStore(t)

	request := &models.ApprovalRequest{
		ID:         uuid.New().String(),
		RunID:      "run-1",
		WorkflowID: "wf-1",
		NodeID:     "gate",
		Payload:    map[string]any{"amount": 1200.0},
		Status:     models.ApprovalStatusPending,
		Deadline:   time.Now().UTC().Add(time.Hour),
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, st.Approvals().Save(ctx, request))

	got, err := st.Approvals().Get(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, models.ApprovalStatusPending, got.Status)
	assert.Equal(t, map[string]any{"amount": 1200.0}, got.Payload)

	pending, err := st.Approvals().ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	resolvedAt := time.Now().UTC()
	got.Status = models.ApprovalStatusApproved
	got.ResolvedBy = "alice"
	got.ResolvedAt = &resolvedAt
	require.NoError(t, st.Approvals().Update(ctx, got))

	pending, err = st.Approvals().ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	got, err = st.Approvals().Get(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, got.Status)
	assert.Equal(t, "alice", got.ResolvedBy)

	_, err = st.Approvals().Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrApprovalNotFound)
}
