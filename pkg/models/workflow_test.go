package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchid-run/orchid/pkg/models"
)

func node(id string) *models.NodeSpec {
	return &models.NodeSpec{ID: id, Type: models.NodeTypeTransform, Name: id}
}

func loopNode(id string, cap int) *models.NodeSpec {
	n := node(id)
	n.Loop = true
	n.MaxIterations = cap

	return n
}

func edge(source, target string) *models.Edge {
	return &models.Edge{SourceID: source, TargetID: target}
}

func definition(nodes []*models.NodeSpec, edges []*models.Edge) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:     "wf-1",
		Name:   "workflow",
		Status: models.WorkflowStatusPublished,
		Nodes:  nodes,
		Edges:  edges,
	}
}

func TestValidateGraphAcceptsDiamond(t *testing.T) {
	def := definition(
		[]*models.NodeSpec{node("a"), node("b"), node("c"), node("d")},
		[]*models.Edge{edge("a", "b"), edge("a", "c"), edge("b", "d"), edge("c", "d")},
	)

	assert.NoError(t, def.ValidateGraph())
}

func TestValidateGraphRejectsDuplicateNodeIDs(t *testing.T) {
	def := definition([]*models.NodeSpec{node("a"), node("a")}, nil)

	assert.ErrorIs(t, def.ValidateGraph(), models.ErrDuplicateNodeID)
}

func TestValidateGraphRejectsDanglingEdges(t *testing.T) {
	def := definition([]*models.NodeSpec{node("a")}, []*models.Edge{edge("a", "ghost")})
	assert.ErrorIs(t, def.ValidateGraph(), models.ErrUnknownEdgeNode)

	def = definition([]*models.NodeSpec{node("a")}, []*models.Edge{edge("ghost", "a")})
	assert.ErrorIs(t, def.ValidateGraph(), models.ErrUnknownEdgeNode)
}

func TestValidateGraphRejectsNoEntry(t *testing.T) {
	// Two-node cycle: every node has an incoming edge.
	def := definition(
		[]*models.NodeSpec{node("a"), node("b")},
		[]*models.Edge{edge("a", "b"), edge("b", "a")},
	)

	assert.ErrorIs(t, def.ValidateGraph(), models.ErrNoEntryNode)
}

func TestValidateGraphRejectsUnreachableNode(t *testing.T) {
	// c only reaches itself, so no entry node reaches it.
	def := definition(
		[]*models.NodeSpec{node("a"), node("b"), node("c")},
		[]*models.Edge{edge("a", "b"), edge("c", "c")},
	)

	err := def.ValidateGraph()
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnreachableNode)
}

func TestValidateGraphCycleNeedsLoopNode(t *testing.T) {
	plain := definition(
		[]*models.NodeSpec{node("a"), node("b"), node("c")},
		[]*models.Edge{edge("a", "b"), edge("b", "c"), edge("c", "b")},
	)
	assert.ErrorIs(t, plain.ValidateGraph(), models.ErrCycleWithoutLoop)

	looped := definition(
		[]*models.NodeSpec{node("a"), loopNode("b", 3), node("c")},
		[]*models.Edge{edge("a", "b"), edge("b", "c"), edge("c", "b")},
	)
	assert.NoError(t, looped.ValidateGraph())
}

func TestEntryNodesKeepDeclarationOrder(t *testing.T) {
	def := definition(
		[]*models.NodeSpec{node("a"), node("b"), node("c")},
		[]*models.Edge{edge("a", "c"), edge("b", "c")},
	)

	entries := def.EntryNodes()
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].ID)
	assert.Equal(t, "b", entries[1].ID)
}

func TestEdgeHelpers(t *testing.T) {
	def := definition(
		[]*models.NodeSpec{node("a"), node("b"), node("c")},
		[]*models.Edge{edge("a", "b"), edge("a", "c"), edge("b", "c")},
	)

	assert.Len(t, def.OutgoingEdges("a"), 2)
	assert.Len(t, def.IncomingEdges("c"), 2)
	assert.Empty(t, def.IncomingEdges("a"))
	assert.Equal(t, "b", def.NodeByID("b").ID)
	assert.Nil(t, def.NodeByID("ghost"))
}
