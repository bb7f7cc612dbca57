// Package models defines the core domain models for workflow orchestration.
package models

import (
	"errors"
	"fmt"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft     WorkflowStatus = "draft"     // Editable, not executable
	WorkflowStatusPublished WorkflowStatus = "published" // Active, executable
	WorkflowStatusArchived  WorkflowStatus = "archived"  // Historical, not executable
)

// Edge connects two nodes in a workflow graph. Guard, when present, is a
// template expression over run state that must evaluate to true for the
// target node to become ready through this edge.
type Edge struct {
	SourceID string `json:"source_id" validate:"required"`
	TargetID string `json:"target_id" validate:"required"`
	Guard    string `json:"guard,omitempty"`
}

// WorkflowDefinition is the immutable description of a directed graph of
// typed nodes. It is authored externally and read-only at execution time:
// the engine never mutates a published definition.
type WorkflowDefinition struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"        validate:"required,min=3"`
	Description string         `json:"description"`
	Status      WorkflowStatus `json:"status"      validate:"required"`
	Nodes       []*NodeSpec    `json:"nodes"       validate:"required,min=1,dive"`
	Edges       []*Edge        `json:"edges"       validate:"dive"`
	Variables   map[string]any `json:"variables,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Owner       string         `json:"owner"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
}

var (
	// ErrDuplicateNodeID indicates two nodes in a definition share an ID.
	ErrDuplicateNodeID = errors.New("duplicate node id")

	// ErrUnknownEdgeNode indicates an edge references an undeclared node.
	ErrUnknownEdgeNode = errors.New("edge references unknown node")

	// ErrNoEntryNode indicates no node is reachable as an entry point.
	ErrNoEntryNode = errors.New("workflow has no entry node")

	// ErrUnreachableNode indicates a node cannot be reached from any entry node.
	ErrUnreachableNode = errors.New("node is unreachable from entry nodes")

	// ErrCycleWithoutLoop indicates a graph cycle with no loop-capable node.
	ErrCycleWithoutLoop = errors.New("cycle contains no loop-capable node")
)

// NodeByID returns the node with the given ID, or nil when absent.
func (w *WorkflowDefinition) NodeByID(id string) *NodeSpec {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// IncomingEdges returns all edges whose target is the given node.
func (w *WorkflowDefinition) IncomingEdges(nodeID string) []*Edge {
	var edges []*Edge

	for _, edge := range w.Edges {
		if edge.TargetID == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// OutgoingEdges returns all edges whose source is the given node.
func (w *WorkflowDefinition) OutgoingEdges(nodeID string) []*Edge {
	var edges []*Edge

	for _, edge := range w.Edges {
		if edge.SourceID == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// EntryNodes returns nodes with no incoming edge, in declaration order.
// A fresh run starts with these nodes ready.
func (w *WorkflowDefinition) EntryNodes() []*NodeSpec {
	incoming := make(map[string]int, len(w.Nodes))
	for _, edge := range w.Edges {
		incoming[edge.TargetID]++
	}

	var entries []*NodeSpec

	for _, node := range w.Nodes {
		if incoming[node.ID] == 0 {
			entries = append(entries, node)
		}
	}

	return entries
}

// ValidateGraph performs the structural checks that must hold before a
// definition can be published: unique node IDs, edges referencing declared
// nodes, at least one entry node, full reachability, and acyclicity except
// through loop-capable nodes with a bounded iteration cap.
func (w *WorkflowDefinition) ValidateGraph() error {
	seen := make(map[string]*NodeSpec, len(w.Nodes))

	for _, node := range w.Nodes {
		if _, exists := seen[node.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateNodeID, node.ID)
		}

		seen[node.ID] = node
	}

	for _, edge := range w.Edges {
		if _, ok := seen[edge.SourceID]; !ok {
			return fmt.Errorf("%w: source %s", ErrUnknownEdgeNode, edge.SourceID)
		}

		if _, ok := seen[edge.TargetID]; !ok {
			return fmt.Errorf("%w: target %s", ErrUnknownEdgeNode, edge.TargetID)
		}
	}

	entries := w.EntryNodes()
	if len(entries) == 0 {
		return ErrNoEntryNode
	}

	if err := w.checkReachability(entries); err != nil {
		return err
	}

	return w.checkCycles()
}

func (w *WorkflowDefinition) checkReachability(entries []*NodeSpec) error {
	reached := make(map[string]bool, len(w.Nodes))

	var visit func(id string)
	visit = func(id string) {
		if reached[id] {
			return
		}

		reached[id] = true

		for _, edge := range w.OutgoingEdges(id) {
			visit(edge.TargetID)
		}
	}

	for _, entry := range entries {
		visit(entry.ID)
	}

	for _, node := range w.Nodes {
		if !reached[node.ID] {
			return fmt.Errorf("%w: %s", ErrUnreachableNode, node.ID)
		}
	}

	return nil
}

// checkCycles rejects cycles unless at least one node on the cycle is
// loop-capable with an iteration cap. The scheduler unrolls such loops into
// bounded iterations, so the executed graph stays acyclic.
func (w *WorkflowDefinition) checkCycles() error {
	const (
		white = 0
		grey  = 1
		black = 2
	)

	color := make(map[string]int, len(w.Nodes))
	stack := make([]string, 0, len(w.Nodes))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = grey
		stack = append(stack, id)

		for _, edge := range w.OutgoingEdges(id) {
			switch color[edge.TargetID] {
			case white:
				if err := visit(edge.TargetID); err != nil {
					return err
				}
			case grey:
				if !w.cycleHasLoopNode(stack, edge.TargetID) {
					return fmt.Errorf("%w: via %s -> %s", ErrCycleWithoutLoop, id, edge.TargetID)
				}
			}
		}

		color[id] = black
		stack = stack[:len(stack)-1]

		return nil
	}

	for _, node := range w.Nodes {
		if color[node.ID] == white {
			if err := visit(node.ID); err != nil {
				return err
			}
		}
	}

	return nil
}

func (w *WorkflowDefinition) cycleHasLoopNode(stack []string, backEdgeTarget string) bool {
	start := -1

	for i, id := range stack {
		if id == backEdgeTarget {
			start = i

			break
		}
	}

	if start < 0 {
		return false
	}

	for _, id := range stack[start:] {
		node := w.NodeByID(id)
		if node != nil && node.Loop && node.MaxIterations > 0 {
			return true
		}
	}

	return false
}
