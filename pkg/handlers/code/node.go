// Package code provides the embedded code node type. Node configs carry a Go
// snippet interpreted with yaegi; the snippet declares a Handle function
// that receives the run's state view and returns the node output.
package code

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/protocol"
)

const handleFuncName = "Handle"

// handleFunc is the contract the snippet must satisfy.
type handleFunc = func(input map[string]any) (map[string]any, error)

type Node struct {
	id     string
	source string
}

func NewNode(id string, config map[string]any) (*Node, error) {
	source, _ := config["source"].(string)
	if source == "" {
		return nil, protocol.Fatalf("code node %s: missing 'source' in configuration", id)
	}

	return &Node{id: id, source: source}, nil
}

func (n *Node) Execute(ctx context.Context, execCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger.DebugContext(ctx, "Executing code node")

	handle, err := n.compile()
	if err != nil {
		return nil, err
	}

	input := map[string]any{
		"state":        execCtx.State,
		"trigger_data": execCtx.TriggerData,
		"variables":    execCtx.Variables,
		"run_id":       execCtx.RunID,
	}

	output, err := handle(input)
	if err != nil {
		return nil, fmt.Errorf("code node execution failed: %w", err)
	}

	return output, nil
}

// compile interprets the snippet fresh per attempt. Snippets are small and
// the interpreter is not safe for reuse across goroutines.
func (n *Node) compile() (handleFunc, error) {
	interpreter := interp.New(interp.Options{})

	if err := interpreter.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("loading interpreter symbols: %w", err)
	}

	if _, err := interpreter.Eval(n.source); err != nil {
		return nil, protocol.NewFatalError(fmt.Errorf("code node %s: interpreting source: %w", n.id, err))
	}

	value, err := interpreter.Eval(handleFuncName)
	if err != nil {
		return nil, protocol.NewFatalError(
			fmt.Errorf("code node %s: source must declare %s(map[string]any) (map[string]any, error): %w", n.id, handleFuncName, err))
	}

	handle, ok := value.Interface().(handleFunc)
	if !ok {
		return nil, protocol.Fatalf("code node %s: %s has signature %T, want func(map[string]any) (map[string]any, error)", n.id, handleFuncName, value.Interface())
	}

	return handle, nil
}
