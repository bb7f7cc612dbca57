package registry

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"

	"github.com/orchid-run/orchid/pkg/models"
)

// ErrUnknownNodeType indicates a definition references an unregistered type.
var ErrUnknownNodeType = errors.New("unknown node type")

// ValidationError marks definition problems rejected at publish time so they
// never reach execution.
type ValidationError struct {
	NodeID string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("workflow validation failed at node %s: %v", e.NodeID, e.Err)
	}

	return fmt.Sprintf("workflow validation failed: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidationError checks whether an error is a publish-time rejection.
func IsValidationError(err error) bool {
	var validationErr *ValidationError

	return errors.As(err, &validationErr)
}

// ValidateWorkflow performs the full publish-time validation: struct tags,
// graph structure, registered node types, and per-node config against the
// factory's JSON schema. Execution assumes a definition that passed here.
func (r *Registry) ValidateWorkflow(validate *validator.Validate, workflow *models.WorkflowDefinition) error {
	if err := validate.Struct(workflow); err != nil {
		return &ValidationError{Err: err}
	}

	if err := workflow.ValidateGraph(); err != nil {
		return &ValidationError{Err: err}
	}

	for _, node := range workflow.Nodes {
		factory, ok := r.nodeFactories[node.Type]
		if !ok {
			return &ValidationError{NodeID: node.ID, Err: fmt.Errorf("%w: %s", ErrUnknownNodeType, node.Type)}
		}

		if err := validateConfig(factory.Schema(), node.Config); err != nil {
			return &ValidationError{NodeID: node.ID, Err: err}
		}
	}

	return nil
}

func validateConfig(schema map[string]any, config map[string]any) error {
	if schema == nil {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return fmt.Errorf("failed to validate node config: %w", err)
	}

	if !result.Valid() {
		var detail string

		for _, desc := range result.Errors() {
			if detail != "" {
				detail += "; "
			}

			detail += desc.String()
		}

		return fmt.Errorf("node config does not match schema: %s", detail)
	}

	return nil
}
