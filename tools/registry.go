// Package tools provides the tool registry and the concrete flight-price and
// chart-generation tools.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/xiaot623/flightcopilot/flightcopilot"
)

// Registry maps tool names to executable capabilities with declared input
// schemas. The mapping is built once at startup and immutable afterwards;
// unknown names are rejected with a ToolValidationError rather than looked
// up dynamically.
type Registry struct {
	tools   map[string]flightcopilot.Tool
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]flightcopilot.Tool),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register adds a tool to the registry, compiling its declared schema.
func (r *Registry) Register(tool flightcopilot.Tool) error {
	if tool == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	if tool.Name() == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("tool '%s' is already registered", tool.Name())
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(tool.Schema()))
	if err != nil {
		return fmt.Errorf("tool '%s' has an invalid schema: %w", tool.Name(), err)
	}

	r.tools[tool.Name()] = tool
	r.schemas[tool.Name()] = schema
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (flightcopilot.Tool, bool) {
	tool, exists := r.tools[name]
	return tool, exists
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns the provider-facing descriptions of the named tools. Names
// not present in the registry are skipped.
func (r *Registry) Specs(names []string) []flightcopilot.ToolSpec {
	specs := make([]flightcopilot.ToolSpec, 0, len(names))
	for _, name := range names {
		tool, ok := r.tools[name]
		if !ok {
			continue
		}
		specs = append(specs, flightcopilot.ToolSpec{
			Name:        tool.Name(),
			Description: tool.Description(),
			Schema:      tool.Schema(),
		})
	}
	return specs
}

// Invoke validates arguments against the tool's declared schema and executes
// the tool. A schema mismatch or unknown name fails with a
// ToolValidationError and never reaches the executor. Executor failures
// (including panics) are caught and surfaced as a ToolExecutionError inside
// the returned invocation, never propagated as a process-level fault.
//
// Each invocation is independent; retries, if any, are a workflow policy.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]interface{}) (*flightcopilot.ToolInvocation, error) {
	inv := flightcopilot.NewToolInvocation(name, args)

	tool, exists := r.tools[name]
	if !exists {
		err := &flightcopilot.ToolValidationError{
			Tool:   name,
			Detail: fmt.Sprintf("unknown tool; available: %s", strings.Join(r.List(), ", ")),
		}
		inv.Fail(err.Error())
		return inv, err
	}

	if err := r.validate(name, args); err != nil {
		inv.Fail(err.Error())
		return inv, err
	}

	result, err := r.execute(ctx, tool, inv.Arguments)
	if err != nil {
		execErr := &flightcopilot.ToolExecutionError{Tool: name, Detail: err.Error(), Cause: err}
		inv.Fail(execErr.Error())
		return inv, nil
	}

	inv.Succeed(result)
	return inv, nil
}

// validate checks arguments against the compiled schema for the named tool.
func (r *Registry) validate(name string, args map[string]interface{}) error {
	if args == nil {
		args = map[string]interface{}{}
	}
	result, err := r.schemas[name].Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return &flightcopilot.ToolValidationError{Tool: name, Detail: err.Error()}
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			details = append(details, re.String())
		}
		return &flightcopilot.ToolValidationError{Tool: name, Detail: strings.Join(details, "; ")}
	}
	return nil
}

// execute runs the tool, converting panics into errors so a single failing
// tool cannot crash the enclosing workflow.
func (r *Registry) execute(ctx context.Context, tool flightcopilot.Tool, args map[string]interface{}) (result interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("executor panic: %v", rec)
		}
	}()
	return tool.Execute(ctx, args)
}
