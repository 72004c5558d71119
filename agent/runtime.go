// Package agent provides the per-stage agent runtime.
//
// A Runtime drives one agent through a bounded state machine per invocation:
//
//	Drafting:      the completion provider sees the agent's instructions, the
//	               session history, and the current input; it returns either
//	               a direct reply (-> Done) or tool-call requests
//	               (-> AwaitingTools).
//	AwaitingTools: each requested tool is routed through the registry; all
//	               results, successes and failures alike, are folded back
//	               into context (-> Drafting).
//	Done:          terminal; the final reply for this stage.
//	Failed:        terminal; the iteration cap was exceeded or the provider
//	               call failed.
//
// A hard cap on the Drafting/AwaitingTools cycle prevents infinite tool-call
// loops; exceeding it yields a WorkflowStalledError rather than looping
// forever.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xiaot623/flightcopilot/flightcopilot"
	"github.com/xiaot623/flightcopilot/tools"
)

// Config configures one agent runtime.
type Config struct {
	// Name identifies the agent in logs and errors.
	Name string

	// Instructions are the agent's standing instructions to the model.
	Instructions string

	// Tools is the subset of registry tool names this agent may call.
	Tools []string

	// MaxIterations caps the Drafting/AwaitingTools cycle. Default: 3.
	MaxIterations int

	// CompletionTimeout bounds each completion-provider call. Default: 60s.
	CompletionTimeout time.Duration

	// ToolTimeout bounds each tool-executor call. Default: 30s.
	ToolTimeout time.Duration

	// ToolRetries is the number of retries after a failed tool execution.
	// Default: 1; set to -1 to disable retries. Validation failures are
	// never retried.
	ToolRetries int
}

// applyDefaults fills zero-valued fields.
func (c *Config) applyDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 3
	}
	if c.CompletionTimeout <= 0 {
		c.CompletionTimeout = 60 * time.Second
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 30 * time.Second
	}
	if c.ToolRetries < 0 {
		c.ToolRetries = 0
	} else if c.ToolRetries == 0 {
		c.ToolRetries = 1
	}
}

// Output is the result of one stage execution: the final reply plus every
// tool invocation performed along the way.
type Output struct {
	Reply       string
	Invocations []*flightcopilot.ToolInvocation
	Iterations  int
}

// Runtime executes one agent stage against a completion provider and a tool
// registry.
type Runtime struct {
	cfg      Config
	provider flightcopilot.CompletionProvider
	registry *tools.Registry
	allowed  map[string]bool
	logger   *slog.Logger
}

// NewRuntime creates an agent runtime.
func NewRuntime(cfg Config, provider flightcopilot.CompletionProvider, registry *tools.Registry, logger *slog.Logger) (*Runtime, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("completion provider is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	allowed := make(map[string]bool, len(cfg.Tools))
	for _, name := range cfg.Tools {
		allowed[name] = true
	}

	return &Runtime{
		cfg:      cfg,
		provider: provider,
		registry: registry,
		allowed:  allowed,
		logger:   logger.With("agent", cfg.Name),
	}, nil
}

// Name returns the agent's identifier.
func (r *Runtime) Name() string { return r.cfg.Name }

// Run executes the stage: session history plus the current turn input in,
// final reply out. Tool invocations are bounded by the iteration cap.
func (r *Runtime) Run(ctx context.Context, history []*flightcopilot.Message, input *flightcopilot.Message) (*Output, error) {
	working := make([]*flightcopilot.Message, 0, len(history)+1)
	working = append(working, history...)
	if input != nil {
		working = append(working, input)
	}

	specs := r.registry.Specs(r.cfg.Tools)
	invocations := make([]*flightcopilot.ToolInvocation, 0)

	for iteration := 1; iteration <= r.cfg.MaxIterations; iteration++ {
		completion, err := r.complete(ctx, working, specs)
		if err != nil {
			return nil, fmt.Errorf("agent %s drafting failed: %w", r.cfg.Name, err)
		}

		if len(completion.ToolCalls) == 0 {
			return &Output{
				Reply:       completion.Text,
				Invocations: invocations,
				Iterations:  iteration,
			}, nil
		}

		for _, call := range completion.ToolCalls {
			inv := r.dispatch(ctx, call)
			invocations = append(invocations, inv)
			working = append(working, toolResultMessage(inv))
		}
	}

	return nil, &flightcopilot.WorkflowStalledError{
		Stage:      r.cfg.Name,
		Iterations: r.cfg.MaxIterations,
	}
}

// complete calls the provider under the configured timeout.
func (r *Runtime) complete(ctx context.Context, working []*flightcopilot.Message, specs []flightcopilot.ToolSpec) (*flightcopilot.Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CompletionTimeout)
	defer cancel()

	completion, err := r.provider.Complete(callCtx, r.cfg.Instructions, working, specs)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("completion provider timed out after %v: %w", r.cfg.CompletionTimeout, err)
		}
		return nil, err
	}
	return completion, nil
}

// dispatch routes one tool-call request through the registry, retrying
// execution failures per the configured retry budget. Requests for tools
// outside the agent's subset fail validation without reaching the registry
// executor path.
func (r *Runtime) dispatch(ctx context.Context, call flightcopilot.ToolCallRequest) *flightcopilot.ToolInvocation {
	if !r.allowed[call.ToolName] {
		err := &flightcopilot.ToolValidationError{
			Tool:   call.ToolName,
			Detail: fmt.Sprintf("tool not available to agent %s", r.cfg.Name),
		}
		return flightcopilot.NewToolInvocation(call.ToolName, call.Arguments).Fail(err.Error())
	}

	var inv *flightcopilot.ToolInvocation
	for attempt := 0; attempt <= r.cfg.ToolRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.ToolTimeout)
		var validationErr error
		inv, validationErr = r.registry.Invoke(callCtx, call.ToolName, call.Arguments)
		cancel()

		// Malformed arguments are corrected by the model, not retried here.
		if validationErr != nil {
			return inv
		}
		if inv.Status == flightcopilot.InvocationSucceeded {
			return inv
		}

		if attempt < r.cfg.ToolRetries {
			r.logger.Warn("tool execution failed, retrying",
				"tool", call.ToolName,
				"attempt", attempt+1,
				"error", inv.Error)
		}
	}

	r.logger.Warn("tool execution failed after retries",
		"tool", call.ToolName,
		"error", inv.Error)
	return inv
}

// toolResultMessage folds an invocation outcome back into agent context.
func toolResultMessage(inv *flightcopilot.ToolInvocation) *flightcopilot.Message {
	var content string
	switch inv.Status {
	case flightcopilot.InvocationSucceeded:
		payload, err := json.Marshal(inv.Result)
		if err != nil {
			payload = []byte(fmt.Sprintf("%v", inv.Result))
		}
		content = fmt.Sprintf("Tool %s returned: %s", inv.ToolName, payload)
	default:
		content = fmt.Sprintf("Tool %s failed: %s. If the failure persists, explain to the user that the request could not be completed.", inv.ToolName, inv.Error)
	}

	msg := flightcopilot.NewMessage(flightcopilot.RoleTool, content)
	msg.Invocation = inv
	return msg
}
