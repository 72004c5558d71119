package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xiaot623/flightcopilot/flightcopilot"
	"github.com/xiaot623/flightcopilot/tools"
)

// scriptedProvider replays a fixed sequence of completions and records the
// history it was shown on each call. When the script runs out it repeats the
// last entry, which keeps loop-cap tests bounded.
type scriptedProvider struct {
	mu        sync.Mutex
	script    []*flightcopilot.Completion
	err       error
	calls     int
	histories [][]*flightcopilot.Message
}

func (p *scriptedProvider) Complete(_ context.Context, _ string, history []*flightcopilot.Message, _ []flightcopilot.ToolSpec) (*flightcopilot.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := make([]*flightcopilot.Message, len(history))
	copy(snapshot, history)
	p.histories = append(p.histories, snapshot)
	p.calls++

	if p.err != nil {
		return nil, p.err
	}
	idx := p.calls - 1
	if idx >= len(p.script) {
		idx = len(p.script) - 1
	}
	return p.script[idx], nil
}

func (p *scriptedProvider) Model() string { return "scripted" }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// countingTool succeeds after failing a configured number of times.
type countingTool struct {
	failures int
	calls    int
}

func (c *countingTool) Name() string        { return "counting" }
func (c *countingTool) Description() string { return "fails then succeeds" }
func (c *countingTool) Schema() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}

func (c *countingTool) Execute(context.Context, map[string]interface{}) (interface{}, error) {
	c.calls++
	if c.calls <= c.failures {
		return nil, fmt.Errorf("transient failure %d", c.calls)
	}
	return map[string]interface{}{"status": "ok"}, nil
}

func newTestRegistry(t *testing.T, extra ...flightcopilot.Tool) *tools.Registry {
	t.Helper()
	registry := tools.NewRegistry()
	if err := registry.Register(tools.NewFlightPriceTool()); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	for _, tool := range extra {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("Register() error: %v", err)
		}
	}
	return registry
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(new(strings.Builder), &slog.HandlerOptions{Level: slog.LevelError}))
}

func userTurn(content string) []*flightcopilot.Message {
	return []*flightcopilot.Message{flightcopilot.NewMessage(flightcopilot.RoleUser, content)}
}

func TestRunDirectReply(t *testing.T) {
	provider := &scriptedProvider{script: []*flightcopilot.Completion{
		{Text: "No flights needed, happy to help anyway."},
	}}
	rt, err := NewRuntime(Config{
		Name:  "flight",
		Tools: []string{tools.FlightPriceToolName},
	}, provider, newTestRegistry(t), testLogger())
	if err != nil {
		t.Fatalf("NewRuntime() error: %v", err)
	}

	out, err := rt.Run(context.Background(), userTurn("hello"), nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out.Reply != "No flights needed, happy to help anyway." {
		t.Errorf("unexpected reply: %q", out.Reply)
	}
	if len(out.Invocations) != 0 {
		t.Errorf("expected no invocations, got %d", len(out.Invocations))
	}
	if out.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", out.Iterations)
	}
}

func TestRunToolCallThenReply(t *testing.T) {
	provider := &scriptedProvider{script: []*flightcopilot.Completion{
		{ToolCalls: []flightcopilot.ToolCallRequest{{
			ToolName:  tools.FlightPriceToolName,
			Arguments: map[string]interface{}{"origin": "Beijing", "destination": "Tokyo"},
		}}},
		{Text: `{"departure":"Beijing","destination":"Tokyo","price":350,"currency":"USD"}`},
	}}
	rt, err := NewRuntime(Config{
		Name:  "flight",
		Tools: []string{tools.FlightPriceToolName},
	}, provider, newTestRegistry(t), testLogger())
	if err != nil {
		t.Fatalf("NewRuntime() error: %v", err)
	}

	out, err := rt.Run(context.Background(), userTurn("Check flight price from Beijing to Tokyo"), nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(out.Invocations) != 1 {
		t.Fatalf("invocations = %d, want 1", len(out.Invocations))
	}
	inv := out.Invocations[0]
	if inv.Status != flightcopilot.InvocationSucceeded {
		t.Fatalf("invocation status = %s, want succeeded", inv.Status)
	}
	if inv.Arguments["origin"] != "Beijing" || inv.Arguments["destination"] != "Tokyo" {
		t.Errorf("invocation arguments = %v", inv.Arguments)
	}

	// The second completion call must see the tool result folded into context.
	if provider.callCount() != 2 {
		t.Fatalf("provider calls = %d, want 2", provider.callCount())
	}
	second := provider.histories[1]
	last := second[len(second)-1]
	if last.Role != flightcopilot.RoleTool {
		t.Fatalf("last context message role = %s, want tool", last.Role)
	}
	if !strings.Contains(last.Content, "Air China") {
		t.Errorf("tool result not folded into context: %q", last.Content)
	}
	if out.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", out.Iterations)
	}
}

func TestRunStallsAtIterationCap(t *testing.T) {
	// The provider keeps asking for the same tool forever.
	provider := &scriptedProvider{script: []*flightcopilot.Completion{
		{ToolCalls: []flightcopilot.ToolCallRequest{{
			ToolName:  tools.FlightPriceToolName,
			Arguments: map[string]interface{}{"origin": "Beijing", "destination": "Tokyo"},
		}}},
	}}
	rt, err := NewRuntime(Config{
		Name:          "flight",
		Tools:         []string{tools.FlightPriceToolName},
		MaxIterations: 3,
	}, provider, newTestRegistry(t), testLogger())
	if err != nil {
		t.Fatalf("NewRuntime() error: %v", err)
	}

	_, err = rt.Run(context.Background(), userTurn("loop forever"), nil)
	var stalled *flightcopilot.WorkflowStalledError
	if !errors.As(err, &stalled) {
		t.Fatalf("expected WorkflowStalledError, got %v", err)
	}
	if stalled.Stage != "flight" || stalled.Iterations != 3 {
		t.Errorf("stalled = %+v", stalled)
	}
	if provider.callCount() != 3 {
		t.Errorf("provider calls = %d, want exactly the cap", provider.callCount())
	}
}

func TestRunRetriesToolExecutionOnce(t *testing.T) {
	tool := &countingTool{failures: 1}
	provider := &scriptedProvider{script: []*flightcopilot.Completion{
		{ToolCalls: []flightcopilot.ToolCallRequest{{ToolName: "counting"}}},
		{Text: "done"},
	}}
	rt, err := NewRuntime(Config{
		Name:  "worker",
		Tools: []string{"counting"},
	}, provider, newTestRegistry(t, tool), testLogger())
	if err != nil {
		t.Fatalf("NewRuntime() error: %v", err)
	}

	out, err := rt.Run(context.Background(), userTurn("go"), nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if tool.calls != 2 {
		t.Errorf("executor calls = %d, want 2 (one retry)", tool.calls)
	}
	if len(out.Invocations) != 1 || out.Invocations[0].Status != flightcopilot.InvocationSucceeded {
		t.Errorf("invocation did not recover on retry: %+v", out.Invocations)
	}
}

func TestRunFoldsPersistentToolFailure(t *testing.T) {
	tool := &countingTool{failures: 10}
	provider := &scriptedProvider{script: []*flightcopilot.Completion{
		{ToolCalls: []flightcopilot.ToolCallRequest{{ToolName: "counting"}}},
		{Text: "Sorry, the request could not be completed."},
	}}
	rt, err := NewRuntime(Config{
		Name:  "worker",
		Tools: []string{"counting"},
	}, provider, newTestRegistry(t, tool), testLogger())
	if err != nil {
		t.Fatalf("NewRuntime() error: %v", err)
	}

	out, err := rt.Run(context.Background(), userTurn("go"), nil)
	if err != nil {
		t.Fatalf("a failing tool must not fail the stage, got %v", err)
	}
	if tool.calls != 2 {
		t.Errorf("executor calls = %d, want 2 (initial plus one retry)", tool.calls)
	}
	if out.Invocations[0].Status != flightcopilot.InvocationFailed {
		t.Errorf("invocation status = %s, want failed", out.Invocations[0].Status)
	}

	second := provider.histories[1]
	last := second[len(second)-1]
	if !strings.Contains(last.Content, "could not be completed") {
		t.Errorf("failure guidance not folded into context: %q", last.Content)
	}
}

func TestRunRetriesDisabled(t *testing.T) {
	tool := &countingTool{failures: 10}
	provider := &scriptedProvider{script: []*flightcopilot.Completion{
		{ToolCalls: []flightcopilot.ToolCallRequest{{ToolName: "counting"}}},
		{Text: "done"},
	}}
	rt, err := NewRuntime(Config{
		Name:        "worker",
		Tools:       []string{"counting"},
		ToolRetries: -1,
	}, provider, newTestRegistry(t, tool), testLogger())
	if err != nil {
		t.Fatalf("NewRuntime() error: %v", err)
	}

	if _, err := rt.Run(context.Background(), userTurn("go"), nil); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if tool.calls != 1 {
		t.Errorf("executor calls = %d, want 1 with retries disabled", tool.calls)
	}
}

func TestRunValidationFailureNotRetried(t *testing.T) {
	tool := &countingTool{}
	provider := &scriptedProvider{script: []*flightcopilot.Completion{
		// Flight tool requires origin and destination; this call is malformed.
		{ToolCalls: []flightcopilot.ToolCallRequest{{
			ToolName:  tools.FlightPriceToolName,
			Arguments: map[string]interface{}{"origin": "Beijing"},
		}}},
		{Text: "done"},
	}}
	rt, err := NewRuntime(Config{
		Name:  "flight",
		Tools: []string{tools.FlightPriceToolName},
	}, provider, newTestRegistry(t, tool), testLogger())
	if err != nil {
		t.Fatalf("NewRuntime() error: %v", err)
	}

	out, err := rt.Run(context.Background(), userTurn("go"), nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out.Invocations[0].Status != flightcopilot.InvocationFailed {
		t.Errorf("invocation status = %s, want failed", out.Invocations[0].Status)
	}
	if !strings.Contains(out.Invocations[0].Error, "validation") {
		t.Errorf("invocation error should describe validation, got %q", out.Invocations[0].Error)
	}
}

func TestRunRejectsToolOutsideAgentSubset(t *testing.T) {
	tool := &countingTool{}
	provider := &scriptedProvider{script: []*flightcopilot.Completion{
		{ToolCalls: []flightcopilot.ToolCallRequest{{ToolName: "counting"}}},
		{Text: "done"},
	}}
	// The agent's subset only includes the flight tool.
	rt, err := NewRuntime(Config{
		Name:  "flight",
		Tools: []string{tools.FlightPriceToolName},
	}, provider, newTestRegistry(t, tool), testLogger())
	if err != nil {
		t.Fatalf("NewRuntime() error: %v", err)
	}

	out, err := rt.Run(context.Background(), userTurn("go"), nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if tool.calls != 0 {
		t.Errorf("executor ran %d times for a disallowed tool", tool.calls)
	}
	if out.Invocations[0].Status != flightcopilot.InvocationFailed {
		t.Errorf("invocation status = %s, want failed", out.Invocations[0].Status)
	}
	if !strings.Contains(out.Invocations[0].Error, "not available") {
		t.Errorf("invocation error = %q", out.Invocations[0].Error)
	}
}

// blockingProvider never answers; it waits for its call context to end.
type blockingProvider struct{}

func (p *blockingProvider) Complete(ctx context.Context, _ string, _ []*flightcopilot.Message, _ []flightcopilot.ToolSpec) (*flightcopilot.Completion, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (p *blockingProvider) Model() string { return "blocking" }

// blockingTool never returns a result; it waits for its call context to end.
type blockingTool struct{}

func (b *blockingTool) Name() string        { return "blocking" }
func (b *blockingTool) Description() string { return "never finishes" }
func (b *blockingTool) Schema() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}

func (b *blockingTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunCompletionTimeoutFailsStage(t *testing.T) {
	rt, err := NewRuntime(Config{
		Name:              "flight",
		Tools:             []string{tools.FlightPriceToolName},
		CompletionTimeout: 50 * time.Millisecond,
	}, &blockingProvider{}, newTestRegistry(t), testLogger())
	if err != nil {
		t.Fatalf("NewRuntime() error: %v", err)
	}

	start := time.Now()
	_, err = rt.Run(context.Background(), userTurn("hello"), nil)
	if err == nil {
		t.Fatal("expected a timeout failure, got success")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error should carry the deadline cause, got %v", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error should describe the timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("runtime hung for %v instead of honoring the deadline", elapsed)
	}
}

func TestRunToolTimeoutFoldsFailure(t *testing.T) {
	provider := &scriptedProvider{script: []*flightcopilot.Completion{
		{ToolCalls: []flightcopilot.ToolCallRequest{{ToolName: "blocking"}}},
		{Text: "Sorry, the request could not be completed."},
	}}
	rt, err := NewRuntime(Config{
		Name:        "worker",
		Tools:       []string{"blocking"},
		ToolTimeout: 50 * time.Millisecond,
		ToolRetries: -1,
	}, provider, newTestRegistry(t, &blockingTool{}), testLogger())
	if err != nil {
		t.Fatalf("NewRuntime() error: %v", err)
	}

	start := time.Now()
	out, err := rt.Run(context.Background(), userTurn("go"), nil)
	if err != nil {
		t.Fatalf("a timed-out tool must not fail the stage, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("runtime hung for %v instead of honoring the tool deadline", elapsed)
	}
	if len(out.Invocations) != 1 || out.Invocations[0].Status != flightcopilot.InvocationFailed {
		t.Fatalf("invocations = %+v, want one failed", out.Invocations)
	}
	if !strings.Contains(out.Invocations[0].Error, "context deadline exceeded") {
		t.Errorf("invocation error = %q", out.Invocations[0].Error)
	}
}

func TestRunHonorsCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rt, err := NewRuntime(Config{
		Name:  "flight",
		Tools: []string{tools.FlightPriceToolName},
	}, &blockingProvider{}, newTestRegistry(t), testLogger())
	if err != nil {
		t.Fatalf("NewRuntime() error: %v", err)
	}

	_, err = rt.Run(ctx, userTurn("hello"), nil)
	if err == nil {
		t.Fatal("expected failure with a cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error should carry the cancellation cause, got %v", err)
	}
}

func TestRunProviderError(t *testing.T) {
	provider := &scriptedProvider{err: fmt.Errorf("model unavailable")}
	rt, err := NewRuntime(Config{
		Name:  "flight",
		Tools: []string{tools.FlightPriceToolName},
	}, provider, newTestRegistry(t), testLogger())
	if err != nil {
		t.Fatalf("NewRuntime() error: %v", err)
	}

	_, err = rt.Run(context.Background(), userTurn("go"), nil)
	if err == nil || !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected provider error to propagate, got %v", err)
	}
}

func TestNewRuntimeValidation(t *testing.T) {
	registry := newTestRegistry(t)
	provider := &scriptedProvider{}

	if _, err := NewRuntime(Config{}, provider, registry, testLogger()); err == nil {
		t.Error("expected error for missing name")
	}
	if _, err := NewRuntime(Config{Name: "a"}, nil, registry, testLogger()); err == nil {
		t.Error("expected error for missing provider")
	}
	if _, err := NewRuntime(Config{Name: "a"}, provider, nil, testLogger()); err == nil {
		t.Error("expected error for missing registry")
	}
}
