// Package workflow orchestrates a fixed pipeline of agent stages for one
// user turn.
//
// Control flow per turn: security gate, load prior history, persist the
// sanitized user message, run each stage in order (later stages gated by
// deterministic predicates over the previous stage's output), persist each
// agent reply as it completes, return the final reply.
//
// Turns on one session are strictly serialized by a session-scoped lock so
// message ordering is preserved; sessions never share state and run
// concurrently without contention.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/xiaot623/flightcopilot/agent"
	"github.com/xiaot623/flightcopilot/flightcopilot"
	"github.com/xiaot623/flightcopilot/observability"
	"github.com/xiaot623/flightcopilot/security"
	"github.com/xiaot623/flightcopilot/store"
)

// Trigger decides whether a stage runs, given the previous stage's persisted
// message. Triggers must be pure predicates over the message; branching is
// never delegated to a model.
type Trigger func(prev *flightcopilot.Message) bool

// Stage is one agent execution slot in the pipeline.
type Stage struct {
	Runtime *agent.Runtime

	// Trigger gates the stage; nil means the stage always runs.
	Trigger Trigger
}

// Config configures the workflow engine. All collaborators are passed
// explicitly; the engine keeps no process-wide state.
type Config struct {
	Security *security.Middleware
	Store    store.ConversationStore
	Stages   []Stage

	// Audit receives one record per rejected, failed, or completed turn.
	// Optional.
	Audit *observability.AuditLog

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Tracer defaults to a no-op tracer.
	Tracer trace.Tracer
}

// TurnResult is the successful outcome of one turn.
type TurnResult struct {
	SessionID string
	Reply     string

	// Messages are the messages persisted during this turn, in order.
	Messages []*flightcopilot.Message
}

// Engine coordinates security screening, persistence, and the staged agent
// pipeline for one user turn at a time per session.
type Engine struct {
	gate   *security.Middleware
	store  store.ConversationStore
	stages []Stage
	audit  *observability.AuditLog
	logger *slog.Logger
	tracer trace.Tracer

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a workflow engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Security == nil {
		return nil, fmt.Errorf("security middleware is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("conversation store is required")
	}
	if len(cfg.Stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}
	for i, stage := range cfg.Stages {
		if stage.Runtime == nil {
			return nil, fmt.Errorf("stage %d has no runtime", i)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("workflow")
	}

	return &Engine{
		gate:   cfg.Security,
		store:  cfg.Store,
		stages: cfg.Stages,
		audit:  cfg.Audit,
		logger: cfg.Logger,
		tracer: cfg.Tracer,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// HandleTurn processes one inbound user turn and returns the final reply.
//
// Every failure mode resolves to a returned error for the current turn only;
// nothing here terminates the process. A rejected input produces an
// InputRejectedError before any persistence or agent call. Partial progress
// already persisted when a later stage fails remains durable; retrying the
// turn is safe because appends are idempotent by sequence number.
func (e *Engine) HandleTurn(ctx context.Context, sessionID, rawText string) (*TurnResult, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.handle_turn",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	verdict := e.gate.Evaluate(rawText)
	if !verdict.Admitted {
		return nil, e.reject(ctx, sessionID, verdict)
	}

	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	history, err := e.store.Read(ctx, sessionID)
	if err != nil {
		span.SetStatus(codes.Error, "history read failed")
		return nil, e.fail(sessionID, err)
	}

	lastSeq := int64(0)
	if n := len(history); n > 0 {
		lastSeq = history[n-1].Seq
	}

	// A retried turn finds its own user message already durable when the
	// previous attempt failed mid-pipeline; reuse it instead of appending a
	// duplicate.
	var userMsg *flightcopilot.Message
	if n := len(history); n > 0 && history[n-1].Role == flightcopilot.RoleUser && history[n-1].Content == verdict.SanitizedText {
		userMsg = history[n-1]
	} else {
		userMsg = flightcopilot.NewMessage(flightcopilot.RoleUser, verdict.SanitizedText)
		userMsg.Seq = lastSeq + 1
		if _, err := e.store.Append(ctx, sessionID, userMsg); err != nil {
			span.SetStatus(codes.Error, "user message append failed")
			return nil, e.fail(sessionID, err)
		}
		history = append(history, userMsg)
	}
	lastSeq = userMsg.Seq
	persisted := []*flightcopilot.Message{userMsg}

	prev := userMsg
	reply := ""
	for i, stage := range e.stages {
		select {
		case <-ctx.Done():
			span.SetStatus(codes.Error, "turn cancelled")
			return nil, e.fail(sessionID, fmt.Errorf("turn cancelled at stage %d: %w", i, ctx.Err()))
		default:
		}

		if stage.Trigger != nil && !stage.Trigger(prev) {
			e.logger.Debug("stage skipped by trigger",
				"session_id", sessionID,
				"stage", stage.Runtime.Name())
			continue
		}

		out, err := e.runStage(ctx, stage, history)
		if err != nil {
			span.SetStatus(codes.Error, "stage failed")
			return nil, e.fail(sessionID, err)
		}

		agentMsg := flightcopilot.NewMessage(flightcopilot.RoleAgent, out.Reply)
		agentMsg.WithMetadata("stage", stage.Runtime.Name())
		if len(out.Invocations) > 0 {
			agentMsg.Invocation = out.Invocations[len(out.Invocations)-1]
		}
		agentMsg.Seq = lastSeq + 1
		if _, err := e.store.Append(ctx, sessionID, agentMsg); err != nil {
			span.SetStatus(codes.Error, "agent message append failed")
			return nil, e.fail(sessionID, err)
		}
		lastSeq = agentMsg.Seq
		history = append(history, agentMsg)
		persisted = append(persisted, agentMsg)

		prev = agentMsg
		reply = out.Reply
	}

	if e.audit != nil {
		_ = e.audit.Record(observability.NewAuditEvent(observability.TurnCompleted, sessionID))
	}
	e.logger.InfoContext(ctx, "turn completed",
		"session_id", sessionID,
		"messages", len(persisted))
	return &TurnResult{
		SessionID: sessionID,
		Reply:     reply,
		Messages:  persisted,
	}, nil
}

// runStage executes one stage under its own span.
func (e *Engine) runStage(ctx context.Context, stage Stage, history []*flightcopilot.Message) (*agent.Output, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.stage",
		trace.WithAttributes(attribute.String("stage.name", stage.Runtime.Name())))
	defer span.End()

	out, err := stage.Runtime.Run(ctx, history, nil)
	if err != nil {
		var stalled *flightcopilot.WorkflowStalledError
		if errors.As(err, &stalled) {
			return nil, err
		}
		return nil, fmt.Errorf("stage %s failed: %w", stage.Runtime.Name(), err)
	}
	return out, nil
}

// reject records the security rejection. No persistence or agent calls
// happen for a rejected turn; the audit record is the only side effect.
func (e *Engine) reject(ctx context.Context, sessionID string, verdict security.Verdict) error {
	if e.audit != nil {
		event := observability.NewAuditEvent(observability.InputRejected, sessionID)
		event.Message = verdict.Reason
		event.Details["matched_patterns"] = len(verdict.MatchedPatterns)
		_ = e.audit.Record(event)
	}
	e.logger.WarnContext(ctx, "input rejected",
		"session_id", sessionID,
		"reason", verdict.Reason)

	return &flightcopilot.InputRejectedError{
		Reason:  verdict.Reason,
		Message: rejectionMessage(verdict.Reason),
	}
}

// fail records a post-admission turn failure.
func (e *Engine) fail(sessionID string, err error) error {
	if e.audit != nil {
		event := observability.NewAuditEvent(observability.TurnFailed, sessionID)
		event.Message = string(flightcopilot.ErrorCodeOf(err))
		_ = e.audit.Record(event)
	}
	e.logger.Error("turn failed",
		"session_id", sessionID,
		"code", flightcopilot.ErrorCodeOf(err),
		"error", err)
	return err
}

// sessionLock returns the serialization point for one session.
func (e *Engine) sessionLock(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[sessionID] = lock
	}
	return lock
}

func rejectionMessage(reason string) string {
	switch reason {
	case security.ReasonEmptyInput:
		return "The message is empty."
	case security.ReasonInputTooLong:
		return "The message exceeds the maximum accepted length."
	case security.ReasonInjection:
		return "The message was flagged by the input screening policy."
	default:
		return "The message was not accepted."
	}
}
