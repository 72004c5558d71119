// Package flightcopilot provides the core types and contracts shared by the
// flight copilot workflow: messages, sessions, tool invocations, and the
// completion-provider seam to the underlying language model.
package flightcopilot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser   = "user"
	RoleAgent  = "agent"
	RoleTool   = "tool"
	RoleSystem = "system"
)

// Message is one entry in a session's conversation history.
//
// Seq is the per-session sequence number assigned by the conversation store.
// A Seq of zero means the message has not been persisted yet.
type Message struct {
	Role       string                 `json:"role"`
	Content    string                 `json:"content"`
	Seq        int64                  `json:"seq,omitempty"`
	Invocation *ToolInvocation        `json:"invocation,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// NewMessage creates a new message with the given role and content.
func NewMessage(role, content string) *Message {
	return &Message{
		Role:      role,
		Content:   content,
		Metadata:  make(map[string]interface{}),
		Timestamp: time.Now().UTC(),
	}
}

// WithMetadata adds metadata to the message and returns the message for chaining.
func (m *Message) WithMetadata(key string, value interface{}) *Message {
	if m.Metadata == nil {
		m.Metadata = make(map[string]interface{})
	}
	m.Metadata[key] = value
	return m
}

// Validate checks the message against the role and size constraints enforced
// before persistence.
func (m *Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleAgent, RoleTool, RoleSystem:
	case "":
		return fmt.Errorf("message role cannot be empty")
	default:
		return fmt.Errorf("invalid message role: %s. Must be one of: user, agent, tool, system", m.Role)
	}

	const maxContentSize = 1024 * 1024
	if len(m.Content) > maxContentSize {
		return fmt.Errorf("message content exceeds maximum size of %d bytes (got %d bytes)", maxContentSize, len(m.Content))
	}
	return nil
}

// InvocationStatus is the lifecycle state of a tool invocation.
type InvocationStatus string

const (
	InvocationPending   InvocationStatus = "pending"
	InvocationSucceeded InvocationStatus = "succeeded"
	InvocationFailed    InvocationStatus = "failed"
)

// ToolInvocation records a single tool call: its arguments, terminal status,
// and either a result payload or an error detail. An invocation is terminal
// once Status leaves InvocationPending.
type ToolInvocation struct {
	ID        string                 `json:"id"`
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
	Status    InvocationStatus       `json:"status"`
	Result    interface{}            `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// NewToolInvocation creates a pending invocation for the given tool.
func NewToolInvocation(toolName string, args map[string]interface{}) *ToolInvocation {
	if args == nil {
		args = make(map[string]interface{})
	}
	return &ToolInvocation{
		ID:        uuid.NewString(),
		ToolName:  toolName,
		Arguments: args,
		Status:    InvocationPending,
	}
}

// Succeed marks the invocation succeeded with the given result payload.
func (inv *ToolInvocation) Succeed(result interface{}) *ToolInvocation {
	inv.Status = InvocationSucceeded
	inv.Result = result
	return inv
}

// Fail marks the invocation failed with the given error detail.
func (inv *ToolInvocation) Fail(detail string) *ToolInvocation {
	inv.Status = InvocationFailed
	inv.Error = detail
	return inv
}

// Session is an ordered conversation history keyed by an opaque identifier.
// Message order is strictly chronological; messages are never reordered or
// deleted within a live session.
type Session struct {
	ID        string     `json:"id"`
	Messages  []*Message `json:"messages"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewSessionID generates an opaque session identifier.
func NewSessionID() string {
	return "session-" + uuid.NewString()
}

// Tool represents an executable capability that agents can use.
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description of what this tool does.
	Description() string

	// Schema returns the JSON-schema contract for the tool's arguments.
	Schema() map[string]interface{}

	// Execute runs the tool with validated arguments and returns a result
	// payload. Argument validation happens in the registry before Execute
	// is called.
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// ToolSpec describes a tool to the completion provider.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ToolCallRequest is a completion provider's request to invoke a tool.
type ToolCallRequest struct {
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Completion is one provider response: either reply text or one or more
// tool-call requests (ToolCalls non-empty takes precedence).
type Completion struct {
	Text      string
	ToolCalls []ToolCallRequest
	Metadata  map[string]interface{}
}

// CompletionProvider is the seam to the underlying language model.
//
// The core treats the provider as an opaque, possibly slow, possibly failing
// remote call. Implementations must honor context cancellation and deadlines.
type CompletionProvider interface {
	// Complete generates one completion given agent instructions, the
	// conversation history, and the tools available to this agent.
	Complete(ctx context.Context, instructions string, history []*Message, tools []ToolSpec) (*Completion, error)

	// Model returns the model identifier for this provider instance.
	Model() string
}
