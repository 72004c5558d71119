package flightcopilot

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a failure class at the transport boundary. Every error
// the workflow returns maps to exactly one code so callers can render a
// stable {error: {code, message}} response.
type ErrorCode string

const (
	CodeInputRejected  ErrorCode = "input_rejected"
	CodeToolValidation ErrorCode = "tool_validation_error"
	CodeToolExecution  ErrorCode = "tool_execution_error"
	CodeStalled        ErrorCode = "workflow_stalled"
	CodePersistence    ErrorCode = "persistence_error"
	CodeInternal       ErrorCode = "internal_error"
)

// InputRejectedError reports that the security gate refused the input.
// No persistence or agent calls happen for a rejected turn.
type InputRejectedError struct {
	Reason  string
	Message string
}

func (e *InputRejectedError) Error() string {
	return fmt.Sprintf("input rejected (%s): %s", e.Reason, e.Message)
}

// Code returns the transport error code.
func (e *InputRejectedError) Code() ErrorCode { return CodeInputRejected }

// ToolValidationError reports malformed tool arguments or an unknown tool
// name. The executor is never reached.
type ToolValidationError struct {
	Tool   string
	Detail string
}

func (e *ToolValidationError) Error() string {
	return fmt.Sprintf("tool %q validation failed: %s", e.Tool, e.Detail)
}

// Code returns the transport error code.
func (e *ToolValidationError) Code() ErrorCode { return CodeToolValidation }

// ToolExecutionError reports that a tool ran but failed. It is carried inside
// the resulting ToolInvocation rather than crashing the workflow.
type ToolExecutionError struct {
	Tool   string
	Detail string
	Cause  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q execution failed: %s", e.Tool, e.Detail)
}

func (e *ToolExecutionError) Unwrap() error { return e.Cause }

// Code returns the transport error code.
func (e *ToolExecutionError) Code() ErrorCode { return CodeToolExecution }

// WorkflowStalledError reports that an agent exceeded its tool-call iteration
// cap. Fatal to the current turn.
type WorkflowStalledError struct {
	Stage      string
	Iterations int
}

func (e *WorkflowStalledError) Error() string {
	return fmt.Sprintf("stage %q stalled after %d tool-call iterations", e.Stage, e.Iterations)
}

// Code returns the transport error code.
func (e *WorkflowStalledError) Code() ErrorCode { return CodeStalled }

// PersistenceError reports an append or read failure against the durable
// store. Fatal to the current turn; the caller can safely retry the whole
// turn because appends are idempotent by sequence number.
type PersistenceError struct {
	Op        string
	SessionID string
	Cause     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed for session %q: %v", e.Op, e.SessionID, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

// Code returns the transport error code.
func (e *PersistenceError) Code() ErrorCode { return CodePersistence }

// coded is implemented by all errors in the taxonomy.
type coded interface {
	Code() ErrorCode
}

// ErrorCodeOf maps any error to its transport code. Errors outside the
// taxonomy map to CodeInternal.
func ErrorCodeOf(err error) ErrorCode {
	var c coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return CodeInternal
}

// ErrorResponse is the shape handed to the transport adapter for a failed
// turn.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ToErrorResponse converts any turn error into its transport representation.
func ToErrorResponse(err error) ErrorResponse {
	return ErrorResponse{
		Code:    ErrorCodeOf(err),
		Message: err.Error(),
	}
}
