// Package store provides append-only conversation persistence keyed by
// session identifier.
//
// Implementations:
//   - InMemoryStore: process-local storage for tests and prototypes
//   - RedisStore: Redis-backed with TTL, survives restarts
//   - PostgresStore: Postgres-backed with a sequence uniqueness constraint
//
// Sequence semantics shared by all implementations:
//   - Sequence numbers start at 1 and are gap-free per session.
//   - Append with Message.Seq == 0 assigns the next sequence number.
//   - Append with Message.Seq <= the current last sequence is an idempotent
//     retry: nothing is written and the existing sequence is returned.
//   - Append with Message.Seq beyond next-expected is an ordering violation
//     and fails with a PersistenceError.
//
// Appends from different sessions never contend; within one session the
// caller serializes appends (the workflow engine holds a per-session lock),
// so no write-write race on sequence numbers can occur.
package store

import (
	"context"

	"github.com/xiaot623/flightcopilot/flightcopilot"
)

// ConversationStore is the persistence seam for conversation history.
// Append must be durable before it returns successfully.
type ConversationStore interface {
	// Append persists one message and returns its assigned sequence number.
	Append(ctx context.Context, sessionID string, msg *flightcopilot.Message) (int64, error)

	// Read returns the full ordered message history for a session. A session
	// with no messages yields an empty slice, not an error.
	Read(ctx context.Context, sessionID string) ([]*flightcopilot.Message, error)

	// Clear removes all messages for a session.
	Clear(ctx context.Context, sessionID string) error
}
