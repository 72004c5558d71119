package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xiaot623/flightcopilot/flightcopilot"
)

// InMemoryStore provides process-local append-only storage.
//
// Use cases:
//   - Testing
//   - Prototypes
//   - When persistence is not needed
//
// Data is lost on restart; durable deployments use RedisStore or
// PostgresStore.
type InMemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*flightcopilot.Session
	maxMessages int
}

// NewInMemoryStore creates an in-memory store. maxMessages caps retained
// history per session (0 = unlimited); when exceeded, the oldest messages
// are trimmed but sequence numbers keep increasing.
func NewInMemoryStore(maxMessages int) *InMemoryStore {
	return &InMemoryStore{
		sessions:    make(map[string]*flightcopilot.Session),
		maxMessages: maxMessages,
	}
}

// Append persists one message, creating the session on first write.
func (s *InMemoryStore) Append(ctx context.Context, sessionID string, msg *flightcopilot.Message) (int64, error) {
	if err := msg.Validate(); err != nil {
		return 0, &flightcopilot.PersistenceError{Op: "append", SessionID: sessionID, Cause: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[sessionID]
	if !exists {
		now := time.Now().UTC()
		sess = &flightcopilot.Session{ID: sessionID, CreatedAt: now, UpdatedAt: now}
		s.sessions[sessionID] = sess
	}

	last := int64(0)
	if n := len(sess.Messages); n > 0 {
		last = sess.Messages[n-1].Seq
	}

	switch {
	case msg.Seq == 0:
		msg.Seq = last + 1
	case msg.Seq <= last:
		// Idempotent retry of an already durable append.
		return msg.Seq, nil
	case msg.Seq > last+1:
		return 0, &flightcopilot.PersistenceError{
			Op:        "append",
			SessionID: sessionID,
			Cause:     fmt.Errorf("sequence gap: expected %d, got %d", last+1, msg.Seq),
		}
	}

	stored := *msg
	sess.Messages = append(sess.Messages, &stored)
	sess.UpdatedAt = time.Now().UTC()

	if s.maxMessages > 0 && len(sess.Messages) > s.maxMessages {
		sess.Messages = sess.Messages[len(sess.Messages)-s.maxMessages:]
	}

	return msg.Seq, nil
}

// Read returns the ordered message history for a session.
func (s *InMemoryStore) Read(ctx context.Context, sessionID string) ([]*flightcopilot.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[sessionID]
	if !exists {
		return []*flightcopilot.Message{}, nil
	}

	out := make([]*flightcopilot.Message, len(sess.Messages))
	for i, m := range sess.Messages {
		copied := *m
		out[i] = &copied
	}
	return out, nil
}

// Clear removes all messages for a session.
func (s *InMemoryStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}
