package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xiaot623/flightcopilot/flightcopilot"
)

// RedisStore provides Redis-backed conversation persistence.
//
// Features:
//   - Survives restarts
//   - TTL support (automatic session expiry)
//   - Shared history across multiple workflow instances
//
// Redis data structure:
//   - Key: "{prefix}:{session_id}:messages"
//   - Type: Sorted Set (ZSET)
//   - Score: sequence number
//   - Value: JSON-serialized message
//
// The conditional append runs as a Lua script so the sequence check and the
// write are atomic even if two workflow instances race on one session.
type RedisStore struct {
	client      *redis.Client
	keyPrefix   string
	ttl         time.Duration
	maxMessages int
}

// appendScript checks the caller's sequence expectation against the current
// last sequence, then writes and trims. The last sequence is the highest
// score, not the cardinality, so sequence numbers keep increasing across
// trims. Returns the assigned sequence, 0 for an idempotent duplicate, or -1
// for a sequence gap.
const appendScriptSource = `
local last = 0
local top = redis.call('ZRANGE', KEYS[1], -1, -1, 'WITHSCORES')
if top[2] then
  last = tonumber(top[2])
end
local seq = tonumber(ARGV[1])
if seq == 0 then
  seq = last + 1
elseif seq <= last then
  return 0
elseif seq > last + 1 then
  return -1
end
redis.call('ZADD', KEYS[1], seq, string.format('%012d|', seq) .. ARGV[2])
local max = tonumber(ARGV[3])
if max > 0 then
  redis.call('ZREMRANGEBYRANK', KEYS[1], 0, -(max + 1))
end
return seq
`

var appendScript = redis.NewScript(appendScriptSource)

// RedisConfig configures the Redis store.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g. "redis://localhost:6379").
	URL string

	// KeyPrefix prefixes Redis keys (e.g. "flightcopilot:conversations").
	KeyPrefix string

	// TTL is the session expiry (0 = no expiry).
	TTL time.Duration

	// MaxMessages caps retained history per session (0 = unlimited). The
	// oldest messages are trimmed; sequence numbers keep increasing.
	MaxMessages int
}

// NewRedisStore creates a Redis-backed conversation store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	return &RedisStore{
		client:      redis.NewClient(opts),
		keyPrefix:   cfg.KeyPrefix,
		ttl:         cfg.TTL,
		maxMessages: cfg.MaxMessages,
	}, nil
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return fmt.Sprintf("%s:%s:messages", s.keyPrefix, sessionID)
}

// Append persists one message. The write is confirmed by Redis before Append
// returns.
func (s *RedisStore) Append(ctx context.Context, sessionID string, msg *flightcopilot.Message) (int64, error) {
	if err := msg.Validate(); err != nil {
		return 0, &flightcopilot.PersistenceError{Op: "append", SessionID: sessionID, Cause: err}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, &flightcopilot.PersistenceError{Op: "append", SessionID: sessionID, Cause: err}
	}

	key := s.sessionKey(sessionID)
	res, err := appendScript.Run(ctx, s.client, []string{key}, msg.Seq, string(payload), s.maxMessages).Int64()
	if err != nil {
		return 0, &flightcopilot.PersistenceError{Op: "append", SessionID: sessionID, Cause: err}
	}

	switch {
	case res == -1:
		return 0, &flightcopilot.PersistenceError{
			Op:        "append",
			SessionID: sessionID,
			Cause:     fmt.Errorf("sequence gap: got %d beyond last durable sequence", msg.Seq),
		}
	case res == 0:
		// Idempotent retry of an already durable append.
		return msg.Seq, nil
	}

	if s.ttl > 0 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			return 0, &flightcopilot.PersistenceError{Op: "append", SessionID: sessionID, Cause: err}
		}
	}
	return res, nil
}

// Read returns the ordered message history for a session.
func (s *RedisStore) Read(ctx context.Context, sessionID string) ([]*flightcopilot.Message, error) {
	values, err := s.client.ZRangeWithScores(ctx, s.sessionKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, &flightcopilot.PersistenceError{Op: "read", SessionID: sessionID, Cause: err}
	}

	messages := make([]*flightcopilot.Message, 0, len(values))
	for _, value := range values {
		raw, ok := value.Member.(string)
		if !ok {
			continue
		}
		// Strip the sequence prefix that keeps members unique.
		if i := len("000000000000|"); len(raw) > i {
			raw = raw[i:]
		}
		var msg flightcopilot.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, &flightcopilot.PersistenceError{Op: "read", SessionID: sessionID, Cause: err}
		}
		msg.Seq = int64(value.Score)
		messages = append(messages, &msg)
	}
	return messages, nil
}

// Clear removes all messages for a session.
func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.sessionKey(sessionID)).Err(); err != nil {
		return &flightcopilot.PersistenceError{Op: "clear", SessionID: sessionID, Cause: err}
	}
	return nil
}

// Ping verifies connectivity to the Redis backend.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
