package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/xiaot623/flightcopilot/flightcopilot"
)

// PostgresStore provides Postgres-backed conversation persistence through
// the pgx stdlib driver.
//
// Messages live in an append-only table with a (session_id, seq) primary
// key, so a duplicate append is rejected by the database itself and the
// gap-free invariant is enforced inside a transaction.
type PostgresStore struct {
	db          *sql.DB
	maxMessages int
}

// PostgresConfig configures the Postgres store.
type PostgresConfig struct {
	// DSN is the connection string.
	DSN string

	// MaxOpenConns caps the pool size. Default: 10.
	MaxOpenConns int

	// ConnMaxLifetime bounds connection reuse. Default: 30m.
	ConnMaxLifetime time.Duration

	// MaxMessages caps retained history per session (0 = unlimited). The
	// oldest rows are deleted on append; sequence numbers keep increasing.
	MaxMessages int
}

// NewPostgresStore opens the connection pool. It validates the DSN and pool
// parameters but does not connect until first use; call Init to verify
// connectivity and create the schema.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 30 * time.Minute
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &PostgresStore{db: db, maxMessages: cfg.MaxMessages}, nil
}

// Init pings the database and creates the messages table if missing.
func (s *PostgresStore) Init(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS conversation_messages (
			session_id TEXT        NOT NULL,
			seq        BIGINT      NOT NULL,
			role       TEXT        NOT NULL,
			content    TEXT        NOT NULL,
			payload    JSONB       NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (session_id, seq)
		)`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Append persists one message inside a transaction. The transaction commit
// confirms durability before Append returns.
func (s *PostgresStore) Append(ctx context.Context, sessionID string, msg *flightcopilot.Message) (int64, error) {
	if err := msg.Validate(); err != nil {
		return 0, &flightcopilot.PersistenceError{Op: "append", SessionID: sessionID, Cause: err}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, &flightcopilot.PersistenceError{Op: "append", SessionID: sessionID, Cause: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &flightcopilot.PersistenceError{Op: "append", SessionID: sessionID, Cause: err}
	}
	defer tx.Rollback()

	var last int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM conversation_messages WHERE session_id = $1`,
		sessionID,
	).Scan(&last)
	if err != nil {
		return 0, &flightcopilot.PersistenceError{Op: "append", SessionID: sessionID, Cause: err}
	}

	seq := msg.Seq
	switch {
	case seq == 0:
		seq = last + 1
	case seq <= last:
		// Idempotent retry of an already durable append.
		return seq, nil
	case seq > last+1:
		return 0, &flightcopilot.PersistenceError{
			Op:        "append",
			SessionID: sessionID,
			Cause:     fmt.Errorf("sequence gap: expected %d, got %d", last+1, seq),
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversation_messages (session_id, seq, role, content, payload)
		 VALUES ($1, $2, $3, $4, $5)`,
		sessionID, seq, msg.Role, msg.Content, payload,
	)
	if err != nil {
		return 0, &flightcopilot.PersistenceError{Op: "append", SessionID: sessionID, Cause: err}
	}

	if s.maxMessages > 0 {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM conversation_messages WHERE session_id = $1 AND seq <= $2`,
			sessionID, seq-int64(s.maxMessages),
		)
		if err != nil {
			return 0, &flightcopilot.PersistenceError{Op: "append", SessionID: sessionID, Cause: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, &flightcopilot.PersistenceError{Op: "append", SessionID: sessionID, Cause: err}
	}
	return seq, nil
}

// Read returns the ordered message history for a session.
func (s *PostgresStore) Read(ctx context.Context, sessionID string) ([]*flightcopilot.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, payload FROM conversation_messages WHERE session_id = $1 ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, &flightcopilot.PersistenceError{Op: "read", SessionID: sessionID, Cause: err}
	}
	defer rows.Close()

	messages := make([]*flightcopilot.Message, 0)
	for rows.Next() {
		var seq int64
		var payload []byte
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, &flightcopilot.PersistenceError{Op: "read", SessionID: sessionID, Cause: err}
		}
		var msg flightcopilot.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, &flightcopilot.PersistenceError{Op: "read", SessionID: sessionID, Cause: err}
		}
		msg.Seq = seq
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, &flightcopilot.PersistenceError{Op: "read", SessionID: sessionID, Cause: err}
	}
	return messages, nil
}

// Clear removes all messages for a session.
func (s *PostgresStore) Clear(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_messages WHERE session_id = $1`, sessionID)
	if err != nil {
		return &flightcopilot.PersistenceError{Op: "clear", SessionID: sessionID, Cause: err}
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
