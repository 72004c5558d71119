package store

import (
	"testing"
	"time"
)

func TestNewPostgresStoreDefaults(t *testing.T) {
	s, err := NewPostgresStore(PostgresConfig{
		DSN:         "postgres://localhost/flightcopilot",
		MaxMessages: 50,
	})
	if err != nil {
		t.Fatalf("NewPostgresStore() error: %v", err)
	}
	defer s.Close()

	if s.maxMessages != 50 {
		t.Errorf("maxMessages = %d, want 50", s.maxMessages)
	}
	if s.db == nil {
		t.Fatal("connection pool not created")
	}
	// The pool is configured lazily; no connection happens until first use.
	stats := s.db.Stats()
	if stats.MaxOpenConnections != 10 {
		t.Errorf("MaxOpenConnections = %d, want default 10", stats.MaxOpenConnections)
	}
}

func TestNewPostgresStoreExplicitLimits(t *testing.T) {
	s, err := NewPostgresStore(PostgresConfig{
		DSN:             "postgres://localhost/flightcopilot",
		MaxOpenConns:    3,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewPostgresStore() error: %v", err)
	}
	defer s.Close()

	if s.db.Stats().MaxOpenConnections != 3 {
		t.Errorf("MaxOpenConnections = %d, want 3", s.db.Stats().MaxOpenConnections)
	}
}
