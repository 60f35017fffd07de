package query

import (
	"context"
	"fmt"
	"sync"
)

// ConnectionManager owns the engine instance and at most one live connection.
type ConnectionManager struct {
	mu   sync.Mutex
	db   Database
	conn Conn
}

func NewConnectionManager(db Database) *ConnectionManager {
	return &ConnectionManager{db: db}
}

func (m *ConnectionManager) setDatabase(db Database) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.db = db
}

func (m *ConnectionManager) database() (Database, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil, ErrNotInitialized
	}
	return m.db, nil
}

// GetConnection returns the held connection, connecting first when none is open.
func (m *ConnectionManager) GetConnection(ctx context.Context) (Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil, ErrNotInitialized
	}
	if m.conn != nil {
		return m.conn, nil
	}
	conn, err := m.db.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	m.conn = conn
	return conn, nil
}

// current returns the held connection without creating one.
func (m *ConnectionManager) current() Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// CloseConnection releases the held connection. Calling it with no open
// connection is a no-op.
func (m *ConnectionManager) CloseConnection() error {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("close connection: %w", err)
	}
	return nil
}

// Terminate closes the connection and shuts the engine down.
func (m *ConnectionManager) Terminate() error {
	closeErr := m.CloseConnection()

	m.mu.Lock()
	db := m.db
	m.db = nil
	m.mu.Unlock()

	if db != nil {
		if err := db.Terminate(); err != nil {
			return fmt.Errorf("terminate database: %w", err)
		}
	}
	return closeErr
}
