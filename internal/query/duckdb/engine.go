package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/hfsql/hfsql/internal/query"
)

const defaultBatchSize = 2048

type Config struct {
	// Path is the database file; empty opens an in-memory database.
	Path             string
	Threads          int
	MemoryLimit      string
	BatchSize        int
	EnableHTTPFS     bool
	HuggingFaceToken string
}

// Database is a DuckDB instance. Connections opened from it share its
// catalog, so views registered on one connection are visible to all.
type Database struct {
	db        *sql.DB
	batchSize int
}

func Open(ctx context.Context, cfg Config) (*Database, error) {
	db, err := sql.Open("duckdb", strings.TrimSpace(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	for _, stmt := range setupStatements(cfg) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure duckdb: %w", err)
		}
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Database{db: db, batchSize: batchSize}, nil
}

// Opener adapts Open to query.Opener.
func Opener(cfg Config) query.Opener {
	return func(ctx context.Context) (query.Database, error) {
		return Open(ctx, cfg)
	}
}

func setupStatements(cfg Config) []string {
	var stmts []string
	if cfg.Threads > 0 {
		stmts = append(stmts, fmt.Sprintf("SET threads = %d", cfg.Threads))
	}
	if limit := strings.TrimSpace(cfg.MemoryLimit); limit != "" {
		stmts = append(stmts, "SET memory_limit = "+quoteString(limit))
	}
	if cfg.EnableHTTPFS {
		stmts = append(stmts, "INSTALL httpfs", "LOAD httpfs")
		if token := strings.TrimSpace(cfg.HuggingFaceToken); token != "" {
			stmts = append(stmts, "CREATE OR REPLACE SECRET hf_token (TYPE HUGGINGFACE, TOKEN "+quoteString(token)+")")
		}
	}
	return stmts
}

func (d *Database) Connect(ctx context.Context) (query.Conn, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire duckdb connection: %w", err)
	}
	return &Conn{conn: conn, batchSize: d.batchSize}, nil
}

func (d *Database) Terminate() error {
	return d.db.Close()
}

// Conn runs one query at a time. Queries execute under a context detached
// from the caller so a stream outlives the request that started it; only
// CancelSent and Close interrupt it.
type Conn struct {
	conn      *sql.Conn
	batchSize int

	mu     sync.Mutex
	cancel context.CancelFunc
	active *batchStream
	closed bool
}

func (c *Conn) Send(ctx context.Context, sqlText string) (query.BatchStream, error) {
	sqlText = stripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return nil, fmt.Errorf("sql is required")
	}
	qctx, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := c.conn.QueryContext(qctx, sqlText)
	if err != nil {
		c.abandon()
		return nil, mapError(qctx, err)
	}
	return c.track(qctx, rows)
}

func (c *Conn) Prepare(ctx context.Context, sqlText string) (query.Statement, error) {
	sqlText = stripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return nil, fmt.Errorf("sql is required")
	}
	stmt, err := c.conn.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("prepare statement: %w", err)
	}
	return &Statement{conn: c, stmt: stmt}, nil
}

func (c *Conn) CancelSent(_ context.Context) (bool, error) {
	c.mu.Lock()
	cancel := c.cancel
	active := c.active
	c.mu.Unlock()

	if cancel == nil {
		return false, nil
	}
	cancel()
	return active != nil && !active.exhausted.Load(), nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	active := c.active
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if active != nil {
		_ = active.Close()
	}
	return c.conn.Close()
}

// begin starts a new query context, discarding any stream still open.
func (c *Conn) begin(ctx context.Context) (context.Context, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("connection is closed")
	}
	previous := c.active
	previousCancel := c.cancel
	qctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.active = nil
	c.mu.Unlock()

	if previousCancel != nil {
		previousCancel()
	}
	if previous != nil {
		_ = previous.Close()
	}
	return qctx, nil
}

func (c *Conn) abandon() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Conn) track(qctx context.Context, rows *sql.Rows) (query.BatchStream, error) {
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		_ = rows.Close()
		c.abandon()
		return nil, fmt.Errorf("query columns: %w", err)
	}
	fields := make([]query.Field, 0, len(columnTypes))
	names := make([]string, 0, len(columnTypes))
	for _, columnType := range columnTypes {
		fields = append(fields, query.Field{Name: columnType.Name(), Type: columnType.DatabaseTypeName()})
		names = append(names, columnType.Name())
	}

	stream := &batchStream{conn: c, ctx: qctx, rows: rows, fields: fields, columns: names, batchSize: c.batchSize}
	c.mu.Lock()
	c.active = stream
	c.mu.Unlock()
	return stream, nil
}

func (c *Conn) release(stream *batchStream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != stream {
		return
	}
	c.active = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

type Statement struct {
	conn *Conn
	stmt *sql.Stmt
}

func (s *Statement) Send(ctx context.Context, params ...any) (query.BatchStream, error) {
	qctx, err := s.conn.begin(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.stmt.QueryContext(qctx, params...)
	if err != nil {
		s.conn.abandon()
		return nil, mapError(qctx, err)
	}
	return s.conn.track(qctx, rows)
}

func (s *Statement) Close() error {
	return s.stmt.Close()
}

type batchStream struct {
	conn      *Conn
	ctx       context.Context
	rows      *sql.Rows
	fields    []query.Field
	columns   []string
	batchSize int

	exhausted atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (s *batchStream) Next(ctx context.Context) (query.Batch, bool, error) {
	if err := ctx.Err(); err != nil {
		return query.Batch{}, false, err
	}

	rows := make([]query.Row, 0, s.batchSize)
	for len(rows) < s.batchSize && s.rows.Next() {
		values := make([]any, len(s.columns))
		scanTargets := make([]any, len(s.columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := s.rows.Scan(scanTargets...); err != nil {
			return query.Batch{}, false, mapError(s.ctx, fmt.Errorf("scan row: %w", err))
		}
		row := make(query.Row, len(s.columns))
		for i, value := range normalizeValues(values) {
			row[s.columns[i]] = value
		}
		rows = append(rows, row)
	}
	if len(rows) > 0 {
		return query.Batch{Schema: s.fields, Rows: rows}, true, nil
	}

	if err := s.rows.Err(); err != nil {
		return query.Batch{}, false, mapError(s.ctx, err)
	}
	if s.ctx.Err() != nil {
		return query.Batch{}, false, query.ErrInterrupted
	}
	s.exhausted.Store(true)
	return query.Batch{}, false, nil
}

func (s *batchStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.rows.Close()
		s.conn.release(s)
	})
	return s.closeErr
}

func mapError(qctx context.Context, err error) error {
	if qctx.Err() != nil || errors.Is(err, context.Canceled) {
		return query.ErrInterrupted
	}
	if strings.Contains(strings.ToLower(err.Error()), "interrupt") {
		return query.ErrInterrupted
	}
	return err
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
