package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hfsql/hfsql/internal/observability"
)

// State is the query execution state of a Client.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCancelling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCancelling:
		return "cancelling"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Opener starts the engine. It is called once by Initialize.
type Opener func(ctx context.Context) (Database, error)

type Options struct {
	Logger *slog.Logger
	// Views are registered during Initialize.
	Views map[string][]string
}

type Status struct {
	State      State `json:"-"`
	StreamOpen bool  `json:"stream_open"`
}

// Client executes one query at a time against the engine and streams its
// result batches on demand.
type Client struct {
	manager   *ConnectionManager
	registrar *ViewRegistrar
	open      Opener
	views     map[string][]string
	logger    *slog.Logger

	mu     sync.Mutex
	state  State
	gen    uint64
	stream *Stream
}

func NewClient(open Opener, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	manager := NewConnectionManager(nil)
	return &Client{
		manager:   manager,
		registrar: NewViewRegistrar(manager, logger),
		open:      open,
		views:     opts.Views,
		logger:    logger,
	}
}

// Initialize starts the engine and registers the configured views. A
// *ViewRegistrationError leaves the client usable.
func (c *Client) Initialize(ctx context.Context) error {
	if c.open == nil {
		return fmt.Errorf("engine opener is required")
	}
	db, err := c.open(ctx)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	c.manager.setDatabase(db)

	if len(c.views) == 0 {
		return nil
	}
	_, err = c.registrar.RegisterViews(ctx, c.views)
	return err
}

func (c *Client) RegisterViews(ctx context.Context, views map[string][]string) (ViewRegistration, error) {
	return c.registrar.RegisterViews(ctx, views)
}

func (c *Client) ListViews(ctx context.Context) ([]string, error) {
	return c.registrar.ListViews(ctx)
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, StreamOpen: c.stream != nil}
}

// ExecuteStream submits sqlText and waits for the first batch. The returned
// stream must be drained or the query cancelled before another query can run.
// ctx bounds only this call; once it returns the stream lives until it is
// exhausted or cancelled.
func (c *Client) ExecuteStream(ctx context.Context, sqlText string, params ...any) (*Stream, error) {
	c.mu.Lock()
	if c.state != StateIdle || c.stream != nil {
		c.mu.Unlock()
		observability.ObserveQuery("rejected")
		return nil, ErrQueryAlreadyRunning
	}
	c.state = StateRunning
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	start := time.Now()
	stop := context.AfterFunc(ctx, func() { c.cancelGeneration(context.Background(), gen, StateRunning) })
	defer stop()

	c.logger.DebugContext(ctx, "query started", slog.Int("params", len(params)))

	conn, err := c.acquire(ctx, gen)
	if errors.Is(err, ErrQueryCancelled) {
		observability.ObserveQuery("cancelled")
		return nil, err
	}
	if err != nil {
		c.teardown(gen)
		observability.ObserveQuery("failed")
		return nil, err
	}

	batches, err := submit(ctx, conn, sqlText, params)
	if err != nil {
		return nil, c.failExecution(ctx, gen, err)
	}

	first, ok, err := batches.Next(ctx)
	if err != nil {
		_ = batches.Close()
		return nil, c.failExecution(ctx, gen, err)
	}
	observability.ObserveFirstBatchLatency(time.Since(start))

	schema := []Field{}
	if ok {
		schema = append(schema, first.Schema...)
	}
	stream := &Stream{client: c, gen: gen, schema: schema, batches: batches}
	if ok {
		stream.pending = first.Rows
	} else {
		stream.done = true
	}

	c.mu.Lock()
	if c.gen != gen || c.state != StateRunning {
		c.mu.Unlock()
		_ = batches.Close()
		c.teardown(gen)
		observability.ObserveQuery("cancelled")
		return nil, ErrQueryCancelled
	}
	if ok {
		c.state = StateIdle
		c.stream = stream
		c.mu.Unlock()
	} else {
		c.mu.Unlock()
		_ = batches.Close()
		c.teardown(gen)
	}
	observability.ObserveQuery("ok")
	c.logger.DebugContext(ctx, "query stream opened",
		slog.Int("columns", len(schema)),
		slog.Bool("empty", !ok),
		slog.String("duration", time.Since(start).String()),
	)
	return stream, nil
}

func submit(ctx context.Context, conn Conn, sqlText string, params []any) (BatchStream, error) {
	if len(params) == 0 {
		return conn.Send(ctx, sqlText)
	}
	stmt, err := conn.Prepare(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	batches, err := stmt.Send(ctx, params...)
	if err != nil {
		_ = stmt.Close()
		return nil, err
	}
	return &statementStream{BatchStream: batches, stmt: stmt}, nil
}

// failExecution converts an error raised while executing gen and releases
// its connection.
// acquire opens the query connection while gen is still current. Holding mu
// across the connect means a cancel either lands first, and no connection is
// opened, or afterwards, and its teardown closes the registered connection.
func (c *Client) acquire(ctx context.Context, gen uint64) (Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != StateRunning {
		return nil, ErrQueryCancelled
	}
	return c.manager.GetConnection(ctx)
}

func (c *Client) failExecution(ctx context.Context, gen uint64, err error) error {
	c.mu.Lock()
	superseded := c.gen != gen || c.state == StateCancelling
	c.mu.Unlock()
	c.teardown(gen)

	if superseded || IsCancelled(err) || (errors.Is(err, context.Canceled) && ctx.Err() != nil) {
		observability.ObserveQuery("cancelled")
		return ErrQueryCancelled
	}
	observability.ObserveQuery("failed")
	c.logger.DebugContext(ctx, "query failed", slog.Any("error", err))
	return newExecutionError(err)
}

// teardown is the single release path for exhaustion, failure, cancellation
// and close. Only the first call for a generation has an effect.
func (c *Client) teardown(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.gen++
	stream := c.stream
	c.stream = nil
	c.state = StateIdle

	if stream != nil {
		stream.closed.Store(true)
	}
	if err := c.manager.CloseConnection(); err != nil {
		c.logger.Warn("close connection failed", slog.Any("error", err))
	}
	if stream != nil {
		_ = stream.batches.Close()
	}
}

// Close cancels any running query and terminates the engine.
func (c *Client) Close() error {
	c.Cancel(context.Background())
	return c.manager.Terminate()
}

type statementStream struct {
	BatchStream
	stmt Statement
}

func (s *statementStream) Close() error {
	err := s.BatchStream.Close()
	if stmtErr := s.stmt.Close(); err == nil {
		err = stmtErr
	}
	return err
}
