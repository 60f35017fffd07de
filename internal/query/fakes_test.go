package query

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

type fakeResult struct {
	batches []Batch
	sendErr error
	// failAt returns failErr instead of the batch at that index.
	failAt  int
	failErr error
	// blockAt blocks the read of the batch at that index until interrupted.
	blockAt int
}

func newResult(batches ...Batch) fakeResult {
	return fakeResult{batches: batches, failAt: -1, blockAt: -1}
}

func rowsBatch(schema []Field, rows ...Row) Batch {
	return Batch{Schema: schema, Rows: rows}
}

type fakeDatabase struct {
	mu         sync.Mutex
	results    map[string]fakeResult
	keywords   []string
	keywordErr error
	viewErrs   map[string]error
	connectErr error

	views      map[string]string
	conns      []*fakeConn
	terminated bool
	reading    chan struct{}
}

func newFakeDatabase() *fakeDatabase {
	return &fakeDatabase{
		results:  map[string]fakeResult{},
		keywords: []string{"select", "from", "order", "table"},
		viewErrs: map[string]error{},
		views:    map[string]string{},
		reading:  make(chan struct{}, 16),
	}
}

func (d *fakeDatabase) opener() Opener {
	return func(context.Context) (Database, error) { return d, nil }
}

func (d *fakeDatabase) Connect(context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connectErr != nil {
		return nil, d.connectErr
	}
	conn := &fakeConn{db: d, interrupt: make(chan struct{})}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDatabase) Terminate() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.terminated = true
	return nil
}

func (d *fakeDatabase) connections() []*fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*fakeConn, len(d.conns))
	copy(out, d.conns)
	return out
}

// queryConns returns connections that ran user queries, excluding view
// registration and listing.
func (d *fakeDatabase) queryConns() []*fakeConn {
	var out []*fakeConn
	for _, conn := range d.connections() {
		if conn.ranUserQuery() {
			out = append(out, conn)
		}
	}
	return out
}

type fakeConn struct {
	db        *fakeDatabase
	mu        sync.Mutex
	sent      []string
	prepared  []string
	params    [][]any
	cancels   int
	closed    bool
	user      bool
	interrupt chan struct{}
	once      sync.Once
}

func (c *fakeConn) Send(_ context.Context, sqlText string) (BatchStream, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("connection closed")
	}
	c.sent = append(c.sent, sqlText)
	c.mu.Unlock()

	switch {
	case sqlText == reservedKeywordsSQL:
		if c.db.keywordErr != nil {
			return nil, c.db.keywordErr
		}
		rows := make([]Row, 0, len(c.db.keywords))
		for _, word := range c.db.keywords {
			rows = append(rows, Row{"keyword_name": word})
		}
		return c.stream(newResult(Batch{Rows: rows})), nil
	case strings.HasPrefix(sqlText, "CREATE OR REPLACE VIEW "):
		identifier := strings.Trim(strings.Fields(sqlText)[4], `"`)
		if err := c.db.viewErrs[identifier]; err != nil {
			return nil, err
		}
		c.db.mu.Lock()
		c.db.views[identifier] = sqlText
		c.db.mu.Unlock()
		return c.stream(newResult()), nil
	case sqlText == listViewsSQL:
		c.db.mu.Lock()
		names := make([]string, 0, len(c.db.views))
		for name := range c.db.views {
			names = append(names, name)
		}
		c.db.mu.Unlock()
		sort.Strings(names)
		rows := make([]Row, 0, len(names))
		for _, name := range names {
			rows = append(rows, Row{"table_name": name})
		}
		return c.stream(newResult(Batch{Rows: rows})), nil
	}
	return c.userQuery(sqlText)
}

func (c *fakeConn) userQuery(sqlText string) (BatchStream, error) {
	c.mu.Lock()
	c.user = true
	c.mu.Unlock()

	c.db.mu.Lock()
	result, ok := c.db.results[sqlText]
	c.db.mu.Unlock()
	if !ok {
		return nil, errors.New("Catalog Error: unknown query " + sqlText)
	}
	if result.sendErr != nil {
		return nil, result.sendErr
	}
	return c.stream(result), nil
}

func (c *fakeConn) Prepare(_ context.Context, sqlText string) (Statement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("connection closed")
	}
	c.prepared = append(c.prepared, sqlText)
	return &fakeStatement{conn: c, sql: sqlText}, nil
}

func (c *fakeConn) CancelSent(context.Context) (bool, error) {
	c.mu.Lock()
	c.cancels++
	c.mu.Unlock()
	c.once.Do(func() { close(c.interrupt) })
	return true, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.once.Do(func() { close(c.interrupt) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) cancelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancels
}

func (c *fakeConn) ranUserQuery() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *fakeConn) stream(result fakeResult) *fakeStream {
	return &fakeStream{conn: c, result: result}
}

type fakeStatement struct {
	conn   *fakeConn
	sql    string
	closed bool
}

func (s *fakeStatement) Send(_ context.Context, params ...any) (BatchStream, error) {
	s.conn.mu.Lock()
	s.conn.params = append(s.conn.params, params)
	s.conn.mu.Unlock()
	return s.conn.userQuery(s.sql)
}

func (s *fakeStatement) Close() error {
	s.closed = true
	return nil
}

type fakeStream struct {
	conn   *fakeConn
	result fakeResult
	mu     sync.Mutex
	index  int
	closed bool
}

func (s *fakeStream) Next(ctx context.Context) (Batch, bool, error) {
	s.mu.Lock()
	index := s.index
	s.index++
	s.mu.Unlock()

	if index == s.result.blockAt {
		s.conn.db.reading <- struct{}{}
		select {
		case <-s.conn.interrupt:
			return Batch{}, false, ErrInterrupted
		case <-ctx.Done():
			return Batch{}, false, ctx.Err()
		}
	}
	if index == s.result.failAt {
		return Batch{}, false, s.result.failErr
	}
	if index >= len(s.result.batches) {
		return Batch{}, false, nil
	}
	return s.result.batches[index], true, nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
