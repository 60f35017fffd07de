package paging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hfsql/hfsql/internal/query"
)

var ErrPageFetchFailed = errors.New("page fetch failed")

// Source yields result batches in order. *query.Stream satisfies it.
type Source interface {
	Next(ctx context.Context) (rows []query.Row, isLast bool, err error)
}

type Page struct {
	StartIndex int         `json:"start_index"`
	Rows       []query.Row `json:"rows"`
	IsLastPage bool        `json:"is_last_page"`
}

// GetRowsParams is the request shape of a row-model grid asking for rows.
// Success receives lastRow = StartRow+len(rows) once the total is known and
// -1 while more rows may follow.
type GetRowsParams struct {
	StartRow int
	Success  func(rows []query.Row, lastRow int)
	Fail     func()
}

type span struct {
	end  int
	last bool
}

// Bridge turns a pull-based batch stream into offset-addressed pages and
// keeps every row it has handed out in the accumulated row buffer.
type Bridge struct {
	mu        sync.Mutex
	source    Source
	buffer    []query.Row
	pages     map[int]span
	exhausted bool
}

// NewBridge reads the first batch from source and records it as page 0. A
// nil source produces a bridge that only answers empty pages.
func NewBridge(ctx context.Context, source Source) (*Bridge, error) {
	b := &Bridge{source: source, pages: map[int]span{}}
	if source == nil {
		b.exhausted = true
		return b, nil
	}
	if _, err := b.pull(ctx); err != nil {
		return b, err
	}
	return b, nil
}

// RequestPage returns the rows starting at startIndex. Page 0 and any page
// fetched before are served from the buffer; a start beyond the buffer pulls
// the next batch from the stream.
func (b *Bridge) RequestPage(ctx context.Context, startIndex int) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if startIndex < 0 {
		return Page{StartIndex: startIndex, IsLastPage: true}, nil
	}
	if page, ok := b.pages[startIndex]; ok {
		return Page{StartIndex: startIndex, Rows: b.slice(startIndex, page.end), IsLastPage: page.last}, nil
	}
	if startIndex < len(b.buffer) {
		return Page{StartIndex: startIndex, Rows: b.slice(startIndex, len(b.buffer)), IsLastPage: b.exhausted}, nil
	}
	if b.exhausted {
		return Page{StartIndex: startIndex, IsLastPage: true}, nil
	}
	return b.pullLocked(ctx)
}

// GetRows answers a grid row request through RequestPage.
func (b *Bridge) GetRows(ctx context.Context, params GetRowsParams) {
	page, err := b.RequestPage(ctx, params.StartRow)
	if err != nil {
		if params.Fail != nil {
			params.Fail()
		}
		return
	}
	lastRow := -1
	if page.IsLastPage {
		lastRow = page.StartIndex + len(page.Rows)
	}
	if params.Success != nil {
		params.Success(page.Rows, lastRow)
	}
}

// Rows returns a snapshot of the accumulated row buffer.
func (b *Bridge) Rows() []query.Row {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]query.Row, len(b.buffer))
	copy(out, b.buffer)
	return out
}

func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

// Exhausted reports whether no further rows can be fetched.
func (b *Bridge) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exhausted
}

func (b *Bridge) pull(ctx context.Context) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pullLocked(ctx)
}

func (b *Bridge) pullLocked(ctx context.Context) (Page, error) {
	start := len(b.buffer)
	rows, last, err := b.source.Next(ctx)
	if err != nil {
		if ctx.Err() != nil && !query.IsCancelled(err) {
			return Page{StartIndex: start}, fmt.Errorf("%w: %w", ErrPageFetchFailed, err)
		}
		b.exhausted = true
		if query.IsCancelled(err) {
			return Page{StartIndex: start, IsLastPage: true}, nil
		}
		return Page{StartIndex: start, IsLastPage: true}, fmt.Errorf("%w: %w", ErrPageFetchFailed, err)
	}

	b.buffer = append(b.buffer, rows...)
	b.exhausted = last
	b.pages[start] = span{end: len(b.buffer), last: last}
	return Page{StartIndex: start, Rows: b.slice(start, len(b.buffer)), IsLastPage: last}, nil
}

func (b *Bridge) slice(start, end int) []query.Row {
	out := make([]query.Row, end-start)
	copy(out, b.buffer[start:end])
	return out
}
