package query

import (
	"context"
	"errors"
)

// Field describes one result column as reported by the engine.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Row maps column name to value.
type Row map[string]any

// Batch is one chunk of rows read from the engine. Schema is populated on
// every batch the engine produces; the client only reads it from the first.
type Batch struct {
	Schema []Field
	Rows   []Row
}

// BatchStream is a lazy, finite, not restartable sequence of batches.
// Next returns ok=false once the sequence is exhausted.
type BatchStream interface {
	Next(ctx context.Context) (batch Batch, ok bool, err error)
	Close() error
}

type Statement interface {
	Send(ctx context.Context, params ...any) (BatchStream, error)
	Close() error
}

// Conn is an exclusively owned handle to the engine.
type Conn interface {
	Send(ctx context.Context, sql string) (BatchStream, error)
	Prepare(ctx context.Context, sql string) (Statement, error)
	// CancelSent interrupts the in-flight query, reporting whether one was
	// running when the signal was delivered.
	CancelSent(ctx context.Context) (bool, error)
	Close() error
}

type Database interface {
	Connect(ctx context.Context) (Conn, error)
	Terminate() error
}

// ErrInterrupted is returned by engine implementations when a read was
// aborted by CancelSent or Close.
var ErrInterrupted = errors.New("query was canceled")
