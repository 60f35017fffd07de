package query

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hfsql/hfsql/internal/observability"
)

// Stream is the live result of ExecuteStream. Next yields the first batch and
// then each following batch; the batch that ends the result is reported with
// isLast set, after which the connection has been released.
type Stream struct {
	client  *Client
	gen     uint64
	schema  []Field
	batches BatchStream

	mu      sync.Mutex
	pending []Row
	err     error
	done    bool
	closed  atomic.Bool
}

// Schema is the column set observed on the first batch. It is empty when the
// result had no rows.
func (s *Stream) Schema() []Field {
	out := make([]Field, len(s.schema))
	copy(out, s.schema)
	return out
}

// Next returns the next batch of rows. After the stream was cancelled it
// returns an empty terminal batch; a read interrupted by cancellation returns
// ErrQueryCancelled. An engine failure is reported after the rows read before
// it have been returned.
func (s *Stream) Next(ctx context.Context) ([]Row, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		err := s.err
		s.err = nil
		return nil, true, err
	}
	if s.done || s.closed.Load() {
		return nil, true, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	out := s.pending
	s.pending = nil

	batch, ok, err := s.batches.Next(ctx)
	if err != nil {
		s.done = true
		cancelled := s.closed.Load() || IsCancelled(err)
		s.client.teardown(s.gen)
		if cancelled {
			return nil, true, ErrQueryCancelled
		}
		if len(out) == 0 {
			return nil, true, newExecutionError(err)
		}
		s.err = newExecutionError(err)
		observability.ObserveStreamBatch(len(out))
		return out, false, nil
	}

	observability.ObserveStreamBatch(len(out))
	if !ok {
		s.done = true
		s.client.teardown(s.gen)
		return out, true, nil
	}
	s.pending = batch.Rows
	return out, false, nil
}

// Done reports whether the stream was exhausted or discarded.
func (s *Stream) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err == nil && (s.done || s.closed.Load())
}
