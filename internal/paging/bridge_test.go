package paging

import (
	"context"
	"errors"
	"testing"

	"github.com/hfsql/hfsql/internal/query"
)

type fakeBatch struct {
	rows []query.Row
	last bool
	err  error
}

type fakeSource struct {
	batches []fakeBatch
	calls   int
}

func (s *fakeSource) Next(context.Context) ([]query.Row, bool, error) {
	if s.calls >= len(s.batches) {
		s.calls++
		return nil, true, nil
	}
	batch := s.batches[s.calls]
	s.calls++
	return batch.rows, batch.last, batch.err
}

func makeRows(start, n int) []query.Row {
	rows := make([]query.Row, 0, n)
	for i := start; i < start+n; i++ {
		rows = append(rows, query.Row{"n": i})
	}
	return rows
}

func TestBridgePagesThroughStream(t *testing.T) {
	source := &fakeSource{batches: []fakeBatch{
		{rows: makeRows(0, 300)},
		{rows: makeRows(300, 200), last: true},
	}}
	bridge, err := NewBridge(context.Background(), source)
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}

	first, err := bridge.RequestPage(context.Background(), 0)
	if err != nil {
		t.Fatalf("RequestPage(0) error = %v", err)
	}
	if len(first.Rows) != 300 || first.IsLastPage {
		t.Fatalf("page 0 = %d rows, last %v", len(first.Rows), first.IsLastPage)
	}
	if source.calls != 1 {
		t.Fatalf("page 0 pulled the stream again: calls = %d", source.calls)
	}

	second, err := bridge.RequestPage(context.Background(), 300)
	if err != nil {
		t.Fatalf("RequestPage(300) error = %v", err)
	}
	if len(second.Rows) != 200 || !second.IsLastPage || second.StartIndex != 300 {
		t.Fatalf("page 300 = %+v", second)
	}
	if second.Rows[0]["n"] != 300 {
		t.Fatalf("page 300 first row = %v", second.Rows[0])
	}
	if bridge.Len() != 500 {
		t.Fatalf("Len() = %d, want 500", bridge.Len())
	}

	again, err := bridge.RequestPage(context.Background(), 300)
	if err != nil || len(again.Rows) != 200 || !again.IsLastPage {
		t.Fatalf("repeat RequestPage(300) = %+v, %v", again, err)
	}
	if source.calls != 2 {
		t.Fatalf("repeat page pulled the stream: calls = %d", source.calls)
	}

	beyond, err := bridge.RequestPage(context.Background(), 500)
	if err != nil || len(beyond.Rows) != 0 || !beyond.IsLastPage {
		t.Fatalf("RequestPage(500) = %+v, %v", beyond, err)
	}
}

func TestBridgeGetRowsReportsLastRow(t *testing.T) {
	source := &fakeSource{batches: []fakeBatch{
		{rows: makeRows(0, 300)},
		{rows: makeRows(300, 200), last: true},
	}}
	bridge, err := NewBridge(context.Background(), source)
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}

	var gotRows []int
	var gotLast []int
	success := func(rows []query.Row, lastRow int) {
		gotRows = append(gotRows, len(rows))
		gotLast = append(gotLast, lastRow)
	}
	fail := func() { t.Fatal("Fail() called") }

	bridge.GetRows(context.Background(), GetRowsParams{StartRow: 0, Success: success, Fail: fail})
	bridge.GetRows(context.Background(), GetRowsParams{StartRow: 300, Success: success, Fail: fail})

	if len(gotRows) != 2 || gotRows[0] != 300 || gotRows[1] != 200 {
		t.Fatalf("rows = %v", gotRows)
	}
	if gotLast[0] != -1 || gotLast[1] != 500 {
		t.Fatalf("lastRow = %v, want [-1 500]", gotLast)
	}
}

func TestBridgeSingleBatchIsLast(t *testing.T) {
	bridge, err := NewBridge(context.Background(), &fakeSource{batches: []fakeBatch{{rows: makeRows(0, 7), last: true}}})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	var lastRow int
	bridge.GetRows(context.Background(), GetRowsParams{StartRow: 0, Success: func(_ []query.Row, last int) { lastRow = last }})
	if lastRow != 7 {
		t.Fatalf("lastRow = %d, want 7", lastRow)
	}
	if !bridge.Exhausted() {
		t.Fatal("Exhausted() = false")
	}
}

func TestBridgeWrapsStreamFailure(t *testing.T) {
	cause := &query.ExecutionError{Message: "IO Error: reset", Err: errors.New("reset")}
	source := &fakeSource{batches: []fakeBatch{
		{rows: makeRows(0, 10)},
		{err: cause},
	}}
	bridge, err := NewBridge(context.Background(), source)
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}

	_, err = bridge.RequestPage(context.Background(), 10)
	if !errors.Is(err, ErrPageFetchFailed) {
		t.Fatalf("RequestPage() error = %v, want ErrPageFetchFailed", err)
	}
	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("RequestPage() error = %v, want wrapped *ExecutionError", err)
	}

	page, err := bridge.RequestPage(context.Background(), 10)
	if err != nil || len(page.Rows) != 0 || !page.IsLastPage {
		t.Fatalf("RequestPage() after failure = %+v, %v", page, err)
	}
	if bridge.Len() != 10 {
		t.Fatalf("Len() = %d, want buffered rows kept", bridge.Len())
	}

	failed := false
	bridge.GetRows(context.Background(), GetRowsParams{StartRow: 10, Success: func([]query.Row, int) {}, Fail: func() { failed = true }})
	if failed {
		t.Fatal("GetRows() failed after the bridge settled")
	}
}

func TestBridgeGetRowsCallsFail(t *testing.T) {
	source := &fakeSource{batches: []fakeBatch{
		{rows: makeRows(0, 1)},
		{err: errors.New("boom")},
	}}
	bridge, err := NewBridge(context.Background(), source)
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	failed := false
	bridge.GetRows(context.Background(), GetRowsParams{StartRow: 1, Success: func([]query.Row, int) {
		t.Fatal("Success() called")
	}, Fail: func() { failed = true }})
	if !failed {
		t.Fatal("Fail() not called")
	}
}

func TestBridgeCancellationIsSilent(t *testing.T) {
	source := &fakeSource{batches: []fakeBatch{
		{rows: makeRows(0, 5)},
		{err: query.ErrQueryCancelled},
	}}
	bridge, err := NewBridge(context.Background(), source)
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	page, err := bridge.RequestPage(context.Background(), 5)
	if err != nil || len(page.Rows) != 0 || !page.IsLastPage {
		t.Fatalf("RequestPage() = %+v, %v", page, err)
	}
}

func TestBridgeWithoutSource(t *testing.T) {
	bridge, err := NewBridge(context.Background(), nil)
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	for _, start := range []int{0, 100} {
		page, err := bridge.RequestPage(context.Background(), start)
		if err != nil || len(page.Rows) != 0 || !page.IsLastPage {
			t.Fatalf("RequestPage(%d) = %+v, %v", start, page, err)
		}
	}
	if rows := bridge.Rows(); len(rows) != 0 {
		t.Fatalf("Rows() = %v", rows)
	}
}

func TestBridgeServesOffsetsInsideBuffer(t *testing.T) {
	source := &fakeSource{batches: []fakeBatch{{rows: makeRows(0, 10)}, {rows: makeRows(10, 5), last: true}}}
	bridge, err := NewBridge(context.Background(), source)
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	page, err := bridge.RequestPage(context.Background(), 4)
	if err != nil || len(page.Rows) != 6 || page.IsLastPage {
		t.Fatalf("RequestPage(4) = %+v, %v", page, err)
	}
	if source.calls != 1 {
		t.Fatalf("calls = %d, want buffered read", source.calls)
	}
}

func TestBridgeKeepsStateOnCallerContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := &ctxSource{first: makeRows(0, 3), second: makeRows(3, 2)}
	bridge, err := NewBridge(context.Background(), source)
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}

	cancel()
	if _, err := bridge.RequestPage(ctx, 3); !errors.Is(err, ErrPageFetchFailed) {
		t.Fatalf("RequestPage() with cancelled ctx error = %v", err)
	}
	page, err := bridge.RequestPage(context.Background(), 3)
	if err != nil || len(page.Rows) != 2 || !page.IsLastPage {
		t.Fatalf("RequestPage() retry = %+v, %v", page, err)
	}
}

type ctxSource struct {
	first, second []query.Row
	calls         int
}

func (s *ctxSource) Next(ctx context.Context) ([]query.Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.calls++
	if s.calls == 1 {
		return s.first, false, nil
	}
	return s.second, true, nil
}
