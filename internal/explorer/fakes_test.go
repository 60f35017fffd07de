package explorer

import (
	"context"
	"sort"
	"sync"

	"github.com/hfsql/hfsql/internal/datasets"
	"github.com/hfsql/hfsql/internal/query"
)

type fakeStream struct {
	schema  []query.Field
	batches [][]query.Row
	failErr error
	next    int
}

func (s *fakeStream) Schema() []query.Field {
	return s.schema
}

func (s *fakeStream) Next(context.Context) ([]query.Row, bool, error) {
	if s.next >= len(s.batches) {
		if s.failErr != nil && s.next == len(s.batches) {
			s.next++
			return nil, true, s.failErr
		}
		return nil, true, nil
	}
	rows := s.batches[s.next]
	s.next++
	last := s.next == len(s.batches) && s.failErr == nil
	return rows, last, nil
}

type fakeEngine struct {
	mu          sync.Mutex
	streams     map[string]*fakeStream
	execErr     error
	registerErr error
	registered  map[string][]string
	cancels     int
	lastParams  []any
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{streams: map[string]*fakeStream{}, registered: map[string][]string{}}
}

func (e *fakeEngine) RegisterViews(_ context.Context, views map[string][]string) (query.ViewRegistration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(views))
	for name := range views {
		names = append(names, name)
	}
	identifiers := query.AssignIdentifiers(names, map[string]struct{}{})
	out := query.ViewRegistration{Identifiers: map[string]string{}}
	var partial *query.ViewRegistrationError
	if regErr, ok := e.registerErr.(*query.ViewRegistrationError); ok {
		partial = regErr
	} else if e.registerErr != nil {
		return query.ViewRegistration{}, e.registerErr
	}
	for name, urls := range views {
		if partial != nil && partial.Failed[name] != nil {
			continue
		}
		e.registered[identifiers[name]] = urls
		out.Identifiers[name] = identifiers[name]
	}
	if partial != nil {
		return out, partial
	}
	return out, nil
}

func (e *fakeEngine) ListViews(context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	views := make([]string, 0, len(e.registered))
	for name := range e.registered {
		views = append(views, name)
	}
	sort.Strings(views)
	return views, nil
}

func (e *fakeEngine) ExecuteStream(_ context.Context, sqlText string, params ...any) (Stream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastParams = params
	if e.execErr != nil {
		return nil, e.execErr
	}
	stream, ok := e.streams[sqlText]
	if !ok {
		return nil, &query.ExecutionError{Message: "Catalog Error: unknown query"}
	}
	return stream, nil
}

func (e *fakeEngine) Cancel(context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancels++
}

func (e *fakeEngine) Status() query.Status {
	return query.Status{State: query.StateIdle}
}

type fakeMetadata struct {
	response  datasets.ParquetResponse
	err       error
	dataset   string
	lastToken string
}

func (m *fakeMetadata) ParquetFiles(_ context.Context, dataset, token string) (datasets.ParquetResponse, error) {
	m.dataset = dataset
	m.lastToken = token
	if m.err != nil {
		return datasets.ParquetResponse{}, m.err
	}
	return m.response, nil
}

func idRows(start, n int) []query.Row {
	rows := make([]query.Row, 0, n)
	for i := start; i < start+n; i++ {
		rows = append(rows, query.Row{"id": int64(i)})
	}
	return rows
}
