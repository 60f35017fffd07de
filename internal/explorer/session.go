package explorer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/hfsql/hfsql/internal/datasets"
	"github.com/hfsql/hfsql/internal/export"
	"github.com/hfsql/hfsql/internal/observability"
	"github.com/hfsql/hfsql/internal/paging"
	"github.com/hfsql/hfsql/internal/preferences"
	"github.com/hfsql/hfsql/internal/query"
)

var (
	ErrEmptyQuery       = errors.New("query is empty")
	ErrNoResult         = errors.New("no query result to export")
	ErrNoDataset        = errors.New("dataset is required")
	ErrViewsUnavailable = errors.New("views are not available")
)

const noConversionMessage = "Sorry there wasn't a parquet conversion for this dataset."

// Stream is the part of a query result stream the session consumes.
type Stream interface {
	Schema() []query.Field
	Next(ctx context.Context) ([]query.Row, bool, error)
}

// Engine is the query client the session drives.
type Engine interface {
	RegisterViews(ctx context.Context, views map[string][]string) (query.ViewRegistration, error)
	ListViews(ctx context.Context) ([]string, error)
	ExecuteStream(ctx context.Context, sqlText string, params ...any) (Stream, error)
	Cancel(ctx context.Context)
	Status() query.Status
}

type Metadata interface {
	ParquetFiles(ctx context.Context, dataset, token string) (datasets.ParquetResponse, error)
}

// FromClient adapts a query client to Engine.
func FromClient(client *query.Client) Engine {
	return clientEngine{client: client}
}

type clientEngine struct {
	client *query.Client
}

func (e clientEngine) RegisterViews(ctx context.Context, views map[string][]string) (query.ViewRegistration, error) {
	return e.client.RegisterViews(ctx, views)
}

func (e clientEngine) ListViews(ctx context.Context) ([]string, error) {
	return e.client.ListViews(ctx)
}

func (e clientEngine) ExecuteStream(ctx context.Context, sqlText string, params ...any) (Stream, error) {
	stream, err := e.client.ExecuteStream(ctx, sqlText, params...)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (e clientEngine) Cancel(ctx context.Context) {
	e.client.Cancel(ctx)
}

func (e clientEngine) Status() query.Status {
	return e.client.Status()
}

type Options struct {
	Logger      *slog.Logger
	Metadata    Metadata
	Preferences preferences.Store
	Exports     *export.Service
	// Dataset is loaded when LoadDatasetViews is called without one.
	Dataset string
}

type ViewsResult struct {
	Dataset     string            `json:"dataset"`
	Views       []string          `json:"views"`
	Identifiers map[string]string `json:"identifiers,omitempty"`
	Warning     string            `json:"warning,omitempty"`
	Partial     bool              `json:"partial,omitempty"`
}

type QueryResult struct {
	Columns   []Column    `json:"columns"`
	Rows      []query.Row `json:"rows"`
	LastRow   int         `json:"last_row"`
	Cancelled bool        `json:"cancelled"`
}

type Status struct {
	State        string   `json:"state"`
	StreamOpen   bool     `json:"stream_open"`
	BufferedRows int      `json:"buffered_rows"`
	Exhausted    bool     `json:"exhausted"`
	Columns      []Column `json:"columns"`
	Views        []string `json:"views"`
}

// Session holds the explorer state for one engine: the registered views, the
// columns of the last query and the paging bridge over its stream.
type Session struct {
	engine   Engine
	metadata Metadata
	prefs    preferences.Store
	exports  *export.Service
	dataset  string
	logger   *slog.Logger

	mu      sync.Mutex
	gen     uint64
	columns []Column
	bridge  *paging.Bridge
	views   []string
}

func NewSession(engine Engine, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	prefs := opts.Preferences
	if prefs == nil {
		prefs = preferences.NewMemoryStore(preferences.Preferences{})
	}
	return &Session{
		engine:   engine,
		metadata: opts.Metadata,
		prefs:    prefs,
		exports:  opts.Exports,
		dataset:  strings.TrimSpace(opts.Dataset),
		logger:   logger,
	}
}

// Startup loads the default dataset's views when the stored preferences ask
// for it. It reports whether views were loaded.
func (s *Session) Startup(ctx context.Context) (bool, error) {
	prefs, err := s.prefs.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("load preferences: %w", err)
	}
	if !prefs.LoadViewsOnStartup || s.dataset == "" {
		return false, nil
	}
	if _, err := s.LoadDatasetViews(ctx, ""); err != nil {
		return false, err
	}
	return true, nil
}

// LoadDatasetViews registers one view per config/split and per config of
// dataset. dataset may be an owner/name id or a dataset page URL. A partial
// registration is reported through Warning, not as an error.
func (s *Session) LoadDatasetViews(ctx context.Context, dataset string) (ViewsResult, error) {
	dataset, err := s.resolveDataset(dataset)
	if err != nil {
		return ViewsResult{}, err
	}
	if s.metadata == nil {
		return ViewsResult{}, fmt.Errorf("%w: no metadata client configured", ErrViewsUnavailable)
	}

	logger := observability.WithDataset(s.logger, dataset)

	prefs, err := s.prefs.Load(ctx)
	if err != nil {
		return ViewsResult{}, fmt.Errorf("load preferences: %w", err)
	}
	info, err := s.metadata.ParquetFiles(ctx, dataset, prefs.APIToken)
	if err != nil {
		var apiErr *datasets.APIError
		if errors.As(err, &apiErr) {
			logger.WarnContext(ctx, "parquet metadata unavailable", "detail", apiErr.Detail())
		}
		return ViewsResult{}, err
	}

	result := ViewsResult{Dataset: dataset, Partial: info.Partial}
	if len(info.ParquetFiles) == 0 {
		result.Views = []string{}
		result.Warning = noConversionMessage
		s.setViews(nil)
		return result, nil
	}

	registration, err := s.engine.RegisterViews(ctx, datasets.ViewSources(datasets.GroupFiles(info.ParquetFiles)))
	var partial *query.ViewRegistrationError
	switch {
	case errors.As(err, &partial):
		result.Warning = partial.Error()
		logger.WarnContext(ctx, "some views failed to register", "failed", len(partial.Failed))
	case err != nil:
		return ViewsResult{}, err
	}
	result.Identifiers = registration.Identifiers

	views, err := s.engine.ListViews(ctx)
	if err != nil {
		return ViewsResult{}, fmt.Errorf("list views: %w", err)
	}
	result.Views = views
	s.setViews(views)
	logger.InfoContext(ctx, "dataset views loaded", "views", len(views))
	return result, nil
}

// RegisterViews registers caller-provided views without consulting the
// dataset metadata service.
func (s *Session) RegisterViews(ctx context.Context, views map[string][]string) (ViewsResult, error) {
	registration, err := s.engine.RegisterViews(ctx, views)
	result := ViewsResult{Identifiers: registration.Identifiers}
	var partial *query.ViewRegistrationError
	switch {
	case errors.As(err, &partial):
		result.Warning = partial.Error()
	case err != nil:
		return ViewsResult{}, err
	}
	listed, err := s.engine.ListViews(ctx)
	if err != nil {
		return ViewsResult{}, fmt.Errorf("list views: %w", err)
	}
	result.Views = listed
	s.setViews(listed)
	return result, nil
}

func (s *Session) Views(ctx context.Context) ([]string, error) {
	views, err := s.engine.ListViews(ctx)
	if err != nil {
		return nil, err
	}
	s.setViews(views)
	return views, nil
}

// RunQuery starts sqlText and returns its columns and first page. Rows of the
// previous query are discarded once the new query starts; a rejected query
// leaves them in place. A query cancelled before its first batch reports
// Cancelled instead of an error.
func (s *Session) RunQuery(ctx context.Context, sqlText string, params ...any) (QueryResult, error) {
	if strings.TrimSpace(sqlText) == "" {
		return QueryResult{}, ErrEmptyQuery
	}

	stream, err := s.engine.ExecuteStream(ctx, sqlText, params...)
	if err != nil {
		if rejected(err) {
			return QueryResult{}, err
		}
		s.reset()
		if query.IsCancelled(err) {
			return QueryResult{Columns: []Column{}, Rows: []query.Row{}, LastRow: 0, Cancelled: true}, nil
		}
		return QueryResult{}, err
	}
	gen := s.reset()

	columns := columnsFromSchema(stream.Schema())
	bridge, err := paging.NewBridge(ctx, stream)
	if err != nil {
		s.engine.Cancel(context.WithoutCancel(ctx))
		return QueryResult{}, err
	}
	page, err := bridge.RequestPage(ctx, 0)
	if err != nil {
		s.engine.Cancel(context.WithoutCancel(ctx))
		return QueryResult{}, err
	}

	s.mu.Lock()
	if s.gen == gen {
		s.columns = columns
		s.bridge = bridge
	}
	s.mu.Unlock()

	rows := page.Rows
	if rows == nil {
		rows = []query.Row{}
	}
	return QueryResult{Columns: columns, Rows: rows, LastRow: lastRow(page)}, nil
}

// rejected reports errors returned before the engine started the query.
func rejected(err error) bool {
	return errors.Is(err, query.ErrQueryAlreadyRunning) || errors.Is(err, query.ErrNotInitialized)
}

// reset drops the current result and returns the generation of the next one.
func (s *Session) reset() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.columns = nil
	s.bridge = nil
	return s.gen
}

// Page returns rows starting at start of the current result.
func (s *Session) Page(ctx context.Context, start int) (paging.Page, int, error) {
	bridge := s.currentBridge()
	if bridge == nil {
		return paging.Page{StartIndex: start, Rows: []query.Row{}, IsLastPage: true}, start, nil
	}
	page, err := bridge.RequestPage(ctx, start)
	if err != nil {
		return paging.Page{}, -1, err
	}
	if page.Rows == nil {
		page.Rows = []query.Row{}
	}
	return page, lastRow(page), nil
}

// GetRows answers a grid row request against the current result.
func (s *Session) GetRows(ctx context.Context, params paging.GetRowsParams) {
	bridge := s.currentBridge()
	if bridge == nil {
		if params.Success != nil {
			params.Success(nil, params.StartRow)
		}
		return
	}
	bridge.GetRows(ctx, params)
}

func (s *Session) Cancel(ctx context.Context) {
	s.engine.Cancel(ctx)
}

func (s *Session) Rows() []query.Row {
	bridge := s.currentBridge()
	if bridge == nil {
		return []query.Row{}
	}
	return bridge.Rows()
}

func (s *Session) Columns() []Column {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Column, len(s.columns))
	copy(out, s.columns)
	return out
}

func (s *Session) Status() Status {
	engine := s.engine.Status()
	s.mu.Lock()
	defer s.mu.Unlock()
	status := Status{
		State:      engine.State.String(),
		StreamOpen: engine.StreamOpen,
		Columns:    append([]Column{}, s.columns...),
		Views:      append([]string{}, s.views...),
		Exhausted:  true,
	}
	if s.bridge != nil {
		status.BufferedRows = s.bridge.Len()
		status.Exhausted = s.bridge.Exhausted()
	}
	return status
}

// Export writes the rows accumulated so far for the current query.
func (s *Session) Export(ctx context.Context, principal, name string) (export.Result, error) {
	s.mu.Lock()
	columns := s.columns
	bridge := s.bridge
	s.mu.Unlock()
	if bridge == nil || len(columns) == 0 {
		return export.Result{}, ErrNoResult
	}
	return s.exports.Export(ctx, principal, name, fieldsFromColumns(columns), bridge.Rows())
}

func (s *Session) Exports() *export.Service {
	return s.exports
}

func (s *Session) Preferences(ctx context.Context) (preferences.Preferences, error) {
	return s.prefs.Load(ctx)
}

func (s *Session) SavePreferences(ctx context.Context, prefs preferences.Preferences) error {
	if err := s.prefs.Save(ctx, prefs); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

func (s *Session) resolveDataset(dataset string) (string, error) {
	dataset = strings.TrimSpace(dataset)
	if dataset == "" {
		dataset = s.dataset
	}
	if dataset == "" {
		return "", ErrNoDataset
	}
	if strings.HasPrefix(dataset, "http://") || strings.HasPrefix(dataset, "https://") {
		parsed, err := datasets.DatasetFromURL(dataset)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoDataset, err)
		}
		return parsed, nil
	}
	return dataset, nil
}

func (s *Session) currentBridge() *paging.Bridge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bridge
}

func (s *Session) setViews(views []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views = append([]string{}, views...)
}

func lastRow(page paging.Page) int {
	if page.IsLastPage {
		return page.StartIndex + len(page.Rows)
	}
	return -1
}
