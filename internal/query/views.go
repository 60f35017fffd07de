package query

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/hfsql/hfsql/internal/observability"
)

const reservedSuffix = "_view"

const reservedKeywordsSQL = `SELECT keyword_name FROM duckdb_keywords() WHERE keyword_category = 'reserved'`

const listViewsSQL = `SELECT table_name FROM information_schema.tables ORDER BY table_name`

// fallbackReservedKeywords is used when the engine cannot report its own set.
var fallbackReservedKeywords = []string{
	"all", "analyse", "analyze", "and", "any", "array", "as", "asc", "asymmetric", "both",
	"case", "cast", "check", "collate", "column", "constraint", "create", "default",
	"deferrable", "desc", "describe", "distinct", "do", "else", "end", "except", "false",
	"fetch", "for", "foreign", "from", "grant", "group", "having", "in", "initially",
	"intersect", "into", "lateral", "leading", "limit", "not", "null", "offset", "on",
	"only", "or", "order", "pivot", "pivot_longer", "pivot_wider", "placing", "primary",
	"qualify", "references", "returning", "select", "show", "some", "summarize",
	"symmetric", "table", "then", "to", "trailing", "true", "union", "unique", "unpivot",
	"using", "variadic", "when", "where", "window", "with",
}

// ViewRegistration maps each registered logical name to its engine identifier.
type ViewRegistration struct {
	Identifiers map[string]string
}

type ViewRegistrar struct {
	manager *ConnectionManager
	logger  *slog.Logger
}

func NewViewRegistrar(manager *ConnectionManager, logger *slog.Logger) *ViewRegistrar {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ViewRegistrar{manager: manager, logger: logger}
}

// RegisterViews creates one view per logical name over its remote files.
// Failed views are skipped and reported through *ViewRegistrationError; the
// returned registration lists the views that succeeded.
func (r *ViewRegistrar) RegisterViews(ctx context.Context, views map[string][]string) (ViewRegistration, error) {
	registration := ViewRegistration{Identifiers: map[string]string{}}
	if len(views) == 0 {
		return registration, nil
	}

	db, err := r.manager.database()
	if err != nil {
		return registration, err
	}
	conn, err := db.Connect(ctx)
	if err != nil {
		return registration, fmt.Errorf("connect for view registration: %w", err)
	}
	defer func() { _ = conn.Close() }()

	reserved, err := loadReservedKeywords(ctx, conn)
	if err != nil {
		r.logger.WarnContext(ctx, "reserved keyword lookup failed, using built-in list", slog.Any("error", err))
		reserved = keywordSet(fallbackReservedKeywords)
	}

	identifiers := AssignIdentifiers(sortedKeys(views), reserved)
	failed := map[string]error{}
	for _, name := range sortedKeys(views) {
		identifier := identifiers[name]
		if err := createView(ctx, conn, identifier, views[name]); err != nil {
			failed[name] = err
			observability.ObserveViewRegistration(false)
			r.logger.WarnContext(ctx, "view registration failed",
				slog.String("view", name),
				slog.String("identifier", identifier),
				slog.Any("error", err),
			)
			continue
		}
		observability.ObserveViewRegistration(true)
		registration.Identifiers[name] = identifier
	}

	if len(failed) > 0 {
		return registration, &ViewRegistrationError{Failed: failed}
	}
	return registration, nil
}

// ListViews returns the relations currently queryable in the engine.
func (r *ViewRegistrar) ListViews(ctx context.Context) ([]string, error) {
	db, err := r.manager.database()
	if err != nil {
		return nil, err
	}
	conn, err := db.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect for view listing: %w", err)
	}
	defer func() { _ = conn.Close() }()

	values, err := collectColumn(ctx, conn, listViewsSQL, "table_name")
	if err != nil {
		return nil, fmt.Errorf("list views: %w", err)
	}
	return values, nil
}

// SanitizeViewName maps a logical name onto [a-z0-9_]+.
func SanitizeViewName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, ch := range name {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '_':
			b.WriteRune(ch)
		case ch >= 'A' && ch <= 'Z':
			b.WriteRune(ch + ('a' - 'A'))
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "view"
	}
	return b.String()
}

// AssignIdentifiers sanitizes names in the given order, suffixing reserved
// keywords with _view and numbering duplicates.
func AssignIdentifiers(names []string, reserved map[string]struct{}) map[string]string {
	assigned := make(map[string]string, len(names))
	taken := make(map[string]struct{}, len(names))
	for _, name := range names {
		base := SanitizeViewName(name)
		if _, ok := reserved[base]; ok {
			base += reservedSuffix
		}
		candidate := base
		for n := 2; ; n++ {
			_, used := taken[candidate]
			_, isKeyword := reserved[candidate]
			if !used && !isKeyword {
				break
			}
			candidate = base + "_" + strconv.Itoa(n)
		}
		taken[candidate] = struct{}{}
		assigned[name] = candidate
	}
	return assigned
}

func createView(ctx context.Context, conn Conn, identifier string, urls []string) error {
	if len(urls) == 0 {
		return fmt.Errorf("no source files")
	}
	stmt := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(identifier), quoteStringArray(urls))
	return drain(ctx, conn, stmt)
}

func loadReservedKeywords(ctx context.Context, conn Conn) (map[string]struct{}, error) {
	values, err := collectColumn(ctx, conn, reservedKeywordsSQL, "keyword_name")
	if err != nil {
		return nil, err
	}
	return keywordSet(values), nil
}

func keywordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, word := range words {
		set[strings.ToLower(strings.TrimSpace(word))] = struct{}{}
	}
	return set
}

func collectColumn(ctx context.Context, conn Conn, sqlText, column string) ([]string, error) {
	stream, err := conn.Send(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	defer func() { _ = stream.Close() }()

	var values []string
	for {
		batch, ok, err := stream.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return values, nil
		}
		for _, row := range batch.Rows {
			if value, ok := row[column].(string); ok {
				values = append(values, value)
			}
		}
	}
}

func drain(ctx context.Context, conn Conn, sqlText string) error {
	stream, err := conn.Send(ctx, sqlText)
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close() }()
	for {
		_, ok, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}

func sortedKeys(views map[string][]string) []string {
	keys := make([]string, 0, len(views))
	for key := range views {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}
