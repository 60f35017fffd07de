package explorer

import (
	"strings"

	"github.com/hfsql/hfsql/internal/query"
)

// Column describes one result column for a data grid.
type Column struct {
	Field        string `json:"field"`
	HeaderName   string `json:"header_name"`
	DatabaseType string `json:"database_type"`
	GridType     string `json:"type"`
	Conversation bool   `json:"conversation,omitempty"`
}

func columnsFromSchema(schema []query.Field) []Column {
	columns := make([]Column, 0, len(schema))
	for _, field := range schema {
		columns = append(columns, Column{
			Field:        field.Name,
			HeaderName:   field.Name,
			DatabaseType: field.Type,
			GridType:     GridType(field.Type),
			Conversation: IsConversationType(field.Type),
		})
	}
	return columns
}

func fieldsFromColumns(columns []Column) []query.Field {
	fields := make([]query.Field, 0, len(columns))
	for _, col := range columns {
		fields = append(fields, query.Field{Name: col.Field, Type: col.DatabaseType})
	}
	return fields
}

// GridType maps a DuckDB type name to the grid column kind: number,
// boolean, date or text. Type parameters such as DECIMAL(9,2) are ignored.
func GridType(databaseType string) string {
	name := strings.ToLower(strings.TrimSpace(databaseType))
	if i := strings.IndexByte(name, '('); i > 0 && !strings.HasSuffix(name, "[]") {
		name = strings.TrimSpace(name[:i])
	}
	switch name {
	case "bigint", "int8", "long", "double", "float8", "numeric", "decimal", "real", "float4", "float",
		"float32", "float64", "hugeint", "uhugeint", "integer", "smallint", "tinyint", "ubigint", "uinteger",
		"usmallint", "utinyint", "int4", "int", "signed", "int2", "short", "int1", "int64", "int32":
		return "number"
	case "boolean", "bool", "logical":
		return "boolean"
	case "date", "timestamp", "timestamp with time zone", "datetime", "timestamptz", "time", "interval":
		return "date"
	default:
		return "text"
	}
}

var conversationFields = map[string]struct{}{
	"from": {}, "value": {}, "role": {}, "content": {},
}

// IsConversationType reports whether databaseType is a list of structs whose
// fields are all message fields (from, value, role, content), e.g.
// STRUCT("from" VARCHAR, "value" VARCHAR)[].
func IsConversationType(databaseType string) bool {
	typ := strings.TrimSpace(databaseType)
	if !strings.HasSuffix(typ, "[]") {
		return false
	}
	inner := strings.TrimSpace(strings.TrimSuffix(typ, "[]"))
	if len(inner) < len("STRUCT()") || !strings.EqualFold(inner[:len("STRUCT(")], "STRUCT(") || !strings.HasSuffix(inner, ")") {
		return false
	}
	body := inner[len("STRUCT(") : len(inner)-1]
	members := splitTopLevel(body)
	if len(members) == 0 {
		return false
	}
	for _, member := range members {
		if _, ok := conversationFields[strings.ToLower(memberName(member))]; !ok {
			return false
		}
	}
	return true
}

func splitTopLevel(body string) []string {
	var parts []string
	depth := 0
	quoted := false
	start := 0
	for i, r := range body {
		switch {
		case r == '"':
			quoted = !quoted
		case quoted:
		case r == '(':
			depth++
		case r == ')':
			depth--
		case r == ',' && depth == 0:
			parts = append(parts, strings.TrimSpace(body[start:i]))
			start = i + 1
		}
	}
	if last := strings.TrimSpace(body[start:]); last != "" {
		parts = append(parts, last)
	}
	return parts
}

func memberName(member string) string {
	member = strings.TrimSpace(member)
	if strings.HasPrefix(member, `"`) {
		if end := strings.Index(member[1:], `"`); end >= 0 {
			return member[1 : end+1]
		}
		return ""
	}
	if i := strings.IndexAny(member, " \t"); i > 0 {
		return member[:i]
	}
	return member
}
