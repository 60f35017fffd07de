package export

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/hfsql/hfsql/internal/query"
)

var ErrNothingToExport = errors.New("result has no columns to export")

type EncodeResult struct {
	Data        []byte
	RecordCount int64
	Columns     []string
}

type columnKind int

const (
	kindString columnKind = iota
	kindInt64
	kindDouble
	kindBoolean
)

type column struct {
	name  string
	kind  columnKind
	index int
}

// EncodeRowsToParquet writes rows as a Parquet file with one optional column
// per result field. Integer, floating point and boolean engine types keep
// their physical type; every other type is written as its text form.
func EncodeRowsToParquet(fields []query.Field, rows []query.Row) (EncodeResult, error) {
	columns := planColumns(fields)
	if len(columns) == 0 {
		return EncodeResult{}, ErrNothingToExport
	}

	group := parquet.Group{}
	for _, col := range columns {
		group[col.name] = parquet.Optional(leafFor(col.kind))
	}
	schema := parquet.NewSchema("hfsql_export", group)

	// Group fields are laid out in name order.
	sorted := make([]*column, len(columns))
	for i := range columns {
		sorted[i] = &columns[i]
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].name < sorted[j].name })
	for i, col := range sorted {
		col.index = i
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewWriter(buf, schema)
	batch := make([]parquet.Row, 0, len(rows))
	for rowIndex, row := range rows {
		values := make(parquet.Row, len(sorted))
		for _, col := range sorted {
			value, err := encodeValue(col, row[col.name])
			if err != nil {
				return EncodeResult{}, fmt.Errorf("row %d: %w", rowIndex, err)
			}
			values[col.index] = value
		}
		batch = append(batch, values)
	}
	if len(batch) > 0 {
		if _, err := writer.WriteRows(batch); err != nil {
			return EncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return EncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}

	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = col.name
	}
	return EncodeResult{Data: buf.Bytes(), RecordCount: int64(len(rows)), Columns: names}, nil
}

func planColumns(fields []query.Field) []column {
	seen := make(map[string]struct{}, len(fields))
	columns := make([]column, 0, len(fields))
	for _, field := range fields {
		if field.Name == "" {
			continue
		}
		if _, ok := seen[field.Name]; ok {
			continue
		}
		seen[field.Name] = struct{}{}
		columns = append(columns, column{name: field.Name, kind: kindOf(field.Type)})
	}
	return columns
}

func kindOf(engineType string) columnKind {
	switch strings.ToUpper(strings.TrimSpace(engineType)) {
	case "TINYINT", "SMALLINT", "INTEGER", "BIGINT", "UTINYINT", "USMALLINT", "UINTEGER", "INT1", "INT2", "INT4", "INT8":
		return kindInt64
	case "FLOAT", "DOUBLE", "REAL", "FLOAT4", "FLOAT8":
		return kindDouble
	case "BOOLEAN", "BOOL":
		return kindBoolean
	default:
		return kindString
	}
}

func leafFor(kind columnKind) parquet.Node {
	switch kind {
	case kindInt64:
		return parquet.Int(64)
	case kindDouble:
		return parquet.Leaf(parquet.DoubleType)
	case kindBoolean:
		return parquet.Leaf(parquet.BooleanType)
	default:
		return parquet.String()
	}
}

func encodeValue(col *column, raw any) (parquet.Value, error) {
	if raw == nil {
		return parquet.NullValue().Level(0, 0, col.index), nil
	}
	var value parquet.Value
	switch col.kind {
	case kindInt64:
		v, ok := asInt64(raw)
		if !ok {
			return parquet.Value{}, fmt.Errorf("column %q: %T is not an integer", col.name, raw)
		}
		value = parquet.Int64Value(v)
	case kindDouble:
		v, ok := asFloat64(raw)
		if !ok {
			return parquet.Value{}, fmt.Errorf("column %q: %T is not a number", col.name, raw)
		}
		value = parquet.DoubleValue(v)
	case kindBoolean:
		v, ok := raw.(bool)
		if !ok {
			return parquet.Value{}, fmt.Errorf("column %q: %T is not a boolean", col.name, raw)
		}
		value = parquet.BooleanValue(v)
	default:
		value = parquet.ByteArrayValue([]byte(asText(raw)))
	}
	return value.Level(0, 1, col.index), nil
}

func asInt64(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}

func asFloat64(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		i, ok := asInt64(raw)
		return float64(i), ok
	}
}

func asText(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
